package memdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/dosco/docjin/core"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// indexName builds the server's default name, eg. email_1_age_-1.
func indexName(keys bson.D) string {
	parts := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		parts = append(parts, k.Key, fmt.Sprint(k.Value))
	}
	return strings.Join(parts, "_")
}

func sameKeys(a, b bson.D) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Key != b[i].Key || !equal(normalize(a[i].Value), normalize(b[i].Value)) {
			return false
		}
	}
	return true
}

// indexKey returns the values a document holds for idx, and false for
// sparse indexes the document is not part of.
func indexKey(doc bson.M, idx core.Index) (bson.A, bool) {
	key := make(bson.A, len(idx.Keys))
	found := false
	for i, k := range idx.Keys {
		v, ok := lookup(doc, k.Key)
		if ok {
			found = true
		} else {
			v = nil
		}
		key[i] = v
	}
	return key, found || !idx.Sparse
}

// checkUnique fails when doc collides with a stored document on a unique
// index. skip is the position of doc itself when it is being updated.
func (c *collection) checkUnique(op string, doc bson.M, skip int) error {
	for _, idx := range c.indexes {
		if !idx.Unique {
			continue
		}
		key, ok := indexKey(doc, idx)
		if !ok {
			continue
		}
		for i, other := range c.docs {
			if i == skip {
				continue
			}
			if okey, ok := indexKey(other, idx); ok && equal(key, okey) {
				return storeErr(op, CodeDuplicateKey,
					"E11000 duplicate key error index: %s dup key: %v", idx.Name, key)
			}
		}
	}
	return nil
}

func (c *Collection) CreateIndex(ctx context.Context, idx core.Index) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(idx.Keys) == 0 {
		return "", storeErr("create_index", CodeInvalidOptions, "index keys cannot be empty")
	}
	if idx.Name == "" {
		idx.Name = indexName(idx.Keys)
	}

	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	coll := c.db.coll(c.name)

	for _, cur := range coll.indexes {
		if cur.Name == idx.Name || sameKeys(cur.Keys, idx.Keys) {
			if cur.Name == idx.Name && sameKeys(cur.Keys, idx.Keys) &&
				cur.Unique == idx.Unique && cur.Sparse == idx.Sparse {
				return cur.Name, nil
			}
			return "", storeErr("create_index", CodeIndexOptionsConflict,
				"an existing index has the same name or keys with different options: %s", cur.Name)
		}
	}

	if idx.Unique {
		seen := make([]bson.A, 0, len(coll.docs))
		for _, d := range coll.docs {
			key, ok := indexKey(d, idx)
			if !ok {
				continue
			}
			for _, s := range seen {
				if equal(s, key) {
					return "", storeErr("create_index", CodeDuplicateKey,
						"E11000 duplicate key error collection: %s index: %s dup key: %v", c.name, idx.Name, key)
				}
			}
			seen = append(seen, key)
		}
	}

	coll.indexes = append(coll.indexes, idx)
	return idx.Name, nil
}

func (c *Collection) DropIndex(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if name == "_id_" {
		return storeErr("drop_index", CodeInvalidOptions, "cannot drop _id index")
	}

	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	if coll, ok := c.db.colls[c.name]; ok {
		for i, idx := range coll.indexes {
			if idx.Name == name {
				coll.indexes = append(coll.indexes[:i], coll.indexes[i+1:]...)
				return nil
			}
		}
	}
	return storeErr("drop_index", CodeIndexNotFound, "index not found with name [%s]", name)
}

func (c *Collection) ListIndexes(ctx context.Context) ([]core.Index, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()

	coll, ok := c.db.colls[c.name]
	if !ok {
		return nil, nil
	}
	return append([]core.Index(nil), coll.indexes...), nil
}
