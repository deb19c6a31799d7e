package mongodriver

import (
	"context"

	"github.com/dosco/docjin/core"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func (c *Collection) CreateIndex(ctx context.Context, idx core.Index) (string, error) {
	opts := options.Index()
	if idx.Name != "" {
		opts.SetName(idx.Name)
	}
	if idx.Unique {
		opts.SetUnique(true)
	}
	if idx.Sparse {
		opts.SetSparse(true)
	}

	name, err := c.coll.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: idx.Keys, Options: opts})
	if err != nil {
		return "", storeError("create_index", err)
	}
	return name, nil
}

func (c *Collection) DropIndex(ctx context.Context, name string) error {
	return storeError("drop_index", c.coll.Indexes().DropOne(ctx, name))
}

func (c *Collection) ListIndexes(ctx context.Context) ([]core.Index, error) {
	specs, err := c.coll.Indexes().ListSpecifications(ctx)
	if err != nil {
		return nil, storeError("list_indexes", err)
	}

	out := make([]core.Index, 0, len(specs))
	for _, s := range specs {
		idx := core.Index{Name: s.Name}
		if err := bson.Unmarshal(s.KeysDocument, &idx.Keys); err != nil {
			return nil, storeError("list_indexes", err)
		}
		if s.Unique != nil {
			idx.Unique = *s.Unique
		}
		if s.Sparse != nil {
			idx.Sparse = *s.Sparse
		}
		out = append(out, idx)
	}
	return out, nil
}
