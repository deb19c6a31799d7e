// Package memdb is an in-memory document store that executes aggregation
// pipelines. It backs the "memory" driver and the core test suite.
package memdb

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dosco/docjin/core"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Server error codes reported through core.StoreError.
const (
	CodeIndexNotFound        = 27
	CodeInvalidOptions       = 72
	CodeIndexOptionsConflict = 85
	CodeDuplicateKey         = 11000
)

var ErrClosed = errors.New("memdb: store is closed")

// Store is a registry of named in-memory databases. Databases are created
// on first use.
type Store struct {
	mu     sync.Mutex
	dbs    map[string]*DB
	closed bool
}

// New returns an empty store.
func New() *Store {
	return &Store{dbs: map[string]*DB{}}
}

// Connection returns the database registered under name.
func (s *Store) Connection(name string) (core.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	db, ok := s.dbs[name]
	if !ok {
		db = NewDB()
		s.dbs[name] = db
	}
	return db, nil
}

// Close drops every database.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dbs, s.closed = map[string]*DB{}, true
	return nil
}

// DB is one in-memory database. All collections of a database share a lock
// so lookups see a consistent view.
type DB struct {
	mu    sync.RWMutex
	colls map[string]*collection
}

func NewDB() *DB {
	return &DB{colls: map[string]*collection{}}
}

// Collection returns a handle on name. The collection is created on the
// first write.
func (db *DB) Collection(name string) core.Collection {
	return &Collection{db: db, name: name}
}

// Close is a no-op that lets a DB be used as a closable connection.
func (db *DB) Close(ctx context.Context) error {
	return nil
}

type collection struct {
	docs    []bson.M
	indexes []core.Index
}

func newCollection() *collection {
	return &collection{indexes: []core.Index{{
		Name:   "_id_",
		Keys:   bson.D{{Key: "_id", Value: 1}},
		Unique: true,
	}}}
}

// docs returns the stored documents of a collection without copying. The
// caller must hold the lock.
func (db *DB) docs(name string) []bson.M {
	if c, ok := db.colls[name]; ok {
		return c.docs
	}
	return nil
}

func (db *DB) coll(name string) *collection {
	c, ok := db.colls[name]
	if !ok {
		c = newCollection()
		db.colls[name] = c
	}
	return c
}

// Collection implements core.Collection over a DB.
type Collection struct {
	db   *DB
	name string
}

func (c *Collection) Name() string {
	return c.name
}

func storeErr(op string, code int, format string, args ...any) error {
	return &core.StoreError{Op: op, Code: code, Err: fmt.Errorf(format, args...)}
}

func (c *Collection) Aggregate(ctx context.Context, pipeline []bson.D) ([]bson.M, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()

	stages := make([]any, len(pipeline))
	for i, st := range pipeline {
		stages[i] = st
	}
	out, err := c.db.run(c.db.docs(c.name), stages, nil)
	if err != nil {
		return nil, &core.StoreError{Op: "aggregate", Err: err}
	}
	return out, nil
}

func (c *Collection) InsertOne(ctx context.Context, doc bson.M) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	return c.insert(doc)
}

// InsertMany inserts in order and stops at the first failure. The ids
// inserted before it are returned with the error.
func (c *Collection) InsertMany(ctx context.Context, docs []bson.M) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	ids := make([]any, 0, len(docs))
	for _, d := range docs {
		id, err := c.insert(d)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Collection) insert(doc bson.M) (any, error) {
	d := copyDoc(doc)
	if _, ok := d["_id"]; !ok {
		d["_id"] = bson.NewObjectID()
	}
	coll := c.db.coll(c.name)
	if err := coll.checkUnique("insert", d, -1); err != nil {
		return nil, err
	}
	coll.docs = append(coll.docs, d)
	return d["_id"], nil
}

func (c *Collection) UpdateMany(ctx context.Context, filter, update bson.M) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	coll, ok := c.db.colls[c.name]
	if !ok {
		return 0, nil
	}
	f := normalize(filter)
	u, _ := asDoc(update)

	var n int64
	for i, d := range coll.docs {
		ok, err := match(f, scope{doc: d})
		if err != nil {
			return n, &core.StoreError{Op: "update", Err: err}
		}
		if !ok {
			continue
		}
		next := copyDoc(d)
		if err := applyUpdate(next, u); err != nil {
			return n, &core.StoreError{Op: "update", Err: err}
		}
		if compare(next, d) == 0 {
			continue
		}
		if err := coll.checkUnique("update", next, i); err != nil {
			return n, err
		}
		coll.docs[i] = next
		n++
	}
	return n, nil
}

func (c *Collection) DeleteMany(ctx context.Context, filter bson.M) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	coll, ok := c.db.colls[c.name]
	if !ok {
		return 0, nil
	}
	f := normalize(filter)

	kept := make([]bson.M, 0, len(coll.docs))
	var n int64
	for _, d := range coll.docs {
		ok, err := match(f, scope{doc: d})
		if err != nil {
			return 0, &core.StoreError{Op: "delete", Err: err}
		}
		if ok {
			n++
			continue
		}
		kept = append(kept, d)
	}
	coll.docs = kept
	return n, nil
}
