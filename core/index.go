package core

import (
	"context"
)

// CreateIndex creates idx on the bound collection and returns its name.
func (q *Query) CreateIndex(ctx context.Context, idx Index) (string, error) {
	if len(idx.Keys) == 0 {
		return "", configErrorf(nil, "index on %s has no keys", q.pipe.collection)
	}

	var name string
	err := q.exec(ctx, "create_index", nil, func(c context.Context, coll Collection) error {
		var err error
		name, err = coll.CreateIndex(c, idx)
		return NewStoreError("create_index", 0, err)
	})
	return name, err
}

func (q *Query) DropIndex(ctx context.Context, name string) error {
	return q.exec(ctx, "drop_index", nil, func(c context.Context, coll Collection) error {
		return NewStoreError("drop_index", 0, coll.DropIndex(c, name))
	})
}

// Indexes lists the indexes of the bound collection.
func (q *Query) Indexes(ctx context.Context) ([]Index, error) {
	var out []Index
	err := q.exec(ctx, "list_indexes", nil, func(c context.Context, coll Collection) error {
		var err error
		out, err = coll.ListIndexes(c)
		return NewStoreError("list_indexes", 0, err)
	})
	return out, err
}
