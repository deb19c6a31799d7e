package core

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Collection is the backing store handle a Query executes against. All
// physical execution, filtering included, is delegated to it.
type Collection interface {
	Name() string
	Aggregate(ctx context.Context, pipeline []bson.D) ([]bson.M, error)
	InsertOne(ctx context.Context, doc bson.M) (any, error)
	InsertMany(ctx context.Context, docs []bson.M) ([]any, error)
	// UpdateMany returns the number of modified documents.
	UpdateMany(ctx context.Context, filter, update bson.M) (int64, error)
	DeleteMany(ctx context.Context, filter bson.M) (int64, error)
	CreateIndex(ctx context.Context, idx Index) (string, error)
	DropIndex(ctx context.Context, name string) error
	ListIndexes(ctx context.Context) ([]Index, error)
}

// Connection resolves collections on one established database.
type Connection interface {
	Collection(name string) Collection
}

// Connections is the registry of named connections handed to NewDocJin.
// Collection handles are shared read-only across queries.
type Connections interface {
	Connection(name string) (Connection, error)
	Close(ctx context.Context) error
}

// ConnectionMap is a Connections registry over already established
// connections. Close calls Close(ctx) on every connection that has one.
type ConnectionMap map[string]Connection

func (cm ConnectionMap) Connection(name string) (Connection, error) {
	c, ok := cm[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoConnection, name)
	}
	return c, nil
}

func (cm ConnectionMap) Close(ctx context.Context) error {
	names := make([]string, 0, len(cm))
	for name := range cm {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if c, ok := cm[name].(interface{ Close(context.Context) error }); ok {
			if err := c.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Index describes a collection index.
type Index struct {
	Name   string `mapstructure:"name" yaml:"name" json:"name"`
	Keys   bson.D `mapstructure:"-" yaml:"-" json:"-"`
	Unique bool   `mapstructure:"unique" yaml:"unique,omitempty" json:"unique,omitempty"`
	Sparse bool   `mapstructure:"sparse" yaml:"sparse,omitempty" json:"sparse,omitempty"`
}

// IndexOn builds an ascending index over fields. A field prefixed with "-"
// is indexed descending.
func IndexOn(fields ...string) Index {
	idx := Index{}
	for _, f := range fields {
		dir := 1
		if len(f) > 1 && f[0] == '-' {
			dir, f = -1, f[1:]
		}
		idx.Keys = append(idx.Keys, bson.E{Key: translateField(f), Value: dir})
	}
	return idx
}
