package mongodriver

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Collection implements core.Collection over a mongo collection.
type Collection struct {
	coll *mongo.Collection
}

func (c *Collection) Name() string {
	return c.coll.Name()
}

func (c *Collection) Aggregate(ctx context.Context, pipeline []bson.D) ([]bson.M, error) {
	stages := make(bson.A, len(pipeline))
	for i, st := range pipeline {
		stages[i] = st
	}

	cursor, err := c.coll.Aggregate(ctx, stages)
	if err != nil {
		return nil, storeError("aggregate", err)
	}
	defer cursor.Close(ctx)

	results := []bson.M{}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, storeError("aggregate", err)
	}
	return results, nil
}

func (c *Collection) InsertOne(ctx context.Context, doc bson.M) (any, error) {
	res, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, storeError("insert", err)
	}
	return res.InsertedID, nil
}

// InsertMany performs an ordered insert. On failure the ids written before
// the failing document are returned with the error.
func (c *Collection) InsertMany(ctx context.Context, docs []bson.M) ([]any, error) {
	res, err := c.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	var ids []any
	if res != nil {
		ids = res.InsertedIDs
	}
	if err != nil {
		var bwe mongo.BulkWriteException
		if errors.As(err, &bwe) && len(bwe.WriteErrors) != 0 && ids == nil {
			ids = make([]any, 0, bwe.WriteErrors[0].Index)
			for _, d := range docs[:bwe.WriteErrors[0].Index] {
				ids = append(ids, d["_id"])
			}
		}
		return ids, storeError("insert", err)
	}
	return ids, nil
}

func (c *Collection) UpdateMany(ctx context.Context, filter, update bson.M) (int64, error) {
	res, err := c.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, storeError("update", err)
	}
	return res.ModifiedCount, nil
}

func (c *Collection) DeleteMany(ctx context.Context, filter bson.M) (int64, error) {
	res, err := c.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, storeError("delete", err)
	}
	return res.DeletedCount, nil
}

// Drop removes the collection and its indexes.
func (c *Collection) Drop(ctx context.Context) error {
	return storeError("drop", c.coll.Drop(ctx))
}
