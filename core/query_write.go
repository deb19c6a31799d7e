package core

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

const (
	createdAt = "created_at"
	updatedAt = "updated_at"
)

// prepare copies doc, stamps timestamps and runs the model schema. When
// updating only the fields present are validated.
func (q *Query) prepare(doc Document, updating bool) (Document, error) {
	out := make(Document, len(doc)+2)
	for k, v := range doc {
		out[k] = v
	}
	if q.model == nil {
		return out, nil
	}

	if q.model.timestamps {
		now := time.Now().UTC()
		out[updatedAt] = now
		if _, ok := out[createdAt]; !ok && !updating {
			out[createdAt] = now
		}
	}
	return q.model.validate(out, updating)
}

// Insert validates and stores docs and returns how many were written.
// Inserting nothing is a no-op.
func (q *Query) Insert(ctx context.Context, docs ...Document) (int64, error) {
	if err := q.Err(); err != nil || len(docs) == 0 {
		return 0, err
	}

	prepared := make([]bson.M, len(docs))
	for i, d := range docs {
		p, err := q.prepare(d, false)
		if err != nil {
			return 0, err
		}
		prepared[i] = toStoreMap(p)
	}

	var n int64
	err := q.exec(ctx, "insert", nil, func(c context.Context, coll Collection) error {
		if len(prepared) == 1 {
			if _, err := coll.InsertOne(c, prepared[0]); err != nil {
				return NewStoreError("insert", 0, err)
			}
			n = 1
			return nil
		}
		ids, err := coll.InsertMany(c, prepared)
		n = int64(len(ids))
		return NewStoreError("insert", 0, err)
	})
	return n, err
}

// InsertGetID stores a single document and returns its identifier.
func (q *Query) InsertGetID(ctx context.Context, doc Document) (string, error) {
	p, err := q.prepare(doc, false)
	if err != nil {
		return "", err
	}
	return q.insertOne(ctx, p)
}

func (q *Query) insertOne(ctx context.Context, doc Document) (string, error) {
	var id string
	err := q.exec(ctx, "insert", nil, func(c context.Context, coll Collection) error {
		v, err := coll.InsertOne(c, toStoreMap(doc))
		if err != nil {
			return NewStoreError("insert", 0, err)
		}
		id = idString(v)
		return nil
	})
	return id, err
}

// Create builds an Instance of the bound model from attrs, running the
// model setters, and saves it.
func (q *Query) Create(ctx context.Context, attrs Document) (*Instance, error) {
	if q.model == nil {
		return nil, configErrorf(ErrNoModel, "collection %s", q.pipe.collection)
	}
	inst := q.dj.New(q.model, attrs)
	if err := inst.Save(ctx); err != nil {
		return nil, err
	}
	return inst, nil
}

// Update sets fields on every document matching the query filters and
// returns the number modified. Sort, skip and limit are ignored.
func (q *Query) Update(ctx context.Context, set Document) (int64, error) {
	doc, err := q.prepare(set, true)
	if err != nil {
		return 0, err
	}
	delete(doc, publicID)
	delete(doc, storeID)
	return q.update(ctx, "update", bson.M{"$set": toStoreMap(doc)})
}

// Increment adds by (default 1) to field on every matching document.
func (q *Query) Increment(ctx context.Context, field string, by ...any) (int64, error) {
	var delta any = 1
	if len(by) != 0 {
		delta = by[0]
	}
	if _, ok := toFloat(delta); !ok {
		return 0, configErrorf(nil, "increment %q by non numeric %T", field, delta)
	}
	return q.update(ctx, "increment", q.touch(bson.M{"$inc": bson.M{translateField(field): delta}}))
}

// Decrement subtracts by (default 1) from field on every matching document.
func (q *Query) Decrement(ctx context.Context, field string, by ...any) (int64, error) {
	var delta any = 1
	if len(by) != 0 {
		delta = by[0]
	}
	neg, ok := negate(delta)
	if !ok {
		return 0, configErrorf(nil, "decrement %q by non numeric %T", field, delta)
	}
	return q.update(ctx, "decrement", q.touch(bson.M{"$inc": bson.M{translateField(field): neg}}))
}

// Unset removes fields from every matching document.
func (q *Query) Unset(ctx context.Context, fields ...string) (int64, error) {
	if len(fields) == 0 {
		return 0, q.Err()
	}
	unset := bson.M{}
	for _, f := range fields {
		unset[translateField(f)] = ""
	}
	return q.update(ctx, "unset", q.touch(bson.M{"$unset": unset}))
}

// Delete removes every matching document and returns how many were removed.
func (q *Query) Delete(ctx context.Context) (int64, error) {
	filter, err := q.writeFilter(ctx, "delete")
	if err != nil {
		return 0, err
	}

	var n int64
	err = q.exec(ctx, "delete", nil, func(c context.Context, coll Collection) error {
		var err error
		n, err = coll.DeleteMany(c, filter)
		return NewStoreError("delete", 0, err)
	})
	return n, err
}

// touch adds updated_at to an update document for timestamped models.
func (q *Query) touch(update bson.M) bson.M {
	if q.model != nil && q.model.timestamps {
		update["$set"] = bson.M{updatedAt: time.Now().UTC()}
	}
	return update
}

func (q *Query) update(ctx context.Context, op string, update bson.M) (int64, error) {
	filter, err := q.writeFilter(ctx, op)
	if err != nil {
		return 0, err
	}

	var n int64
	err = q.exec(ctx, op, nil, func(c context.Context, coll Collection) error {
		var err error
		n, err = coll.UpdateMany(c, filter, update)
		return NewStoreError(op, 0, err)
	})
	return n, err
}

// writeFilter returns the filter a write applies to. When the match stages
// test fields that only lookups compute (Has, joined fields), the matching
// ids are resolved by aggregation first and the write targets those ids.
func (q *Query) writeFilter(ctx context.Context, op string) (bson.M, error) {
	if err := q.Err(); err != nil {
		return nil, err
	}
	if !q.pipe.computed() {
		return q.pipe.matchFilter(), nil
	}

	stages := append(q.pipe.filterStages(), bson.D{{Key: "$project", Value: bson.M{storeID: 1}}})
	ids := bson.A{}
	err := q.exec(ctx, op+" resolve", stages, func(c context.Context, coll Collection) error {
		raw, err := coll.Aggregate(c, stages)
		if err != nil {
			return NewStoreError(op, 0, err)
		}
		for _, r := range raw {
			ids = append(ids, r[storeID])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bson.M{storeID: bson.M{"$in": ids}}, nil
}

// addToSet pushes values into an array field without duplicates.
func (q *Query) addToSet(ctx context.Context, field string, values bson.A) (int64, error) {
	return q.update(ctx, "attach", bson.M{"$addToSet": bson.M{translateField(field): bson.M{"$each": values}}})
}

// pull removes values from an array field.
func (q *Query) pull(ctx context.Context, field string, values bson.A) (int64, error) {
	return q.update(ctx, "detach", bson.M{"$pull": bson.M{translateField(field): bson.M{"$in": values}}})
}
