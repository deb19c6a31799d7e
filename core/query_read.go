package core

import (
	"context"

	"github.com/mitchellh/mapstructure"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// missingValue marks an absent field in Pluck projections so that a stored
// null and a missing field both come back as nil.
const missingValue = "__docjin_missing__"

// Page is the result of PaginateGet.
type Page struct {
	Data []Document `json:"data"`
	Meta PageMeta   `json:"meta"`
}

type PageMeta struct {
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PerPage  int   `json:"per_page"`
	LastPage int64 `json:"last_page"`
}

// Get runs the pipeline and returns every matching document. When fields
// are given a projection is appended first.
func (q *Query) Get(ctx context.Context, fields ...string) ([]Document, error) {
	if len(fields) != 0 {
		q.Select(fields...)
	}
	docs, err := q.aggregate(ctx, "get", q.pipe.snapshot())
	if err != nil {
		return nil, err
	}
	for _, fn := range q.mappers {
		for i := range docs {
			docs[i] = fn(docs[i])
		}
	}
	return docs, nil
}

// GetInto runs Get and decodes the documents into out, which must be a
// pointer to a slice. Struct fields are matched by their json tag.
func (q *Query) GetInto(ctx context.Context, out any, fields ...string) error {
	docs, err := q.Get(ctx, fields...)
	if err != nil {
		return err
	}
	return decode(docs, out)
}

// First returns the first matching document or nil when nothing matches.
func (q *Query) First(ctx context.Context, fields ...string) (Document, error) {
	q.Limit(1)
	docs, err := q.Get(ctx, fields...)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// Find returns the document with the given id.
func (q *Query) Find(ctx context.Context, id string) (Document, error) {
	return q.Where(publicID, id).First(ctx)
}

// Pluck returns the value of field for every matching document.
func (q *Query) Pluck(ctx context.Context, field string) ([]any, error) {
	q.pipe.push(bson.D{{Key: "$project", Value: bson.M{
		storeID: 0,
		"value": bson.M{"$ifNull": bson.A{"$" + translateField(field), missingValue}},
	}}})

	docs, err := q.aggregate(ctx, "pluck", q.pipe.snapshot())
	if err != nil {
		return nil, err
	}
	out := make([]any, len(docs))
	for i, d := range docs {
		if v := d["value"]; v != missingValue {
			out[i] = v
		}
	}
	return out, nil
}

// Value returns field of the first matching document.
func (q *Query) Value(ctx context.Context, field string) (any, error) {
	q.Limit(1)
	vals, err := q.Pluck(ctx, field)
	if err != nil || len(vals) == 0 {
		return nil, err
	}
	return vals[0], nil
}

func (q *Query) Max(ctx context.Context, field string) (any, error) {
	return q.group(ctx, "max", "$max", field)
}

func (q *Query) Min(ctx context.Context, field string) (any, error) {
	return q.group(ctx, "min", "$min", field)
}

// Avg returns the average of field. Non numeric values are ignored and nil
// is returned when nothing matches.
func (q *Query) Avg(ctx context.Context, field string) (any, error) {
	return q.group(ctx, "avg", "$avg", field)
}

// Sum returns the sum of field, zero when nothing matches.
func (q *Query) Sum(ctx context.Context, field string) (float64, error) {
	v, err := q.group(ctx, "sum", "$sum", field)
	if err != nil {
		return 0, err
	}
	f, _ := toFloat(v)
	return f, nil
}

// group computes a single accumulator over the filtering stages only, so
// ordering, paging and projection do not change the result.
func (q *Query) group(ctx context.Context, op, acc, field string) (any, error) {
	stages := append(q.pipe.filterStages(), bson.D{{Key: "$group", Value: bson.D{
		{Key: storeID, Value: nil},
		{Key: "value", Value: bson.M{acc: "$" + translateField(field)}},
	}}})

	docs, err := q.aggregate(ctx, op, stages)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0]["value"], nil
}

// Count returns the number of documents the pipeline yields. Skip and limit
// stages already on the pipeline are honored.
func (q *Query) Count(ctx context.Context) (int64, error) {
	stages := append(q.pipe.snapshot(), bson.D{{Key: "$count", Value: "count"}})

	docs, err := q.aggregate(ctx, "count", stages)
	if err != nil || len(docs) == 0 {
		return 0, err
	}
	n, _ := toFloat(docs[0]["count"])
	return int64(n), nil
}

func (q *Query) Exists(ctx context.Context) (bool, error) {
	n, err := q.Count(ctx)
	return n > 0, err
}

// PaginateGet returns one page of documents along with the total count.
func (q *Query) PaginateGet(ctx context.Context, page, perPage int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	total, err := q.Clone().Count(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := q.Paginate(page, perPage).Get(ctx)
	if err != nil {
		return nil, err
	}

	p := &Page{Data: docs, Meta: PageMeta{Total: total, Page: page, PerPage: perPage}}
	if perPage > 0 {
		p.Meta.LastPage = (total + int64(perPage) - 1) / int64(perPage)
	}
	return p, nil
}

// Models runs Get and wraps every document in an Instance of the bound
// model.
func (q *Query) Models(ctx context.Context) ([]*Instance, error) {
	if q.model == nil {
		return nil, configErrorf(ErrNoModel, "collection %s", q.pipe.collection)
	}
	docs, err := q.Get(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Instance, len(docs))
	for i, d := range docs {
		out[i] = newInstance(q.dj, q.model, d)
	}
	return out, nil
}

// FirstModel returns the first match as an Instance, or nil.
func (q *Query) FirstModel(ctx context.Context) (*Instance, error) {
	if q.model == nil {
		return nil, configErrorf(ErrNoModel, "collection %s", q.pipe.collection)
	}
	doc, err := q.First(ctx)
	if err != nil || doc == nil {
		return nil, err
	}
	return newInstance(q.dj, q.model, doc), nil
}

func decode(in, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}
