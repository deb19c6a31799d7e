package core

import (
	"context"
	"time"

	"github.com/rs/xid"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Query is the aggregation pipeline builder for one collection. Chained
// calls only change in-memory state; the store is contacted by terminal
// operations such as Get, Count, Update or Delete. A Query is not safe for
// concurrent use.
type Query struct {
	filterOps[*Query]
	stageOps[*Query]

	pipe    pipeline
	dj      *DocJin
	conn    string
	model   *Model
	mappers []Mapper
	id      xid.ID
}

// Mapper transforms every document returned by Get. Mappers run after the
// identifier mapping, in the order they were added.
type Mapper func(Document) Document

func (dj *DocJin) newQuery(conn, coll string, m *Model) *Query {
	q := &Query{dj: dj, conn: conn, model: m, id: xid.New()}
	q.pipe.collection = coll
	q.bind()
	return q
}

func (q *Query) bind() {
	q.filterOps = filterOps[*Query]{self: q, p: &q.pipe.pred}
	q.stageOps = stageOps[*Query]{self: q, p: &q.pipe}
}

// Collection rebinds the query to another collection. It fails once any
// predicate or stage has been added.
func (q *Query) Collection(name string) *Query {
	if q.pipe.committed() {
		q.pipe.fail(configErrorf(ErrCollectionLocked, "%s to %s", q.pipe.collection, name))
		return q
	}
	q.pipe.collection = name
	return q
}

// Connection rebinds the query to another named connection. Like
// Collection it fails once any predicate or stage has been added.
func (q *Query) Connection(name string) *Query {
	if q.pipe.committed() {
		q.pipe.fail(configErrorf(ErrCollectionLocked, "connection %s to %s", q.conn, name))
		return q
	}
	q.conn = name
	return q
}

// CollectionName returns the bound collection.
func (q *Query) CollectionName() string {
	return q.pipe.collection
}

// Model returns the model the query is bound to, if any.
func (q *Query) Model() *Model {
	return q.model
}

// Err returns the first builder error. Terminal operations return it
// without contacting the store.
func (q *Query) Err() error {
	return q.pipe.Err()
}

// Pipeline flushes pending predicates and returns the accumulated stages.
func (q *Query) Pipeline() []bson.D {
	return q.pipe.snapshot()
}

// Filter returns the combined filter used by write operations.
func (q *Query) Filter() bson.M {
	return q.pipe.matchFilter()
}

// AddMapper registers a post read mapper.
func (q *Query) AddMapper(fn Mapper) *Query {
	q.mappers = append(q.mappers, fn)
	return q
}

// Clone returns an independent copy of the query state.
func (q *Query) Clone() *Query {
	c := &Query{dj: q.dj, conn: q.conn, model: q.model, id: xid.New()}
	c.pipe = pipeline{
		collection: q.pipe.collection,
		stages:     append([]bson.D(nil), q.pipe.stages...),
		err:        q.pipe.err,
		pred: predicates{
			and: append([]bson.M(nil), q.pipe.pred.and...),
			or:  append([]bson.M(nil), q.pipe.pred.or...),
			err: q.pipe.pred.err,
		},
	}
	c.mappers = append([]Mapper(nil), q.mappers...)
	c.bind()
	return c
}

func (q *Query) collection() (Collection, error) {
	if q.dj == nil || q.dj.conns == nil {
		return nil, configErrorf(ErrNoConnection, "%q", q.conn)
	}
	conn, err := q.dj.conns.Connection(q.conn)
	if err != nil {
		return nil, configErrorf(ErrNoConnection, "%q: %s", q.conn, err)
	}
	return conn.Collection(q.pipe.collection), nil
}

// exec runs fn against the bound collection inside a trace span and logs
// the outcome.
func (q *Query) exec(ctx context.Context, op string, stages []bson.D, fn func(context.Context, Collection) error) error {
	if err := q.Err(); err != nil {
		return err
	}
	coll, err := q.collection()
	if err != nil {
		return err
	}

	c, span := q.dj.spanStart(ctx, op, q)
	defer span.End()

	start := time.Now()
	err = fn(c, coll)
	q.dj.logExec(q, op, stages, time.Since(start), err)

	if err != nil {
		spanError(span, err)
	}
	return err
}

// aggregate runs stages and applies the identifier mapping to every result.
func (q *Query) aggregate(ctx context.Context, op string, stages []bson.D) ([]Document, error) {
	var docs []Document

	err := q.exec(ctx, op, stages, func(c context.Context, coll Collection) error {
		raw, err := coll.Aggregate(c, stages)
		if err != nil {
			return NewStoreError(op, 0, err)
		}
		docs = make([]Document, 0, len(raw))
		for _, r := range raw {
			docs = append(docs, fromStoreMap(r))
		}
		return nil
	})
	return docs, err
}
