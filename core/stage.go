package core

import (
	"strings"

	"github.com/gobuffalo/flect"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// pipeline is the stage list owned by one Query or Join. Predicates
// accumulate in pred until a non-filter operation calls flush, which commits
// them as a single $match stage. Keeping the flush explicit is what makes
// stage order equal call order.
type pipeline struct {
	collection string
	pred       predicates
	stages     []bson.D
	err        error
}

func (p *pipeline) flush() {
	if p.pred.empty() {
		return
	}
	p.stages = append(p.stages, bson.D{{Key: "$match", Value: p.pred.expression()}})
	p.pred.reset()
}

func (p *pipeline) push(stages ...bson.D) {
	p.flush()
	p.stages = append(p.stages, stages...)
}

func (p *pipeline) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *pipeline) Err() error {
	if p.err != nil {
		return p.err
	}
	return p.pred.err
}

// committed reports whether the query has any stage or pending predicate.
// Either one pins the bound collection.
func (p *pipeline) committed() bool {
	return len(p.stages) != 0 || !p.pred.empty()
}

// snapshot flushes pending predicates and returns a copy of the stages.
func (p *pipeline) snapshot() []bson.D {
	p.flush()
	out := make([]bson.D, len(p.stages))
	copy(out, p.stages)
	return out
}

// matchFilter folds every committed $match stage and the pending predicates
// into one filter document. Sort, skip, limit and projection stages are
// ignored.
func (p *pipeline) matchFilter() bson.M {
	var list []bson.M

	for _, st := range p.stages {
		if st[0].Key != "$match" {
			continue
		}
		if m, ok := st[0].Value.(bson.M); ok && len(m) != 0 {
			list = append(list, m)
		}
	}
	if !p.pred.empty() {
		list = append(list, p.pred.expression())
	}

	switch len(list) {
	case 0:
		return bson.M{}
	case 1:
		return list[0]
	}
	return bson.M{"$and": clauses(list)}
}

// computed reports whether a committed stage adds or reshapes fields, so a
// later $match may depend on values the stored documents do not have.
func (p *pipeline) computed() bool {
	for _, st := range p.stages {
		switch st[0].Key {
		case "$lookup", "$unwind", "$addFields", "$set", "$unset", "$replaceRoot":
			return true
		}
	}
	return false
}

// filterStages keeps the stages that decide which documents are in the
// result set and drops ordering, paging and projection.
func (p *pipeline) filterStages() []bson.D {
	var out []bson.D
	for _, st := range p.snapshot() {
		switch st[0].Key {
		case "$sort", "$skip", "$limit", "$project", "$count", "$group":
			continue
		}
		out = append(out, st)
	}
	return out
}

// stageOps holds the stage appending methods shared by Join and Query. Each
// method flushes pending predicates before it appends.
type stageOps[B any] struct {
	self B
	p    *pipeline
}

// OrderBy sorts by field. dir is "asc" (default) or "desc". Consecutive
// OrderBy calls extend the same $sort stage.
func (s stageOps[B]) OrderBy(field string, dir ...string) B {
	order := 1
	if len(dir) != 0 {
		switch strings.ToLower(dir[0]) {
		case "asc", "ascending", "1", "":
			order = 1
		case "desc", "descending", "-1":
			order = -1
		default:
			s.p.fail(configErrorf(nil, "invalid sort direction %q", dir[0]))
			return s.self
		}
	}
	e := bson.E{Key: translateField(field), Value: order}

	s.p.flush()
	if n := len(s.p.stages); n != 0 && s.p.stages[n-1][0].Key == "$sort" {
		prev := s.p.stages[n-1][0].Value.(bson.D)
		sort := make(bson.D, 0, len(prev)+1)
		sort = append(append(sort, prev...), e)
		s.p.stages[n-1] = bson.D{{Key: "$sort", Value: sort}}
		return s.self
	}
	s.p.push(bson.D{{Key: "$sort", Value: bson.D{e}}})
	return s.self
}

func (s stageOps[B]) Skip(n int) B {
	if n < 0 {
		s.p.fail(configErrorf(nil, "skip must not be negative, got %d", n))
		return s.self
	}
	s.p.push(bson.D{{Key: "$skip", Value: int64(n)}})
	return s.self
}

// Offset is an alias for Skip.
func (s stageOps[B]) Offset(n int) B {
	return s.Skip(n)
}

func (s stageOps[B]) Limit(n int) B {
	if n <= 0 {
		s.p.fail(configErrorf(nil, "limit must be positive, got %d", n))
		return s.self
	}
	s.p.push(bson.D{{Key: "$limit", Value: int64(n)}})
	return s.self
}

// Take is an alias for Limit.
func (s stageOps[B]) Take(n int) B {
	return s.Limit(n)
}

// Paginate appends skip and limit for a 1-based page.
func (s stageOps[B]) Paginate(page, perPage int) B {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		s.p.fail(configErrorf(nil, "per page must be positive, got %d", perPage))
		return s.self
	}
	s.Skip((page - 1) * perPage)
	return s.Limit(perPage)
}

// Select restricts returned fields. The identifier is excluded unless it is
// one of the fields.
func (s stageOps[B]) Select(fields ...string) B {
	if len(fields) == 0 {
		return s.self
	}
	proj := bson.M{}
	for _, f := range fields {
		proj[translateField(f)] = 1
	}
	if _, ok := proj[storeID]; !ok {
		proj[storeID] = 0
	}
	s.p.push(bson.D{{Key: "$project", Value: proj}})
	return s.self
}

// Project appends a raw $project stage.
func (s stageOps[B]) Project(spec bson.M) B {
	s.p.push(bson.D{{Key: "$project", Value: spec}})
	return s.self
}

// Join looks up documents from target (a collection name or *Model) into
// the field as, which defaults to the target collection. fn builds the join
// predicate; values of the form "<this collection>.<path>" reference the
// outer document. Without fn the join matches <singular collection>_id on
// the target against this document's id.
func (s stageOps[B]) Join(target any, fn func(*Join), as ...string) B {
	from, err := collectionOf(target)
	if err != nil {
		s.p.fail(err)
		return s.self
	}
	name := from
	if len(as) != 0 && as[0] != "" {
		name = as[0]
	}

	j := newJoin(s.p.collection, from, name)
	if fn != nil {
		fn(j)
	} else {
		j.Where(flect.Singularize(s.p.collection)+"_id", s.p.collection+"."+publicID)
	}
	if err := j.pipe.Err(); err != nil {
		s.p.fail(err)
		return s.self
	}
	s.p.push(j.Stage())
	return s.self
}

func collectionOf(target any) (string, error) {
	switch t := target.(type) {
	case string:
		if t == "" {
			return "", configErrorf(nil, "empty collection name")
		}
		return t, nil
	case *Model:
		if t == nil {
			return "", configErrorf(ErrNoModel, "nil model")
		}
		return t.Collection(), nil
	}
	return "", configErrorf(nil, "cannot join %T", target)
}

func stagesToA(stages []bson.D) bson.A {
	out := make(bson.A, len(stages))
	for i, st := range stages {
		out[i] = st
	}
	return out
}
