package core

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Join builds one $lookup sub-pipeline. A predicate value written as
// "<ancestor>.<path>" refers to the outer document: the path is bound to a
// pivot variable in the lookup's let map and the predicate is compared
// against that variable with $expr, since sub-pipeline stages cannot see
// outer fields directly.
type Join struct {
	filterOps[*Join]
	stageOps[*Join]

	pipe     pipeline
	as       string
	ancestor string
	let      bson.M
	pivots   map[string]string
}

func newJoin(ancestor, from, as string) *Join {
	j := &Join{
		ancestor: ancestor,
		as:       as,
		pipe:     pipeline{collection: from},
		let:      bson.M{},
		pivots:   map[string]string{},
	}
	j.pipe.pred.resolve = j.resolveRef
	j.filterOps = filterOps[*Join]{self: j, p: &j.pipe.pred}
	j.stageOps = stageOps[*Join]{self: j, p: &j.pipe}
	return j
}

// From returns the joined collection.
func (j *Join) From() string {
	return j.pipe.collection
}

// As returns the field the joined documents are written to.
func (j *Join) As() string {
	return j.as
}

// Let returns a copy of the variable bindings.
func (j *Join) Let() bson.M {
	out := make(bson.M, len(j.let))
	for k, v := range j.let {
		out[k] = v
	}
	return out
}

// Pipeline flushes pending predicates and returns the sub-pipeline stages.
func (j *Join) Pipeline() []bson.D {
	return j.pipe.snapshot()
}

// Err returns the first builder error recorded on the join.
func (j *Join) Err() error {
	return j.pipe.Err()
}

// Stage flushes pending predicates and returns the finished $lookup stage.
func (j *Join) Stage() bson.D {
	lookup := bson.D{{Key: "from", Value: j.pipe.collection}}
	if len(j.let) != 0 {
		lookup = append(lookup, bson.E{Key: "let", Value: j.Let()})
	}
	lookup = append(lookup,
		bson.E{Key: "pipeline", Value: stagesToA(j.pipe.snapshot())},
		bson.E{Key: "as", Value: j.as})

	return bson.D{{Key: "$lookup", Value: lookup}}
}

// bind returns the pivot variable for an ancestor path, creating it on
// first use.
func (j *Join) bind(path string) string {
	if name, ok := j.pivots[path]; ok {
		return name
	}
	name := fmt.Sprintf("pivot_%d", len(j.pivots))
	j.pivots[path] = name
	j.let[name] = "$" + path
	return name
}

func (j *Join) ancestorPath(value any) (string, bool) {
	s, ok := value.(string)
	if !ok || j.ancestor == "" {
		return "", false
	}
	path, ok := strings.CutPrefix(s, j.ancestor+".")
	if !ok || path == "" {
		return "", false
	}
	return translateField(path), true
}

func (j *Join) resolveRef(field string, op Operator, value any) (bson.M, bool) {
	path, ok := j.ancestorPath(value)
	if !ok {
		return nil, false
	}
	v := "$$" + j.bind(path)
	lhs := "$" + field
	keyed := isKeyField(field) || isKeyField(path)

	switch op {
	case OpIn, OpNotIn:
		list := bson.M{"$ifNull": bson.A{v, bson.A{}}}
		in := bson.M{"$in": bson.A{lhs, list}}
		if keyed {
			in = bson.M{"$in": bson.A{
				bson.M{"$toString": lhs},
				bson.M{"$map": bson.M{"input": list, "as": "key", "in": bson.M{"$toString": "$$key"}}},
			}}
		}
		if op == OpNotIn {
			return bson.M{"$expr": bson.M{"$not": bson.A{in}}}, true
		}
		return bson.M{"$expr": in}, true

	case OpLike, OpNotLike:
		m := bson.M{"$regexMatch": bson.M{"input": bson.M{"$toString": lhs}, "regex": v, "options": "i"}}
		if op == OpNotLike {
			return bson.M{"$expr": bson.M{"$not": bson.A{m}}}, true
		}
		return bson.M{"$expr": m}, true
	}

	sop, ok := compareOps[op]
	if !ok {
		return nil, false
	}
	if keyed && (op == OpEQ || op == OpNE) {
		return bson.M{"$expr": bson.M{sop: bson.A{bson.M{"$toString": lhs}, bson.M{"$toString": v}}}}, true
	}
	return bson.M{"$expr": bson.M{sop: bson.A{lhs, v}}}, true
}
