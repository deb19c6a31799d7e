package core

import (
	"go.mongodb.org/mongo-driver/v2/bson"
)

type group int

const (
	groupAnd group = iota
	groupOr
)

// refResolver rewrites a predicate whose value references an outer
// document. It returns false when value is a plain literal.
type refResolver func(field string, op Operator, value any) (bson.M, bool)

// predicates accumulates filter clauses. At most one of and/or is populated;
// pushing into the other group wraps the current expression as its first
// element.
type predicates struct {
	and     []bson.M
	or      []bson.M
	resolve refResolver
	err     error
}

func (p *predicates) empty() bool {
	return len(p.and) == 0 && len(p.or) == 0
}

func (p *predicates) reset() {
	p.and = nil
	p.or = nil
}

func (p *predicates) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *predicates) expression() bson.M {
	switch {
	case len(p.and) != 0:
		return bson.M{"$and": clauses(p.and)}
	case len(p.or) != 0:
		return bson.M{"$or": clauses(p.or)}
	}
	return bson.M{}
}

func clauses(list []bson.M) bson.A {
	out := make(bson.A, len(list))
	for i, c := range list {
		out[i] = c
	}
	return out
}

func (p *predicates) push(g group, clause bson.M) {
	switch g {
	case groupAnd:
		if len(p.or) != 0 {
			p.and = []bson.M{{"$or": clauses(p.or)}}
			p.or = nil
		}
		p.and = append(p.and, clause)
	case groupOr:
		if len(p.and) != 0 {
			p.or = []bson.M{{"$and": clauses(p.and)}}
			p.and = nil
		}
		p.or = append(p.or, clause)
	}
}

// add parses Where style arguments: (field, value) or (field, operator, value).
func (p *predicates) add(g group, field string, args []any) {
	var op Operator
	var value any

	switch len(args) {
	case 1:
		op, value = OpEQ, args[0]
	case 2:
		tok, ok := args[0].(string)
		if !ok {
			p.fail(configErrorf(ErrUnknownOperator, "operator for %q must be a string, got %T", field, args[0]))
			return
		}
		var err error
		if op, err = ParseOperator(tok); err != nil {
			p.fail(err)
			return
		}
		value = args[1]
	default:
		p.fail(configErrorf(nil, "where %q expects a value or an operator and a value", field))
		return
	}
	p.addOp(g, field, op, value)
}

func (p *predicates) addOp(g group, field string, op Operator, value any) {
	clause, err := p.clause(translateField(field), op, value)
	if err != nil {
		p.fail(err)
		return
	}
	p.push(g, clause)
}

func (p *predicates) clause(field string, op Operator, value any) (bson.M, error) {
	if p.resolve != nil {
		if c, ok := p.resolve(field, op, value); ok {
			return c, nil
		}
	}

	if isIDField(field) {
		value = toObjectID(value)
	}

	if sop, ok := compareOps[op]; ok {
		return bson.M{field: bson.M{sop: value}}, nil
	}

	switch op {
	case OpLike:
		return bson.M{field: regex(value)}, nil

	case OpNotLike:
		return bson.M{field: bson.M{"$not": regex(value)}}, nil

	case OpIn, OpNotIn:
		if path, ok := value.(string); ok {
			in := bson.M{"$in": bson.A{"$" + field, bson.M{"$ifNull": bson.A{"$" + translateField(path), bson.A{}}}}}
			if op == OpNotIn {
				return bson.M{"$expr": bson.M{"$not": bson.A{in}}}, nil
			}
			return bson.M{"$expr": in}, nil
		}
		list, ok := asSlice(value)
		if !ok {
			return nil, configErrorf(nil, "%s on %q expects a list or a field path, got %T", op, field, value)
		}
		if op == OpNotIn {
			return bson.M{field: bson.M{"$nin": list}}, nil
		}
		return bson.M{field: bson.M{"$in": list}}, nil

	case OpBetween, OpNotBetween:
		list, ok := asSlice(value)
		if !ok || len(list) != 2 {
			return nil, configErrorf(nil, "%s on %q expects exactly two bounds", op, field)
		}
		if op == OpNotBetween {
			return bson.M{"$or": bson.A{
				bson.M{field: bson.M{"$lt": list[0]}},
				bson.M{field: bson.M{"$gt": list[1]}},
			}}, nil
		}
		return bson.M{field: bson.M{"$gte": list[0], "$lte": list[1]}}, nil

	case OpNull:
		return bson.M{field: bson.M{"$eq": nil}}, nil

	case OpNotNull:
		return bson.M{field: bson.M{"$ne": nil}}, nil
	}
	return nil, configErrorf(ErrUnknownOperator, "%q", op)
}

func regex(value any) bson.M {
	return bson.M{"$regex": toString(value), "$options": "i"}
}

// filterOps holds the predicate methods shared by Filter, Join and Query.
// Every method returns the builder it is embedded in so calls chain.
type filterOps[B any] struct {
	self B
	p    *predicates
}

// Where adds an AND predicate. Called as Where(field, value) it tests
// equality, as Where(field, operator, value) it uses the given operator.
func (f filterOps[B]) Where(field string, args ...any) B {
	f.p.add(groupAnd, field, args)
	return f.self
}

// OrWhere adds an OR predicate.
func (f filterOps[B]) OrWhere(field string, args ...any) B {
	f.p.add(groupOr, field, args)
	return f.self
}

// WhereFn groups the predicates added by fn into one AND element.
func (f filterOps[B]) WhereFn(fn func(*Filter)) B {
	f.sub(groupAnd, fn)
	return f.self
}

// OrWhereFn groups the predicates added by fn into one OR element.
func (f filterOps[B]) OrWhereFn(fn func(*Filter)) B {
	f.sub(groupOr, fn)
	return f.self
}

func (f filterOps[B]) sub(g group, fn func(*Filter)) {
	nf := newFilter(f.p.resolve)
	fn(nf)
	if nf.p.err != nil {
		f.p.fail(nf.p.err)
		return
	}
	if nf.p.empty() {
		return
	}
	f.p.push(g, nf.p.expression())
}

// WhereExpr adds a raw aggregation expression evaluated with $expr.
func (f filterOps[B]) WhereExpr(expr bson.M) B {
	f.p.push(groupAnd, bson.M{"$expr": expr})
	return f.self
}

func (f filterOps[B]) WhereLike(field string, pattern any) B {
	f.p.addOp(groupAnd, field, OpLike, pattern)
	return f.self
}

func (f filterOps[B]) OrWhereLike(field string, pattern any) B {
	f.p.addOp(groupOr, field, OpLike, pattern)
	return f.self
}

func (f filterOps[B]) WhereNotLike(field string, pattern any) B {
	f.p.addOp(groupAnd, field, OpNotLike, pattern)
	return f.self
}

func (f filterOps[B]) OrWhereNotLike(field string, pattern any) B {
	f.p.addOp(groupOr, field, OpNotLike, pattern)
	return f.self
}

// WhereIn tests set membership. values is either a list or the path of an
// array field on the same document.
func (f filterOps[B]) WhereIn(field string, values any) B {
	f.p.addOp(groupAnd, field, OpIn, values)
	return f.self
}

func (f filterOps[B]) OrWhereIn(field string, values any) B {
	f.p.addOp(groupOr, field, OpIn, values)
	return f.self
}

func (f filterOps[B]) WhereNotIn(field string, values any) B {
	f.p.addOp(groupAnd, field, OpNotIn, values)
	return f.self
}

func (f filterOps[B]) OrWhereNotIn(field string, values any) B {
	f.p.addOp(groupOr, field, OpNotIn, values)
	return f.self
}

// WhereBetween matches start <= field <= end.
func (f filterOps[B]) WhereBetween(field string, start, end any) B {
	f.p.addOp(groupAnd, field, OpBetween, bson.A{start, end})
	return f.self
}

func (f filterOps[B]) OrWhereBetween(field string, start, end any) B {
	f.p.addOp(groupOr, field, OpBetween, bson.A{start, end})
	return f.self
}

// WhereNotBetween matches field < start OR field > end. The disjunction is
// added as a single AND element so it composes with earlier predicates.
func (f filterOps[B]) WhereNotBetween(field string, start, end any) B {
	f.p.addOp(groupAnd, field, OpNotBetween, bson.A{start, end})
	return f.self
}

func (f filterOps[B]) OrWhereNotBetween(field string, start, end any) B {
	f.p.addOp(groupOr, field, OpNotBetween, bson.A{start, end})
	return f.self
}

func (f filterOps[B]) WhereNull(field string) B {
	f.p.addOp(groupAnd, field, OpNull, nil)
	return f.self
}

func (f filterOps[B]) OrWhereNull(field string) B {
	f.p.addOp(groupOr, field, OpNull, nil)
	return f.self
}

func (f filterOps[B]) WhereNotNull(field string) B {
	f.p.addOp(groupAnd, field, OpNotNull, nil)
	return f.self
}

func (f filterOps[B]) OrWhereNotNull(field string) B {
	f.p.addOp(groupOr, field, OpNotNull, nil)
	return f.self
}

// Filter is a standalone predicate builder. WhereFn callbacks receive a fresh
// Filter whose expression becomes one element of the parent group.
type Filter struct {
	filterOps[*Filter]
	pred predicates
}

// NewFilter returns an empty Filter.
func NewFilter() *Filter {
	return newFilter(nil)
}

func newFilter(resolve refResolver) *Filter {
	f := &Filter{pred: predicates{resolve: resolve}}
	f.filterOps = filterOps[*Filter]{self: f, p: &f.pred}
	return f
}

// Expression returns the normalized filter expression.
func (f *Filter) Expression() bson.M {
	return f.pred.expression()
}

// Empty reports whether no predicate has been added.
func (f *Filter) Empty() bool {
	return f.pred.empty()
}

// Err returns the first error recorded while adding predicates.
func (f *Filter) Err() error {
	return f.pred.err
}
