package memdb

import (
	"fmt"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// run executes an aggregation pipeline over docs. Documents are copied
// before the first stage so stored data is never modified.
func (db *DB) run(docs []bson.M, stages []any, vars map[string]any) ([]bson.M, error) {
	out := make([]bson.M, len(docs))
	for i, d := range docs {
		out[i] = copyDoc(d)
	}

	for _, raw := range stages {
		st, ok := specDoc(raw)
		if !ok || len(st) != 1 {
			return nil, fmt.Errorf("a pipeline stage specification object must contain exactly one field")
		}
		for name, spec := range st {
			var err error
			if out, err = db.stage(name, spec, out, vars); err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
		}
	}
	return out, nil
}

func (db *DB) stage(name string, spec any, docs []bson.M, vars map[string]any) ([]bson.M, error) {
	switch name {
	case "$match":
		return filterDocs(docs, spec, vars)
	case "$sort":
		return sortDocs(docs, spec)
	case "$skip":
		n, ok := number(spec)
		if !ok || n < 0 {
			return nil, fmt.Errorf("invalid argument %v", spec)
		}
		if int(n) >= len(docs) {
			return []bson.M{}, nil
		}
		return docs[int(n):], nil
	case "$limit":
		n, ok := number(spec)
		if !ok || n <= 0 {
			return nil, fmt.Errorf("the limit must be positive")
		}
		if int(n) < len(docs) {
			return docs[:int(n)], nil
		}
		return docs, nil
	case "$lookup":
		return db.lookupStage(docs, spec, vars)
	case "$unwind":
		return unwindDocs(docs, spec)
	case "$project":
		return projectDocs(docs, spec, vars)
	case "$addFields", "$set":
		return addFields(docs, spec, vars)
	case "$unset":
		return unsetFields(docs, spec)
	case "$group":
		return groupDocs(docs, spec, vars)
	case "$count":
		field, ok := spec.(string)
		if !ok || field == "" {
			return nil, fmt.Errorf("the count field must be a non-empty string")
		}
		if len(docs) == 0 {
			return []bson.M{}, nil
		}
		return []bson.M{{field: int64(len(docs))}}, nil
	}
	return nil, fmt.Errorf("unrecognized pipeline stage name")
}

func filterDocs(docs []bson.M, spec any, vars map[string]any) ([]bson.M, error) {
	filter := normalize(spec)
	out := make([]bson.M, 0, len(docs))
	for _, d := range docs {
		ok, err := match(filter, scope{doc: d, vars: vars})
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// specDoc converts the top level of a stage specification to bson.M and
// leaves nested values untouched, so ordered sort specs keep their order.
func specDoc(v any) (bson.M, bool) {
	switch d := v.(type) {
	case bson.M:
		return d, true
	case map[string]any:
		return bson.M(d), true
	case bson.D:
		out := make(bson.M, len(d))
		for _, e := range d {
			out[e.Key] = e.Value
		}
		return out, true
	}
	return nil, false
}

type sortKey struct {
	path string
	dir  int
}

func sortKeys(spec any) ([]sortKey, error) {
	var keys []sortKey
	add := func(k string, v any) error {
		n, ok := number(normalize(v))
		if !ok || (n != 1 && n != -1) {
			return fmt.Errorf("invalid sort order for %s", k)
		}
		keys = append(keys, sortKey{path: k, dir: int(n)})
		return nil
	}

	switch s := spec.(type) {
	case bson.D:
		for _, e := range s {
			if err := add(e.Key, e.Value); err != nil {
				return nil, err
			}
		}
	default:
		m, ok := asDoc(spec)
		if !ok {
			return nil, fmt.Errorf("the $sort key specification must be an object")
		}
		for _, k := range sortedKeys(m) {
			if err := add(k, m[k]); err != nil {
				return nil, err
			}
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("$sort stage must have at least one sort key")
	}
	return keys, nil
}

func sortDocs(docs []bson.M, spec any) ([]bson.M, error) {
	keys, err := sortKeys(spec)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			a, _ := lookup(docs[i], k.path)
			b, _ := lookup(docs[j], k.path)
			if c := compare(a, b); c != 0 {
				return c*k.dir < 0
			}
		}
		return false
	})
	return docs, nil
}

// lookupStage supports both the localField/foreignField form and the
// let/pipeline form.
func (db *DB) lookupStage(docs []bson.M, spec any, vars map[string]any) ([]bson.M, error) {
	l, ok := specDoc(spec)
	if !ok {
		return nil, fmt.Errorf("the $lookup stage specification must be an object")
	}
	from, _ := l["from"].(string)
	as, _ := l["as"].(string)
	if from == "" || as == "" {
		return nil, fmt.Errorf("from and as are required")
	}
	foreign := db.docs(from)

	var sub []any
	switch p := l["pipeline"].(type) {
	case bson.A:
		sub = p
	case []any:
		sub = p
	case []bson.D:
		for _, st := range p {
			sub = append(sub, st)
		}
	}
	local, _ := l["localField"].(string)
	foreignField, _ := l["foreignField"].(string)
	let, _ := specDoc(l["let"])

	for _, d := range docs {
		s := scope{doc: d, vars: vars}
		inner := map[string]any{}
		for k, v := range vars {
			inner[k] = v
		}
		for name, expr := range let {
			v, err := eval(expr, s)
			if err != nil {
				return nil, err
			}
			inner[name] = nullify(v)
		}

		candidates := foreign
		if local != "" && foreignField != "" {
			lv, present := lookup(d, local)
			if !present {
				lv = nil
			}
			candidates = nil
			for _, fd := range foreign {
				fv, fpresent := lookup(fd, foreignField)
				if lookupEq(lv, fv, fpresent) {
					candidates = append(candidates, fd)
				}
			}
		}

		joined, err := db.run(candidates, sub, inner)
		if err != nil {
			return nil, err
		}
		list := make(bson.A, len(joined))
		for i, j := range joined {
			list[i] = j
		}
		setPath(d, as, list)
	}
	return docs, nil
}

func lookupEq(local, foreign any, present bool) bool {
	if list, ok := local.(bson.A); ok {
		for _, item := range list {
			if matchEq(foreign, present, item) {
				return true
			}
		}
		return false
	}
	return matchEq(foreign, present, local)
}

func unwindDocs(docs []bson.M, spec any) ([]bson.M, error) {
	var path string
	var preserve bool

	switch s := normalize(spec).(type) {
	case string:
		path = s
	case bson.M:
		path, _ = s["path"].(string)
		preserve = truthy(s["preserveNullAndEmptyArrays"])
	}
	if !strings.HasPrefix(path, "$") {
		return nil, fmt.Errorf("path option to $unwind stage should be prefixed with a '$'")
	}
	path = path[1:]

	out := make([]bson.M, 0, len(docs))
	for _, d := range docs {
		v, present := lookup(d, path)
		list, isList := v.(bson.A)

		switch {
		case !present || v == nil:
			if preserve {
				out = append(out, d)
			}
		case isList && len(list) == 0:
			if preserve {
				unsetPath(d, path)
				out = append(out, d)
			}
		case isList:
			for _, item := range list {
				c := copyDoc(d)
				setPath(c, path, normalize(item))
				out = append(out, c)
			}
		default:
			out = append(out, d)
		}
	}
	return out, nil
}

func projectDocs(docs []bson.M, spec any, vars map[string]any) ([]bson.M, error) {
	p, ok := asDoc(spec)
	if !ok || len(p) == 0 {
		return nil, fmt.Errorf("$project requires at least one output field")
	}

	keepID := true
	include, exclude := map[string]bool{}, map[string]bool{}
	computed := bson.M{}

	for k, v := range p {
		switch val := v.(type) {
		case bool, int64, float64:
			on := truthy(val)
			if k == "_id" {
				keepID = on
				continue
			}
			if on {
				include[k] = true
			} else {
				exclude[k] = true
			}
		default:
			computed[k] = val
		}
	}
	if len(exclude) != 0 && (len(include) != 0 || len(computed) != 0) {
		return nil, fmt.Errorf("cannot mix inclusion and exclusion in a projection")
	}

	out := make([]bson.M, len(docs))
	for i, d := range docs {
		var r bson.M
		if len(exclude) != 0 {
			r = d
			for k := range exclude {
				unsetPath(r, k)
			}
		} else if len(include) == 0 && len(computed) == 0 {
			r = d
		} else {
			r = bson.M{}
			for k := range include {
				if v, ok := lookup(d, k); ok {
					setPath(r, k, v)
				}
			}
			for k, expr := range computed {
				v, err := eval(expr, scope{doc: d, vars: vars})
				if err != nil {
					return nil, err
				}
				if _, skip := v.(missing); !skip {
					setPath(r, k, v)
				}
			}
			if id, ok := d["_id"]; ok && keepID {
				r["_id"] = id
			}
		}
		if !keepID {
			delete(r, "_id")
		}
		out[i] = r
	}
	return out, nil
}

func addFields(docs []bson.M, spec any, vars map[string]any) ([]bson.M, error) {
	fields, ok := asDoc(spec)
	if !ok {
		return nil, fmt.Errorf("$addFields specification stage must be an object")
	}
	for _, d := range docs {
		s := scope{doc: copyDoc(d), vars: vars}
		for _, k := range sortedKeys(fields) {
			v, err := eval(fields[k], s)
			if err != nil {
				return nil, err
			}
			if _, skip := v.(missing); skip {
				unsetPath(d, k)
				continue
			}
			setPath(d, k, v)
		}
	}
	return docs, nil
}

func unsetFields(docs []bson.M, spec any) ([]bson.M, error) {
	var fields []string
	switch s := normalize(spec).(type) {
	case string:
		fields = []string{s}
	case bson.A:
		for _, f := range s {
			name, ok := f.(string)
			if !ok {
				return nil, fmt.Errorf("$unset specification must be a string or an array of strings")
			}
			fields = append(fields, name)
		}
	default:
		return nil, fmt.Errorf("$unset specification must be a string or an array of strings")
	}
	for _, d := range docs {
		for _, f := range fields {
			unsetPath(d, f)
		}
	}
	return docs, nil
}

type groupState struct {
	id   any
	doc  bson.M
	acc  map[string]*accumulator
	keys []string
}

type accumulator struct {
	op    string
	value any
	sum   float64
	n     int
	ints  bool
	list  bson.A
	seen  bool
}

func groupDocs(docs []bson.M, spec any, vars map[string]any) ([]bson.M, error) {
	g, ok := asDoc(spec)
	if !ok {
		return nil, fmt.Errorf("a group's fields must be specified in an object")
	}
	idExpr, ok := g["_id"]
	if !ok {
		return nil, fmt.Errorf("a group specification must include an _id")
	}

	type accSpec struct {
		field, op string
		expr      any
	}
	var specs []accSpec
	for _, field := range sortedKeys(g) {
		if field == "_id" {
			continue
		}
		a, ok := g[field].(bson.M)
		if !ok || len(a) != 1 {
			return nil, fmt.Errorf("the field '%s' must be an accumulator object", field)
		}
		for op, expr := range a {
			specs = append(specs, accSpec{field: field, op: op, expr: expr})
		}
	}

	var groups []*groupState
	for _, d := range docs {
		s := scope{doc: d, vars: vars}
		id, err := eval(idExpr, s)
		if err != nil {
			return nil, err
		}
		id = nullify(id)

		var gs *groupState
		for _, x := range groups {
			if equal(x.id, id) {
				gs = x
				break
			}
		}
		if gs == nil {
			gs = &groupState{id: id, acc: map[string]*accumulator{}}
			for _, sp := range specs {
				gs.acc[sp.field] = &accumulator{op: sp.op, ints: true}
				gs.keys = append(gs.keys, sp.field)
			}
			groups = append(groups, gs)
		}

		for _, sp := range specs {
			v, err := eval(sp.expr, s)
			if err != nil {
				return nil, err
			}
			if err := gs.acc[sp.field].add(v); err != nil {
				return nil, err
			}
		}
	}

	out := make([]bson.M, len(groups))
	for i, gs := range groups {
		r := bson.M{"_id": gs.id}
		for _, k := range gs.keys {
			r[k] = gs.acc[k].result()
		}
		out[i] = r
	}
	return out, nil
}

func (a *accumulator) add(v any) error {
	switch a.op {
	case "$sum", "$avg":
		if list, ok := v.(bson.A); ok && a.op == "$sum" {
			for _, item := range list {
				if err := a.add(item); err != nil {
					return err
				}
			}
			return nil
		}
		n, ok := number(v)
		if !ok {
			return nil
		}
		if _, isInt := v.(int64); !isInt {
			a.ints = false
		}
		a.sum += n
		a.n++
	case "$max", "$min":
		if isNull(v) {
			return nil
		}
		c := 0
		if a.seen {
			c = compare(v, a.value)
		}
		if !a.seen || (a.op == "$max" && c > 0) || (a.op == "$min" && c < 0) {
			a.value, a.seen = v, true
		}
	case "$first":
		if !a.seen {
			a.value, a.seen = nullify(v), true
		}
	case "$last":
		a.value, a.seen = nullify(v), true
	case "$push", "$addToSet":
		if _, skip := v.(missing); skip {
			return nil
		}
		if a.op == "$addToSet" {
			for _, x := range a.list {
				if equal(x, v) {
					return nil
				}
			}
		}
		a.list = append(a.list, v)
	case "$count":
		a.n++
	default:
		return fmt.Errorf("unknown group operator '%s'", a.op)
	}
	return nil
}

func (a *accumulator) result() any {
	switch a.op {
	case "$sum":
		if a.ints {
			return int64(a.sum)
		}
		return a.sum
	case "$avg":
		if a.n == 0 {
			return nil
		}
		return a.sum / float64(a.n)
	case "$push", "$addToSet":
		if a.list == nil {
			return bson.A{}
		}
		return a.list
	case "$count":
		return int64(a.n)
	}
	return a.value
}
