package memdb

import (
	"fmt"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// scope is the evaluation context of an aggregation expression: the current
// document and the variables bound by $lookup let or $map.
type scope struct {
	doc  bson.M
	vars map[string]any
}

func (s scope) with(name string, v any) scope {
	vars := make(map[string]any, len(s.vars)+1)
	for k, val := range s.vars {
		vars[k] = val
	}
	vars[name] = v
	return scope{doc: s.doc, vars: vars}
}

// eval evaluates an aggregation expression.
func eval(expr any, s scope) (any, error) {
	switch e := expr.(type) {
	case string:
		return evalPath(e, s)

	case bson.D:
		return eval(normalize(e), s)

	case map[string]any:
		return eval(bson.M(e), s)

	case bson.M:
		if len(e) == 1 {
			for k, arg := range e {
				if strings.HasPrefix(k, "$") {
					return evalOp(k, arg, s)
				}
			}
		}
		out := make(bson.M, len(e))
		for k, v := range e {
			val, err := eval(v, s)
			if err != nil {
				return nil, err
			}
			if _, ok := val.(missing); !ok {
				out[k] = val
			}
		}
		return out, nil

	case bson.A:
		return evalList(e, s)

	case []any:
		return evalList(e, s)
	}
	return normalize(expr), nil
}

func evalPath(e string, s scope) (any, error) {
	switch {
	case strings.HasPrefix(e, "$$"):
		name, path, _ := strings.Cut(e[2:], ".")
		var v any
		switch name {
		case "ROOT", "CURRENT":
			v = s.doc
		default:
			var ok bool
			if v, ok = s.vars[name]; !ok {
				return nil, fmt.Errorf("use of undefined variable: %s", name)
			}
		}
		if path == "" {
			return v, nil
		}
		if x, ok := lookup(v, path); ok {
			return x, nil
		}
		return missing{}, nil

	case strings.HasPrefix(e, "$"):
		if x, ok := lookup(s.doc, e[1:]); ok {
			return x, nil
		}
		return missing{}, nil
	}
	return e, nil
}

func evalList(list []any, s scope) (bson.A, error) {
	out := make(bson.A, len(list))
	for i, v := range list {
		val, err := eval(v, s)
		if err != nil {
			return nil, err
		}
		out[i] = val
	}
	return out, nil
}

// args evaluates an operator argument that may be a single expression or a
// list of expressions.
func args(arg any, s scope) (bson.A, error) {
	switch a := arg.(type) {
	case bson.A:
		return evalList(a, s)
	case []any:
		return evalList(a, s)
	}
	v, err := eval(arg, s)
	if err != nil {
		return nil, err
	}
	return bson.A{v}, nil
}

func isNull(v any) bool {
	switch v.(type) {
	case nil, missing:
		return true
	}
	return false
}

func asDoc(v any) (bson.M, bool) {
	switch d := normalize(v).(type) {
	case bson.M:
		return d, true
	}
	return nil, false
}

func evalOp(op string, arg any, s scope) (any, error) {
	switch op {
	case "$literal":
		return normalize(arg), nil

	case "$toString":
		a, err := args(arg, s)
		if err != nil {
			return nil, err
		}
		if isNull(a[0]) {
			return nil, nil
		}
		return toString(a[0]), nil

	case "$ifNull":
		a, err := args(arg, s)
		if err != nil {
			return nil, err
		}
		for _, v := range a[:len(a)-1] {
			if !isNull(v) {
				return v, nil
			}
		}
		return a[len(a)-1], nil

	case "$eq", "$ne", "$gt", "$gte", "$lt", "$lte", "$cmp":
		a, err := args(arg, s)
		if err != nil {
			return nil, err
		}
		if len(a) != 2 {
			return nil, fmt.Errorf("%s takes exactly 2 arguments", op)
		}
		c := compare(nullify(a[0]), nullify(a[1]))
		switch op {
		case "$eq":
			return c == 0, nil
		case "$ne":
			return c != 0, nil
		case "$gt":
			return c > 0, nil
		case "$gte":
			return c >= 0, nil
		case "$lt":
			return c < 0, nil
		case "$lte":
			return c <= 0, nil
		}
		return int64(c), nil

	case "$and", "$or":
		a, err := args(arg, s)
		if err != nil {
			return nil, err
		}
		for _, v := range a {
			if truthy(v) != (op == "$and") {
				return op == "$or", nil
			}
		}
		return op == "$and", nil

	case "$not":
		a, err := args(arg, s)
		if err != nil {
			return nil, err
		}
		return !truthy(a[0]), nil

	case "$in":
		a, err := args(arg, s)
		if err != nil {
			return nil, err
		}
		if len(a) != 2 {
			return nil, fmt.Errorf("$in takes exactly 2 arguments")
		}
		list, ok := a[1].(bson.A)
		if !ok {
			return nil, fmt.Errorf("$in requires an array as a second argument, found: %s", typeName(a[1]))
		}
		for _, v := range list {
			if equal(a[0], v) {
				return true, nil
			}
		}
		return false, nil

	case "$size":
		a, err := args(arg, s)
		if err != nil {
			return nil, err
		}
		list, ok := a[0].(bson.A)
		if !ok {
			return nil, fmt.Errorf("the argument to $size must be an array, but was of type: %s", typeName(a[0]))
		}
		return int64(len(list)), nil

	case "$concatArrays":
		a, err := args(arg, s)
		if err != nil {
			return nil, err
		}
		out := bson.A{}
		for _, v := range a {
			if isNull(v) {
				return nil, nil
			}
			list, ok := v.(bson.A)
			if !ok {
				return nil, fmt.Errorf("$concatArrays only supports arrays, not %s", typeName(v))
			}
			out = append(out, list...)
		}
		return out, nil

	case "$arrayElemAt":
		a, err := args(arg, s)
		if err != nil {
			return nil, err
		}
		if len(a) != 2 {
			return nil, fmt.Errorf("$arrayElemAt takes exactly 2 arguments")
		}
		if isNull(a[0]) {
			return nil, nil
		}
		list, ok := a[0].(bson.A)
		if !ok {
			return nil, fmt.Errorf("$arrayElemAt's first argument must be an array")
		}
		n, _ := number(a[1])
		i := int(n)
		if i < 0 {
			i += len(list)
		}
		if i < 0 || i >= len(list) {
			return missing{}, nil
		}
		return list[i], nil

	case "$map":
		spec, ok := asDoc(arg)
		if !ok {
			return nil, fmt.Errorf("$map only supports an object as its argument")
		}
		input, err := eval(spec["input"], s)
		if err != nil {
			return nil, err
		}
		if isNull(input) {
			return nil, nil
		}
		list, ok := input.(bson.A)
		if !ok {
			return nil, fmt.Errorf("input to $map must be an array not %s", typeName(input))
		}
		as, _ := spec["as"].(string)
		if as == "" {
			as = "this"
		}
		out := make(bson.A, len(list))
		for i, item := range list {
			if out[i], err = eval(spec["in"], s.with(as, item)); err != nil {
				return nil, err
			}
		}
		return out, nil

	case "$regexMatch":
		spec, ok := asDoc(arg)
		if !ok {
			return nil, fmt.Errorf("$regexMatch expects an object")
		}
		input, err := eval(spec["input"], s)
		if err != nil {
			return nil, err
		}
		pattern, err := eval(spec["regex"], s)
		if err != nil {
			return nil, err
		}
		opts, _ := spec["options"].(string)
		if isNull(input) {
			return false, nil
		}
		str, ok := input.(string)
		if !ok {
			return nil, fmt.Errorf("$regexMatch needs 'input' to be of type string")
		}
		re, err := compileRegex(pattern, opts)
		if err != nil {
			return nil, err
		}
		return re.MatchString(str), nil

	case "$cond":
		var cond, then, els any
		switch a := normalize(arg).(type) {
		case bson.A:
			if len(a) != 3 {
				return nil, fmt.Errorf("$cond takes exactly 3 arguments")
			}
			cond, then, els = a[0], a[1], a[2]
		case bson.M:
			cond, then, els = a["if"], a["then"], a["else"]
		}
		c, err := eval(cond, s)
		if err != nil {
			return nil, err
		}
		if truthy(c) {
			return eval(then, s)
		}
		return eval(els, s)

	case "$type":
		a, err := args(arg, s)
		if err != nil {
			return nil, err
		}
		return typeName(a[0]), nil

	case "$add", "$subtract", "$multiply":
		a, err := args(arg, s)
		if err != nil {
			return nil, err
		}
		var acc float64
		ints := true
		for i, v := range a {
			if isNull(v) {
				return nil, nil
			}
			n, ok := number(v)
			if !ok {
				return nil, fmt.Errorf("%s only supports numeric types, not %s", op, typeName(v))
			}
			if _, isInt := v.(int64); !isInt {
				ints = false
			}
			switch {
			case i == 0:
				acc = n
			case op == "$add":
				acc += n
			case op == "$subtract":
				acc -= n
			default:
				acc *= n
			}
		}
		if ints {
			return int64(acc), nil
		}
		return acc, nil
	}
	return nil, fmt.Errorf("unrecognized expression '%s'", op)
}

func nullify(v any) any {
	if _, ok := v.(missing); ok {
		return nil
	}
	return v
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil, missing:
		return false
	case bool:
		return val
	}
	if n, ok := number(v); ok {
		return n != 0
	}
	return true
}

func typeName(v any) string {
	switch v.(type) {
	case missing:
		return "missing"
	case nil:
		return "null"
	case string:
		return "string"
	case int64:
		return "long"
	case float64:
		return "double"
	case bool:
		return "bool"
	case bson.M:
		return "object"
	case bson.A:
		return "array"
	case bson.ObjectID:
		return "objectId"
	case []byte:
		return "binData"
	case bson.Regex:
		return "regex"
	}
	if _, ok := number(v); ok {
		return "number"
	}
	if typeRank(v) == 9 {
		return "date"
	}
	return fmt.Sprintf("%T", v)
}

// compileRegex translates server regex options to Go flags.
func compileRegex(pattern any, opts string) (*regexp.Regexp, error) {
	var src string
	switch p := pattern.(type) {
	case string:
		src = p
	case bson.Regex:
		src = p.Pattern
		opts += p.Options
	default:
		return nil, fmt.Errorf("regex must be a string, not %s", typeName(pattern))
	}

	var flags string
	for _, o := range opts {
		switch o {
		case 'i', 'm', 's':
			if !strings.ContainsRune(flags, o) {
				flags += string(o)
			}
		}
	}
	if flags != "" {
		src = "(?" + flags + ")" + src
	}
	return regexp.Compile(src)
}
