package memdb

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// match reports whether doc satisfies a query filter document.
func match(filter any, s scope) (bool, error) {
	f, ok := asDoc(filter)
	if !ok {
		return false, fmt.Errorf("filter must be an object, got %T", filter)
	}

	for key, cond := range f {
		ok, err := matchKey(key, cond, s)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchKey(key string, cond any, s scope) (bool, error) {
	switch key {
	case "$and", "$or", "$nor":
		list, ok := cond.(bson.A)
		if !ok || len(list) == 0 {
			return false, fmt.Errorf("%s must be a nonempty array", key)
		}
		for _, sub := range list {
			ok, err := match(sub, s)
			if err != nil {
				return false, err
			}
			switch {
			case key == "$and" && !ok:
				return false, nil
			case key == "$or" && ok:
				return true, nil
			case key == "$nor" && ok:
				return false, nil
			}
		}
		return key != "$or", nil

	case "$expr":
		v, err := eval(cond, s)
		if err != nil {
			return false, err
		}
		return truthy(v), nil
	}

	if strings.HasPrefix(key, "$") {
		return false, fmt.Errorf("unknown top level operator: %s", key)
	}

	val, present := lookup(s.doc, key)
	if ops, ok := cond.(bson.M); ok && isOperatorDoc(ops) {
		return matchOps(val, present, ops)
	}
	if re, ok := cond.(bson.Regex); ok {
		return matchRegex(val, present, re, "")
	}
	return matchEq(val, present, cond), nil
}

func isOperatorDoc(m bson.M) bool {
	for k := range m {
		return strings.HasPrefix(k, "$")
	}
	return false
}

// matchEq tests equality the way the server does: arrays match when any
// element or the whole array equals the target, and null matches missing.
func matchEq(val any, present bool, target any) bool {
	if target == nil {
		if !present || val == nil {
			return true
		}
	}
	if !present {
		return false
	}
	if list, ok := val.(bson.A); ok {
		for _, item := range list {
			if equal(item, target) {
				return true
			}
		}
	}
	return equal(val, target)
}

func matchOps(val any, present bool, ops bson.M) (bool, error) {
	opts, _ := ops["$options"].(string)

	for op, arg := range ops {
		var ok bool
		var err error

		switch op {
		case "$eq":
			ok = matchEq(val, present, arg)
		case "$ne":
			ok = !matchEq(val, present, arg)
		case "$gt", "$gte", "$lt", "$lte":
			ok = matchCompare(op, val, present, arg)
		case "$in", "$nin":
			list, isList := arg.(bson.A)
			if !isList {
				return false, fmt.Errorf("%s needs an array", op)
			}
			for _, target := range list {
				if re, isRe := target.(bson.Regex); isRe {
					if ok, err = matchRegex(val, present, re, ""); ok || err != nil {
						break
					}
					continue
				}
				if matchEq(val, present, target) {
					ok = true
					break
				}
			}
			if op == "$nin" {
				ok = !ok
			}
		case "$regex":
			ok, err = matchRegex(val, present, arg, opts)
		case "$options":
			continue
		case "$not":
			var sub bool
			switch n := arg.(type) {
			case bson.M:
				sub, err = matchOps(val, present, n)
			case bson.Regex:
				sub, err = matchRegex(val, present, n, "")
			default:
				return false, fmt.Errorf("$not needs a regex or a document")
			}
			ok = !sub
		case "$exists":
			ok = present == truthy(arg)
		case "$size":
			list, isList := val.(bson.A)
			n, _ := number(arg)
			ok = isList && len(list) == int(n)
		default:
			return false, fmt.Errorf("unknown operator: %s", op)
		}

		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// matchCompare applies a range operator within one type bracket.
func matchCompare(op string, val any, present bool, target any) bool {
	if !present {
		return false
	}
	if list, ok := val.(bson.A); ok {
		for _, item := range list {
			if matchCompare(op, item, true, target) {
				return true
			}
		}
		return false
	}
	if typeRank(val) != typeRank(target) {
		return false
	}
	c := compare(val, target)
	switch op {
	case "$gt":
		return c > 0
	case "$gte":
		return c >= 0
	case "$lt":
		return c < 0
	}
	return c <= 0
}

func matchRegex(val any, present bool, pattern any, opts string) (bool, error) {
	if !present {
		return false, nil
	}
	re, err := compileRegex(pattern, opts)
	if err != nil {
		return false, err
	}
	if list, ok := val.(bson.A); ok {
		for _, item := range list {
			if s, ok := item.(string); ok && re.MatchString(s) {
				return true, nil
			}
		}
		return false, nil
	}
	s, ok := val.(string)
	return ok && re.MatchString(s), nil
}
