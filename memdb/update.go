package memdb

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// applyUpdate runs update operators against doc in place.
func applyUpdate(doc bson.M, update bson.M) error {
	if len(update) == 0 {
		return fmt.Errorf("update document must not be empty")
	}

	for op, arg := range update {
		fields, ok := arg.(bson.M)
		if !ok {
			return fmt.Errorf("modifiers operate on fields but we found type %s instead", typeName(arg))
		}
		for path, v := range fields {
			if path == "_id" && op != "$set" {
				return fmt.Errorf("performing an update on the path '_id' would modify the immutable field '_id'")
			}
			if err := updateField(doc, op, path, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func updateField(doc bson.M, op, path string, v any) error {
	cur, present := lookup(doc, path)

	switch op {
	case "$set":
		if path == "_id" {
			if !equal(cur, v) {
				return fmt.Errorf("performing an update on the path '_id' would modify the immutable field '_id'")
			}
			return nil
		}
		setPath(doc, path, v)

	case "$unset":
		unsetPath(doc, path)

	case "$inc":
		delta, ok := number(v)
		if !ok {
			return fmt.Errorf("cannot increment with non-numeric argument: {%s: %v}", path, v)
		}
		if !present || cur == nil {
			setPath(doc, path, v)
			return nil
		}
		n, ok := number(cur)
		if !ok {
			return fmt.Errorf("cannot apply $inc to a value of non-numeric type %s", typeName(cur))
		}
		_, curInt := cur.(int64)
		_, deltaInt := v.(int64)
		if curInt && deltaInt {
			setPath(doc, path, cur.(int64)+v.(int64))
		} else {
			setPath(doc, path, n+delta)
		}

	case "$addToSet", "$push":
		list := bson.A{}
		if present && cur != nil {
			var ok bool
			if list, ok = cur.(bson.A); !ok {
				return fmt.Errorf("the field '%s' must be an array but is of type %s", path, typeName(cur))
			}
		}
		items := bson.A{v}
		if each, ok := v.(bson.M); ok {
			if e, ok := each["$each"].(bson.A); ok {
				items = e
			}
		}
		out := append(bson.A{}, list...)
		for _, item := range items {
			if op == "$addToSet" && contains(out, item) {
				continue
			}
			out = append(out, item)
		}
		setPath(doc, path, out)

	case "$pull":
		if !present || cur == nil {
			return nil
		}
		list, ok := cur.(bson.A)
		if !ok {
			return fmt.Errorf("cannot apply $pull to a non-array value")
		}
		out := bson.A{}
		for _, item := range list {
			if !pulled(item, v) {
				out = append(out, item)
			}
		}
		setPath(doc, path, out)

	default:
		if strings.HasPrefix(op, "$") {
			return fmt.Errorf("unknown modifier: %s", op)
		}
		return fmt.Errorf("replacement documents are not supported")
	}
	return nil
}

func contains(list bson.A, v any) bool {
	for _, item := range list {
		if equal(item, v) {
			return true
		}
	}
	return false
}

// pulled reports whether item matches a $pull condition, either a value or
// an operator document such as {$in: [...]}.
func pulled(item, cond any) bool {
	if ops, ok := cond.(bson.M); ok && isOperatorDoc(ops) {
		ok, err := matchOps(item, true, ops)
		return err == nil && ok
	}
	return equal(item, cond)
}
