package memdb

import (
	"bytes"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// missing is the value of an expression over an absent field. It differs
// from null in $addFields and $project, which skip missing results.
type missing struct{}

// normalize deep copies v into the canonical in-memory form: documents are
// bson.M, arrays are bson.A and integers are int64.
func normalize(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bson.M:
		return normalizeMap(val)
	case map[string]any:
		return normalizeMap(val)
	case bson.D:
		out := make(bson.M, len(val))
		for _, e := range val {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case bson.A:
		return normalizeSlice(val)
	case []any:
		return normalizeSlice(val)
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case float32:
		return float64(val)
	case bson.DateTime:
		return val.Time().UTC()
	case time.Time:
		return val.UTC()
	case string, bool, int64, float64, bson.ObjectID, bson.Regex, []byte, missing:
		return val
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make(bson.A, rv.Len())
		for i := range out {
			out[i] = normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			out := make(bson.M, rv.Len())
			for _, k := range rv.MapKeys() {
				out[k.String()] = normalize(rv.MapIndex(k).Interface())
			}
			return out
		}
	}
	return v
}

func normalizeMap(m map[string]any) bson.M {
	out := make(bson.M, len(m))
	for k, v := range m {
		out[k] = normalize(v)
	}
	return out
}

func normalizeSlice(s []any) bson.A {
	out := make(bson.A, len(s))
	for i, v := range s {
		out[i] = normalize(v)
	}
	return out
}

// copyDoc returns a deep copy of a stored document.
func copyDoc(doc bson.M) bson.M {
	return normalizeMap(doc)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case float32:
		return float64(n), true
	case bson.Decimal128:
		f, err := strconv.ParseFloat(n.String(), 64)
		return f, err == nil
	}
	return 0, false
}

// typeRank follows the server's cross type sort order.
func typeRank(v any) int {
	switch v.(type) {
	case nil, missing:
		return 1
	case int64, float64, int, int32, float32, bson.Decimal128:
		return 2
	case string:
		return 3
	case bson.M:
		return 4
	case bson.A:
		return 5
	case []byte:
		return 6
	case bson.ObjectID:
		return 7
	case bool:
		return 8
	case time.Time:
		return 9
	case bson.Regex:
		return 11
	}
	return 10
}

// compare orders two values. Values of different types order by type.
func compare(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return cmpInt(ra, rb)
	}

	switch x := a.(type) {
	case nil, missing:
		return 0
	case string:
		return strings.Compare(x, b.(string))
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case bson.ObjectID:
		y := b.(bson.ObjectID)
		return bytes.Compare(x[:], y[:])
	case time.Time:
		return x.Compare(b.(time.Time))
	case []byte:
		return bytes.Compare(x, b.([]byte))
	case bson.A:
		y := b.(bson.A)
		for i := 0; i < len(x) && i < len(y); i++ {
			if c := compare(x[i], y[i]); c != 0 {
				return c
			}
		}
		return cmpInt(len(x), len(y))
	case bson.M:
		return compareDocs(x, b.(bson.M))
	}

	if fa, ok := number(a); ok {
		fb, _ := number(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(toString(a), toString(b))
}

func compareDocs(x, y bson.M) int {
	kx, ky := sortedKeys(x), sortedKeys(y)
	for i := 0; i < len(kx) && i < len(ky); i++ {
		if c := strings.Compare(kx[i], ky[i]); c != 0 {
			return c
		}
		if c := compare(x[kx[i]], y[ky[i]]); c != 0 {
			return c
		}
	}
	return cmpInt(len(kx), len(ky))
}

func equal(a, b any) bool {
	if _, ok := a.(missing); ok {
		a = nil
	}
	if _, ok := b.(missing); ok {
		b = nil
	}
	return compare(a, b) == 0
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func sortedKeys(m bson.M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bson.ObjectID:
		return val.Hex()
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case nil, missing:
		return ""
	}
	return fmt.Sprint(v)
}

// lookup reads a dotted path. Traversing an array collects the path from
// every element that has it.
func lookup(v any, path string) (any, bool) {
	if path == "" {
		return v, true
	}
	head, rest, _ := strings.Cut(path, ".")

	switch val := v.(type) {
	case bson.M:
		next, ok := val[head]
		if !ok {
			return nil, false
		}
		if rest == "" {
			return next, true
		}
		return lookup(next, rest)

	case bson.A:
		if i, err := strconv.Atoi(head); err == nil {
			if i < 0 || i >= len(val) {
				return nil, false
			}
			return lookup(val[i], rest)
		}
		var out bson.A
		for _, item := range val {
			if x, ok := lookup(item, path); ok {
				out = append(out, x)
			}
		}
		return out, len(out) != 0
	}
	return nil, false
}

// setPath writes a dotted path, creating intermediate documents.
func setPath(doc bson.M, path string, v any) {
	head, rest, ok := strings.Cut(path, ".")
	if !ok {
		doc[head] = v
		return
	}
	next, isDoc := doc[head].(bson.M)
	if !isDoc {
		next = bson.M{}
		doc[head] = next
	}
	setPath(next, rest, v)
}

func unsetPath(doc bson.M, path string) {
	head, rest, ok := strings.Cut(path, ".")
	if !ok {
		delete(doc, head)
		return
	}
	if next, isDoc := doc[head].(bson.M); isDoc {
		unsetPath(next, rest)
	}
}
