package core

import (
	"fmt"
	"math"
	"reflect"
	"strconv"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func toString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bson.ObjectID:
		return val.Hex()
	case fmt.Stringer:
		return val.String()
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

// asSlice converts any slice or array value into a bson.A.
func asSlice(v any) (bson.A, bool) {
	switch val := v.(type) {
	case bson.A:
		return val, true
	case []any:
		return bson.A(val), true
	case nil:
		return nil, false
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make(bson.A, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case bson.Decimal128:
		f, err := strconv.ParseFloat(n.String(), 64)
		return f, err == nil
	}
	return 0, false
}

// negate flips the sign of a numeric delta.
func negate(v any) (any, bool) {
	switch n := v.(type) {
	case int:
		return -n, true
	case int8:
		return -n, true
	case int16:
		return -n, true
	case int32:
		return -n, true
	case int64:
		return -n, true
	case float32:
		return -n, true
	case float64:
		return -n, true
	case uint:
		return -int64(n), true
	case uint8:
		return -int64(n), true
	case uint16:
		return -int64(n), true
	case uint32:
		return -int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return nil, false
		}
		return -int64(n), true
	}
	return nil, false
}
