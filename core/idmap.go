package core

import (
	"reflect"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Document is a single record as seen by callers: plain maps and slices,
// identifiers as strings under the "id" key.
type Document = map[string]any

const (
	publicID = "id"
	storeID  = "_id"
)

// translateField maps the public identifier segment "id" to "_id" in a
// (possibly dotted) field path.
func translateField(name string) string {
	if name == publicID {
		return storeID
	}
	if !strings.Contains(name, ".") {
		return name
	}
	parts := strings.Split(name, ".")
	for i, p := range parts {
		if p == publicID {
			parts[i] = storeID
		}
	}
	return strings.Join(parts, ".")
}

// isIDField reports whether the last segment of a store field path is the
// document identifier.
func isIDField(field string) bool {
	return field == storeID || strings.HasSuffix(field, "."+storeID)
}

// isKeyField reports whether a store field holds identifiers, either the
// document identifier or a foreign key following the <name>_id convention.
func isKeyField(field string) bool {
	return isIDField(field) || strings.HasSuffix(field, "_id") || strings.HasSuffix(field, "_ids")
}

// toObjectID converts valid hex strings to object ids and leaves every
// other value untouched.
func toObjectID(v any) any {
	switch val := v.(type) {
	case string:
		if oid, err := bson.ObjectIDFromHex(val); err == nil {
			return oid
		}
		return val
	case []string:
		out := make(bson.A, len(val))
		for i, s := range val {
			out[i] = toObjectID(s)
		}
		return out
	case []any:
		out := make(bson.A, len(val))
		for i, s := range val {
			out[i] = toObjectID(s)
		}
		return out
	case bson.A:
		out := make(bson.A, len(val))
		for i, s := range val {
			out[i] = toObjectID(s)
		}
		return out
	}
	return v
}

// FromStore converts a value read from the backing store into its public
// form. Nested documents become maps, "_id" keys become "id" and object ids
// become hex strings. Applying it twice is a no-op.
func FromStore(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bson.M:
		return fromStoreMap(val)
	case map[string]any:
		return fromStoreMap(val)
	case bson.D:
		out := make(Document, len(val))
		for _, e := range val {
			out[fromStoreKey(e.Key)] = FromStore(e.Value)
		}
		return out
	case bson.A:
		return fromStoreSlice(val)
	case []any:
		return fromStoreSlice(val)
	case []bson.M:
		out := make([]any, len(val))
		for i, d := range val {
			out[i] = fromStoreMap(d)
		}
		return out
	case bson.ObjectID:
		return val.Hex()
	case bson.DateTime:
		return val.Time().UTC()
	case time.Time, string, bool, int, int32, int64, float32, float64:
		return val
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = FromStore(rv.Index(i).Interface())
		}
		return out
	}
	return v
}

func fromStoreKey(k string) string {
	if k == storeID {
		return publicID
	}
	return k
}

func fromStoreMap(m map[string]any) Document {
	out := make(Document, len(m))
	for k, v := range m {
		out[fromStoreKey(k)] = FromStore(v)
	}
	return out
}

func fromStoreSlice(s []any) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = FromStore(v)
	}
	return out
}

// ToStore converts a public value into the form written to the backing
// store: "id" keys become "_id" and identifier values that are valid object
// id hex strings become object ids. Applying it twice is a no-op.
func ToStore(v any) any {
	switch val := v.(type) {
	case bson.M:
		return toStoreMap(val)
	case map[string]any:
		return toStoreMap(val)
	case bson.D:
		out := make(bson.D, len(val))
		for i, e := range val {
			k := e.Key
			if k == publicID {
				k = storeID
			}
			if k == storeID {
				out[i] = bson.E{Key: k, Value: toObjectID(e.Value)}
			} else {
				out[i] = bson.E{Key: k, Value: ToStore(e.Value)}
			}
		}
		return out
	case []any:
		out := make(bson.A, len(val))
		for i, item := range val {
			out[i] = ToStore(item)
		}
		return out
	case bson.A:
		out := make(bson.A, len(val))
		for i, item := range val {
			out[i] = ToStore(item)
		}
		return out
	case []Document:
		out := make(bson.A, len(val))
		for i, item := range val {
			out[i] = toStoreMap(item)
		}
		return out
	}
	return v
}

func toStoreMap(m map[string]any) bson.M {
	out := make(bson.M, len(m))
	for k, v := range m {
		if k == publicID || k == storeID {
			out[storeID] = toObjectID(v)
			continue
		}
		out[k] = ToStore(v)
	}
	return out
}

// idString stringifies an identifier returned by the store.
func idString(v any) string {
	switch val := v.(type) {
	case bson.ObjectID:
		return val.Hex()
	case string:
		return val
	case nil:
		return ""
	}
	s, _ := FromStore(v).(string)
	if s != "" {
		return s
	}
	return toString(v)
}
