package memdb

import (
	"context"
	"errors"
	"testing"

	"github.com/dosco/docjin/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

var oid = bson.NewObjectID()

func sample() bson.M {
	return normalize(bson.M{
		"name":  "foo",
		"num":   10,
		"tags":  bson.A{"a", "b"},
		"owner": bson.M{"_id": oid, "name": "x"},
		"nil":   nil,
	}).(bson.M)
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name   string
		filter bson.M
		exp    bool
	}{
		{"eq", bson.M{"name": "foo"}, true},
		{"eq miss", bson.M{"name": "bar"}, false},
		{"array contains", bson.M{"tags": "a"}, true},
		{"whole array", bson.M{"tags": bson.A{"a", "b"}}, true},
		{"size", bson.M{"tags": bson.M{"$size": 2}}, true},
		{"null matches missing", bson.M{"missing": nil}, true},
		{"null matches null", bson.M{"nil": bson.M{"$eq": nil}}, true},
		{"ne null", bson.M{"nil": bson.M{"$ne": nil}}, false},
		{"exists false", bson.M{"missing": bson.M{"$exists": false}}, true},
		{"exists on null", bson.M{"nil": bson.M{"$exists": true}}, true},
		{"range", bson.M{"num": bson.M{"$gt": 5, "$lt": 20}}, true},
		{"range is type bracketed", bson.M{"num": bson.M{"$gt": "5"}}, false},
		{"float against int", bson.M{"num": bson.M{"$lte": 10.0}}, true},
		{"regex options", bson.M{"name": bson.M{"$regex": "^F", "$options": "i"}}, true},
		{"not regex", bson.M{"name": bson.M{"$not": bson.M{"$regex": "^f"}}}, false},
		{"in with regex", bson.M{"name": bson.M{"$in": bson.A{"bar", bson.Regex{Pattern: "^fo"}}}}, true},
		{"nin", bson.M{"name": bson.M{"$nin": bson.A{"bar"}}}, true},
		{"dotted path", bson.M{"owner.name": "x"}, true},
		{"object id", bson.M{"owner._id": oid}, true},
		{"or", bson.M{"$or": bson.A{bson.M{"num": 1}, bson.M{"name": "foo"}}}, true},
		{"and", bson.M{"$and": bson.A{bson.M{"num": 10}, bson.M{"name": "bar"}}}, false},
		{"nor", bson.M{"$nor": bson.A{bson.M{"name": "foo"}}}, false},
		{"expr", bson.M{"$expr": bson.M{"$gt": bson.A{"$num", 5}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := match(tt.filter, scope{doc: sample()})
			require.NoError(t, err)
			assert.Equal(t, tt.exp, ok)
		})
	}
}

func TestMatchErrors(t *testing.T) {
	for _, f := range []bson.M{
		{"$where": "x"},
		{"num": bson.M{"$foo": 1}},
		{"$and": bson.A{}},
		{"num": bson.M{"$in": 1}},
	} {
		_, err := match(f, scope{doc: sample()})
		assert.Error(t, err, "%v", f)
	}
}

func TestEval(t *testing.T) {
	tests := []struct {
		name string
		expr any
		exp  any
	}{
		{"path", "$num", int64(10)},
		{"dotted path", "$owner.name", "x"},
		{"missing path", "$nope", missing{}},
		{"literal", bson.M{"$literal": "$num"}, "$num"},
		{"to string", bson.M{"$toString": "$owner._id"}, oid.Hex()},
		{"if null", bson.M{"$ifNull": bson.A{"$nope", "d"}}, "d"},
		{"size", bson.M{"$size": "$tags"}, int64(2)},
		{"in", bson.M{"$in": bson.A{"a", "$tags"}}, true},
		{"last element", bson.M{"$arrayElemAt": bson.A{"$tags", -1}}, "b"},
		{"out of range", bson.M{"$arrayElemAt": bson.A{"$tags", 5}}, missing{}},
		{"concat", bson.M{"$concatArrays": bson.A{"$tags", bson.A{"c"}}}, bson.A{"a", "b", "c"}},
		{"map", bson.M{"$map": bson.M{
			"input": "$tags",
			"as":    "t",
			"in":    bson.M{"$concatArrays": bson.A{bson.A{"$$t"}, bson.A{"$name"}}},
		}}, bson.A{bson.A{"a", "foo"}, bson.A{"b", "foo"}}},
		{"cond", bson.M{"$cond": bson.A{bson.M{"$gt": bson.A{"$num", 5}}, "big", "small"}}, "big"},
		{"add ints", bson.M{"$add": bson.A{"$num", 5}}, int64(15)},
		{"add floats", bson.M{"$add": bson.A{"$num", 0.5}}, 10.5},
		{"regex match", bson.M{"$regexMatch": bson.M{"input": "$name", "regex": "^F", "options": "i"}}, true},
		{"and", bson.M{"$and": bson.A{true, "$num"}}, true},
		{"not", bson.M{"$not": bson.A{"$nil"}}, true},
		{"type", bson.M{"$type": "$tags"}, "array"},
		{"nested document", bson.M{"a": "$name", "b": "$nope"}, bson.M{"a": "foo"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := eval(tt.expr, scope{doc: sample()})
			require.NoError(t, err)
			assert.Equal(t, tt.exp, v)
		})
	}

	_, err := eval("$$nope", scope{doc: sample()})
	assert.ErrorContains(t, err, "undefined variable")

	_, err = eval(bson.M{"$bogus": 1}, scope{doc: sample()})
	assert.ErrorContains(t, err, "unrecognized expression")

	v, err := eval("$$key.name", scope{doc: sample()}.with("key", bson.M{"name": "k"}))
	require.NoError(t, err)
	assert.Equal(t, "k", v)
}

func TestCompareOrdersByType(t *testing.T) {
	ordered := []any{nil, int64(-1), 2.5, int64(3), "a", "b", bson.M{"a": int64(1)}, bson.A{int64(1)}, oid, false, true}
	for i := 1; i < len(ordered); i++ {
		assert.Equal(t, -1, compare(ordered[i-1], ordered[i]), "%v < %v", ordered[i-1], ordered[i])
		assert.Equal(t, 1, compare(ordered[i], ordered[i-1]))
	}
	assert.True(t, equal(missing{}, nil))
	assert.True(t, equal(int64(2), 2.0))
}

func newUsers(t *testing.T) (*DB, *Collection) {
	t.Helper()
	db := NewDB()
	c := db.Collection("users").(*Collection)

	ids, err := c.InsertMany(context.Background(), []bson.M{
		{"name": "foo", "style": "async", "num": 10, "tags": bson.A{"a"}},
		{"name": "bar", "style": "callback", "num": 15},
		{"name": "bar", "style": "async", "num": 12, "tags": bson.A{"a", "b"}},
		{"name": nil, "style": "async", "num": 5},
	})
	require.NoError(t, err)
	require.Len(t, ids, 4)
	return db, c
}

func TestAggregateStages(t *testing.T) {
	ctx := context.Background()
	_, c := newUsers(t)

	run := func(stages ...bson.D) []bson.M {
		t.Helper()
		out, err := c.Aggregate(ctx, stages)
		require.NoError(t, err)
		return out
	}
	names := func(docs []bson.M) []any {
		out := make([]any, len(docs))
		for i, d := range docs {
			out[i] = d["name"]
		}
		return out
	}

	t.Run("sort is stable", func(t *testing.T) {
		docs := run(bson.D{{Key: "$sort", Value: bson.D{{Key: "style", Value: 1}, {Key: "num", Value: -1}}}})
		assert.Equal(t, []any{int64(12), int64(10), int64(5), int64(15)}, pluck(docs, "num"))

		docs = run(bson.D{{Key: "$sort", Value: bson.D{{Key: "name", Value: 1}}}})
		assert.Equal(t, []any{nil, "bar", "bar", "foo"}, names(docs))
	})

	t.Run("skip and limit", func(t *testing.T) {
		docs := run(
			bson.D{{Key: "$skip", Value: int64(1)}},
			bson.D{{Key: "$limit", Value: int64(2)}},
		)
		assert.Equal(t, []any{"bar", "bar"}, names(docs))
		assert.Empty(t, run(bson.D{{Key: "$skip", Value: 10}}))
	})

	t.Run("project", func(t *testing.T) {
		docs := run(bson.D{{Key: "$project", Value: bson.M{"name": 1, "_id": 0}}})
		assert.Equal(t, bson.M{"name": "foo"}, docs[0])

		docs = run(bson.D{{Key: "$project", Value: bson.M{"tags": 0, "_id": 0, "style": 0}}})
		assert.Equal(t, bson.M{"name": "foo", "num": int64(10)}, docs[0])

		docs = run(bson.D{{Key: "$project", Value: bson.M{
			"_id":  0,
			"next": bson.M{"$add": bson.A{"$num", 1}},
			"gone": "$nope",
		}}})
		assert.Equal(t, bson.M{"next": int64(11)}, docs[0])
	})

	t.Run("add fields and unset", func(t *testing.T) {
		docs := run(
			bson.D{{Key: "$addFields", Value: bson.M{"n": bson.M{"$size": bson.M{"$ifNull": bson.A{"$tags", bson.A{}}}}}}},
			bson.D{{Key: "$unset", Value: bson.A{"_id", "tags", "style", "num"}}},
		)
		assert.Equal(t, bson.M{"name": "foo", "n": int64(1)}, docs[0])
		assert.Equal(t, bson.M{"name": "bar", "n": int64(0)}, docs[1])
	})

	t.Run("unwind", func(t *testing.T) {
		docs := run(bson.D{{Key: "$unwind", Value: "$tags"}})
		assert.Equal(t, []any{"a", "a", "b"}, pluck(docs, "tags"))

		docs = run(bson.D{{Key: "$unwind", Value: bson.D{
			{Key: "path", Value: "$tags"},
			{Key: "preserveNullAndEmptyArrays", Value: true},
		}}})
		assert.Len(t, docs, 5)
	})

	t.Run("group", func(t *testing.T) {
		docs := run(bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$style"},
			{Key: "total", Value: bson.M{"$sum": "$num"}},
			{Key: "avg", Value: bson.M{"$avg": "$num"}},
			{Key: "top", Value: bson.M{"$max": "$num"}},
			{Key: "names", Value: bson.M{"$addToSet": "$name"}},
			{Key: "n", Value: bson.M{"$count": bson.M{}}},
		}}})
		require.Len(t, docs, 2)
		assert.Equal(t, bson.M{
			"_id":   "async",
			"total": int64(27),
			"avg":   9.0,
			"top":   int64(12),
			"names": bson.A{"foo", "bar", nil},
			"n":     int64(3),
		}, docs[0])
		assert.Equal(t, "callback", docs[1]["_id"])

		docs = run(
			bson.D{{Key: "$match", Value: bson.M{"num": bson.M{"$gt": 100}}}},
			bson.D{{Key: "$group", Value: bson.D{{Key: "_id", Value: nil}, {Key: "v", Value: bson.M{"$max": "$num"}}}}},
		)
		assert.Empty(t, docs)
	})

	t.Run("count", func(t *testing.T) {
		docs := run(
			bson.D{{Key: "$match", Value: bson.M{"style": "async"}}},
			bson.D{{Key: "$count", Value: "count"}},
		)
		assert.Equal(t, []bson.M{{"count": int64(3)}}, docs)
	})

	t.Run("errors", func(t *testing.T) {
		for _, st := range []bson.D{
			{{Key: "$bogus", Value: 1}},
			{{Key: "$limit", Value: 0}},
			{{Key: "$sort", Value: bson.D{{Key: "a", Value: 2}}}},
			{{Key: "$project", Value: bson.M{"a": 1, "b": 0}}},
			{{Key: "$unwind", Value: "tags"}},
			{{Key: "$group", Value: bson.M{"total": bson.M{"$sum": 1}}}},
		} {
			_, err := c.Aggregate(ctx, []bson.D{st})
			var se *core.StoreError
			assert.ErrorAs(t, err, &se, "%v", st)
		}
	})
}

func pluck(docs []bson.M, field string) []any {
	out := make([]any, len(docs))
	for i, d := range docs {
		out[i] = d[field]
	}
	return out
}

func TestLookup(t *testing.T) {
	ctx := context.Background()
	db, users := newUsers(t)
	bills := db.Collection("bills")

	_, err := bills.InsertMany(ctx, []bson.M{
		{"for_name": "foo", "amount": 100},
		{"for_name": "bar", "amount": 40},
		{"for_name": "bar", "amount": 60},
	})
	require.NoError(t, err)

	docs, err := users.Aggregate(ctx, []bson.D{{{Key: "$lookup", Value: bson.D{
		{Key: "from", Value: "bills"},
		{Key: "localField", Value: "name"},
		{Key: "foreignField", Value: "for_name"},
		{Key: "as", Value: "bills"},
	}}}})
	require.NoError(t, err)
	counts := make([]int, len(docs))
	for i, d := range docs {
		counts[i] = len(d["bills"].(bson.A))
	}
	assert.Equal(t, []int{1, 2, 2, 0}, counts)

	docs, err = users.Aggregate(ctx, []bson.D{{{Key: "$lookup", Value: bson.D{
		{Key: "from", Value: "bills"},
		{Key: "let", Value: bson.M{"who": "$name"}},
		{Key: "pipeline", Value: bson.A{
			bson.D{{Key: "$match", Value: bson.M{"$expr": bson.M{"$eq": bson.A{"$for_name", "$$who"}}}}},
			bson.D{{Key: "$sort", Value: bson.D{{Key: "amount", Value: -1}}}},
			bson.D{{Key: "$project", Value: bson.M{"_id": 0, "amount": 1}}},
		}},
		{Key: "as", Value: "bills"},
	}}}})
	require.NoError(t, err)
	assert.Equal(t, bson.A{bson.M{"amount": int64(60)}, bson.M{"amount": int64(40)}}, docs[1]["bills"])
	assert.Equal(t, bson.A{}, docs[3]["bills"])

	// the stored documents are untouched
	raw, err := users.Aggregate(ctx, nil)
	require.NoError(t, err)
	assert.NotContains(t, raw[0], "bills")
}

func TestApplyUpdate(t *testing.T) {
	upd := func(m bson.M) bson.M { return normalize(m).(bson.M) }

	doc := normalize(bson.M{"n": 1, "tags": bson.A{"a"}, "sub": bson.M{"x": 1}}).(bson.M)

	require.NoError(t, applyUpdate(doc, upd(bson.M{
		"$inc":   bson.M{"n": 2, "f": 1.5},
		"$set":   bson.M{"sub.y": "z"},
		"$unset": bson.M{"sub.x": ""},
	})))
	assert.Equal(t, int64(3), doc["n"])
	assert.Equal(t, 1.5, doc["f"])
	assert.Equal(t, bson.M{"y": "z"}, doc["sub"])

	require.NoError(t, applyUpdate(doc, upd(bson.M{"$addToSet": bson.M{"tags": bson.M{"$each": bson.A{"a", "b"}}}})))
	assert.Equal(t, bson.A{"a", "b"}, doc["tags"])

	require.NoError(t, applyUpdate(doc, upd(bson.M{"$push": bson.M{"tags": "a"}})))
	assert.Equal(t, bson.A{"a", "b", "a"}, doc["tags"])

	require.NoError(t, applyUpdate(doc, upd(bson.M{"$pull": bson.M{"tags": bson.M{"$in": bson.A{"a"}}}})))
	assert.Equal(t, bson.A{"b"}, doc["tags"])

	require.NoError(t, applyUpdate(doc, upd(bson.M{"$addToSet": bson.M{"new": "x"}})))
	assert.Equal(t, bson.A{"x"}, doc["new"])

	for _, u := range []bson.M{
		{},
		{"$inc": bson.M{"n": "x"}},
		{"$inc": bson.M{"sub": 1}},
		{"$rename": bson.M{"n": "m"}},
		{"$addToSet": bson.M{"n": 1}},
		{"$unset": bson.M{"_id": ""}},
		{"name": "replacement"},
	} {
		assert.Error(t, applyUpdate(copyDoc(doc), upd(u)), "%v", u)
	}
}

func TestWrites(t *testing.T) {
	ctx := context.Background()
	_, c := newUsers(t)

	n, err := c.UpdateMany(ctx, bson.M{"name": "bar"}, bson.M{"$set": bson.M{"vip": true}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	// unchanged documents are not counted
	n, err = c.UpdateMany(ctx, bson.M{"name": "bar"}, bson.M{"$set": bson.M{"vip": true}})
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = c.UpdateMany(ctx, bson.M{"num": bson.M{"$lt": 11}}, bson.M{"$inc": bson.M{"num": 1}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = c.DeleteMany(ctx, bson.M{"style": "async"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	docs, err := c.Aggregate(ctx, nil)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, true, docs[0]["vip"])

	// writes to unknown collections are no-ops
	n, err = NewDB().Collection("none").(*Collection).DeleteMany(ctx, bson.M{})
	require.NoError(t, err)
	assert.Zero(t, n)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = c.InsertOne(cancelled, bson.M{"a": 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInsertCopies(t *testing.T) {
	ctx := context.Background()
	c := NewDB().Collection("things")

	doc := bson.M{"list": bson.A{1}}
	id, err := c.InsertOne(ctx, doc)
	require.NoError(t, err)
	assert.IsType(t, bson.ObjectID{}, id)
	assert.NotContains(t, doc, "_id")

	doc["list"].(bson.A)[0] = 2
	docs, err := c.Aggregate(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, bson.A{int64(1)}, docs[0]["list"])

	_, err = c.InsertOne(ctx, bson.M{"_id": id})
	var se *core.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, CodeDuplicateKey, se.Code)
}

func TestIndexes(t *testing.T) {
	ctx := context.Background()
	_, c := newUsers(t)

	code := func(err error) int {
		var se *core.StoreError
		if errors.As(err, &se) {
			return se.Code
		}
		return 0
	}

	unique := core.IndexOn("name")
	unique.Unique = true
	_, err := c.CreateIndex(ctx, unique)
	assert.Equal(t, CodeDuplicateKey, code(err))

	byNum := core.IndexOn("style", "-num")
	name, err := c.CreateIndex(ctx, byNum)
	require.NoError(t, err)
	assert.Equal(t, "style_1_num_-1", name)

	name, err = c.CreateIndex(ctx, byNum)
	require.NoError(t, err)
	assert.Equal(t, "style_1_num_-1", name)

	byNum.Unique = true
	_, err = c.CreateIndex(ctx, byNum)
	assert.Equal(t, CodeIndexOptionsConflict, code(err))

	_, err = c.CreateIndex(ctx, core.Index{})
	assert.Equal(t, CodeInvalidOptions, code(err))

	email := core.IndexOn("email")
	email.Unique, email.Sparse = true, true
	_, err = c.CreateIndex(ctx, email)
	require.NoError(t, err)

	_, err = c.InsertMany(ctx, []bson.M{{"email": "a@b.co"}, {"name": "no email"}})
	require.NoError(t, err)
	ids, err := c.InsertMany(ctx, []bson.M{{"email": "c@d.co"}, {"email": "a@b.co"}})
	assert.Equal(t, CodeDuplicateKey, code(err))
	assert.Len(t, ids, 1)

	_, err = c.UpdateMany(ctx, bson.M{"email": "c@d.co"}, bson.M{"$set": bson.M{"email": "a@b.co"}})
	assert.Equal(t, CodeDuplicateKey, code(err))

	list, err := c.ListIndexes(ctx)
	require.NoError(t, err)
	got := make([]string, len(list))
	for i, idx := range list {
		got[i] = idx.Name
	}
	assert.Equal(t, []string{"_id_", "style_1_num_-1", "email_1"}, got)

	assert.Equal(t, CodeInvalidOptions, code(c.DropIndex(ctx, "_id_")))
	assert.Equal(t, CodeIndexNotFound, code(c.DropIndex(ctx, "nope")))
	require.NoError(t, c.DropIndex(ctx, "email_1"))

	_, err = c.InsertOne(ctx, bson.M{"email": "a@b.co"})
	assert.NoError(t, err)
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := New()

	a, err := s.Connection("main")
	require.NoError(t, err)
	b, err := s.Connection("main")
	require.NoError(t, err)
	assert.Same(t, a, b)

	other, err := s.Connection("other")
	require.NoError(t, err)
	assert.NotSame(t, a, other)

	require.NoError(t, s.Close(ctx))
	_, err = s.Connection("main")
	assert.ErrorIs(t, err, ErrClosed)
}
