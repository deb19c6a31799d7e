package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/dosco/docjin/core"
	"github.com/dosco/docjin/memdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestParseCondition(t *testing.T) {
	tests := []struct {
		name  string
		input string
		field string
		args  []any
	}{
		{
			name:  "equality",
			input: "name foo",
			field: "name",
			args:  []any{"foo"},
		},
		{
			name:  "operator with number",
			input: "age >= 21",
			field: "age",
			args:  []any{">=", 21},
		},
		{
			name:  "list value",
			input: "num between [10, 15]",
			field: "num",
			args:  []any{"between", []any{10, 15}},
		},
		{
			name:  "two word operator",
			input: "name not like ^ba",
			field: "name",
			args:  []any{"notLike", "^ba"},
		},
		{
			name:  "operator without value",
			input: "name notNull",
			field: "name",
			args:  []any{"notNull", nil},
		},
		{
			name:  "boolean",
			input: "active true",
			field: "active",
			args:  []any{true},
		},
		{
			name:  "value with spaces",
			input: "title = hello world",
			field: "title",
			args:  []any{"=", "hello world"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			field, args, err := parseCondition(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.field, field)
			assert.Equal(t, tt.args, args)
		})
	}

	_, _, err := parseCondition("name")
	assert.Error(t, err)
}

func newTestDocJin(t *testing.T) (*core.DocJin, *core.Model, *core.Model) {
	t.Helper()

	dj, err := core.NewDocJin(&core.Config{}, core.ConnectionMap{core.DefaultConnectionName: memdb.NewDB()})
	require.NoError(t, err)

	users, bills := demoModels()
	require.NoError(t, dj.Register(users, bills))
	return dj, users, bills
}

func TestBuildQuery(t *testing.T) {
	dj, users, bills := newTestDocJin(t)
	ctx := context.Background()

	_, _, err := seedDemo(ctx, dj, users, bills, 0, nil)
	require.NoError(t, err)

	q, err := buildQuery(dj, queryFlags{
		model:   "User",
		where:   []string{"num between [10, 15]"},
		orderBy: []string{"num:desc"},
		fields:  []string{"num"},
	})
	require.NoError(t, err)

	docs, err := q.Get(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.EqualValues(t, 15, docs[0]["num"])
	assert.EqualValues(t, 12, docs[1]["num"])
	assert.EqualValues(t, 10, docs[2]["num"])

	t.Run("count output", func(t *testing.T) {
		q, err := buildQuery(dj, queryFlags{collection: "users", where: []string{"name bar"}})
		require.NoError(t, err)

		var buf bytes.Buffer
		require.NoError(t, runQuery(ctx, &buf, q, queryFlags{count: true, format: "json"}))
		assert.Equal(t, "3\n", buf.String())
	})

	t.Run("unknown model", func(t *testing.T) {
		_, err := buildQuery(dj, queryFlags{model: "Nope"})
		assert.ErrorContains(t, err, "unknown model")
	})

	t.Run("missing target", func(t *testing.T) {
		_, err := buildQuery(dj, queryFlags{})
		assert.Error(t, err)
	})

	t.Run("invalid builder call", func(t *testing.T) {
		_, err := buildQuery(dj, queryFlags{collection: "users", orderBy: []string{"num:sideways"}})
		assert.ErrorContains(t, err, "invalid query")
	})
}

func TestWritePipeline(t *testing.T) {
	stages := []bson.D{
		{{Key: "$match", Value: bson.M{"num": bson.M{"$gt": 10}}}},
		{{Key: "$sort", Value: bson.D{{Key: "num", Value: -1}, {Key: "name", Value: 1}}}},
	}

	var buf bytes.Buffer
	require.NoError(t, writePipeline(&buf, stages, "yaml"))
	assert.Equal(t, `- $match:
    num:
      $gt: 10
- $sort:
    num: -1
    name: 1
`, buf.String())

	buf.Reset()
	require.NoError(t, writePipeline(&buf, stages, "json"))
	assert.Equal(t, `{"$match":{"num":{"$gt":10}}}
{"$sort":{"num":-1,"name":1}}
`, buf.String())

	assert.Error(t, writePipeline(&buf, stages, "xml"))
}

func TestFormatIndex(t *testing.T) {
	idx := core.IndexOn("style", "-num")
	idx.Name = "style_1_num_-1"
	idx.Unique = true
	assert.Equal(t, "style_1_num_-1 (style asc, num desc) unique", formatIndex(idx))
}
