package mongodriver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dosco/docjin/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "command error",
			err:  mongo.CommandError{Code: 27, Message: "index not found"},
			want: 27,
		},
		{
			name: "write exception",
			err:  mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000}}},
			want: 11000,
		},
		{
			name: "bulk write exception",
			err:  mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{{WriteError: mongo.WriteError{Code: 11000}}}},
			want: 11000,
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorCode(tt.err))

			var se *core.StoreError
			require.ErrorAs(t, storeError("op", tt.err), &se)
			assert.Equal(t, tt.want, se.Code)
			assert.Equal(t, "op", se.Op)
		})
	}

	assert.NoError(t, storeError("op", nil))
}

func TestDialValidation(t *testing.T) {
	_, err := Dial(context.Background(), core.ConnectionConfig{Driver: "mongodb"})
	assert.Error(t, err)

	_, err = Dial(context.Background(), core.ConnectionConfig{Driver: "mongodb", URI: "mongodb://localhost:27017"})
	assert.Error(t, err)
}

// startMongo runs a throwaway server. The test is skipped when docker is not
// available.
func startMongo(t *testing.T) *Conn {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping MongoDB integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := mongodb.Run(ctx, "mongo:7")
	if err != nil {
		t.Skipf("Skipping MongoDB integration test: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	conn, err := Dial(ctx, core.ConnectionConfig{Driver: "mongodb", URI: connStr, Database: "docjin_test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(context.Background()) })
	return conn
}

func TestWithMongoDB(t *testing.T) {
	conn := startMongo(t)
	ctx := context.Background()

	dj, err := core.NewDocJin(&core.Config{}, core.ConnectionMap{core.DefaultConnectionName: conn})
	require.NoError(t, err)

	users := core.NewModel("User", core.SetIndexes(core.Index{
		Name:   "email_unique",
		Keys:   bson.D{{Key: "email", Value: 1}},
		Unique: true,
	}))
	bills := core.NewModel("Bill")
	users.HasMany("bills", bills)
	require.NoError(t, dj.Register(users, bills))
	require.NoError(t, dj.SyncIndexes(ctx))

	n, err := dj.Model(users).Insert(ctx,
		core.Document{"name": "Alice", "age": 30, "email": "alice@example.com"},
		core.Document{"name": "Bob", "age": 25, "email": "bob@example.com"},
		core.Document{"name": "Charlie", "age": 35, "email": "charlie@example.com"},
	)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	t.Run("aggregate query", func(t *testing.T) {
		docs, err := dj.Model(users).Where("age", ">", 25).OrderBy("name").Get(ctx)
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "Alice", docs[0]["name"])
		assert.Equal(t, "Charlie", docs[1]["name"])
		assert.IsType(t, "", docs[0]["id"])
	})

	t.Run("find by id", func(t *testing.T) {
		alice, err := dj.Model(users).Where("name", "Alice").First(ctx)
		require.NoError(t, err)

		doc, err := dj.Model(users).Find(ctx, alice["id"].(string))
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", doc["email"])
	})

	t.Run("join with ancestor reference", func(t *testing.T) {
		alice, err := dj.Model(users).Where("name", "Alice").First(ctx)
		require.NoError(t, err)

		_, err = dj.Model(bills).Insert(ctx,
			core.Document{"user_id": alice["id"], "amount": 10},
			core.Document{"user_id": alice["id"], "amount": 20},
		)
		require.NoError(t, err)

		docs, err := dj.Model(users).Where("name", "Alice").With("bills").Get(ctx)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Len(t, docs[0]["bills"], 2)

		sum, err := dj.Model(bills).Sum(ctx, "amount")
		require.NoError(t, err)
		assert.Equal(t, float64(30), sum)
	})

	t.Run("duplicate key", func(t *testing.T) {
		_, err := dj.Model(users).Insert(ctx, core.Document{"name": "Alice 2", "email": "alice@example.com"})

		var se *core.StoreError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, 11000, se.Code)
	})

	t.Run("indexes", func(t *testing.T) {
		list, err := dj.Model(users).Indexes(ctx)
		require.NoError(t, err)

		names := make([]string, len(list))
		for i, idx := range list {
			names[i] = idx.Name
		}
		assert.Contains(t, names, "email_unique")

		err = dj.Model(users).DropIndex(ctx, "missing")
		var se *core.StoreError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, 27, se.Code)
	})

	t.Run("update and delete", func(t *testing.T) {
		n, err := dj.Model(users).Where("age", ">=", 30).Limit(1).Update(ctx, core.Document{"senior": true})
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		n, err = dj.Model(users).Where("senior", true).Delete(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		count, err := dj.Model(users).Count(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, count)
	})
}
