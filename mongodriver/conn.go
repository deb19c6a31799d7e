// Package mongodriver is the MongoDB backing store for core queries. It
// wraps go.mongodb.org/mongo-driver/v2 collections behind core.Collection.
package mongodriver

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/dosco/docjin/core"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// Conn is one established connection: a client and the database queries
// run against.
type Conn struct {
	db     *mongo.Database
	client *mongo.Client
}

// NewConn wraps an existing client. The caller keeps ownership of the
// client; Close disconnects it.
func NewConn(client *mongo.Client, database string) *Conn {
	return &Conn{db: client.Database(database), client: client}
}

// Dial connects to the configured server and pings it, retrying with
// backoff.
func Dial(ctx context.Context, cc core.ConnectionConfig) (*Conn, error) {
	if cc.URI == "" {
		return nil, fmt.Errorf("mongodriver: connection uri is required")
	}
	if cc.Database == "" {
		return nil, fmt.Errorf("mongodriver: database name is required")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cc.URI))
	if err != nil {
		return nil, fmt.Errorf("mongodriver: connect: %w", err)
	}

	c := NewConn(client, cc.Database)
	if err := c.Ping(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return c, nil
}

// Open dials every mongodb connection in conf.
func Open(ctx context.Context, conf *core.Config) (core.ConnectionMap, error) {
	names := make([]string, 0, len(conf.Connections))
	for name, cc := range conf.Connections {
		if strings.EqualFold(cc.Driver, "mongodb") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	conns := make(core.ConnectionMap, len(names))
	for _, name := range names {
		c, err := Dial(ctx, conf.Connections[name])
		if err != nil {
			_ = conns.Close(ctx)
			return nil, fmt.Errorf("connection %q: %w", name, err)
		}
		conns[name] = c
	}
	return conns, nil
}

// Ping checks the server is reachable, up to three attempts.
func (c *Conn) Ping(ctx context.Context) error {
	err := retry.Do(
		func() error { return c.client.Ping(ctx, readpref.Primary()) },
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(50*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("mongodriver: ping: %w", err)
	}
	return nil
}

// Database returns the database name.
func (c *Conn) Database() string {
	return c.db.Name()
}

func (c *Conn) Collection(name string) core.Collection {
	return &Collection{coll: c.db.Collection(name)}
}

// Collections lists the collection names of the database.
func (c *Conn) Collections(ctx context.Context) ([]string, error) {
	names, err := c.db.ListCollectionNames(ctx, map[string]any{})
	if err != nil {
		return nil, storeError("list_collections", err)
	}
	sort.Strings(names)
	return names, nil
}

// Close disconnects the client.
func (c *Conn) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}
