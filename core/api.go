// Package core provides an active record style document mapper over
// MongoDB aggregation pipelines.
//
// Queries are built by chaining filter and stage methods on a Query; the
// store is only contacted by terminal operations. Models add schemas,
// accessors and relations (has-one, has-many, embed-many and the
// polymorphic morph-one, morph-many and morph-to) that are loaded with
// $lookup stages.
package core

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DocJin holds the connections, registered models and shared caches. It is
// safe for concurrent use; the queries it creates are not.
type DocJin struct {
	conf   *Config
	conns  Connections
	log    *zap.Logger
	tracer trace.Tracer
	cache  Cache

	mu     sync.RWMutex
	models map[string]*Model
}

type Option func(*DocJin) error

// NewDocJin creates the engine over the given connections. Models declared
// in conf are built and registered.
func NewDocJin(conf *Config, conns Connections, options ...Option) (*DocJin, error) {
	if conf == nil {
		conf = &Config{}
	}
	if err := conf.Validate(); err != nil {
		return nil, configErrorf(err, "invalid config")
	}
	if conns == nil {
		return nil, configErrorf(ErrNoConnection, "no connections")
	}

	dj := &DocJin{
		conf:   conf,
		conns:  conns,
		log:    zap.NewNop(),
		tracer: defaultTracer(),
		models: map[string]*Model{},
	}
	if err := dj.initCache(); err != nil {
		return nil, err
	}

	for _, op := range options {
		if err := op(dj); err != nil {
			return nil, err
		}
	}

	if len(conf.Models) != 0 {
		models, err := ModelsFromConfig(conf.Models)
		if err != nil {
			return nil, err
		}
		if err := dj.Register(models...); err != nil {
			return nil, err
		}
	}
	return dj, nil
}

// OptionSetLogger sets the logger used for query logging
func OptionSetLogger(log *zap.Logger) Option {
	return func(dj *DocJin) error {
		if log == nil {
			return errors.New("nil logger")
		}
		dj.log = log
		return nil
	}
}

// OptionSetTracer sets the tracer used for query spans
func OptionSetTracer(t trace.Tracer) Option {
	return func(dj *DocJin) error {
		dj.tracer = t
		return nil
	}
}

// OptionSetModels registers models at startup
func OptionSetModels(models ...*Model) Option {
	return func(dj *DocJin) error {
		return dj.Register(models...)
	}
}

// Register adds models to the registry used by morph-to relations and
// SyncIndexes. Registering the same model twice is a no-op.
func (dj *DocJin) Register(models ...*Model) error {
	dj.mu.Lock()
	defer dj.mu.Unlock()

	for _, m := range models {
		if m == nil {
			return configErrorf(ErrNoModel, "nil model")
		}
		if err := m.Err(); err != nil {
			return err
		}
		if prev, ok := dj.models[m.Name]; ok && prev != m {
			return configErrorf(nil, "duplicate model: %s", m.Name)
		}
		dj.models[m.Name] = m
	}
	return nil
}

// LookupModel returns a registered model by name.
func (dj *DocJin) LookupModel(name string) (*Model, bool) {
	dj.mu.RLock()
	defer dj.mu.RUnlock()
	m, ok := dj.models[name]
	return m, ok
}

// Models returns the registered models sorted by name.
func (dj *DocJin) Models() []*Model {
	dj.mu.RLock()
	defer dj.mu.RUnlock()

	out := make([]*Model, 0, len(dj.models))
	for _, m := range dj.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Collection starts a query on a collection of the default connection.
func (dj *DocJin) Collection(name string) *Query {
	return dj.newQuery(dj.conf.defaultConnection(), name, nil)
}

// Model starts a query bound to m.
func (dj *DocJin) Model(m *Model) *Query {
	conn := m.connection
	if conn == "" {
		conn = dj.conf.defaultConnection()
	}
	q := dj.newQuery(conn, m.Collection(), m)
	if err := m.Err(); err != nil {
		q.pipe.fail(err)
	}
	return q
}

// SyncIndexes creates the declared indexes of every registered model.
func (dj *DocJin) SyncIndexes(ctx context.Context) error {
	g, c := errgroup.WithContext(ctx)

	for _, m := range dj.Models() {
		for _, idx := range m.indexes {
			m, idx := m, idx
			g.Go(func() error {
				name, err := dj.Model(m).CreateIndex(c, idx)
				if err != nil {
					return err
				}
				dj.log.Info("index synced",
					zap.String("model", m.Name),
					zap.String("index", name))
				return nil
			})
		}
	}
	return g.Wait()
}

// Close releases every connection.
func (dj *DocJin) Close(ctx context.Context) error {
	return dj.conns.Close(ctx)
}
