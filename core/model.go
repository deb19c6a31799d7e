package core

import (
	"sort"

	"github.com/gobuffalo/flect"
)

// Accessor transforms an attribute value. attrs are the raw attributes of
// the instance being read or written.
type Accessor func(value any, attrs Document) any

// Model is the static description of a collection: its schema, hidden
// fields, accessors and relations. Models are built once and shared.
type Model struct {
	Name string

	collection string
	connection string
	schema     Validator
	hidden     map[string]bool
	getters    map[string]Accessor
	setters    map[string]Accessor
	timestamps bool
	indexes    []Index
	relations  map[string]*RelationDescriptor
	order      []string
	err        error
}

type ModelOption func(*Model)

// NewModel creates a model. The collection defaults to the pluralized,
// underscored model name, so "BlogPost" maps to "blog_posts".
func NewModel(name string, opts ...ModelOption) *Model {
	m := &Model{
		Name:       name,
		collection: flect.Pluralize(flect.Underscore(name)),
		hidden:     map[string]bool{},
		getters:    map[string]Accessor{},
		setters:    map[string]Accessor{},
		relations:  map[string]*RelationDescriptor{},
	}
	if name == "" {
		m.fail(configErrorf(ErrNoModel, "model without a name"))
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func SetCollection(name string) ModelOption {
	return func(m *Model) {
		if name != "" {
			m.collection = name
		}
	}
}

// SetConnection binds the model to a named connection.
func SetConnection(name string) ModelOption {
	return func(m *Model) { m.connection = name }
}

func SetSchema(v Validator) ModelOption {
	return func(m *Model) { m.schema = v }
}

// SetHidden excludes keys from ToJSON output.
func SetHidden(keys ...string) ModelOption {
	return func(m *Model) {
		for _, k := range keys {
			m.hidden[k] = true
		}
	}
}

func SetGetter(key string, fn Accessor) ModelOption {
	return func(m *Model) { m.getters[key] = fn }
}

func SetSetter(key string, fn Accessor) ModelOption {
	return func(m *Model) { m.setters[key] = fn }
}

// SetTimestamps maintains created_at and updated_at on writes.
func SetTimestamps() ModelOption {
	return func(m *Model) { m.timestamps = true }
}

func SetIndexes(idx ...Index) ModelOption {
	return func(m *Model) { m.indexes = append(m.indexes, idx...) }
}

func (m *Model) Collection() string {
	return m.collection
}

// Connection returns the connection name, empty for the default one.
func (m *Model) Connection() string {
	return m.connection
}

func (m *Model) Indexes() []Index {
	return append([]Index(nil), m.indexes...)
}

// Relation returns a declared relation by name.
func (m *Model) Relation(name string) (*RelationDescriptor, bool) {
	d, ok := m.relations[name]
	return d, ok
}

// Relations returns relation names in declaration order.
func (m *Model) Relations() []string {
	return append([]string(nil), m.order...)
}

// Err returns the first error found while declaring the model.
func (m *Model) Err() error {
	return m.err
}

func (m *Model) fail(err error) {
	if m.err == nil {
		m.err = err
	}
}

// fields lists the keys that get eager accessors on instances.
func (m *Model) fields() []string {
	set := map[string]bool{}
	if m.schema != nil {
		for _, f := range m.schema.Fields() {
			set[f] = true
		}
	}
	for k := range m.getters {
		set[k] = true
	}
	for k := range m.setters {
		set[k] = true
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (m *Model) validate(doc Document, updating bool) (Document, error) {
	if m.schema == nil {
		return doc, nil
	}
	return m.schema.Validate(doc, updating)
}

// foreignKey is the key other collections use to reference this model,
// eg. user_id for users.
func (m *Model) foreignKey() string {
	return flect.Singularize(m.collection) + "_id"
}
