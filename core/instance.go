package core

import (
	"context"
	"encoding/json"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Instance is one document of a model. Attributes are read and written
// through the model getters and setters.
type Instance struct {
	model     *Model
	dj        *DocJin
	attrs     Document
	accessors map[string]accessor
}

type accessor struct {
	get func() any
	set func(any)
}

// New builds an unsaved instance of m from attrs, running the model setters.
func (dj *DocJin) New(m *Model, attrs Document) *Instance {
	i := newInstance(dj, m, nil)
	for k, v := range attrs {
		i.Set(k, v)
	}
	return i
}

// newInstance wraps stored attributes without running setters.
func newInstance(dj *DocJin, m *Model, attrs Document) *Instance {
	i := &Instance{model: m, dj: dj, attrs: make(Document, len(attrs))}
	for k, v := range attrs {
		i.attrs[k] = v
	}

	i.accessors = make(map[string]accessor)
	for _, f := range m.fields() {
		key := f
		i.accessors[key] = accessor{
			get: func() any {
				if fn, ok := m.getters[key]; ok {
					return fn(i.attrs[key], i.attrs)
				}
				return i.attrs[key]
			},
			set: func(v any) {
				if fn, ok := m.setters[key]; ok {
					v = fn(v, i.attrs)
				}
				i.attrs[key] = v
			},
		}
	}
	return i
}

func (i *Instance) Model() *Model {
	return i.model
}

// ID returns the identifier, empty for unsaved instances.
func (i *Instance) ID() string {
	return idString(i.attrs[publicID])
}

// Get returns an attribute through its getter.
func (i *Instance) Get(key string) any {
	if a, ok := i.accessors[key]; ok {
		return a.get()
	}
	return i.attrs[key]
}

// Set writes an attribute through its setter.
func (i *Instance) Set(key string, v any) *Instance {
	if a, ok := i.accessors[key]; ok {
		a.set(v)
		return i
	}
	i.attrs[key] = v
	return i
}

// Fill sets every attribute in attrs.
func (i *Instance) Fill(attrs Document) *Instance {
	for k, v := range attrs {
		i.Set(k, v)
	}
	return i
}

// Attributes returns a copy of the raw attributes.
func (i *Instance) Attributes() Document {
	return merge(i.attrs, nil)
}

// ToJSON returns the attributes with getters applied and hidden keys
// removed.
func (i *Instance) ToJSON() Document {
	out := make(Document, len(i.attrs))
	for k := range i.attrs {
		if !i.model.hidden[k] {
			out[k] = i.Get(k)
		}
	}
	for k := range i.accessors {
		if _, ok := out[k]; !ok && !i.model.hidden[k] {
			if _, set := i.attrs[k]; set || i.model.getters[k] != nil {
				out[k] = i.Get(k)
			}
		}
	}
	return out
}

func (i *Instance) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.ToJSON())
}

// Decode copies the attributes, getters applied, into out. Hidden keys are
// included.
func (i *Instance) Decode(out any) error {
	doc := make(Document, len(i.attrs))
	for k := range i.attrs {
		doc[k] = i.Get(k)
	}
	return decode(doc, out)
}

// Save inserts an unsaved instance or updates a stored one.
func (i *Instance) Save(ctx context.Context) error {
	q := i.dj.Model(i.model)

	attrs := i.storable()

	if i.ID() == "" {
		doc, err := q.prepare(attrs, false)
		if err != nil {
			return err
		}
		delete(doc, publicID)
		id, err := q.insertOne(ctx, doc)
		if err != nil {
			return err
		}
		doc[publicID] = id
		i.attrs = doc
		return nil
	}

	set := merge(attrs, nil)
	delete(set, publicID)
	doc, err := q.prepare(set, true)
	if err != nil {
		return err
	}
	if _, err := q.Where(publicID, i.ID()).update(ctx, "save", bson.M{"$set": toStoreMap(doc)}); err != nil {
		return err
	}
	for k, v := range doc {
		i.attrs[k] = v
	}
	return nil
}

// storable drops the fields eager loading attached for the model's
// relations.
func (i *Instance) storable() Document {
	out := make(Document, len(i.attrs))
	for k, v := range i.attrs {
		if d, ok := i.model.relations[k]; ok && d.LocalKey != k {
			continue
		}
		out[k] = v
	}
	return out
}

// Delete removes the stored document.
func (i *Instance) Delete(ctx context.Context) error {
	if i.ID() == "" {
		return configErrorf(nil, "model %s: cannot delete an unsaved instance", i.model.Name)
	}
	_, err := i.dj.Model(i.model).Where(publicID, i.ID()).Delete(ctx)
	return err
}

// Refresh reloads the attributes from the store.
func (i *Instance) Refresh(ctx context.Context) error {
	doc, err := i.dj.Model(i.model).Find(ctx, i.ID())
	if err != nil {
		return err
	}
	if doc == nil {
		return &StoreError{Op: "refresh", Err: ErrNotFound}
	}
	i.attrs = doc
	return nil
}
