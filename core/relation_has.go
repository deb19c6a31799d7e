package core

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// hasConstrain matches related documents whose foreign key equals the
// owner's local key.
func hasConstrain(j *Join, d *RelationDescriptor) {
	j.Where(d.ForeignKey, d.Model.Collection()+"."+d.LocalKey)
}

// embedConstrain matches related documents whose key is listed in the
// owner's id array.
func embedConstrain(j *Join, d *RelationDescriptor) {
	j.WhereIn(d.ForeignKey, d.Model.Collection()+"."+d.LocalKey)
}

// Relation is a query scoped to the documents related to one instance. The
// embedded Query supports every read and chain operation; the methods below
// add relation aware writes.
type Relation struct {
	*Query
	desc  *RelationDescriptor
	owner *Instance
}

// Related returns a scoped query over the named relation of the instance.
func (i *Instance) Related(name string) *Relation {
	d, ok := i.model.relations[name]
	if !ok {
		q := i.dj.Model(i.model)
		q.pipe.fail(configErrorf(ErrUnknownRelation, "%q on model %s", name, i.model.Name))
		return &Relation{Query: q, owner: i}
	}
	r := &Relation{desc: d, owner: i}
	r.Query = r.scope()
	return r
}

// Descriptor returns the relation description, nil for unknown relations.
func (r *Relation) Descriptor() *RelationDescriptor {
	return r.desc
}

// scope returns a fresh query over the related documents.
func (r *Relation) scope() *Query {
	d, attrs := r.desc, r.owner.attrs

	switch d.Type {
	case HasOne, HasMany:
		return r.owner.dj.Model(d.Related).Where(d.ForeignKey, attrs[d.LocalKey])

	case EmbedMany:
		ids, _ := asSlice(attrs[d.LocalKey])
		if ids == nil {
			ids = bson.A{}
		}
		return r.owner.dj.Model(d.Related).WhereIn(d.ForeignKey, ids)

	case MorphOne, MorphMany:
		return r.owner.dj.Model(d.Related).
			Where(d.ForeignKey, attrs[d.LocalKey]).
			Where(d.MorphType, r.owner.model.Name)

	case MorphTo:
		return morphToScope(r.owner, d)
	}

	q := r.owner.dj.Model(r.owner.model)
	q.pipe.fail(configErrorf(ErrUnknownRelation, "type %s", d.Type))
	return q
}

// keys returns the attributes a related document needs to belong to the
// owner.
func (r *Relation) keys() Document {
	d, attrs := r.desc, r.owner.attrs

	switch d.Type {
	case HasOne, HasMany:
		return Document{d.ForeignKey: idString(attrs[d.LocalKey])}
	case MorphOne, MorphMany:
		return Document{d.ForeignKey: idString(attrs[d.LocalKey]), d.MorphType: r.owner.model.Name}
	}
	return nil
}

func (r *Relation) check() error {
	if r.desc == nil {
		return r.Err()
	}
	if r.desc.Type == MorphTo {
		return configErrorf(nil, "relation %q: writes through morph-to are not supported", r.desc.Name)
	}
	if r.owner.ID() == "" {
		return configErrorf(nil, "relation %q: owner is not saved", r.desc.Name)
	}
	return nil
}

// conflict fails when a singular relation already holds a document other
// than exceptID.
func (r *Relation) conflict(ctx context.Context, exceptID string) error {
	if !r.desc.Type.singular() {
		return nil
	}
	q := r.scope()
	if exceptID != "" {
		q.Where(publicID, "<>", exceptID)
	}
	ok, err := q.Exists(ctx)
	if err != nil {
		return err
	}
	if ok {
		return &ConflictError{Msg: fmt.Sprintf("This item already has one %s", r.desc.Name)}
	}
	return nil
}

// Insert stores docs as related documents. Singular relations accept only
// one document.
func (r *Relation) Insert(ctx context.Context, docs ...Document) (int64, error) {
	if err := r.check(); err != nil {
		return 0, err
	}
	if r.desc.Type.singular() && len(docs) > 1 {
		return 0, configErrorf(nil, "%s relation %q accepts a single item, got %d", r.desc.Type, r.desc.Name, len(docs))
	}
	if err := r.conflict(ctx, ""); err != nil {
		return 0, err
	}

	if r.desc.Type == EmbedMany {
		ids := make([]string, 0, len(docs))
		for _, doc := range docs {
			id, err := r.owner.dj.Model(r.desc.Related).InsertGetID(ctx, doc)
			if err != nil {
				return int64(len(ids)), err
			}
			ids = append(ids, id)
		}
		return int64(len(ids)), r.Attach(ctx, ids...)
	}

	keyed := make([]Document, len(docs))
	for i, doc := range docs {
		keyed[i] = merge(doc, r.keys())
	}
	return r.owner.dj.Model(r.desc.Related).Insert(ctx, keyed...)
}

// Create builds and saves a related instance.
func (r *Relation) Create(ctx context.Context, attrs Document) (*Instance, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	if err := r.conflict(ctx, ""); err != nil {
		return nil, err
	}
	inst, err := r.owner.dj.Model(r.desc.Related).Create(ctx, merge(attrs, r.keys()))
	if err != nil {
		return nil, err
	}
	if r.desc.Type == EmbedMany {
		return inst, r.Attach(ctx, inst.ID())
	}
	return inst, nil
}

// Save associates inst with the owner and saves it.
func (r *Relation) Save(ctx context.Context, inst *Instance) (*Instance, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	if err := r.conflict(ctx, inst.ID()); err != nil {
		return nil, err
	}
	for k, v := range r.keys() {
		inst.attrs[k] = v
	}
	if err := inst.Save(ctx); err != nil {
		return nil, err
	}
	if r.desc.Type == EmbedMany {
		return inst, r.Attach(ctx, inst.ID())
	}
	return inst, nil
}

// Attach adds ids to the owner's embedded id list. Only embed-many
// relations support it.
func (r *Relation) Attach(ctx context.Context, ids ...string) error {
	return r.embedded(ctx, ids, true)
}

// Detach removes ids from the owner's embedded id list.
func (r *Relation) Detach(ctx context.Context, ids ...string) error {
	return r.embedded(ctx, ids, false)
}

func (r *Relation) embedded(ctx context.Context, ids []string, attach bool) error {
	if err := r.check(); err != nil {
		return err
	}
	if r.desc.Type != EmbedMany {
		return configErrorf(nil, "relation %q: attach and detach need an embed-many relation", r.desc.Name)
	}
	if len(ids) == 0 {
		return nil
	}

	values := make(bson.A, len(ids))
	for i, id := range ids {
		values[i] = id
	}
	q := r.owner.dj.Model(r.owner.model).Where(publicID, r.owner.ID())

	var err error
	if attach {
		_, err = q.addToSet(ctx, r.desc.LocalKey, values)
	} else {
		_, err = q.pull(ctx, r.desc.LocalKey, values)
	}
	if err != nil {
		return err
	}

	current, _ := asSlice(r.owner.attrs[r.desc.LocalKey])
	r.owner.attrs[r.desc.LocalKey] = mergeIDs(current, ids, attach)
	r.Query = r.scope()
	return nil
}

func mergeIDs(current bson.A, ids []string, attach bool) []any {
	set := map[string]bool{}
	for _, id := range ids {
		set[id] = true
	}
	out := make([]any, 0, len(current)+len(ids))
	for _, v := range current {
		s := idString(v)
		if set[s] {
			if !attach {
				continue
			}
			delete(set, s)
		}
		out = append(out, s)
	}
	if attach {
		for _, id := range ids {
			if set[id] {
				out = append(out, id)
				delete(set, id)
			}
		}
	}
	return out
}

func merge(doc, extra Document) Document {
	out := make(Document, len(doc)+len(extra))
	for k, v := range doc {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
