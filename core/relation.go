package core

import (
	"fmt"
	"strings"

	"github.com/gobuffalo/flect"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type RelationType int

const (
	HasOne RelationType = iota + 1
	HasMany
	EmbedMany
	MorphOne
	MorphMany
	MorphTo
)

var relationTypes = map[string]RelationType{
	"has_one":    HasOne,
	"has_many":   HasMany,
	"embed_many": EmbedMany,
	"morph_one":  MorphOne,
	"morph_many": MorphMany,
	"morph_to":   MorphTo,
}

func (t RelationType) String() string {
	for k, v := range relationTypes {
		if v == t {
			return k
		}
	}
	return fmt.Sprintf("relation(%d)", int(t))
}

// singular relations load a single document instead of a list.
func (t RelationType) singular() bool {
	return t == HasOne || t == MorphOne || t == MorphTo
}

func ParseRelationType(s string) (RelationType, error) {
	if t, ok := relationTypes[strings.ToLower(s)]; ok {
		return t, nil
	}
	return 0, configErrorf(ErrUnknownRelation, "relation type %q", s)
}

// RelationDescriptor describes how an owner model reaches related
// documents. LocalKey is read from the owner, ForeignKey from the related
// document. For polymorphic relations MorphType names the discriminator
// field holding the owner model name.
type RelationDescriptor struct {
	Name       string
	Type       RelationType
	Model      *Model
	Related    *Model
	LocalKey   string
	ForeignKey string
	MorphType  string
	targets    []*Model
}

type RelationOption func(*RelationDescriptor)

func LocalKey(key string) RelationOption {
	return func(d *RelationDescriptor) { d.LocalKey = key }
}

func ForeignKey(key string) RelationOption {
	return func(d *RelationDescriptor) { d.ForeignKey = key }
}

// MorphTargets limits the models a morph-to relation may resolve to.
// Without it every registered model is a candidate.
func MorphTargets(models ...*Model) RelationOption {
	return func(d *RelationDescriptor) { d.targets = append(d.targets, models...) }
}

// HasOne declares a relation to a single related document whose foreign key
// (default <singular owner collection>_id) holds the owner id.
func (m *Model) HasOne(name string, related *Model, opts ...RelationOption) *Model {
	return m.declare(&RelationDescriptor{Name: name, Type: HasOne, Related: related,
		LocalKey: publicID, ForeignKey: m.foreignKey()}, opts)
}

// HasMany is HasOne for any number of related documents.
func (m *Model) HasMany(name string, related *Model, opts ...RelationOption) *Model {
	return m.declare(&RelationDescriptor{Name: name, Type: HasMany, Related: related,
		LocalKey: publicID, ForeignKey: m.foreignKey()}, opts)
}

// EmbedMany declares a relation where the owner stores related ids in an
// array field, by default <singular related collection>_ids.
func (m *Model) EmbedMany(name string, related *Model, opts ...RelationOption) *Model {
	d := &RelationDescriptor{Name: name, Type: EmbedMany, Related: related, ForeignKey: publicID}
	if related != nil {
		d.LocalKey = flect.Singularize(related.Collection()) + "_ids"
	}
	return m.declare(d, opts)
}

// MorphOne declares a polymorphic has-one: the related document stores the
// owner id in <morph>_id and the owner model name in <morph>_type.
func (m *Model) MorphOne(name string, related *Model, morph string, opts ...RelationOption) *Model {
	return m.declare(&RelationDescriptor{Name: name, Type: MorphOne, Related: related,
		LocalKey: publicID, ForeignKey: morph + "_id", MorphType: morph + "_type"}, opts)
}

func (m *Model) MorphMany(name string, related *Model, morph string, opts ...RelationOption) *Model {
	return m.declare(&RelationDescriptor{Name: name, Type: MorphMany, Related: related,
		LocalKey: publicID, ForeignKey: morph + "_id", MorphType: morph + "_type"}, opts)
}

// MorphTo declares the inverse of MorphOne and MorphMany. The owner model is
// picked at load time from the <morph>_type field.
func (m *Model) MorphTo(name, morph string, opts ...RelationOption) *Model {
	return m.declare(&RelationDescriptor{Name: name, Type: MorphTo,
		LocalKey: morph + "_id", ForeignKey: publicID, MorphType: morph + "_type"}, opts)
}

func (m *Model) declare(d *RelationDescriptor, opts []RelationOption) *Model {
	d.Model = m
	for _, o := range opts {
		o(d)
	}

	switch {
	case d.Name == "":
		m.fail(configErrorf(nil, "model %s: relation without a name", m.Name))
	case d.Type != MorphTo && d.Related == nil:
		m.fail(configErrorf(ErrNoModel, "model %s: relation %q has no related model", m.Name, d.Name))
	case m.relations[d.Name] != nil:
		m.fail(configErrorf(nil, "model %s: duplicate relation %q", m.Name, d.Name))
	case d.MorphType == "_type":
		m.fail(configErrorf(nil, "model %s: relation %q needs a morph name", m.Name, d.Name))
	default:
		m.relations[d.Name] = d
		m.order = append(m.order, d.Name)
	}
	return m
}

// relNode is one segment of a parsed dotted relation path.
type relNode struct {
	desc     *RelationDescriptor
	children []*relNode
}

// parseRelations turns dotted paths such as "posts.comments" into a tree,
// merging shared prefixes and keeping first appearance order.
func parseRelations(m *Model, paths []string) ([]*relNode, error) {
	var roots []*relNode

	for _, path := range paths {
		cm, list := m, &roots
		segs := strings.Split(path, ".")

		for i, seg := range segs {
			var node *relNode
			for _, n := range *list {
				if n.desc.Name == seg {
					node = n
					break
				}
			}
			if node == nil {
				d, ok := cm.relations[seg]
				if !ok {
					return nil, configErrorf(ErrUnknownRelation, "%q on model %s", seg, cm.Name)
				}
				node = &relNode{desc: d}
				*list = append(*list, node)
			}
			if node.desc.Type == MorphTo && i != len(segs)-1 {
				return nil, configErrorf(nil, "nested relations under morph-to %q are not supported", seg)
			}
			cm, list = node.desc.Related, &node.children
		}
	}
	return roots, nil
}

// With eager loads the named relations. Dotted paths load nested relations.
// Singular relations are unwound into a document or null.
func (q *Query) With(paths ...string) *Query {
	q.loadRelations(paths, false)
	return q
}

// Has keeps only documents for which every named relation yields at least
// one related document.
func (q *Query) Has(paths ...string) *Query {
	q.loadRelations(paths, true)
	return q
}

func (q *Query) loadRelations(paths []string, has bool) {
	if len(paths) == 0 {
		return
	}
	if q.model == nil {
		q.pipe.fail(configErrorf(ErrNoModel, "relations %v on collection %s", paths, q.pipe.collection))
		return
	}
	nodes, err := q.dj.relations(q.model, paths)
	if err != nil {
		q.pipe.fail(err)
		return
	}
	for _, n := range nodes {
		stages, err := n.stages(q.dj, has)
		if err != nil {
			q.pipe.fail(err)
			return
		}
		q.pipe.push(stages...)
	}
}

// Load injects the stages that eager load this relation, without nesting.
func (d *RelationDescriptor) Load(q *Query) *Query {
	n := &relNode{desc: d}
	stages, err := n.stages(q.dj, false)
	if err != nil {
		q.pipe.fail(err)
		return q
	}
	q.pipe.push(stages...)
	return q
}

func (n *relNode) stages(dj *DocJin, has bool) ([]bson.D, error) {
	d := n.desc
	if d.Type == MorphTo {
		return morphToStages(dj, d, has)
	}

	as := d.Name
	if has {
		as = "__has_" + d.Name
	}
	j := newJoin(d.Model.Collection(), d.Related.Collection(), as)

	switch d.Type {
	case HasOne, HasMany:
		hasConstrain(j, d)
	case EmbedMany:
		embedConstrain(j, d)
	case MorphOne, MorphMany:
		morphConstrain(j, d)
	}

	for _, c := range n.children {
		st, err := c.stages(dj, has)
		if err != nil {
			return nil, err
		}
		j.pipe.push(st...)
	}
	if err := j.Err(); err != nil {
		return nil, err
	}

	out := []bson.D{j.Stage()}
	switch {
	case has:
		out = append(out, nonEmpty("$"+as), unset(as))
	case d.Type.singular():
		out = append(out, bson.D{{Key: "$unwind", Value: bson.D{
			{Key: "path", Value: "$" + as},
			{Key: "preserveNullAndEmptyArrays", Value: true},
		}}})
	}
	return out, nil
}

// nonEmpty matches documents where the array expression has elements.
func nonEmpty(expr any) bson.D {
	size := bson.M{"$size": bson.M{"$ifNull": bson.A{expr, bson.A{}}}}
	return bson.D{{Key: "$match", Value: bson.M{"$expr": bson.M{"$gt": bson.A{size, 0}}}}}
}

func unset(fields ...string) bson.D {
	list := make(bson.A, len(fields))
	for i, f := range fields {
		list[i] = f
	}
	return bson.D{{Key: "$unset", Value: list}}
}
