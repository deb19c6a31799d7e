package core

import (
	"go.mongodb.org/mongo-driver/v2/bson"
)

// morphConstrain matches related documents holding the owner id in the
// morph key and the owner model name in the morph type field.
func morphConstrain(j *Join, d *RelationDescriptor) {
	j.Where(d.ForeignKey, d.Model.Collection()+"."+d.LocalKey).
		Where(d.MorphType, d.Model.Name)
}

// morphTargets returns the candidate owner models of a morph-to relation.
func morphTargets(dj *DocJin, d *RelationDescriptor) []*Model {
	if len(d.targets) != 0 {
		return d.targets
	}
	return dj.Models()
}

// morphToStages looks up every candidate collection into a temporary field,
// each lookup gated on the type discriminator, and folds the results into
// the relation field.
func morphToStages(dj *DocJin, d *RelationDescriptor, has bool) ([]bson.D, error) {
	targets := morphTargets(dj, d)
	if len(targets) == 0 {
		return nil, configErrorf(ErrNoModel, "morph-to %q has no candidate models", d.Name)
	}

	owner := d.Model.Collection()
	var stages []bson.D
	tmp := make([]string, 0, len(targets))
	concat := make(bson.A, 0, len(targets))

	for _, t := range targets {
		as := "__morph_" + d.Name + "_" + t.Name
		j := newJoin(owner, t.Collection(), as)

		typ := j.bind(translateField(d.MorphType))
		j.WhereExpr(bson.M{"$eq": bson.A{"$$" + typ, t.Name}}).
			Where(d.ForeignKey, owner+"."+d.LocalKey)

		if err := j.Err(); err != nil {
			return nil, err
		}
		stages = append(stages, j.Stage())
		tmp = append(tmp, as)
		concat = append(concat, bson.M{"$ifNull": bson.A{"$" + as, bson.A{}}})
	}

	merged := bson.M{"$concatArrays": concat}
	if has {
		return append(stages, nonEmpty(merged), unset(tmp...)), nil
	}
	return append(stages,
		bson.D{{Key: "$addFields", Value: bson.M{d.Name: bson.M{"$arrayElemAt": bson.A{merged, 0}}}}},
		unset(tmp...)), nil
}

// morphToScope resolves the owner model named by the instance's type field
// from the registry and queries it by id.
func morphToScope(inst *Instance, d *RelationDescriptor) *Query {
	name := toString(inst.attrs[d.MorphType])

	var target *Model
	for _, t := range morphTargets(inst.dj, d) {
		if t.Name == name {
			target = t
			break
		}
	}
	if target == nil {
		q := inst.dj.Model(inst.model)
		q.pipe.fail(configErrorf(ErrNoModel, "morph-to %q: unknown model %q", d.Name, name))
		return q
	}
	return inst.dj.Model(target).Where(publicID, inst.attrs[d.LocalKey])
}
