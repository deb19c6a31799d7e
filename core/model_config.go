package core

// ModelsFromConfig builds models from configuration. Relations may name any
// model in the list regardless of order.
func ModelsFromConfig(list []ModelConfig) ([]*Model, error) {
	byName := make(map[string]*Model, len(list))
	models := make([]*Model, 0, len(list))

	for _, mc := range list {
		opts := []ModelOption{
			SetCollection(mc.Collection),
			SetConnection(mc.Connection),
			SetHidden(mc.Hidden...),
		}
		if mc.Timestamps {
			opts = append(opts, SetTimestamps())
		}
		if len(mc.Schema) != 0 {
			opts = append(opts, SetSchema(Schema(mc.Schema)))
		}
		for _, ic := range mc.Indexes {
			idx := IndexOn(ic.Fields...)
			idx.Name, idx.Unique, idx.Sparse = ic.Name, ic.Unique, ic.Sparse
			opts = append(opts, SetIndexes(idx))
		}

		m := NewModel(mc.Name, opts...)
		byName[mc.Name] = m
		models = append(models, m)
	}

	for i, mc := range list {
		m := models[i]
		for _, rc := range mc.Relations {
			if err := declareFromConfig(m, rc, byName); err != nil {
				return nil, err
			}
		}
		if err := m.Err(); err != nil {
			return nil, err
		}
	}
	return models, nil
}

func declareFromConfig(m *Model, rc RelationConfig, byName map[string]*Model) error {
	t, err := ParseRelationType(rc.Type)
	if err != nil {
		return configErrorf(err, "model %s relation %q", m.Name, rc.Name)
	}

	var opts []RelationOption
	if rc.LocalKey != "" {
		opts = append(opts, LocalKey(rc.LocalKey))
	}
	if rc.ForeignKey != "" {
		opts = append(opts, ForeignKey(rc.ForeignKey))
	}

	if t == MorphTo {
		for _, name := range rc.Targets {
			target, ok := byName[name]
			if !ok {
				return configErrorf(ErrNoModel, "model %s relation %q: target %q", m.Name, rc.Name, name)
			}
			opts = append(opts, MorphTargets(target))
		}
		m.MorphTo(rc.Name, rc.Morph, opts...)
		return nil
	}

	related, ok := byName[rc.Related]
	if !ok {
		return configErrorf(ErrNoModel, "model %s relation %q: related %q", m.Name, rc.Name, rc.Related)
	}

	switch t {
	case HasOne:
		m.HasOne(rc.Name, related, opts...)
	case HasMany:
		m.HasMany(rc.Name, related, opts...)
	case EmbedMany:
		m.EmbedMany(rc.Name, related, opts...)
	case MorphOne:
		m.MorphOne(rc.Name, related, rc.Morph, opts...)
	case MorphMany:
		m.MorphMany(rc.Name, related, rc.Morph, opts...)
	}
	return nil
}
