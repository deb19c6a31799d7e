package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestModelCollectionNames(t *testing.T) {
	tests := map[string]string{
		"User":     "users",
		"BlogPost": "blog_posts",
		"Person":   "people",
		"Category": "categories",
	}
	for name, coll := range tests {
		assert.Equal(t, coll, NewModel(name).Collection(), name)
	}

	assert.Equal(t, "accounts", NewModel("User", SetCollection("accounts")).Collection())
	assert.Equal(t, "person_id", NewModel("Person").foreignKey())
	assert.ErrorIs(t, NewModel("").Err(), ErrNoModel)
}

func TestIndexOn(t *testing.T) {
	idx := IndexOn("email", "-created_at", "owner.id")
	assert.Equal(t, bson.D{
		{Key: "email", Value: 1},
		{Key: "created_at", Value: -1},
		{Key: "owner._id", Value: 1},
	}, idx.Keys)
}

func TestSchemaValidate(t *testing.T) {
	s := Schema{
		"email": "required,email",
		"age":   "omitempty,gte=0,lte=150",
		"name":  "required,min=2",
	}

	_, err := s.Validate(Document{"email": "a@b.co", "name": "Al", "age": 30}, false)
	assert.NoError(t, err)

	_, err = s.Validate(Document{"email": "nope", "age": 200}, false)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, map[string][]string{
		"age":   {"failed on the 'lte' rule"},
		"email": {"failed on the 'email' rule"},
		"name":  {"is required"},
	}, ve.Fields)
	assert.Equal(t, "validation failed: age: failed on the 'lte' rule; email: failed on the 'email' rule; name: is required", err.Error())

	// partial updates only check the fields present
	_, err = s.Validate(Document{"age": 31}, true)
	assert.NoError(t, err)

	_, err = s.Validate(Document{"name": nil}, true)
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, []string{"is required"}, ve.Fields["name"])

	_, err = Schema{"name": "no_such_rule"}.Validate(Document{"name": "x"}, false)
	var ce *ConfigurationError
	assert.ErrorAs(t, err, &ce)
}

func TestModelsFromConfig(t *testing.T) {
	models, err := ModelsFromConfig([]ModelConfig{
		{
			Name:       "User",
			Timestamps: true,
			Hidden:     []string{"password"},
			Schema:     map[string]string{"email": "required,email"},
			Indexes:    []IndexConfig{{Name: "email_unique", Fields: []string{"email"}, Unique: true}},
			Relations: []RelationConfig{
				{Name: "posts", Type: "has_many", Related: "Post"},
				{Name: "avatar", Type: "morph_one", Related: "Image", Morph: "imageable"},
			},
		},
		{
			Name:      "Post",
			Relations: []RelationConfig{{Name: "tags", Type: "embed_many", Related: "Tag", LocalKey: "labels"}},
		},
		{Name: "Tag"},
		{
			Name:      "Image",
			Relations: []RelationConfig{{Name: "imageable", Type: "morph_to", Morph: "imageable", Targets: []string{"User", "Post"}}},
		},
	})
	require.NoError(t, err)
	require.Len(t, models, 4)

	users := models[0]
	assert.True(t, users.timestamps)
	assert.True(t, users.hidden["password"])
	assert.Equal(t, []string{"posts", "avatar"}, users.Relations())
	require.Len(t, users.Indexes(), 1)
	assert.Equal(t, "email_unique", users.Indexes()[0].Name)
	assert.True(t, users.Indexes()[0].Unique)

	tags, _ := models[1].Relation("tags")
	assert.Equal(t, "labels", tags.LocalKey)
	assert.Same(t, models[2], tags.Related)

	morph, _ := models[3].Relation("imageable")
	assert.Equal(t, []*Model{models[0], models[1]}, morph.targets)

	_, err = ModelsFromConfig([]ModelConfig{{Name: "User", Relations: []RelationConfig{{Name: "x", Type: "has_many", Related: "Nope"}}}})
	assert.ErrorIs(t, err, ErrNoModel)

	_, err = ModelsFromConfig([]ModelConfig{{Name: "User", Relations: []RelationConfig{{Name: "x", Type: "owns"}}}})
	assert.ErrorIs(t, err, ErrUnknownRelation)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, (&Config{}).Validate())

	err := (&Config{Connections: map[string]ConnectionConfig{"default": {Driver: "postgres"}}}).Validate()
	assert.ErrorContains(t, err, "unsupported driver")

	err = (&Config{Connections: map[string]ConnectionConfig{"main": {Driver: "memory"}}}).Validate()
	assert.ErrorContains(t, err, "default connection")

	err = (&Config{Models: []ModelConfig{{Name: "A"}, {Name: "A"}}}).Validate()
	assert.ErrorContains(t, err, "duplicate model")

	_, err = NewDocJin(&Config{}, nil)
	assert.ErrorIs(t, err, ErrNoConnection)
}
