package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type blogModels struct {
	users, profiles, posts, comments, tags, images *Model
}

func newBlog(t *testing.T) (*DocJin, blogModels) {
	t.Helper()

	b := blogModels{
		users:    NewModel("User"),
		profiles: NewModel("Profile"),
		posts:    NewModel("Post"),
		comments: NewModel("Comment"),
		tags:     NewModel("Tag"),
		images:   NewModel("Image"),
	}
	b.users.HasOne("profile", b.profiles).
		HasMany("posts", b.posts).
		MorphMany("images", b.images, "imageable")
	b.posts.HasMany("comments", b.comments).
		EmbedMany("tags", b.tags).
		MorphOne("cover", b.images, "imageable")
	b.images.MorphTo("imageable", "imageable", MorphTargets(b.users, b.posts))

	dj := newTestDJ(t)
	require.NoError(t, dj.Register(b.users, b.profiles, b.posts, b.comments, b.tags, b.images))
	return dj, b
}

func TestRelationDefaults(t *testing.T) {
	_, b := newBlog(t)

	tests := []struct {
		model                   *Model
		name                    string
		typ                     RelationType
		local, foreign, morphTy string
	}{
		{b.users, "profile", HasOne, "id", "user_id", ""},
		{b.users, "posts", HasMany, "id", "user_id", ""},
		{b.users, "images", MorphMany, "id", "imageable_id", "imageable_type"},
		{b.posts, "tags", EmbedMany, "tag_ids", "id", ""},
		{b.posts, "cover", MorphOne, "id", "imageable_id", "imageable_type"},
		{b.images, "imageable", MorphTo, "imageable_id", "id", "imageable_type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := tt.model.Relation(tt.name)
			require.True(t, ok)
			assert.Equal(t, tt.typ, d.Type)
			assert.Equal(t, tt.local, d.LocalKey)
			assert.Equal(t, tt.foreign, d.ForeignKey)
			assert.Equal(t, tt.morphTy, d.MorphType)
		})
	}

	assert.Equal(t, []string{"profile", "posts", "images"}, b.users.Relations())
}

func TestRelationDeclarationErrors(t *testing.T) {
	m := NewModel("User")
	m.HasMany("posts", nil)
	assert.ErrorIs(t, m.Err(), ErrNoModel)

	m = NewModel("User")
	m.HasMany("posts", NewModel("Post")).HasOne("posts", NewModel("Post"))
	assert.ErrorContains(t, m.Err(), "duplicate relation")

	m = NewModel("Image")
	m.MorphTo("owner", "")
	assert.ErrorContains(t, m.Err(), "morph name")

	dj := newTestDJ(t)
	assert.Error(t, dj.Register(m))
}

func TestParseRelationType(t *testing.T) {
	rt, err := ParseRelationType("Embed_Many")
	require.NoError(t, err)
	assert.Equal(t, EmbedMany, rt)
	assert.Equal(t, "embed_many", rt.String())

	_, err = ParseRelationType("belongs_to")
	assert.ErrorIs(t, err, ErrUnknownRelation)
}

func TestParseRelations(t *testing.T) {
	_, b := newBlog(t)

	nodes, err := parseRelations(b.users, []string{"posts.comments", "profile", "posts.tags"})
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "posts", nodes[0].desc.Name)
	assert.Equal(t, "profile", nodes[1].desc.Name)
	require.Len(t, nodes[0].children, 2)
	assert.Equal(t, "comments", nodes[0].children[0].desc.Name)
	assert.Equal(t, "tags", nodes[0].children[1].desc.Name)

	_, err = parseRelations(b.users, []string{"posts.likes"})
	assert.ErrorIs(t, err, ErrUnknownRelation)

	_, err = parseRelations(b.images, []string{"imageable.posts"})
	assert.ErrorContains(t, err, "morph-to")
}

func TestRelationCache(t *testing.T) {
	dj, b := newBlog(t)

	n1, err := dj.relations(b.users, []string{"posts"})
	require.NoError(t, err)
	n2, err := dj.relations(b.users, []string{"posts"})
	require.NoError(t, err)
	assert.Same(t, n1[0], n2[0])

	_, ok := dj.cache.Get("missing")
	assert.False(t, ok)
}

func TestWithHasOneUnwinds(t *testing.T) {
	dj, b := newBlog(t)

	st := dj.Model(b.users).With("profile").Pipeline()
	require.Len(t, st, 2)
	assert.Equal(t, bson.D{{Key: "$lookup", Value: bson.D{
		{Key: "from", Value: "profiles"},
		{Key: "let", Value: bson.M{"pivot_0": "$_id"}},
		{Key: "pipeline", Value: bson.A{
			match(bson.M{"$and": bson.A{bson.M{"$expr": bson.M{"$eq": bson.A{
				bson.M{"$toString": "$user_id"},
				bson.M{"$toString": "$$pivot_0"},
			}}}}}),
		}},
		{Key: "as", Value: "profile"},
	}}}, st[0])
	assert.Equal(t, bson.D{{Key: "$unwind", Value: bson.D{
		{Key: "path", Value: "$profile"},
		{Key: "preserveNullAndEmptyArrays", Value: true},
	}}}, st[1])
}

func TestWithNested(t *testing.T) {
	dj, b := newBlog(t)

	st := dj.Model(b.users).With("posts.comments").Pipeline()
	require.Len(t, st, 1)

	lookup := st[0][0].Value.(bson.D)
	assert.Equal(t, "posts", lookup[0].Value)
	pipe := lookup[2].Value.(bson.A)
	require.Len(t, pipe, 2)

	inner := pipe[1].(bson.D)[0].Value.(bson.D)
	assert.Equal(t, "comments", inner[0].Value)
	assert.Equal(t, "comments", inner[3].Value)
}

func TestWithEmbedMany(t *testing.T) {
	dj, b := newBlog(t)

	st := dj.Model(b.posts).With("tags").Pipeline()
	require.Len(t, st, 1)
	lookup := st[0][0].Value.(bson.D)
	assert.Equal(t, bson.M{"pivot_0": "$tag_ids"}, lookup[1].Value)
	assert.Equal(t, bson.A{match(bson.M{"$and": bson.A{bson.M{"$expr": bson.M{"$in": bson.A{
		bson.M{"$toString": "$_id"},
		bson.M{"$map": bson.M{
			"input": bson.M{"$ifNull": bson.A{"$$pivot_0", bson.A{}}},
			"as":    "key",
			"in":    bson.M{"$toString": "$$key"},
		}},
	}}}}})}, lookup[2].Value)
}

func TestHasFiltersOnNonEmpty(t *testing.T) {
	dj, b := newBlog(t)

	st := dj.Model(b.users).Has("posts").Pipeline()
	require.Len(t, st, 3)

	lookup := st[0][0].Value.(bson.D)
	assert.Equal(t, "__has_posts", lookup[3].Value)
	assert.Equal(t, nonEmpty("$__has_posts"), st[1])
	assert.Equal(t, bson.D{{Key: "$unset", Value: bson.A{"__has_posts"}}}, st[2])
}

func TestMorphStages(t *testing.T) {
	dj, b := newBlog(t)

	st := dj.Model(b.users).With("images").Pipeline()
	require.Len(t, st, 1)
	lookup := st[0][0].Value.(bson.D)
	assert.Equal(t, bson.A{match(bson.M{"$and": bson.A{
		bson.M{"$expr": bson.M{"$eq": bson.A{
			bson.M{"$toString": "$imageable_id"},
			bson.M{"$toString": "$$pivot_0"},
		}}},
		eq("imageable_type", "User"),
	}})}, lookup[2].Value)

	st = dj.Model(b.images).With("imageable").Pipeline()
	require.Len(t, st, 4)
	for i, target := range []string{"User", "Post"} {
		l := st[i][0].Value.(bson.D)
		assert.Equal(t, "__morph_imageable_"+target, l[3].Value)
		assert.Equal(t, bson.M{"pivot_0": "$imageable_type", "pivot_1": "$imageable_id"}, l[1].Value)
	}
	assert.Equal(t, "$addFields", st[2][0].Key)
	assert.Equal(t, bson.D{{Key: "$unset", Value: bson.A{"__morph_imageable_User", "__morph_imageable_Post"}}}, st[3])
}

func TestMorphToWithoutTargetsUsesRegistry(t *testing.T) {
	users, posts := NewModel("User"), NewModel("Post")
	images := NewModel("Image").MorphTo("imageable", "imageable")

	dj := newTestDJ(t)
	require.NoError(t, dj.Register(users, posts, images))

	st := dj.Model(images).Has("imageable").Pipeline()
	// one lookup per registered model, then the non-empty match and unset
	require.Len(t, st, 5)
	assert.Equal(t, "$match", st[3][0].Key)
	assert.Equal(t, "$unset", st[4][0].Key)
}
