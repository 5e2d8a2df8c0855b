package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relmap/relmap/schema"
)

func clubDefs() []*schema.ModelDef {
	return []*schema.ModelDef{
		{
			Name: "Team",
			Fields: []schema.FieldDef{
				{Name: "name", Type: schema.String, Unique: true},
				{Name: "city", Type: schema.String, Nullable: true},
			},
		},
		{
			Name: "Member",
			Fields: []schema.FieldDef{
				{Name: "firstname", Type: schema.String},
				{Name: "lastname", Type: schema.String},
				{Name: "phone", Type: schema.Int, Nullable: true},
				{Name: "joined_date", Type: schema.Time, AutoNowAdd: true},
			},
			Relations: []schema.RelationDef{
				{Name: "team", Kind: schema.ManyToOne, Target: "Team", Nullable: true, OnDelete: schema.SetNull},
				{Name: "tournaments", Kind: schema.ManyToMany, Target: "Tournament"},
			},
			Ordering: []string{"lastname", "firstname"},
		},
		{
			Name: "Profile",
			Fields: []schema.FieldDef{
				{Name: "level", Type: schema.String, Default: "beginner"},
			},
			Relations: []schema.RelationDef{
				{Name: "member", Kind: schema.OneToOne, Target: "Member", OnDelete: schema.Cascade},
			},
		},
		{
			Name: "Tournament",
			Fields: []schema.FieldDef{
				{Name: "title", Type: schema.String},
				{Name: "starts", Type: schema.Time, Nullable: true},
			},
		},
	}
}

func clubRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	registry := schema.NewRegistry(nil)
	require.NoError(t, registry.Register(clubDefs()...))
	return registry
}

func TestRegisterCompilesModels(t *testing.T) {
	registry := clubRegistry(t)

	member, ok := registry.Model("Member")
	require.True(t, ok)
	assert.Equal(t, "members", member.Table)

	pk := member.FieldsByName["id"]
	require.NotNil(t, pk)
	assert.True(t, pk.PrimaryKey)
	assert.True(t, pk.AutoIncrement)
	assert.Equal(t, schema.Int, pk.DataType)
	assert.Same(t, pk, member.PrimaryField)

	// forward relation synthesizes its key column
	fk := member.FieldsByName["team_id"]
	require.NotNil(t, fk)
	assert.Equal(t, schema.Int, fk.DataType)
	assert.True(t, fk.Nullable)
	require.NotNil(t, fk.Relation)
	assert.Equal(t, "team", fk.Relation.Name)

	team, _ := registry.Model("Team")
	assert.Equal(t, [][]string{{"name"}}, team.UniqueSets())
}

func TestRegisterDerivesReverses(t *testing.T) {
	registry := clubRegistry(t)

	team, _ := registry.Model("Team")
	members := team.Relationships.Relations["members"]
	require.NotNil(t, members)
	assert.Equal(t, schema.HasMany, members.Kind)
	assert.False(t, members.Owning)
	assert.Equal(t, "Member", members.Target.Name)
	require.NotNil(t, members.Inverse)
	assert.Equal(t, "team", members.Inverse.Name)
	assert.Same(t, members.Inverse.ForeignKey, members.ForeignKey)
	assert.Equal(t, schema.SetNull, members.OnDelete)

	member, _ := registry.Model("Member")
	profile := member.Relationships.Relations["profile"]
	require.NotNil(t, profile)
	assert.Equal(t, schema.HasOne, profile.Kind)

	// one-to-one key columns are unique
	prof, _ := registry.Model("Profile")
	assert.True(t, prof.FieldsByName["member_id"].Unique)

	tournament, _ := registry.Model("Tournament")
	reverse := tournament.Relationships.Relations["members"]
	require.NotNil(t, reverse)
	assert.Equal(t, schema.ManyToMany, reverse.Kind)
	assert.False(t, reverse.Owning)
}

func TestRegisterManyToManyJoinTable(t *testing.T) {
	registry := clubRegistry(t)

	member, _ := registry.Model("Member")
	rel := member.Relationships.Relations["tournaments"]
	require.NotNil(t, rel)
	assert.Equal(t, "member_tournaments", rel.JoinTable)
	assert.Equal(t, "member_id", rel.JoinOwnerKey)
	assert.Equal(t, "tournament_id", rel.JoinTargetKey)
	assert.Equal(t, [][]string{{"member_id", "tournament_id"}}, rel.JoinUniqueSets())

	// the reverse sees the same table with the key roles swapped
	tournament, _ := registry.Model("Tournament")
	reverse := tournament.Relationships.Relations["members"]
	assert.Equal(t, rel.JoinTable, reverse.JoinTable)
	assert.Equal(t, rel.JoinTargetKey, reverse.JoinOwnerKey)
	assert.Equal(t, rel.JoinOwnerKey, reverse.JoinTargetKey)
}

func TestRegisterSelfReferencingManyToMany(t *testing.T) {
	registry := schema.NewRegistry(nil)
	require.NoError(t, registry.Register(&schema.ModelDef{
		Name:   "Member",
		Fields: []schema.FieldDef{{Name: "firstname", Type: schema.String}},
		Relations: []schema.RelationDef{
			{Name: "rivals", Kind: schema.ManyToMany, Target: "Member", ReverseName: "rivaled_by"},
		},
	}))

	member, _ := registry.Model("Member")
	rel := member.Relationships.Relations["rivals"]
	assert.Equal(t, "from_member_id", rel.JoinOwnerKey)
	assert.Equal(t, "to_member_id", rel.JoinTargetKey)
	assert.NotNil(t, member.Relationships.Relations["rivaled_by"])
}

func TestRegisterThroughModel(t *testing.T) {
	registry := schema.NewRegistry(nil)
	require.NoError(t, registry.Register(
		&schema.ModelDef{Name: "Member", Fields: []schema.FieldDef{{Name: "firstname", Type: schema.String}},
			Relations: []schema.RelationDef{
				{Name: "tournaments", Kind: schema.ManyToMany, Target: "Tournament", Through: "Entry"},
			}},
		&schema.ModelDef{Name: "Tournament", Fields: []schema.FieldDef{{Name: "title", Type: schema.String}}},
		&schema.ModelDef{Name: "Entry",
			Fields: []schema.FieldDef{{Name: "seed", Type: schema.Int, Nullable: true}},
			Relations: []schema.RelationDef{
				{Name: "member", Kind: schema.ManyToOne, Target: "Member", ReverseName: "entries"},
				{Name: "tournament", Kind: schema.ManyToOne, Target: "Tournament", ReverseName: "entries"},
			}},
	))

	member, _ := registry.Model("Member")
	rel := member.Relationships.Relations["tournaments"]
	require.NotNil(t, rel.Through)
	assert.Equal(t, "Entry", rel.Through.Name)
	assert.Equal(t, "entries", rel.JoinTable)
	assert.Equal(t, "member_id", rel.JoinOwnerKey)
	assert.Equal(t, "tournament_id", rel.JoinTargetKey)
}

func TestRegisterThroughModelValidation(t *testing.T) {
	base := []*schema.ModelDef{
		{Name: "Member", Fields: []schema.FieldDef{{Name: "firstname", Type: schema.String}},
			Relations: []schema.RelationDef{
				{Name: "tournaments", Kind: schema.ManyToMany, Target: "Tournament", Through: "Entry"},
			}},
		{Name: "Tournament", Fields: []schema.FieldDef{{Name: "title", Type: schema.String}}},
	}

	t.Run("missing through model", func(t *testing.T) {
		registry := schema.NewRegistry(nil)
		err := registry.Register(base...)
		require.ErrorIs(t, err, schema.ErrDefinition)
		assert.Contains(t, err.Error(), "Entry")
	})

	t.Run("wrong foreign key count", func(t *testing.T) {
		registry := schema.NewRegistry(nil)
		defs := append(base, &schema.ModelDef{Name: "Entry",
			Relations: []schema.RelationDef{
				{Name: "member", Kind: schema.ManyToOne, Target: "Member"},
			}})
		err := registry.Register(defs...)
		require.ErrorIs(t, err, schema.ErrDefinition)
		assert.Contains(t, err.Error(), "exactly two")
	})

	t.Run("does not reference both ends", func(t *testing.T) {
		registry := schema.NewRegistry(nil)
		defs := append(base, &schema.ModelDef{Name: "Entry",
			Relations: []schema.RelationDef{
				{Name: "member", Kind: schema.ManyToOne, Target: "Member", ReverseName: "a"},
				{Name: "other", Kind: schema.ManyToOne, Target: "Member", ReverseName: "b"},
			}})
		err := registry.Register(defs...)
		require.ErrorIs(t, err, schema.ErrDefinition)
	})
}

func TestRegisterReverseCollision(t *testing.T) {
	// two relations to the same target both derive the accessor "members"
	registry := schema.NewRegistry(nil)
	err := registry.Register(
		&schema.ModelDef{Name: "Team", Fields: []schema.FieldDef{{Name: "name", Type: schema.String}}},
		&schema.ModelDef{Name: "Member", Fields: []schema.FieldDef{{Name: "firstname", Type: schema.String}},
			Relations: []schema.RelationDef{
				{Name: "team", Kind: schema.ManyToOne, Target: "Team", Nullable: true},
				{Name: "former_team", Kind: schema.ManyToOne, Target: "Team", Nullable: true},
			}},
	)
	require.ErrorIs(t, err, schema.ErrDefinition)
	assert.Contains(t, err.Error(), "members")

	// an explicit reverse name resolves it
	registry = schema.NewRegistry(nil)
	require.NoError(t, registry.Register(
		&schema.ModelDef{Name: "Team", Fields: []schema.FieldDef{{Name: "name", Type: schema.String}}},
		&schema.ModelDef{Name: "Member", Fields: []schema.FieldDef{{Name: "firstname", Type: schema.String}},
			Relations: []schema.RelationDef{
				{Name: "team", Kind: schema.ManyToOne, Target: "Team", Nullable: true},
				{Name: "former_team", Kind: schema.ManyToOne, Target: "Team", Nullable: true, ReverseName: "former_members"},
			}},
	))
	team, _ := registry.Model("Team")
	assert.NotNil(t, team.Relationships.Relations["members"])
	assert.NotNil(t, team.Relationships.Relations["former_members"])
}

func TestRegisterReverseCollidesWithField(t *testing.T) {
	registry := schema.NewRegistry(nil)
	err := registry.Register(
		&schema.ModelDef{Name: "Team", Fields: []schema.FieldDef{{Name: "members", Type: schema.Int}}},
		&schema.ModelDef{Name: "Member",
			Relations: []schema.RelationDef{{Name: "team", Kind: schema.ManyToOne, Target: "Team"}}},
	)
	require.ErrorIs(t, err, schema.ErrDefinition)
}

func TestRegisterAtomic(t *testing.T) {
	registry := schema.NewRegistry(nil)
	err := registry.Register(
		&schema.ModelDef{Name: "Team", Fields: []schema.FieldDef{{Name: "name", Type: schema.String}}},
		&schema.ModelDef{Name: "Member",
			Relations: []schema.RelationDef{{Name: "team", Kind: schema.ManyToOne, Target: "Nowhere"}}},
	)
	require.Error(t, err)

	// the valid definition in the failing batch must not land either
	_, ok := registry.Model("Team")
	assert.False(t, ok)
}

func TestRegisterDuplicate(t *testing.T) {
	registry := schema.NewRegistry(nil)
	def := &schema.ModelDef{Name: "Team", Fields: []schema.FieldDef{{Name: "name", Type: schema.String}}}
	require.NoError(t, registry.Register(def))

	// identical re-registration is a no-op
	require.NoError(t, registry.Register(def))

	changed := &schema.ModelDef{Name: "Team", Fields: []schema.FieldDef{{Name: "name", Type: schema.Int}}}
	err := registry.Register(changed)
	require.ErrorIs(t, err, schema.ErrDuplicateModel)
}

func TestRegisterPolicyValidation(t *testing.T) {
	team := &schema.ModelDef{Name: "Team", Fields: []schema.FieldDef{{Name: "name", Type: schema.String}}}

	t.Run("set-null needs nullable", func(t *testing.T) {
		registry := schema.NewRegistry(nil)
		err := registry.Register(team, &schema.ModelDef{Name: "Member",
			Relations: []schema.RelationDef{
				{Name: "team", Kind: schema.ManyToOne, Target: "Team", OnDelete: schema.SetNull},
			}})
		require.ErrorIs(t, err, schema.ErrDefinition)
	})

	t.Run("set-default needs a default", func(t *testing.T) {
		registry := schema.NewRegistry(nil)
		err := registry.Register(team, &schema.ModelDef{Name: "Member",
			Relations: []schema.RelationDef{
				{Name: "team", Kind: schema.ManyToOne, Target: "Team", OnDelete: schema.SetDefault},
			}})
		require.ErrorIs(t, err, schema.ErrDefinition)
	})

	t.Run("many-to-many rejects row policies", func(t *testing.T) {
		registry := schema.NewRegistry(nil)
		err := registry.Register(team, &schema.ModelDef{Name: "Member",
			Relations: []schema.RelationDef{
				{Name: "teams", Kind: schema.ManyToMany, Target: "Team", OnDelete: schema.Protect},
			}})
		require.ErrorIs(t, err, schema.ErrDefinition)
	})
}

func TestRegisterFieldValidation(t *testing.T) {
	t.Run("unknown type", func(t *testing.T) {
		registry := schema.NewRegistry(nil)
		err := registry.Register(&schema.ModelDef{Name: "Team",
			Fields: []schema.FieldDef{{Name: "name", Type: "varchar"}}})
		require.ErrorIs(t, err, schema.ErrDefinition)
	})

	t.Run("auto-now-add requires time", func(t *testing.T) {
		registry := schema.NewRegistry(nil)
		err := registry.Register(&schema.ModelDef{Name: "Team",
			Fields: []schema.FieldDef{{Name: "name", Type: schema.String, AutoNowAdd: true}}})
		require.ErrorIs(t, err, schema.ErrDefinition)
	})

	t.Run("ordering references unknown field", func(t *testing.T) {
		registry := schema.NewRegistry(nil)
		err := registry.Register(&schema.ModelDef{Name: "Team",
			Fields:   []schema.FieldDef{{Name: "name", Type: schema.String}},
			Ordering: []string{"-created"}})
		require.ErrorIs(t, err, schema.ErrDefinition)
	})

	t.Run("relation name collides with field", func(t *testing.T) {
		registry := schema.NewRegistry(nil)
		err := registry.Register(
			&schema.ModelDef{Name: "Team", Fields: []schema.FieldDef{{Name: "name", Type: schema.String}}},
			&schema.ModelDef{Name: "Member",
				Fields:    []schema.FieldDef{{Name: "team", Type: schema.String}},
				Relations: []schema.RelationDef{{Name: "team", Kind: schema.ManyToOne, Target: "Team"}}})
		require.ErrorIs(t, err, schema.ErrDefinition)
	})
}

func TestMutualReferencesRegisterInOneCall(t *testing.T) {
	registry := schema.NewRegistry(nil)
	require.NoError(t, registry.Register(
		&schema.ModelDef{Name: "Member",
			Relations: []schema.RelationDef{{Name: "team", Kind: schema.ManyToOne, Target: "Team", Nullable: true}}},
		&schema.ModelDef{Name: "Team",
			Relations: []schema.RelationDef{{Name: "captain", Kind: schema.OneToOne, Target: "Member", Nullable: true, ReverseName: "captain_of"}}},
	))

	member, _ := registry.Model("Member")
	assert.NotNil(t, member.Relationships.Relations["captain_of"])
}
