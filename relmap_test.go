package relmap_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relmap/relmap"
	"github.com/relmap/relmap/driver/memory"
	"github.com/relmap/relmap/logger"
	"github.com/relmap/relmap/query"
	"github.com/relmap/relmap/schema"
)

var fixedNow = time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, defs ...*schema.ModelDef) (*relmap.Engine, *memory.Store) {
	t.Helper()
	store := memory.New()
	e, err := relmap.Open(store, &relmap.Config{
		Logger:  logger.Discard,
		NowFunc: func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	require.NoError(t, e.Register(defs...))
	require.NoError(t, e.Bootstrap(context.Background()))
	return e, store
}

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
			Ordering: []string{"firstname"},
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

func newClubEngine(t *testing.T) (*relmap.Engine, *memory.Store) {
	t.Helper()
	return newEngine(t, clubDefs()...)
}

type fixtures struct {
	red, blue              *relmap.Record
	john, jane, bob, solo  *relmap.Record
	johnProfile            *relmap.Record
	spring, autumn, winter *relmap.Record
}

func create(t *testing.T, e *relmap.Engine, model string, fields map[string]interface{}) *relmap.Record {
	t.Helper()
	rec, err := e.Create(context.Background(), model, fields)
	require.NoError(t, err)
	return rec
}

// seedClub builds the scenario every integration test leans on: two teams,
// three members on them plus one free agent, a profile and three tournaments
func seedClub(t *testing.T, e *relmap.Engine) *fixtures {
	t.Helper()
	ctx := context.Background()
	f := &fixtures{}

	f.red = create(t, e, "Team", map[string]interface{}{"name": "Red", "city": "Oslo"})
	f.blue = create(t, e, "Team", map[string]interface{}{"name": "Blue", "city": "Bergen"})

	f.john = create(t, e, "Member", map[string]interface{}{
		"firstname": "John", "lastname": "Smith", "phone": 5551234,
		"joined_date": time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		"team":        f.red,
	})
	f.jane = create(t, e, "Member", map[string]interface{}{
		"firstname": "Jane", "lastname": "Doe",
		"joined_date": time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),
		"team":        f.red,
	})
	f.bob = create(t, e, "Member", map[string]interface{}{
		"firstname": "Bob", "lastname": "Brown",
		"joined_date": time.Date(2026, 6, 20, 0, 0, 0, 0, time.UTC),
		"team":        f.blue,
	})
	f.solo = create(t, e, "Member", map[string]interface{}{
		"firstname": "Solo", "lastname": "Free",
	})

	f.johnProfile = create(t, e, "Profile", map[string]interface{}{
		"member": f.john, "level": "advanced",
	})

	f.spring = create(t, e, "Tournament", map[string]interface{}{"title": "Spring Open"})
	f.autumn = create(t, e, "Tournament", map[string]interface{}{"title": "Autumn Cup"})
	f.winter = create(t, e, "Tournament", map[string]interface{}{"title": "Winter Indoor"})

	require.NoError(t, f.john.Association("tournaments").Add(ctx, f.spring, f.autumn))
	require.NoError(t, f.jane.Association("tournaments").Add(ctx, f.spring))

	return f
}

func names(records []*relmap.Record, field string) []string {
	out := make([]string, len(records))
	for i, rec := range records {
		out[i] = rec.GetString(field)
	}
	return out
}

func TestOpenRequiresBackend(t *testing.T) {
	_, err := relmap.Open(nil, nil)
	assert.Error(t, err)
}

func TestModelUnknownPoisonsQuerySet(t *testing.T) {
	e, store := newClubEngine(t)
	store.ResetFetchCount()

	qs := e.Model("Nothing")
	require.ErrorIs(t, qs.Err(), relmap.ErrUnknownModel)

	// the error surfaces from every finisher, still without I/O
	_, err := qs.Filter(query.Eq("id", 1)).All(context.Background())
	require.ErrorIs(t, err, relmap.ErrUnknownModel)
	_, err = qs.Count(context.Background())
	require.ErrorIs(t, err, relmap.ErrUnknownModel)
	assert.Zero(t, store.FetchCount())
}

func TestEndToEndClub(t *testing.T) {
	e, store := newClubEngine(t)
	f := seedClub(t, e)
	ctx := context.Background()

	// relationship-traversing lookup from the far side of two hops
	advanced, err := e.Model("Profile").
		Filter(query.Eq("member__team__name", "Red"), query.Eq("level", "advanced")).
		All(ctx)
	require.NoError(t, err)
	require.Len(t, advanced, 1)
	assert.Equal(t, f.johnProfile.PK(), advanced[0].PK())

	// reverse traversal: teams having a member enrolled in the Spring Open
	teams, err := e.Model("Team").
		Filter(query.Eq("members__tournaments__title", "Spring Open")).
		OrderBy("name").
		All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Red"}, names(teams, "name"))

	// eager loading keeps the fetch count bounded by path depth
	store.ResetFetchCount()
	members, err := e.Model("Member").
		Preload("team").
		Preload("tournaments").
		All(ctx)
	require.NoError(t, err)
	require.Len(t, members, 4)
	assert.Equal(t, int64(3), store.FetchCount()) // merged join + join table + tournaments

	john := members[2] // default ordering by firstname: Bob, Jane, John, Solo
	assert.Equal(t, "John", john.GetString("firstname"))
	team, err := john.Related(ctx, "team")
	require.NoError(t, err)
	require.NotNil(t, team)
	assert.Equal(t, "Red", team.GetString("name"))
	tournaments, err := john.RelatedAll(ctx, "tournaments")
	require.NoError(t, err)
	assert.Len(t, tournaments, 2)
	assert.Equal(t, int64(3), store.FetchCount())
}

func TestBootstrapProvisionsJoinTables(t *testing.T) {
	e, _ := newClubEngine(t)
	f := seedClub(t, e)
	ctx := context.Background()

	// the join table's pair constraint makes duplicate links impossible
	err := f.john.Association("tournaments").Add(ctx, f.spring)
	require.NoError(t, err) // idempotent add swallows the violation

	count, err := f.john.Association("tournaments").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}
