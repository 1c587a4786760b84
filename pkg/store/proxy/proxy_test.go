package proxy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/datamigration/pkg/columnstore/memory"
	"github.com/surrealdb/datamigration/pkg/models"
	"github.com/surrealdb/datamigration/pkg/store"
	"github.com/surrealdb/datamigration/pkg/store/proxy"
	v1 "github.com/surrealdb/datamigration/pkg/store/v1"
	v2 "github.com/surrealdb/datamigration/pkg/store/v2"
	"github.com/surrealdb/datamigration/pkg/versioned"
)

type staticSource struct {
	version int
}

func (s *staticSource) CachedVersion(context.Context, string) (int, error)  { return s.version, nil }
func (s *staticSource) CurrentVersion(context.Context, string) (int, error) { return s.version, nil }

var scope = models.CollectionScope{
	Application: models.NewID("application"),
	Owner:       models.NewID("organization"),
	Name:        "things",
}

type fixture struct {
	source   *staticSource
	previous *store.WideRow
	current  *store.WideRow
	proxy    *proxy.Serialization
}

func newFixture(t *testing.T, version int) *fixture {
	t.Helper()
	ks := memory.New()
	f := &fixture{
		source:   &staticSource{version: version},
		previous: v1.New(ks),
		current:  v2.New(ks),
	}
	router, err := versioned.NewRouter[store.EntitySerialization](
		"collections-entity-data", 2, f.previous, f.current, f.source)
	require.NoError(t, err)
	f.proxy = proxy.New(ks, router)
	require.NoError(t, f.proxy.Migrate(context.Background()))
	return f
}

func newEntity(t *testing.T) models.MvccEntity {
	t.Helper()
	version, err := models.NewVersion()
	require.NoError(t, err)
	id := models.NewID("thing")
	return models.MvccEntity{
		ID:      id,
		Version: version,
		Status:  models.StatusComplete,
		Entity:  &models.Entity{ID: id, Fields: map[string]any{"colour": "blue"}},
	}
}

func TestProxy_OldStateWritesBoth(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	entity := newEntity(t)

	batch, err := f.proxy.Write(scope, entity)
	require.NoError(t, err)
	require.Equal(t, 2, batch.Len(), "one mutation per serialization")
	assert.Equal(t, v1.Table, batch.Mutations()[0].Table, "previous is written first")
	assert.Equal(t, v2.Table, batch.Mutations()[1].Table)
	require.NoError(t, batch.Execute(ctx))

	for _, s := range []*store.WideRow{f.previous, f.current} {
		_, found, err := s.LoadOne(ctx, scope, entity.ID)
		require.NoError(t, err)
		assert.True(t, found, "entity must be in %s", s.Table())
	}
}

func TestProxy_OldStateReadsPrevious(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	entity := newEntity(t)

	batch, err := f.previous.Write(scope, entity)
	require.NoError(t, err)
	require.NoError(t, batch.Execute(ctx))

	got, found, err := f.proxy.LoadOne(ctx, scope, entity.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, entity.Version, got.Version)

	f.source.version = 2
	_, found, err = f.proxy.LoadOne(ctx, scope, entity.ID)
	require.NoError(t, err)
	assert.False(t, found, "after the switch reads go to the current serialization only")
}

func TestProxy_CurrentState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	entity := newEntity(t)

	batch, err := f.proxy.Write(scope, entity)
	require.NoError(t, err)
	require.Equal(t, 1, batch.Len())
	require.NoError(t, batch.Execute(ctx))

	_, found, err := f.previous.LoadOne(ctx, scope, entity.ID)
	require.NoError(t, err)
	assert.False(t, found)

	set, err := f.proxy.Load(ctx, scope, []models.ID{entity.ID}, entity.Version)
	require.NoError(t, err)
	assert.Equal(t, 1, set.Len())

	var scanned []models.ID
	require.NoError(t, f.proxy.Scan(ctx, func(ref store.EntityRef) error {
		scanned = append(scanned, ref.ID)
		return nil
	}))
	assert.Equal(t, []models.ID{entity.ID}, scanned)
	assert.Equal(t, 2, f.proxy.ImplementationVersion())
}

func TestProxy_MarkAndDeleteFollowRouting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	entity := newEntity(t)

	batch, err := f.proxy.Mark(scope, entity.ID, entity.Version)
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Len())
	require.NoError(t, batch.Execute(ctx))

	it, err := f.proxy.LoadDescendingHistory(ctx, scope, entity.ID, entity.Version, 10)
	require.NoError(t, err)
	require.True(t, it.Next(ctx))
	assert.Equal(t, models.StatusDeleted, it.Entity().Status)

	batch, err = f.proxy.Delete(scope, entity.ID, entity.Version)
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Len())
	require.NoError(t, batch.Execute(ctx))

	_, found, err := f.current.LoadOne(ctx, scope, entity.ID)
	require.NoError(t, err)
	assert.False(t, found)
}
