package versioned_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/datamigration/pkg/versioned"
)

type fakeSource struct {
	cached, direct int
	cachedCalls    int
	directCalls    int
	err            error
}

func (s *fakeSource) CachedVersion(context.Context, string) (int, error) {
	s.cachedCalls++
	return s.cached, s.err
}

func (s *fakeSource) CurrentVersion(context.Context, string) (int, error) {
	s.directCalls++
	return s.direct, s.err
}

type routeLog map[string][]versioned.Target

func (l routeLog) ObserveRoute(binding string, target versioned.Target) {
	l[binding] = append(l[binding], target)
}

func TestRouter_OldState(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{cached: 1}
	router, err := versioned.NewRouter("entities", 2, "v1", "v2", source)
	require.NoError(t, err)

	target, err := router.Select(ctx)
	require.NoError(t, err)
	assert.Equal(t, versioned.Previous, target)

	reader, err := router.Reader(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v1", reader)

	writers, err := router.Writers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2"}, writers)
}

func TestRouter_CurrentState(t *testing.T) {
	ctx := context.Background()
	for _, version := range []int{2, 3} {
		source := &fakeSource{cached: version}
		router, err := versioned.NewRouter("entities", 2, "v1", "v2", source)
		require.NoError(t, err)

		reader, err := router.Reader(ctx)
		require.NoError(t, err)
		assert.Equal(t, "v2", reader)

		writers, err := router.Writers(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"v2"}, writers)
	}
}

func TestRouter_ReevaluatesEveryCall(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{cached: 0}
	log := routeLog{}
	router, err := versioned.NewRouter("entities", 1, "old", "new", source,
		versioned.WithName("entity-serialization"),
		versioned.WithRecorder(log))
	require.NoError(t, err)

	reader, err := router.Reader(ctx)
	require.NoError(t, err)
	assert.Equal(t, "old", reader)

	source.cached = 1
	reader, err = router.Reader(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new", reader)

	assert.Equal(t, []versioned.Target{versioned.Previous, versioned.Current}, log["entity-serialization"])
	assert.Equal(t, 2, source.cachedCalls)
}

func TestRouter_LookupMode(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{cached: 0, direct: 5}

	router, err := versioned.NewRouter("entities", 5, 1, 2, source, versioned.WithLookupMode(versioned.LookupDirect))
	require.NoError(t, err)

	reader, err := router.Reader(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, reader)
	assert.Equal(t, 1, source.directCalls)
	assert.Equal(t, 0, source.cachedCalls)
}

func TestRouter_LookupError(t *testing.T) {
	source := &fakeSource{err: errors.New("store down")}
	router, err := versioned.NewRouter("entities", 1, "a", "b", source)
	require.NoError(t, err)

	_, err = router.Writers(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store down")
}

func TestNewRouter_Validation(t *testing.T) {
	source := &fakeSource{}

	_, err := versioned.NewRouter("", 1, "a", "b", source)
	assert.Error(t, err)

	_, err = versioned.NewRouter[string]("entities", 1, "a", "b", nil)
	assert.Error(t, err)

	_, err = versioned.NewRouter("entities", -1, "a", "b", source)
	assert.Error(t, err)

	_, err = versioned.NewRouter("entities", 1, "a", "b", source, versioned.WithLookupMode("sometimes"))
	assert.Error(t, err)
}

func TestParseLookupMode(t *testing.T) {
	mode, err := versioned.ParseLookupMode("")
	require.NoError(t, err)
	assert.Equal(t, versioned.LookupCached, mode)

	mode, err = versioned.ParseLookupMode("direct")
	require.NoError(t, err)
	assert.Equal(t, versioned.LookupDirect, mode)

	_, err = versioned.ParseLookupMode("eventually")
	assert.Error(t, err)
}
