package datamigration

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/joomcode/errorx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/datamigration/pkg/api"
	"github.com/surrealdb/datamigration/pkg/config"
	"github.com/surrealdb/datamigration/pkg/migration"
	"github.com/surrealdb/datamigration/pkg/models"
	"github.com/surrealdb/datamigration/pkg/store/entitymigration"
	"github.com/surrealdb/datamigration/pkg/versioned"
)

var testScope = models.CollectionScope{
	Application: models.NewID("application"),
	Owner:       models.NewID("organization"),
	Name:        "users",
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	logger := zerolog.Nop()
	app, err := New(context.Background(), config.Default(), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close()) })
	return app
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, reader))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func writeEntity(t *testing.T, app *App) models.MvccEntity {
	t.Helper()
	version, err := models.NewVersion()
	require.NoError(t, err)
	id := models.NewID("user")
	entity := models.MvccEntity{
		ID:      id,
		Version: version,
		Status:  models.StatusComplete,
		Entity:  &models.Entity{ID: id, Fields: map[string]any{"name": "ada"}},
	}
	batch, err := app.Entities().Write(testScope, entity)
	require.NoError(t, err)
	require.NoError(t, batch.Execute(context.Background()))
	return entity
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.InfoStore.Backend = "etcd"

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.True(t, errorx.IsOfType(err, config.InvalidError))
}

func TestHealth(t *testing.T) {
	app := newTestApp(t)

	rec := do(t, app.Handler(), http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, api.HealthResponse{Status: "ok", Plugins: 1}, decode[api.HealthResponse](t, rec))
}

func TestPlugins_BeforeMigration(t *testing.T) {
	app := newTestApp(t)

	rec := do(t, app.Handler(), http.MethodGet, "/api/plugins", "")
	require.Equal(t, http.StatusOK, rec.Code)

	list := decode[api.PluginList](t, rec)
	require.Len(t, list.Plugins, 1)
	assert.Equal(t, api.PluginStatus{
		Name:       entitymigration.PluginName,
		MaxVersion: entitymigration.MaxVersion,
		StatusCode: migration.StatusUnknown,
		State:      "unknown",
	}, list.Plugins[0])

	rec = do(t, app.Handler(), http.MethodGet, "/api/plugins/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decode[api.ErrorResponse](t, rec).Error, "could not be found")
}

func TestMigrate_SwitchesEntitiesToCurrent(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	router := app.Entities().Router()

	target, err := router.Select(ctx)
	require.NoError(t, err)
	assert.Equal(t, versioned.Previous, target)

	written := writeEntity(t, app)

	rec := do(t, app.Handler(), http.MethodPost, "/api/migrate", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	list := decode[api.PluginList](t, rec)
	require.Len(t, list.Plugins, 1)
	status := list.Plugins[0]
	assert.Equal(t, entitymigration.MaxVersion, status.Version)
	assert.Equal(t, entitymigration.MaxVersion, status.CachedVersion)
	assert.Equal(t, migration.StatusComplete, status.StatusCode)
	assert.Equal(t, "Migration version 2.  Migration complete", status.Message)

	target, err = router.Select(ctx)
	require.NoError(t, err)
	assert.Equal(t, versioned.Current, target)

	loaded, found, err := app.Entities().LoadOne(ctx, testScope, written.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, written.Version, loaded.Version)
	assert.Equal(t, "ada", loaded.Entity.Fields["name"])
}

func TestMigrate_ConflictWhileRunning(t *testing.T) {
	app := newTestApp(t)

	app.migrating.Store(true)
	rec := do(t, app.Handler(), http.MethodPost, "/api/migrate", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, app.Handler(), http.MethodGet, "/api/running", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[api.RunningResponse](t, rec).Running)

	err := app.Migrate(context.Background())
	require.Error(t, err)
	assert.True(t, errorx.IsOfType(err, AlreadyRunningError))

	app.migrating.Store(false)
}

func TestMigrate_ResumesStaleRunningStatus(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	// A process that died mid run leaves RUNNING behind.
	require.NoError(t, app.infoStore.SetVersion(ctx, entitymigration.PluginName, 1))
	require.NoError(t, app.infoStore.SetStatusCode(ctx, entitymigration.PluginName, int(migration.StatusRunning)))

	rec := do(t, app.Handler(), http.MethodPost, "/api/migrate", "")
	require.Equal(t, http.StatusOK, rec.Code)

	list := decode[api.PluginList](t, rec)
	require.Len(t, list.Plugins, 1)
	assert.Equal(t, migration.StatusComplete, list.Plugins[0].StatusCode)
	assert.Equal(t, "complete", list.Plugins[0].State)
	assert.Equal(t, entitymigration.MaxVersion, list.Plugins[0].Version)

	rec = do(t, app.Handler(), http.MethodGet, "/api/running", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[api.RunningResponse](t, rec).Running)
}

func TestSetVersion(t *testing.T) {
	app := newTestApp(t)
	h := app.Handler()
	path := "/api/plugins/" + entitymigration.PluginName + "/version"

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"unknown plugin", "/api/plugins/missing/version", `{"version":1}`, http.StatusNotFound},
		{"above max", path, `{"version":3}`, http.StatusBadRequest},
		{"negative", path, `{"version":-1}`, http.StatusBadRequest},
		{"missing version", path, `{}`, http.StatusBadRequest},
		{"malformed body", path, `{"version":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPut, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[api.ErrorResponse](t, rec).Error)
		})
	}

	version, err := app.Manager().CurrentVersion(context.Background(), entitymigration.PluginName)
	require.NoError(t, err)
	assert.Zero(t, version, "rejected requests must not write")

	rec := do(t, h, http.MethodPut, path, `{"version":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[api.PluginStatus](t, rec).Version)

	version, err = app.Manager().CurrentVersion(context.Background(), entitymigration.PluginName)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestInvalidate_RefreshesCachedVersion(t *testing.T) {
	app := newTestApp(t)
	h := app.Handler()
	path := "/api/plugins/" + entitymigration.PluginName

	// Populate the cache with version 0.
	rec := do(t, h, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[api.PluginStatus](t, rec).CachedVersion)

	require.NoError(t, app.infoStore.SetVersion(context.Background(), entitymigration.PluginName, 2))

	rec = do(t, h, http.MethodGet, path, "")
	status := decode[api.PluginStatus](t, rec)
	assert.Equal(t, 2, status.Version)
	assert.Zero(t, status.CachedVersion, "the cached value lives until the TTL expires")

	rec = do(t, h, http.MethodPost, "/api/invalidate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[api.InvalidateResponse](t, rec).Invalidated)

	rec = do(t, h, http.MethodGet, path, "")
	assert.Equal(t, 2, decode[api.PluginStatus](t, rec).CachedVersion)
}

func TestMetricsEndpoint(t *testing.T) {
	app := newTestApp(t)
	h := app.Handler()

	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/plugins", "").Code)

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(),
		`datamigration_http_requests_total{method="GET",route="/api/plugins",status_code="200"} 1`)
	assert.Contains(t, rec.Body.String(), `datamigration_version_cache_lookups_total`)
}

func TestMetricsDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Enabled = false
	app, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer app.Close()

	assert.Nil(t, app.Metrics())
	assert.Equal(t, http.StatusNotFound, do(t, app.Handler(), http.MethodGet, "/metrics", "").Code)
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Address = "127.0.0.1:0"
	app, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	cancel()

	require.NoError(t, <-done)
}

func TestLoggerReceivesRequests(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	app, err := New(context.Background(), config.Default(), &logger)
	require.NoError(t, err)
	defer app.Close()

	do(t, app.Handler(), http.MethodGet, "/api/running", "")
	assert.Contains(t, buf.String(), `"route":"/api/running"`)
	assert.Contains(t, buf.String(), `"message":"Handled request"`)
}
