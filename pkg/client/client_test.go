package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/datamigration/pkg/client"
	"github.com/surrealdb/datamigration/pkg/config"
	"github.com/surrealdb/datamigration/pkg/datamigration"
	"github.com/surrealdb/datamigration/pkg/migration"
	"github.com/surrealdb/datamigration/pkg/store/entitymigration"
)

func newServer(t *testing.T) *client.Client {
	t.Helper()
	app, err := datamigration.New(context.Background(), config.Default(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	server := httptest.NewServer(app.Handler())
	t.Cleanup(server.Close)
	return client.NewClient(server.URL + "/")
}

func TestClient_Lifecycle(t *testing.T) {
	ctx := context.Background()
	c := newServer(t)

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)

	plugins, err := c.Plugins(ctx)
	require.NoError(t, err)
	require.Len(t, plugins, 1)
	assert.Equal(t, entitymigration.PluginName, plugins[0].Name)
	assert.Equal(t, migration.StatusUnknown, plugins[0].StatusCode)

	running, err := c.IsRunning(ctx)
	require.NoError(t, err)
	assert.False(t, running)

	plugins, err = c.Migrate(ctx)
	require.NoError(t, err)
	require.Len(t, plugins, 1)
	assert.Equal(t, "complete", plugins[0].State)

	version, err := c.Version(ctx, entitymigration.PluginName)
	require.NoError(t, err)
	assert.Equal(t, entitymigration.MaxVersion, version)

	status, err := c.ResetToVersion(ctx, entitymigration.PluginName, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Version)

	require.NoError(t, c.Invalidate(ctx))

	status, err = c.Plugin(ctx, entitymigration.PluginName)
	require.NoError(t, err)
	assert.Equal(t, 1, status.CachedVersion)
}

func TestClient_Errors(t *testing.T) {
	ctx := context.Background()
	c := newServer(t)

	_, err := c.Plugin(ctx, "missing")
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "could not be found")

	_, err = c.ResetToVersion(ctx, entitymigration.PluginName, 99)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "status=400")
}

func TestClient_NonJSONError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := client.NewClient(server.URL).Health(context.Background())
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "upstream unavailable")
}
