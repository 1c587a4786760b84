// Package infostoretest holds the behaviour every migration.InfoStore
// backend must share.
package infostoretest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/datamigration/pkg/migration"
)

// Run exercises store. Plugin names are made unique per run so that
// backends sharing a database across tests do not interfere.
func Run(t *testing.T, store migration.InfoStore) {
	t.Helper()
	prefix := fmt.Sprintf("plugin-%d", time.Now().UnixNano())

	t.Run("UnwrittenPluginReadsZero", func(t *testing.T) {
		ctx := context.Background()
		plugin := prefix + "-unwritten"

		version, err := store.Version(ctx, plugin)
		require.NoError(t, err)
		assert.Zero(t, version)

		code, err := store.StatusCode(ctx, plugin)
		require.NoError(t, err)
		assert.Zero(t, code)

		message, err := store.StatusMessage(ctx, plugin)
		require.NoError(t, err)
		assert.Empty(t, message)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		ctx := context.Background()
		plugin := prefix + "-roundtrip"

		require.NoError(t, store.SetVersion(ctx, plugin, 2))
		require.NoError(t, store.SetStatusCode(ctx, plugin, int(migration.StatusComplete)))
		require.NoError(t, store.SetStatusMessage(ctx, plugin, "Migration version 2.  done"))

		version, err := store.Version(ctx, plugin)
		require.NoError(t, err)
		assert.Equal(t, 2, version)

		code, err := store.StatusCode(ctx, plugin)
		require.NoError(t, err)
		assert.Equal(t, int(migration.StatusComplete), code)

		message, err := store.StatusMessage(ctx, plugin)
		require.NoError(t, err)
		assert.Equal(t, "Migration version 2.  done", message)

		require.NoError(t, store.SetVersion(ctx, plugin, 0))
		version, err = store.Version(ctx, plugin)
		require.NoError(t, err)
		assert.Zero(t, version, "versions can be reset")

		code, err = store.StatusCode(ctx, plugin)
		require.NoError(t, err)
		assert.Equal(t, int(migration.StatusComplete), code, "fields are stored independently")
	})

	t.Run("PluginsAreIndependent", func(t *testing.T) {
		ctx := context.Background()
		first, second := prefix+"-first", prefix+"-second"

		require.NoError(t, store.SetVersion(ctx, first, 1))
		require.NoError(t, store.SetVersion(ctx, second, 3))

		version, err := store.Version(ctx, first)
		require.NoError(t, err)
		assert.Equal(t, 1, version)

		version, err = store.Version(ctx, second)
		require.NoError(t, err)
		assert.Equal(t, 3, version)
	})

	t.Run("ConcurrentWriters", func(t *testing.T) {
		ctx := context.Background()
		plugin := prefix + "-concurrent"

		var wg sync.WaitGroup
		for i := 1; i <= 8; i++ {
			wg.Add(1)
			go func(v int) {
				defer wg.Done()
				assert.NoError(t, store.SetVersion(ctx, plugin, v))
			}(i)
		}
		wg.Wait()

		version, err := store.Version(ctx, plugin)
		require.NoError(t, err)
		assert.True(t, version >= 1 && version <= 8, "got %d", version)
	})
}
