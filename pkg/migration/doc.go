// Package migration orchestrates online data migrations across a running
// cluster.
//
// A [Plugin] owns a named sequence of [Step] values, each producing one
// version of the plugin's data. The [Manager] holds the registry of plugins,
// runs them, and answers version and status queries. All state lives in an
// [InfoStore] shared by every process; the manager never treats its own
// memory as the source of truth.
//
// # Running migrations
//
//	plugin, err := migration.NewStepPlugin("collections-entity-data", 2, infoStore, provider,
//		ensureTables, copyEntities)
//	if err != nil {
//		return err
//	}
//	manager, err := migration.NewManager([]migration.Plugin{plugin}, infoStore,
//		migration.WithLogger(&logger))
//	if err != nil {
//		return err
//	}
//	err = manager.Migrate(ctx)
//
// Each run gets a fresh [ProgressObserver]. Steps report progress with
// Update and failures with Failed or FailedWithCause. A failure stores
// status ERROR together with the reason and stops the plugin; the version
// stays at the last step that completed, so running Migrate again resumes
// from there. Partial writes of the failed step are not rolled back.
//
// # Versions on the request path
//
// [Manager.CurrentVersion] always reads the info store. [Manager.CachedVersion]
// serves a per-process copy for up to the configured TTL (one minute by
// default) and is meant for hot paths such as the versioned proxies in
// package versioned. [Manager.Invalidate] clears the local copy only; other
// processes converge when their own entries expire.
//
// # Status codes
//
// Status codes are persisted as integers: COMPLETE=1, RUNNING=2, ERROR=3.
// Zero means the plugin never ran. Any other stored value is reported as a
// [CorruptStatusError].
package migration
