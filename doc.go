// Package datamigration is the root of a versioned data migration system
// for entities kept in a wide-column store.
//
// # Migrations
//
// A migration plugin ([github.com/surrealdb/datamigration/pkg/migration.Plugin])
// is a named, ordered list of steps. The
// [github.com/surrealdb/datamigration/pkg/migration.Manager] runs every
// plugin, persists each finished step's version and status in a
// cluster-visible info store, and answers version queries from a short-lived
// cache. Info stores live under pkg/infostore: the column store itself,
// SurrealDB, PostgreSQL and Redis.
//
// # Dual writes
//
// While a plugin has not reached its target version, a
// [github.com/surrealdb/datamigration/pkg/versioned.Router] sends writes to
// both the previous and the current implementation and reads from the
// previous one. Once the version is reached, every call goes to the current
// implementation. [github.com/surrealdb/datamigration/pkg/store/proxy]
// applies this to entity serializations, and
// [github.com/surrealdb/datamigration/pkg/store/entitymigration] is the
// plugin copying entity histories from the v1 to the v2 layout.
//
// # Operating
//
// The datamigration command (cmd/datamigration) serves an admin API built
// in [github.com/surrealdb/datamigration/pkg/datamigration] and talks to it
// through [github.com/surrealdb/datamigration/pkg/client]:
//
//	datamigration serve --config datamigration.yaml
//	datamigration plugins
//	datamigration reset collections-entity-data 1
//	datamigration migrate --remote
package datamigration
