// Package store defines the entity serialization abstraction whose storage
// representation is migrated while the cluster keeps serving traffic.
//
// An [EntitySerialization] stores every version of every entity of a
// collection. Mutating operations do not touch the keyspace: they return a
// [columnstore.Batch] the caller executes, possibly merged with batches of
// other serializations. Reads go to the keyspace directly.
//
// Concrete encodings live in subpackages: v1 keeps JSON columns in rows
// keyed by scope then id, v2 keeps CBOR columns in rows keyed by id then
// scope. Package proxy routes between two encodings depending on the
// migration version, and package entitymigration moves data from one to
// the other.
package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/surrealdb/datamigration/pkg/columnstore"
	"github.com/surrealdb/datamigration/pkg/models"
)

// EntitySerialization reads and writes entity versions.
type EntitySerialization interface {
	// Write stores a version of an entity.
	Write(scope models.CollectionScope, entity models.MvccEntity) (*columnstore.Batch, error)

	// Load returns, for each id, the newest version not newer than
	// maxVersion. Ids without such a version are absent from the set.
	Load(ctx context.Context, scope models.CollectionScope, ids []models.ID, maxVersion uuid.UUID) (*models.EntitySet, error)

	// LoadOne returns the newest version of id.
	LoadOne(ctx context.Context, scope models.CollectionScope, id models.ID) (models.MvccEntity, bool, error)

	// LoadAscendingHistory iterates versions of id from version upwards,
	// fetching fetchSize versions per round trip.
	LoadAscendingHistory(ctx context.Context, scope models.CollectionScope, id models.ID, version uuid.UUID, fetchSize int) (*EntityIterator, error)

	// LoadDescendingHistory iterates versions of id from version downwards,
	// fetching fetchSize versions per round trip.
	LoadDescendingHistory(ctx context.Context, scope models.CollectionScope, id models.ID, version uuid.UUID, fetchSize int) (*EntityIterator, error)

	// Mark writes a tombstone version for id.
	Mark(scope models.CollectionScope, id models.ID, version uuid.UUID) (*columnstore.Batch, error)

	// Delete removes a single version of id.
	Delete(scope models.CollectionScope, id models.ID, version uuid.UUID) (*columnstore.Batch, error)

	// Migrate creates the tables the serialization needs.
	Migrate(ctx context.Context) error

	// ImplementationVersion identifies the storage representation.
	ImplementationVersion() int
}

// EntityRef addresses one entity of one collection.
type EntityRef struct {
	Scope models.CollectionScope
	ID    models.ID
}

// Scanner enumerates every entity stored by a serialization.
type Scanner interface {
	Scan(ctx context.Context, fn func(ref EntityRef) error) error
}
