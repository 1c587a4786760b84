// Package proxy serves an entity serialization whose storage representation
// is being migrated. While the governing plugin is behind the target
// version every write is applied to the previous and the current
// serialization in one keyspace batch and reads come from the previous
// one; afterwards the current serialization handles everything.
package proxy

import (
	"context"

	"github.com/google/uuid"
	"github.com/joomcode/errorx"
	"github.com/surrealdb/datamigration/pkg/columnstore"
	"github.com/surrealdb/datamigration/pkg/models"
	"github.com/surrealdb/datamigration/pkg/store"
	"github.com/surrealdb/datamigration/pkg/versioned"
)

// Serialization is the dual-write proxy.
type Serialization struct {
	keyspace columnstore.Keyspace
	router   *versioned.Router[store.EntitySerialization]
}

var (
	_ store.EntitySerialization = (*Serialization)(nil)
	_ store.Scanner             = (*Serialization)(nil)
)

// New wraps router. keyspace prepares the combined batches and must be the
// keyspace both serializations write to.
func New(keyspace columnstore.Keyspace, router *versioned.Router[store.EntitySerialization]) *Serialization {
	return &Serialization{keyspace: keyspace, router: router}
}

// Router returns the routing decision maker.
func (s *Serialization) Router() *versioned.Router[store.EntitySerialization] {
	return s.router
}

func (s *Serialization) Write(scope models.CollectionScope, entity models.MvccEntity) (*columnstore.Batch, error) {
	return s.write(func(target store.EntitySerialization) (*columnstore.Batch, error) {
		return target.Write(scope, entity)
	})
}

func (s *Serialization) Mark(scope models.CollectionScope, id models.ID, version uuid.UUID) (*columnstore.Batch, error) {
	return s.write(func(target store.EntitySerialization) (*columnstore.Batch, error) {
		return target.Mark(scope, id, version)
	})
}

func (s *Serialization) Delete(scope models.CollectionScope, id models.ID, version uuid.UUID) (*columnstore.Batch, error) {
	return s.write(func(target store.EntitySerialization) (*columnstore.Batch, error) {
		return target.Delete(scope, id, version)
	})
}

// write builds the batch of every routed writer and merges them, previous
// first, into a single batch.
//
// Batch-building operations carry no context, so routing uses a
// background one. Cached lookups only block on a cache miss.
func (s *Serialization) write(op func(store.EntitySerialization) (*columnstore.Batch, error)) (*columnstore.Batch, error) {
	writers, err := s.router.Writers(context.Background())
	if err != nil {
		return nil, err
	}

	merged := s.keyspace.PrepareBatch()
	for _, w := range writers {
		batch, err := op(w)
		if err != nil {
			return nil, errorx.Decorate(err, "implementation version %d", w.ImplementationVersion())
		}
		merged.MergeShallow(batch)
	}
	return merged, nil
}

func (s *Serialization) Load(ctx context.Context, scope models.CollectionScope, ids []models.ID, maxVersion uuid.UUID) (*models.EntitySet, error) {
	reader, err := s.router.Reader(ctx)
	if err != nil {
		return nil, err
	}
	return reader.Load(ctx, scope, ids, maxVersion)
}

func (s *Serialization) LoadOne(ctx context.Context, scope models.CollectionScope, id models.ID) (models.MvccEntity, bool, error) {
	reader, err := s.router.Reader(ctx)
	if err != nil {
		return models.MvccEntity{}, false, err
	}
	return reader.LoadOne(ctx, scope, id)
}

func (s *Serialization) LoadAscendingHistory(ctx context.Context, scope models.CollectionScope, id models.ID, version uuid.UUID, fetchSize int) (*store.EntityIterator, error) {
	reader, err := s.router.Reader(ctx)
	if err != nil {
		return nil, err
	}
	return reader.LoadAscendingHistory(ctx, scope, id, version, fetchSize)
}

func (s *Serialization) LoadDescendingHistory(ctx context.Context, scope models.CollectionScope, id models.ID, version uuid.UUID, fetchSize int) (*store.EntityIterator, error) {
	reader, err := s.router.Reader(ctx)
	if err != nil {
		return nil, err
	}
	return reader.LoadDescendingHistory(ctx, scope, id, version, fetchSize)
}

// Scan enumerates entities of the serialization currently serving reads.
func (s *Serialization) Scan(ctx context.Context, fn func(store.EntityRef) error) error {
	reader, err := s.router.Reader(ctx)
	if err != nil {
		return err
	}
	scanner, ok := reader.(store.Scanner)
	if !ok {
		return errorx.IllegalState.New("implementation version %d cannot be scanned", reader.ImplementationVersion())
	}
	return scanner.Scan(ctx, fn)
}

// Migrate creates the tables of both serializations. Writes reach both
// while the plugin is behind, so both must exist before traffic starts.
func (s *Serialization) Migrate(ctx context.Context) error {
	for _, target := range []versioned.Target{versioned.Previous, versioned.Current} {
		if err := s.router.Get(target).Migrate(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ImplementationVersion reports the representation the proxy converges to.
func (s *Serialization) ImplementationVersion() int {
	return s.router.Get(versioned.Current).ImplementationVersion()
}
