package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/joomcode/errorx"
	"github.com/surrealdb/datamigration/pkg/codec"
	"github.com/surrealdb/datamigration/pkg/columnstore"
	"github.com/surrealdb/datamigration/pkg/models"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNamespace = errorx.NewNamespace("store")

	// CorruptEntityError is returned when a stored column cannot be decoded.
	CorruptEntityError = ErrNamespace.NewType("corrupt_entity")
)

// DefaultLoadConcurrency bounds the number of parallel row reads issued by
// Load.
const DefaultLoadConcurrency = 8

// Layout is the part of a serialization that differs between storage
// representations: where rows live and how a version is encoded.
type Layout interface {
	Table() string
	RowKey(scope models.CollectionScope, id models.ID) ([]byte, error)
	ParseRowKey(rowKey []byte) (EntityRef, error)
	EncodeValue(entity models.MvccEntity) ([]byte, error)
	DecodeValue(id models.ID, version uuid.UUID, value []byte) (models.MvccEntity, error)
}

// WideRow stores each entity in its own row with one column per version.
// Column names are encoded versions, so a row slice is a time-ordered
// history.
type WideRow struct {
	keyspace        columnstore.Keyspace
	layout          Layout
	implVersion     int
	loadConcurrency int
}

var (
	_ EntitySerialization = (*WideRow)(nil)
	_ Scanner             = (*WideRow)(nil)
)

// WideRowOption configures a WideRow.
type WideRowOption func(*WideRow)

// WithLoadConcurrency sets how many rows Load reads in parallel.
func WithLoadConcurrency(n int) WideRowOption {
	return func(w *WideRow) {
		if n > 0 {
			w.loadConcurrency = n
		}
	}
}

// NewWideRow returns a serialization storing rows of layout in keyspace.
func NewWideRow(keyspace columnstore.Keyspace, layout Layout, implVersion int, opts ...WideRowOption) *WideRow {
	w := &WideRow{
		keyspace:        keyspace,
		layout:          layout,
		implVersion:     implVersion,
		loadConcurrency: DefaultLoadConcurrency,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *WideRow) ImplementationVersion() int { return w.implVersion }

// Table returns the table holding the rows.
func (w *WideRow) Table() string { return w.layout.Table() }

func (w *WideRow) Migrate(ctx context.Context) error {
	if err := w.keyspace.EnsureTable(ctx, w.layout.Table()); err != nil {
		return errorx.Decorate(err, "failed to create table %s", w.layout.Table())
	}
	return nil
}

func (w *WideRow) Write(scope models.CollectionScope, entity models.MvccEntity) (*columnstore.Batch, error) {
	if entity.Status != models.StatusDeleted && entity.Entity == nil {
		return nil, errorx.IllegalArgument.New("entity %s version %s has no payload", entity.ID, entity.Version)
	}
	rowKey, err := w.layout.RowKey(scope, entity.ID)
	if err != nil {
		return nil, err
	}
	column, err := codec.VersionCodec{}.Encode(entity.Version)
	if err != nil {
		return nil, err
	}
	value, err := w.layout.EncodeValue(entity)
	if err != nil {
		return nil, errorx.Decorate(err, "failed to encode entity %s", entity.ID)
	}
	return w.keyspace.PrepareBatch().Put(w.layout.Table(), rowKey, column, value), nil
}

func (w *WideRow) Mark(scope models.CollectionScope, id models.ID, version uuid.UUID) (*columnstore.Batch, error) {
	return w.Write(scope, models.MvccEntity{ID: id, Version: version, Status: models.StatusDeleted})
}

func (w *WideRow) Delete(scope models.CollectionScope, id models.ID, version uuid.UUID) (*columnstore.Batch, error) {
	rowKey, err := w.layout.RowKey(scope, id)
	if err != nil {
		return nil, err
	}
	column, err := codec.VersionCodec{}.Encode(version)
	if err != nil {
		return nil, err
	}
	return w.keyspace.PrepareBatch().DeleteColumn(w.layout.Table(), rowKey, column), nil
}

func (w *WideRow) Load(ctx context.Context, scope models.CollectionScope, ids []models.ID, maxVersion uuid.UUID) (*models.EntitySet, error) {
	upper, err := codec.VersionCodec{}.Encode(maxVersion)
	if err != nil {
		return nil, err
	}

	set := models.NewEntitySet()
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.loadConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			entity, ok, err := w.latest(gctx, scope, id, upper)
			if err != nil || !ok {
				return err
			}
			mu.Lock()
			set.Add(entity)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return set, nil
}

func (w *WideRow) LoadOne(ctx context.Context, scope models.CollectionScope, id models.ID) (models.MvccEntity, bool, error) {
	return w.latest(ctx, scope, id, nil)
}

// latest reads the newest version of id not above upper. A nil upper
// bound reads the newest version overall.
func (w *WideRow) latest(ctx context.Context, scope models.CollectionScope, id models.ID, upper []byte) (models.MvccEntity, bool, error) {
	rowKey, err := w.layout.RowKey(scope, id)
	if err != nil {
		return models.MvccEntity{}, false, err
	}
	columns, err := w.keyspace.Slice(ctx, columnstore.SliceQuery{
		Table:    w.layout.Table(),
		RowKey:   rowKey,
		To:       upper,
		Reversed: true,
		Limit:    1,
	})
	if err != nil {
		return models.MvccEntity{}, false, errorx.Decorate(err, "failed to load entity %s", id)
	}
	if len(columns) == 0 {
		return models.MvccEntity{}, false, nil
	}
	entity, err := w.decode(id, columns[0])
	if err != nil {
		return models.MvccEntity{}, false, err
	}
	return entity, true, nil
}

func (w *WideRow) LoadAscendingHistory(ctx context.Context, scope models.CollectionScope, id models.ID, version uuid.UUID, fetchSize int) (*EntityIterator, error) {
	return w.history(scope, id, version, fetchSize, false)
}

func (w *WideRow) LoadDescendingHistory(ctx context.Context, scope models.CollectionScope, id models.ID, version uuid.UUID, fetchSize int) (*EntityIterator, error) {
	return w.history(scope, id, version, fetchSize, true)
}

func (w *WideRow) history(scope models.CollectionScope, id models.ID, version uuid.UUID, fetchSize int, reversed bool) (*EntityIterator, error) {
	if fetchSize <= 0 {
		return nil, errorx.IllegalArgument.New("fetch size must be positive, got %d", fetchSize)
	}
	rowKey, err := w.layout.RowKey(scope, id)
	if err != nil {
		return nil, err
	}
	start, err := codec.VersionCodec{}.Encode(version)
	if err != nil {
		return nil, err
	}
	return &EntityIterator{
		keyspace:  w.keyspace,
		table:     w.layout.Table(),
		rowKey:    rowKey,
		reversed:  reversed,
		cursor:    start,
		fetchSize: fetchSize,
		decode: func(c columnstore.Column) (models.MvccEntity, error) {
			return w.decode(id, c)
		},
	}, nil
}

// Scan calls fn for every entity row of the table.
func (w *WideRow) Scan(ctx context.Context, fn func(ref EntityRef) error) error {
	return w.keyspace.Rows(ctx, w.layout.Table(), func(rowKey []byte) error {
		ref, err := w.layout.ParseRowKey(rowKey)
		if err != nil {
			return CorruptEntityError.Wrap(err, "invalid row key in %s", w.layout.Table())
		}
		return fn(ref)
	})
}

func (w *WideRow) decode(id models.ID, column columnstore.Column) (models.MvccEntity, error) {
	version, err := codec.VersionCodec{}.Decode(column.Name)
	if err != nil {
		return models.MvccEntity{}, CorruptEntityError.Wrap(err, "invalid version column of %s", id)
	}
	entity, err := w.layout.DecodeValue(id, version, column.Value)
	if err != nil {
		return models.MvccEntity{}, CorruptEntityError.Wrap(err, "invalid value of %s version %s", id, version)
	}
	return entity, nil
}
