// Package memory provides an in-process [columnstore.Keyspace].
//
// Rows and columns are kept in maps and sorted on read. Batches are applied
// under a single lock, so every batch is atomic with respect to readers.
// It backs unit tests and single-node runs; data does not survive the
// process.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/surrealdb/datamigration/pkg/columnstore"
)

type table map[string]map[string][]byte

// Keyspace is an in-memory column store.
type Keyspace struct {
	mu     sync.RWMutex
	tables map[string]table
}

var _ columnstore.Keyspace = (*Keyspace)(nil)

func New() *Keyspace {
	return &Keyspace{tables: make(map[string]table)}
}

func (k *Keyspace) PrepareBatch() *columnstore.Batch {
	return columnstore.NewBatch(k)
}

func (k *Keyspace) EnsureTable(_ context.Context, name string) error {
	if err := columnstore.ValidateTable(name); err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.tables[name]; !ok {
		k.tables[name] = make(table)
	}
	return nil
}

func (k *Keyspace) Execute(ctx context.Context, batch *columnstore.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	// Validate first so a batch is applied entirely or not at all.
	for _, m := range batch.Mutations() {
		if _, ok := k.tables[m.Table]; !ok {
			return columnstore.UnknownTableError.New("table %q does not exist", m.Table)
		}
	}

	for _, m := range batch.Mutations() {
		t := k.tables[m.Table]
		row := string(m.RowKey)

		switch m.Kind {
		case columnstore.PutColumn:
			columns, ok := t[row]
			if !ok {
				columns = make(map[string][]byte)
				t[row] = columns
			}
			columns[string(m.Column)] = bytes.Clone(m.Value)
		case columnstore.DeleteColumn:
			if columns, ok := t[row]; ok {
				delete(columns, string(m.Column))
				if len(columns) == 0 {
					delete(t, row)
				}
			}
		case columnstore.DeleteRow:
			delete(t, row)
		}
	}
	return nil
}

func (k *Keyspace) Slice(ctx context.Context, q columnstore.SliceQuery) ([]columnstore.Column, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	k.mu.RLock()
	defer k.mu.RUnlock()

	t, ok := k.tables[q.Table]
	if !ok {
		return nil, columnstore.UnknownTableError.New("table %q does not exist", q.Table)
	}

	columns := t[string(q.RowKey)]
	names := make([]string, 0, len(columns))
	for name := range columns {
		if q.Contains([]byte(name)) {
			names = append(names, name)
		}
	}

	sort.Strings(names)
	if q.Reversed {
		sort.Sort(sort.Reverse(sort.StringSlice(names)))
	}
	if q.Limit > 0 && len(names) > q.Limit {
		names = names[:q.Limit]
	}

	result := make([]columnstore.Column, len(names))
	for i, name := range names {
		result[i] = columnstore.Column{
			Name:  []byte(name),
			Value: bytes.Clone(columns[name]),
		}
	}
	return result, nil
}

func (k *Keyspace) Rows(ctx context.Context, name string, fn func(rowKey []byte) error) error {
	k.mu.RLock()
	t, ok := k.tables[name]
	if !ok {
		k.mu.RUnlock()
		return columnstore.UnknownTableError.New("table %q does not exist", name)
	}
	keys := make([]string, 0, len(t))
	for key := range t {
		keys = append(keys, key)
	}
	k.mu.RUnlock()

	sort.Strings(keys)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn([]byte(key)); err != nil {
			return err
		}
	}
	return nil
}

func (k *Keyspace) Close() error { return nil }
