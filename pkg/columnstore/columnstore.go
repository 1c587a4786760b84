// Package columnstore defines the wide-column storage contract used by the
// entity serializations and the keyspace-backed info store.
//
// A [Keyspace] is an opaque transactional mutation sink plus a read path
// returning ordered columns of a row. Writes are collected in a [Batch]
// and applied atomically by [Batch.Execute]. Batches produced by different
// serializations can be combined with [Batch.MergeShallow] so that a
// caller sees a single logical write.
//
// Two implementations exist: package memory keeps everything in process
// and package cassandra stores rows in legacy wide-row CQL tables.
package columnstore

import (
	"bytes"
	"context"
	"regexp"

	"github.com/joomcode/errorx"
)

var (
	ErrNamespace = errorx.NewNamespace("columnstore")

	// UnknownTableError is returned when reading or writing a table that
	// was never created with EnsureTable.
	UnknownTableError = ErrNamespace.NewType("unknown_table", errorx.NotFound())
)

// Keyspace is a set of tables, each holding rows of byte-ordered columns.
type Keyspace interface {
	// PrepareBatch returns an empty batch bound to this keyspace.
	PrepareBatch() *Batch

	// Execute applies every mutation of batch atomically.
	Execute(ctx context.Context, batch *Batch) error

	// EnsureTable creates table if it does not exist yet.
	EnsureTable(ctx context.Context, table string) error

	// Slice reads columns of a single row.
	Slice(ctx context.Context, query SliceQuery) ([]Column, error)

	// Rows calls fn for every row key of table. Iteration stops at the
	// first error returned by fn.
	Rows(ctx context.Context, table string, fn func(rowKey []byte) error) error

	Close() error
}

// Column is a single named cell of a row.
type Column struct {
	Name  []byte
	Value []byte
}

// SliceQuery selects columns of one row whose names fall within
// [From, To]. Nil bounds are open. Results are ordered by name, descending
// when Reversed is set, and truncated to Limit when it is positive.
type SliceQuery struct {
	Table    string
	RowKey   []byte
	From     []byte
	To       []byte
	Reversed bool
	Limit    int
}

// Contains reports whether name lies within the query bounds.
func (q SliceQuery) Contains(name []byte) bool {
	if q.From != nil && bytes.Compare(name, q.From) < 0 {
		return false
	}
	if q.To != nil && bytes.Compare(name, q.To) > 0 {
		return false
	}
	return true
}

var tableName = regexp.MustCompile(`^[a-z][a-z0-9_]{0,47}$`)

// ValidateTable rejects table names that are not plain lowercase
// identifiers. Table names are interpolated into statements by some
// implementations.
func ValidateTable(table string) error {
	if !tableName.MatchString(table) {
		return errorx.IllegalArgument.New("invalid table name %q", table)
	}
	return nil
}
