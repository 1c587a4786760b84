// Package keyspace stores migration info in the column store that holds the
// migrated data, one row per plugin.
package keyspace

import (
	"context"
	"encoding/binary"

	"github.com/joomcode/errorx"
	"github.com/surrealdb/datamigration/pkg/columnstore"
	"github.com/surrealdb/datamigration/pkg/migration"
)

// Table holds the migration info rows.
const Table = "data_migration_info"

var (
	columnVersion       = []byte("version")
	columnStatusCode    = []byte("status_code")
	columnStatusMessage = []byte("status_message")
)

// InfoStore is a migration.InfoStore over a columnstore.Keyspace.
type InfoStore struct {
	keyspace columnstore.Keyspace
}

var _ migration.InfoStore = (*InfoStore)(nil)

// New creates the info table if needed.
func New(ctx context.Context, keyspace columnstore.Keyspace) (*InfoStore, error) {
	if err := keyspace.EnsureTable(ctx, Table); err != nil {
		return nil, errorx.Decorate(err, "failed to create migration info table")
	}
	return &InfoStore{keyspace: keyspace}, nil
}

func (s *InfoStore) Version(ctx context.Context, plugin string) (int, error) {
	return s.readInt(ctx, plugin, columnVersion)
}

func (s *InfoStore) SetVersion(ctx context.Context, plugin string, version int) error {
	return s.writeInt(ctx, plugin, columnVersion, version)
}

func (s *InfoStore) StatusCode(ctx context.Context, plugin string) (int, error) {
	return s.readInt(ctx, plugin, columnStatusCode)
}

func (s *InfoStore) SetStatusCode(ctx context.Context, plugin string, code int) error {
	return s.writeInt(ctx, plugin, columnStatusCode, code)
}

func (s *InfoStore) StatusMessage(ctx context.Context, plugin string) (string, error) {
	value, found, err := s.read(ctx, plugin, columnStatusMessage)
	if err != nil || !found {
		return "", err
	}
	return string(value), nil
}

func (s *InfoStore) SetStatusMessage(ctx context.Context, plugin string, message string) error {
	return s.write(ctx, plugin, columnStatusMessage, []byte(message))
}

func (s *InfoStore) readInt(ctx context.Context, plugin string, column []byte) (int, error) {
	value, found, err := s.read(ctx, plugin, column)
	if err != nil || !found {
		return 0, err
	}
	if len(value) != 8 {
		return 0, migration.CorruptStatusError.New("column %s of plugin %q holds %d bytes, expected 8", column, plugin, len(value))
	}
	return int(int64(binary.BigEndian.Uint64(value))), nil
}

func (s *InfoStore) writeInt(ctx context.Context, plugin string, column []byte, value int) error {
	return s.write(ctx, plugin, column, binary.BigEndian.AppendUint64(nil, uint64(int64(value))))
}

func (s *InfoStore) read(ctx context.Context, plugin string, column []byte) ([]byte, bool, error) {
	columns, err := s.keyspace.Slice(ctx, columnstore.SliceQuery{
		Table:  Table,
		RowKey: []byte(plugin),
		From:   column,
		To:     column,
		Limit:  1,
	})
	if err != nil {
		return nil, false, errorx.Decorate(err, "failed to read %s of plugin %q", column, plugin)
	}
	if len(columns) == 0 {
		return nil, false, nil
	}
	return columns[0].Value, true, nil
}

func (s *InfoStore) write(ctx context.Context, plugin string, column, value []byte) error {
	err := s.keyspace.PrepareBatch().
		Put(Table, []byte(plugin), column, value).
		Execute(ctx)
	if err != nil {
		return errorx.Decorate(err, "failed to write %s of plugin %q", column, plugin)
	}
	return nil
}
