// Package postgres stores migration info in PostgreSQL through GORM. Each
// plugin owns one row of the migration_infos table; field writes are
// single-column upserts.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/surrealdb/datamigration/pkg/migration"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MigrationInfo is the row of one plugin.
type MigrationInfo struct {
	Plugin        string `gorm:"primaryKey;size:255"`
	Version       int    `gorm:"not null;default:0"`
	StatusCode    int    `gorm:"not null;default:0"`
	StatusMessage string `gorm:"type:text;not null;default:''"`
	UpdatedAt     time.Time
}

// InfoStore is a migration.InfoStore backed by PostgreSQL.
type InfoStore struct {
	db *gorm.DB
}

var _ migration.InfoStore = (*InfoStore)(nil)

// New opens dsn and creates the table if needed.
func New(ctx context.Context, dsn string) (*InfoStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s := NewFromDB(db)
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// NewFromDB wraps an open connection. Call Migrate before first use.
func NewFromDB(db *gorm.DB) *InfoStore {
	return &InfoStore{db: db}
}

// Migrate creates or updates the migration_infos table.
func (s *InfoStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&MigrationInfo{}); err != nil {
		return fmt.Errorf("failed to migrate migration_infos: %w", err)
	}
	return nil
}

func (s *InfoStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *InfoStore) load(ctx context.Context, plugin string) (MigrationInfo, error) {
	var info MigrationInfo
	err := s.db.WithContext(ctx).Where("plugin = ?", plugin).First(&info).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return MigrationInfo{Plugin: plugin}, nil
	}
	if err != nil {
		return MigrationInfo{}, fmt.Errorf("failed to read migration info of %q: %w", plugin, err)
	}
	return info, nil
}

// upsert inserts info or, when the plugin row exists, updates only column.
func (s *InfoStore) upsert(ctx context.Context, info MigrationInfo, column string) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "plugin"}},
		DoUpdates: clause.AssignmentColumns([]string{column, "updated_at"}),
	}).Create(&info).Error
	if err != nil {
		return fmt.Errorf("failed to write %s of %q: %w", column, info.Plugin, err)
	}
	return nil
}

func (s *InfoStore) Version(ctx context.Context, plugin string) (int, error) {
	info, err := s.load(ctx, plugin)
	return info.Version, err
}

func (s *InfoStore) SetVersion(ctx context.Context, plugin string, version int) error {
	return s.upsert(ctx, MigrationInfo{Plugin: plugin, Version: version}, "version")
}

func (s *InfoStore) StatusCode(ctx context.Context, plugin string) (int, error) {
	info, err := s.load(ctx, plugin)
	return info.StatusCode, err
}

func (s *InfoStore) SetStatusCode(ctx context.Context, plugin string, code int) error {
	return s.upsert(ctx, MigrationInfo{Plugin: plugin, StatusCode: code}, "status_code")
}

func (s *InfoStore) StatusMessage(ctx context.Context, plugin string) (string, error) {
	info, err := s.load(ctx, plugin)
	return info.StatusMessage, err
}

func (s *InfoStore) SetStatusMessage(ctx context.Context, plugin string, message string) error {
	return s.upsert(ctx, MigrationInfo{Plugin: plugin, StatusMessage: message}, "status_message")
}
