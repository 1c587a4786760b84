// Package surrealdb stores migration info in SurrealDB, one record per
// plugin in the migration_info table. Field updates are UPSERT ... MERGE
// statements, so each write touches a single field of a single record
// atomically.
package surrealdb

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	surrealdb "github.com/surrealdb/surrealdb.go"
	surrealdb_models "github.com/surrealdb/surrealdb.go/pkg/models"
	"github.com/surrealdb/datamigration/pkg/migration"
)

// Table holds the migration info records.
const Table = "migration_info"

// Config locates the database.
type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
}

// InfoStore is a migration.InfoStore backed by SurrealDB.
type InfoStore struct {
	db     *surrealdb.DB
	logger *zerolog.Logger
}

var _ migration.InfoStore = (*InfoStore)(nil)

type record struct {
	Version       int    `json:"version"`
	StatusCode    int    `json:"status_code"`
	StatusMessage string `json:"status_message"`
}

// New connects, selects the namespace and database, and signs in when
// credentials are configured.
func New(ctx context.Context, cfg Config, logger *zerolog.Logger) (*InfoStore, error) {
	if cfg.URL == "" || cfg.Namespace == "" || cfg.Database == "" {
		return nil, migration.ConfigError.New("surrealdb info store needs a url, namespace and database")
	}

	db, err := surrealdb.FromEndpointURLString(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = db.Close(ctx)
		return nil, fmt.Errorf("failed to use namespace/database: %w", err)
	}

	if cfg.Username != "" {
		token, err := db.SignIn(ctx, &surrealdb.Auth{Username: cfg.Username, Password: cfg.Password})
		if err != nil {
			_ = db.Close(ctx)
			return nil, fmt.Errorf("failed to sign in: %w", err)
		}
		if err := db.Authenticate(ctx, token); err != nil {
			_ = db.Close(ctx)
			return nil, fmt.Errorf("failed to authenticate: %w", err)
		}
	}

	s := NewFromDB(db, logger)
	s.logger.Info().
		Str("url", cfg.URL).
		Str("namespace", cfg.Namespace).
		Str("database", cfg.Database).
		Msg("Connected to SurrealDB migration info store")
	return s, nil
}

// NewFromDB wraps an established connection.
func NewFromDB(db *surrealdb.DB, logger *zerolog.Logger) *InfoStore {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &InfoStore{db: db, logger: logger}
}

func (s *InfoStore) Close(ctx context.Context) error {
	return s.db.Close(ctx)
}

func recordID(plugin string) surrealdb_models.RecordID {
	return surrealdb_models.RecordID{Table: Table, ID: plugin}
}

func (s *InfoStore) load(ctx context.Context, plugin string) (record, error) {
	result, err := surrealdb.Query[[]record](ctx, s.db,
		"SELECT version, status_code, status_message FROM $id",
		map[string]any{"id": recordID(plugin)})
	if err != nil {
		return record{}, fmt.Errorf("failed to read migration info of %q: %w", plugin, err)
	}
	if result == nil || len(*result) == 0 || len((*result)[0].Result) == 0 {
		return record{}, nil
	}
	return (*result)[0].Result[0], nil
}

func (s *InfoStore) merge(ctx context.Context, plugin, field string, value any) error {
	_, err := surrealdb.Query[any](ctx, s.db,
		"UPSERT $id MERGE $data RETURN NONE",
		map[string]any{
			"id":   recordID(plugin),
			"data": map[string]any{field: value},
		})
	if err != nil {
		return fmt.Errorf("failed to write %s of %q: %w", field, plugin, err)
	}
	return nil
}

func (s *InfoStore) Version(ctx context.Context, plugin string) (int, error) {
	r, err := s.load(ctx, plugin)
	return r.Version, err
}

func (s *InfoStore) SetVersion(ctx context.Context, plugin string, version int) error {
	return s.merge(ctx, plugin, "version", version)
}

func (s *InfoStore) StatusCode(ctx context.Context, plugin string) (int, error) {
	r, err := s.load(ctx, plugin)
	return r.StatusCode, err
}

func (s *InfoStore) SetStatusCode(ctx context.Context, plugin string, code int) error {
	return s.merge(ctx, plugin, "status_code", code)
}

func (s *InfoStore) StatusMessage(ctx context.Context, plugin string) (string, error) {
	r, err := s.load(ctx, plugin)
	return r.StatusMessage, err
}

func (s *InfoStore) SetStatusMessage(ctx context.Context, plugin string, message string) error {
	return s.merge(ctx, plugin, "status_message", message)
}
