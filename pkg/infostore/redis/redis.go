// Package redis stores migration info in Redis, one hash per plugin with
// the fields version, status_code and status_message.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/surrealdb/datamigration/pkg/migration"
)

const (
	// DefaultPrefix namespaces the plugin hashes.
	DefaultPrefix = "datamigration:info:"

	fieldVersion       = "version"
	fieldStatusCode    = "status_code"
	fieldStatusMessage = "status_message"
)

// Client is the subset of go-redis client methods used by InfoStore.
type Client interface {
	Ping(ctx context.Context) *redis.StatusCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	Close() error
}

// Config holds the connection settings.
type Config struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// InfoStore is a migration.InfoStore backed by Redis hashes.
type InfoStore struct {
	client Client
	prefix string
}

var _ migration.InfoStore = (*InfoStore)(nil)

// New connects and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*InfoStore, error) {
	if cfg.Address == "" {
		return nil, migration.ConfigError.New("redis info store needs an address")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis info store: ping failed: %w", err)
	}
	return NewWithClient(client, cfg.Prefix), nil
}

// NewWithClient wraps an existing client. An empty prefix selects
// DefaultPrefix.
func NewWithClient(client Client, prefix string) *InfoStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &InfoStore{client: client, prefix: prefix}
}

func (s *InfoStore) Close() error {
	return s.client.Close()
}

func (s *InfoStore) key(plugin string) string {
	return s.prefix + plugin
}

func (s *InfoStore) get(ctx context.Context, plugin, field string) (string, bool, error) {
	val, err := s.client.HGet(ctx, s.key(plugin), field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s of %q: %w", field, plugin, err)
	}
	return val, true, nil
}

func (s *InfoStore) getInt(ctx context.Context, plugin, field string) (int, error) {
	val, found, err := s.get(ctx, plugin, field)
	if err != nil || !found {
		return 0, err
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, migration.CorruptStatusError.Wrap(err, "field %s of plugin %q", field, plugin)
	}
	return n, nil
}

func (s *InfoStore) set(ctx context.Context, plugin, field string, value any) error {
	if err := s.client.HSet(ctx, s.key(plugin), field, value).Err(); err != nil {
		return fmt.Errorf("failed to write %s of %q: %w", field, plugin, err)
	}
	return nil
}

func (s *InfoStore) Version(ctx context.Context, plugin string) (int, error) {
	return s.getInt(ctx, plugin, fieldVersion)
}

func (s *InfoStore) SetVersion(ctx context.Context, plugin string, version int) error {
	return s.set(ctx, plugin, fieldVersion, version)
}

func (s *InfoStore) StatusCode(ctx context.Context, plugin string) (int, error) {
	return s.getInt(ctx, plugin, fieldStatusCode)
}

func (s *InfoStore) SetStatusCode(ctx context.Context, plugin string, code int) error {
	return s.set(ctx, plugin, fieldStatusCode, code)
}

func (s *InfoStore) StatusMessage(ctx context.Context, plugin string) (string, error) {
	val, _, err := s.get(ctx, plugin, fieldStatusMessage)
	return val, err
}

func (s *InfoStore) SetStatusMessage(ctx context.Context, plugin string, message string) error {
	return s.set(ctx, plugin, fieldStatusMessage, message)
}
