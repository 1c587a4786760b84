// Package config loads the datamigration configuration from an optional
// file and DATAMIGRATION_* environment variables.
//
// Keys are nested with dots in files and with underscores in the
// environment, so keyspace.cassandra.hosts is read from
// DATAMIGRATION_KEYSPACE_CASSANDRA_HOSTS.
package config

import (
	"strings"
	"time"

	"github.com/joomcode/errorx"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/surrealdb/datamigration/pkg/versioned"
)

const EnvPrefix = "DATAMIGRATION"

var (
	ErrNamespace = errorx.NewNamespace("config")

	NotFoundError = ErrNamespace.NewType("not_found", errorx.NotFound())
	InvalidError  = ErrNamespace.NewType("invalid")
)

// Keyspace backends.
const (
	KeyspaceMemory    = "memory"
	KeyspaceCassandra = "cassandra"
)

// Info store backends.
const (
	InfoStoreKeyspace  = "keyspace"
	InfoStoreSurrealDB = "surrealdb"
	InfoStorePostgres  = "postgres"
	InfoStoreRedis     = "redis"
)

// Config holds the whole configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Keyspace  KeyspaceConfig  `mapstructure:"keyspace"`
	InfoStore InfoStoreConfig `mapstructure:"infostore"`
	Migration MigrationConfig `mapstructure:"migration"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Path    string `mapstructure:"path"`
	Console bool   `mapstructure:"console"`
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// KeyspaceConfig selects the column store holding entity data.
type KeyspaceConfig struct {
	Backend   string          `mapstructure:"backend"`
	Cassandra CassandraConfig `mapstructure:"cassandra"`
}

type CassandraConfig struct {
	Hosts             []string      `mapstructure:"hosts"`
	Keyspace          string        `mapstructure:"keyspace"`
	Consistency       string        `mapstructure:"consistency"`
	ReplicationFactor int           `mapstructure:"replication_factor"`
	Timeout           time.Duration `mapstructure:"timeout"`
	Username          string        `mapstructure:"username"`
	Password          string        `mapstructure:"password"`
}

// InfoStoreConfig selects where migration versions and statuses live.
type InfoStoreConfig struct {
	Backend   string          `mapstructure:"backend"`
	SurrealDB SurrealDBConfig `mapstructure:"surrealdb"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Redis     RedisConfig     `mapstructure:"redis"`
}

type SurrealDBConfig struct {
	URL       string `mapstructure:"url"`
	Namespace string `mapstructure:"namespace"`
	Database  string `mapstructure:"database"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// MigrationConfig tunes the manager, the routers and the entity copy.
type MigrationConfig struct {
	VersionTTL       time.Duration `mapstructure:"version_ttl"`
	LookupMode       string        `mapstructure:"lookup_mode"`
	RunOnStart       bool          `mapstructure:"run_on_start"`
	Concurrency      int           `mapstructure:"concurrency"`
	FetchSize        int           `mapstructure:"fetch_size"`
	ProgressInterval int           `mapstructure:"progress_interval"`
	MaxRetries       int           `mapstructure:"max_retries"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Server: ServerConfig{
			Address:         ":8080",
			ShutdownTimeout: 5 * time.Second,
		},
		Keyspace: KeyspaceConfig{
			Backend: KeyspaceMemory,
			Cassandra: CassandraConfig{
				Hosts:             []string{"127.0.0.1"},
				Keyspace:          "datamigration",
				Consistency:       "QUORUM",
				ReplicationFactor: 1,
				Timeout:           10 * time.Second,
			},
		},
		InfoStore: InfoStoreConfig{
			Backend: InfoStoreKeyspace,
			SurrealDB: SurrealDBConfig{
				URL:       "ws://localhost:8000",
				Namespace: "datamigration",
				Database:  "datamigration",
			},
			Redis: RedisConfig{Address: "localhost:6379"},
		},
		Migration: MigrationConfig{
			VersionTTL:       time.Minute,
			LookupMode:       string(versioned.LookupCached),
			Concurrency:      4,
			FetchSize:        100,
			ProgressInterval: 1000,
			MaxRetries:       5,
		},
		Metrics: MetricsConfig{Enabled: true, Namespace: "datamigration"},
	}
}

// setDefaults registers every key so that environment variables are
// honoured by Unmarshal even when no file mentions the key.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.path", d.Log.Path)
	v.SetDefault("log.console", d.Log.Console)

	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("keyspace.backend", d.Keyspace.Backend)
	v.SetDefault("keyspace.cassandra.hosts", d.Keyspace.Cassandra.Hosts)
	v.SetDefault("keyspace.cassandra.keyspace", d.Keyspace.Cassandra.Keyspace)
	v.SetDefault("keyspace.cassandra.consistency", d.Keyspace.Cassandra.Consistency)
	v.SetDefault("keyspace.cassandra.replication_factor", d.Keyspace.Cassandra.ReplicationFactor)
	v.SetDefault("keyspace.cassandra.timeout", d.Keyspace.Cassandra.Timeout)
	v.SetDefault("keyspace.cassandra.username", d.Keyspace.Cassandra.Username)
	v.SetDefault("keyspace.cassandra.password", d.Keyspace.Cassandra.Password)

	v.SetDefault("infostore.backend", d.InfoStore.Backend)
	v.SetDefault("infostore.surrealdb.url", d.InfoStore.SurrealDB.URL)
	v.SetDefault("infostore.surrealdb.namespace", d.InfoStore.SurrealDB.Namespace)
	v.SetDefault("infostore.surrealdb.database", d.InfoStore.SurrealDB.Database)
	v.SetDefault("infostore.surrealdb.username", d.InfoStore.SurrealDB.Username)
	v.SetDefault("infostore.surrealdb.password", d.InfoStore.SurrealDB.Password)
	v.SetDefault("infostore.postgres.dsn", d.InfoStore.Postgres.DSN)
	v.SetDefault("infostore.redis.address", d.InfoStore.Redis.Address)
	v.SetDefault("infostore.redis.password", d.InfoStore.Redis.Password)
	v.SetDefault("infostore.redis.db", d.InfoStore.Redis.DB)
	v.SetDefault("infostore.redis.prefix", d.InfoStore.Redis.Prefix)

	v.SetDefault("migration.version_ttl", d.Migration.VersionTTL)
	v.SetDefault("migration.lookup_mode", d.Migration.LookupMode)
	v.SetDefault("migration.run_on_start", d.Migration.RunOnStart)
	v.SetDefault("migration.concurrency", d.Migration.Concurrency)
	v.SetDefault("migration.fetch_size", d.Migration.FetchSize)
	v.SetDefault("migration.progress_interval", d.Migration.ProgressInterval)
	v.SetDefault("migration.max_retries", d.Migration.MaxRetries)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)
}

// Load reads path, when not empty, then applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, NotFoundError.Wrap(err, "failed to read config file: %s", path).
				WithProperty(errorx.PropertyPayload(), path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errorx.IllegalFormat.Wrap(err, "failed to parse configuration")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects unknown backends and settings the components cannot
// work with.
func (c Config) Validate() error {
	if c.Log.Level != "" {
		if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
			return InvalidError.Wrap(err, "invalid log level %q", c.Log.Level)
		}
	}

	switch c.Keyspace.Backend {
	case KeyspaceMemory:
	case KeyspaceCassandra:
		if len(c.Keyspace.Cassandra.Hosts) == 0 {
			return InvalidError.New("keyspace.cassandra.hosts must not be empty")
		}
	default:
		return InvalidError.New("unknown keyspace backend %q", c.Keyspace.Backend)
	}

	switch c.InfoStore.Backend {
	case InfoStoreKeyspace:
	case InfoStoreSurrealDB:
		if c.InfoStore.SurrealDB.URL == "" {
			return InvalidError.New("infostore.surrealdb.url must be set")
		}
	case InfoStorePostgres:
		if c.InfoStore.Postgres.DSN == "" {
			return InvalidError.New("infostore.postgres.dsn must be set")
		}
	case InfoStoreRedis:
		if c.InfoStore.Redis.Address == "" {
			return InvalidError.New("infostore.redis.address must be set")
		}
	default:
		return InvalidError.New("unknown info store backend %q", c.InfoStore.Backend)
	}

	if _, err := versioned.ParseLookupMode(c.Migration.LookupMode); err != nil {
		return InvalidError.Wrap(err, "invalid migration.lookup_mode")
	}
	if c.Migration.VersionTTL < 0 {
		return InvalidError.New("migration.version_ttl must not be negative")
	}
	if c.Migration.Concurrency <= 0 || c.Migration.FetchSize <= 0 {
		return InvalidError.New("migration.concurrency and migration.fetch_size must be positive")
	}
	return nil
}
