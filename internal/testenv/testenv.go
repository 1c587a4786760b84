// Package testenv provides helpers for integration tests against real
// backends.
//
// Every backend is opt-in through an environment variable. When it is not
// set, the calling test is skipped, so `go test ./...` stays hermetic.
package testenv

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	surrealdb "github.com/surrealdb/surrealdb.go"
)

const (
	// EnvCassandraHosts is a comma separated list of Cassandra contact points.
	EnvCassandraHosts = "CASSANDRA_HOSTS"

	// EnvSurrealDBURL is the SurrealDB endpoint, e.g. ws://localhost:8000.
	EnvSurrealDBURL = "SURREALDB_URL"

	// EnvPostgresDSN is a PostgreSQL connection string.
	EnvPostgresDSN = "POSTGRES_DSN"
)

// Logger returns a logger writing through t.Log.
func Logger(t testing.TB) *zerolog.Logger {
	logger := zerolog.New(zerolog.NewTestWriter(t)).With().Timestamp().Logger()
	return &logger
}

// Context returns a context cancelled when the test ends or after timeout.
func Context(t testing.TB, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CassandraHosts returns the configured contact points or skips the test.
func CassandraHosts(t testing.TB) []string {
	t.Helper()
	raw := os.Getenv(EnvCassandraHosts)
	if raw == "" {
		t.Skipf("%s not set", EnvCassandraHosts)
	}

	var hosts []string
	for _, host := range strings.Split(raw, ",") {
		if host = strings.TrimSpace(host); host != "" {
			hosts = append(hosts, host)
		}
	}
	return hosts
}

// PostgresDSN returns the configured DSN or skips the test.
func PostgresDSN(t testing.TB) string {
	t.Helper()
	dsn := os.Getenv(EnvPostgresDSN)
	if dsn == "" {
		t.Skipf("%s not set", EnvPostgresDSN)
	}
	return dsn
}

// SurrealDBURL returns the configured endpoint or skips the test.
func SurrealDBURL(t testing.TB) string {
	t.Helper()
	url := os.Getenv(EnvSurrealDBURL)
	if url == "" {
		t.Skipf("%s not set", EnvSurrealDBURL)
	}
	return url
}

// SurrealDB connects as root to namespace/database and removes the given
// tables so the test starts from a clean state.
func SurrealDB(t testing.TB, namespace, database string, tables ...string) *surrealdb.DB {
	t.Helper()
	ctx := context.Background()

	db, err := surrealdb.FromEndpointURLString(ctx, SurrealDBURL(t))
	if err != nil {
		t.Fatalf("failed to connect to SurrealDB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(ctx) })

	if err := db.Use(ctx, namespace, database); err != nil {
		t.Fatalf("failed to use database: %v", err)
	}
	token, err := db.SignIn(ctx, &surrealdb.Auth{Username: "root", Password: "root"})
	if err != nil {
		t.Fatalf("failed to sign in: %v", err)
	}
	if err := db.Authenticate(ctx, token); err != nil {
		t.Fatalf("failed to authenticate: %v", err)
	}

	// Table names cannot be passed as query parameters to REMOVE TABLE.
	for _, table := range tables {
		if _, err := surrealdb.Query[[]any](ctx, db, "REMOVE TABLE IF EXISTS "+table, nil); err != nil {
			t.Fatalf("failed to remove table %s: %v", table, err)
		}
	}
	return db
}
