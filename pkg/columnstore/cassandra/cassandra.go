// Package cassandra implements [columnstore.Keyspace] on Apache Cassandra
// using gocql.
//
// Every table uses the legacy wide-row layout
//
//	CREATE TABLE <name> (key blob, column1 blob, value blob, PRIMARY KEY (key, column1))
//
// so a row key maps to a partition and column names are clustering keys
// ordered by their bytes. Batches are sent as logged batches, which makes
// them atomic across partitions.
package cassandra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/joomcode/errorx"
	"github.com/rs/zerolog"
	"github.com/surrealdb/datamigration/pkg/columnstore"
	applog "github.com/surrealdb/datamigration/pkg/logger"
)

// Config holds connection settings.
type Config struct {
	Hosts             []string
	Keyspace          string
	Consistency       string
	ReplicationFactor int
	Timeout           time.Duration
	Username          string
	Password          string
}

// Keyspace is a column store backed by one Cassandra keyspace.
type Keyspace struct {
	session *gocql.Session
	name    string
	logger  *zerolog.Logger
}

var _ columnstore.Keyspace = (*Keyspace)(nil)

// New connects to the cluster and creates the keyspace when it is missing.
func New(ctx context.Context, cfg Config, logger *zerolog.Logger) (*Keyspace, error) {
	if len(cfg.Hosts) == 0 {
		return nil, errorx.IllegalArgument.New("at least one cassandra host is required")
	}
	if err := columnstore.ValidateTable(cfg.Keyspace); err != nil {
		return nil, errorx.Decorate(err, "invalid keyspace")
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	consistency := gocql.Quorum
	if cfg.Consistency != "" {
		var err error
		consistency, err = gocql.ParseConsistencyWrapper(cfg.Consistency)
		if err != nil {
			return nil, errorx.IllegalArgument.Wrap(err, "invalid consistency %q", cfg.Consistency)
		}
	}
	replication := cfg.ReplicationFactor
	if replication <= 0 {
		replication = 1
	}

	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Consistency = consistency
	cluster.Logger = applog.NewStdLogger(logger, zerolog.DebugLevel)
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
		cluster.ConnectTimeout = cfg.Timeout
	}
	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	bootstrap, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to cassandra: %w", err)
	}
	err = bootstrap.Query(fmt.Sprintf(
		`CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}`,
		cfg.Keyspace, replication)).WithContext(ctx).Exec()
	bootstrap.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to create keyspace %s: %w", cfg.Keyspace, err)
	}

	cluster.Keyspace = cfg.Keyspace
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to keyspace %s: %w", cfg.Keyspace, err)
	}

	logger.Info().
		Strs("hosts", cfg.Hosts).
		Str("keyspace", cfg.Keyspace).
		Stringer("consistency", consistency).
		Msg("Connected to Cassandra")

	return &Keyspace{session: session, name: cfg.Keyspace, logger: logger}, nil
}

func (k *Keyspace) PrepareBatch() *columnstore.Batch {
	return columnstore.NewBatch(k)
}

func (k *Keyspace) EnsureTable(ctx context.Context, table string) error {
	if err := columnstore.ValidateTable(table); err != nil {
		return err
	}

	stmt := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (key blob, column1 blob, value blob, PRIMARY KEY (key, column1)) WITH CLUSTERING ORDER BY (column1 ASC)`,
		table)
	if err := k.session.Query(stmt).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}

	k.logger.Debug().Str("table", table).Msg("Ensured table")
	return nil
}

func (k *Keyspace) Execute(ctx context.Context, batch *columnstore.Batch) error {
	b := k.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)

	for _, m := range batch.Mutations() {
		if err := columnstore.ValidateTable(m.Table); err != nil {
			return err
		}

		switch m.Kind {
		case columnstore.PutColumn:
			b.Query(fmt.Sprintf(`INSERT INTO %s (key, column1, value) VALUES (?, ?, ?)`, m.Table),
				m.RowKey, m.Column, m.Value)
		case columnstore.DeleteColumn:
			b.Query(fmt.Sprintf(`DELETE FROM %s WHERE key = ? AND column1 = ?`, m.Table),
				m.RowKey, m.Column)
		case columnstore.DeleteRow:
			b.Query(fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, m.Table), m.RowKey)
		default:
			return errorx.IllegalArgument.New("unsupported mutation kind %s", m.Kind)
		}
	}

	if err := k.session.ExecuteBatch(b); err != nil {
		return fmt.Errorf("failed to execute batch of %d mutations: %w", batch.Len(), err)
	}
	return nil
}

func (k *Keyspace) Slice(ctx context.Context, q columnstore.SliceQuery) ([]columnstore.Column, error) {
	if err := columnstore.ValidateTable(q.Table); err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `SELECT column1, value FROM %s WHERE key = ?`, q.Table)
	args := []any{q.RowKey}
	if q.From != nil {
		sb.WriteString(` AND column1 >= ?`)
		args = append(args, q.From)
	}
	if q.To != nil {
		sb.WriteString(` AND column1 <= ?`)
		args = append(args, q.To)
	}
	if q.Reversed {
		sb.WriteString(` ORDER BY column1 DESC`)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&sb, ` LIMIT %d`, q.Limit)
	}

	iter := k.session.Query(sb.String(), args...).WithContext(ctx).Iter()

	var columns []columnstore.Column
	for {
		var name, value []byte
		if !iter.Scan(&name, &value) {
			break
		}
		columns = append(columns, columnstore.Column{Name: name, Value: value})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to read row from %s: %w", q.Table, err)
	}
	return columns, nil
}

func (k *Keyspace) Rows(ctx context.Context, table string, fn func(rowKey []byte) error) error {
	if err := columnstore.ValidateTable(table); err != nil {
		return err
	}

	iter := k.session.Query(fmt.Sprintf(`SELECT DISTINCT key FROM %s`, table)).
		WithContext(ctx).
		PageSize(500).
		Iter()

	for {
		var key []byte
		if !iter.Scan(&key) {
			break
		}
		if err := fn(key); err != nil {
			_ = iter.Close()
			return err
		}
	}
	if err := iter.Close(); err != nil {
		return fmt.Errorf("failed to scan rows of %s: %w", table, err)
	}
	return nil
}

// Session exposes the underlying gocql session.
func (k *Keyspace) Session() *gocql.Session {
	return k.session
}

func (k *Keyspace) Close() error {
	k.session.Close()
	return nil
}
