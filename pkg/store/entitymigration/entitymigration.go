// Package entitymigration moves entity histories from one storage
// representation to another.
//
// The plugin has two steps:
//
//  1. create the tables of the target serialization;
//  2. copy every version of every entity found in the source serialization
//     into the target.
//
// Both steps only create tables and put columns, so running them again
// after a failure rewrites identical data. While the plugin is behind its
// max version the dual-write proxy keeps both representations up to date,
// which means entities written during the copy are never lost.
package entitymigration

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/joomcode/errorx"
	"github.com/rs/zerolog"
	"github.com/surrealdb/datamigration/pkg/columnstore"
	"github.com/surrealdb/datamigration/pkg/migration"
	"github.com/surrealdb/datamigration/pkg/store"
	"golang.org/x/sync/errgroup"
)

const (
	// PluginName identifies the plugin in the info store.
	PluginName = "collections-entity-data"

	// MaxVersion is reached once every history has been copied. Routers
	// switching to the target serialization use it as target version.
	MaxVersion = 2

	VersionTables = 1
	VersionCopy   = 2
)

const (
	DefaultConcurrency      = 4
	DefaultFetchSize        = 100
	DefaultProgressInterval = 1000
	DefaultMaxRetries       = 5
)

// Source is the serialization histories are read from.
type Source interface {
	store.EntitySerialization
	store.Scanner
}

type config struct {
	concurrency      int
	fetchSize        int
	progressInterval int
	newBackOff       func() backoff.BackOff
	logger           *zerolog.Logger
}

// Option configures the plugin.
type Option func(*config)

// WithConcurrency bounds how many entities are copied in parallel.
func WithConcurrency(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithFetchSize sets how many versions are read and written per round trip.
func WithFetchSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.fetchSize = n
		}
	}
}

// WithProgressInterval reports progress every n copied entities.
func WithProgressInterval(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.progressInterval = n
		}
	}
}

// WithBackOff sets the retry policy for writing batches to the target.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(c *config) {
		if newBackOff != nil {
			c.newBackOff = newBackOff
		}
	}
}

func WithLogger(logger *zerolog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, DefaultMaxRetries)
}

// New returns the plugin copying from source to target. Progress and
// versions are persisted in infoStore.
func New(infoStore migration.InfoStore, source Source, target store.EntitySerialization, opts ...Option) (*migration.StepPlugin[store.EntityRef], error) {
	if source == nil || target == nil {
		return nil, migration.ConfigError.New("plugin %q: source and target serializations are required", PluginName)
	}

	nop := zerolog.Nop()
	cfg := config{
		concurrency:      DefaultConcurrency,
		fetchSize:        DefaultFetchSize,
		progressInterval: DefaultProgressInterval,
		newBackOff:       defaultBackOff,
		logger:           &nop,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	provider := migration.DataProviderFunc[store.EntityRef](source.Scan)
	return migration.NewStepPlugin[store.EntityRef](PluginName, MaxVersion, infoStore, provider,
		&tablesStep{target: target},
		&copyStep{source: source, target: target, cfg: cfg},
	)
}

// tablesStep creates the target tables.
type tablesStep struct {
	target store.EntitySerialization
}

func (s *tablesStep) Version() int { return VersionTables }

func (s *tablesStep) Migrate(ctx context.Context, _ migration.DataProvider[store.EntityRef], observer migration.ProgressObserver) error {
	if err := s.target.Migrate(ctx); err != nil {
		observer.FailedWithCause(ctx, VersionTables, "unable to create target tables", err)
		return nil
	}
	observer.Update(ctx, VersionTables, fmt.Sprintf("Created tables of implementation version %d", s.target.ImplementationVersion()))
	return nil
}

// copyStep copies every history from source to target.
type copyStep struct {
	source Source
	target store.EntitySerialization
	cfg    config
}

func (s *copyStep) Version() int { return VersionCopy }

func (s *copyStep) Migrate(ctx context.Context, provider migration.DataProvider[store.EntityRef], observer migration.ProgressObserver) error {
	var copied, versions atomic.Int64
	nextReport := int64(s.cfg.progressInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.concurrency)

	err := provider.Each(gctx, func(ref store.EntityRef) error {
		if err := gctx.Err(); err != nil {
			return err
		}
		g.Go(func() error {
			n, err := s.copyEntity(gctx, ref)
			if err != nil {
				return errorx.Decorate(err, "failed to copy entity %s of %s", ref.ID, ref.Scope)
			}
			versions.Add(int64(n))
			copied.Add(1)
			return nil
		})

		if done := copied.Load(); done >= nextReport {
			observer.Update(ctx, VersionCopy, fmt.Sprintf("Copied %d entities", done))
			nextReport = done + int64(s.cfg.progressInterval)
		}
		return nil
	})
	if werr := g.Wait(); werr != nil {
		return werr
	}
	if err != nil {
		return err
	}

	s.cfg.logger.Info().
		Int64("entities", copied.Load()).
		Int64("versions", versions.Load()).
		Msg("Entity histories copied")
	observer.Update(ctx, VersionCopy, fmt.Sprintf("Copied %d entities with %d versions", copied.Load(), versions.Load()))
	return nil
}

// copyEntity writes the history of ref to the target, newest version
// first, one batch per page of versions. It returns the number of
// versions written.
func (s *copyStep) copyEntity(ctx context.Context, ref store.EntityRef) (int, error) {
	latest, found, err := s.source.LoadOne(ctx, ref.Scope, ref.ID)
	if err != nil || !found {
		return 0, err
	}

	it, err := s.source.LoadDescendingHistory(ctx, ref.Scope, ref.ID, latest.Version, s.cfg.fetchSize)
	if err != nil {
		return 0, err
	}

	var (
		batch   *columnstore.Batch
		pending int
		written int
	)
	flush := func() error {
		if batch == nil {
			return nil
		}
		if err := s.execute(ctx, batch); err != nil {
			return err
		}
		written += pending
		batch, pending = nil, 0
		return nil
	}

	for it.Next(ctx) {
		b, err := s.target.Write(ref.Scope, it.Entity())
		if err != nil {
			return written, err
		}
		if batch == nil {
			batch = b
		} else {
			batch.MergeShallow(b)
		}
		pending++
		if pending >= s.cfg.fetchSize {
			if err := flush(); err != nil {
				return written, err
			}
		}
	}
	if err := it.Err(); err != nil {
		return written, err
	}
	if err := flush(); err != nil {
		return written, err
	}
	return written, nil
}

func (s *copyStep) execute(ctx context.Context, batch *columnstore.Batch) error {
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := batch.Execute(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || errorx.HasTrait(err, errorx.NotFound()) {
			return backoff.Permanent(err)
		}
		s.cfg.logger.Warn().Err(err).Int("attempt", attempt).Msg("Retrying batch write")
		return err
	}, backoff.WithContext(s.cfg.newBackOff(), ctx))
}
