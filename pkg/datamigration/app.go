package datamigration

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/joomcode/errorx"
	"github.com/rs/zerolog"
	"github.com/surrealdb/datamigration/pkg/api"
	"github.com/surrealdb/datamigration/pkg/columnstore"
	"github.com/surrealdb/datamigration/pkg/columnstore/cassandra"
	"github.com/surrealdb/datamigration/pkg/columnstore/memory"
	"github.com/surrealdb/datamigration/pkg/config"
	keyspaceinfo "github.com/surrealdb/datamigration/pkg/infostore/keyspace"
	"github.com/surrealdb/datamigration/pkg/infostore/postgres"
	redisinfo "github.com/surrealdb/datamigration/pkg/infostore/redis"
	surrealinfo "github.com/surrealdb/datamigration/pkg/infostore/surrealdb"
	"github.com/surrealdb/datamigration/pkg/metrics"
	"github.com/surrealdb/datamigration/pkg/migration"
	"github.com/surrealdb/datamigration/pkg/store"
	"github.com/surrealdb/datamigration/pkg/store/entitymigration"
	"github.com/surrealdb/datamigration/pkg/store/proxy"
	v1 "github.com/surrealdb/datamigration/pkg/store/v1"
	v2 "github.com/surrealdb/datamigration/pkg/store/v2"
	"github.com/surrealdb/datamigration/pkg/versioned"
)

// EntityBinding names the router choosing between the v1 and v2 entity
// serializations.
const EntityBinding = "entity-serialization"

// App owns every component of one datamigration process.
type App struct {
	config  config.Config
	logger  *zerolog.Logger
	metrics *metrics.Collector

	keyspace  columnstore.Keyspace
	infoStore migration.InfoStore
	manager   *migration.Manager
	entities  *proxy.Serialization

	// migrating guards against overlapping runs started through this process.
	migrating atomic.Bool

	closers []func(ctx context.Context) error
}

// New connects to the configured backends and assembles the manager and the
// entity serialization proxy. The caller must Close the app.
func New(ctx context.Context, cfg config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	a := &App{config: cfg, logger: logger}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.New(cfg.Metrics.Namespace)
	}

	if err := a.init(ctx); err != nil {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn().Err(closeErr).Msg("Failed to release resources after startup error")
		}
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	var err error
	if a.keyspace, err = a.openKeyspace(ctx); err != nil {
		return err
	}
	if a.infoStore, err = a.openInfoStore(ctx); err != nil {
		return err
	}

	mc := a.config.Migration
	previous := v1.New(a.keyspace)
	current := v2.New(a.keyspace)

	plugin, err := entitymigration.New(a.infoStore, previous, current,
		entitymigration.WithConcurrency(mc.Concurrency),
		entitymigration.WithFetchSize(mc.FetchSize),
		entitymigration.WithProgressInterval(mc.ProgressInterval),
		entitymigration.WithBackOff(retryPolicy(mc.MaxRetries)),
		entitymigration.WithLogger(a.logger),
	)
	if err != nil {
		return err
	}

	managerOpts := []migration.Option{
		migration.WithLogger(a.logger),
		migration.WithVersionTTL(mc.VersionTTL),
	}
	if a.metrics != nil {
		managerOpts = append(managerOpts, migration.WithRecorder(a.metrics))
	}
	a.manager, err = migration.NewManager([]migration.Plugin{plugin}, a.infoStore, managerOpts...)
	if err != nil {
		return err
	}

	mode, err := versioned.ParseLookupMode(mc.LookupMode)
	if err != nil {
		return err
	}
	routerOpts := []versioned.Option{
		versioned.WithLookupMode(mode),
		versioned.WithName(EntityBinding),
	}
	if a.metrics != nil {
		routerOpts = append(routerOpts, versioned.WithRecorder(a.metrics))
	}
	router, err := versioned.NewRouter[store.EntitySerialization](
		entitymigration.PluginName, entitymigration.MaxVersion, previous, current, a.manager, routerOpts...)
	if err != nil {
		return err
	}
	a.entities = proxy.New(a.keyspace, router)

	// Dual writes reach both table sets before the copy step has run.
	if err := a.entities.Migrate(ctx); err != nil {
		return err
	}

	a.logger.Info().
		Str("keyspace", a.config.Keyspace.Backend).
		Str("infostore", a.config.InfoStore.Backend).
		Str("lookup_mode", string(mode)).
		Strs("plugins", a.manager.PluginNames()).
		Msg("Data migration initialized")
	return nil
}

func (a *App) openKeyspace(ctx context.Context) (columnstore.Keyspace, error) {
	switch a.config.Keyspace.Backend {
	case config.KeyspaceCassandra:
		cc := a.config.Keyspace.Cassandra
		ks, err := cassandra.New(ctx, cassandra.Config{
			Hosts:             cc.Hosts,
			Keyspace:          cc.Keyspace,
			Consistency:       cc.Consistency,
			ReplicationFactor: cc.ReplicationFactor,
			Timeout:           cc.Timeout,
			Username:          cc.Username,
			Password:          cc.Password,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return ks.Close() })
		return ks, nil
	default:
		return memory.New(), nil
	}
}

func (a *App) openInfoStore(ctx context.Context) (migration.InfoStore, error) {
	ic := a.config.InfoStore
	switch ic.Backend {
	case config.InfoStoreSurrealDB:
		s, err := surrealinfo.New(ctx, surrealinfo.Config{
			URL:       ic.SurrealDB.URL,
			Namespace: ic.SurrealDB.Namespace,
			Database:  ic.SurrealDB.Database,
			Username:  ic.SurrealDB.Username,
			Password:  ic.SurrealDB.Password,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.onClose(s.Close)
		return s, nil
	case config.InfoStorePostgres:
		s, err := postgres.New(ctx, ic.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return s.Close() })
		return s, nil
	case config.InfoStoreRedis:
		s, err := redisinfo.New(ctx, redisinfo.Config{
			Address:  ic.Redis.Address,
			Password: ic.Redis.Password,
			DB:       ic.Redis.DB,
			Prefix:   ic.Redis.Prefix,
		})
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return s.Close() })
		return s, nil
	default:
		s, err := keyspaceinfo.New(ctx, a.keyspace)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func (a *App) onClose(fn func(ctx context.Context) error) {
	a.closers = append(a.closers, fn)
}

func retryPolicy(maxRetries int) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 200 * time.Millisecond
		b.MaxElapsedTime = 0
		if maxRetries < 0 {
			maxRetries = 0
		}
		return backoff.WithMaxRetries(b, uint64(maxRetries))
	}
}

// Close releases the backends in reverse order of opening.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()

	var result *multierror.Error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	a.closers = nil
	return result.ErrorOrNil()
}

func (a *App) shutdownTimeout() time.Duration {
	if a.config.Server.ShutdownTimeout > 0 {
		return a.config.Server.ShutdownTimeout
	}
	return 5 * time.Second
}

// Manager returns the migration manager.
func (a *App) Manager() *migration.Manager { return a.manager }

// Entities returns the entity serialization routed by the migration
// version.
func (a *App) Entities() *proxy.Serialization { return a.entities }

// Keyspace returns the column store holding entity data.
func (a *App) Keyspace() columnstore.Keyspace { return a.keyspace }

// Metrics returns the collector, or nil when metrics are disabled.
func (a *App) Metrics() *metrics.Collector { return a.metrics }

// Migrate runs every pending plugin. It fails with AlreadyRunningError when
// a run started by this process has not finished yet.
func (a *App) Migrate(ctx context.Context) error {
	if !a.migrating.CompareAndSwap(false, true) {
		return AlreadyRunningError.New("a migration is already running in this process")
	}
	defer a.migrating.Store(false)

	start := time.Now()
	a.logger.Info().Msg("Starting data migration")
	err := a.manager.Migrate(ctx)
	// Versions moved, so routers in this process must not wait for the TTL.
	a.manager.Invalidate()
	if err != nil {
		a.logger.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("Data migration finished with errors")
		return err
	}
	a.logger.Info().Dur("elapsed", time.Since(start)).Msg("Data migration finished")
	return nil
}

// PluginStatuses returns the state of every registered plugin in
// registration order.
func (a *App) PluginStatuses(ctx context.Context) (api.PluginList, error) {
	names := a.manager.PluginNames()
	list := api.PluginList{Plugins: make([]api.PluginStatus, 0, len(names))}
	for _, name := range names {
		status, err := a.PluginStatus(ctx, name)
		if err != nil {
			return api.PluginList{}, err
		}
		list.Plugins = append(list.Plugins, status)
	}
	return list, nil
}

// PluginStatus combines the persisted state of a plugin with the version
// this process currently routes on.
func (a *App) PluginStatus(ctx context.Context, name string) (api.PluginStatus, error) {
	plugin, ok := a.manager.Plugin(name)
	if !ok {
		return api.PluginStatus{}, migration.UnknownPluginError.New("plugin %q could not be found", name)
	}
	status, err := a.manager.Status(ctx, name)
	if err != nil {
		return api.PluginStatus{}, err
	}
	cached, err := a.manager.CachedVersion(ctx, name)
	if err != nil {
		return api.PluginStatus{}, err
	}
	return api.PluginStatus{
		Name:          name,
		MaxVersion:    plugin.MaxVersion(),
		Version:       status.Version,
		CachedVersion: cached,
		StatusCode:    status.Code,
		State:         status.State,
		Message:       status.Message,
	}, nil
}

var (
	ErrNamespace = errorx.NewNamespace("datamigration")

	// AlreadyRunningError rejects a migration request while another run is
	// in progress.
	AlreadyRunningError = ErrNamespace.NewType("already_running")
)
