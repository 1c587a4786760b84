package migration

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joomcode/errorx"
	"github.com/rs/zerolog"
)

// Recorder receives operational measurements from the manager.
type Recorder interface {
	ObserveRun(plugin string, code StatusCode, elapsed time.Duration)
	ObserveVersion(plugin string, version int)
	ObserveCacheLookup(plugin string, hit bool)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRun(string, StatusCode, time.Duration) {}
func (nopRecorder) ObserveVersion(string, int)                  {}
func (nopRecorder) ObserveCacheLookup(string, bool)             {}

// Manager is the per-process authority over the plugin registry, migration
// execution and version queries.
//
// The registry is fixed at construction. Versions and statuses always live
// in the InfoStore; the manager only keeps a short-lived cache of versions
// for the request path.
//
// There is no cross-process locking: concurrent Migrate calls or resets in
// different processes must be serialized by the operator.
type Manager struct {
	plugins map[string]Plugin
	order   []string
	store   InfoStore

	ttl      time.Duration
	now      func() time.Time
	cache    *versionCache
	logger   *zerolog.Logger
	recorder Recorder
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger for the manager and the progress reporters it
// creates.
func WithLogger(logger *zerolog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithVersionTTL sets how long a cached version stays valid. A TTL of zero
// or less disables caching.
func WithVersionTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.ttl = ttl
	}
}

// WithClock replaces time.Now for cache expiry and run timing.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithRecorder sets the receiver of run, version and cache measurements.
func WithRecorder(recorder Recorder) Option {
	return func(m *Manager) {
		if recorder != nil {
			m.recorder = recorder
		}
	}
}

// NewManager builds the plugin registry. Two plugins sharing a name is a
// configuration error naming both implementations.
func NewManager(plugins []Plugin, store InfoStore, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, ConfigError.New("info store must not be nil")
	}

	nop := zerolog.Nop()
	m := &Manager{
		plugins:  make(map[string]Plugin, len(plugins)),
		order:    make([]string, 0, len(plugins)),
		store:    store,
		ttl:      DefaultVersionTTL,
		now:      time.Now,
		logger:   &nop,
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, plugin := range plugins {
		if plugin == nil {
			return nil, ConfigError.New("plugins must not be nil")
		}

		name := plugin.Name()
		if existing, ok := m.plugins[name]; ok {
			return nil, ConfigError.New(
				"duplicate plugin name detected: a plugin with name %q is already implemented by %T, %T is also trying to implement this name",
				name, existing, plugin)
		}

		m.plugins[name] = plugin
		m.order = append(m.order, name)
		m.logger.Debug().
			Str("plugin", name).
			Int("maxVersion", plugin.MaxVersion()).
			Msg("Registered migration plugin")
	}

	m.cache = newVersionCache(m.ttl, m.now)
	return m, nil
}

// Migrate runs every plugin once, sequentially and in registration order,
// each with a fresh progress reporter.
//
// Plugins are independent. An error or panic escaping one plugin's run is
// recorded as that plugin's ERROR status and does not stop the others; all
// such errors are returned together once every plugin has been attempted.
// Failures reported through the progress observer are not returned: they
// are visible through Status and LastStatus.
func (m *Manager) Migrate(ctx context.Context) error {
	var result *multierror.Error

	for _, name := range m.order {
		if err := ctx.Err(); err != nil {
			result = multierror.Append(result, err)
			break
		}

		plugin := m.plugins[name]
		observer := newReporter(name, m.store, m.logger)

		m.logger.Info().Str("plugin", name).Msg("Starting data migration")
		started := m.now()

		err := m.run(ctx, plugin, observer)
		// The outcome is persisted even when ctx was cancelled mid run.
		detached := context.WithoutCancel(ctx)
		if err != nil {
			m.logger.Error().Err(err).Str("plugin", name).Msg("Data migration aborted")
			observer.FailedWithCause(detached, m.lastVersion(detached, name), "migration aborted", err)
			result = multierror.Append(result, errorx.Decorate(err, "plugin %q", name))
		}
		if perr := observer.Err(); perr != nil {
			result = multierror.Append(result, perr)
		}

		code := StatusComplete
		if observer.HasFailed() {
			code = StatusError
		}
		m.recorder.ObserveRun(name, code, m.now().Sub(started))
		if version, verr := m.store.Version(detached, name); verr == nil {
			m.recorder.ObserveVersion(name, version)
		}

		m.logger.Info().
			Str("plugin", name).
			Stringer("status", code).
			Msg("Finished data migration")
	}

	return result.ErrorOrNil()
}

func (m *Manager) run(ctx context.Context, plugin Plugin, observer ProgressObserver) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = PluginPanicError.New("plugin %q panicked: %v", plugin.Name(), r)
		}
	}()
	return plugin.Run(ctx, observer)
}

func (m *Manager) lastVersion(ctx context.Context, plugin string) int {
	version, err := m.store.Version(ctx, plugin)
	if err != nil {
		return 0
	}
	return version
}

// IsRunning reports whether any registered plugin's persisted status is
// RUNNING. The check is not atomic across plugins.
func (m *Manager) IsRunning(ctx context.Context) (bool, error) {
	for _, name := range m.order {
		code, err := m.statusCode(ctx, name)
		if err != nil {
			return false, err
		}
		if code == StatusRunning {
			return true, nil
		}
	}
	return false, nil
}

// Invalidate drops every cached version held by this process.
func (m *Manager) Invalidate() {
	m.cache.invalidateAll()
	m.logger.Debug().Msg("Invalidated cached migration versions")
}

// CurrentVersion reads the version straight from the info store.
func (m *Manager) CurrentVersion(ctx context.Context, plugin string) (int, error) {
	if plugin == "" {
		return 0, errorx.IllegalArgument.New("plugin name must not be empty")
	}
	return m.store.Version(ctx, plugin)
}

// CachedVersion returns the version from the local cache, reading the info
// store only when the entry is missing or older than the TTL.
func (m *Manager) CachedVersion(ctx context.Context, plugin string) (int, error) {
	if plugin == "" {
		return 0, errorx.IllegalArgument.New("plugin name must not be empty")
	}

	version, hit, err := m.cache.get(ctx, plugin, m.store.Version)
	if err != nil {
		return 0, errorx.Decorate(err, "failed to load version of plugin %q", plugin)
	}
	m.recorder.ObserveCacheLookup(plugin, hit)
	return version, nil
}

// ResetToVersion persists version for plugin without running any step. The
// operator asserts the data already is in that state. Unknown plugins and
// versions outside [0, MaxVersion] are rejected and nothing is written.
func (m *Manager) ResetToVersion(ctx context.Context, plugin string, version int) error {
	p, ok := m.plugins[plugin]
	if !ok {
		return UnknownPluginError.New("plugin %q could not be found", plugin)
	}

	if highest := p.MaxVersion(); version > highest {
		return InvalidVersionError.New("you cannot set a version higher than the max of %d", highest)
	}
	if version < 0 {
		return InvalidVersionError.New("you must specify a version of 0 or greater")
	}

	if err := m.store.SetVersion(ctx, plugin, version); err != nil {
		return errorx.Decorate(err, "failed to reset plugin %q to version %d", plugin, version)
	}

	m.logger.Warn().
		Str("plugin", plugin).
		Int("version", version).
		Msg("Migration version reset")
	m.recorder.ObserveVersion(plugin, version)
	return nil
}

// LastStatus returns the last stored status message, or an empty string if
// the plugin never ran.
func (m *Manager) LastStatus(ctx context.Context, plugin string) (string, error) {
	if plugin == "" {
		return "", errorx.IllegalArgument.New("plugin name must not be empty")
	}
	return m.store.StatusMessage(ctx, plugin)
}

// Status returns the persisted version, status code and message of a
// registered plugin.
func (m *Manager) Status(ctx context.Context, plugin string) (Status, error) {
	if _, ok := m.plugins[plugin]; !ok {
		return Status{}, UnknownPluginError.New("plugin %q could not be found", plugin)
	}

	version, err := m.store.Version(ctx, plugin)
	if err != nil {
		return Status{}, err
	}
	code, err := m.statusCode(ctx, plugin)
	if err != nil {
		return Status{}, err
	}
	message, err := m.store.StatusMessage(ctx, plugin)
	if err != nil {
		return Status{}, err
	}

	return Status{
		Plugin:  plugin,
		Version: version,
		Code:    code,
		State:   code.String(),
		Message: message,
	}, nil
}

func (m *Manager) statusCode(ctx context.Context, plugin string) (StatusCode, error) {
	raw, err := m.store.StatusCode(ctx, plugin)
	if err != nil {
		return StatusUnknown, err
	}
	code, err := ParseStatusCode(raw)
	if err != nil {
		return StatusUnknown, errorx.Decorate(err, "plugin %q", plugin)
	}
	return code, nil
}

// PluginNames returns the registered plugin names in registration order.
func (m *Manager) PluginNames() []string {
	names := make([]string, len(m.order))
	copy(names, m.order)
	return names
}

// Plugin returns the registered plugin with the given name.
func (m *Manager) Plugin(name string) (Plugin, bool) {
	p, ok := m.plugins[name]
	return p, ok
}
