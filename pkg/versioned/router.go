// Package versioned routes operations between two implementations of the
// same storage abstraction while a migration moves data from one to the
// other.
//
// A [Router] is bound to one plugin and the version at which the current
// implementation becomes authoritative. Before that version is reached
// (the OLD state) writes go to both implementations, previous first, and
// reads are served by the previous one. From then on (the CURRENT state)
// every operation goes to the current implementation only. The state is
// evaluated on every call; there is no explicit cutover and no way back.
package versioned

import (
	"context"
	"fmt"

	"github.com/joomcode/errorx"
)

// Target names the implementation an operation is routed to.
type Target int

const (
	Previous Target = iota
	Current
)

func (t Target) String() string {
	switch t {
	case Previous:
		return "previous"
	case Current:
		return "current"
	default:
		return fmt.Sprintf("Target(%d)", int(t))
	}
}

// LookupMode selects which version lookup the router uses.
type LookupMode string

const (
	// LookupCached reads the per-process version cache. Routing may lag the
	// info store by up to the cache TTL.
	LookupCached LookupMode = "cached"

	// LookupDirect reads the info store on every call.
	LookupDirect LookupMode = "direct"
)

// ParseLookupMode validates a configured lookup mode.
func ParseLookupMode(s string) (LookupMode, error) {
	switch mode := LookupMode(s); mode {
	case LookupCached, LookupDirect:
		return mode, nil
	case "":
		return LookupCached, nil
	default:
		return "", errorx.IllegalArgument.New("unknown version lookup mode %q", s)
	}
}

// VersionSource answers version queries for a plugin. It is satisfied by
// *migration.Manager.
type VersionSource interface {
	CachedVersion(ctx context.Context, plugin string) (int, error)
	CurrentVersion(ctx context.Context, plugin string) (int, error)
}

// RouteRecorder is told about every routing decision.
type RouteRecorder interface {
	ObserveRoute(binding string, target Target)
}

// Router holds the previous and current implementations of one abstraction
// together with the plugin version that governs them.
type Router[T any] struct {
	name          string
	plugin        string
	targetVersion int
	previous      T
	current       T
	source        VersionSource
	mode          LookupMode
	recorder      RouteRecorder
}

// Option configures a Router.
type Option func(*options)

type options struct {
	name     string
	mode     LookupMode
	recorder RouteRecorder
}

// WithLookupMode selects cached or direct version lookups. Cached is the
// default.
func WithLookupMode(mode LookupMode) Option {
	return func(o *options) {
		o.mode = mode
	}
}

// WithName labels the binding in recorded routing decisions. It defaults to
// the plugin name.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithRecorder registers a receiver for routing decisions.
func WithRecorder(recorder RouteRecorder) Option {
	return func(o *options) {
		o.recorder = recorder
	}
}

// NewRouter binds previous and current to plugin. The current
// implementation becomes authoritative once the plugin's persisted version
// reaches targetVersion.
func NewRouter[T any](plugin string, targetVersion int, previous, current T, source VersionSource, opts ...Option) (*Router[T], error) {
	if plugin == "" {
		return nil, errorx.IllegalArgument.New("plugin name must not be empty")
	}
	if source == nil {
		return nil, errorx.IllegalArgument.New("version source must not be nil")
	}
	if targetVersion < 0 {
		return nil, errorx.IllegalArgument.New("target version %d is negative", targetVersion)
	}

	o := options{name: plugin, mode: LookupCached}
	for _, opt := range opts {
		opt(&o)
	}
	if _, err := ParseLookupMode(string(o.mode)); err != nil {
		return nil, err
	}

	return &Router[T]{
		name:          o.name,
		plugin:        plugin,
		targetVersion: targetVersion,
		previous:      previous,
		current:       current,
		source:        source,
		mode:          o.mode,
		recorder:      o.recorder,
	}, nil
}

// Plugin returns the governing plugin name.
func (r *Router[T]) Plugin() string { return r.plugin }

// TargetVersion returns the version at which the current implementation
// becomes authoritative.
func (r *Router[T]) TargetVersion() int { return r.targetVersion }

// Select reports which implementation is authoritative right now.
func (r *Router[T]) Select(ctx context.Context) (Target, error) {
	version, err := r.lookup(ctx)
	if err != nil {
		return Current, errorx.Decorate(err, "failed to resolve version of plugin %q", r.plugin)
	}

	target := Current
	if version < r.targetVersion {
		target = Previous
	}
	if r.recorder != nil {
		r.recorder.ObserveRoute(r.name, target)
	}
	return target, nil
}

func (r *Router[T]) lookup(ctx context.Context) (int, error) {
	if r.mode == LookupDirect {
		return r.source.CurrentVersion(ctx, r.plugin)
	}
	return r.source.CachedVersion(ctx, r.plugin)
}

// Reader returns the implementation that serves reads.
func (r *Router[T]) Reader(ctx context.Context) (T, error) {
	target, err := r.Select(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	return r.Get(target), nil
}

// Writers returns the implementations a write must be applied to, in the
// order they must be applied: previous then current while OLD, current
// alone afterwards.
func (r *Router[T]) Writers(ctx context.Context) ([]T, error) {
	target, err := r.Select(ctx)
	if err != nil {
		return nil, err
	}
	if target == Previous {
		return []T{r.previous, r.current}, nil
	}
	return []T{r.current}, nil
}

// Get returns the implementation for target.
func (r *Router[T]) Get(target Target) T {
	if target == Previous {
		return r.previous
	}
	return r.current
}
