package migration

import (
	"context"
	"sort"

	"github.com/joomcode/errorx"
)

// Plugin is a named, ordered sequence of steps bounded by a maximum version.
// It is the unit of registration and of every operator action.
type Plugin interface {
	// Name uniquely identifies the plugin across the cluster.
	Name() string

	// MaxVersion is the highest version any of the plugin's steps can
	// produce. Resets above it are rejected.
	MaxVersion() int

	// Run executes every step that has not completed yet. Step failures are
	// reported through the observer; a returned error means the run could
	// not be carried out at all.
	Run(ctx context.Context, observer ProgressObserver) error
}

// StepPlugin runs its steps in ascending version order and persists each
// finished step's version before starting the next, so an interrupted run
// resumes after the last completed step.
type StepPlugin[T any] struct {
	name       string
	maxVersion int
	store      InfoStore
	provider   DataProvider[T]
	steps      []Step[T]
}

var _ Plugin = (*StepPlugin[struct{}])(nil)

// NewStepPlugin validates and assembles a plugin. Step versions must be
// positive, unique and not above maxVersion.
func NewStepPlugin[T any](
	name string,
	maxVersion int,
	store InfoStore,
	provider DataProvider[T],
	steps ...Step[T],
) (*StepPlugin[T], error) {
	if name == "" {
		return nil, ConfigError.New("plugin name must not be empty")
	}
	if maxVersion < 0 {
		return nil, ConfigError.New("plugin %q: max version %d is negative", name, maxVersion)
	}
	if store == nil {
		return nil, ConfigError.New("plugin %q: info store is required", name)
	}
	if provider == nil {
		return nil, ConfigError.New("plugin %q: data provider is required", name)
	}

	sorted := make([]Step[T], len(steps))
	copy(sorted, steps)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Version() < sorted[j].Version()
	})

	for i, step := range sorted {
		v := step.Version()
		switch {
		case v <= 0:
			return nil, ConfigError.New("plugin %q: step version %d must be positive", name, v)
		case v > maxVersion:
			return nil, ConfigError.New("plugin %q: step version %d exceeds max version %d", name, v, maxVersion)
		case i > 0 && sorted[i-1].Version() == v:
			return nil, ConfigError.New("plugin %q: duplicate step version %d", name, v)
		}
	}

	return &StepPlugin[T]{
		name:       name,
		maxVersion: maxVersion,
		store:      store,
		provider:   provider,
		steps:      sorted,
	}, nil
}

func (p *StepPlugin[T]) Name() string { return p.name }

func (p *StepPlugin[T]) MaxVersion() int { return p.maxVersion }

// Versions returns the versions of the plugin's steps in execution order.
func (p *StepPlugin[T]) Versions() []int {
	versions := make([]int, len(p.steps))
	for i, step := range p.steps {
		versions[i] = step.Version()
	}
	return versions
}

func (p *StepPlugin[T]) Run(ctx context.Context, observer ProgressObserver) error {
	current, err := p.store.Version(ctx, p.name)
	if err != nil {
		return errorx.Decorate(err, "failed to read version of plugin %q", p.name)
	}

	var pending []Step[T]
	for _, step := range p.steps {
		if step.Version() > current {
			pending = append(pending, step)
		}
	}
	if len(pending) == 0 {
		// A reset to the current version or an interrupted run can leave a
		// stale RUNNING or ERROR code behind with nothing left to do.
		code, err := p.store.StatusCode(ctx, p.name)
		if err != nil {
			return errorx.Decorate(err, "failed to read status of plugin %q", p.name)
		}
		if code == int(StatusComplete) {
			return nil
		}
		if err := p.store.SetStatusCode(ctx, p.name, int(StatusComplete)); err != nil {
			return errorx.Decorate(err, "failed to mark plugin %q complete", p.name)
		}
		return nil
	}

	if err := p.store.SetStatusCode(ctx, p.name, int(StatusRunning)); err != nil {
		return errorx.Decorate(err, "failed to mark plugin %q running", p.name)
	}

	for _, step := range pending {
		version := step.Version()
		observer.Update(ctx, version, "Starting migration")

		if err := step.Migrate(ctx, p.provider, observer); err != nil && !observer.HasFailed() {
			observer.FailedWithCause(ctx, version, err.Error(), err)
		}
		if observer.HasFailed() {
			return nil
		}

		if err := p.store.SetVersion(ctx, p.name, version); err != nil {
			return errorx.Decorate(err, "failed to store version %d of plugin %q", version, p.name)
		}
		observer.Update(ctx, version, "Migration complete")
	}

	if err := p.store.SetStatusCode(ctx, p.name, int(StatusComplete)); err != nil {
		return errorx.Decorate(err, "failed to mark plugin %q complete", p.name)
	}
	return nil
}
