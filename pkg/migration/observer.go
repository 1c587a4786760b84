package migration

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/joomcode/errorx"
	"github.com/rs/zerolog"
)

// ProgressObserver is the only channel a running step uses to report
// progress and terminal failure. It decouples step execution from how the
// status is persisted.
//
// Failing does not roll back writes the step already committed, so steps
// must be idempotent and safe to run again from the start.
type ProgressObserver interface {
	// Update records a human readable status for the version being migrated.
	Update(ctx context.Context, version int, message string)

	// Failed marks the run as failed.
	Failed(ctx context.Context, version int, reason string)

	// FailedWithCause marks the run as failed and records the cause along
	// with its stack trace.
	FailedWithCause(ctx context.Context, version int, reason string, cause error)

	// HasFailed reports whether Failed or FailedWithCause has been called.
	HasFailed() bool
}

const (
	updateFormat  = "Migration version %d.  %s"
	failureFormat = "Failed to migrate, reason is appended.  Error '%s'"
)

// reporter persists progress into the info store for a single plugin run.
// A fresh reporter is created for every run.
type reporter struct {
	plugin string
	store  InfoStore
	logger *zerolog.Logger

	failed atomic.Bool

	mu   sync.Mutex
	errs *multierror.Error
}

var _ ProgressObserver = (*reporter)(nil)

func newReporter(plugin string, store InfoStore, logger *zerolog.Logger) *reporter {
	return &reporter{
		plugin: plugin,
		store:  store,
		logger: logger,
	}
}

func (r *reporter) Update(ctx context.Context, version int, message string) {
	formatted := fmt.Sprintf(updateFormat, version, message)

	r.logger.Info().
		Str("plugin", r.plugin).
		Int("version", version).
		Msg(formatted)

	// Status must be written even when the run was cancelled, otherwise the
	// plugin stays RUNNING.
	if err := r.store.SetStatusMessage(context.WithoutCancel(ctx), r.plugin, formatted); err != nil {
		r.record(err, "failed to store status message for plugin %q", r.plugin)
	}
}

func (r *reporter) Failed(ctx context.Context, version int, reason string) {
	stored := fmt.Sprintf(failureFormat, reason)

	r.Update(ctx, version, stored)
	r.logger.Error().
		Str("plugin", r.plugin).
		Int("version", version).
		Msg(stored)

	r.markFailed(ctx)
}

func (r *reporter) FailedWithCause(ctx context.Context, version int, reason string, cause error) {
	if cause == nil {
		r.Failed(ctx, version, reason)
		return
	}

	traced := errorx.EnsureStackTrace(cause)
	stored := fmt.Sprintf(failureFormat+" %+v", reason, traced)

	r.Update(ctx, version, stored)
	r.logger.Error().
		Err(cause).
		Str("plugin", r.plugin).
		Int("version", version).
		Msgf("Unable to migrate version %d due to reason %s", version, reason)

	r.markFailed(ctx)
}

func (r *reporter) HasFailed() bool {
	return r.failed.Load()
}

func (r *reporter) markFailed(ctx context.Context) {
	r.failed.Store(true)

	if err := r.store.SetStatusCode(context.WithoutCancel(ctx), r.plugin, int(StatusError)); err != nil {
		r.record(err, "failed to store error status for plugin %q", r.plugin)
	}
}

func (r *reporter) record(err error, format string, args ...any) {
	wrapped := errorx.Decorate(err, format, args...)
	r.logger.Error().Err(wrapped).Str("plugin", r.plugin).Msg("Progress could not be persisted")

	r.mu.Lock()
	r.errs = multierror.Append(r.errs, wrapped)
	r.mu.Unlock()
}

// Err returns every persistence error seen during the run, or nil.
func (r *reporter) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errs.ErrorOrNil()
}
