package migration

import "github.com/joomcode/errorx"

var (
	ErrNamespace = errorx.NewNamespace("migration")

	// ConfigError is returned while assembling plugins or the manager.
	// It is fatal: a process must not start with an invalid registry.
	ConfigError = ErrNamespace.NewType("config")

	// UnknownPluginError is returned for operator requests naming an
	// unregistered plugin.
	UnknownPluginError = ErrNamespace.NewType("unknown_plugin", errorx.NotFound())

	// InvalidVersionError is returned when a reset targets a version outside
	// [0, maxVersion].
	InvalidVersionError = ErrNamespace.NewType("invalid_version")

	// CorruptStatusError is returned when a stored status code is outside the
	// known set.
	CorruptStatusError = ErrNamespace.NewType("corrupt_status")

	// PluginPanicError wraps a panic recovered from a plugin run.
	PluginPanicError = ErrNamespace.NewType("plugin_panic")
)

// IsInvalidRequest reports whether err was caused by an operator request
// that was rejected without mutating any state.
func IsInvalidRequest(err error) bool {
	return errorx.IsOfType(err, UnknownPluginError) || errorx.IsOfType(err, InvalidVersionError)
}
