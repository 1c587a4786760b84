package migration

import "context"

// InfoStore is the durable, cluster-visible record of each plugin's
// migration state. It is the single source of truth for versions; the
// manager only ever caches what it reads from here.
//
// Implementations must support atomic reads and writes per plugin name.
// Cross-plugin transactions are not required. A plugin that has never been
// written reads as version 0, status code 0 and an empty message.
type InfoStore interface {
	Version(ctx context.Context, plugin string) (int, error)
	SetVersion(ctx context.Context, plugin string, version int) error

	// StatusCode returns the raw stored code. Callers validate it with
	// ParseStatusCode.
	StatusCode(ctx context.Context, plugin string) (int, error)
	SetStatusCode(ctx context.Context, plugin string, code int) error

	StatusMessage(ctx context.Context, plugin string) (string, error)
	SetStatusMessage(ctx context.Context, plugin string, message string) error
}
