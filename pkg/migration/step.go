package migration

import "context"

// DataProvider yields the records a step needs to migrate.
type DataProvider[T any] interface {
	// Each calls fn for every record. Iteration stops at the first error
	// returned by fn, which is then returned by Each.
	Each(ctx context.Context, fn func(T) error) error
}

// DataProviderFunc adapts a function to the DataProvider interface.
type DataProviderFunc[T any] func(ctx context.Context, fn func(T) error) error

func (f DataProviderFunc[T]) Each(ctx context.Context, fn func(T) error) error {
	return f(ctx, fn)
}

// SliceProvider serves a fixed set of records.
type SliceProvider[T any] []T

func (s SliceProvider[T]) Each(ctx context.Context, fn func(T) error) error {
	for _, item := range s {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(item); err != nil {
			return err
		}
	}
	return nil
}

// Step is a single versioned unit of transformation work.
type Step[T any] interface {
	// Version is the version this step produces. It must be unique within
	// its plugin and is persisted once the step finishes successfully.
	Version() int

	// Migrate performs the transformation. Unrecoverable problems are
	// reported through the observer. A non-nil error is treated as a
	// failure outcome too: the plugin reports it with the error as cause
	// unless the step already reported a failure itself.
	Migrate(ctx context.Context, provider DataProvider[T], observer ProgressObserver) error
}
