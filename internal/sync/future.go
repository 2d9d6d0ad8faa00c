package sync

import "errors"

// Future is a value that becomes available at a later point of the workflow
// execution, for example an activity result.
type Future[T any] interface {
	// Get returns the value if set, blocks the calling coroutine otherwise
	Get(ctx Context) (T, error)
}

// SettableFuture is a Future whose value can be provided by the executor when the
// matching history event is applied.
type SettableFuture[T any] interface {
	Future[T]

	// Set stores the value and unblocks waiting consumers
	Set(v T, err error) error

	// Ready returns true if the value has been set
	Ready() bool
}

func NewFuture[T any]() SettableFuture[T] {
	return &future[T]{}
}

type future[T any] struct {
	hasValue bool
	v        T
	err      error
}

func (f *future[T]) Set(v T, err error) error {
	if f.hasValue {
		return errors.New("future already set")
	}

	f.v = v
	f.err = err
	f.hasValue = true

	return nil
}

func (f *future[T]) Ready() bool {
	return f.hasValue
}

func (f *future[T]) Get(ctx Context) (T, error) {
	cr := getCoState(ctx)

	for {
		if f.hasValue {
			cr.MadeProgress()

			return f.v, f.err
		}

		cr.Yield()
	}
}
