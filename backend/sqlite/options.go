package sqlite

import (
	"github.com/atlasflow/durable/backend"
)

type options struct {
	*backend.Options

	// WorkerName identifies this worker in lease bookkeeping. A random name is
	// generated when not set.
	WorkerName string
}

type option func(*options)

// WithWorkerName sets a custom worker name for lease bookkeeping.
func WithWorkerName(workerName string) option {
	return func(o *options) {
		o.WorkerName = workerName
	}
}

// WithBackendOptions applies generic backend options.
func WithBackendOptions(opts ...backend.BackendOption) option {
	return func(o *options) {
		for _, opt := range opts {
			opt(o.Options)
		}
	}
}
