package workflow

import (
	"github.com/atlasflow/durable/internal/sync"
)

type (
	// Future is a value that becomes available later in the workflow execution
	Future[T any] = sync.Future[T]

	// Channel is a deterministic channel for communication between workflow
	// coroutines
	Channel[T any] = sync.Channel[T]
)

func NewChannel[T any]() Channel[T] {
	return sync.NewChannel[T]()
}

func NewBufferedChannel[T any](size int) Channel[T] {
	return sync.NewBufferedChannel[T](size)
}
