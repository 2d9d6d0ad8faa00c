package workflow

import (
	"github.com/atlasflow/durable/internal/sync"
	"github.com/atlasflow/durable/internal/workflowstate"
)

type (
	// Context is the context passed to workflow functions. It behaves like
	// context.Context but cancellation is only observed at deterministic
	// suspension points.
	Context = sync.Context

	CancelFunc = sync.CancelFunc
)

// Canceled is the error set on futures and returned from blocked operations when
// the workflow is canceled.
var Canceled = sync.Canceled

func WithCancel(parent Context) (Context, CancelFunc) {
	return sync.WithCancel(parent)
}

func WithValue(parent Context, key, val any) Context {
	return sync.WithValue(parent, key, val)
}

// NewDisconnectedContext returns a context that is not canceled when the
// workflow is canceled. Use it for cleanup work that has to run after
// cancellation.
func NewDisconnectedContext(ctx Context) (Context, CancelFunc) {
	return sync.NewDisconnectedContext(ctx)
}

func workflowState(ctx Context) *workflowstate.WfState {
	return workflowstate.WorkflowState(ctx)
}
