// Package workflow contains the API used from within workflow code. Everything
// here is deterministic: time, sleeping, spawning concurrent work, and calling
// activities all go through the workflow history so executions can be replayed.
package workflow

import (
	"github.com/atlasflow/durable/core"
	"github.com/atlasflow/durable/internal/sync"
)

type (
	// Workflow is the type of a workflow function: func(Context, ...) (..., error)
	Workflow = any

	// Activity is the type of an activity function
	Activity = any

	// Instance identifies a single run of a workflow
	Instance = core.WorkflowInstance

	// Queue is the name of a task queue
	Queue = core.Queue
)

const QueueDefault = core.QueueDefault

// Go spawns a new workflow coroutine. Unlike goroutines, workflow coroutines are
// scheduled cooperatively and deterministically.
func Go(ctx Context, f func(ctx Context)) {
	sync.Go(ctx, f)
}

// WorkflowInstance returns the instance of the currently executing workflow.
func WorkflowInstance(ctx Context) *Instance {
	return workflowState(ctx).Instance()
}
