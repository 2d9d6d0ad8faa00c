package workflow

import (
	"github.com/atlasflow/durable/internal/workflowstate"
)

// NewSignalChannel returns a channel that receives signals sent to this
// workflow instance under the given name. Signals received before the channel
// is created are buffered and delivered in order.
func NewSignalChannel[T any](ctx Context, name string) Channel[T] {
	wfState := workflowstate.WorkflowState(ctx)

	return workflowstate.GetSignalChannel[T](ctx, wfState, name)
}
