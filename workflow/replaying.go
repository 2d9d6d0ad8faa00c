package workflow

import (
	"github.com/atlasflow/durable/internal/workflowstate"
)

// Replaying returns true while the workflow catches up on existing history.
func Replaying(ctx Context) bool {
	return workflowstate.WorkflowState(ctx).Replaying()
}
