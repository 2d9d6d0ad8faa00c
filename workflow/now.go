package workflow

import (
	"time"

	"github.com/atlasflow/durable/internal/workflowstate"
)

// Now returns the current time from the workflow's logical clock. It only
// advances when a workflow task starts, so it is safe to use in workflow code.
func Now(ctx Context) time.Time {
	return workflowstate.WorkflowState(ctx).Time()
}
