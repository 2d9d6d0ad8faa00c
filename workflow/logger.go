package workflow

import (
	"log/slog"

	"github.com/atlasflow/durable/internal/workflowstate"
)

// Logger returns a logger scoped to the current workflow instance. Records are
// suppressed during replay so log lines appear once per execution.
func Logger(ctx Context) *slog.Logger {
	return workflowstate.WorkflowState(ctx).Logger()
}
