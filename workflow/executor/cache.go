package executor

import (
	"context"

	"github.com/atlasflow/durable/core"
)

// ExecutorCache keeps workflow executors alive between tasks so a new task for
// the same instance can skip replaying the full history.
type ExecutorCache interface {
	Store(ctx context.Context, instance *core.WorkflowInstance, workflow WorkflowExecutor) error
	Evict(ctx context.Context, instance *core.WorkflowInstance) error
	Get(ctx context.Context, instance *core.WorkflowInstance) (WorkflowExecutor, bool, error)
	StartEviction(ctx context.Context)
}
