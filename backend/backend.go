package backend

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/trace"

	"github.com/atlasflow/durable/backend/history"
	"github.com/atlasflow/durable/backend/metrics"
	"github.com/atlasflow/durable/core"
)

var (
	ErrInstanceNotFound      = errors.New("workflow instance not found")
	ErrInstanceAlreadyExists = errors.New("workflow instance already exists")
	ErrInstanceNotFinished   = errors.New("workflow instance is not finished")
)

const TracerName = "atlasflow-durable"

type Backend interface {
	// CreateWorkflowInstance creates a new workflow instance. It returns
	// ErrInstanceAlreadyExists when an open run with the same instance ID
	// exists. event has to be a WorkflowExecutionStarted event.
	CreateWorkflowInstance(ctx context.Context, instance *core.WorkflowInstance, event *history.Event) error

	// CancelWorkflowInstance delivers a cancellation request to a running
	// workflow instance
	CancelWorkflowInstance(ctx context.Context, instance *core.WorkflowInstance, cancelEvent *history.Event) error

	// RemoveWorkflowInstance removes a finished workflow instance and its
	// history. Returns ErrInstanceNotFinished for instances still running.
	RemoveWorkflowInstance(ctx context.Context, instance *core.WorkflowInstance) error

	// GetWorkflowInstanceState returns the state of the given workflow instance
	GetWorkflowInstanceState(ctx context.Context, instance *core.WorkflowInstance) (core.WorkflowInstanceState, error)

	// GetWorkflowInstanceHistory returns the history of the given instance in
	// sequence order. When lastSequenceID is given, only events after that
	// event are returned.
	GetWorkflowInstanceHistory(ctx context.Context, instance *core.WorkflowInstance, lastSequenceID *int64) ([]*history.Event, error)

	// SignalWorkflow delivers a signal event to the open run of the given
	// instance ID. Returns ErrInstanceNotFound if there is none.
	SignalWorkflow(ctx context.Context, instanceID string, event *history.Event) error

	// GetWorkflowTask returns a pending workflow task from one of the given
	// queues, or nil if there is none. The task is locked for
	// WorkflowLockTimeout.
	GetWorkflowTask(ctx context.Context, queues []core.Queue) (*WorkflowTask, error)

	// ExtendWorkflowTask extends the lock of a workflow task
	ExtendWorkflowTask(ctx context.Context, task *WorkflowTask) error

	// CompleteWorkflowTask checkpoints a workflow task retrieved using
	// GetWorkflowTask in a single atomic operation: executedEvents move from
	// the pending queue into the history, activityEvents and timerEvents are
	// scheduled, and workflowEvents are delivered to other instances.
	CompleteWorkflowTask(
		ctx context.Context, task *WorkflowTask, state core.WorkflowInstanceState,
		executedEvents, activityEvents, timerEvents []*history.Event, workflowEvents []*history.WorkflowEvent) error

	// GetActivityTask returns a pending activity task from one of the given
	// queues, or nil if there is none. The task is locked for
	// ActivityLockTimeout.
	GetActivityTask(ctx context.Context, queues []core.Queue) (*ActivityTask, error)

	// ExtendActivityTask extends the lock of an activity task
	ExtendActivityTask(ctx context.Context, task *ActivityTask) error

	// CompleteActivityTask completes an activity task and delivers the result
	// event to the workflow instance
	CompleteActivityTask(ctx context.Context, task *ActivityTask, result *history.Event) error

	// Tracer returns the configured tracer for the backend
	Tracer() trace.Tracer

	// Metrics returns the configured metrics client for the backend
	Metrics() metrics.Client

	// Options returns the configured options for the backend
	Options() *Options

	// Close closes any underlying resources
	Close() error
}
