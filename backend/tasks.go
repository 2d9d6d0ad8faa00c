package backend

import (
	"github.com/atlasflow/durable/backend/history"
	"github.com/atlasflow/durable/core"
)

// WorkflowTask represents work for one workflow execution slice.
type WorkflowTask struct {
	// ID is an identifier for this task. It's set by the backend
	ID string

	// WorkflowInstance is the workflow instance that this task is for
	WorkflowInstance *core.WorkflowInstance

	// Queue the task was fetched from
	Queue core.Queue

	// LastSequenceID is the sequence ID of the newest event in the workflow
	// instance's history
	LastSequenceID int64

	// NewEvents are new events since the last task execution
	NewEvents []*history.Event

	// Backend specific data, only the producer of the task should rely on this.
	CustomData any
}

// ActivityTask represents one activity execution attempt.
type ActivityTask struct {
	ID string

	WorkflowInstance *core.WorkflowInstance

	Queue core.Queue

	// Event is the ActivityScheduled event, carrying name, inputs and attempt
	Event *history.Event

	// Backend specific data, only the producer of the task should rely on this.
	CustomData any
}
