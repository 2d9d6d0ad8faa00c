package history

import (
	"github.com/atlasflow/durable/core"
)

// WorkflowEvent is an event addressed to a specific workflow instance. Completing a
// workflow task can produce events for other instances, for example the start of a
// sub-workflow or a sub-workflow result for the parent.
type WorkflowEvent struct {
	WorkflowInstance *core.WorkflowInstance `json:"workflow_instance,omitempty"`

	HistoryEvent *Event `json:"history_event,omitempty"`
}

// EventsByWorkflowInstance groups the given events by their target instance,
// preserving the relative order of events for the same instance.
func EventsByWorkflowInstance(events []*WorkflowEvent) map[*core.WorkflowInstance][]*Event {
	groups := make(map[*core.WorkflowInstance][]*Event)

	instances := make(map[string]*core.WorkflowInstance)

	for _, event := range events {
		key := event.WorkflowInstance.InstanceID + "/" + event.WorkflowInstance.ExecutionID

		instance, ok := instances[key]
		if !ok {
			instance = event.WorkflowInstance
			instances[key] = instance
		}

		groups[instance] = append(groups[instance], event.HistoryEvent)
	}

	return groups
}
