package history

import (
	"github.com/atlasflow/durable/backend/payload"
	"github.com/atlasflow/durable/core"
	"github.com/atlasflow/durable/internal/workflowerrors"
)

type SubWorkflowScheduledAttributes struct {
	SubWorkflowInstance *core.WorkflowInstance `json:"sub_workflow_instance,omitempty"`

	Name string `json:"name,omitempty"`

	Inputs []payload.Payload `json:"inputs,omitempty"`
}

type SubWorkflowCancellationRequestedAttributes struct {
	SubWorkflowInstance *core.WorkflowInstance `json:"sub_workflow_instance,omitempty"`
}

type SubWorkflowCompletedAttributes struct {
	Result payload.Payload `json:"result,omitempty"`
}

type SubWorkflowFailedAttributes struct {
	Error *workflowerrors.Error `json:"error,omitempty"`
}
