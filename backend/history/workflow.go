package history

import (
	"github.com/atlasflow/durable/backend/payload"
	"github.com/atlasflow/durable/core"
	"github.com/atlasflow/durable/internal/workflowerrors"
)

type ExecutionStartedAttributes struct {
	Name string `json:"name,omitempty"`

	Queue core.Queue `json:"queue,omitempty"`

	Inputs []payload.Payload `json:"inputs,omitempty"`
}

type ExecutionCompletedAttributes struct {
	Result payload.Payload `json:"result,omitempty"`

	Error *workflowerrors.Error `json:"error,omitempty"`
}

type ExecutionCanceledAttributes struct {
}

type ExecutionContinuedAsNewAttributes struct {
	Result payload.Payload `json:"result,omitempty"`

	ContinuedExecutionID string `json:"continued_execution_id,omitempty"`

	Inputs []payload.Payload `json:"inputs,omitempty"`
}

type WorkflowTaskStartedAttributes struct {
}
