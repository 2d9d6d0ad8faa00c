package history

import (
	"time"

	"github.com/atlasflow/durable/backend/payload"
	"github.com/atlasflow/durable/internal/workflowerrors"
)

type ActivityScheduledAttributes struct {
	Name string `json:"name,omitempty"`

	Inputs []payload.Payload `json:"inputs,omitempty"`

	// Attempt is 1 for the first execution of an activity, it increases with every
	// retry of the same logical call.
	Attempt int `json:"attempt,omitempty"`

	// StartToCloseTimeout bounds a single execution attempt. Zero means no limit.
	StartToCloseTimeout time.Duration `json:"start_to_close_timeout,omitempty"`
}

type ActivityCompletedAttributes struct {
	Result payload.Payload `json:"result,omitempty"`
}

type ActivityFailedAttributes struct {
	Error *workflowerrors.Error `json:"error,omitempty"`
}
