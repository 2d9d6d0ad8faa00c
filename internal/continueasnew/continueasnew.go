package continueasnew

import (
	"github.com/atlasflow/durable/backend/payload"
)

// Error is returned from a workflow function to terminate the current execution and
// atomically start a new one for the same instance ID.
type Error struct {
	Inputs []payload.Payload
}

var _ error = (*Error)(nil)

func (e *Error) Error() string {
	return "continue as new"
}

func NewError(inputs []payload.Payload) error {
	return &Error{
		Inputs: inputs,
	}
}
