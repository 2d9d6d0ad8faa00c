package workflowerrors

import (
	"fmt"
)

// PanicError indicates a panic in workflow or activity code. Panics are permanent,
// retrying would panic again.
type PanicError struct {
	message    string
	stacktrace string
}

var _ error = (*PanicError)(nil)

func NewPanicError(message string) *PanicError {
	return &PanicError{
		message:    message,
		stacktrace: stack(message),
	}
}

func (pe *PanicError) Error() string {
	return fmt.Sprintf("panic: %s", pe.message)
}

func (pe *PanicError) Stack() string {
	return pe.stacktrace
}
