package workflow

import (
	"github.com/atlasflow/durable/internal/workflowerrors"
)

// Error is the persisted form of activity, sub-workflow and workflow failures.
type Error = workflowerrors.Error

// PanicError indicates that workflow or activity code panicked.
type PanicError = workflowerrors.PanicError

// NewError wraps err for workflow consumption, preserving its type and
// stacktrace.
func NewError(err error) *Error {
	return workflowerrors.FromError(err)
}

// NewPermanentError marks err as non-retryable. Retry loops stop immediately
// when an activity or sub-workflow fails with a permanent error.
func NewPermanentError(err error) *Error {
	return workflowerrors.NewPermanentError(err)
}
