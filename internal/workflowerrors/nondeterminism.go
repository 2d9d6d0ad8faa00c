package workflowerrors

import "fmt"

// NonDeterminismError indicates that replaying a workflow produced a command
// sequence diverging from the recorded history. It fails the workflow instance and
// is never retried, a retry would diverge identically.
type NonDeterminismError struct {
	message string
}

var _ error = (*NonDeterminismError)(nil)

func NewNonDeterminismError(scheduleEventID int64, expected, got string) *NonDeterminismError {
	return &NonDeterminismError{
		message: fmt.Sprintf(
			"non-determinism detected: replay diverged at schedule event %d: history recorded %s, workflow issued %s",
			scheduleEventID, expected, got),
	}
}

func (nde *NonDeterminismError) Error() string {
	return nde.message
}
