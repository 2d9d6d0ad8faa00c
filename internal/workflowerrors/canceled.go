package workflowerrors

// CanceledError indicates a workflow run that ended because it was canceled
// and propagated the cancellation instead of handling it.
type CanceledError struct{}

var _ error = (*CanceledError)(nil)

func NewCanceledError() *CanceledError {
	return &CanceledError{}
}

func (ce *CanceledError) Error() string {
	return "workflow canceled"
}
