package core

type WorkflowInstanceState int

const (
	WorkflowInstanceStateActive WorkflowInstanceState = iota
	WorkflowInstanceStateContinuedAsNew
	WorkflowInstanceStateFinished
)

func (s WorkflowInstanceState) String() string {
	switch s {
	case WorkflowInstanceStateActive:
		return "Active"
	case WorkflowInstanceStateContinuedAsNew:
		return "ContinuedAsNew"
	case WorkflowInstanceStateFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}
