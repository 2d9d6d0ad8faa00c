package command

import (
	"github.com/benbjohnson/clock"
	"github.com/atlasflow/durable/backend/history"
	"github.com/atlasflow/durable/backend/payload"
	"github.com/atlasflow/durable/core"
	"github.com/atlasflow/durable/internal/workflowerrors"
)

type CompleteWorkflowCommand struct {
	command

	Instance *core.WorkflowInstance
	Result   payload.Payload
	Error    *workflowerrors.Error
}

var _ Command = (*CompleteWorkflowCommand)(nil)

func NewCompleteWorkflowCommand(
	id int64, instance *core.WorkflowInstance, result payload.Payload, err *workflowerrors.Error,
) *CompleteWorkflowCommand {
	return &CompleteWorkflowCommand{
		command: command{
			id:    id,
			name:  "CompleteWorkflow",
			state: CommandState_Pending,
		},
		Instance: instance,
		Result:   result,
		Error:    err,
	}
}

func (c *CompleteWorkflowCommand) Execute(clock clock.Clock) *CommandResult {
	switch c.state {
	case CommandState_Pending:
		c.state = CommandState_Committed

		now := clock.Now()

		r := &CommandResult{
			State: core.WorkflowInstanceStateFinished,
			Events: []*history.Event{
				history.NewPendingEvent(
					now,
					history.EventType_WorkflowExecutionFinished,
					&history.ExecutionCompletedAttributes{
						Result: c.Result,
						Error:  c.Error,
					},
					history.ScheduleEventID(c.id),
				),
			},
		}

		if c.Instance.SubWorkflow() {
			// Report the result back to the parent workflow instance
			var parentEvent *history.Event

			if c.Error != nil {
				parentEvent = history.NewPendingEvent(
					now,
					history.EventType_SubWorkflowFailed,
					&history.SubWorkflowFailedAttributes{
						Error: c.Error,
					},
					// Deliver to the parent's schedule event
					history.ScheduleEventID(c.Instance.ParentEventID),
				)
			} else {
				parentEvent = history.NewPendingEvent(
					now,
					history.EventType_SubWorkflowCompleted,
					&history.SubWorkflowCompletedAttributes{
						Result: c.Result,
					},
					history.ScheduleEventID(c.Instance.ParentEventID),
				)
			}

			r.WorkflowEvents = []*history.WorkflowEvent{
				{
					WorkflowInstance: c.Instance.Parent,
					HistoryEvent:     parentEvent,
				},
			}
		}

		return r
	}

	return nil
}
