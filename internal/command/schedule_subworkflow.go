package command

import (
	"github.com/benbjohnson/clock"
	"github.com/atlasflow/durable/backend/history"
	"github.com/atlasflow/durable/backend/payload"
	"github.com/atlasflow/durable/core"
)

type ScheduleSubWorkflowCommand struct {
	cancelableCommand

	// Instance is the sub-workflow instance to start. During replay it is replaced
	// with the instance recorded in history so the execution ID stays stable.
	Instance *core.WorkflowInstance

	Queue core.Queue

	Name   string
	Inputs []payload.Payload
}

var _ CancelableCommand = (*ScheduleSubWorkflowCommand)(nil)

func NewScheduleSubWorkflowCommand(
	id int64,
	parentInstance *core.WorkflowInstance,
	subWorkflowInstanceID, subWorkflowExecutionID string,
	name string,
	inputs []payload.Payload,
	queue core.Queue,
) *ScheduleSubWorkflowCommand {
	return &ScheduleSubWorkflowCommand{
		cancelableCommand: cancelableCommand{
			command: command{
				id:    id,
				name:  "ScheduleSubWorkflow",
				state: CommandState_Pending,
			},
		},
		Instance: core.NewSubWorkflowInstance(subWorkflowInstanceID, subWorkflowExecutionID, parentInstance, id),
		Queue:    queue,
		Name:     name,
		Inputs:   inputs,
	}
}

func (c *ScheduleSubWorkflowCommand) Execute(clock clock.Clock) *CommandResult {
	switch c.state {
	case CommandState_Pending:
		c.state = CommandState_Committed

		now := clock.Now()

		return &CommandResult{
			Events: []*history.Event{
				history.NewPendingEvent(
					now,
					history.EventType_SubWorkflowScheduled,
					&history.SubWorkflowScheduledAttributes{
						SubWorkflowInstance: c.Instance,
						Name:                c.Name,
						Inputs:              c.Inputs,
					},
					history.ScheduleEventID(c.id),
				),
			},

			// Start the new instance
			WorkflowEvents: []*history.WorkflowEvent{
				{
					WorkflowInstance: c.Instance,
					HistoryEvent: history.NewPendingEvent(
						now,
						history.EventType_WorkflowExecutionStarted,
						&history.ExecutionStartedAttributes{
							Name:   c.Name,
							Queue:  c.Queue,
							Inputs: c.Inputs,
						},
					),
				},
			},
		}

	case CommandState_CancelPending:
		c.state = CommandState_Canceled

		now := clock.Now()

		return &CommandResult{
			Events: []*history.Event{
				history.NewPendingEvent(
					now,
					history.EventType_SubWorkflowCancellationRequested,
					&history.SubWorkflowCancellationRequestedAttributes{
						SubWorkflowInstance: c.Instance,
					},
					history.ScheduleEventID(c.id),
				),
			},

			// Deliver the cancellation to the sub-workflow instance
			WorkflowEvents: []*history.WorkflowEvent{
				{
					WorkflowInstance: c.Instance,
					HistoryEvent: history.NewPendingEvent(
						now,
						history.EventType_WorkflowExecutionCanceled,
						&history.ExecutionCanceledAttributes{},
					),
				},
			},
		}
	}

	return nil
}
