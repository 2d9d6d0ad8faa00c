package command

import (
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/atlasflow/durable/backend/history"
	"github.com/atlasflow/durable/backend/payload"
	"github.com/atlasflow/durable/core"
)

type ContinueAsNewCommand struct {
	command

	Instance *core.WorkflowInstance
	Queue    core.Queue
	Name     string
	Result   payload.Payload
	Inputs   []payload.Payload

	// ContinuedExecutionID is the execution ID of the successor run
	ContinuedExecutionID string
}

var _ Command = (*ContinueAsNewCommand)(nil)

func NewContinueAsNewCommand(
	id int64, instance *core.WorkflowInstance, result payload.Payload, queue core.Queue, name string, inputs []payload.Payload,
) *ContinueAsNewCommand {
	return &ContinueAsNewCommand{
		command: command{
			id:    id,
			name:  "ContinueAsNew",
			state: CommandState_Pending,
		},
		Instance:             instance,
		Queue:                queue,
		Name:                 name,
		Result:               result,
		Inputs:               inputs,
		ContinuedExecutionID: uuid.NewString(),
	}
}

func (c *ContinueAsNewCommand) Execute(clock clock.Clock) *CommandResult {
	switch c.state {
	case CommandState_Pending:
		c.state = CommandState_Committed

		now := clock.Now()

		// The successor keeps the instance ID, parent linkage and queue, only the
		// execution ID changes.
		var continuedInstance *core.WorkflowInstance
		if c.Instance.SubWorkflow() {
			continuedInstance = core.NewSubWorkflowInstance(
				c.Instance.InstanceID, c.ContinuedExecutionID, c.Instance.Parent, c.Instance.ParentEventID)
		} else {
			continuedInstance = core.NewWorkflowInstance(c.Instance.InstanceID, c.ContinuedExecutionID)
		}

		return &CommandResult{
			State: core.WorkflowInstanceStateContinuedAsNew,
			Events: []*history.Event{
				history.NewPendingEvent(
					now,
					history.EventType_WorkflowExecutionContinuedAsNew,
					&history.ExecutionContinuedAsNewAttributes{
						Result:               c.Result,
						ContinuedExecutionID: c.ContinuedExecutionID,
						Inputs:               c.Inputs,
					},
					history.ScheduleEventID(c.id),
				),
			},

			WorkflowEvents: []*history.WorkflowEvent{
				{
					WorkflowInstance: continuedInstance,
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
	}

	return nil
}
