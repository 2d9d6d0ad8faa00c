package command

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/atlasflow/durable/backend/history"
	"github.com/atlasflow/durable/backend/payload"
)

type ScheduleActivityCommand struct {
	command

	Name                string
	Inputs              []payload.Payload
	Attempt             int
	StartToCloseTimeout time.Duration
}

var _ Command = (*ScheduleActivityCommand)(nil)

func NewScheduleActivityCommand(
	id int64, name string, inputs []payload.Payload, attempt int, startToCloseTimeout time.Duration,
) *ScheduleActivityCommand {
	return &ScheduleActivityCommand{
		command: command{
			id:    id,
			name:  "ScheduleActivity",
			state: CommandState_Pending,
		},
		Name:                name,
		Inputs:              inputs,
		Attempt:             attempt,
		StartToCloseTimeout: startToCloseTimeout,
	}
}

func (c *ScheduleActivityCommand) Execute(clock clock.Clock) *CommandResult {
	switch c.state {
	case CommandState_Pending:
		c.state = CommandState_Committed

		event := history.NewPendingEvent(
			clock.Now(),
			history.EventType_ActivityScheduled,
			&history.ActivityScheduledAttributes{
				Name:                c.Name,
				Inputs:              c.Inputs,
				Attempt:             c.Attempt,
				StartToCloseTimeout: c.StartToCloseTimeout,
			},
			history.ScheduleEventID(c.id),
		)

		return &CommandResult{
			Events:         []*history.Event{event},
			ActivityEvents: []*history.Event{event},
		}
	}

	return nil
}
