package command

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/atlasflow/durable/backend/history"
	"github.com/atlasflow/durable/core"
)

type CommandState int

const (
	CommandState_Pending CommandState = iota
	CommandState_Committed
	CommandState_CancelPending
	CommandState_Canceled
	CommandState_Done
)

func (cs CommandState) String() string {
	switch cs {
	case CommandState_Pending:
		return "Pending"
	case CommandState_Committed:
		return "Committed"
	case CommandState_CancelPending:
		return "CancelPending"
	case CommandState_Canceled:
		return "Canceled"
	case CommandState_Done:
		return "Done"
	default:
		panic("unknown command state")
	}
}

// Command is a side effect the workflow requested, as a small state machine:
//
//	Pending -> Committed -> Done
//	    \-> Canceled  (never scheduled)
//	Committed -> CancelPending -> Canceled
//
// Execute transitions a command and produces the events to journal. Commit marks a
// command as already journaled during replay, without emitting events again.
type Command interface {
	ID() int64

	Type() string

	State() CommandState

	// Execute transitions the command and returns events to journal, or nil when
	// there is nothing to do in the current state
	Execute(clock clock.Clock) *CommandResult

	// Commit acknowledges the command's schedule event during replay
	Commit()

	// Done marks the command's result as applied
	Done()
}

// CancelableCommand is a command whose effect can be withdrawn before it completed,
// for example a pending timer.
type CancelableCommand interface {
	Command

	// Cancel requests cancellation. A still-pending command is dropped silently, a
	// committed one emits its cancellation events on the next Execute.
	Cancel()

	// HandleCancel acknowledges the command's cancellation event during replay
	HandleCancel()
}

type CommandResult struct {
	// State is the workflow instance state this command transitions the instance to
	State core.WorkflowInstanceState

	// Events to add to the instance's history
	Events []*history.Event

	// ActivityEvents are activity tasks to queue
	ActivityEvents []*history.Event

	// TimerEvents become visible to the instance once their timer fires
	TimerEvents []*history.Event

	// WorkflowEvents are events addressed to other workflow instances
	WorkflowEvents []*history.WorkflowEvent
}

type command struct {
	id    int64
	name  string
	state CommandState
}

func (c *command) ID() int64 {
	return c.id
}

func (c *command) Type() string {
	return c.name
}

func (c *command) State() CommandState {
	return c.state
}

func (c *command) Commit() {
	if c.state != CommandState_Pending {
		panic(fmt.Sprintf("cannot commit command in state %s", c.state))
	}

	c.state = CommandState_Committed
}

func (c *command) Done() {
	c.state = CommandState_Done
}

type cancelableCommand struct {
	command
}

func (c *cancelableCommand) Cancel() {
	switch c.state {
	case CommandState_Pending:
		// Never scheduled, drop silently
		c.state = CommandState_Canceled
	case CommandState_Committed:
		c.state = CommandState_CancelPending
	}
}

func (c *cancelableCommand) HandleCancel() {
	c.state = CommandState_Canceled
}
