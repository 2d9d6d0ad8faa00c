package command

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/atlasflow/durable/backend/history"
)

func Test_ScheduleActivityCommand(t *testing.T) {
	c := clock.NewMock()

	cmd := NewScheduleActivityCommand(1, "activity", nil, 1, 0)
	require.Equal(t, CommandState_Pending, cmd.State())

	r := cmd.Execute(c)
	require.Equal(t, CommandState_Committed, cmd.State())
	require.Len(t, r.Events, 1)
	require.Equal(t, history.EventType_ActivityScheduled, r.Events[0].Type)
	require.Equal(t, int64(1), r.Events[0].ScheduleEventID)

	// The same event is queued as an activity task
	require.Equal(t, r.Events, r.ActivityEvents)

	// Already committed, nothing left to do
	require.Nil(t, cmd.Execute(c))

	cmd.Done()
	require.Equal(t, CommandState_Done, cmd.State())
}

func Test_ScheduleActivityCommand_CommitDuringReplay(t *testing.T) {
	c := clock.NewMock()

	cmd := NewScheduleActivityCommand(1, "activity", nil, 1, 0)
	cmd.Commit()
	require.Equal(t, CommandState_Committed, cmd.State())

	// Committed during replay, the schedule event is already journaled
	require.Nil(t, cmd.Execute(c))
}

func Test_ScheduleTimerCommand(t *testing.T) {
	c := clock.NewMock()

	at := c.Now().Add(time.Minute)
	cmd := NewScheduleTimerCommand(2, at, "")

	r := cmd.Execute(c)
	require.Equal(t, CommandState_Committed, cmd.State())
	require.Len(t, r.Events, 1)
	require.Equal(t, history.EventType_TimerScheduled, r.Events[0].Type)

	// The fired event stays invisible until the timer is up
	require.Len(t, r.TimerEvents, 1)
	require.Equal(t, history.EventType_TimerFired, r.TimerEvents[0].Type)
	require.Equal(t, at, *r.TimerEvents[0].VisibleAt)
}

func Test_ScheduleTimerCommand_CancelBeforeCommit(t *testing.T) {
	c := clock.NewMock()

	cmd := NewScheduleTimerCommand(2, c.Now().Add(time.Minute), "")

	// Never scheduled, dropped without a cancellation event
	cmd.Cancel()
	require.Equal(t, CommandState_Canceled, cmd.State())
	require.Nil(t, cmd.Execute(c))
}

func Test_ScheduleTimerCommand_CancelAfterCommit(t *testing.T) {
	c := clock.NewMock()

	cmd := NewScheduleTimerCommand(2, c.Now().Add(time.Minute), "")
	cmd.Execute(c)

	cmd.Cancel()
	require.Equal(t, CommandState_CancelPending, cmd.State())

	// Already journaled, the cancellation has to be journaled too
	r := cmd.Execute(c)
	require.Equal(t, CommandState_Canceled, cmd.State())
	require.Len(t, r.Events, 1)
	require.Equal(t, history.EventType_TimerCanceled, r.Events[0].Type)
	require.Equal(t, int64(2), r.Events[0].ScheduleEventID)

	require.Nil(t, cmd.Execute(c))
}

func Test_Command_CommitTwicePanics(t *testing.T) {
	cmd := NewScheduleActivityCommand(1, "activity", nil, 1, 0)
	cmd.Commit()

	require.Panics(t, func() {
		cmd.Commit()
	})
}
