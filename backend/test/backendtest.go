// Package test provides a conformance suite for backend implementations.
package test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/atlasflow/durable/backend"
	"github.com/atlasflow/durable/backend/history"
	"github.com/atlasflow/durable/core"
)

// BackendTest runs the backend conformance suite. setup has to return a fresh
// backend configured with the given options, teardown may be nil.
func BackendTest(t *testing.T, setup func(options ...backend.BackendOption) backend.Backend, teardown func(b backend.Backend)) {
	tests := []struct {
		name    string
		options []backend.BackendOption
		f       func(t *testing.T, ctx context.Context, b backend.Backend)
	}{
		{
			name: "GetWorkflowTask_ReturnsNilWhenEmpty",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				task, err := b.GetWorkflowTask(ctx, []core.Queue{core.QueueDefault})
				require.NoError(t, err)
				require.Nil(t, task)
			},
		},
		{
			name: "GetActivityTask_ReturnsNilWhenEmpty",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				task, err := b.GetActivityTask(ctx, []core.Queue{core.QueueDefault})
				require.NoError(t, err)
				require.Nil(t, task)
			},
		},
		{
			name: "CreateWorkflowInstance_DoesNotError",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
				err := b.CreateWorkflowInstance(ctx, wfi, startedEvent())
				require.NoError(t, err)
			},
		},
		{
			name: "CreateWorkflowInstance_SameInstanceIDErrors",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				instanceID := uuid.NewString()

				err := b.CreateWorkflowInstance(ctx, core.NewWorkflowInstance(instanceID, uuid.NewString()), startedEvent())
				require.NoError(t, err)

				err = b.CreateWorkflowInstance(ctx, core.NewWorkflowInstance(instanceID, uuid.NewString()), startedEvent())
				require.ErrorIs(t, err, backend.ErrInstanceAlreadyExists)
			},
		},
		{
			name: "CreateWorkflowInstance_InstanceIDReusableAfterFinish",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				instanceID := uuid.NewString()
				wfi := core.NewWorkflowInstance(instanceID, uuid.NewString())

				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi, startedEvent()))

				task, err := b.GetWorkflowTask(ctx, []core.Queue{core.QueueDefault})
				require.NoError(t, err)
				require.NotNil(t, task)

				finishTask(t, ctx, b, task)

				err = b.CreateWorkflowInstance(ctx, core.NewWorkflowInstance(instanceID, uuid.NewString()), startedEvent())
				require.NoError(t, err)
			},
		},
		{
			name: "GetWorkflowTask_ReturnsTask",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi, startedEvent()))

				task, err := b.GetWorkflowTask(ctx, []core.Queue{core.QueueDefault})
				require.NoError(t, err)
				require.NotNil(t, task)
				require.Equal(t, wfi.InstanceID, task.WorkflowInstance.InstanceID)
				require.Equal(t, wfi.ExecutionID, task.WorkflowInstance.ExecutionID)
				require.Equal(t, core.QueueDefault, task.Queue)
				require.Len(t, task.NewEvents, 1)
				require.Equal(t, history.EventType_WorkflowExecutionStarted, task.NewEvents[0].Type)
			},
		},
		{
			name: "GetWorkflowTask_LocksTask",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi, startedEvent()))

				task, err := b.GetWorkflowTask(ctx, []core.Queue{core.QueueDefault})
				require.NoError(t, err)
				require.NotNil(t, task)

				// Task is locked, polling again must not return it
				task, err = b.GetWorkflowTask(ctx, []core.Queue{core.QueueDefault})
				require.NoError(t, err)
				require.Nil(t, task)
			},
		},
		{
			name: "GetWorkflowTask_FiltersByQueue",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi, startedEventForQueue("critical")))

				task, err := b.GetWorkflowTask(ctx, []core.Queue{core.QueueDefault})
				require.NoError(t, err)
				require.Nil(t, task)

				task, err = b.GetWorkflowTask(ctx, []core.Queue{core.QueueDefault, "critical"})
				require.NoError(t, err)
				require.NotNil(t, task)
				require.Equal(t, core.Queue("critical"), task.Queue)
			},
		},
		{
			name:    "GetWorkflowTask_ExpiredLeaseIsRedelivered",
			options: []backend.BackendOption{backend.WithWorkflowLockTimeout(time.Millisecond * 50)},
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi, startedEvent()))

				task, err := b.GetWorkflowTask(ctx, []core.Queue{core.QueueDefault})
				require.NoError(t, err)
				require.NotNil(t, task)

				time.Sleep(time.Millisecond * 100)

				// Lease expired, the task has to be delivered again
				task, err = b.GetWorkflowTask(ctx, []core.Queue{core.QueueDefault})
				require.NoError(t, err)
				require.NotNil(t, task)
				require.Equal(t, wfi.InstanceID, task.WorkflowInstance.InstanceID)
			},
		},
		{
			name:    "ExtendWorkflowTask_KeepsLease",
			options: []backend.BackendOption{backend.WithWorkflowLockTimeout(time.Millisecond * 100)},
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi, startedEvent()))

				task, err := b.GetWorkflowTask(ctx, []core.Queue{core.QueueDefault})
				require.NoError(t, err)
				require.NotNil(t, task)

				time.Sleep(time.Millisecond * 60)
				require.NoError(t, b.ExtendWorkflowTask(ctx, task))
				time.Sleep(time.Millisecond * 60)

				// Lease was extended, task must still be locked
				locked, err := b.GetWorkflowTask(ctx, []core.Queue{core.QueueDefault})
				require.NoError(t, err)
				require.Nil(t, locked)
			},
		},
		{
			name: "CompleteWorkflowTask_ErrorWhenNotLocked",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi, startedEvent()))

				task := &backend.WorkflowTask{
					ID:               wfi.InstanceID,
					WorkflowInstance: wfi,
					Queue:            core.QueueDefault,
				}

				err := b.CompleteWorkflowTask(ctx, task, core.WorkflowInstanceStateActive, nil, nil, nil, nil)
				require.Error(t, err)
			},
		},
		{
			name: "CompleteWorkflowTask_AddsEventsToHistory",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
				started := startedEvent()
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi, started))

				task, err := b.GetWorkflowTask(ctx, []core.Queue{core.QueueDefault})
				require.NoError(t, err)
				require.NotNil(t, task)

				scheduled := history.NewPendingEvent(
					time.Now(), history.EventType_ActivityScheduled, &history.ActivityScheduledAttributes{Name: "a"}, history.ScheduleEventID(1))

				executed := sequence(started, scheduled)

				err = b.CompleteWorkflowTask(
					ctx, task, core.WorkflowInstanceStateActive, executed, []*history.Event{scheduled}, nil, nil)
				require.NoError(t, err)

				h, err := b.GetWorkflowInstanceHistory(ctx, wfi, nil)
				require.NoError(t, err)
				require.Len(t, h, 2)
				require.Equal(t, history.EventType_WorkflowExecutionStarted, h[0].Type)
				require.Equal(t, history.EventType_ActivityScheduled, h[1].Type)

				// Only events after the given sequence ID are returned
				h, err = b.GetWorkflowInstanceHistory(ctx, wfi, &h[0].SequenceID)
				require.NoError(t, err)
				require.Len(t, h, 1)
				require.Equal(t, history.EventType_ActivityScheduled, h[0].Type)
			},
		},
		{
			name: "CompleteWorkflowTask_SecondCompleteErrors",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
				started := startedEvent()
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi, started))

				task, err := b.GetWorkflowTask(ctx, []core.Queue{core.QueueDefault})
				require.NoError(t, err)
				require.NotNil(t, task)

				executed := sequence(started)
				require.NoError(t, b.CompleteWorkflowTask(ctx, task, core.WorkflowInstanceStateActive, executed, nil, nil, nil))

				// The lease was released with the first completion
				err = b.CompleteWorkflowTask(ctx, task, core.WorkflowInstanceStateActive, nil, nil, nil, nil)
				require.Error(t, err)
			},
		},
		{
			name: "CompleteWorkflowTask_FinishedStateStopsDelivery",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi, startedEvent()))

				task, err := b.GetWorkflowTask(ctx, []core.Queue{core.QueueDefault})
				require.NoError(t, err)
				require.NotNil(t, task)

				finishTask(t, ctx, b, task)

				s, err := b.GetWorkflowInstanceState(ctx, wfi)
				require.NoError(t, err)
				require.Equal(t, core.WorkflowInstanceStateFinished, s)

				task, err = b.GetWorkflowTask(ctx, []core.Queue{core.QueueDefault})
				require.NoError(t, err)
				require.Nil(t, task)
			},
		},
		{
			name: "CompleteWorkflowTask_SchedulesActivities",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
				started := startedEvent()
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi, started))

				task, err := b.GetWorkflowTask(ctx, []core.Queue{core.QueueDefault})
				require.NoError(t, err)
				require.NotNil(t, task)

				scheduled := history.NewPendingEvent(
					time.Now(), history.EventType_ActivityScheduled, &history.ActivityScheduledAttributes{Name: "a"}, history.ScheduleEventID(1))
				executed := sequence(started, scheduled)

				require.NoError(t, b.CompleteWorkflowTask(
					ctx, task, core.WorkflowInstanceStateActive, executed, []*history.Event{scheduled}, nil, nil))

				at, err := b.GetActivityTask(ctx, []core.Queue{core.QueueDefault})
				require.NoError(t, err)
				require.NotNil(t, at)
				require.Equal(t, wfi.InstanceID, at.WorkflowInstance.InstanceID)
				require.Equal(t, history.EventType_ActivityScheduled, at.Event.Type)
				require.Equal(t, int64(1), at.Event.ScheduleEventID)
			},
		},
		{
			name: "CompleteActivityTask_DeliversResult",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
				started := startedEvent()
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi, started))

				task, err := b.GetWorkflowTask(ctx, []core.Queue{core.QueueDefault})
				require.NoError(t, err)
				require.NotNil(t, task)

				scheduled := history.NewPendingEvent(
					time.Now(), history.EventType_ActivityScheduled, &history.ActivityScheduledAttributes{Name: "a"}, history.ScheduleEventID(1))
				executed := sequence(started, scheduled)

				require.NoError(t, b.CompleteWorkflowTask(
					ctx, task, core.WorkflowInstanceStateActive, executed, []*history.Event{scheduled}, nil, nil))

				at, err := b.GetActivityTask(ctx, []core.Queue{core.QueueDefault})
				require.NoError(t, err)
				require.NotNil(t, at)

				result := history.NewPendingEvent(
					time.Now(), history.EventType_ActivityCompleted, &history.ActivityCompletedAttributes{}, history.ScheduleEventID(1))
				require.NoError(t, b.CompleteActivityTask(ctx, at, result))

				// The result has to show up as a new workflow task
				task, err = b.GetWorkflowTask(ctx, []core.Queue{core.QueueDefault})
				require.NoError(t, err)
				require.NotNil(t, task)
				require.Len(t, task.NewEvents, 1)
				require.Equal(t, history.EventType_ActivityCompleted, task.NewEvents[0].Type)
			},
		},
		{
			name:    "GetActivityTask_ExpiredLeaseIsRedelivered",
			options: []backend.BackendOption{backend.WithActivityLockTimeout(time.Millisecond * 50)},
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
				started := startedEvent()
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi, started))

				task, err := b.GetWorkflowTask(ctx, []core.Queue{core.QueueDefault})
				require.NoError(t, err)
				require.NotNil(t, task)

				scheduled := history.NewPendingEvent(
					time.Now(), history.EventType_ActivityScheduled, &history.ActivityScheduledAttributes{Name: "a"}, history.ScheduleEventID(1))
				executed := sequence(started, scheduled)

				require.NoError(t, b.CompleteWorkflowTask(
					ctx, task, core.WorkflowInstanceStateActive, executed, []*history.Event{scheduled}, nil, nil))

				at, err := b.GetActivityTask(ctx, []core.Queue{core.QueueDefault})
				require.NoError(t, err)
				require.NotNil(t, at)

				locked, err := b.GetActivityTask(ctx, []core.Queue{core.QueueDefault})
				require.NoError(t, err)
				require.Nil(t, locked)

				time.Sleep(time.Millisecond * 100)

				at, err = b.GetActivityTask(ctx, []core.Queue{core.QueueDefault})
				require.NoError(t, err)
				require.NotNil(t, at)
			},
		},
		{
			name: "CompleteWorkflowTask_TimerEventNotVisibleBeforeFiring",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
				started := startedEvent()
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi, started))

				task, err := b.GetWorkflowTask(ctx, []core.Queue{core.QueueDefault})
				require.NoError(t, err)
				require.NotNil(t, task)

				at := time.Now().Add(time.Millisecond * 100)
				timerScheduled := history.NewPendingEvent(
					time.Now(), history.EventType_TimerScheduled, &history.TimerScheduledAttributes{At: at}, history.ScheduleEventID(1))
				timerFired := history.NewPendingEvent(
					time.Now(), history.EventType_TimerFired, &history.TimerFiredAttributes{At: at}, history.ScheduleEventID(1), history.VisibleAt(at))

				executed := sequence(started, timerScheduled)

				require.NoError(t, b.CompleteWorkflowTask(
					ctx, task, core.WorkflowInstanceStateActive, executed, nil, []*history.Event{timerFired}, nil))

				task, err = b.GetWorkflowTask(ctx, []core.Queue{core.QueueDefault})
				require.NoError(t, err)
				require.Nil(t, task)

				time.Sleep(time.Millisecond * 150)

				task, err = b.GetWorkflowTask(ctx, []core.Queue{core.QueueDefault})
				require.NoError(t, err)
				require.NotNil(t, task)
				require.Len(t, task.NewEvents, 1)
				require.Equal(t, history.EventType_TimerFired, task.NewEvents[0].Type)
			},
		},
		{
			name: "SignalWorkflow_ErrorWhenInstanceDoesNotExist",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				event := history.NewPendingEvent(time.Now(), history.EventType_SignalReceived, &history.SignalReceivedAttributes{Name: "signal"})
				err := b.SignalWorkflow(ctx, "does-not-exist", event)
				require.ErrorIs(t, err, backend.ErrInstanceNotFound)
			},
		},
		{
			name: "SignalWorkflow_DeliversSignal",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi, startedEvent()))

				event := history.NewPendingEvent(time.Now(), history.EventType_SignalReceived, &history.SignalReceivedAttributes{Name: "signal"})
				require.NoError(t, b.SignalWorkflow(ctx, wfi.InstanceID, event))

				task, err := b.GetWorkflowTask(ctx, []core.Queue{core.QueueDefault})
				require.NoError(t, err)
				require.NotNil(t, task)
				require.Len(t, task.NewEvents, 2)
				require.Equal(t, history.EventType_SignalReceived, task.NewEvents[1].Type)
			},
		},
		{
			name: "CancelWorkflowInstance_DeliversCancellation",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi, startedEvent()))

				require.NoError(t, b.CancelWorkflowInstance(ctx, wfi, history.NewWorkflowCancellationEvent(time.Now())))

				task, err := b.GetWorkflowTask(ctx, []core.Queue{core.QueueDefault})
				require.NoError(t, err)
				require.NotNil(t, task)
				require.Len(t, task.NewEvents, 2)
				require.Equal(t, history.EventType_WorkflowExecutionCanceled, task.NewEvents[1].Type)
			},
		},
		{
			name: "RemoveWorkflowInstance_ErrorWhenNotFinished",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi, startedEvent()))

				err := b.RemoveWorkflowInstance(ctx, wfi)
				require.ErrorIs(t, err, backend.ErrInstanceNotFinished)
			},
		},
		{
			name: "RemoveWorkflowInstance_RemovesFinishedInstance",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi, startedEvent()))

				task, err := b.GetWorkflowTask(ctx, []core.Queue{core.QueueDefault})
				require.NoError(t, err)
				require.NotNil(t, task)

				finishTask(t, ctx, b, task)

				require.NoError(t, b.RemoveWorkflowInstance(ctx, wfi))

				_, err = b.GetWorkflowInstanceState(ctx, wfi)
				require.ErrorIs(t, err, backend.ErrInstanceNotFound)
			},
		},
		{
			name: "CompleteWorkflowTask_DeliversSubWorkflowEvents",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
				started := startedEvent()
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi, started))

				task, err := b.GetWorkflowTask(ctx, []core.Queue{core.QueueDefault})
				require.NoError(t, err)
				require.NotNil(t, task)

				sub := core.NewSubWorkflowInstance(uuid.NewString(), uuid.NewString(), wfi, 1)

				scheduled := history.NewPendingEvent(
					time.Now(), history.EventType_SubWorkflowScheduled,
					&history.SubWorkflowScheduledAttributes{Name: "sub", SubWorkflowInstance: sub}, history.ScheduleEventID(1))
				executed := sequence(started, scheduled)

				workflowEvents := []*history.WorkflowEvent{
					{
						WorkflowInstance: sub,
						HistoryEvent: history.NewPendingEvent(
							time.Now(), history.EventType_WorkflowExecutionStarted,
							&history.ExecutionStartedAttributes{Name: "sub", Queue: core.QueueDefault}),
					},
				}

				require.NoError(t, b.CompleteWorkflowTask(
					ctx, task, core.WorkflowInstanceStateActive, executed, nil, nil, workflowEvents))

				// The sub-workflow instance was created and has a task
				task, err = b.GetWorkflowTask(ctx, []core.Queue{core.QueueDefault})
				require.NoError(t, err)
				require.NotNil(t, task)
				require.Equal(t, sub.InstanceID, task.WorkflowInstance.InstanceID)
				require.True(t, task.WorkflowInstance.SubWorkflow())
				require.Equal(t, wfi.InstanceID, task.WorkflowInstance.Parent.InstanceID)
				require.Equal(t, int64(1), task.WorkflowInstance.ParentEventID)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := setup(tt.options...)
			ctx := context.Background()
			tt.f(t, ctx, b)
			if teardown != nil {
				teardown(b)
			}
		})
	}
}

func startedEvent() *history.Event {
	return startedEventForQueue(core.QueueDefault)
}

func startedEventForQueue(queue core.Queue) *history.Event {
	return history.NewPendingEvent(
		time.Now(),
		history.EventType_WorkflowExecutionStarted,
		&history.ExecutionStartedAttributes{
			Name:  "workflow",
			Queue: queue,
		})
}

// sequence assigns sequence IDs the way the executor does when it journals
// executed events.
func sequence(events ...*history.Event) []*history.Event {
	for i, event := range events {
		event.SequenceID = int64(i + 1)
	}

	return events
}

func finishTask(t *testing.T, ctx context.Context, b backend.Backend, task *backend.WorkflowTask) {
	t.Helper()

	finished := history.NewPendingEvent(
		time.Now(), history.EventType_WorkflowExecutionFinished, &history.ExecutionCompletedAttributes{})

	executed := append(task.NewEvents, finished)
	require.NoError(t, b.CompleteWorkflowTask(
		ctx, task, core.WorkflowInstanceStateFinished, sequence(executed...), nil, nil, nil))
}
