package executor_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/goleak"

	"github.com/atlasflow/durable/backend"
	"github.com/atlasflow/durable/backend/converter"
	"github.com/atlasflow/durable/backend/history"
	"github.com/atlasflow/durable/backend/payload"
	"github.com/atlasflow/durable/core"
	"github.com/atlasflow/durable/registry"
	"github.com/atlasflow/durable/workflow"
	"github.com/atlasflow/durable/workflow/executor"
)

type testHistoryProvider struct {
	history []*history.Event
}

func (t *testHistoryProvider) GetWorkflowInstanceHistory(ctx context.Context, instance *core.WorkflowInstance, lastSequenceID *int64) ([]*history.Event, error) {
	events := make([]*history.Event, 0, len(t.history))
	for _, event := range t.history {
		if lastSequenceID != nil && event.SequenceID <= *lastSequenceID {
			continue
		}

		events = append(events, event)
	}

	return events, nil
}

func newTestExecutor(t *testing.T, r *registry.Registry, instance *core.WorkflowInstance, hp *testHistoryProvider) executor.WorkflowExecutor {
	t.Helper()

	e, err := executor.NewExecutor(
		slog.Default(),
		noop.NewTracerProvider().Tracer("test"),
		r,
		converter.DefaultConverter,
		hp,
		instance,
		clock.New(),
		10_000,
	)
	require.NoError(t, err)

	t.Cleanup(e.Close)

	return e
}

func startTask(instance *core.WorkflowInstance, name string, lastSequenceID int64, newEvents ...*history.Event) *backend.WorkflowTask {
	inputs, _ := converter.DefaultConverter.To("hello")

	events := append([]*history.Event{
		history.NewPendingEvent(time.Now(), history.EventType_WorkflowExecutionStarted, &history.ExecutionStartedAttributes{
			Name:   name,
			Queue:  core.QueueDefault,
			Inputs: []payload.Payload{inputs},
		}),
	}, newEvents...)

	return &backend.WorkflowTask{
		ID:               uuid.NewString(),
		WorkflowInstance: instance,
		Queue:            core.QueueDefault,
		LastSequenceID:   lastSequenceID,
		NewEvents:        events,
	}
}

func continueTask(instance *core.WorkflowInstance, lastSequenceID int64, newEvents ...*history.Event) *backend.WorkflowTask {
	return &backend.WorkflowTask{
		ID:               uuid.NewString(),
		WorkflowInstance: instance,
		Queue:            core.QueueDefault,
		LastSequenceID:   lastSequenceID,
		NewEvents:        newEvents,
	}
}

func finishedAttributes(t *testing.T, r *executor.ExecutionResult) *history.ExecutionCompletedAttributes {
	t.Helper()

	for _, event := range r.Executed {
		if event.Type == history.EventType_WorkflowExecutionFinished {
			return event.Attributes.(*history.ExecutionCompletedAttributes)
		}
	}

	t.Fatal("no finished event in result")
	return nil
}

func Test_Executor_SimpleWorkflow(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.RegisterWorkflow(func(ctx workflow.Context, msg string) (string, error) {
		return msg + " world", nil
	}, registry.WithName("simple")))

	instance := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
	e := newTestExecutor(t, r, instance, &testHistoryProvider{})

	result, err := e.ExecuteTask(context.Background(), startTask(instance, "simple", 0))
	require.NoError(t, err)
	require.Equal(t, core.WorkflowInstanceStateFinished, result.State)

	a := finishedAttributes(t, result)
	require.Nil(t, a.Error)

	var out string
	require.NoError(t, converter.DefaultConverter.From(a.Result, &out))
	require.Equal(t, "hello world", out)

	// Sequence IDs are assigned in execution order
	for i, event := range result.Executed {
		require.Equal(t, int64(i+1), event.SequenceID)
	}
}

func Test_Executor_UnknownWorkflowFails(t *testing.T) {
	r := registry.New()

	instance := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
	e := newTestExecutor(t, r, instance, &testHistoryProvider{})

	result, err := e.ExecuteTask(context.Background(), startTask(instance, "unknown", 0))
	require.NoError(t, err)
	require.Equal(t, core.WorkflowInstanceStateFinished, result.State)

	a := finishedAttributes(t, result)
	require.NotNil(t, a.Error)
}

func Test_Executor_ActivityWorkflow(t *testing.T) {
	activity := func(ctx context.Context, msg string) (string, error) {
		return msg, nil
	}

	r := registry.New()
	require.NoError(t, r.RegisterWorkflow(func(ctx workflow.Context, msg string) (string, error) {
		return workflow.ExecuteActivity[string](ctx, workflow.ActivityOptions{
			RetryOptions: workflow.RetryOptions{MaxAttempts: 1},
		}, activity, msg).Get(ctx)
	}, registry.WithName("with-activity")))

	instance := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
	hp := &testHistoryProvider{}
	e := newTestExecutor(t, r, instance, hp)

	// First task schedules the activity
	result, err := e.ExecuteTask(context.Background(), startTask(instance, "with-activity", 0))
	require.NoError(t, err)
	require.Equal(t, core.WorkflowInstanceStateActive, result.State)
	require.Len(t, result.ActivityEvents, 1)
	require.Equal(t, history.EventType_ActivityScheduled, result.ActivityEvents[0].Type)

	hp.history = append(hp.history, result.Executed...)
	lastSequenceID := result.Executed[len(result.Executed)-1].SequenceID

	// Second task delivers the activity result
	payload, err := converter.DefaultConverter.To("activity result")
	require.NoError(t, err)

	completed := history.NewPendingEvent(
		time.Now(), history.EventType_ActivityCompleted,
		&history.ActivityCompletedAttributes{Result: payload},
		history.ScheduleEventID(result.ActivityEvents[0].ScheduleEventID))

	result, err = e.ExecuteTask(context.Background(), continueTask(instance, lastSequenceID, completed))
	require.NoError(t, err)
	require.Equal(t, core.WorkflowInstanceStateFinished, result.State)

	a := finishedAttributes(t, result)
	require.Nil(t, a.Error)

	var out string
	require.NoError(t, converter.DefaultConverter.From(a.Result, &out))
	require.Equal(t, "activity result", out)
}

func Test_Executor_ReplayProducesSameResult(t *testing.T) {
	activity := func(ctx context.Context, msg string) (string, error) {
		return msg, nil
	}

	wf := func(ctx workflow.Context, msg string) (string, error) {
		return workflow.ExecuteActivity[string](ctx, workflow.ActivityOptions{
			RetryOptions: workflow.RetryOptions{MaxAttempts: 1},
		}, activity, msg).Get(ctx)
	}

	r := registry.New()
	require.NoError(t, r.RegisterWorkflow(wf, registry.WithName("replayed")))

	instance := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
	hp := &testHistoryProvider{}

	e := newTestExecutor(t, r, instance, hp)

	result, err := e.ExecuteTask(context.Background(), startTask(instance, "replayed", 0))
	require.NoError(t, err)

	hp.history = append(hp.history, result.Executed...)
	lastSequenceID := result.Executed[len(result.Executed)-1].SequenceID

	payload, err := converter.DefaultConverter.To("out")
	require.NoError(t, err)

	completed := history.NewPendingEvent(
		time.Now(), history.EventType_ActivityCompleted,
		&history.ActivityCompletedAttributes{Result: payload},
		history.ScheduleEventID(result.ActivityEvents[0].ScheduleEventID))

	// A fresh executor has to catch up on the history before applying the new
	// event, as after a worker failover.
	e2 := newTestExecutor(t, r, instance, hp)

	result, err = e2.ExecuteTask(context.Background(), continueTask(instance, lastSequenceID, completed))
	require.NoError(t, err)
	require.Equal(t, core.WorkflowInstanceStateFinished, result.State)

	a := finishedAttributes(t, result)
	require.Nil(t, a.Error)

	var out string
	require.NoError(t, converter.DefaultConverter.From(a.Result, &out))
	require.Equal(t, "out", out)
}

func Test_Executor_NonDeterministicReplayFailsWorkflow(t *testing.T) {
	activity := func(ctx context.Context, msg string) (string, error) {
		return msg, nil
	}

	r := registry.New()
	require.NoError(t, r.RegisterWorkflow(func(ctx workflow.Context, msg string) (string, error) {
		return workflow.ExecuteActivity[string](ctx, workflow.ActivityOptions{
			RetryOptions: workflow.RetryOptions{MaxAttempts: 1},
		}, activity, msg).Get(ctx)
	}, registry.WithName("diverging")))

	instance := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())

	inputs, _ := converter.DefaultConverter.To("hello")

	// Recorded history claims a different activity was scheduled
	hp := &testHistoryProvider{
		history: sequenced(
			history.NewPendingEvent(time.Now(), history.EventType_WorkflowTaskStarted, &history.WorkflowTaskStartedAttributes{}),
			history.NewPendingEvent(time.Now(), history.EventType_WorkflowExecutionStarted, &history.ExecutionStartedAttributes{
				Name:   "diverging",
				Queue:  core.QueueDefault,
				Inputs: []payload.Payload{inputs},
			}),
			history.NewPendingEvent(time.Now(), history.EventType_ActivityScheduled,
				&history.ActivityScheduledAttributes{Name: "some-other-activity"}, history.ScheduleEventID(1)),
		),
	}

	e := newTestExecutor(t, r, instance, hp)

	result, err := e.ExecuteTask(context.Background(), continueTask(instance, 3))
	require.NoError(t, err)
	require.Equal(t, core.WorkflowInstanceStateFinished, result.State)

	a := finishedAttributes(t, result)
	require.NotNil(t, a.Error)
	require.Contains(t, a.Error.Message, "non-determinism")
}

func Test_Executor_Timer(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.RegisterWorkflow(func(ctx workflow.Context) (string, error) {
		if err := workflow.Sleep(ctx, time.Second); err != nil {
			return "", err
		}

		return "slept", nil
	}, registry.WithName("sleeper")))

	instance := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
	e := newTestExecutor(t, r, instance, &testHistoryProvider{})

	task := startTask(instance, "sleeper", 0)
	task.NewEvents[0].Attributes.(*history.ExecutionStartedAttributes).Inputs = nil

	result, err := e.ExecuteTask(context.Background(), task)
	require.NoError(t, err)
	require.Equal(t, core.WorkflowInstanceStateActive, result.State)
	require.Len(t, result.TimerEvents, 1)
	require.Equal(t, history.EventType_TimerFired, result.TimerEvents[0].Type)
	require.NotNil(t, result.TimerEvents[0].VisibleAt)

	lastSequenceID := result.Executed[len(result.Executed)-1].SequenceID

	result, err = e.ExecuteTask(context.Background(), continueTask(instance, lastSequenceID, result.TimerEvents[0]))
	require.NoError(t, err)
	require.Equal(t, core.WorkflowInstanceStateFinished, result.State)

	a := finishedAttributes(t, result)
	require.Nil(t, a.Error)
}

func Test_Executor_Cancellation(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.RegisterWorkflow(func(ctx workflow.Context) (string, error) {
		ctx.Done().Receive(ctx)

		return "canceled", nil
	}, registry.WithName("cancelable")))

	instance := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
	e := newTestExecutor(t, r, instance, &testHistoryProvider{})

	task := startTask(instance, "cancelable", 0)
	task.NewEvents[0].Attributes.(*history.ExecutionStartedAttributes).Inputs = nil

	result, err := e.ExecuteTask(context.Background(), task)
	require.NoError(t, err)
	require.Equal(t, core.WorkflowInstanceStateActive, result.State)

	lastSequenceID := result.Executed[len(result.Executed)-1].SequenceID

	cancelEvent := history.NewWorkflowCancellationEvent(time.Now())

	result, err = e.ExecuteTask(context.Background(), continueTask(instance, lastSequenceID, cancelEvent))
	require.NoError(t, err)
	require.Equal(t, core.WorkflowInstanceStateFinished, result.State)

	a := finishedAttributes(t, result)
	require.Nil(t, a.Error)

	var out string
	require.NoError(t, converter.DefaultConverter.From(a.Result, &out))
	require.Equal(t, "canceled", out)
}

func Test_Executor_Signal(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.RegisterWorkflow(func(ctx workflow.Context) (string, error) {
		c := workflow.NewSignalChannel[string](ctx, "greeting")
		v, _ := c.Receive(ctx)

		return v, nil
	}, registry.WithName("signaled")))

	instance := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
	e := newTestExecutor(t, r, instance, &testHistoryProvider{})

	task := startTask(instance, "signaled", 0)
	task.NewEvents[0].Attributes.(*history.ExecutionStartedAttributes).Inputs = nil

	result, err := e.ExecuteTask(context.Background(), task)
	require.NoError(t, err)
	require.Equal(t, core.WorkflowInstanceStateActive, result.State)

	lastSequenceID := result.Executed[len(result.Executed)-1].SequenceID

	arg, err := converter.DefaultConverter.To("hello signal")
	require.NoError(t, err)

	signal := history.NewPendingEvent(time.Now(), history.EventType_SignalReceived, &history.SignalReceivedAttributes{
		Name: "greeting",
		Arg:  arg,
	})

	result, err = e.ExecuteTask(context.Background(), continueTask(instance, lastSequenceID, signal))
	require.NoError(t, err)
	require.Equal(t, core.WorkflowInstanceStateFinished, result.State)

	a := finishedAttributes(t, result)
	var out string
	require.NoError(t, converter.DefaultConverter.From(a.Result, &out))
	require.Equal(t, "hello signal", out)
}

func Test_Executor_SubWorkflow(t *testing.T) {
	sub := func(ctx workflow.Context, msg string) (string, error) {
		return msg, nil
	}

	r := registry.New()
	require.NoError(t, r.RegisterWorkflow(sub, registry.WithName("sub")))
	require.NoError(t, r.RegisterWorkflow(func(ctx workflow.Context, msg string) (string, error) {
		return workflow.CreateSubWorkflowInstance[string](ctx, workflow.SubWorkflowOptions{}, "sub", msg).Get(ctx)
	}, registry.WithName("parent")))

	instance := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
	e := newTestExecutor(t, r, instance, &testHistoryProvider{})

	result, err := e.ExecuteTask(context.Background(), startTask(instance, "parent", 0))
	require.NoError(t, err)
	require.Equal(t, core.WorkflowInstanceStateActive, result.State)

	// Scheduling emits the start event for the sub-workflow instance
	require.Len(t, result.WorkflowEvents, 1)
	require.Equal(t, history.EventType_WorkflowExecutionStarted, result.WorkflowEvents[0].HistoryEvent.Type)
	subInstance := result.WorkflowEvents[0].WorkflowInstance
	require.True(t, subInstance.SubWorkflow())
	require.Equal(t, instance.InstanceID, subInstance.Parent.InstanceID)

	lastSequenceID := result.Executed[len(result.Executed)-1].SequenceID

	var scheduleEventID int64
	for _, event := range result.Executed {
		if event.Type == history.EventType_SubWorkflowScheduled {
			scheduleEventID = event.ScheduleEventID
		}
	}
	require.NotZero(t, scheduleEventID)

	payload, err := converter.DefaultConverter.To("sub result")
	require.NoError(t, err)

	completed := history.NewPendingEvent(
		time.Now(), history.EventType_SubWorkflowCompleted,
		&history.SubWorkflowCompletedAttributes{Result: payload},
		history.ScheduleEventID(scheduleEventID))

	result, err = e.ExecuteTask(context.Background(), continueTask(instance, lastSequenceID, completed))
	require.NoError(t, err)
	require.Equal(t, core.WorkflowInstanceStateFinished, result.State)

	a := finishedAttributes(t, result)
	var out string
	require.NoError(t, converter.DefaultConverter.From(a.Result, &out))
	require.Equal(t, "sub result", out)
}

func Test_Executor_ContinueAsNew(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.RegisterWorkflow(func(ctx workflow.Context, msg string) (string, error) {
		return "", workflow.ContinueAsNew(ctx, msg+"!")
	}, registry.WithName("restarting")))

	instance := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
	e := newTestExecutor(t, r, instance, &testHistoryProvider{})

	result, err := e.ExecuteTask(context.Background(), startTask(instance, "restarting", 0))
	require.NoError(t, err)
	require.Equal(t, core.WorkflowInstanceStateContinuedAsNew, result.State)

	// A start event for the successor run is produced
	require.Len(t, result.WorkflowEvents, 1)
	startEvent := result.WorkflowEvents[0]
	require.Equal(t, history.EventType_WorkflowExecutionStarted, startEvent.HistoryEvent.Type)
	require.Equal(t, instance.InstanceID, startEvent.WorkflowInstance.InstanceID)
	require.NotEqual(t, instance.ExecutionID, startEvent.WorkflowInstance.ExecutionID)

	a := startEvent.HistoryEvent.Attributes.(*history.ExecutionStartedAttributes)
	require.Equal(t, "restarting", a.Name)

	var input string
	require.NoError(t, converter.DefaultConverter.From(a.Inputs[0], &input))
	require.Equal(t, "hello!", input)
}

func Test_Executor_CloseReleasesBlockedWorkflow(t *testing.T) {
	activity := func(ctx context.Context, msg string) (string, error) {
		return msg, nil
	}

	r := registry.New()
	require.NoError(t, r.RegisterWorkflow(func(ctx workflow.Context, msg string) (string, error) {
		return workflow.ExecuteActivity[string](ctx, workflow.ActivityOptions{
			RetryOptions: workflow.RetryOptions{MaxAttempts: 1},
		}, activity, msg).Get(ctx)
	}, registry.WithName("blocked")))

	instance := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())

	e, err := executor.NewExecutor(
		slog.Default(),
		noop.NewTracerProvider().Tracer("test"),
		r,
		converter.DefaultConverter,
		&testHistoryProvider{},
		instance,
		clock.New(),
		10_000,
	)
	require.NoError(t, err)

	result, err := e.ExecuteTask(context.Background(), startTask(instance, "blocked", 0))
	require.NoError(t, err)
	require.Equal(t, core.WorkflowInstanceStateActive, result.State)

	// The workflow coroutine is blocked on the activity future, closing the
	// executor must end it without leaking its goroutine.
	e.Close()

	goleak.VerifyNone(t)
}

func sequenced(events ...*history.Event) []*history.Event {
	for i, event := range events {
		event.SequenceID = int64(i + 1)
	}

	return events
}
