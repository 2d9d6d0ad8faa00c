package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/trace"

	"github.com/atlasflow/durable/backend"
	"github.com/atlasflow/durable/backend/converter"
	"github.com/atlasflow/durable/backend/history"
	"github.com/atlasflow/durable/backend/payload"
	"github.com/atlasflow/durable/core"
	"github.com/atlasflow/durable/internal/command"
	"github.com/atlasflow/durable/internal/contextvalue"
	"github.com/atlasflow/durable/internal/continueasnew"
	"github.com/atlasflow/durable/internal/log"
	"github.com/atlasflow/durable/internal/sync"
	"github.com/atlasflow/durable/internal/workflowerrors"
	"github.com/atlasflow/durable/internal/workflowstate"
	"github.com/atlasflow/durable/registry"
)

type ExecutionResult struct {
	// New state of the workflow instance
	State core.WorkflowInstanceState

	// Events executed during the task execution
	Executed []*history.Event

	// Activities that were scheduled
	ActivityEvents []*history.Event

	// Timers that were scheduled
	TimerEvents []*history.Event

	// Events for other workflow instances
	WorkflowEvents []*history.WorkflowEvent
}

type WorkflowHistoryProvider interface {
	GetWorkflowInstanceHistory(ctx context.Context, instance *core.WorkflowInstance, lastSequenceID *int64) ([]*history.Event, error)
}

type WorkflowExecutor interface {
	ExecuteTask(ctx context.Context, t *backend.WorkflowTask) (*ExecutionResult, error)

	Close()
}

type executor struct {
	registry          *registry.Registry
	historyProvider   WorkflowHistoryProvider
	workflow          *workflow
	workflowName      string
	workflowState     *workflowstate.WfState
	workflowCtx       sync.Context
	workflowCtxCancel sync.CancelFunc
	cv                converter.Converter
	clock             clock.Clock
	logger            *slog.Logger
	tracer            trace.Tracer
	lastSequenceID    int64

	maxHistorySize int64
}

func NewExecutor(
	logger *slog.Logger,
	tracer trace.Tracer,
	r *registry.Registry,
	cv converter.Converter,
	historyProvider WorkflowHistoryProvider,
	instance *core.WorkflowInstance,
	clock clock.Clock,
	maxHistorySize int64,
) (WorkflowExecutor, error) {
	s := workflowstate.NewWorkflowState(instance, logger, clock)

	wfCtx := sync.Background()
	wfCtx = contextvalue.WithConverter(wfCtx, cv)
	wfCtx = contextvalue.WithRegistry(wfCtx, r)
	wfCtx = workflowstate.WithWorkflowState(wfCtx, s)

	wfCtx, cancel := sync.WithCancel(wfCtx)

	return &executor{
		registry:          r,
		historyProvider:   historyProvider,
		workflowState:     s,
		workflowCtx:       wfCtx,
		workflowCtxCancel: cancel,
		cv:                cv,
		clock:             clock,
		maxHistorySize:    maxHistorySize,
		logger:            logger,
		tracer:            tracer,
	}, nil
}

func (e *executor) ExecuteTask(ctx context.Context, t *backend.WorkflowTask) (*ExecutionResult, error) {
	logger := e.logger.With(
		slog.String(log.TaskIDKey, t.ID),
	)

	logger.Debug("Executing workflow task", slog.Int64(log.TaskLastSequenceIDKey, t.LastSequenceID))

	skipNewEvents, err := e.catchupOnHistory(ctx, t, logger)
	if err != nil {
		return nil, err
	}

	// Always add a WorkflowTaskStarted event before executing new events
	toExecute := []*history.Event{e.createNewEvent(history.EventType_WorkflowTaskStarted, &history.WorkflowTaskStartedAttributes{})}
	executedEvents := toExecute

	toExecute = append(toExecute, t.NewEvents...)

	// Execute new events received from the backend
	if !skipNewEvents {
		var err error
		executedEvents, err = e.executeNewEvents(toExecute)
		if err != nil {
			logger.Error("Error while executing new events", "error", err)

			// Transition workflow to error state
			e.workflowCompleted(nil, err)
		}
	}

	// Enforce max history size limit
	if e.lastSequenceID+int64(len(executedEvents)) >= e.maxHistorySize {
		e.workflowCompleted(nil, fmt.Errorf("workflow history size exceeded %d events", e.maxHistorySize))
	}

	// Process commands added while executing new events
	state := core.WorkflowInstanceStateActive
	newCommandEvents := make([]*history.Event, 0)
	activityEvents := make([]*history.Event, 0)
	timerEvents := make([]*history.Event, 0)
	workflowEvents := make([]*history.WorkflowEvent, 0)

	for _, c := range e.workflowState.Commands() {
		if c.State() == command.CommandState_Done {
			continue
		}

		r := c.Execute(e.clock)
		if r == nil {
			continue
		}

		if r.State > state {
			state = r.State
		}
		newCommandEvents = append(newCommandEvents, r.Events...)
		activityEvents = append(activityEvents, r.ActivityEvents...)
		timerEvents = append(timerEvents, r.TimerEvents...)
		workflowEvents = append(workflowEvents, r.WorkflowEvents...)
	}

	// Events from commands don't have to be executed again, add them to the
	// executed events.
	executedEvents = append(executedEvents, newCommandEvents...)

	// Set sequence IDs for all executed events
	for i := range executedEvents {
		executedEvents[i].SequenceID = e.nextSequenceID()
	}

	logger.Debug("Finished workflow task",
		slog.Int(log.ExecutedEventsKey, len(executedEvents)),
		slog.Int64(log.TaskLastSequenceIDKey, e.lastSequenceID),
		slog.String(log.WorkflowInstanceStateKey, state.String()),
	)

	return &ExecutionResult{
		State:          state,
		Executed:       executedEvents,
		ActivityEvents: activityEvents,
		TimerEvents:    timerEvents,
		WorkflowEvents: workflowEvents,
	}, nil
}

func (e *executor) catchupOnHistory(ctx context.Context, t *backend.WorkflowTask, logger *slog.Logger) (bool, error) {
	if t.LastSequenceID < e.lastSequenceID {
		return false, fmt.Errorf("task has older history than current state, cannot execute")
	}

	if t.LastSequenceID > e.lastSequenceID {
		logger.Debug("Task has newer history than current state, fetching and replaying history",
			slog.Int64(log.TaskLastSequenceIDKey, t.LastSequenceID),
			slog.Int64(log.LocalSequenceIDKey, e.lastSequenceID))

		h, err := e.historyProvider.GetWorkflowInstanceHistory(ctx, t.WorkflowInstance, &e.lastSequenceID)
		if err != nil {
			return false, fmt.Errorf("getting workflow history: %w", err)
		}

		if err := e.replayHistory(h); err != nil {
			logger.Error("Error while replaying history", "error", err)

			// Fail the workflow with an error. Skip executing new events, but
			// still go through the commands.
			e.workflowCompleted(nil, err)

			// With an error during replay we need to ensure new events don't get
			// duplicate sequence ids
			e.lastSequenceID = t.LastSequenceID

			return true, nil
		}

		if t.LastSequenceID != e.lastSequenceID {
			logger.Error("After replaying history, task still has newer history than current state",
				slog.Int64(log.TaskLastSequenceIDKey, t.LastSequenceID),
				slog.Int64(log.LocalSequenceIDKey, e.lastSequenceID))

			return false, errors.New("even after fetching and replaying history, executor state does not match task")
		}
	}

	return false, nil
}

func (e *executor) replayHistory(h []*history.Event) error {
	e.workflowState.SetReplaying(true)
	for _, event := range h {
		if event.SequenceID < e.lastSequenceID {
			return errors.New("history has older events than current state")
		}

		if err := e.executeEvent(event); err != nil {
			return err
		}

		e.lastSequenceID = event.SequenceID
	}

	return nil
}

func (e *executor) executeNewEvents(newEvents []*history.Event) ([]*history.Event, error) {
	e.workflowState.SetReplaying(false)

	for i, event := range newEvents {
		if err := e.executeEvent(event); err != nil {
			return newEvents[:i], err
		}
	}

	if e.workflow.Completed() {
		if e.workflowState.HasPendingFutures() {
			// Not expected during normal operation, surface the pending
			// operations to the developer
			var pending []string
			for id, name := range e.workflowState.PendingFutureNames() {
				pending = append(pending, fmt.Sprintf("%d-%s", id, name))
			}
			slices.Sort(pending)

			return newEvents, fmt.Errorf("workflow completed, but there are still pending futures: %s", pending)
		}

		if canErr, ok := e.workflow.Error().(*continueasnew.Error); ok {
			e.workflowRestarted(e.workflow.Result(), canErr)
		} else {
			e.workflowCompleted(e.workflow.Result(), e.workflow.Error())
		}
	}

	return newEvents, nil
}

func (e *executor) Close() {
	if e.workflow != nil {
		e.logger.Debug("Stopping workflow executor",
			slog.String(log.InstanceIDKey, e.workflowState.Instance().InstanceID))

		// End workflow if running to prevent leaking goroutines
		e.workflow.Close()
	}
}

func (e *executor) executeEvent(event *history.Event) error {
	e.logger.Debug("Executing event",
		slog.String(log.EventIDKey, event.ID),
		slog.Int64(log.SeqIDKey, event.SequenceID),
		slog.String(log.EventTypeKey, event.Type.String()),
		slog.Int64(log.ScheduleEventIDKey, event.ScheduleEventID),
		slog.Bool(log.IsReplayingKey, e.workflowState.Replaying()),
	)

	var err error

	switch event.Type {
	case history.EventType_WorkflowExecutionStarted:
		err = e.handleWorkflowExecutionStarted(event, event.Attributes.(*history.ExecutionStartedAttributes))

	case history.EventType_WorkflowExecutionFinished:
	// Ignore

	case history.EventType_WorkflowExecutionContinuedAsNew:
	// Ignore

	case history.EventType_WorkflowExecutionCanceled:
		err = e.handleWorkflowCanceled()

	case history.EventType_WorkflowTaskStarted:
		err = e.handleWorkflowTaskStarted(event, event.Attributes.(*history.WorkflowTaskStartedAttributes))

	case history.EventType_ActivityScheduled:
		err = e.handleActivityScheduled(event, event.Attributes.(*history.ActivityScheduledAttributes))

	case history.EventType_ActivityFailed:
		err = e.handleActivityFailed(event, event.Attributes.(*history.ActivityFailedAttributes))

	case history.EventType_ActivityCompleted:
		err = e.handleActivityCompleted(event, event.Attributes.(*history.ActivityCompletedAttributes))

	case history.EventType_TimerScheduled:
		err = e.handleTimerScheduled(event, event.Attributes.(*history.TimerScheduledAttributes))

	case history.EventType_TimerFired:
		err = e.handleTimerFired(event, event.Attributes.(*history.TimerFiredAttributes))

	case history.EventType_TimerCanceled:
		err = e.handleTimerCanceled(event, event.Attributes.(*history.TimerCanceledAttributes))

	case history.EventType_SignalReceived:
		err = e.handleSignalReceived(event, event.Attributes.(*history.SignalReceivedAttributes))

	case history.EventType_SubWorkflowScheduled:
		err = e.handleSubWorkflowScheduled(event, event.Attributes.(*history.SubWorkflowScheduledAttributes))

	case history.EventType_SubWorkflowCancellationRequested:
		err = e.handleSubWorkflowCancellationRequest(event, event.Attributes.(*history.SubWorkflowCancellationRequestedAttributes))

	case history.EventType_SubWorkflowFailed:
		err = e.handleSubWorkflowFailed(event, event.Attributes.(*history.SubWorkflowFailedAttributes))

	case history.EventType_SubWorkflowCompleted:
		err = e.handleSubWorkflowCompleted(event, event.Attributes.(*history.SubWorkflowCompletedAttributes))

	default:
		return fmt.Errorf("unknown event type: %v", event.Type)
	}

	return err
}

func (e *executor) handleWorkflowExecutionStarted(event *history.Event, a *history.ExecutionStartedAttributes) error {
	e.workflowName = a.Name
	e.workflowState.SetQueue(a.Queue)

	wfFn, err := e.registry.GetWorkflow(a.Name)
	if err != nil {
		return fmt.Errorf("workflow %s not found", a.Name)
	}

	e.workflow = newWorkflow(reflect.ValueOf(wfFn))
	return e.workflow.Execute(e.workflowCtx, a.Inputs)
}

func (e *executor) handleWorkflowCanceled() error {
	e.workflowCtxCancel()

	return e.workflow.Continue()
}

func (e *executor) handleWorkflowTaskStarted(event *history.Event, a *history.WorkflowTaskStartedAttributes) error {
	e.workflowState.SetTime(event.Timestamp)

	return nil
}

func (e *executor) handleActivityScheduled(event *history.Event, a *history.ActivityScheduledAttributes) error {
	c := e.workflowState.CommandByScheduleEventID(event.ScheduleEventID)
	if c == nil {
		return workflowerrors.NewNonDeterminismError(event.ScheduleEventID, "ScheduleActivity", "<none>")
	}

	sac, ok := c.(*command.ScheduleActivityCommand)
	if !ok {
		return workflowerrors.NewNonDeterminismError(event.ScheduleEventID, "ScheduleActivity", c.Type())
	}

	// Ensure the same activity was scheduled again
	if a.Name != sac.Name {
		return workflowerrors.NewNonDeterminismError(
			event.ScheduleEventID, fmt.Sprintf("ScheduleActivity:%s", a.Name), fmt.Sprintf("ScheduleActivity:%s", sac.Name))
	}

	sac.Commit()

	return nil
}

func (e *executor) handleActivityCompleted(event *history.Event, a *history.ActivityCompletedAttributes) error {
	f, ok := e.workflowState.FutureByScheduleEventID(event.ScheduleEventID)
	if !ok {
		return fmt.Errorf("could not find pending future for activity completion")
	}

	if err := f(a.Result, nil); err != nil {
		return fmt.Errorf("setting activity completed result: %w", err)
	}

	e.workflowState.RemoveFuture(event.ScheduleEventID)

	c := e.workflowState.CommandByScheduleEventID(event.ScheduleEventID)
	if c == nil {
		return workflowerrors.NewNonDeterminismError(event.ScheduleEventID, "ScheduleActivity", "<none>")
	}

	sac, ok := c.(*command.ScheduleActivityCommand)
	if !ok {
		return workflowerrors.NewNonDeterminismError(event.ScheduleEventID, "ScheduleActivity", c.Type())
	}

	sac.Done()

	return e.workflow.Continue()
}

func (e *executor) handleActivityFailed(event *history.Event, a *history.ActivityFailedAttributes) error {
	f, ok := e.workflowState.FutureByScheduleEventID(event.ScheduleEventID)
	if !ok {
		return errors.New("no pending future for activity failed event")
	}

	actErr := workflowerrors.ToError(a.Error)
	if err := f(nil, actErr); err != nil {
		return fmt.Errorf("setting activity failed result: %w", err)
	}

	e.workflowState.RemoveFuture(event.ScheduleEventID)

	c := e.workflowState.CommandByScheduleEventID(event.ScheduleEventID)
	if c == nil {
		return workflowerrors.NewNonDeterminismError(event.ScheduleEventID, "ScheduleActivity", "<none>")
	}

	sac, ok := c.(*command.ScheduleActivityCommand)
	if !ok {
		return workflowerrors.NewNonDeterminismError(event.ScheduleEventID, "ScheduleActivity", c.Type())
	}

	sac.Done()

	return e.workflow.Continue()
}

func (e *executor) handleTimerScheduled(event *history.Event, a *history.TimerScheduledAttributes) error {
	c := e.workflowState.CommandByScheduleEventID(event.ScheduleEventID)
	if c == nil {
		return workflowerrors.NewNonDeterminismError(event.ScheduleEventID, "ScheduleTimer", "<none>")
	}

	if _, ok := c.(*command.ScheduleTimerCommand); !ok {
		return workflowerrors.NewNonDeterminismError(event.ScheduleEventID, "ScheduleTimer", c.Type())
	}

	c.Commit()

	return nil
}

func (e *executor) handleTimerFired(event *history.Event, a *history.TimerFiredAttributes) error {
	f, ok := e.workflowState.FutureByScheduleEventID(event.ScheduleEventID)
	if !ok {
		// Timer already canceled, ignore
		return nil
	}

	if err := f(nil, nil); err != nil {
		return fmt.Errorf("setting timer fired result: %w", err)
	}

	e.workflowState.RemoveFuture(event.ScheduleEventID)

	c := e.workflowState.CommandByScheduleEventID(event.ScheduleEventID)
	if c == nil {
		return workflowerrors.NewNonDeterminismError(event.ScheduleEventID, "ScheduleTimer", "<none>")
	}

	if _, ok := c.(*command.ScheduleTimerCommand); !ok {
		return workflowerrors.NewNonDeterminismError(event.ScheduleEventID, "ScheduleTimer", c.Type())
	}

	c.Done()

	return e.workflow.Continue()
}

func (e *executor) handleTimerCanceled(event *history.Event, a *history.TimerCanceledAttributes) error {
	c := e.workflowState.CommandByScheduleEventID(event.ScheduleEventID)
	if c == nil {
		return workflowerrors.NewNonDeterminismError(event.ScheduleEventID, "ScheduleTimer", "<none>")
	}

	stc, ok := c.(*command.ScheduleTimerCommand)
	if !ok {
		return workflowerrors.NewNonDeterminismError(event.ScheduleEventID, "ScheduleTimer", c.Type())
	}

	stc.HandleCancel()

	// Cancel the pending future, if the timer hasn't fired yet
	f, ok := e.workflowState.FutureByScheduleEventID(event.ScheduleEventID)
	if !ok {
		return nil
	}

	if err := f(nil, sync.Canceled); err != nil {
		return fmt.Errorf("setting timer canceled result: %w", err)
	}

	e.workflowState.RemoveFuture(event.ScheduleEventID)

	return e.workflow.Continue()
}

func (e *executor) handleSubWorkflowScheduled(event *history.Event, a *history.SubWorkflowScheduledAttributes) error {
	c := e.workflowState.CommandByScheduleEventID(event.ScheduleEventID)
	if c == nil {
		return workflowerrors.NewNonDeterminismError(event.ScheduleEventID, "ScheduleSubWorkflow", "<none>")
	}

	sswc, ok := c.(*command.ScheduleSubWorkflowCommand)
	if !ok {
		return workflowerrors.NewNonDeterminismError(event.ScheduleEventID, "ScheduleSubWorkflow", c.Type())
	}

	if a.Name != sswc.Name {
		return workflowerrors.NewNonDeterminismError(
			event.ScheduleEventID, fmt.Sprintf("ScheduleSubWorkflow:%s", a.Name), fmt.Sprintf("ScheduleSubWorkflow:%s", sswc.Name))
	}

	// During replay the command generated a fresh execution ID, use the one
	// recorded when the command was originally committed.
	sswc.Instance = a.SubWorkflowInstance

	c.Commit()

	return nil
}

func (e *executor) handleSubWorkflowCancellationRequest(event *history.Event, a *history.SubWorkflowCancellationRequestedAttributes) error {
	c := e.workflowState.CommandByScheduleEventID(event.ScheduleEventID)
	if c == nil {
		return workflowerrors.NewNonDeterminismError(event.ScheduleEventID, "ScheduleSubWorkflow", "<none>")
	}

	sswc, ok := c.(*command.ScheduleSubWorkflowCommand)
	if !ok {
		return workflowerrors.NewNonDeterminismError(event.ScheduleEventID, "ScheduleSubWorkflow", c.Type())
	}

	sswc.HandleCancel()

	return e.workflow.Continue()
}

func (e *executor) handleSubWorkflowFailed(event *history.Event, a *history.SubWorkflowFailedAttributes) error {
	f, ok := e.workflowState.FutureByScheduleEventID(event.ScheduleEventID)
	if !ok {
		return errors.New("no pending future found for sub workflow failed event")
	}

	wfErr := workflowerrors.ToError(a.Error)

	if err := f(nil, wfErr); err != nil {
		return fmt.Errorf("setting sub workflow failed result: %w", err)
	}

	e.workflowState.RemoveFuture(event.ScheduleEventID)

	c := e.workflowState.CommandByScheduleEventID(event.ScheduleEventID)
	if c == nil {
		return workflowerrors.NewNonDeterminismError(event.ScheduleEventID, "ScheduleSubWorkflow", "<none>")
	}

	if _, ok := c.(*command.ScheduleSubWorkflowCommand); !ok {
		return workflowerrors.NewNonDeterminismError(event.ScheduleEventID, "ScheduleSubWorkflow", c.Type())
	}

	c.Done()

	return e.workflow.Continue()
}

func (e *executor) handleSubWorkflowCompleted(event *history.Event, a *history.SubWorkflowCompletedAttributes) error {
	f, ok := e.workflowState.FutureByScheduleEventID(event.ScheduleEventID)
	if !ok {
		return errors.New("no pending future found for sub workflow completed event")
	}

	if err := f(a.Result, nil); err != nil {
		return fmt.Errorf("setting sub workflow completed result: %w", err)
	}

	e.workflowState.RemoveFuture(event.ScheduleEventID)

	c := e.workflowState.CommandByScheduleEventID(event.ScheduleEventID)
	if c == nil {
		return workflowerrors.NewNonDeterminismError(event.ScheduleEventID, "ScheduleSubWorkflow", "<none>")
	}

	if _, ok := c.(*command.ScheduleSubWorkflowCommand); !ok {
		return workflowerrors.NewNonDeterminismError(event.ScheduleEventID, "ScheduleSubWorkflow", c.Type())
	}

	c.Done()

	return e.workflow.Continue()
}

func (e *executor) handleSignalReceived(event *history.Event, a *history.SignalReceivedAttributes) error {
	workflowstate.ReceiveSignal(e.workflowState, a.Name, a.Arg)

	return e.workflow.Continue()
}

func (e *executor) workflowCompleted(result payload.Payload, wfErr error) {
	eventID := e.workflowState.GetNextScheduleEventID()

	// A workflow returning the cancellation sentinel ended because it was
	// canceled, persist that as a typed error so clients can tell it apart
	// from other failures.
	if wfErr != nil && errors.Is(wfErr, sync.Canceled) {
		wfErr = workflowerrors.NewCanceledError()
	}

	cmd := command.NewCompleteWorkflowCommand(eventID, e.workflowState.Instance(), result, workflowerrors.FromError(wfErr))
	e.workflowState.AddCommand(cmd)
}

func (e *executor) workflowRestarted(result payload.Payload, continueAsNew *continueasnew.Error) {
	eventID := e.workflowState.GetNextScheduleEventID()

	cmd := command.NewContinueAsNewCommand(
		eventID, e.workflowState.Instance(), result, e.workflowState.Queue(), e.workflowName, continueAsNew.Inputs)
	e.workflowState.AddCommand(cmd)
}

func (e *executor) nextSequenceID() int64 {
	e.lastSequenceID++
	return e.lastSequenceID
}

func (e *executor) createNewEvent(eventType history.EventType, attributes any, opts ...history.HistoryEventOption) *history.Event {
	return history.NewPendingEvent(
		e.clock.Now(),
		eventType,
		attributes,
		opts...,
	)
}
