// Package memory provides an in-process backend. It keeps all state in
// mutex-guarded maps and is the reference implementation of the backend
// contract. State is lost when the process exits.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/atlasflow/durable/backend"
	"github.com/atlasflow/durable/backend/history"
	"github.com/atlasflow/durable/backend/metrics"
	"github.com/atlasflow/durable/core"
)

// ErrLeaseExpired is returned when a task is extended or completed by a worker
// which no longer holds the task's lease.
var ErrLeaseExpired = errors.New("task lease expired")

// run is the state of a single workflow execution.
type run struct {
	instance *core.WorkflowInstance
	queue    core.Queue
	state    core.WorkflowInstanceState

	pendingEvents []*history.Event
	history       []*history.Event

	lockedUntil *time.Time
	lockToken   string
}

func (r *run) locked(now time.Time) bool {
	return r.lockedUntil != nil && r.lockedUntil.After(now)
}

// activity is a queued activity task with its lease bookkeeping.
type activity struct {
	instance *core.WorkflowInstance
	queue    core.Queue
	event    *history.Event

	lockedUntil *time.Time
	lockToken   string
}

func (a *activity) locked(now time.Time) bool {
	return a.lockedUntil != nil && a.lockedUntil.After(now)
}

type memoryBackend struct {
	mu sync.Mutex

	// instance id -> all runs for that id, in creation order
	instances map[string][]*run

	// FIFO queue of activity tasks. Expired leases make entries pollable again.
	activities []*activity

	options *backend.Options
	tracer  trace.Tracer
	clock   clock.Clock
}

var _ backend.Backend = (*memoryBackend)(nil)

func NewMemoryBackend(opts ...backend.BackendOption) backend.Backend {
	options := backend.ApplyOptions(opts...)

	return &memoryBackend{
		instances: make(map[string][]*run),
		options:   options,
		tracer:    options.TracerProvider.Tracer(backend.TracerName),
		clock:     clock.New(),
	}
}

func (mb *memoryBackend) Tracer() trace.Tracer {
	return mb.tracer
}

func (mb *memoryBackend) Metrics() metrics.Client {
	return mb.options.Metrics
}

func (mb *memoryBackend) Options() *backend.Options {
	return mb.options
}

func (mb *memoryBackend) Close() error {
	return nil
}

func (mb *memoryBackend) CreateWorkflowInstance(ctx context.Context, instance *core.WorkflowInstance, event *history.Event) error {
	a, ok := event.Attributes.(*history.ExecutionStartedAttributes)
	if !ok {
		return fmt.Errorf("expected WorkflowExecutionStarted event, got %s", event.Type)
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	return mb.createRun(instance, a.Queue, event, false)
}

// createRun adds a new run for the given instance. The caller has to hold the lock.
func (mb *memoryBackend) createRun(instance *core.WorkflowInstance, queue core.Queue, event *history.Event, ignoreDuplicate bool) error {
	for _, r := range mb.instances[instance.InstanceID] {
		if r.instance.ExecutionID == instance.ExecutionID {
			if ignoreDuplicate {
				return nil
			}

			return backend.ErrInstanceAlreadyExists
		}

		if r.state == core.WorkflowInstanceStateActive {
			return backend.ErrInstanceAlreadyExists
		}
	}

	mb.instances[instance.InstanceID] = append(mb.instances[instance.InstanceID], &run{
		instance:      instance,
		queue:         queue,
		state:         core.WorkflowInstanceStateActive,
		pendingEvents: []*history.Event{event},
	})

	return nil
}

// openRun returns the active run for the given instance ID, or nil. The caller
// has to hold the lock.
func (mb *memoryBackend) openRun(instanceID string) *run {
	for _, r := range mb.instances[instanceID] {
		if r.state == core.WorkflowInstanceStateActive {
			return r
		}
	}

	return nil
}

// findRun returns the run for the exact instance/execution pair, or nil. The
// caller has to hold the lock.
func (mb *memoryBackend) findRun(instance *core.WorkflowInstance) *run {
	for _, r := range mb.instances[instance.InstanceID] {
		if r.instance.ExecutionID == instance.ExecutionID {
			return r
		}
	}

	return nil
}

func (mb *memoryBackend) CancelWorkflowInstance(ctx context.Context, instance *core.WorkflowInstance, cancelEvent *history.Event) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	r := mb.findRun(instance)
	if r == nil {
		return backend.ErrInstanceNotFound
	}

	r.pendingEvents = append(r.pendingEvents, cancelEvent)

	// Cancel any open sub-workflow instances as well
	mb.cancelSubWorkflows(instance.InstanceID)

	return nil
}

func (mb *memoryBackend) cancelSubWorkflows(instanceID string) {
	for _, runs := range mb.instances {
		for _, r := range runs {
			if r.state != core.WorkflowInstanceStateActive || !r.instance.SubWorkflow() {
				continue
			}

			if r.instance.Parent.InstanceID == instanceID {
				r.pendingEvents = append(r.pendingEvents, history.NewWorkflowCancellationEvent(mb.clock.Now()))
				mb.cancelSubWorkflows(r.instance.InstanceID)
			}
		}
	}
}

func (mb *memoryBackend) RemoveWorkflowInstance(ctx context.Context, instance *core.WorkflowInstance) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	runs := mb.instances[instance.InstanceID]
	for i, r := range runs {
		if r.instance.ExecutionID != instance.ExecutionID {
			continue
		}

		if r.state == core.WorkflowInstanceStateActive {
			return backend.ErrInstanceNotFinished
		}

		runs = append(runs[:i], runs[i+1:]...)
		if len(runs) == 0 {
			delete(mb.instances, instance.InstanceID)
		} else {
			mb.instances[instance.InstanceID] = runs
		}

		return nil
	}

	return backend.ErrInstanceNotFound
}

func (mb *memoryBackend) GetWorkflowInstanceState(ctx context.Context, instance *core.WorkflowInstance) (core.WorkflowInstanceState, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	r := mb.findRun(instance)
	if r == nil {
		return core.WorkflowInstanceStateActive, backend.ErrInstanceNotFound
	}

	return r.state, nil
}

func (mb *memoryBackend) GetWorkflowInstanceHistory(ctx context.Context, instance *core.WorkflowInstance, lastSequenceID *int64) ([]*history.Event, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	r := mb.findRun(instance)
	if r == nil {
		return nil, backend.ErrInstanceNotFound
	}

	events := make([]*history.Event, 0, len(r.history))
	for _, event := range r.history {
		if lastSequenceID != nil && event.SequenceID <= *lastSequenceID {
			continue
		}

		events = append(events, event)
	}

	return events, nil
}

func (mb *memoryBackend) SignalWorkflow(ctx context.Context, instanceID string, event *history.Event) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	r := mb.openRun(instanceID)
	if r == nil {
		return backend.ErrInstanceNotFound
	}

	r.pendingEvents = append(r.pendingEvents, event)

	return nil
}

func (mb *memoryBackend) GetWorkflowTask(ctx context.Context, queues []core.Queue) (*backend.WorkflowTask, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	now := mb.clock.Now()

	for _, runs := range mb.instances {
		for _, r := range runs {
			if r.state != core.WorkflowInstanceStateActive || r.locked(now) || !queueMatches(queues, r.queue) {
				continue
			}

			newEvents := visibleEvents(r.pendingEvents, now)
			if len(newEvents) == 0 {
				continue
			}

			lockedUntil := now.Add(mb.options.WorkflowLockTimeout)
			r.lockedUntil = &lockedUntil
			r.lockToken = uuid.NewString()

			var lastSequenceID int64
			if len(r.history) > 0 {
				lastSequenceID = r.history[len(r.history)-1].SequenceID
			}

			return &backend.WorkflowTask{
				ID:               r.instance.InstanceID,
				WorkflowInstance: r.instance,
				Queue:            r.queue,
				LastSequenceID:   lastSequenceID,
				NewEvents:        newEvents,
				CustomData:       r.lockToken,
			}, nil
		}
	}

	return nil, nil
}

func (mb *memoryBackend) ExtendWorkflowTask(ctx context.Context, task *backend.WorkflowTask) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	r := mb.findRun(task.WorkflowInstance)
	if r == nil {
		return backend.ErrInstanceNotFound
	}

	if r.lockToken == "" || r.lockToken != task.CustomData {
		return ErrLeaseExpired
	}

	lockedUntil := mb.clock.Now().Add(mb.options.WorkflowLockTimeout)
	r.lockedUntil = &lockedUntil

	return nil
}

func (mb *memoryBackend) CompleteWorkflowTask(
	ctx context.Context, task *backend.WorkflowTask, state core.WorkflowInstanceState,
	executedEvents, activityEvents, timerEvents []*history.Event, workflowEvents []*history.WorkflowEvent,
) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	r := mb.findRun(task.WorkflowInstance)
	if r == nil {
		return backend.ErrInstanceNotFound
	}

	// Only the lease holder may complete a task. A worker whose lease expired
	// and was re-issued to another worker gets an error and must apply no writes.
	if r.lockToken == "" || r.lockToken != task.CustomData {
		return ErrLeaseExpired
	}

	r.lockedUntil = nil
	r.lockToken = ""

	// Move executed events from the pending queue into the history. A canceled
	// timer also drops its not-yet-visible fired event.
	for _, event := range executedEvents {
		r.pendingEvents = removeEvent(r.pendingEvents, event.ID)

		if event.Type == history.EventType_TimerCanceled {
			r.pendingEvents = removeFutureEvent(r.pendingEvents, event.ScheduleEventID)
		}
	}

	r.history = append(r.history, executedEvents...)
	r.state = state

	for _, event := range activityEvents {
		mb.activities = append(mb.activities, &activity{
			instance: task.WorkflowInstance,
			queue:    task.Queue,
			event:    event,
		})
	}

	// Timer events become visible to this instance once their timer fires
	r.pendingEvents = append(r.pendingEvents, timerEvents...)

	for _, event := range workflowEvents {
		target := event.WorkflowInstance

		if event.HistoryEvent.Type == history.EventType_WorkflowExecutionStarted {
			// Sub-workflow or continued-as-new run
			a := event.HistoryEvent.Attributes.(*history.ExecutionStartedAttributes)
			if err := mb.createRun(target, a.Queue, event.HistoryEvent, true); err != nil {
				return fmt.Errorf("creating workflow instance %s: %w", target.InstanceID, err)
			}

			continue
		}

		tr := mb.findRun(target)
		if tr == nil {
			// Target run was removed, drop the event
			continue
		}

		tr.pendingEvents = append(tr.pendingEvents, event.HistoryEvent)
	}

	return nil
}

func (mb *memoryBackend) GetActivityTask(ctx context.Context, queues []core.Queue) (*backend.ActivityTask, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	now := mb.clock.Now()

	for _, a := range mb.activities {
		if a.locked(now) || !queueMatches(queues, a.queue) {
			continue
		}

		lockedUntil := now.Add(mb.options.ActivityLockTimeout)
		a.lockedUntil = &lockedUntil
		a.lockToken = uuid.NewString()

		return &backend.ActivityTask{
			ID:               a.event.ID,
			WorkflowInstance: a.instance,
			Queue:            a.queue,
			Event:            a.event,
			CustomData:       a.lockToken,
		}, nil
	}

	return nil, nil
}

func (mb *memoryBackend) ExtendActivityTask(ctx context.Context, task *backend.ActivityTask) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	a := mb.findActivity(task.ID)
	if a == nil || a.lockToken == "" || a.lockToken != task.CustomData {
		return ErrLeaseExpired
	}

	lockedUntil := mb.clock.Now().Add(mb.options.ActivityLockTimeout)
	a.lockedUntil = &lockedUntil

	return nil
}

func (mb *memoryBackend) CompleteActivityTask(ctx context.Context, task *backend.ActivityTask, result *history.Event) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	a := mb.findActivity(task.ID)
	if a == nil || a.lockToken == "" || a.lockToken != task.CustomData {
		return ErrLeaseExpired
	}

	for i, queued := range mb.activities {
		if queued == a {
			mb.activities = append(mb.activities[:i], mb.activities[i+1:]...)
			break
		}
	}

	r := mb.findRun(task.WorkflowInstance)
	if r == nil {
		// Instance was removed while the activity ran, drop the result
		return nil
	}

	r.pendingEvents = append(r.pendingEvents, result)

	return nil
}

func (mb *memoryBackend) findActivity(id string) *activity {
	for _, a := range mb.activities {
		if a.event.ID == id {
			return a
		}
	}

	return nil
}

func queueMatches(queues []core.Queue, queue core.Queue) bool {
	for _, q := range queues {
		if q == queue {
			return true
		}
	}

	return false
}

func visibleEvents(events []*history.Event, now time.Time) []*history.Event {
	visible := make([]*history.Event, 0, len(events))
	for _, event := range events {
		if event.VisibleAt == nil || !event.VisibleAt.After(now) {
			visible = append(visible, event)
		}
	}

	return visible
}

func removeEvent(events []*history.Event, id string) []*history.Event {
	for i, event := range events {
		if event.ID == id {
			return append(events[:i], events[i+1:]...)
		}
	}

	return events
}

func removeFutureEvent(events []*history.Event, scheduleEventID int64) []*history.Event {
	for i, event := range events {
		if event.ScheduleEventID == scheduleEventID && event.VisibleAt != nil {
			return append(events[:i], events[i+1:]...)
		}
	}

	return events
}
