package history

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EventType uint

const (
	_ EventType = iota

	EventType_WorkflowExecutionStarted
	EventType_WorkflowExecutionFinished
	EventType_WorkflowExecutionContinuedAsNew
	EventType_WorkflowExecutionCanceled

	EventType_WorkflowTaskStarted

	EventType_SubWorkflowScheduled
	EventType_SubWorkflowCancellationRequested
	EventType_SubWorkflowCompleted
	EventType_SubWorkflowFailed

	EventType_ActivityScheduled
	EventType_ActivityCompleted
	EventType_ActivityFailed

	EventType_TimerScheduled
	EventType_TimerFired
	EventType_TimerCanceled

	EventType_SignalReceived
)

func (et EventType) String() string {
	switch et {
	case EventType_WorkflowExecutionStarted:
		return "WorkflowExecutionStarted"
	case EventType_WorkflowExecutionFinished:
		return "WorkflowExecutionFinished"
	case EventType_WorkflowExecutionContinuedAsNew:
		return "WorkflowExecutionContinuedAsNew"
	case EventType_WorkflowExecutionCanceled:
		return "WorkflowExecutionCanceled"

	case EventType_WorkflowTaskStarted:
		return "WorkflowTaskStarted"

	case EventType_SubWorkflowScheduled:
		return "SubWorkflowScheduled"
	case EventType_SubWorkflowCancellationRequested:
		return "SubWorkflowCancellationRequested"
	case EventType_SubWorkflowCompleted:
		return "SubWorkflowCompleted"
	case EventType_SubWorkflowFailed:
		return "SubWorkflowFailed"

	case EventType_ActivityScheduled:
		return "ActivityScheduled"
	case EventType_ActivityCompleted:
		return "ActivityCompleted"
	case EventType_ActivityFailed:
		return "ActivityFailed"

	case EventType_TimerScheduled:
		return "TimerScheduled"
	case EventType_TimerFired:
		return "TimerFired"
	case EventType_TimerCanceled:
		return "TimerCanceled"

	case EventType_SignalReceived:
		return "SignalReceived"

	default:
		return "Unknown"
	}
}

// Event is a single entry in a workflow instance's history. Once written to the
// journal events are immutable.
type Event struct {
	// ID is a unique identifier for this event
	ID string `json:"id,omitempty"`

	Type EventType `json:"type,omitempty"`

	Timestamp time.Time `json:"timestamp,omitempty"`

	// SequenceID is the position of this event in the instance's history. It is
	// strictly increasing per instance and assigned when the event is journaled.
	SequenceID int64 `json:"sid,omitempty"`

	// ScheduleEventID correlates events that belong together. The schedule event of
	// an activity and its completion/failure event share the same ScheduleEventID.
	ScheduleEventID int64 `json:"seid,omitempty"`

	// Attributes are event type specific attributes
	Attributes interface{} `json:"attr,omitempty"`

	// VisibleAt defers delivery of this event, used for timers
	VisibleAt *time.Time `json:"vat,omitempty"`
}

func (e *Event) String() string {
	return fmt.Sprintf("%s(seq: %d, schedule: %d)", e.Type, e.SequenceID, e.ScheduleEventID)
}

type HistoryEventOption func(e *Event)

func ScheduleEventID(scheduleEventID int64) HistoryEventOption {
	return func(e *Event) {
		e.ScheduleEventID = scheduleEventID
	}
}

func VisibleAt(visibleAt time.Time) HistoryEventOption {
	return func(e *Event) {
		e.VisibleAt = &visibleAt
	}
}

// NewWorkflowCancellationEvent creates the event delivered to an instance when
// its cancellation is requested.
func NewWorkflowCancellationEvent(timestamp time.Time) *Event {
	return NewPendingEvent(timestamp, EventType_WorkflowExecutionCanceled, &ExecutionCanceledAttributes{})
}

// NewPendingEvent creates a new event which has not been journaled yet, so it does
// not have a sequence ID.
func NewPendingEvent(timestamp time.Time, eventType EventType, attributes interface{}, opts ...HistoryEventOption) *Event {
	e := &Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Timestamp:  timestamp,
		Attributes: attributes,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}
