package history

import (
	"encoding/json"
	"fmt"
)

func (e *Event) UnmarshalJSON(data []byte) error {
	type Aevent Event
	a := &struct {
		// Attributes allows us to defer unmarshaling the attributes until the event
		// type is known. Has to match the struct tag in Event.
		Attributes json.RawMessage `json:"attr,omitempty"`
		*Aevent
	}{
		Aevent: (*Aevent)(e),
	}

	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	attributes, err := DeserializeAttributes(e.Type, a.Attributes)
	if err != nil {
		return err
	}

	e.Attributes = attributes

	return nil
}

func SerializeAttributes(attributes interface{}) ([]byte, error) {
	return json.Marshal(attributes)
}

func DeserializeAttributes(eventType EventType, attributes []byte) (attr interface{}, err error) {
	switch eventType {
	case EventType_WorkflowExecutionStarted:
		attr = &ExecutionStartedAttributes{}
	case EventType_WorkflowExecutionFinished:
		attr = &ExecutionCompletedAttributes{}
	case EventType_WorkflowExecutionContinuedAsNew:
		attr = &ExecutionContinuedAsNewAttributes{}
	case EventType_WorkflowExecutionCanceled:
		attr = &ExecutionCanceledAttributes{}

	case EventType_WorkflowTaskStarted:
		attr = &WorkflowTaskStartedAttributes{}

	case EventType_ActivityScheduled:
		attr = &ActivityScheduledAttributes{}
	case EventType_ActivityCompleted:
		attr = &ActivityCompletedAttributes{}
	case EventType_ActivityFailed:
		attr = &ActivityFailedAttributes{}

	case EventType_TimerScheduled:
		attr = &TimerScheduledAttributes{}
	case EventType_TimerFired:
		attr = &TimerFiredAttributes{}
	case EventType_TimerCanceled:
		attr = &TimerCanceledAttributes{}

	case EventType_SubWorkflowScheduled:
		attr = &SubWorkflowScheduledAttributes{}
	case EventType_SubWorkflowCancellationRequested:
		attr = &SubWorkflowCancellationRequestedAttributes{}
	case EventType_SubWorkflowCompleted:
		attr = &SubWorkflowCompletedAttributes{}
	case EventType_SubWorkflowFailed:
		attr = &SubWorkflowFailedAttributes{}

	case EventType_SignalReceived:
		attr = &SignalReceivedAttributes{}

	default:
		return nil, fmt.Errorf("unknown event type when deserializing attributes: %v", eventType)
	}

	err = json.Unmarshal(attributes, &attr)
	return attr, err
}
