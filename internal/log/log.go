package log

const (
	InstanceIDKey   = "instance_id"
	ExecutionIDKey  = "execution_id"
	WorkflowNameKey = "workflow_name"
	QueueKey        = "queue"

	TaskIDKey             = "task_id"
	TaskLastSequenceIDKey = "task_last_sequence_id"
	TaskSequenceIDKey     = "task_sequence_id"
	LocalSequenceIDKey    = "local_sequence_id"

	EventIDKey         = "event_id"
	EventTypeKey       = "event_type"
	SeqIDKey           = "sequence_id"
	ScheduleEventIDKey = "schedule_event_id"
	ExecutedEventsKey  = "executed_events"

	ActivityNameKey = "activity_name"
	ActivityIDKey   = "activity_id"
	AttemptKey      = "attempt"

	SignalNameKey = "signal_name"

	IsReplayingKey = "is_replaying"

	NowKey      = "now"
	AtKey       = "at"
	DurationKey = "duration_ms"

	WorkflowInstanceStateKey = "workflow_instance_state"
	ContinuedExecutionIDKey  = "continued_execution_id"
)
