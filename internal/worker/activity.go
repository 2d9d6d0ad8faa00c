package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/atlasflow/durable/backend"
	"github.com/atlasflow/durable/backend/history"
	"github.com/atlasflow/durable/backend/metrics"
	"github.com/atlasflow/durable/core"
	"github.com/atlasflow/durable/internal/activity"
	"github.com/atlasflow/durable/internal/metrickeys"
	"github.com/atlasflow/durable/internal/workflowerrors"
	"github.com/atlasflow/durable/registry"
)

func NewActivityWorker(
	b backend.Backend,
	r *registry.Registry,
	clock clock.Clock,
	options WorkerOptions,
) *Worker[backend.ActivityTask, history.Event] {
	tw := &ActivityTaskWorker{
		backend:          b,
		activityExecutor: activity.NewExecutor(b.Options().Logger, b.Tracer(), b.Options().Converter, r),
		clock:            clock,
	}

	return NewWorker(b, tw, &options)
}

type ActivityTaskWorker struct {
	backend          backend.Backend
	activityExecutor activity.Executor
	clock            clock.Clock
}

func (atw *ActivityTaskWorker) Get(ctx context.Context, queues []core.Queue) (*backend.ActivityTask, error) {
	return atw.backend.GetActivityTask(ctx, queues)
}

func (atw *ActivityTaskWorker) Extend(ctx context.Context, t *backend.ActivityTask) error {
	return atw.backend.ExtendActivityTask(ctx, t)
}

func (atw *ActivityTaskWorker) Execute(ctx context.Context, t *backend.ActivityTask) (*history.Event, error) {
	a := t.Event.Attributes.(*history.ActivityScheduledAttributes)
	ametrics := atw.backend.Metrics().WithTags(metrics.Tags{metrickeys.ActivityName: a.Name})

	// Record how long this task was in the queue
	timeInQueue := atw.clock.Since(t.Event.Timestamp)
	ametrics.Distribution(metrickeys.ActivityTaskDelay, metrics.Tags{}, float64(timeInQueue/time.Millisecond))

	timer := metrics.Timer(ametrics, metrickeys.ActivityTaskProcessed, metrics.Tags{})
	defer timer.Stop()

	result, err := atw.activityExecutor.ExecuteActivity(ctx, t)

	// Failures become ActivityFailed events delivered to the workflow, they do
	// not fail the task itself.
	var event *history.Event

	if err != nil {
		event = history.NewPendingEvent(
			atw.clock.Now(),
			history.EventType_ActivityFailed,
			&history.ActivityFailedAttributes{
				Error: workflowerrors.FromError(err),
			},
			history.ScheduleEventID(t.Event.ScheduleEventID),
		)
	} else {
		event = history.NewPendingEvent(
			atw.clock.Now(),
			history.EventType_ActivityCompleted,
			&history.ActivityCompletedAttributes{
				Result: result,
			},
			history.ScheduleEventID(t.Event.ScheduleEventID),
		)
	}

	return event, nil
}

func (atw *ActivityTaskWorker) Complete(ctx context.Context, event *history.Event, t *backend.ActivityTask) error {
	if err := atw.backend.CompleteActivityTask(ctx, t, event); err != nil {
		return fmt.Errorf("completing activity task: %w", err)
	}

	return nil
}
