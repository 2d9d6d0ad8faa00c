package workflow

import (
	"time"

	"github.com/atlasflow/durable/backend/payload"
	"github.com/atlasflow/durable/internal/command"
	"github.com/atlasflow/durable/internal/sync"
	"github.com/atlasflow/durable/internal/workflowstate"
)

type TimerOption func(*timerOptions)

type timerOptions struct {
	name string
}

// WithTimerName gives the timer a name that shows up in the workflow history.
func WithTimerName(name string) TimerOption {
	return func(o *timerOptions) {
		o.name = name
	}
}

// ScheduleTimer returns a future that resolves after the given delay.
func ScheduleTimer(ctx Context, delay time.Duration, opts ...TimerOption) Future[any] {
	options := &timerOptions{}
	for _, opt := range opts {
		opt(options)
	}

	wfState := workflowstate.WorkflowState(ctx)

	scheduleEventID := wfState.GetNextScheduleEventID()
	at := Now(ctx).Add(delay)

	timerCmd := command.NewScheduleTimerCommand(scheduleEventID, at, options.name)
	wfState.AddCommand(timerCmd)

	f := sync.NewFuture[any]()

	// Timers are resolved via TimerFired events, no payload to decode
	wfState.TrackFuture(scheduleEventID, "timer", func(v payload.Payload, err error) error {
		return f.Set(nil, err)
	})

	if d := ctx.Done(); d != nil {
		if c, ok := d.(sync.ChannelInternal[struct{}]); ok {
			if _, canceled := c.ReceiveNonBlocking(); canceled {
				timerCmd.Done()
				wfState.RemoveCommand(timerCmd)
				wfState.RemoveFuture(scheduleEventID)
				f.Set(nil, sync.Canceled)
			} else {
				// When the context is canceled later, cancel the timer. If it was
				// already committed, this produces a TimerCanceled event so the
				// backend can drop the pending TimerFired event.
				c.AddReceiveCallback(func(v struct{}, ok bool) {
					if !f.Ready() {
						timerCmd.Cancel()
						wfState.RemoveFuture(scheduleEventID)
						f.Set(nil, sync.Canceled)
					}
				})
			}
		}
	}

	return f
}
