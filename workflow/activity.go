package workflow

import (
	"fmt"
	"time"

	a "github.com/atlasflow/durable/internal/args"
	"github.com/atlasflow/durable/internal/command"
	"github.com/atlasflow/durable/internal/contextvalue"
	"github.com/atlasflow/durable/internal/fn"
	"github.com/atlasflow/durable/internal/sync"
	"github.com/atlasflow/durable/internal/workflowstate"
)

type ActivityOptions struct {
	RetryOptions RetryOptions

	// StartToCloseTimeout limits how long a single activity attempt may run.
	// 0 means no limit.
	StartToCloseTimeout time.Duration
}

var DefaultActivityOptions = ActivityOptions{
	RetryOptions: DefaultRetryOptions,
}

// ExecuteActivity schedules the given activity to be executed.
func ExecuteActivity[TResult any](ctx Context, options ActivityOptions, activity Activity, args ...any) Future[TResult] {
	return withRetries(ctx, options.RetryOptions, func(ctx sync.Context, attempt int) Future[TResult] {
		return executeActivity[TResult](ctx, options, attempt, activity, args...)
	})
}

func executeActivity[TResult any](ctx Context, options ActivityOptions, attempt int, activity Activity, args ...any) Future[TResult] {
	f := sync.NewFuture[TResult]()

	if ctx.Err() != nil {
		f.Set(*new(TResult), ctx.Err())
		return f
	}

	if err := a.ReturnTypeMatch[TResult](activity); err != nil {
		f.Set(*new(TResult), err)
		return f
	}

	if err := a.ParamsMatch(activity, args...); err != nil {
		f.Set(*new(TResult), err)
		return f
	}

	cv := contextvalue.Converter(ctx)
	inputs, err := a.ArgsToInputs(cv, args...)
	if err != nil {
		f.Set(*new(TResult), fmt.Errorf("converting activity input: %w", err))
		return f
	}

	wfState := workflowstate.WorkflowState(ctx)
	scheduleEventID := wfState.GetNextScheduleEventID()

	name := fn.Name(activity)

	cmd := command.NewScheduleActivityCommand(scheduleEventID, name, inputs, attempt, options.StartToCloseTimeout)
	wfState.AddCommand(cmd)
	wfState.TrackFuture(scheduleEventID, name, workflowstate.AsDecodingSettable(cv, name, f))

	// If the workflow got canceled before the activity was scheduled, drop the
	// command. Once scheduled, the activity runs to completion; cancellation is
	// observed between attempts.
	if d := ctx.Done(); d != nil {
		if c, ok := d.(sync.ChannelInternal[struct{}]); ok {
			if _, ok := c.ReceiveNonBlocking(); ok {
				if cmd.State() == command.CommandState_Pending {
					cmd.Done()
					wfState.RemoveCommand(cmd)
					wfState.RemoveFuture(scheduleEventID)
					f.Set(*new(TResult), sync.Canceled)
				}
			}
		}
	}

	return f
}
