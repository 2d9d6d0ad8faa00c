package workflow

import (
	"fmt"

	a "github.com/atlasflow/durable/internal/args"
	"github.com/atlasflow/durable/internal/command"
	"github.com/atlasflow/durable/internal/contextvalue"
	"github.com/atlasflow/durable/internal/fn"
	"github.com/atlasflow/durable/internal/sync"
	"github.com/atlasflow/durable/internal/workflowstate"
)

type SubWorkflowOptions struct {
	// InstanceID for the new sub-workflow instance. A random one is generated
	// when left empty.
	InstanceID string

	// Queue the sub-workflow is scheduled on. Defaults to the parent's queue.
	Queue Queue

	RetryOptions RetryOptions
}

var DefaultSubWorkflowOptions = SubWorkflowOptions{
	RetryOptions: RetryOptions{
		MaxAttempts: 1,
	},
}

// CreateSubWorkflowInstance starts a sub-workflow and returns a future for its result.
func CreateSubWorkflowInstance[TResult any](ctx Context, options SubWorkflowOptions, workflow Workflow, args ...any) Future[TResult] {
	return withRetries(ctx, options.RetryOptions, func(ctx sync.Context, attempt int) Future[TResult] {
		return createSubWorkflowInstance[TResult](ctx, options, attempt, workflow, args...)
	})
}

func createSubWorkflowInstance[TResult any](ctx Context, options SubWorkflowOptions, attempt int, workflow Workflow, args ...any) Future[TResult] {
	f := sync.NewFuture[TResult]()

	if ctx.Err() != nil {
		f.Set(*new(TResult), ctx.Err())
		return f
	}

	name := workflowName(workflow)

	// Referencing the workflow by name skips the signature checks, the target
	// might not even be registered in this process.
	if _, byName := workflow.(string); !byName {
		if err := a.ReturnTypeMatch[TResult](workflow); err != nil {
			f.Set(*new(TResult), err)
			return f
		}

		if err := a.ParamsMatch(workflow, args...); err != nil {
			f.Set(*new(TResult), err)
			return f
		}
	}

	cv := contextvalue.Converter(ctx)
	inputs, err := a.ArgsToInputs(cv, args...)
	if err != nil {
		f.Set(*new(TResult), fmt.Errorf("converting sub-workflow input: %w", err))
		return f
	}

	wfState := workflowstate.WorkflowState(ctx)
	scheduleEventID := wfState.GetNextScheduleEventID()

	instanceID := options.InstanceID
	if instanceID == "" {
		// Deterministic replay requires a stable ID, so derive it from the
		// parent's execution instead of generating a random one.
		instanceID = fmt.Sprintf("%s-sub-%d", wfState.Instance().InstanceID, scheduleEventID)
	}

	queue := options.Queue
	if queue == "" {
		queue = wfState.Queue()
	}

	// The execution ID recorded here is replaced during replay with the one from
	// the SubWorkflowScheduled event.
	executionID := fmt.Sprintf("%s-%d", wfState.Instance().ExecutionID, scheduleEventID)

	cmd := command.NewScheduleSubWorkflowCommand(
		scheduleEventID, wfState.Instance(), instanceID, executionID, name, inputs, queue)
	wfState.AddCommand(cmd)
	wfState.TrackFuture(scheduleEventID, name, workflowstate.AsDecodingSettable(cv, name, f))

	if d := ctx.Done(); d != nil {
		if c, ok := d.(sync.ChannelInternal[struct{}]); ok {
			if _, canceled := c.ReceiveNonBlocking(); canceled {
				if cmd.State() == command.CommandState_Pending {
					cmd.Done()
					wfState.RemoveCommand(cmd)
					wfState.RemoveFuture(scheduleEventID)
					f.Set(*new(TResult), sync.Canceled)
				}
			} else {
				// Request cancellation of the sub-workflow when the parent is
				// canceled. The future stays pending until the sub-workflow
				// reports back, cancellation is cooperative.
				c.AddReceiveCallback(func(v struct{}, ok bool) {
					cmd.Cancel()

					if cmd.State() == command.CommandState_Canceled && !f.Ready() {
						wfState.RemoveFuture(scheduleEventID)
						f.Set(*new(TResult), sync.Canceled)
					}
				})
			}
		}
	}

	return f
}

func workflowName(workflow Workflow) string {
	if name, ok := workflow.(string); ok {
		return name
	}

	return fn.Name(workflow)
}
