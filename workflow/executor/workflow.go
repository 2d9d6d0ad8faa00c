package executor

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/atlasflow/durable/backend/payload"
	"github.com/atlasflow/durable/internal/args"
	"github.com/atlasflow/durable/internal/contextvalue"
	"github.com/atlasflow/durable/internal/sync"
	"github.com/atlasflow/durable/internal/workflowerrors"
)

// workflow drives a single workflow function as the root coroutine of a
// scheduler.
type workflow struct {
	s      *sync.Scheduler
	fn     reflect.Value
	result payload.Payload
	err    error
}

func newWorkflow(workflowFn reflect.Value) *workflow {
	return &workflow{
		s:  sync.NewScheduler(),
		fn: workflowFn,
	}
}

func (w *workflow) Execute(ctx sync.Context, inputs []payload.Payload) error {
	w.s.NewCoroutine(ctx, func(ctx sync.Context) error {
		converter := contextvalue.Converter(ctx)
		args, addContext, err := args.InputsToArgs(converter, w.fn, inputs)
		if err != nil {
			return fmt.Errorf("converting workflow inputs: %w", err)
		}

		if !addContext {
			return errors.New("workflow must accept context as first argument")
		}

		args[0] = reflect.ValueOf(ctx)

		// Handle panics in workflow code
		defer func() {
			if r := recover(); r != nil {
				w.err = workflowerrors.NewPanicError(fmt.Sprintf("panic in workflow: %v", r))
			}
		}()

		r := w.fn.Call(args)

		if len(r) < 1 || len(r) > 2 {
			return errors.New("workflow has to return either (error) or (result, error)")
		}

		var result payload.Payload

		if len(r) > 1 {
			var err error
			result, err = converter.To(r[0].Interface())
			if err != nil {
				return fmt.Errorf("converting workflow result: %w", err)
			}
		} else {
			result, err = converter.To(nil)
			if err != nil {
				return fmt.Errorf("converting workflow result: %w", err)
			}
		}

		w.result = result

		errResult := r[len(r)-1]
		if !errResult.IsNil() {
			errInterface, ok := errResult.Interface().(error)
			if !ok {
				return fmt.Errorf("workflow error result does not satisfy error interface (%T): %v", errResult, errResult)
			}

			w.err = errInterface
		}

		return nil
	})

	return w.s.Execute()
}

func (w *workflow) Continue() error {
	return w.s.Execute()
}

// Completed returns true when all coroutines of the workflow have finished.
func (w *workflow) Completed() bool {
	return w.s.RunningCoroutines() == 0
}

// Result returns the return value of a finished workflow as a payload
func (w *workflow) Result() payload.Payload {
	return w.result
}

// Error returns the error of a finished workflow, can be nil
func (w *workflow) Error() error {
	return w.err
}

func (w *workflow) Close() {
	// End coroutine execution to prevent goroutine leaks
	w.s.Exit()
}
