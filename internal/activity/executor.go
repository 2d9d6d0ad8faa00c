package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/atlasflow/durable/backend"
	"github.com/atlasflow/durable/backend/converter"
	"github.com/atlasflow/durable/backend/history"
	"github.com/atlasflow/durable/backend/payload"
	"github.com/atlasflow/durable/internal/args"
	"github.com/atlasflow/durable/internal/log"
	"github.com/atlasflow/durable/internal/workflowerrors"
	"github.com/atlasflow/durable/registry"
)

type Executor struct {
	logger *slog.Logger
	tracer trace.Tracer
	cv     converter.Converter
	r      *registry.Registry
}

func NewExecutor(logger *slog.Logger, tracer trace.Tracer, cv converter.Converter, r *registry.Registry) Executor {
	return Executor{
		logger: logger,
		tracer: tracer,
		cv:     cv,
		r:      r,
	}
}

// ExecuteActivity runs a single activity attempt. A start-to-close timeout from
// the schedule event is enforced through the context; exceeding it fails the
// attempt with a retryable timeout error.
func (e *Executor) ExecuteActivity(ctx context.Context, task *backend.ActivityTask) (payload.Payload, error) {
	a, ok := task.Event.Attributes.(*history.ActivityScheduledAttributes)
	if !ok {
		return nil, errors.New("task does not contain an activity scheduled event")
	}

	activity, err := e.r.GetActivity(a.Name)
	if err != nil {
		return nil, workflowerrors.NewPermanentError(err)
	}

	activityFn := reflect.ValueOf(activity)
	if activityFn.Type().Kind() != reflect.Func {
		return nil, workflowerrors.NewPermanentError(errors.New("activity not a function"))
	}

	fnArgs, addContext, err := args.InputsToArgs(e.cv, activityFn, a.Inputs)
	if err != nil {
		return nil, workflowerrors.NewPermanentError(fmt.Errorf("converting activity inputs: %w", err))
	}

	as := NewActivityState(task.Event.ID, a.Attempt, task.WorkflowInstance, e.logger)
	activityCtx := WithActivityState(ctx, as)

	activityCtx, span := e.tracer.Start(activityCtx, fmt.Sprintf("ActivityTaskExecution: %s", a.Name),
		trace.WithAttributes(
			attribute.String(log.ActivityNameKey, a.Name),
			attribute.Int(log.AttemptKey, a.Attempt),
			attribute.String(log.InstanceIDKey, task.WorkflowInstance.InstanceID),
			attribute.String(log.TaskIDKey, task.ID),
		))
	defer span.End()

	if a.StartToCloseTimeout > 0 {
		var cancel context.CancelFunc
		activityCtx, cancel = context.WithTimeout(activityCtx, a.StartToCloseTimeout)
		defer cancel()
	}

	if addContext {
		fnArgs[0] = reflect.ValueOf(activityCtx)
	}

	r, err := e.callActivity(activityFn, fnArgs)
	if err != nil {
		return nil, err
	}

	if activityCtx.Err() == context.DeadlineExceeded {
		// Attempt exceeded its start-to-close timeout. Retryable, the retry
		// budget is enforced by the calling workflow.
		return nil, fmt.Errorf("activity %s timed out after %v", a.Name, a.StartToCloseTimeout)
	}

	var result payload.Payload

	if len(r) > 1 {
		var err error
		result, err = e.cv.To(r[0].Interface())
		if err != nil {
			return nil, workflowerrors.NewPermanentError(fmt.Errorf("converting activity result: %w", err))
		}
	}

	errResult := r[len(r)-1]
	if errResult.IsNil() {
		return result, nil
	}

	errInterface, ok := errResult.Interface().(error)
	if !ok {
		return nil, workflowerrors.NewPermanentError(
			fmt.Errorf("activity error result does not satisfy error interface (%T): %v", errResult, errResult))
	}

	return result, errInterface
}

func (e *Executor) callActivity(fn reflect.Value, args []reflect.Value) (r []reflect.Value, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = workflowerrors.NewPanicError(fmt.Sprintf("panic in activity: %v", rec))
		}
	}()

	r = fn.Call(args)
	if len(r) < 1 || len(r) > 2 {
		return nil, errors.New("activity has to return either (error) or (<result>, error)")
	}

	return r, nil
}
