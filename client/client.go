// Package client starts, signals, cancels and observes workflow instances.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/atlasflow/durable/backend"
	"github.com/atlasflow/durable/backend/history"
	"github.com/atlasflow/durable/backend/metrics"
	"github.com/atlasflow/durable/core"
	a "github.com/atlasflow/durable/internal/args"
	"github.com/atlasflow/durable/internal/fn"
	"github.com/atlasflow/durable/internal/log"
	"github.com/atlasflow/durable/internal/metrickeys"
	"github.com/atlasflow/durable/internal/workflowerrors"
	"github.com/atlasflow/durable/workflow"
)

var ErrWorkflowCanceled = errors.New("workflow canceled")

type WorkflowInstanceOptions struct {
	// InstanceID for the new instance. A random one is generated when left
	// empty. Starting an instance while an open run with the same ID exists
	// fails with backend.ErrInstanceAlreadyExists.
	InstanceID string

	// Queue the instance's workflow and activity tasks are routed to. Defaults
	// to the default queue.
	Queue core.Queue
}

type Client struct {
	backend backend.Backend
	clock   clock.Clock
}

func New(backend backend.Backend) *Client {
	return &Client{
		backend: backend,
		clock:   clock.New(),
	}
}

// CreateWorkflowInstance creates a new workflow instance of the given workflow.
func (c *Client) CreateWorkflowInstance(ctx context.Context, options WorkflowInstanceOptions, wf workflow.Workflow, args ...any) (*workflow.Instance, error) {
	var workflowName string

	if name, ok := wf.(string); ok {
		workflowName = name
	} else {
		workflowName = fn.Name(wf)

		// Check arguments if the actual workflow function was given
		if err := a.ParamsMatch(wf, args...); err != nil {
			return nil, err
		}
	}

	inputs, err := a.ArgsToInputs(c.backend.Options().Converter, args...)
	if err != nil {
		return nil, fmt.Errorf("converting arguments: %w", err)
	}

	instanceID := options.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	queue := options.Queue
	if queue == "" {
		queue = core.QueueDefault
	}

	wfi := core.NewWorkflowInstance(instanceID, uuid.NewString())

	ctx, span := c.backend.Tracer().Start(ctx, fmt.Sprintf("CreateWorkflowInstance: %s", workflowName), trace.WithAttributes(
		attribute.String(log.InstanceIDKey, wfi.InstanceID),
		attribute.String(log.WorkflowNameKey, workflowName),
		attribute.String(log.QueueKey, string(queue)),
	))
	defer span.End()

	startedEvent := history.NewPendingEvent(
		c.clock.Now(),
		history.EventType_WorkflowExecutionStarted,
		&history.ExecutionStartedAttributes{
			Name:   workflowName,
			Queue:  queue,
			Inputs: inputs,
		})

	if err := c.backend.CreateWorkflowInstance(ctx, wfi, startedEvent); err != nil {
		return nil, fmt.Errorf("creating workflow instance: %w", err)
	}

	c.backend.Options().Logger.Debug(
		"Created workflow instance",
		log.InstanceIDKey, wfi.InstanceID,
		log.ExecutionIDKey, wfi.ExecutionID,
		log.WorkflowNameKey, workflowName,
	)

	c.backend.Metrics().Counter(metrickeys.WorkflowInstanceCreated, metrics.Tags{}, 1)

	return wfi, nil
}

// CancelWorkflowInstance requests cancellation of a running workflow instance.
// Cancellation is cooperative, the instance keeps running until its code
// observes the request.
func (c *Client) CancelWorkflowInstance(ctx context.Context, instance *workflow.Instance) error {
	ctx, span := c.backend.Tracer().Start(ctx, "CancelWorkflowInstance", trace.WithAttributes(
		attribute.String(log.InstanceIDKey, instance.InstanceID),
	))
	defer span.End()

	cancellationEvent := history.NewWorkflowCancellationEvent(c.clock.Now())
	return c.backend.CancelWorkflowInstance(ctx, instance, cancellationEvent)
}

// SignalWorkflow signals a running workflow instance.
func (c *Client) SignalWorkflow(ctx context.Context, instanceID string, name string, arg any) error {
	ctx, span := c.backend.Tracer().Start(ctx, "SignalWorkflow", trace.WithAttributes(
		attribute.String(log.InstanceIDKey, instanceID),
		attribute.String(log.SignalNameKey, name),
	))
	defer span.End()

	input, err := c.backend.Options().Converter.To(arg)
	if err != nil {
		return fmt.Errorf("converting arguments: %w", err)
	}

	signalEvent := history.NewPendingEvent(
		c.clock.Now(),
		history.EventType_SignalReceived,
		&history.SignalReceivedAttributes{
			Name: name,
			Arg:  input,
		},
	)

	if err := c.backend.SignalWorkflow(ctx, instanceID, signalEvent); err != nil {
		span.RecordError(err)
		return err
	}

	c.backend.Options().Logger.Debug("Signaled workflow instance", log.InstanceIDKey, instanceID)

	return nil
}

// WaitForWorkflowInstance waits for the given workflow instance to finish or
// until the given timeout has expired.
func (c *Client) WaitForWorkflowInstance(ctx context.Context, instance *workflow.Instance, timeout time.Duration) error {
	if timeout == 0 {
		timeout = time.Second * 20
	}

	ctx, span := c.backend.Tracer().Start(ctx, "WaitForWorkflowInstance", trace.WithAttributes(
		attribute.String(log.InstanceIDKey, instance.InstanceID),
	))
	defer span.End()

	b := backoff.ExponentialBackOff{
		InitialInterval:     time.Millisecond * 1,
		MaxInterval:         time.Second * 1,
		Multiplier:          1.5,
		RandomizationFactor: 0.5,
		MaxElapsedTime:      timeout,
		Stop:                backoff.Stop,
		Clock:               c.clock,
	}
	b.Reset()

	ticker := backoff.NewTicker(&b)
	defer ticker.Stop()

	for range ticker.C {
		s, err := c.backend.GetWorkflowInstanceState(ctx, instance)
		if err != nil {
			return fmt.Errorf("getting workflow state: %w", err)
		}

		if s == core.WorkflowInstanceStateFinished || s == core.WorkflowInstanceStateContinuedAsNew {
			return nil
		}
	}

	return errors.New("workflow did not finish in specified timeout")
}

// GetWorkflowResult returns the result of the given workflow instance. It first
// waits for the workflow to finish or until the given timeout has expired.
func GetWorkflowResult[T any](ctx context.Context, c *Client, instance *workflow.Instance, timeout time.Duration) (T, error) {
	b := c.backend

	ctx, span := b.Tracer().Start(ctx, "GetWorkflowResult", trace.WithAttributes(
		attribute.String(log.InstanceIDKey, instance.InstanceID),
	))
	defer span.End()

	if err := c.WaitForWorkflowInstance(ctx, instance, timeout); err != nil {
		return *new(T), fmt.Errorf("workflow did not finish in time: %w", err)
	}

	h, err := b.GetWorkflowInstanceHistory(ctx, instance, nil)
	if err != nil {
		return *new(T), fmt.Errorf("getting workflow history: %w", err)
	}

	// Iterate over history backwards, the result event is near the end
	for i := len(h) - 1; i >= 0; i-- {
		event := h[i]
		switch event.Type {
		case history.EventType_WorkflowExecutionFinished:
			a := event.Attributes.(*history.ExecutionCompletedAttributes)
			if a.Error != nil {
				wfErr := workflowerrors.ToError(a.Error)

				var canceledErr *workflowerrors.CanceledError
				if errors.As(wfErr, &canceledErr) {
					return *new(T), ErrWorkflowCanceled
				}

				return *new(T), wfErr
			}

			var r T
			if err := b.Options().Converter.From(a.Result, &r); err != nil {
				return *new(T), fmt.Errorf("converting result: %w", err)
			}

			return r, nil

		case history.EventType_WorkflowExecutionContinuedAsNew:
			a := event.Attributes.(*history.ExecutionContinuedAsNewAttributes)

			var r T
			if err := b.Options().Converter.From(a.Result, &r); err != nil {
				return *new(T), fmt.Errorf("converting result: %w", err)
			}

			return r, nil
		}
	}

	return *new(T), errors.New("workflow finished, but could not find result event")
}

// RemoveWorkflowInstance removes a finished workflow instance and its history
// from the backend.
func (c *Client) RemoveWorkflowInstance(ctx context.Context, instance *core.WorkflowInstance) error {
	ctx, span := c.backend.Tracer().Start(ctx, "RemoveWorkflowInstance", trace.WithAttributes(
		attribute.String(log.InstanceIDKey, instance.InstanceID),
	))
	defer span.End()

	return c.backend.RemoveWorkflowInstance(ctx, instance)
}
