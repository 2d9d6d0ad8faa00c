// Package worker runs registered workflows and activities against a backend.
package worker

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"

	"github.com/atlasflow/durable/backend"
	internal "github.com/atlasflow/durable/internal/worker"
	"github.com/atlasflow/durable/registry"
	"github.com/atlasflow/durable/workflow"
)

type Worker struct {
	backend backend.Backend

	registry *registry.Registry

	workers []worker
}

type worker interface {
	Start(context.Context) error
	WaitForCompletion() error
}

// New creates a worker that processes both workflow and activity tasks.
func New(backend backend.Backend, options *Options) *Worker {
	if options == nil {
		options = &DefaultOptions
	}

	r := registry.New()

	workflowWorker := newWorkflowWorker(backend, r, &options.WorkflowWorkerOptions)
	activityWorker := newActivityWorker(backend, r, &options.ActivityWorkerOptions)

	return &Worker{
		backend:  backend,
		registry: r,
		workers:  []worker{workflowWorker, activityWorker},
	}
}

// NewWorkflowWorker creates a worker that only processes workflow tasks.
func NewWorkflowWorker(backend backend.Backend, options *WorkflowWorkerOptions) *Worker {
	if options == nil {
		options = &DefaultOptions.WorkflowWorkerOptions
	}

	r := registry.New()

	return &Worker{
		backend:  backend,
		registry: r,
		workers:  []worker{newWorkflowWorker(backend, r, options)},
	}
}

// NewActivityWorker creates a worker that only processes activity tasks.
func NewActivityWorker(backend backend.Backend, options *ActivityWorkerOptions) *Worker {
	if options == nil {
		options = &DefaultOptions.ActivityWorkerOptions
	}

	r := registry.New()

	return &Worker{
		backend:  backend,
		registry: r,
		workers:  []worker{newActivityWorker(backend, r, options)},
	}
}

func newWorkflowWorker(b backend.Backend, r *registry.Registry, options *WorkflowWorkerOptions) worker {
	return internal.NewWorkflowWorker(b, r, internal.WorkflowWorkerOptions{
		WorkerOptions: internal.WorkerOptions{
			Pollers:           options.WorkflowPollers,
			PollingInterval:   options.WorkflowPollingInterval,
			MaxParallelTasks:  options.MaxParallelWorkflowTasks,
			HeartbeatInterval: options.WorkflowHeartbeatInterval,
			Queues:            options.WorkflowQueues,
		},
		WorkflowExecutorCache:     options.WorkflowExecutorCache,
		WorkflowExecutorCacheSize: options.WorkflowExecutorCacheSize,
		WorkflowExecutorCacheTTL:  options.WorkflowExecutorCacheTTL,
		MaxHistorySize:            options.MaxHistorySize,
	})
}

func newActivityWorker(b backend.Backend, r *registry.Registry, options *ActivityWorkerOptions) worker {
	return internal.NewActivityWorker(b, r, clock.New(), internal.WorkerOptions{
		Pollers:           options.ActivityPollers,
		PollingInterval:   options.ActivityPollingInterval,
		MaxParallelTasks:  options.MaxParallelActivityTasks,
		HeartbeatInterval: options.ActivityHeartbeatInterval,
		Queues:            options.ActivityQueues,
	})
}

// Start starts the worker.
//
// To stop the worker, cancel the context passed to Start. To wait for
// completion of the active tasks, call WaitForCompletion.
func (w *Worker) Start(ctx context.Context) error {
	for _, worker := range w.workers {
		if err := worker.Start(ctx); err != nil {
			return fmt.Errorf("starting worker: %w", err)
		}
	}

	return nil
}

// WaitForCompletion waits for all active tasks to complete.
func (w *Worker) WaitForCompletion() error {
	for _, worker := range w.workers {
		if err := worker.WaitForCompletion(); err != nil {
			return fmt.Errorf("waiting for worker completion: %w", err)
		}
	}

	return nil
}

// RegisterWorkflow registers a workflow with the worker's registry.
func (w *Worker) RegisterWorkflow(wf workflow.Workflow, opts ...registry.RegisterOption) error {
	return w.registry.RegisterWorkflow(wf, opts...)
}

// RegisterActivity registers an activity with the worker's registry.
func (w *Worker) RegisterActivity(a workflow.Activity, opts ...registry.RegisterOption) error {
	return w.registry.RegisterActivity(a, opts...)
}
