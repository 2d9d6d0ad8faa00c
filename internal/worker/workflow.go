package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/atlasflow/durable/backend"
	"github.com/atlasflow/durable/backend/metrics"
	"github.com/atlasflow/durable/core"
	"github.com/atlasflow/durable/internal/metrickeys"
	"github.com/atlasflow/durable/registry"
	"github.com/atlasflow/durable/workflow/executor"
	"github.com/atlasflow/durable/workflow/executor/cache"
)

type WorkflowWorkerOptions struct {
	WorkerOptions

	WorkflowExecutorCache     executor.ExecutorCache
	WorkflowExecutorCacheSize int
	WorkflowExecutorCacheTTL  time.Duration

	MaxHistorySize int64
}

func NewWorkflowWorker(
	b backend.Backend,
	r *registry.Registry,
	options WorkflowWorkerOptions,
) *Worker[backend.WorkflowTask, executor.ExecutionResult] {
	if options.WorkflowExecutorCache == nil {
		options.WorkflowExecutorCache = cache.NewWorkflowExecutorLRUCache(
			b.Metrics(), options.WorkflowExecutorCacheSize, options.WorkflowExecutorCacheTTL)
	}

	tw := &WorkflowTaskWorker{
		backend:        b,
		registry:       r,
		cache:          options.WorkflowExecutorCache,
		maxHistorySize: options.MaxHistorySize,
		clock:          clock.New(),
	}

	return NewWorker(b, tw, &options.WorkerOptions)
}

type WorkflowTaskWorker struct {
	backend        backend.Backend
	registry       *registry.Registry
	cache          executor.ExecutorCache
	maxHistorySize int64
	clock          clock.Clock
}

func (wtw *WorkflowTaskWorker) Start(ctx context.Context) error {
	go wtw.cache.StartEviction(ctx)

	return nil
}

func (wtw *WorkflowTaskWorker) Get(ctx context.Context, queues []core.Queue) (*backend.WorkflowTask, error) {
	t, err := wtw.backend.GetWorkflowTask(ctx, queues)
	if err != nil {
		return nil, err
	}

	if t != nil && len(t.NewEvents) > 0 {
		// Record how long the oldest triggering event waited in the queue
		timeInQueue := wtw.clock.Since(t.NewEvents[0].Timestamp)
		wtw.backend.Metrics().Distribution(
			metrickeys.WorkflowTaskDelay, metrics.Tags{}, float64(timeInQueue/time.Millisecond))
	}

	return t, nil
}

func (wtw *WorkflowTaskWorker) Extend(ctx context.Context, t *backend.WorkflowTask) error {
	return wtw.backend.ExtendWorkflowTask(ctx, t)
}

func (wtw *WorkflowTaskWorker) Execute(ctx context.Context, t *backend.WorkflowTask) (*executor.ExecutionResult, error) {
	timer := metrics.Timer(wtw.backend.Metrics(), metrickeys.WorkflowTaskProcessed, metrics.Tags{})
	defer timer.Stop()

	e, err := wtw.getExecutor(ctx, t)
	if err != nil {
		return nil, err
	}

	result, err := e.ExecuteTask(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("executing workflow task: %w", err)
	}

	if result.State != core.WorkflowInstanceStateActive {
		// Executors of finished or continued instances cannot process further
		// tasks, drop them from the cache.
		if err := wtw.cache.Evict(ctx, t.WorkflowInstance); err != nil {
			return nil, fmt.Errorf("evicting workflow executor: %w", err)
		}

		e.Close()
	}

	return result, nil
}

func (wtw *WorkflowTaskWorker) Complete(ctx context.Context, result *executor.ExecutionResult, t *backend.WorkflowTask) error {
	state := result.State
	if state == core.WorkflowInstanceStateFinished || state == core.WorkflowInstanceStateContinuedAsNew {
		wtw.backend.Metrics().Counter(metrickeys.WorkflowInstanceFinished, metrics.Tags{}, 1)
	}

	if err := wtw.backend.CompleteWorkflowTask(
		ctx, t, state, result.Executed, result.ActivityEvents, result.TimerEvents, result.WorkflowEvents); err != nil {
		return fmt.Errorf("completing workflow task: %w", err)
	}

	return nil
}

func (wtw *WorkflowTaskWorker) getExecutor(ctx context.Context, t *backend.WorkflowTask) (executor.WorkflowExecutor, error) {
	e, ok, err := wtw.cache.Get(ctx, t.WorkflowInstance)
	if err != nil {
		return nil, fmt.Errorf("getting cached workflow executor: %w", err)
	}

	if !ok {
		e, err = executor.NewExecutor(
			wtw.backend.Options().Logger,
			wtw.backend.Tracer(),
			wtw.registry,
			wtw.backend.Options().Converter,
			wtw.backend,
			t.WorkflowInstance,
			wtw.clock,
			wtw.maxHistorySize,
		)
		if err != nil {
			return nil, fmt.Errorf("creating workflow executor: %w", err)
		}

		if err := wtw.cache.Store(ctx, t.WorkflowInstance, e); err != nil {
			return nil, fmt.Errorf("caching workflow executor: %w", err)
		}
	}

	return e, nil
}
