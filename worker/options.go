package worker

import (
	"time"

	"github.com/atlasflow/durable/core"
	"github.com/atlasflow/durable/workflow/executor"
)

type Options struct {
	WorkflowWorkerOptions
	ActivityWorkerOptions
}

type WorkflowWorkerOptions struct {
	// WorkflowPollers is the number of pollers to start. Defaults to 2.
	WorkflowPollers int

	// MaxParallelWorkflowTasks determines the maximum number of concurrent
	// workflow tasks processed by the worker. The default is 0 which is no
	// limit.
	MaxParallelWorkflowTasks int

	// WorkflowHeartbeatInterval is the interval between lease extensions for
	// workflow tasks. Defaults to 25 seconds.
	WorkflowHeartbeatInterval time.Duration

	// WorkflowPollingInterval is the interval between polling for new workflow
	// tasks. Defaults to 200ms.
	WorkflowPollingInterval time.Duration

	// WorkflowQueues are the queues to poll workflow tasks from. Defaults to
	// the default queue.
	WorkflowQueues []core.Queue

	// WorkflowExecutorCacheSize is the max size of the workflow executor cache.
	// Defaults to 128.
	WorkflowExecutorCacheSize int

	// WorkflowExecutorCacheTTL is the max TTL of the workflow executor cache.
	// Defaults to 10 seconds.
	WorkflowExecutorCacheTTL time.Duration

	// WorkflowExecutorCache is the cache to use for workflow executors. If nil,
	// a default LRU cache is used.
	WorkflowExecutorCache executor.ExecutorCache

	// MaxHistorySize is the maximum number of events in a single workflow
	// history. Instances exceeding it are failed. Defaults to 10_000.
	MaxHistorySize int64
}

type ActivityWorkerOptions struct {
	// ActivityPollers is the number of pollers to start. Defaults to 2.
	ActivityPollers int

	// MaxParallelActivityTasks determines the maximum number of concurrent
	// activity tasks processed by the worker. The default is 0 which is no
	// limit.
	MaxParallelActivityTasks int

	// ActivityHeartbeatInterval is the interval between lease extensions for
	// activity tasks. Defaults to 25 seconds.
	ActivityHeartbeatInterval time.Duration

	// ActivityPollingInterval is the interval between polling for new activity
	// tasks. Defaults to 200ms.
	ActivityPollingInterval time.Duration

	// ActivityQueues are the queues to poll activity tasks from. Defaults to
	// the default queue.
	ActivityQueues []core.Queue
}

var DefaultOptions = Options{
	WorkflowWorkerOptions: WorkflowWorkerOptions{
		WorkflowPollers:           2,
		WorkflowPollingInterval:   200 * time.Millisecond,
		MaxParallelWorkflowTasks:  0,
		WorkflowHeartbeatInterval: 25 * time.Second,
		WorkflowQueues:            []core.Queue{core.QueueDefault},

		WorkflowExecutorCacheSize: 128,
		WorkflowExecutorCacheTTL:  time.Second * 10,
		WorkflowExecutorCache:     nil,

		MaxHistorySize: 10_000,
	},

	ActivityWorkerOptions: ActivityWorkerOptions{
		ActivityPollers:           2,
		ActivityPollingInterval:   200 * time.Millisecond,
		MaxParallelActivityTasks:  0,
		ActivityHeartbeatInterval: 25 * time.Second,
		ActivityQueues:            []core.Queue{core.QueueDefault},
	},
}
