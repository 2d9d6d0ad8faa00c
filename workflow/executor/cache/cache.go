package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/atlasflow/durable/backend/metrics"
	"github.com/atlasflow/durable/core"
	"github.com/atlasflow/durable/internal/metrickeys"
	"github.com/atlasflow/durable/workflow/executor"
)

type lruCache struct {
	mc metrics.Client
	c  *ttlcache.Cache[string, executor.WorkflowExecutor]
}

// NewWorkflowExecutorLRUCache returns an executor cache with the given capacity.
// Entries expire after not being used for the given duration.
func NewWorkflowExecutorLRUCache(mc metrics.Client, size int, expiration time.Duration) *lruCache {
	c := ttlcache.New(
		ttlcache.WithCapacity[string, executor.WorkflowExecutor](uint64(size)),
		ttlcache.WithTTL[string, executor.WorkflowExecutor](expiration),
	)

	c.OnEviction(func(ctx context.Context, er ttlcache.EvictionReason, i *ttlcache.Item[string, executor.WorkflowExecutor]) {
		// Close the executor to allow it to clean up resources.
		i.Value().Close()

		reason := ""
		switch er {
		case ttlcache.EvictionReasonExpired:
			reason = "expired"
		case ttlcache.EvictionReasonCapacityReached:
			reason = "capacity"
		}

		mc.Counter(metrickeys.WorkflowInstanceCacheEviction, metrics.Tags{metrickeys.EvictionReason: reason}, 1)
	})

	return &lruCache{
		mc: mc,
		c:  c,
	}
}

func (lc *lruCache) Get(ctx context.Context, instance *core.WorkflowInstance) (executor.WorkflowExecutor, bool, error) {
	e := lc.c.Get(getKey(instance))
	if e != nil {
		return e.Value(), true, nil
	}

	return nil, false, nil
}

func (lc *lruCache) Store(ctx context.Context, instance *core.WorkflowInstance, executor executor.WorkflowExecutor) error {
	lc.c.Set(getKey(instance), executor, ttlcache.DefaultTTL)

	lc.mc.Gauge(metrickeys.WorkflowInstanceCacheSize, metrics.Tags{}, int64(lc.c.Len()))

	return nil
}

func (lc *lruCache) Evict(ctx context.Context, instance *core.WorkflowInstance) error {
	lc.c.Delete(getKey(instance))

	lc.mc.Gauge(metrickeys.WorkflowInstanceCacheSize, metrics.Tags{}, int64(lc.c.Len()))

	return nil
}

func (lc *lruCache) StartEviction(ctx context.Context) {
	go lc.c.Start()

	<-ctx.Done()

	lc.c.Stop()
}

// getKey includes the execution ID, a continued-as-new run must not reuse the
// predecessor's executor.
func getKey(instance *core.WorkflowInstance) string {
	return instance.InstanceID + "/" + instance.ExecutionID
}
