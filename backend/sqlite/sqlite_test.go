package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/atlasflow/durable/backend"
	"github.com/atlasflow/durable/backend/history"
	"github.com/atlasflow/durable/backend/test"
	"github.com/atlasflow/durable/core"
)

func Test_SqliteBackend(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}

	test.BackendTest(t, func(options ...backend.BackendOption) backend.Backend {
		return NewInMemoryBackend(WithBackendOptions(options...))
	}, func(b backend.Backend) {
		require.NoError(t, b.Close())
	})
}

func Test_SqliteBackend_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}

	test.EndToEndBackendTest(t, func(options ...backend.BackendOption) backend.Backend {
		return NewInMemoryBackend(WithBackendOptions(options...))
	}, func(b backend.Backend) {
		require.NoError(t, b.Close())
	})
}

func Test_SqliteBackend_StaleWorkerCannotComplete(t *testing.T) {
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "test.sqlite")

	b1 := NewSqliteBackend(path,
		WithWorkerName("worker-1"),
		WithBackendOptions(backend.WithWorkflowLockTimeout(time.Millisecond*50)))
	defer b1.Close()

	b2 := NewSqliteBackend(path,
		WithWorkerName("worker-2"),
		WithBackendOptions(backend.WithWorkflowLockTimeout(time.Millisecond*50)))
	defer b2.Close()

	wfi := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
	started := history.NewPendingEvent(
		time.Now(), history.EventType_WorkflowExecutionStarted,
		&history.ExecutionStartedAttributes{Name: "workflow", Queue: core.QueueDefault})
	require.NoError(t, b1.CreateWorkflowInstance(ctx, wfi, started))

	staleTask, err := b1.GetWorkflowTask(ctx, []core.Queue{core.QueueDefault})
	require.NoError(t, err)
	require.NotNil(t, staleTask)

	time.Sleep(time.Millisecond * 100)

	// Lease expired, another worker picks up the task
	task, err := b2.GetWorkflowTask(ctx, []core.Queue{core.QueueDefault})
	require.NoError(t, err)
	require.NotNil(t, task)

	started.SequenceID = 1
	executed := []*history.Event{started}

	// The stale worker's completion must fail and leave no writes behind
	err = b1.CompleteWorkflowTask(ctx, staleTask, core.WorkflowInstanceStateActive, executed, nil, nil, nil)
	require.Error(t, err)

	h, err := b1.GetWorkflowInstanceHistory(ctx, wfi, nil)
	require.NoError(t, err)
	require.Len(t, h, 0)

	// The current lease holder completes normally
	require.NoError(t, b2.CompleteWorkflowTask(ctx, task, core.WorkflowInstanceStateActive, executed, nil, nil, nil))

	h, err = b1.GetWorkflowInstanceHistory(ctx, wfi, nil)
	require.NoError(t, err)
	require.Len(t, h, 1)
}
