package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/atlasflow/durable/backend"
	"github.com/atlasflow/durable/backend/history"
	"github.com/atlasflow/durable/backend/test"
	"github.com/atlasflow/durable/core"
)

func Test_MemoryBackend(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}

	test.BackendTest(t, func(options ...backend.BackendOption) backend.Backend {
		return NewMemoryBackend(options...)
	}, nil)
}

func Test_MemoryBackend_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}

	test.EndToEndBackendTest(t, func(options ...backend.BackendOption) backend.Backend {
		return NewMemoryBackend(options...)
	}, nil)
}

func Test_MemoryBackend_StaleLeaseHolderCannotComplete(t *testing.T) {
	ctx := context.Background()

	b := NewMemoryBackend(backend.WithWorkflowLockTimeout(time.Millisecond * 50))

	wfi := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
	started := history.NewPendingEvent(
		time.Now(), history.EventType_WorkflowExecutionStarted,
		&history.ExecutionStartedAttributes{Name: "workflow", Queue: core.QueueDefault})
	require.NoError(t, b.CreateWorkflowInstance(ctx, wfi, started))

	staleTask, err := b.GetWorkflowTask(ctx, []core.Queue{core.QueueDefault})
	require.NoError(t, err)
	require.NotNil(t, staleTask)

	time.Sleep(time.Millisecond * 100)

	// Lease expired and the task was re-issued
	task, err := b.GetWorkflowTask(ctx, []core.Queue{core.QueueDefault})
	require.NoError(t, err)
	require.NotNil(t, task)

	started.SequenceID = 1
	executed := []*history.Event{started}

	// The stale holder must not be able to write
	err = b.CompleteWorkflowTask(ctx, staleTask, core.WorkflowInstanceStateActive, executed, nil, nil, nil)
	require.ErrorIs(t, err, ErrLeaseExpired)

	// The current holder completes normally, events are journaled exactly once
	require.NoError(t, b.CompleteWorkflowTask(ctx, task, core.WorkflowInstanceStateActive, executed, nil, nil, nil))

	h, err := b.GetWorkflowInstanceHistory(ctx, wfi, nil)
	require.NoError(t, err)
	require.Len(t, h, 1)
}
