package sync

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_WithCancel(t *testing.T) {
	s := NewScheduler()

	ctx, cancel := WithCancel(Background())

	var err error
	observed := false
	s.NewCoroutine(ctx, func(ctx Context) error {
		ctx.Done().Receive(ctx)
		observed = true
		err = ctx.Err()
		return nil
	})

	require.NoError(t, s.Execute())
	require.False(t, observed)

	cancel()

	require.NoError(t, s.Execute())
	require.True(t, observed)
	require.Equal(t, Canceled, err)
}

func Test_WithCancel_PropagatesToChildren(t *testing.T) {
	parent, cancel := WithCancel(Background())
	child, _ := WithCancel(parent)

	require.NoError(t, child.Err())

	cancel()

	require.Equal(t, Canceled, parent.Err())
	require.Equal(t, Canceled, child.Err())
}

func Test_WithCancel_ParentAlreadyCanceled(t *testing.T) {
	parent, cancel := WithCancel(Background())
	cancel()

	child, _ := WithCancel(parent)
	require.Equal(t, Canceled, child.Err())
}

func Test_NewDisconnectedContext(t *testing.T) {
	parent, cancel := WithCancel(Background())
	disconnected, _ := NewDisconnectedContext(parent)

	cancel()

	require.Equal(t, Canceled, parent.Err())
	require.NoError(t, disconnected.Err())
}

func Test_WithValue(t *testing.T) {
	type key int

	ctx := WithValue(Background(), key(0), "value")
	require.Equal(t, "value", ctx.Value(key(0)))
	require.Nil(t, ctx.Value(key(1)))

	// Values survive cancellation wrappers
	ctx, _ = WithCancel(ctx)
	require.Equal(t, "value", ctx.Value(key(0)))
}

func Test_Future_GetBlocksUntilSet(t *testing.T) {
	s := NewScheduler()

	f := NewFuture[string]()

	var v string
	s.NewCoroutine(Background(), func(ctx Context) error {
		v, _ = f.Get(ctx)
		return nil
	})

	require.NoError(t, s.Execute())
	require.Equal(t, 1, s.RunningCoroutines())

	require.NoError(t, f.Set("done", nil))
	require.True(t, f.Ready())
	require.Error(t, f.Set("again", nil))

	require.NoError(t, s.Execute())
	require.Equal(t, "done", v)
}
