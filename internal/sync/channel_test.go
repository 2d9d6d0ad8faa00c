package sync

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Channel_BufferedSendReceive(t *testing.T) {
	s := NewScheduler()

	c := NewBufferedChannel[int](2)

	var received []int
	s.NewCoroutine(Background(), func(ctx Context) error {
		c.Send(ctx, 1)
		c.Send(ctx, 2)

		v, _ := c.Receive(ctx)
		received = append(received, v)
		v, _ = c.Receive(ctx)
		received = append(received, v)

		return nil
	})

	require.NoError(t, s.Execute())
	require.Equal(t, []int{1, 2}, received)
}

func Test_Channel_UnbufferedSendBlocksUntilReceive(t *testing.T) {
	s := NewScheduler()

	c := NewChannel[int]()

	sent := false
	s.NewCoroutine(Background(), func(ctx Context) error {
		c.Send(ctx, 42)
		sent = true
		return nil
	})

	require.NoError(t, s.Execute())
	require.False(t, sent)
	require.Equal(t, 1, s.RunningCoroutines())

	var received int
	s.NewCoroutine(Background(), func(ctx Context) error {
		received, _ = c.Receive(ctx)
		return nil
	})

	require.NoError(t, s.Execute())
	require.True(t, sent)
	require.Equal(t, 42, received)
	require.Equal(t, 0, s.RunningCoroutines())
}

func Test_Channel_ReceiveBlocksUntilSend(t *testing.T) {
	s := NewScheduler()

	c := NewChannel[string]()

	var received string
	s.NewCoroutine(Background(), func(ctx Context) error {
		received, _ = c.Receive(ctx)
		return nil
	})

	require.NoError(t, s.Execute())
	require.Equal(t, 1, s.RunningCoroutines())

	s.NewCoroutine(Background(), func(ctx Context) error {
		c.Send(ctx, "hello")
		return nil
	})

	require.NoError(t, s.Execute())
	require.Equal(t, "hello", received)
}

func Test_Channel_CloseUnblocksReceivers(t *testing.T) {
	s := NewScheduler()

	c := NewChannel[int]()

	var ok bool
	s.NewCoroutine(Background(), func(ctx Context) error {
		_, ok = c.Receive(ctx)
		return nil
	})

	require.NoError(t, s.Execute())
	require.Equal(t, 1, s.RunningCoroutines())

	c.Close()

	require.NoError(t, s.Execute())
	require.Equal(t, 0, s.RunningCoroutines())
	require.False(t, ok)
}

func Test_Channel_SendNonBlocking(t *testing.T) {
	c := NewBufferedChannel[int](1)

	require.True(t, c.SendNonBlocking(1))
	require.False(t, c.SendNonBlocking(2))

	v, ok := c.ReceiveNonBlocking()
	require.True(t, ok)
	require.Equal(t, 1, v)

	_, ok = c.ReceiveNonBlocking()
	require.False(t, ok)
}

func Test_Channel_InternalReceiveNonBlocking(t *testing.T) {
	c := NewBufferedChannel[int](1)

	// Narrow to the internal interface, the way cancellation checks do before
	// draining a Done channel
	ci := c.(ChannelInternal[int])

	_, ok := ci.ReceiveNonBlocking()
	require.False(t, ok)

	require.True(t, c.SendNonBlocking(42))

	v, ok := ci.ReceiveNonBlocking()
	require.True(t, ok)
	require.Equal(t, 42, v)
}

func Test_Channel_AddReceiveCallback(t *testing.T) {
	c := NewChannel[int]()

	var got int
	var closed bool
	c.(ChannelInternal[int]).AddReceiveCallback(func(v int, ok bool) {
		got = v
		closed = !ok
	})

	require.True(t, c.SendNonBlocking(42))
	require.Equal(t, 42, got)
	require.False(t, closed)

	// A callback added after close fires immediately
	c.Close()
	fired := false
	c.(ChannelInternal[int]).AddReceiveCallback(func(v int, ok bool) {
		fired = true
		require.False(t, ok)
	})
	require.True(t, fired)
}
