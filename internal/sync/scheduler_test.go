package sync

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Scheduler_RunsCoroutineToCompletion(t *testing.T) {
	s := NewScheduler()

	executed := false
	s.NewCoroutine(Background(), func(ctx Context) error {
		executed = true
		return nil
	})

	require.NoError(t, s.Execute())
	require.True(t, executed)
	require.Equal(t, 0, s.RunningCoroutines())
}

func Test_Scheduler_RunsCoroutinesInOrder(t *testing.T) {
	s := NewScheduler()

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		s.NewCoroutine(Background(), func(ctx Context) error {
			order = append(order, i)
			return nil
		})
	}

	require.NoError(t, s.Execute())
	require.Equal(t, []int{0, 1, 2}, order)
}

func Test_Scheduler_BlockedCoroutineStaysRegistered(t *testing.T) {
	s := NewScheduler()

	f := NewFuture[int]()

	var result int
	s.NewCoroutine(Background(), func(ctx Context) error {
		result, _ = f.Get(ctx)
		return nil
	})

	require.NoError(t, s.Execute())
	require.Equal(t, 1, s.RunningCoroutines())

	require.NoError(t, f.Set(42, nil))

	require.NoError(t, s.Execute())
	require.Equal(t, 0, s.RunningCoroutines())
	require.Equal(t, 42, result)
}

func Test_Scheduler_ReturnsCoroutineError(t *testing.T) {
	s := NewScheduler()

	s.NewCoroutine(Background(), func(ctx Context) error {
		return errors.New("expected")
	})

	err := s.Execute()
	require.EqualError(t, err, "expected")
}

func Test_Scheduler_NestedCoroutines(t *testing.T) {
	s := NewScheduler()

	f := NewFuture[int]()

	var result int
	s.NewCoroutine(Background(), func(ctx Context) error {
		Go(ctx, func(ctx Context) {
			f.Set(42, nil)
		})

		result, _ = f.Get(ctx)
		return nil
	})

	require.NoError(t, s.Execute())
	require.Equal(t, 0, s.RunningCoroutines())
	require.Equal(t, 42, result)
}

func Test_Scheduler_ExitAbandonsBlockedCoroutines(t *testing.T) {
	s := NewScheduler()

	f := NewFuture[int]()

	reached := false
	s.NewCoroutine(Background(), func(ctx Context) error {
		f.Get(ctx)
		reached = true
		return nil
	})

	require.NoError(t, s.Execute())
	require.Equal(t, 1, s.RunningCoroutines())

	s.Exit()

	require.False(t, reached)
}
