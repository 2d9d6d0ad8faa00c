package args

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atlasflow/durable/backend/converter"
	"github.com/atlasflow/durable/internal/sync"
)

func Test_ArgsToInputs(t *testing.T) {
	c := converter.DefaultConverter

	inputs, err := ArgsToInputs(c, 42, "hello", []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, inputs, 3)
}

func Test_InputsToArgs(t *testing.T) {
	c := converter.DefaultConverter

	fn := func(ctx context.Context, a int, b string) error { return nil }

	inputs, err := ArgsToInputs(c, 42, "hello")
	require.NoError(t, err)

	args, addContext, err := InputsToArgs(c, reflect.ValueOf(fn), inputs)
	require.NoError(t, err)
	require.True(t, addContext)
	require.Len(t, args, 3)
	require.Equal(t, 42, args[1].Interface())
	require.Equal(t, "hello", args[2].Interface())
}

func Test_InputsToArgs_WorkflowContext(t *testing.T) {
	c := converter.DefaultConverter

	fn := func(ctx sync.Context, a int) error { return nil }

	inputs, err := ArgsToInputs(c, 42)
	require.NoError(t, err)

	args, addContext, err := InputsToArgs(c, reflect.ValueOf(fn), inputs)
	require.NoError(t, err)
	require.True(t, addContext)
	require.Len(t, args, 2)
	require.Equal(t, 42, args[1].Interface())
}

func Test_InputsToArgs_MismatchedCount(t *testing.T) {
	c := converter.DefaultConverter

	fn := func(ctx context.Context, a int, b string) error { return nil }

	inputs, err := ArgsToInputs(c, 42)
	require.NoError(t, err)

	_, _, err = InputsToArgs(c, reflect.ValueOf(fn), inputs)
	require.Error(t, err)
}

func Test_ReturnTypeMatch(t *testing.T) {
	fn := func(ctx context.Context) (string, error) { return "", nil }

	require.NoError(t, ReturnTypeMatch[string](fn))
	require.Error(t, ReturnTypeMatch[int](fn))

	// Only an error is returned, the result type does not matter
	errOnly := func(ctx context.Context) error { return nil }
	require.NoError(t, ReturnTypeMatch[string](errOnly))
	require.NoError(t, ReturnTypeMatch[int](errOnly))
}

func Test_ParamsMatch(t *testing.T) {
	fn := func(ctx context.Context, a int, b string) error { return nil }

	require.NoError(t, ParamsMatch(fn, 42, "hello"))
	require.Error(t, ParamsMatch(fn, 42))
	require.Error(t, ParamsMatch(fn, 42, "hello", "extra"))
	require.Error(t, ParamsMatch(fn, "hello", []byte("no")))

	// nil arguments are not checked
	ptr := func(ctx context.Context, p *string) error { return nil }
	require.NoError(t, ParamsMatch(ptr, nil))
}
