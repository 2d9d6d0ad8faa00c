package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atlasflow/durable/internal/sync"
)

func registryWorkflow(ctx sync.Context) error {
	return nil
}

func registryWorkflowWithResult(ctx sync.Context, name string) (string, error) {
	return name, nil
}

func registryActivity(ctx context.Context, a, b int) (int, error) {
	return a + b, nil
}

func Test_RegisterWorkflow(t *testing.T) {
	r := New()

	require.NoError(t, r.RegisterWorkflow(registryWorkflow))
	require.NoError(t, r.RegisterWorkflow(registryWorkflowWithResult))

	wf, err := r.GetWorkflow("registryWorkflow")
	require.NoError(t, err)
	require.NotNil(t, wf)

	_, err = r.GetWorkflow("unknown")
	require.Error(t, err)
}

func Test_RegisterWorkflow_CustomName(t *testing.T) {
	r := New()

	require.NoError(t, r.RegisterWorkflow(registryWorkflow, WithName("custom")))

	wf, err := r.GetWorkflow("custom")
	require.NoError(t, err)
	require.NotNil(t, wf)

	_, err = r.GetWorkflow("registryWorkflow")
	require.Error(t, err)
}

func Test_RegisterWorkflow_Duplicate(t *testing.T) {
	r := New()

	require.NoError(t, r.RegisterWorkflow(registryWorkflow))

	err := r.RegisterWorkflow(registryWorkflow)
	var alreadyRegistered *ErrWorkflowAlreadyRegistered
	require.ErrorAs(t, err, &alreadyRegistered)
}

func Test_RegisterWorkflow_Invalid(t *testing.T) {
	r := New()

	tests := []struct {
		name     string
		workflow any
	}{
		{"not a function", 42},
		{"no parameters", func() error { return nil }},
		{"wrong context type", func(ctx context.Context) error { return nil }},
		{"no return values", func(ctx sync.Context) {}},
		{"error not last", func(ctx sync.Context) (error, string) { return nil, "" }},
		{"too many return values", func(ctx sync.Context) (string, int, error) { return "", 0, nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.RegisterWorkflow(tt.workflow)
			var invalid *ErrInvalidWorkflow
			require.ErrorAs(t, err, &invalid)
		})
	}
}

func Test_RegisterActivity(t *testing.T) {
	r := New()

	require.NoError(t, r.RegisterActivity(registryActivity))

	a, err := r.GetActivity("registryActivity")
	require.NoError(t, err)
	require.NotNil(t, a)

	_, err = r.GetActivity("unknown")
	require.Error(t, err)
}

func Test_RegisterActivity_Duplicate(t *testing.T) {
	r := New()

	require.NoError(t, r.RegisterActivity(registryActivity))

	err := r.RegisterActivity(registryActivity)
	var alreadyRegistered *ErrActivityAlreadyRegistered
	require.ErrorAs(t, err, &alreadyRegistered)
}

func Test_RegisterActivity_Invalid(t *testing.T) {
	r := New()

	err := r.RegisterActivity(func(ctx context.Context) {})
	var invalid *ErrInvalidActivity
	require.ErrorAs(t, err, &invalid)
}

type activities struct {
	Prefix string
}

func (a *activities) Greet(ctx context.Context, name string) (string, error) {
	return a.Prefix + name, nil
}

func (a *activities) Echo(ctx context.Context, msg string) (string, error) {
	return msg, nil
}

func (a *activities) helper() {}

func Test_RegisterActivity_Struct(t *testing.T) {
	r := New()

	require.NoError(t, r.RegisterActivity(&activities{Prefix: "Hello "}))

	greet, err := r.GetActivity("Greet")
	require.NoError(t, err)

	result, err := greet.(func(context.Context, string) (string, error))(context.Background(), "world")
	require.NoError(t, err)
	require.Equal(t, "Hello world", result)

	_, err = r.GetActivity("Echo")
	require.NoError(t, err)

	_, err = r.GetActivity("helper")
	require.Error(t, err)
}
