package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/atlasflow/durable/backend"
	"github.com/atlasflow/durable/backend/memory"
	"github.com/atlasflow/durable/client"
	"github.com/atlasflow/durable/worker"
	"github.com/atlasflow/durable/workflow"
)

// DummyResult is the result of the dummy workflow.
type DummyResult struct {
	StartTime  string `json:"start_time"`
	EchoResult string `json:"echo_result"`
	WorkResult string `json:"work_result"`
	WorkflowID string `json:"workflow_id"`
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := memory.NewMemoryBackend()

	go runWorker(ctx, b)

	c := client.New(b)

	// Single workflow
	wf, err := c.CreateWorkflowInstance(ctx, client.WorkflowInstanceOptions{
		InstanceID: "dummy-" + uuid.NewString(),
	}, DummyWorkflow, "Hello world", time.Second)
	if err != nil {
		log.Fatal("could not start workflow", err)
	}

	result, err := client.GetWorkflowResult[DummyResult](ctx, c, wf, time.Second*30)
	if err != nil {
		log.Fatal("could not get workflow result", err)
	}

	fmt.Printf("DummyWorkflow result: %+v\n", result)

	// Chained workflow with one sub-workflow per message
	wf, err = c.CreateWorkflowInstance(ctx, client.WorkflowInstanceOptions{
		InstanceID: "chained-" + uuid.NewString(),
	}, ChainedDummyWorkflow, []string{"one", "two", "three"})
	if err != nil {
		log.Fatal("could not start workflow", err)
	}

	results, err := client.GetWorkflowResult[[]DummyResult](ctx, c, wf, time.Second*30)
	if err != nil {
		log.Fatal("could not get workflow result", err)
	}

	for _, r := range results {
		fmt.Printf("ChainedDummyWorkflow result: %+v\n", r)
	}
}

func runWorker(ctx context.Context, b backend.Backend) {
	w := worker.New(b, nil)

	w.RegisterWorkflow(DummyWorkflow)
	w.RegisterWorkflow(ChainedDummyWorkflow)
	w.RegisterActivity(GetCurrentTime)
	w.RegisterActivity(EchoMessage)
	w.RegisterActivity(SimulateWork)

	if err := w.Start(ctx); err != nil {
		panic("could not start worker")
	}
}

// DummyWorkflow chains three activities: read the current time, echo a
// message and simulate some work.
func DummyWorkflow(ctx workflow.Context, msg string, workDuration time.Duration) (DummyResult, error) {
	logger := workflow.Logger(ctx)
	logger.Debug("Entering DummyWorkflow", "msg", msg)

	startTime, err := workflow.ExecuteActivity[string](ctx, workflow.ActivityOptions{
		RetryOptions: workflow.RetryOptions{
			MaxAttempts:        3,
			FirstRetryInterval: time.Second,
			BackoffCoefficient: 2,
		},
	}, GetCurrentTime).Get(ctx)
	if err != nil {
		return DummyResult{}, fmt.Errorf("getting current time: %w", err)
	}

	echoResult, err := workflow.ExecuteActivity[string](ctx, workflow.ActivityOptions{
		RetryOptions: workflow.RetryOptions{
			MaxAttempts:        3,
			FirstRetryInterval: time.Second,
			BackoffCoefficient: 2,
		},
	}, EchoMessage, msg).Get(ctx)
	if err != nil {
		return DummyResult{}, fmt.Errorf("echoing message: %w", err)
	}

	workResult, err := workflow.ExecuteActivity[string](ctx, workflow.ActivityOptions{
		RetryOptions: workflow.RetryOptions{
			MaxAttempts:        2,
			FirstRetryInterval: time.Second,
			MaxRetryInterval:   time.Second * 10,
			BackoffCoefficient: 2,
		},
	}, SimulateWork, workDuration).Get(ctx)
	if err != nil {
		return DummyResult{}, fmt.Errorf("simulating work: %w", err)
	}

	return DummyResult{
		StartTime:  startTime,
		EchoResult: echoResult,
		WorkResult: workResult,
		WorkflowID: workflow.WorkflowInstance(ctx).InstanceID,
	}, nil
}

// ChainedDummyWorkflow runs one DummyWorkflow sub-workflow per message and
// collects the results in order.
func ChainedDummyWorkflow(ctx workflow.Context, messages []string) ([]DummyResult, error) {
	logger := workflow.Logger(ctx)
	logger.Debug("Entering ChainedDummyWorkflow", "messages", len(messages))

	instanceID := workflow.WorkflowInstance(ctx).InstanceID

	results := make([]DummyResult, 0, len(messages))
	for i, msg := range messages {
		r, err := workflow.CreateSubWorkflowInstance[DummyResult](ctx, workflow.SubWorkflowOptions{
			InstanceID: fmt.Sprintf("%s-child-%d", instanceID, i),
		}, DummyWorkflow, msg, time.Millisecond*100).Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("running sub-workflow %d: %w", i, err)
		}

		results = append(results, r)
	}

	return results, nil
}

func GetCurrentTime(ctx context.Context) (string, error) {
	return time.Now().UTC().Format(time.RFC3339), nil
}

func EchoMessage(ctx context.Context, msg string) (string, error) {
	return "ECHO: " + msg, nil
}

func SimulateWork(ctx context.Context, duration time.Duration) (string, error) {
	select {
	case <-time.After(duration):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	return fmt.Sprintf("worked for %s", duration), nil
}
