package test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/atlasflow/durable/backend"
	"github.com/atlasflow/durable/client"
	"github.com/atlasflow/durable/worker"
	"github.com/atlasflow/durable/workflow"
)

// EndToEndBackendTest runs complete workflows through a worker against the
// given backend.
func EndToEndBackendTest(t *testing.T, setup func(options ...backend.BackendOption) backend.Backend, teardown func(b backend.Backend)) {
	tests := []struct {
		name string
		f    func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker)
	}{
		{
			name: "SimpleWorkflow",
			f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker) {
				wf := func(ctx workflow.Context, msg string) (string, error) {
					return msg + " world", nil
				}
				register(t, ctx, w, []any{wf}, nil)

				output, err := runWorkflowWithResult[string](t, ctx, c, wf, "hello")

				require.NoError(t, err)
				require.Equal(t, "hello world", output)
			},
		},
		{
			name: "UnregisteredWorkflow",
			f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker) {
				wf := func(ctx workflow.Context, msg string) (string, error) {
					return msg + " world", nil
				}
				register(t, ctx, w, nil, nil)

				output, err := runWorkflowWithResult[string](t, ctx, c, wf, "hello")

				require.Zero(t, output)
				require.ErrorContains(t, err, "not found")
			},
		},
		{
			name: "ActivityWorkflow",
			f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker) {
				echo := func(ctx context.Context, msg string) (string, error) {
					return "ECHO: " + msg, nil
				}
				wf := func(ctx workflow.Context, msg string) (string, error) {
					return workflow.ExecuteActivity[string](ctx, workflow.DefaultActivityOptions, echo, msg).Get(ctx)
				}
				register(t, ctx, w, []any{wf}, []any{echo})

				output, err := runWorkflowWithResult[string](t, ctx, c, wf, "hello")

				require.NoError(t, err)
				require.Equal(t, "ECHO: hello", output)
			},
		},
		{
			name: "DummyWorkflow_AllActivitiesSucceed",
			f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker) {
				getTime, echo, work := dummyActivities(0, 50*time.Millisecond)
				wf := dummyWorkflow(getTime, echo, work, workflow.RetryOptions{MaxAttempts: 1})
				register(t, ctx, w, []any{wf}, []any{getTime, echo, work})

				result, err := runWorkflowWithResult[dummyResult](t, ctx, c, wf, "hi")

				require.NoError(t, err)
				require.Equal(t, "ECHO: hi", result.EchoResult)
				require.NotEmpty(t, result.StartTime)
				require.Equal(t, "work done", result.WorkResult)
			},
		},
		{
			name: "DummyWorkflow_WorkRecoversOnThirdAttempt",
			f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker) {
				var mu sync.Mutex
				workAttempts := 0

				getTime, echo, work := dummyActivities(2, 0)
				countingWork := func(ctx context.Context) (string, error) {
					mu.Lock()
					workAttempts++
					mu.Unlock()

					return work(ctx)
				}
				wf := dummyWorkflow(getTime, echo, countingWork, workflow.RetryOptions{
					MaxAttempts:        3,
					FirstRetryInterval: 20 * time.Millisecond,
					BackoffCoefficient: 2,
				})
				register(t, ctx, w, []any{wf}, []any{getTime, echo, countingWork})

				result, err := runWorkflowWithResult[dummyResult](t, ctx, c, wf, "hi")

				require.NoError(t, err)
				require.Equal(t, "ECHO: hi", result.EchoResult)
				require.Equal(t, "work done", result.WorkResult)

				mu.Lock()
				defer mu.Unlock()
				require.Equal(t, 3, workAttempts)
			},
		},
		{
			name: "DummyWorkflow_WorkExhaustsRetries",
			f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker) {
				getTime, echo, work := dummyActivities(-1, 0)
				wf := dummyWorkflow(getTime, echo, work, workflow.RetryOptions{
					MaxAttempts:        2,
					FirstRetryInterval: 20 * time.Millisecond,
					BackoffCoefficient: 2,
				})
				register(t, ctx, w, []any{wf}, []any{getTime, echo, work})

				result, err := runWorkflowWithResult[dummyResult](t, ctx, c, wf, "hi")

				require.Zero(t, result)
				require.ErrorContains(t, err, "work failed")
			},
		},
		{
			name: "ActivityRetry_TransientFailure",
			f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker) {
				var mu sync.Mutex
				attempts := 0

				flaky := func(ctx context.Context) (string, error) {
					mu.Lock()
					defer mu.Unlock()

					attempts++
					if attempts < 3 {
						return "", errors.New("transient")
					}

					return "recovered", nil
				}
				wf := func(ctx workflow.Context) (string, error) {
					return workflow.ExecuteActivity[string](ctx, workflow.ActivityOptions{
						RetryOptions: workflow.RetryOptions{
							MaxAttempts:        3,
							FirstRetryInterval: 50 * time.Millisecond,
							BackoffCoefficient: 2,
						},
					}, flaky).Get(ctx)
				}
				register(t, ctx, w, []any{wf}, []any{flaky})

				output, err := runWorkflowWithResult[string](t, ctx, c, wf)

				require.NoError(t, err)
				require.Equal(t, "recovered", output)

				mu.Lock()
				defer mu.Unlock()
				require.Equal(t, 3, attempts)
			},
		},
		{
			name: "ActivityRetry_BudgetExhausted",
			f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker) {
				var mu sync.Mutex
				var attemptTimes []time.Time

				failing := func(ctx context.Context) (string, error) {
					mu.Lock()
					defer mu.Unlock()

					attemptTimes = append(attemptTimes, time.Now())
					return "", errors.New("broken")
				}
				wf := func(ctx workflow.Context) (string, error) {
					return workflow.ExecuteActivity[string](ctx, workflow.ActivityOptions{
						RetryOptions: workflow.RetryOptions{
							MaxAttempts:        3,
							FirstRetryInterval: 100 * time.Millisecond,
							BackoffCoefficient: 2,
						},
					}, failing).Get(ctx)
				}
				register(t, ctx, w, []any{wf}, []any{failing})

				_, err := runWorkflowWithResult[string](t, ctx, c, wf)
				require.ErrorContains(t, err, "broken")

				// No further attempt after the budget is exhausted
				time.Sleep(500 * time.Millisecond)

				mu.Lock()
				defer mu.Unlock()
				require.Len(t, attemptTimes, 3)

				// Delays grow with the backoff coefficient
				require.GreaterOrEqual(t, attemptTimes[1].Sub(attemptTimes[0]), 100*time.Millisecond)
				require.GreaterOrEqual(t, attemptTimes[2].Sub(attemptTimes[1]), 200*time.Millisecond)
			},
		},
		{
			name: "ActivityPermanentErrorNotRetried",
			f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker) {
				var mu sync.Mutex
				attempts := 0

				broken := func(ctx context.Context) (string, error) {
					mu.Lock()
					defer mu.Unlock()

					attempts++
					return "", workflow.NewPermanentError(errors.New("bad input"))
				}
				wf := func(ctx workflow.Context) (string, error) {
					return workflow.ExecuteActivity[string](ctx, workflow.ActivityOptions{
						RetryOptions: workflow.RetryOptions{
							MaxAttempts:        5,
							FirstRetryInterval: 10 * time.Millisecond,
							BackoffCoefficient: 1,
						},
					}, broken).Get(ctx)
				}
				register(t, ctx, w, []any{wf}, []any{broken})

				_, err := runWorkflowWithResult[string](t, ctx, c, wf)
				require.ErrorContains(t, err, "bad input")

				mu.Lock()
				defer mu.Unlock()
				require.Equal(t, 1, attempts)
			},
		},
		{
			name: "Timer",
			f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker) {
				wf := func(ctx workflow.Context) (string, error) {
					if err := workflow.Sleep(ctx, 100*time.Millisecond); err != nil {
						return "", err
					}

					return "done", nil
				}
				register(t, ctx, w, []any{wf}, nil)

				start := time.Now()
				output, err := runWorkflowWithResult[string](t, ctx, c, wf)

				require.NoError(t, err)
				require.Equal(t, "done", output)
				require.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
			},
		},
		{
			name: "Signal",
			f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker) {
				wf := func(ctx workflow.Context) (string, error) {
					s := workflow.NewSignalChannel[string](ctx, "greeting")
					v, _ := s.Receive(ctx)

					return v, nil
				}
				register(t, ctx, w, []any{wf}, nil)

				instance := runWorkflow(t, ctx, c, wf)

				require.NoError(t, c.SignalWorkflow(ctx, instance.InstanceID, "greeting", "hey"))

				output, err := client.GetWorkflowResult[string](ctx, c, instance, 10*time.Second)
				require.NoError(t, err)
				require.Equal(t, "hey", output)
			},
		},
		{
			name: "Cancellation",
			f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker) {
				started := make(chan struct{})

				note := func(ctx context.Context) error {
					close(started)
					return nil
				}
				wf := func(ctx workflow.Context) (string, error) {
					if _, err := workflow.ExecuteActivity[any](ctx, workflow.DefaultActivityOptions, note).Get(ctx); err != nil {
						return "", err
					}

					if err := workflow.Sleep(ctx, 10*time.Second); err != nil {
						if err == workflow.Canceled {
							return "canceled", nil
						}

						return "", err
					}

					return "finished", nil
				}
				register(t, ctx, w, []any{wf}, []any{note})

				instance := runWorkflow(t, ctx, c, wf)

				<-started
				require.NoError(t, c.CancelWorkflowInstance(ctx, instance))

				output, err := client.GetWorkflowResult[string](ctx, c, instance, 10*time.Second)
				require.NoError(t, err)
				require.Equal(t, "canceled", output)
			},
		},
		{
			name: "CancellationPropagatedToClient",
			f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker) {
				started := make(chan struct{})

				note := func(ctx context.Context) error {
					close(started)
					return nil
				}
				wf := func(ctx workflow.Context) (string, error) {
					if _, err := workflow.ExecuteActivity[any](ctx, workflow.DefaultActivityOptions, note).Get(ctx); err != nil {
						return "", err
					}

					// Does not handle cancellation, Sleep's error bubbles up
					if err := workflow.Sleep(ctx, 10*time.Second); err != nil {
						return "", err
					}

					return "finished", nil
				}
				register(t, ctx, w, []any{wf}, []any{note})

				instance := runWorkflow(t, ctx, c, wf)

				<-started
				require.NoError(t, c.CancelWorkflowInstance(ctx, instance))

				output, err := client.GetWorkflowResult[string](ctx, c, instance, 10*time.Second)
				require.ErrorIs(t, err, client.ErrWorkflowCanceled)
				require.Zero(t, output)
			},
		},
		{
			name: "UnlimitedRetriesStoppedByCancellation",
			f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker) {
				var mu sync.Mutex
				attempts := 0

				failing := func(ctx context.Context) error {
					mu.Lock()
					defer mu.Unlock()

					attempts++
					return errors.New("still broken")
				}
				wf := func(ctx workflow.Context) (string, error) {
					_, err := workflow.ExecuteActivity[any](ctx, workflow.ActivityOptions{
						RetryOptions: workflow.RetryOptions{
							MaxAttempts:        0,
							FirstRetryInterval: 20 * time.Millisecond,
							BackoffCoefficient: 1,
						},
					}, failing).Get(ctx)
					if err == workflow.Canceled {
						return "gave up", nil
					}

					return "", err
				}
				register(t, ctx, w, []any{wf}, []any{failing})

				instance := runWorkflow(t, ctx, c, wf)

				// Let a few attempts happen, then cancel
				require.Eventually(t, func() bool {
					mu.Lock()
					defer mu.Unlock()
					return attempts >= 3
				}, 10*time.Second, 10*time.Millisecond)

				require.NoError(t, c.CancelWorkflowInstance(ctx, instance))

				output, err := client.GetWorkflowResult[string](ctx, c, instance, 10*time.Second)
				require.NoError(t, err)
				require.Equal(t, "gave up", output)
			},
		},
		{
			name: "SubWorkflow",
			f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker) {
				echo := func(ctx context.Context, msg string) (string, error) {
					return "ECHO: " + msg, nil
				}
				sub := func(ctx workflow.Context, msg string) (string, error) {
					return workflow.ExecuteActivity[string](ctx, workflow.DefaultActivityOptions, echo, msg).Get(ctx)
				}
				wf := func(ctx workflow.Context, msgs []string) ([]string, error) {
					instanceID := workflow.WorkflowInstance(ctx).InstanceID

					var results []string
					for i, msg := range msgs {
						r, err := workflow.CreateSubWorkflowInstance[string](ctx, workflow.SubWorkflowOptions{
							InstanceID: fmt.Sprintf("%s-child-%d", instanceID, i),
						}, sub, msg).Get(ctx)
						if err != nil {
							return nil, err
						}

						results = append(results, r)
					}

					return results, nil
				}
				register(t, ctx, w, []any{wf, sub}, []any{echo})

				output, err := runWorkflowWithResult[[]string](t, ctx, c, wf, []string{"one", "two"})

				require.NoError(t, err)
				require.Equal(t, []string{"ECHO: one", "ECHO: two"}, output)
			},
		},
		{
			name: "SubWorkflowFailurePropagates",
			f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker) {
				sub := func(ctx workflow.Context) (string, error) {
					return "", errors.New("sub failed")
				}
				wf := func(ctx workflow.Context) (string, error) {
					return workflow.CreateSubWorkflowInstance[string](ctx, workflow.DefaultSubWorkflowOptions, sub).Get(ctx)
				}
				register(t, ctx, w, []any{wf, sub}, nil)

				output, err := runWorkflowWithResult[string](t, ctx, c, wf)

				require.Zero(t, output)
				require.ErrorContains(t, err, "sub failed")
			},
		},
		{
			name: "ContinueAsNew",
			f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker) {
				done := make(chan int, 1)

				report := func(ctx context.Context, count int) error {
					done <- count
					return nil
				}
				wf := func(ctx workflow.Context, count int) (int, error) {
					if count < 3 {
						return 0, workflow.ContinueAsNew(ctx, count+1)
					}

					if _, err := workflow.ExecuteActivity[any](ctx, workflow.DefaultActivityOptions, report, count).Get(ctx); err != nil {
						return 0, err
					}

					return count, nil
				}
				register(t, ctx, w, []any{wf}, []any{report})

				instance := runWorkflow(t, ctx, c, wf, 0)

				// The final run carries the accumulated count
				select {
				case count := <-done:
					require.Equal(t, 3, count)
				case <-time.After(10 * time.Second):
					t.Fatal("workflow did not reach the final run in time")
				}

				// The original execution ends continued-as-new, which counts as
				// finished for waiting clients
				require.NoError(t, c.WaitForWorkflowInstance(ctx, instance, 10*time.Second))
			},
		},
		{
			name: "WorkflowRemovedAfterFinish",
			f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker) {
				wf := func(ctx workflow.Context) (string, error) {
					return "done", nil
				}
				register(t, ctx, w, []any{wf}, nil)

				instance := runWorkflow(t, ctx, c, wf)

				_, err := client.GetWorkflowResult[string](ctx, c, instance, 10*time.Second)
				require.NoError(t, err)

				require.NoError(t, c.RemoveWorkflowInstance(ctx, instance))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := setup()

			ctx, cancel := context.WithCancel(context.Background())

			c := client.New(b)
			w := worker.New(b, &worker.Options{
				WorkflowWorkerOptions: worker.WorkflowWorkerOptions{
					WorkflowPollers:           2,
					WorkflowPollingInterval:   10 * time.Millisecond,
					WorkflowHeartbeatInterval: 25 * time.Second,
					WorkflowQueues:            []workflow.Queue{workflow.QueueDefault},
					WorkflowExecutorCacheSize: 128,
					WorkflowExecutorCacheTTL:  10 * time.Second,
					MaxHistorySize:            10_000,
				},
				ActivityWorkerOptions: worker.ActivityWorkerOptions{
					ActivityPollers:           2,
					ActivityPollingInterval:   10 * time.Millisecond,
					ActivityHeartbeatInterval: 25 * time.Second,
					ActivityQueues:            []workflow.Queue{workflow.QueueDefault},
				},
			})

			tt.f(t, ctx, c, w)

			cancel()
			require.NoError(t, w.WaitForCompletion())

			if teardown != nil {
				teardown(b)
			}
		})
	}
}

type dummyResult struct {
	StartTime  string `json:"start_time"`
	EchoResult string `json:"echo_result"`
	WorkResult string `json:"work_result"`
	WorkflowID string `json:"workflow_id"`
}

// dummyActivities returns the three activities of the dummy workflow. The work
// activity fails its first failures attempts, -1 means it always fails.
func dummyActivities(failures int, workDuration time.Duration) (func(context.Context) (string, error), func(context.Context, string) (string, error), func(context.Context) (string, error)) {
	var mu sync.Mutex
	attempts := 0

	getTime := func(ctx context.Context) (string, error) {
		return time.Now().UTC().Format(time.RFC3339), nil
	}

	echo := func(ctx context.Context, msg string) (string, error) {
		return "ECHO: " + msg, nil
	}

	work := func(ctx context.Context) (string, error) {
		if workDuration > 0 {
			select {
			case <-time.After(workDuration):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		mu.Lock()
		defer mu.Unlock()

		attempts++
		if failures < 0 || attempts <= failures {
			return "", errors.New("work failed")
		}

		return "work done", nil
	}

	return getTime, echo, work
}

func dummyWorkflow(
	getTime func(context.Context) (string, error),
	echo func(context.Context, string) (string, error),
	work func(context.Context) (string, error),
	workRetries workflow.RetryOptions,
) func(workflow.Context, string) (dummyResult, error) {
	return func(ctx workflow.Context, msg string) (dummyResult, error) {
		startTime, err := workflow.ExecuteActivity[string](ctx, workflow.DefaultActivityOptions, getTime).Get(ctx)
		if err != nil {
			return dummyResult{}, err
		}

		echoResult, err := workflow.ExecuteActivity[string](ctx, workflow.DefaultActivityOptions, echo, msg).Get(ctx)
		if err != nil {
			return dummyResult{}, err
		}

		workResult, err := workflow.ExecuteActivity[string](ctx, workflow.ActivityOptions{
			RetryOptions: workRetries,
		}, work).Get(ctx)
		if err != nil {
			return dummyResult{}, err
		}

		return dummyResult{
			StartTime:  startTime,
			EchoResult: echoResult,
			WorkResult: workResult,
			WorkflowID: workflow.WorkflowInstance(ctx).InstanceID,
		}, nil
	}
}

func register(t *testing.T, ctx context.Context, w *worker.Worker, workflows []any, activities []any) {
	t.Helper()

	for _, wf := range workflows {
		require.NoError(t, w.RegisterWorkflow(wf))
	}

	for _, a := range activities {
		require.NoError(t, w.RegisterActivity(a))
	}

	require.NoError(t, w.Start(ctx))
}

func runWorkflow(t *testing.T, ctx context.Context, c *client.Client, wf any, inputs ...any) *workflow.Instance {
	t.Helper()

	instance, err := c.CreateWorkflowInstance(ctx, client.WorkflowInstanceOptions{
		InstanceID: uuid.NewString(),
	}, wf, inputs...)
	require.NoError(t, err)

	return instance
}

func runWorkflowWithResult[T any](t *testing.T, ctx context.Context, c *client.Client, wf any, inputs ...any) (T, error) {
	t.Helper()

	instance := runWorkflow(t, ctx, c, wf, inputs...)
	return client.GetWorkflowResult[T](ctx, c, instance, 10*time.Second)
}
