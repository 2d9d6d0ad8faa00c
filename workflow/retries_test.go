package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_NextDelay(t *testing.T) {
	defaults := RetryOptions{
		MaxAttempts:        3,
		FirstRetryInterval: time.Second,
		BackoffCoefficient: 2,
	}

	tests := []struct {
		name    string
		options RetryOptions
		attempt int
		elapsed time.Duration
		delay   time.Duration
		retry   bool
	}{
		{
			name:    "first retry waits the initial interval",
			options: defaults,
			attempt: 1,
			delay:   time.Second,
			retry:   true,
		},
		{
			name:    "second retry backs off",
			options: defaults,
			attempt: 2,
			delay:   time.Second * 2,
			retry:   true,
		},
		{
			name:    "no retry after the last attempt",
			options: defaults,
			attempt: 3,
			retry:   false,
		},
		{
			name: "delay is capped at the max interval",
			options: RetryOptions{
				MaxAttempts:        10,
				FirstRetryInterval: time.Second,
				MaxRetryInterval:   time.Second * 3,
				BackoffCoefficient: 2,
			},
			attempt: 5,
			delay:   time.Second * 3,
			retry:   true,
		},
		{
			name: "coefficient of one keeps the delay constant",
			options: RetryOptions{
				MaxAttempts:        5,
				FirstRetryInterval: time.Second,
				BackoffCoefficient: 1,
			},
			attempt: 4,
			delay:   time.Second,
			retry:   true,
		},
		{
			name: "zero max attempts retries forever",
			options: RetryOptions{
				FirstRetryInterval: time.Second,
				BackoffCoefficient: 1,
			},
			attempt: 100_000,
			delay:   time.Second,
			retry:   true,
		},
		{
			name: "retry timeout bounds the overall duration",
			options: RetryOptions{
				MaxAttempts:        10,
				FirstRetryInterval: time.Second,
				BackoffCoefficient: 2,
				RetryTimeout:       time.Second * 5,
			},
			attempt: 2,
			elapsed: time.Second * 6,
			retry:   false,
		},
		{
			name: "within the retry timeout",
			options: RetryOptions{
				MaxAttempts:        10,
				FirstRetryInterval: time.Second,
				BackoffCoefficient: 2,
				RetryTimeout:       time.Second * 5,
			},
			attempt: 2,
			elapsed: time.Second * 2,
			delay:   time.Second * 2,
			retry:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delay, retry := NextDelay(tt.options, tt.attempt, tt.elapsed)
			require.Equal(t, tt.retry, retry)
			if tt.retry {
				require.Equal(t, tt.delay, delay)
			}
		})
	}
}
