package workflow

import (
	"math"
	"time"

	"github.com/atlasflow/durable/internal/sync"
	"github.com/atlasflow/durable/internal/workflowerrors"
)

type RetryOptions struct {
	// Maximum number of attempts, including the first one. 0 retries forever.
	MaxAttempts int

	// Time to wait before the first retry
	FirstRetryInterval time.Duration

	// Maximum delay for any individual retry attempt
	MaxRetryInterval time.Duration

	// Coefficient for calculating the next retry delay
	BackoffCoefficient float64

	// Total time after the first attempt after which retries are abandoned.
	// 0 means no limit.
	RetryTimeout time.Duration
}

var DefaultRetryOptions = RetryOptions{
	MaxAttempts:        3,
	FirstRetryInterval: 1 * time.Second,
	BackoffCoefficient: 2,
}

// NextDelay returns the delay before the next attempt after attempt failed.
// elapsed is the time since the first attempt started. The second return value
// is false when no further attempt should be made.
func NextDelay(o RetryOptions, attempt int, elapsed time.Duration) (time.Duration, bool) {
	if o.MaxAttempts > 0 && attempt >= o.MaxAttempts {
		return 0, false
	}

	if o.RetryTimeout > 0 && elapsed >= o.RetryTimeout {
		return 0, false
	}

	delay := time.Duration(float64(o.FirstRetryInterval) * math.Pow(o.BackoffCoefficient, float64(attempt-1)))
	if o.MaxRetryInterval > 0 && delay > o.MaxRetryInterval {
		delay = o.MaxRetryInterval
	}

	return delay, true
}

// withRetries wraps fn in a retry loop. Retry delays go through workflow timers,
// so the whole loop replays deterministically.
func withRetries[T any](ctx sync.Context, retryOptions RetryOptions, fn func(ctx sync.Context, attempt int) Future[T]) Future[T] {
	if retryOptions.MaxAttempts == 1 {
		return fn(ctx, 1)
	}

	r := sync.NewFuture[T]()

	sync.Go(ctx, func(ctx sync.Context) {
		firstAttempt := Now(ctx)

		var result T
		var err error

		for attempt := 1; ; attempt++ {
			result, err = fn(ctx, attempt).Get(ctx)
			if err == nil {
				break
			}

			if err == sync.Canceled {
				break
			}

			if !workflowerrors.CanRetry(err) {
				break
			}

			delay, retry := NextDelay(retryOptions, attempt, Now(ctx).Sub(firstAttempt))
			if !retry {
				break
			}

			if delay > 0 {
				if serr := Sleep(ctx, delay); serr != nil {
					r.Set(*new(T), serr)
					return
				}
			}
		}

		r.Set(result, err)
	})

	return r
}
