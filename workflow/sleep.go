package workflow

import (
	"time"
)

// Sleep pauses the workflow for the given duration. Durable, survives worker
// restarts.
func Sleep(ctx Context, d time.Duration) error {
	_, err := ScheduleTimer(ctx, d).Get(ctx)

	return err
}
