package activity

import (
	"context"
	"log/slog"

	"github.com/atlasflow/durable/core"
	"github.com/atlasflow/durable/internal/log"
)

// ActivityState is made available to activity code through the context.
type ActivityState struct {
	ActivityID string
	Attempt    int
	Instance   *core.WorkflowInstance
	Logger     *slog.Logger
}

func NewActivityState(activityID string, attempt int, instance *core.WorkflowInstance, logger *slog.Logger) *ActivityState {
	return &ActivityState{
		ActivityID: activityID,
		Attempt:    attempt,
		Instance:   instance,
		Logger: logger.With(
			slog.String(log.ActivityIDKey, activityID),
			slog.Int(log.AttemptKey, attempt),
			slog.String(log.InstanceIDKey, instance.InstanceID),
			slog.String(log.ExecutionIDKey, instance.ExecutionID),
		),
	}
}

type key int

var activityCtxKey key

func WithActivityState(ctx context.Context, as *ActivityState) context.Context {
	return context.WithValue(ctx, activityCtxKey, as)
}

func GetActivityState(ctx context.Context) *ActivityState {
	return ctx.Value(activityCtxKey).(*ActivityState)
}
