package workflowstate

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/atlasflow/durable/backend/converter"
	"github.com/atlasflow/durable/backend/payload"
	"github.com/atlasflow/durable/core"
	"github.com/atlasflow/durable/internal/command"
	"github.com/atlasflow/durable/internal/log"
	"github.com/atlasflow/durable/internal/sync"
)

type key int

var workflowCtxKey key

// DecodingSettable settles a pending future with a raw payload, decoding it
// using the converter the future was created with.
type DecodingSettable func(v payload.Payload, err error) error

// AsDecodingSettable wraps a typed future so the executor can settle it from a
// history event without knowing its type.
func AsDecodingSettable[T any](cv converter.Converter, name string, f sync.SettableFuture[T]) DecodingSettable {
	return func(v payload.Payload, err error) error {
		if err != nil {
			return f.Set(*new(T), err)
		}

		var t T
		if v != nil {
			if err := cv.From(v, &t); err != nil {
				return fmt.Errorf("decoding result for %s: %w", name, err)
			}
		}

		return f.Set(t, nil)
	}
}

type signalChannel struct {
	receive func(payload.Payload)
	channel any
}

type WfState struct {
	instance           *core.WorkflowInstance
	scheduleEventID    int64
	commands           []command.Command
	pendingFutures     map[int64]DecodingSettable
	pendingFutureNames map[int64]string
	pendingSignals     map[string][]payload.Payload
	signalChannels     map[string]*signalChannel
	replaying          bool
	queue              core.Queue

	clock clock.Clock
	time  time.Time

	logger *slog.Logger
}

func NewWorkflowState(instance *core.WorkflowInstance, logger *slog.Logger, clock clock.Clock) *WfState {
	state := &WfState{
		instance:           instance,
		commands:           []command.Command{},
		scheduleEventID:    1,
		pendingFutures:     map[int64]DecodingSettable{},
		pendingFutureNames: map[int64]string{},
		pendingSignals:     map[string][]payload.Payload{},
		signalChannels:     make(map[string]*signalChannel),
		clock:              clock,
	}

	state.logger = NewReplayLogger(
		state,
		logger.With(
			slog.String(log.InstanceIDKey, instance.InstanceID),
			slog.String(log.ExecutionIDKey, instance.ExecutionID),
		),
	)

	return state
}

func WorkflowState(ctx sync.Context) *WfState {
	return ctx.Value(workflowCtxKey).(*WfState)
}

func WithWorkflowState(ctx sync.Context, wfState *WfState) sync.Context {
	return sync.WithValue(ctx, workflowCtxKey, wfState)
}

func (wf *WfState) GetNextScheduleEventID() int64 {
	scheduleEventID := wf.scheduleEventID
	wf.scheduleEventID++
	return scheduleEventID
}

func (wf *WfState) TrackFuture(scheduleEventID int64, name string, f DecodingSettable) {
	wf.pendingFutures[scheduleEventID] = f
	wf.pendingFutureNames[scheduleEventID] = name
}

func (wf *WfState) FutureByScheduleEventID(scheduleEventID int64) (DecodingSettable, bool) {
	f, ok := wf.pendingFutures[scheduleEventID]
	return f, ok
}

func (wf *WfState) RemoveFuture(scheduleEventID int64) {
	delete(wf.pendingFutures, scheduleEventID)
	delete(wf.pendingFutureNames, scheduleEventID)
}

// PendingFutureNames is used for diagnostics when a workflow task finishes with
// futures still pending.
func (wf *WfState) PendingFutureNames() map[int64]string {
	return wf.pendingFutureNames
}

func (wf *WfState) HasPendingFutures() bool {
	return len(wf.pendingFutures) > 0
}

func (wf *WfState) Commands() []command.Command {
	return wf.commands
}

func (wf *WfState) AddCommand(cmd command.Command) {
	wf.commands = append(wf.commands, cmd)
}

func (wf *WfState) CommandByScheduleEventID(scheduleEventID int64) command.Command {
	for _, c := range wf.commands {
		if c.ID() == scheduleEventID {
			return c
		}
	}

	return nil
}

func (wf *WfState) RemoveCommand(cmd command.Command) {
	for i, c := range wf.commands {
		if c.ID() == cmd.ID() {
			wf.commands = append(wf.commands[:i], wf.commands[i+1:]...)
			return
		}
	}
}

func (wf *WfState) ClearCommands() {
	wf.commands = []command.Command{}
}

func (wf *WfState) SetReplaying(replaying bool) {
	wf.replaying = replaying
}

func (wf *WfState) Replaying() bool {
	return wf.replaying
}

// SetTime updates the workflow's logical clock. It only moves forward when a
// workflow task starts, so time reads are deterministic during replay.
func (wf *WfState) SetTime(t time.Time) {
	wf.time = t
}

func (wf *WfState) Time() time.Time {
	return wf.time
}

// SetQueue records the queue this instance runs on, so sub-workflows can
// inherit it when no explicit queue is given.
func (wf *WfState) SetQueue(queue core.Queue) {
	wf.queue = queue
}

func (wf *WfState) Queue() core.Queue {
	return wf.queue
}

func (wf *WfState) Instance() *core.WorkflowInstance {
	return wf.instance
}

func (wf *WfState) Logger() *slog.Logger {
	return wf.logger
}
