// Package sqlite provides a durable backend on a single SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/atlasflow/durable/backend"
	"github.com/atlasflow/durable/backend/history"
	"github.com/atlasflow/durable/backend/metrics"
	"github.com/atlasflow/durable/core"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// NewInMemoryBackend creates a backend backed by an in-memory SQLite database,
// useful for tests and samples.
func NewInMemoryBackend(opts ...option) *sqliteBackend {
	b := newSqliteBackend("file::memory:?mode=memory", opts...)

	b.db.SetMaxOpenConns(1)

	return b
}

// NewSqliteBackend creates a backend backed by a SQLite database at the given path.
func NewSqliteBackend(path string, opts ...option) *sqliteBackend {
	return newSqliteBackend(fmt.Sprintf("file:%v?_pragma=busy_timeout(10000)&_pragma=journal_mode(wal)", path), opts...)
}

func newSqliteBackend(dsn string, opts ...option) *sqliteBackend {
	options := &options{
		Options:    backend.ApplyOptions(),
		WorkerName: fmt.Sprintf("worker-%v", uuid.NewString()),
	}

	for _, opt := range opts {
		opt(options)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		panic(err)
	}

	if _, err := db.Exec(schema); err != nil {
		panic(fmt.Errorf("initializing database: %w", err))
	}

	return &sqliteBackend{
		db:         db,
		workerName: options.WorkerName,
		options:    options,
	}
}

type sqliteBackend struct {
	db         *sql.DB
	workerName string
	options    *options
}

var _ backend.Backend = (*sqliteBackend)(nil)

func (sb *sqliteBackend) Tracer() trace.Tracer {
	return sb.options.TracerProvider.Tracer(backend.TracerName)
}

func (sb *sqliteBackend) Metrics() metrics.Client {
	return sb.options.Metrics
}

func (sb *sqliteBackend) Options() *backend.Options {
	return sb.options.Options
}

func (sb *sqliteBackend) Close() error {
	return sb.db.Close()
}

func (sb *sqliteBackend) CreateWorkflowInstance(ctx context.Context, instance *core.WorkflowInstance, event *history.Event) error {
	a, ok := event.Attributes.(*history.ExecutionStartedAttributes)
	if !ok {
		return fmt.Errorf("expected WorkflowExecutionStarted event, got %s", event.Type)
	}

	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := createInstance(ctx, tx, instance, a.Queue, false); err != nil {
		return err
	}

	// Initial history is empty, only the start event is pending
	if err := insertPendingEvents(ctx, tx, instance, []*history.Event{event}); err != nil {
		return fmt.Errorf("inserting start event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("creating workflow instance: %w", err)
	}

	return nil
}

func createInstance(ctx context.Context, tx *sql.Tx, wfi *core.WorkflowInstance, queue core.Queue, ignoreDuplicate bool) error {
	var parentInstanceID, parentExecutionID *string
	var parentEventID *int64
	if wfi.SubWorkflow() {
		i := wfi.Parent.InstanceID
		parentInstanceID = &i

		e := wfi.Parent.ExecutionID
		parentExecutionID = &e

		n := wfi.ParentEventID
		parentEventID = &n
	}

	// An instance ID may be reused once all previous runs reached a terminal state
	row := tx.QueryRowContext(
		ctx,
		"SELECT 1 FROM `instances` WHERE id = ? AND state = ? LIMIT 1",
		wfi.InstanceID,
		core.WorkflowInstanceStateActive,
	)
	var one int
	if err := row.Scan(&one); err != sql.ErrNoRows {
		if err != nil {
			return fmt.Errorf("checking for open runs: %w", err)
		}

		if ignoreDuplicate {
			return nil
		}

		return backend.ErrInstanceAlreadyExists
	}

	res, err := tx.ExecContext(
		ctx,
		"INSERT OR IGNORE INTO `instances` (id, execution_id, queue, parent_instance_id, parent_execution_id, parent_schedule_event_id) VALUES (?, ?, ?, ?, ?, ?)",
		wfi.InstanceID,
		wfi.ExecutionID,
		string(queue),
		parentInstanceID,
		parentExecutionID,
		parentEventID,
	)
	if err != nil {
		return fmt.Errorf("inserting workflow instance: %w", err)
	}

	if !ignoreDuplicate {
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}

		if rows != 1 {
			return backend.ErrInstanceAlreadyExists
		}
	}

	return nil
}

func (sb *sqliteBackend) CancelWorkflowInstance(ctx context.Context, instance *core.WorkflowInstance, cancelEvent *history.Event) error {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertPendingEvents(ctx, tx, instance, []*history.Event{cancelEvent}); err != nil {
		return fmt.Errorf("inserting cancellation event: %w", err)
	}

	// Recursively cancel any open sub-workflow instances
	instanceIDs := []string{instance.InstanceID}
	for len(instanceIDs) > 0 {
		instanceID := instanceIDs[0]
		instanceIDs = instanceIDs[1:]

		rows, err := tx.QueryContext(
			ctx,
			"SELECT id, execution_id FROM `instances` WHERE parent_instance_id = ? AND state = ?",
			instanceID,
			core.WorkflowInstanceStateActive,
		)
		if err != nil {
			return fmt.Errorf("finding sub-workflow instances: %w", err)
		}

		subInstances := make([]*core.WorkflowInstance, 0)
		for rows.Next() {
			var subInstanceID, subExecutionID string
			if err := rows.Scan(&subInstanceID, &subExecutionID); err != nil {
				rows.Close()
				return fmt.Errorf("scanning sub-workflow instance: %w", err)
			}

			subInstances = append(subInstances, core.NewWorkflowInstance(subInstanceID, subExecutionID))
		}
		rows.Close()

		for _, subInstance := range subInstances {
			event := history.NewWorkflowCancellationEvent(cancelEvent.Timestamp)
			if err := insertPendingEvents(ctx, tx, subInstance, []*history.Event{event}); err != nil {
				return fmt.Errorf("inserting cancellation event: %w", err)
			}

			instanceIDs = append(instanceIDs, subInstance.InstanceID)
		}
	}

	return tx.Commit()
}

func (sb *sqliteBackend) RemoveWorkflowInstance(ctx context.Context, instance *core.WorkflowInstance) error {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(
		ctx,
		"SELECT state FROM `instances` WHERE id = ? AND execution_id = ? LIMIT 1",
		instance.InstanceID,
		instance.ExecutionID,
	)

	var state core.WorkflowInstanceState
	if err := row.Scan(&state); err != nil {
		if err == sql.ErrNoRows {
			return backend.ErrInstanceNotFound
		}

		return fmt.Errorf("getting workflow instance: %w", err)
	}

	if state == core.WorkflowInstanceStateActive {
		return backend.ErrInstanceNotFinished
	}

	for _, table := range []string{"instances", "history", "pending_events", "activities"} {
		column := "instance_id"
		if table == "instances" {
			column = "id"
		}

		if _, err := tx.ExecContext(
			ctx,
			fmt.Sprintf("DELETE FROM `%s` WHERE %s = ? AND execution_id = ?", table, column),
			instance.InstanceID,
			instance.ExecutionID,
		); err != nil {
			return fmt.Errorf("removing instance data: %w", err)
		}
	}

	return tx.Commit()
}

func (sb *sqliteBackend) GetWorkflowInstanceState(ctx context.Context, instance *core.WorkflowInstance) (core.WorkflowInstanceState, error) {
	row := sb.db.QueryRowContext(
		ctx,
		"SELECT state FROM `instances` WHERE id = ? AND execution_id = ?",
		instance.InstanceID,
		instance.ExecutionID,
	)

	var state core.WorkflowInstanceState
	if err := row.Scan(&state); err != nil {
		if err == sql.ErrNoRows {
			return core.WorkflowInstanceStateActive, backend.ErrInstanceNotFound
		}

		return core.WorkflowInstanceStateActive, err
	}

	return state, nil
}

func (sb *sqliteBackend) GetWorkflowInstanceHistory(ctx context.Context, instance *core.WorkflowInstance, lastSequenceID *int64) ([]*history.Event, error) {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	h, err := getHistory(ctx, tx, instance, lastSequenceID)
	if err != nil {
		return nil, fmt.Errorf("getting workflow history: %w", err)
	}

	return h, nil
}

func (sb *sqliteBackend) SignalWorkflow(ctx context.Context, instanceID string, event *history.Event) error {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Signals are delivered to the open run of the instance
	row := tx.QueryRowContext(
		ctx,
		"SELECT execution_id FROM `instances` WHERE id = ? AND state = ? LIMIT 1",
		instanceID,
		core.WorkflowInstanceStateActive,
	)

	var executionID string
	if err := row.Scan(&executionID); err != nil {
		if err == sql.ErrNoRows {
			return backend.ErrInstanceNotFound
		}

		return fmt.Errorf("getting workflow instance: %w", err)
	}

	instance := core.NewWorkflowInstance(instanceID, executionID)
	if err := insertPendingEvents(ctx, tx, instance, []*history.Event{event}); err != nil {
		return fmt.Errorf("inserting signal event: %w", err)
	}

	return tx.Commit()
}

func (sb *sqliteBackend) GetWorkflowTask(ctx context.Context, queues []core.Queue) (*backend.WorkflowTask, error) {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Lock the next instance with new events to process. The driver does not
	// support LIMIT on UPDATE, work around that with a sub-query.
	now := time.Now()
	args := []any{
		now.Add(sb.options.WorkflowLockTimeout), // new locked_until
		sb.workerName,
		core.WorkflowInstanceStateActive,
		now,           // locked_until
		now,           // sticky_until
		sb.workerName, // worker
	}
	for _, q := range queues {
		args = append(args, string(q))
	}
	args = append(args, now) // event.visible_at

	row := tx.QueryRowContext(
		ctx,
		`UPDATE instances
			SET locked_until = ?, worker = ?
			WHERE rowid = (
				SELECT rowid FROM instances i
					WHERE
						state = ?
						AND (locked_until IS NULL OR locked_until < ?)
						AND (sticky_until IS NULL OR sticky_until < ? OR worker = ?)
						AND queue IN (?`+strings.Repeat(",?", len(queues)-1)+`)
						AND EXISTS (
							SELECT 1
								FROM pending_events
								WHERE instance_id = i.id AND execution_id = i.execution_id AND (visible_at IS NULL OR visible_at <= ?)
						)
					LIMIT 1
			) RETURNING id, execution_id, queue, parent_instance_id, parent_execution_id, parent_schedule_event_id`,
		args...,
	)

	var instanceID, executionID, queue string
	var parentInstanceID, parentExecutionID *string
	var parentEventID *int64
	if err := row.Scan(&instanceID, &executionID, &queue, &parentInstanceID, &parentExecutionID, &parentEventID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}

		return nil, fmt.Errorf("locking workflow task: %w", err)
	}

	var wfi *core.WorkflowInstance
	if parentInstanceID != nil {
		parent := core.NewWorkflowInstance(*parentInstanceID, *parentExecutionID)
		wfi = core.NewSubWorkflowInstance(instanceID, executionID, parent, *parentEventID)
	} else {
		wfi = core.NewWorkflowInstance(instanceID, executionID)
	}

	pendingEvents, err := getPendingEvents(ctx, tx, wfi)
	if err != nil {
		return nil, fmt.Errorf("getting pending events: %w", err)
	}

	if len(pendingEvents) == 0 {
		return nil, nil
	}

	t := &backend.WorkflowTask{
		ID:               wfi.InstanceID,
		WorkflowInstance: wfi,
		Queue:            core.Queue(queue),
		NewEvents:        pendingEvents,
	}

	// Most recent sequence ID of the already journaled history
	row = tx.QueryRowContext(
		ctx,
		"SELECT sequence_id FROM `history` WHERE instance_id = ? AND execution_id = ? ORDER BY rowid DESC LIMIT 1",
		instanceID,
		executionID,
	)
	if err := row.Scan(&t.LastSequenceID); err != nil {
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("getting most recent sequence id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return t, nil
}

func (sb *sqliteBackend) ExtendWorkflowTask(ctx context.Context, task *backend.WorkflowTask) error {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	instance := task.WorkflowInstance

	until := time.Now().Add(sb.options.WorkflowLockTimeout)
	res, err := tx.ExecContext(
		ctx,
		"UPDATE `instances` SET locked_until = ? WHERE id = ? AND execution_id = ? AND worker = ?",
		until,
		instance.InstanceID,
		instance.ExecutionID,
		sb.workerName,
	)
	if err != nil {
		return fmt.Errorf("extending workflow task lock: %w", err)
	}

	if rowsAffected, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("determining if workflow task was extended: %w", err)
	} else if rowsAffected == 0 {
		return fmt.Errorf("could not extend workflow task")
	}

	return tx.Commit()
}

func (sb *sqliteBackend) CompleteWorkflowTask(
	ctx context.Context, task *backend.WorkflowTask, state core.WorkflowInstanceState,
	executedEvents, activityEvents, timerEvents []*history.Event, workflowEvents []*history.WorkflowEvent,
) error {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	instance := task.WorkflowInstance

	var completedAt *time.Time
	if state == core.WorkflowInstanceStateFinished || state == core.WorkflowInstanceStateContinuedAsNew {
		t := time.Now()
		completedAt = &t
	}

	// Unlock the instance, guarded by the worker name so a worker whose lease
	// was re-issued cannot apply its stale result. Keep the instance sticky to
	// this worker so the cached executor can be reused.
	res, err := tx.ExecContext(
		ctx,
		"UPDATE `instances` SET locked_until = NULL, sticky_until = ?, completed_at = ?, state = ? WHERE id = ? AND execution_id = ? AND worker = ?",
		time.Now().Add(sb.options.StickyTimeout),
		completedAt,
		state,
		instance.InstanceID,
		instance.ExecutionID,
		sb.workerName,
	)
	if err != nil {
		return fmt.Errorf("unlocking workflow instance: %w", err)
	}

	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("checking for unlocked workflow instances: %w", err)
	} else if n != 1 {
		return fmt.Errorf("could not find workflow instance to unlock")
	}

	// Remove executed events from the pending queue
	if len(executedEvents) > 0 {
		args := make([]any, 0, len(executedEvents)+2)
		args = append(args, instance.InstanceID, instance.ExecutionID)
		for _, e := range executedEvents {
			args = append(args, e.ID)
		}

		if _, err := tx.ExecContext(
			ctx,
			fmt.Sprintf("DELETE FROM `pending_events` WHERE instance_id = ? AND execution_id = ? AND id IN (?%v)", strings.Repeat(",?", len(executedEvents)-1)),
			args...,
		); err != nil {
			return fmt.Errorf("deleting handled events: %w", err)
		}
	}

	// A canceled timer also drops its not-yet-visible fired event
	for _, event := range executedEvents {
		if event.Type == history.EventType_TimerCanceled {
			if err := removeFutureEvent(ctx, tx, instance, event.ScheduleEventID); err != nil {
				return fmt.Errorf("removing future timer event: %w", err)
			}
		}
	}

	// Journal executed events
	if err := insertHistoryEvents(ctx, tx, instance, executedEvents); err != nil {
		return fmt.Errorf("inserting history events: %w", err)
	}

	// Schedule activities
	for _, event := range activityEvents {
		if err := scheduleActivity(ctx, tx, instance, task.Queue, event); err != nil {
			return fmt.Errorf("scheduling activity: %w", err)
		}
	}

	// Timer events become visible to this instance once their timer fires
	if err := insertPendingEvents(ctx, tx, instance, timerEvents); err != nil {
		return fmt.Errorf("scheduling timers: %w", err)
	}

	// Deliver events to other instances, creating new instances where the
	// event starts one (sub-workflows, continued-as-new runs)
	groupedEvents := history.EventsByWorkflowInstance(workflowEvents)

	for targetInstance, events := range groupedEvents {
		for _, event := range events {
			if event.Type == history.EventType_WorkflowExecutionStarted {
				a := event.Attributes.(*history.ExecutionStartedAttributes)
				if err := createInstance(ctx, tx, targetInstance, a.Queue, true); err != nil {
					return err
				}

				break
			}
		}

		if err := insertPendingEvents(ctx, tx, targetInstance, events); err != nil {
			return fmt.Errorf("delivering events: %w", err)
		}
	}

	return tx.Commit()
}

func (sb *sqliteBackend) GetActivityTask(ctx context.Context, queues []core.Queue) (*backend.ActivityTask, error) {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()
	args := []any{
		now.Add(sb.options.ActivityLockTimeout),
		sb.workerName,
		now,
	}
	for _, q := range queues {
		args = append(args, string(q))
	}

	row := tx.QueryRowContext(
		ctx,
		`UPDATE activities
			SET locked_until = ?, worker = ?
			WHERE rowid = (
				SELECT rowid FROM activities
					WHERE (locked_until IS NULL OR locked_until < ?)
					AND queue IN (?`+strings.Repeat(",?", len(queues)-1)+`)
					LIMIT 1
			) RETURNING id, instance_id, execution_id, queue, event_type, timestamp, schedule_event_id, attributes, visible_at`,
		args...,
	)

	var instanceID, executionID, queue string
	var attributes []byte
	event := &history.Event{}

	if err := row.Scan(
		&event.ID, &instanceID, &executionID, &queue, &event.Type, &event.Timestamp, &event.ScheduleEventID, &attributes, &event.VisibleAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}

		return nil, fmt.Errorf("locking activity task: %w", err)
	}

	a, err := history.DeserializeAttributes(event.Type, attributes)
	if err != nil {
		return nil, fmt.Errorf("deserializing attributes: %w", err)
	}

	event.Attributes = a

	t := &backend.ActivityTask{
		ID:               event.ID,
		WorkflowInstance: core.NewWorkflowInstance(instanceID, executionID),
		Queue:            core.Queue(queue),
		Event:            event,
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return t, nil
}

func (sb *sqliteBackend) ExtendActivityTask(ctx context.Context, task *backend.ActivityTask) error {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	until := time.Now().Add(sb.options.ActivityLockTimeout)
	res, err := tx.ExecContext(
		ctx,
		"UPDATE `activities` SET locked_until = ? WHERE id = ? AND worker = ?",
		until,
		task.ID,
		sb.workerName,
	)
	if err != nil {
		return fmt.Errorf("extending activity lock: %w", err)
	}

	if rowsAffected, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("determining if activity was extended: %w", err)
	} else if rowsAffected == 0 {
		return fmt.Errorf("could not extend activity")
	}

	return tx.Commit()
}

func (sb *sqliteBackend) CompleteActivityTask(ctx context.Context, task *backend.ActivityTask, result *history.Event) error {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Remove the activity, guarded by the worker name. A worker whose lease
	// was re-issued cannot complete the task.
	res, err := tx.ExecContext(
		ctx,
		"DELETE FROM `activities` WHERE instance_id = ? AND id = ? AND worker = ?",
		task.WorkflowInstance.InstanceID,
		task.ID,
		sb.workerName,
	)
	if err != nil {
		return fmt.Errorf("completing activity: %w", err)
	}

	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("checking for completed activities: %w", err)
	} else if n != 1 {
		return fmt.Errorf("could not find activity to complete")
	}

	// Deliver the result to the workflow instance
	if err := insertPendingEvents(ctx, tx, task.WorkflowInstance, []*history.Event{result}); err != nil {
		return fmt.Errorf("inserting result event: %w", err)
	}

	return tx.Commit()
}
