package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/atlasflow/durable/backend/history"
	"github.com/atlasflow/durable/core"
)

func getPendingEvents(ctx context.Context, tx *sql.Tx, instance *core.WorkflowInstance) ([]*history.Event, error) {
	now := time.Now()
	rows, err := tx.QueryContext(
		ctx,
		"SELECT id, event_type, timestamp, schedule_event_id, attributes, visible_at FROM `pending_events` WHERE instance_id = ? AND execution_id = ? AND (visible_at IS NULL OR visible_at <= ?) ORDER BY rowid",
		instance.InstanceID,
		instance.ExecutionID,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("getting pending events: %w", err)
	}
	defer rows.Close()

	events := make([]*history.Event, 0)

	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("reading event: %w", err)
		}

		events = append(events, event)
	}

	return events, rows.Err()
}

func getHistory(ctx context.Context, tx *sql.Tx, instance *core.WorkflowInstance, lastSequenceID *int64) ([]*history.Event, error) {
	var rows *sql.Rows
	var err error

	if lastSequenceID != nil {
		rows, err = tx.QueryContext(
			ctx,
			"SELECT id, sequence_id, event_type, timestamp, schedule_event_id, attributes, visible_at FROM `history` WHERE instance_id = ? AND execution_id = ? AND sequence_id > ? ORDER BY sequence_id",
			instance.InstanceID,
			instance.ExecutionID,
			*lastSequenceID,
		)
	} else {
		rows, err = tx.QueryContext(
			ctx,
			"SELECT id, sequence_id, event_type, timestamp, schedule_event_id, attributes, visible_at FROM `history` WHERE instance_id = ? AND execution_id = ? ORDER BY sequence_id",
			instance.InstanceID,
			instance.ExecutionID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("getting history: %w", err)
	}
	defer rows.Close()

	events := make([]*history.Event, 0)

	for rows.Next() {
		event, err := scanHistoryEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("reading event: %w", err)
		}

		events = append(events, event)
	}

	return events, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*history.Event, error) {
	var attributes []byte

	event := &history.Event{}

	if err := row.Scan(&event.ID, &event.Type, &event.Timestamp, &event.ScheduleEventID, &attributes, &event.VisibleAt); err != nil {
		return nil, fmt.Errorf("scanning event: %w", err)
	}

	a, err := history.DeserializeAttributes(event.Type, attributes)
	if err != nil {
		return nil, fmt.Errorf("deserializing attributes: %w", err)
	}

	event.Attributes = a

	return event, nil
}

func scanHistoryEvent(row scanner) (*history.Event, error) {
	var attributes []byte

	event := &history.Event{}

	if err := row.Scan(&event.ID, &event.SequenceID, &event.Type, &event.Timestamp, &event.ScheduleEventID, &attributes, &event.VisibleAt); err != nil {
		return nil, fmt.Errorf("scanning event: %w", err)
	}

	a, err := history.DeserializeAttributes(event.Type, attributes)
	if err != nil {
		return nil, fmt.Errorf("deserializing attributes: %w", err)
	}

	event.Attributes = a

	return event, nil
}

func insertPendingEvents(ctx context.Context, tx *sql.Tx, instance *core.WorkflowInstance, events []*history.Event) error {
	const batchSize = 20
	for batchStart := 0; batchStart < len(events); batchStart += batchSize {
		batchEnd := min(batchStart+batchSize, len(events))
		batch := events[batchStart:batchEnd]

		query := "INSERT INTO `pending_events` (id, instance_id, execution_id, event_type, timestamp, schedule_event_id, attributes, visible_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)" +
			strings.Repeat(", (?, ?, ?, ?, ?, ?, ?, ?)", len(batch)-1)

		args := make([]any, 0, len(batch)*8)

		for _, event := range batch {
			a, err := history.SerializeAttributes(event.Attributes)
			if err != nil {
				return err
			}

			args = append(args, event.ID, instance.InstanceID, instance.ExecutionID, event.Type, event.Timestamp, event.ScheduleEventID, a, event.VisibleAt)
		}

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}

	return nil
}

func insertHistoryEvents(ctx context.Context, tx *sql.Tx, instance *core.WorkflowInstance, events []*history.Event) error {
	const batchSize = 20
	for batchStart := 0; batchStart < len(events); batchStart += batchSize {
		batchEnd := min(batchStart+batchSize, len(events))
		batch := events[batchStart:batchEnd]

		query := "INSERT INTO `history` (id, sequence_id, instance_id, execution_id, event_type, timestamp, schedule_event_id, attributes, visible_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)" +
			strings.Repeat(", (?, ?, ?, ?, ?, ?, ?, ?, ?)", len(batch)-1)

		args := make([]any, 0, len(batch)*9)

		for _, event := range batch {
			a, err := history.SerializeAttributes(event.Attributes)
			if err != nil {
				return err
			}

			args = append(args, event.ID, event.SequenceID, instance.InstanceID, instance.ExecutionID, event.Type, event.Timestamp, event.ScheduleEventID, a, event.VisibleAt)
		}

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}

	return nil
}

// removeFutureEvent deletes a not-yet-visible pending event for the given
// schedule event, used when a timer is canceled before it fired.
func removeFutureEvent(ctx context.Context, tx *sql.Tx, instance *core.WorkflowInstance, scheduleEventID int64) error {
	_, err := tx.ExecContext(
		ctx,
		"DELETE FROM `pending_events` WHERE instance_id = ? AND execution_id = ? AND schedule_event_id = ? AND visible_at IS NOT NULL",
		instance.InstanceID,
		instance.ExecutionID,
		scheduleEventID,
	)

	return err
}
