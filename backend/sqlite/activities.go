package sqlite

import (
	"context"
	"database/sql"

	"github.com/atlasflow/durable/backend/history"
	"github.com/atlasflow/durable/core"
)

func scheduleActivity(ctx context.Context, tx *sql.Tx, instance *core.WorkflowInstance, queue core.Queue, event *history.Event) error {
	attributes, err := history.SerializeAttributes(event.Attributes)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO activities
			(id, instance_id, execution_id, queue, event_type, timestamp, schedule_event_id, attributes, visible_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		instance.InstanceID,
		instance.ExecutionID,
		string(queue),
		event.Type,
		event.Timestamp,
		event.ScheduleEventID,
		attributes,
		event.VisibleAt,
	)

	return err
}
