package core

import (
	"database/sql"
	"errors"
	"regexp"
)

// Queue is the name of a task queue. Workflow instances are pinned to a queue and
// workers poll one or more queues.
type Queue string

var _ sql.Scanner = (*Queue)(nil)

func (q Queue) Value() (string, error) {
	return string(q), nil
}

func (q *Queue) Scan(value interface{}) error {
	*q = Queue(value.(string))
	return nil
}

const (
	QueueDefault = Queue("default")
)

var validQueueName = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,63}$`)

// ValidQueue ensures that the queue name is valid.
func ValidQueue(q Queue) error {
	if !validQueueName.MatchString(string(q)) {
		return errors.New("invalid queue name")
	}

	return nil
}
