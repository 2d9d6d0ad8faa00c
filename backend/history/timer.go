package history

import "time"

type TimerScheduledAttributes struct {
	At time.Time `json:"at,omitempty"`

	Name string `json:"name,omitempty"`
}

type TimerFiredAttributes struct {
	ScheduledAt time.Time `json:"scheduled_at,omitempty"`

	At time.Time `json:"at,omitempty"`

	Name string `json:"name,omitempty"`
}

type TimerCanceledAttributes struct {
}
