package metrics

import "time"

type Tags map[string]string

type Client interface {
	// Counter records a value at a point in time
	Counter(name string, tags Tags, value int64)

	// Distribution records a value at a point in time
	Distribution(name string, tags Tags, value float64)

	// Gauge records a value at a point in time
	Gauge(name string, tags Tags, value int64)

	// Timing records a duration
	Timing(name string, tags Tags, duration time.Duration)

	// WithTags returns a new client with the given tags applied to all measurements
	WithTags(tags Tags) Client
}

// Timer measures the time between its creation and Stop.
func Timer(client Client, name string, tags Tags) *timer {
	return &timer{
		client: client,
		name:   name,
		tags:   tags,
		start:  time.Now(),
	}
}

type timer struct {
	client Client
	name   string
	tags   Tags
	start  time.Time
}

func (t *timer) Stop() {
	t.client.Timing(t.name, t.tags, time.Since(t.start))
}
