package metrics

import "time"

type noopMetricsClient struct{}

var _ Client = (*noopMetricsClient)(nil)

// NewNoopMetricsClient returns a client that discards all measurements.
func NewNoopMetricsClient() Client {
	return &noopMetricsClient{}
}

func (*noopMetricsClient) Counter(name string, tags Tags, value int64) {
}

func (*noopMetricsClient) Distribution(name string, tags Tags, value float64) {
}

func (*noopMetricsClient) Gauge(name string, tags Tags, value int64) {
}

func (*noopMetricsClient) Timing(name string, tags Tags, duration time.Duration) {
}

func (nc *noopMetricsClient) WithTags(tags Tags) Client {
	return nc
}
