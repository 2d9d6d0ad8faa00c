package backend

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/atlasflow/durable/backend/converter"
	"github.com/atlasflow/durable/backend/metrics"
)

type Options struct {
	Logger *slog.Logger

	Metrics metrics.Client

	TracerProvider trace.TracerProvider

	// Converter is used for serializing and deserializing inputs and results.
	// Defaults to converter.DefaultConverter.
	Converter converter.Converter

	// StickyTimeout determines how long a workflow executor stays cached after
	// its last task, so subsequent tasks can skip replaying the history.
	StickyTimeout time.Duration

	// WorkflowLockTimeout determines how long a workflow task can be locked
	// for. If the task is not completed within that timeframe, it's considered
	// abandoned and another worker might pick it up.
	//
	// For long running workflow tasks, combine this with heartbeats.
	WorkflowLockTimeout time.Duration

	// ActivityLockTimeout determines how long an activity task can be locked
	// for. If the task is not completed within that timeframe, it's considered
	// abandoned and another worker might pick it up.
	ActivityLockTimeout time.Duration
}

var DefaultOptions Options = Options{
	StickyTimeout:       30 * time.Second,
	WorkflowLockTimeout: time.Minute,
	ActivityLockTimeout: time.Minute * 2,

	Logger:         slog.Default(),
	Metrics:        metrics.NewNoopMetricsClient(),
	TracerProvider: noop.NewTracerProvider(),
	Converter:      converter.DefaultConverter,
}

type BackendOption func(*Options)

func WithStickyTimeout(timeout time.Duration) BackendOption {
	return func(o *Options) {
		o.StickyTimeout = timeout
	}
}

func WithLogger(logger *slog.Logger) BackendOption {
	return func(o *Options) {
		o.Logger = logger
	}
}

func WithMetrics(client metrics.Client) BackendOption {
	return func(o *Options) {
		o.Metrics = client
	}
}

func WithTracerProvider(tp trace.TracerProvider) BackendOption {
	return func(o *Options) {
		o.TracerProvider = tp
	}
}

func WithConverter(converter converter.Converter) BackendOption {
	return func(o *Options) {
		o.Converter = converter
	}
}

func WithWorkflowLockTimeout(timeout time.Duration) BackendOption {
	return func(o *Options) {
		o.WorkflowLockTimeout = timeout
	}
}

func WithActivityLockTimeout(timeout time.Duration) BackendOption {
	return func(o *Options) {
		o.ActivityLockTimeout = timeout
	}
}

func ApplyOptions(opts ...BackendOption) *Options {
	options := DefaultOptions

	for _, opt := range opts {
		opt(&options)
	}

	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	return &options
}
