// Package observability provides the OpenTelemetry instruments recorded by the event bus.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/rmacdonaldsmith/eventbus-go"

// Metric names
const (
	MetricPublished        = "eventbus.events.published"
	MetricDelivered        = "eventbus.deliveries.succeeded"
	MetricRetries          = "eventbus.deliveries.retried"
	MetricDeadLettered     = "eventbus.deliveries.dead_lettered"
	MetricPolls            = "eventbus.polls"
	MetricDeliveryDuration = "eventbus.delivery.duration"
)

// Metrics records bus activity. A nil *Metrics records nothing.
type Metrics struct {
	published        metric.Int64Counter
	delivered        metric.Int64Counter
	retries          metric.Int64Counter
	deadLettered     metric.Int64Counter
	polls            metric.Int64Counter
	deliveryDuration metric.Float64Histogram
}

// NewMetrics creates the bus instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.published, err = meter.Int64Counter(MetricPublished,
		metric.WithDescription("Events appended to a topic log"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricPublished, err)
	}

	if m.delivered, err = meter.Int64Counter(MetricDelivered,
		metric.WithDescription("Push deliveries acknowledged by a handler"),
		metric.WithUnit("{delivery}"),
	); err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricDelivered, err)
	}

	if m.retries, err = meter.Int64Counter(MetricRetries,
		metric.WithDescription("Push delivery attempts that were retried"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricRetries, err)
	}

	if m.deadLettered, err = meter.Int64Counter(MetricDeadLettered,
		metric.WithDescription("Push deliveries turned into failure events"),
		metric.WithUnit("{delivery}"),
	); err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricDeadLettered, err)
	}

	if m.polls, err = meter.Int64Counter(MetricPolls,
		metric.WithDescription("Pull subscriber polls"),
		metric.WithUnit("{poll}"),
	); err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricPolls, err)
	}

	if m.deliveryDuration, err = meter.Float64Histogram(MetricDeliveryDuration,
		metric.WithDescription("Time from first attempt to final outcome of a push delivery"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10),
	); err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricDeliveryDuration, err)
	}

	return m, nil
}

// NewNoopMetrics returns instruments backed by the no-op meter.
func NewNoopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter(meterName))
	return m
}

// EventPublished counts an append to topic.
func (m *Metrics) EventPublished(ctx context.Context, topic string) {
	if m == nil {
		return
	}
	m.published.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

// EventDelivered counts a successful push delivery.
func (m *Metrics) EventDelivered(ctx context.Context, topic, subscriber string, took time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("topic", topic), attribute.String("subscriber", subscriber))
	m.delivered.Add(ctx, 1, attrs)
	m.deliveryDuration.Record(ctx, took.Seconds(), attrs)
}

// DeliveryRetried counts one retry of a push delivery.
func (m *Metrics) DeliveryRetried(ctx context.Context, topic, subscriber string) {
	if m == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic), attribute.String("subscriber", subscriber)))
}

// EventDeadLettered counts a delivery that ended as a failure event.
// reason is "exhausted" or "terminal".
func (m *Metrics) EventDeadLettered(ctx context.Context, topic, subscriber, reason string, took time.Duration) {
	if m == nil {
		return
	}
	m.deadLettered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("subscriber", subscriber),
		attribute.String("reason", reason),
	))
	m.deliveryDuration.Record(ctx, took.Seconds(), metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("subscriber", subscriber),
	))
}

// Polled counts a poll; hit reports whether it returned an event.
func (m *Metrics) Polled(ctx context.Context, topic string, hit bool) {
	if m == nil {
		return
	}
	m.polls.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic), attribute.Bool("hit", hit)))
}
