package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Snapshot(t *testing.T) {
	ctx := context.Background()
	p := NewProvider()
	defer p.Shutdown(ctx)

	m, err := NewMetrics(p.Meter())
	require.NoError(t, err)

	m.EventPublished(ctx, "orders")
	m.EventPublished(ctx, "orders")
	m.EventPublished(ctx, "payments")
	m.EventDelivered(ctx, "orders", "s1", time.Millisecond)
	m.DeliveryRetried(ctx, "orders", "s2")
	m.DeliveryRetried(ctx, "orders", "s2")
	m.EventDeadLettered(ctx, "orders", "s2", "exhausted", time.Millisecond)
	m.Polled(ctx, "orders", true)
	m.Polled(ctx, "orders", false)

	totals, err := p.Snapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(3), totals[MetricPublished])
	assert.Equal(t, int64(1), totals[MetricDelivered])
	assert.Equal(t, int64(2), totals[MetricRetries])
	assert.Equal(t, int64(1), totals[MetricDeadLettered])
	assert.Equal(t, int64(2), totals[MetricPolls])
	assert.Equal(t, int64(2), totals[MetricDeliveryDuration])
}

func TestMetrics_NilAndNoop(t *testing.T) {
	ctx := context.Background()

	var m *Metrics
	m.EventPublished(ctx, "orders")
	m.Polled(ctx, "orders", true)

	noop := NewNoopMetrics()
	require.NotNil(t, noop)
	noop.EventDelivered(ctx, "orders", "s1", time.Second)
}
