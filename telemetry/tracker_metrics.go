package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// TrackerMetrics bundles the counters the access tracker reports:
// ingested events, alerts by type, and compaction evictions.
type TrackerMetrics struct {
	events    metric.Int64Counter
	alerts    metric.Int64Counter
	evictions metric.Int64Counter
}

// NewTrackerMetrics registers the tracker instrument set on the given
// meter. A nil meter uses the global provider.
func NewTrackerMetrics(meter metric.Meter) (*TrackerMetrics, error) {
	if meter == nil {
		meter = otel.Meter("sec-core/tracker")
	}
	events, err := meter.Int64Counter("seccore.tracker.events",
		metric.WithDescription("access events ingested"))
	if err != nil {
		return nil, err
	}
	alerts, err := meter.Int64Counter("seccore.tracker.alerts",
		metric.WithDescription("security alerts produced"))
	if err != nil {
		return nil, err
	}
	evictions, err := meter.Int64Counter("seccore.tracker.evictions",
		metric.WithDescription("entries evicted by compaction"))
	if err != nil {
		return nil, err
	}
	return &TrackerMetrics{events: events, alerts: alerts, evictions: evictions}, nil
}

// RecordEvent counts one ingested access event.
func (m *TrackerMetrics) RecordEvent(ctx context.Context) {
	if m == nil {
		return
	}
	m.events.Add(ctx, 1)
}

// RecordAlert counts one produced alert, attributed by alert type.
func (m *TrackerMetrics) RecordAlert(ctx context.Context, alertType string) {
	if m == nil {
		return
	}
	m.alerts.Add(ctx, 1, metric.WithAttributes(attribute.String("type", alertType)))
}

// RecordEvictions counts entries removed by TTL or capacity eviction.
func (m *TrackerMetrics) RecordEvictions(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evictions.Add(ctx, int64(n))
}
