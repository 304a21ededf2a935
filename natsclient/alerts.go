package natsclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arc-self/packages/sec-core/tracker"
)

const (
	// StreamSecurityAlerts is the durable stream that captures all alerts.
	StreamSecurityAlerts = "SEC_ALERTS"
	// SubjectAlerts is the wildcard subject hierarchy for alert messages.
	SubjectAlerts = "alerts.>"
)

// ProvisionStreams idempotently creates the required JetStream streams.
func (c *Client) ProvisionStreams() error {
	_, err := c.JS.StreamInfo(StreamSecurityAlerts)
	if err == nil {
		c.Log.Info("NATS stream exists", zap.String("stream", StreamSecurityAlerts))
		return nil
	}

	if err != nats.ErrStreamNotFound {
		return fmt.Errorf("failed to check stream info: %w", err)
	}

	cfg := &nats.StreamConfig{
		Name:      StreamSecurityAlerts,
		Subjects:  []string{SubjectAlerts},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
	}

	_, err = c.JS.AddStream(cfg)
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	c.Log.Info("NATS stream provisioned", zap.String("stream", StreamSecurityAlerts))
	return nil
}

// alertEnvelope is the wire form published per alert. Trace ids from the
// emitting request are embedded so consumers can reconstruct the
// distributed trace across the synchronous → async boundary.
type alertEnvelope struct {
	tracker.Alert
	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// AlertSubject maps an alert to its publish subject.
func AlertSubject(a tracker.Alert) string {
	return "alerts." + string(a.Type)
}

// PublishAlert publishes one alert to alerts.<type>. Publish failures are
// logged and returned; the caller decides whether losing the alert is
// tolerable (the Track return value remains the contract of record).
func (c *Client) PublishAlert(ctx context.Context, a tracker.Alert) error {
	env := alertEnvelope{Alert: a}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		env.TraceID = sc.TraceID().String()
		env.SpanID = sc.SpanID().String()
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	if _, err := c.JS.Publish(AlertSubject(a), payload, nats.Context(ctx)); err != nil {
		c.Log.Error("alert publish failed",
			zap.String("type", string(a.Type)),
			zap.String("ip", a.IP),
			zap.Error(err),
		)
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}
