package gateway

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the envelope-routing counters the gateway core emits.
// There is deliberately no gRPC/OTLP exporter wired here — whatever
// MeterProvider the process installed (or the SDK's no-op default) is
// what these counters report through.
type Metrics struct {
	received  metric.Int64Counter
	delivered metric.Int64Counter
	denied    metric.Int64Counter
	dropped   metric.Int64Counter
}

func newMetrics() *Metrics {
	meter := otel.Meter("mew.gateway")

	received, err := meter.Int64Counter("mew.gateway.envelopes.received",
		metric.WithDescription("envelopes accepted from a connected participant"))
	if err != nil {
		slog.Default().Warn("metrics: failed to create received counter", "error", err)
	}
	delivered, err := meter.Int64Counter("mew.gateway.envelopes.delivered",
		metric.WithDescription("envelopes successfully handed to a recipient's channel"))
	if err != nil {
		slog.Default().Warn("metrics: failed to create delivered counter", "error", err)
	}
	denied, err := meter.Int64Counter("mew.gateway.envelopes.denied",
		metric.WithDescription("envelopes rejected by the capability matcher"))
	if err != nil {
		slog.Default().Warn("metrics: failed to create denied counter", "error", err)
	}
	dropped, err := meter.Int64Counter("mew.gateway.envelopes.dropped",
		metric.WithDescription("envelopes evicted by per-recipient backpressure"))
	if err != nil {
		slog.Default().Warn("metrics: failed to create dropped counter", "error", err)
	}

	return &Metrics{received: received, delivered: delivered, denied: denied, dropped: dropped}
}

func (m *Metrics) recordReceived()  { m.add(m.received) }
func (m *Metrics) recordDelivered() { m.add(m.delivered) }
func (m *Metrics) recordDenied()    { m.add(m.denied) }
func (m *Metrics) recordDropped()   { m.add(m.dropped) }

func (m *Metrics) add(c metric.Int64Counter) {
	if c == nil {
		return
	}
	c.Add(context.Background(), 1)
}
