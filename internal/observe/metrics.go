// Package observe provides observability primitives for the roomlink
// client: OpenTelemetry metrics, a Prometheus exporter bridge for the local
// debug endpoint, and HTTP middleware for the debug server.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all roomlink metrics.
const meterName = "github.com/sonohq/roomlink"

// Metrics holds all OpenTelemetry metric instruments for the client. All
// fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// SendDuration tracks outbound wire message send latency.
	SendDuration metric.Float64Histogram

	// MessagesSent counts outbound wire messages. Use with attribute:
	//   attribute.String("type", ...)
	MessagesSent metric.Int64Counter

	// MessagesReceived counts inbound wire messages. Use with attribute:
	//   attribute.String("type", ...)
	MessagesReceived metric.Int64Counter

	// ReconnectAttempts counts reconnection attempts. Use with attribute:
	//   attribute.String("trigger", "backoff"|"searching"|"poll")
	ReconnectAttempts metric.Int64Counter

	// JoinOutcomes counts terminal join attempt results. Use with attribute:
	//   attribute.String("outcome", ...)
	JoinOutcomes metric.Int64Counter

	// StateTransitions counts connection state changes. Use with attribute:
	//   attribute.String("to", ...)
	StateTransitions metric.Int64Counter

	// ActiveParticipants tracks the current room roster size.
	ActiveParticipants metric.Int64UpDownCounter

	// HTTPRequestDuration tracks debug server request processing time. Use
	// with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// sendLatencyBuckets defines histogram bucket boundaries (in seconds) sized
// for single-frame sends over a persistent connection.
var sendLatencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SendDuration, err = m.Float64Histogram("roomlink.send.duration",
		metric.WithDescription("Latency of outbound wire message sends."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sendLatencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MessagesSent, err = m.Int64Counter("roomlink.messages.sent",
		metric.WithDescription("Total outbound wire messages by type."),
	); err != nil {
		return nil, err
	}
	if met.MessagesReceived, err = m.Int64Counter("roomlink.messages.received",
		metric.WithDescription("Total inbound wire messages by type."),
	); err != nil {
		return nil, err
	}
	if met.ReconnectAttempts, err = m.Int64Counter("roomlink.reconnect.attempts",
		metric.WithDescription("Total reconnection attempts by trigger."),
	); err != nil {
		return nil, err
	}
	if met.JoinOutcomes, err = m.Int64Counter("roomlink.join.outcomes",
		metric.WithDescription("Total terminal join attempt results by outcome."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("roomlink.state.transitions",
		metric.WithDescription("Total connection state transitions by target state."),
	); err != nil {
		return nil, err
	}
	if met.ActiveParticipants, err = m.Int64UpDownCounter("roomlink.active_participants",
		metric.WithDescription("Current room roster size."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("roomlink.http.request.duration",
		metric.WithDescription("Debug server request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordMessage records one wire message on the given counter with the
// standard type attribute. ctx may be context.Background() outside request
// scope.
func RecordMessage(ctx context.Context, c metric.Int64Counter, msgType string) {
	c.Add(ctx, 1, metric.WithAttributes(attribute.String("type", msgType)))
}
