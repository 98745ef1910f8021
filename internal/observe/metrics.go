// Package observe provides application-wide observability primitives for
// kikai: OpenTelemetry metrics, tracing, trace-aware logging and HTTP
// middleware for the status server.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all kikai metrics.
const meterName = "github.com/MrWong99/kikai"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks realtime session handshake latency, including
	// retries.
	ConnectDuration metric.Float64Histogram

	// ResponseLatency tracks the time from the user's speech start to the
	// first agent audio frame being played.
	ResponseLatency metric.Float64Histogram

	// SessionDuration tracks the wall-clock length of conversation sessions.
	SessionDuration metric.Float64Histogram

	// --- Counters ---

	// ConnectAttempts counts realtime handshake attempts. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	ConnectAttempts metric.Int64Counter

	// StateTransitions counts accepted state machine transitions. Use with
	// attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	StateTransitions metric.Int64Counter

	// IllegalTransitions counts rejected state machine transitions.
	IllegalTransitions metric.Int64Counter

	// Interrupts counts barge-in interrupts. Use with attribute:
	//   attribute.String("trigger", "cloud_vad"|"wakeword")
	Interrupts metric.Int64Counter

	// DiscardedAudio counts agent audio frames dropped because an interrupt
	// was active.
	DiscardedAudio metric.Int64Counter

	// DroppedFrames counts microphone frames dropped at a full hand-off
	// channel. Use with attribute:
	//   attribute.String("stage", "uplink"|"orchestrator")
	DroppedFrames metric.Int64Counter

	// WakeDetections counts wake-word detections. Use with attribute:
	//   attribute.String("source", "daemon"|"barge_in")
	WakeDetections metric.Int64Counter

	// ChildLaunches counts conversation process launches by the daemon. Use
	// with attribute:
	//   attribute.String("status", "ok"|"error")
	ChildLaunches metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live conversation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks status server request time. Attributes:
	// method, path (the matched route) and status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// sessionBuckets defines histogram bucket boundaries (in seconds) for whole
// conversations.
var sessionBuckets = []float64{
	5, 15, 30, 60, 120, 180, 300, 600, 1200,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ConnectDuration, err = m.Float64Histogram("kikai.s2s.connect.duration",
		metric.WithDescription("Latency of the realtime session handshake."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ResponseLatency, err = m.Float64Histogram("kikai.response.latency",
		metric.WithDescription("Time from user speech start to first agent audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("kikai.session.duration",
		metric.WithDescription("Length of conversation sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ConnectAttempts, err = m.Int64Counter("kikai.s2s.connect.attempts",
		metric.WithDescription("Total realtime handshake attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("kikai.state.transitions",
		metric.WithDescription("Accepted conversation state transitions by from and to state."),
	); err != nil {
		return nil, err
	}
	if met.IllegalTransitions, err = m.Int64Counter("kikai.state.illegal_transitions",
		metric.WithDescription("Rejected conversation state transitions."),
	); err != nil {
		return nil, err
	}
	if met.Interrupts, err = m.Int64Counter("kikai.interrupts",
		metric.WithDescription("Barge-in interrupts by trigger."),
	); err != nil {
		return nil, err
	}
	if met.DiscardedAudio, err = m.Int64Counter("kikai.audio.discarded",
		metric.WithDescription("Agent audio frames discarded while an interrupt was active."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("kikai.audio.dropped",
		metric.WithDescription("Microphone frames dropped at a full hand-off channel by stage."),
	); err != nil {
		return nil, err
	}
	if met.WakeDetections, err = m.Int64Counter("kikai.wakeword.detections",
		metric.WithDescription("Wake-word detections by source."),
	); err != nil {
		return nil, err
	}
	if met.ChildLaunches, err = m.Int64Counter("kikai.daemon.launches",
		metric.WithDescription("Conversation process launches by status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("kikai.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("kikai.active_sessions",
		metric.WithDescription("Number of live conversation sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("kikai.http.request.duration",
		metric.WithDescription("Status server request latency by method, route and status."),
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTransition records an accepted state transition.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordInterrupt records a barge-in interrupt with its trigger.
func (m *Metrics) RecordInterrupt(ctx context.Context, trigger string) {
	m.Interrupts.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
}

// RecordDroppedFrame records a microphone frame dropped at the given stage.
func (m *Metrics) RecordDroppedFrame(ctx context.Context, stage string) {
	m.DroppedFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordWakeDetection records a wake-word detection from the given source.
func (m *Metrics) RecordWakeDetection(ctx context.Context, source string) {
	m.WakeDetections.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordConnectAttempt records a realtime handshake attempt.
func (m *Metrics) RecordConnectAttempt(ctx context.Context, status string) {
	m.ConnectAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordChildLaunch records a conversation process launch.
func (m *Metrics) RecordChildLaunch(ctx context.Context, status string) {
	m.ChildLaunches.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
