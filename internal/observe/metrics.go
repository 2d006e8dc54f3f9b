// Package observe provides application-wide observability primitives for
// telebridge: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [Setup] wires
// them to a Prometheus registry served on /metrics. A package-level default
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

// meterName is the instrumentation scope name used for all telebridge metrics.
const meterName = "github.com/MrWong99/telebridge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks utterance transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks reply generation latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks synthesis latency.
	TTSDuration metric.Float64Histogram

	// TurnDuration tracks the time from end of caller speech until the reply
	// is queued for playback.
	TurnDuration metric.Float64Histogram

	// S2SConnectDuration tracks how long opening a conversational-AI session
	// takes.
	S2SConnectDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// Calls counts accepted media streams. Use with attribute:
	//   attribute.String("mode", "cascade"|"convai")
	Calls metric.Int64Counter

	// Utterances counts caller utterances by outcome. Use with attribute:
	//   attribute.String("outcome", "answered"|"empty"|"error"|"dropped")
	Utterances metric.Int64Counter

	// InboundFrames counts decoded inbound media frames.
	InboundFrames metric.Int64Counter

	// OutboundFrames counts media frames sent to the carrier.
	OutboundFrames metric.Int64Counter

	// MalformedFrames counts inbound frames dropped because their payload
	// could not be decoded.
	MalformedFrames metric.Int64Counter

	// ClearsSent counts playback clears issued on barge-in.
	ClearsSent metric.Int64Counter

	// VADFallbacks counts detectors that fell back to the energy strategy.
	// Use with attribute: attribute.String("method", ...)
	VADFallbacks metric.Int64Counter

	// S2SRedials counts conversational-AI sessions reopened after dropping
	// mid-call. Use with attribute: attribute.String("status", "ok"|"failed")
	S2SRedials metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes: attribute.String("provider", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of live media streams.
	ActiveCalls metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "telebridge.stt.duration", "Latency of utterance transcription."},
		{&met.LLMDuration, "telebridge.llm.duration", "Latency of reply generation."},
		{&met.TTSDuration, "telebridge.tts.duration", "Latency of reply synthesis."},
		{&met.TurnDuration, "telebridge.turn.duration", "Time from end of caller speech to reply queued."},
		{&met.S2SConnectDuration, "telebridge.s2s.connect.duration", "Latency of opening a conversational-AI session."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ProviderRequests, "telebridge.provider.requests", "Total provider API requests by provider, kind, and status."},
		{&met.ProviderErrors, "telebridge.provider.errors", "Total provider errors by provider and kind."},
		{&met.Calls, "telebridge.calls", "Total accepted media streams by mode."},
		{&met.Utterances, "telebridge.utterances", "Total caller utterances by outcome."},
		{&met.InboundFrames, "telebridge.media.inbound_frames", "Total inbound media frames decoded."},
		{&met.OutboundFrames, "telebridge.media.outbound_frames", "Total outbound media frames sent."},
		{&met.MalformedFrames, "telebridge.media.malformed_frames", "Total inbound media frames dropped as malformed."},
		{&met.ClearsSent, "telebridge.media.clears", "Total playback clears sent on barge-in."},
		{&met.VADFallbacks, "telebridge.vad.fallbacks", "Total detectors that fell back to the energy strategy."},
		{&met.S2SRedials, "telebridge.s2s.redials", "Total conversational-AI sessions reopened mid-call."},
		{&met.BreakerTransitions, "telebridge.breaker.transitions", "Total circuit breaker state changes."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ActiveCalls, err = m.Int64UpDownCounter("telebridge.active_calls",
		metric.WithDescription("Number of live media streams."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("telebridge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordUtterance records one caller utterance with its outcome.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("to", to),
		),
	)
}
