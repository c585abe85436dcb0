// Package observe holds parley's telemetry: OpenTelemetry metric
// instruments, tracing helpers, session-aware logging and the HTTP
// middleware that ties them together.
//
// [Setup] installs the SDK providers and exposes the metrics through a
// Prometheus registry. Tests build [Metrics] with [NewMetrics] over a
// manual reader instead.
package observe

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Histogram boundaries in seconds.
var (
	providerBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	captureBuckets  = []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}
)

// Metrics records parley's instruments. Every method is a no-op on a nil
// receiver, so components take an optional *Metrics.
type Metrics struct {
	sttLatency      metric.Float64Histogram
	llmLatency      metric.Float64Histogram
	ttsLatency      metric.Float64Histogram
	captureDuration metric.Float64Histogram
	httpDuration    metric.Float64Histogram

	providerRequests metric.Int64Counter
	providerErrors   metric.Int64Counter
	failovers        metric.Int64Counter
	utterances       metric.Int64Counter
	captureErrors    metric.Int64Counter

	sessions metric.Int64UpDownCounter
}

// builder creates instruments and collects the first errors.
type builder struct {
	meter metric.Meter
	errs  []error
}

func (b *builder) seconds(name, desc string, buckets ...float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := b.meter.Float64Histogram(name, opts...)
	b.errs = append(b.errs, err)
	return h
}

func (b *builder) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.errs = append(b.errs, err)
	return c
}

// NewMetrics creates every instrument on a meter from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &builder{meter: mp.Meter(scopeName)}
	m := &Metrics{
		sttLatency:      b.seconds("parley.stt.duration", "Delay from opening a recognition stream to its first transcript.", providerBuckets...),
		llmLatency:      b.seconds("parley.llm.duration", "Latency of chat completions.", providerBuckets...),
		ttsLatency:      b.seconds("parley.tts.duration", "Delay from requesting synthesis to the first audio chunk.", providerBuckets...),
		captureDuration: b.seconds("parley.capture.duration", "Length of speech capture sessions.", captureBuckets...),
		httpDuration:    b.seconds("parley.http.request.duration", "HTTP request latency by method and route."),

		providerRequests: b.counter("parley.provider.requests", "Provider calls by provider, kind and status."),
		providerErrors:   b.counter("parley.provider.errors", "Provider errors by provider and kind."),
		failovers:        b.counter("parley.provider.failovers", "Calls served by a fallback provider, by kind and provider."),
		utterances:       b.counter("parley.utterances", "Finished utterances by outcome."),
		captureErrors:    b.counter("parley.capture.errors", "Failed capture sessions by error kind."),
	}
	sessions, err := b.meter.Int64UpDownCounter("parley.active_sessions",
		metric.WithDescription("Connected voice clients."))
	b.errs = append(b.errs, err)
	m.sessions = sessions

	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	return m, nil
}

func attrs(kv ...string) metric.MeasurementOption {
	set := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		set = append(set, attribute.String(kv[i], kv[i+1]))
	}
	return metric.WithAttributes(set...)
}

// RecordProviderRequest counts one provider call; status is "ok" or "error".
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	if m == nil {
		return
	}
	m.providerRequests.Add(ctx, 1, attrs("provider", provider, "kind", kind, "status", status))
}

// RecordProviderError counts a provider failure, including ones that end a
// stream after it started.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	if m == nil {
		return
	}
	m.providerErrors.Add(ctx, 1, attrs("provider", provider, "kind", kind))
}

// RecordFailover counts a call that a fallback provider served.
func (m *Metrics) RecordFailover(ctx context.Context, kind, provider string) {
	if m == nil {
		return
	}
	m.failovers.Add(ctx, 1, attrs("kind", kind, "provider", provider))
}

// RecordUtterance counts a finished utterance.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.utterances.Add(ctx, 1, attrs("outcome", outcome))
}

// RecordCaptureError counts a capture session that ended with an error.
func (m *Metrics) RecordCaptureError(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.captureErrors.Add(ctx, 1, attrs("kind", kind))
}

func (m *Metrics) RecordSTTLatency(ctx context.Context, provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.sttLatency.Record(ctx, d.Seconds(), attrs("provider", provider))
}

func (m *Metrics) RecordLLMLatency(ctx context.Context, provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.llmLatency.Record(ctx, d.Seconds(), attrs("provider", provider))
}

func (m *Metrics) RecordTTSLatency(ctx context.Context, provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.ttsLatency.Record(ctx, d.Seconds(), attrs("provider", provider))
}

func (m *Metrics) RecordCaptureDuration(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.captureDuration.Record(ctx, d.Seconds())
}

// RecordHTTPRequest records a served request. route should be the mux
// pattern so path parameters do not multiply series.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.Record(ctx, d.Seconds(), attrs("method", method, "path", route))
}

// SessionOpened increments the active session gauge. The returned func
// decrements it and must be called exactly once.
func (m *Metrics) SessionOpened(ctx context.Context) (closed func()) {
	if m == nil {
		return func() {}
	}
	m.sessions.Add(ctx, 1)
	return func() { m.sessions.Add(context.WithoutCancel(ctx), -1) }
}
