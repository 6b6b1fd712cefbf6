// Package observe provides application-wide observability primitives for
// koebridge: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all koebridge metrics.
const meterName = "github.com/koebridge/koebridge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Call lifecycle ---

	// ActiveCalls tracks the number of phone calls currently bridged.
	ActiveCalls metric.Int64UpDownCounter

	// CallDuration tracks how long each call lasted, webhook to hang-up.
	CallDuration metric.Float64Histogram

	// FramesGated counts caller audio frames dropped during the echo
	// cooldown window.
	FramesGated metric.Int64Counter

	// BargeIns counts caller interruptions that cancelled an in-flight
	// assistant response.
	BargeIns metric.Int64Counter

	// --- LLM session ---

	// LLMEvents counts events received from the realtime API. Use with
	// attribute: attribute.String("event", ...)
	LLMEvents metric.Int64Counter

	// --- Tools ---

	// ToolCalls counts tool invocations requested by the model. Use with
	// attributes:
	//   attribute.String("tool", ...), attribute.String("outcome", ...)
	ToolCalls metric.Int64Counter

	// ToolDuration tracks tool execution latency.
	ToolDuration metric.Float64Histogram

	// --- Order backend ---

	// BackendRequests counts order-backend API calls. Use with attributes:
	//   attribute.String("op", ...), attribute.String("outcome", ...)
	BackendRequests metric.Int64Counter

	// BackendRequestDuration tracks order-backend request latency.
	BackendRequestDuration metric.Float64Histogram

	// --- HTTP surface ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// WebhookLookups counts incoming-call webhook customer lookups. Use
	// with attribute: attribute.String("found", "true"|"false")
	WebhookLookups metric.Int64Counter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// request-scale operations: tool runs, backend calls, HTTP handlers.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// callDurationBuckets defines bucket boundaries (in seconds) for whole phone
// calls, which run seconds to tens of minutes.
var callDurationBuckets = []float64{
	5, 15, 30, 60, 120, 300, 600, 1200, 1800,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Call lifecycle.
	if met.ActiveCalls, err = m.Int64UpDownCounter("koebridge.calls.active",
		metric.WithDescription("Number of phone calls currently bridged."),
	); err != nil {
		return nil, err
	}
	if met.CallDuration, err = m.Float64Histogram("koebridge.call.duration",
		metric.WithDescription("Duration of completed calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(callDurationBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FramesGated, err = m.Int64Counter("koebridge.call.frames_gated",
		metric.WithDescription("Caller audio frames dropped during echo cooldown."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("koebridge.call.barge_ins",
		metric.WithDescription("Caller interruptions that cancelled an active response."),
	); err != nil {
		return nil, err
	}

	// LLM session.
	if met.LLMEvents, err = m.Int64Counter("koebridge.llm.events",
		metric.WithDescription("Realtime API events received, by event type."),
	); err != nil {
		return nil, err
	}

	// Tools.
	if met.ToolCalls, err = m.Int64Counter("koebridge.tool.calls",
		metric.WithDescription("Tool invocations by tool name and outcome."),
	); err != nil {
		return nil, err
	}
	if met.ToolDuration, err = m.Float64Histogram("koebridge.tool.duration",
		metric.WithDescription("Latency of tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Order backend.
	if met.BackendRequests, err = m.Int64Counter("koebridge.backend.requests",
		metric.WithDescription("Order-backend API requests by operation and outcome."),
	); err != nil {
		return nil, err
	}
	if met.BackendRequestDuration, err = m.Float64Histogram("koebridge.backend.request.duration",
		metric.WithDescription("Latency of order-backend requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// HTTP surface.
	if met.HTTPRequestDuration, err = m.Float64Histogram("koebridge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.WebhookLookups, err = m.Int64Counter("koebridge.webhook.lookups",
		metric.WithDescription("Webhook customer lookups by whether a record was found."),
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

// RecordLLMEvent records a realtime API event counter increment tagged with
// the wire event type.
func (m *Metrics) RecordLLMEvent(ctx context.Context, event string) {
	m.LLMEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("event", event)),
	)
}

// RecordToolCall records a tool call counter increment with the standard
// attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, outcome string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordBackendRequest records an order-backend request counter increment
// with the standard attribute set.
func (m *Metrics) RecordBackendRequest(ctx context.Context, op, outcome string) {
	m.BackendRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordWebhookLookup records a webhook customer lookup counter increment.
func (m *Metrics) RecordWebhookLookup(ctx context.Context, found bool) {
	m.WebhookLookups.Add(ctx, 1,
		metric.WithAttributes(attribute.String("found", strconv.FormatBool(found))),
	)
}
