package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all application metrics implementing the golden 4 signals:
// - Latency: How long requests and outbound dispatches take
// - Traffic: Request/dispatch throughput
// - Errors: Rejections and failed dispatches
// - Saturation: Queued requests and pending notifications
type Metrics struct {
	meter metric.Meter

	// HTTP metrics (Latency, Traffic, Errors)
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Scheduler metrics (Latency, Traffic, Errors, Saturation)
	RequestsSubmitted metric.Int64Counter
	RequestsRejected  metric.Int64Counter
	QueueDepth        metric.Int64UpDownCounter
	CacheLookups      metric.Int64Counter
	DispatchDuration  metric.Float64Histogram
	DispatchesTotal   metric.Int64Counter

	// Notification metrics (Latency, Traffic, Errors, Saturation)
	NotifyDuration  metric.Float64Histogram
	NotifyDelivered metric.Int64Counter
	NotifyFailed    metric.Int64Counter
	NotifyDropped   metric.Int64Counter
	NotifyQueueSize metric.Int64Gauge
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("curator")
	m := &Metrics{meter: meter}

	// HTTP metrics
	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Scheduler metrics
	m.RequestsSubmitted, err = meter.Int64Counter(
		"scheduler_requests_submitted_total",
		metric.WithDescription("Total number of requests admitted to a scheduler queue"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RequestsRejected, err = meter.Int64Counter(
		"scheduler_requests_rejected_total",
		metric.WithDescription("Total number of submissions rejected at admission"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.QueueDepth, err = meter.Int64UpDownCounter(
		"scheduler_queue_depth",
		metric.WithDescription("Requests waiting in scheduler queues (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CacheLookups, err = meter.Int64Counter(
		"scheduler_cache_lookups_total",
		metric.WithDescription("Total cache lookups by hit or miss"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatchDuration, err = meter.Float64Histogram(
		"scheduler_dispatch_duration_seconds",
		metric.WithDescription("Outbound dispatch latency in seconds, retries included"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatchesTotal, err = meter.Int64Counter(
		"scheduler_dispatches_total",
		metric.WithDescription("Total outbound dispatches by result"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Notification metrics
	m.NotifyDuration, err = meter.Float64Histogram(
		"notify_duration_seconds",
		metric.WithDescription("Notification delivery latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifyDelivered, err = meter.Int64Counter(
		"notify_delivered_total",
		metric.WithDescription("Total notifications delivered"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifyFailed, err = meter.Int64Counter(
		"notify_failed_total",
		metric.WithDescription("Total notifications whose single attempt failed"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifyDropped, err = meter.Int64Counter(
		"notify_dropped_total",
		metric.WithDescription("Total notifications dropped because the buffer was full"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifyQueueSize, err = meter.Int64Gauge(
		"notify_queue_size",
		metric.WithDescription("Current number of notifications waiting for delivery (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordSubmitted records an admitted request.
func (m *Metrics) RecordSubmitted(ctx context.Context) {
	m.RequestsSubmitted.Add(ctx, 1)
}

// RecordRejected records a submission rejected with the given error code.
func (m *Metrics) RecordRejected(ctx context.Context, reason string) {
	m.RequestsRejected.Add(ctx, 1, metric.WithAttributes(reasonAttr(reason)))
}

// RecordQueueDelta tracks requests entering (+1) and leaving (-1) queues.
func (m *Metrics) RecordQueueDelta(ctx context.Context, delta int64) {
	m.QueueDepth.Add(ctx, delta)
}

func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(hitAttr(hit)))
}

// RecordDispatch records one real dispatch. result is "success" or the
// failure kind.
func (m *Metrics) RecordDispatch(ctx context.Context, result string, durationSeconds float64) {
	attrs := metric.WithAttributes(resultAttr(result))
	m.DispatchDuration.Record(ctx, durationSeconds, attrs)
	m.DispatchesTotal.Add(ctx, 1, attrs)
}

// RecordNotificationDelivered records a delivered notification with its duration.
func (m *Metrics) RecordNotificationDelivered(ctx context.Context, durationSeconds float64) {
	m.NotifyDelivered.Add(ctx, 1)
	m.NotifyDuration.Record(ctx, durationSeconds)
}

func (m *Metrics) RecordNotificationFailed(ctx context.Context) {
	m.NotifyFailed.Add(ctx, 1)
}

func (m *Metrics) RecordNotificationDropped(ctx context.Context) {
	m.NotifyDropped.Add(ctx, 1)
}

func (m *Metrics) RecordNotificationQueueSize(ctx context.Context, size int64) {
	m.NotifyQueueSize.Record(ctx, size)
}
