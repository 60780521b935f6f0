package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// HTTPMetrics records request-level metrics for the REST adapter.
type HTTPMetrics struct {
	requestDuration metric.Float64Histogram
	rateLimited     metric.Int64Counter
}

// NewHTTPMetrics creates HTTP metrics on the global meter provider.
// meterName should typically be the package name or service name.
func NewHTTPMetrics(meterName string) (*HTTPMetrics, error) {
	return NewHTTPMetricsWithProvider(otel.GetMeterProvider(), meterName)
}

// NewHTTPMetricsWithProvider creates HTTP metrics on mp.
func NewHTTPMetricsWithProvider(mp metric.MeterProvider, meterName string) (*HTTPMetrics, error) {
	meter := mp.Meter(meterName)

	duration, err := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("Duration of HTTP requests"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.server.request.duration histogram: %w", err)
	}

	limited, err := meter.Int64Counter(
		"http.server.rate_limited.total",
		metric.WithDescription("Requests rejected by the per-user rate limiter"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.server.rate_limited.total counter: %w", err)
	}

	return &HTTPMetrics{
		requestDuration: duration,
		rateLimited:     limited,
	}, nil
}

// RecordRequest records the duration and outcome of one request.
func (m *HTTPMetrics) RecordRequest(ctx context.Context, route string, status int, duration time.Duration) {
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("http.route", route),
		attribute.Int("http.response.status_code", status),
	))
}

// RecordRateLimited counts a request rejected by the rate limiter.
func (m *HTTPMetrics) RecordRateLimited(ctx context.Context, route string) {
	m.rateLimited.Add(ctx, 1, metric.WithAttributes(attribute.String("http.route", route)))
}
