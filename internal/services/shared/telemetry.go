// Package shared provides instrumentation shared by application services.
package shared

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/archon-research/stl-exchange/internal/pkg/fixedpoint"
	"github.com/archon-research/stl-exchange/internal/ports/outbound"
)

// Compile-time assertion that AppTelemetry implements MetricsRecorder.
var _ outbound.MetricsRecorder = (*AppTelemetry)(nil)

const (
	// instrumentationName is the name used for OpenTelemetry instrumentation.
	instrumentationName = "github.com/archon-research/stl-exchange/internal/services"
)

// AppTelemetry provides OpenTelemetry metrics for exchange domain events.
// Adapter-level concerns such as HTTP latency live in the telemetry adapter.
type AppTelemetry struct {
	meter metric.Meter

	// Order metrics
	ordersPlaced    metric.Int64Counter
	ordersRejected  metric.Int64Counter
	ordersCancelled metric.Int64Counter
	placeLatency    metric.Float64Histogram

	// Trade metrics
	tradesTotal     metric.Int64Counter
	tradedAmount    metric.Float64Counter
	commissionTotal metric.Float64Counter

	notifyFailures metric.Int64Counter
}

// NewAppTelemetry creates a new AppTelemetry instance with OpenTelemetry instrumentation.
// Uses the global meter provider by default.
func NewAppTelemetry() (*AppTelemetry, error) {
	return NewAppTelemetryWithProvider(otel.GetMeterProvider())
}

// NewAppTelemetryWithProvider creates a new AppTelemetry instance with a custom meter provider.
func NewAppTelemetryWithProvider(mp metric.MeterProvider) (*AppTelemetry, error) {
	meter := mp.Meter(instrumentationName)

	t := &AppTelemetry{
		meter: meter,
	}

	var err error

	t.ordersPlaced, err = meter.Int64Counter(
		"exchange.orders.placed.total",
		metric.WithDescription("Total number of accepted orders"),
	)
	if err != nil {
		return nil, err
	}

	t.ordersRejected, err = meter.Int64Counter(
		"exchange.orders.rejected.total",
		metric.WithDescription("Total number of orders rejected before reaching the book"),
	)
	if err != nil {
		return nil, err
	}

	t.ordersCancelled, err = meter.Int64Counter(
		"exchange.orders.cancelled.total",
		metric.WithDescription("Total number of cancelled orders"),
	)
	if err != nil {
		return nil, err
	}

	t.placeLatency, err = meter.Float64Histogram(
		"exchange.orders.place.duration",
		metric.WithDescription("Duration of order placement transactions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	t.tradesTotal, err = meter.Int64Counter(
		"exchange.trades.total",
		metric.WithDescription("Total number of settled trades"),
	)
	if err != nil {
		return nil, err
	}

	t.tradedAmount, err = meter.Float64Counter(
		"exchange.trades.amount",
		metric.WithDescription("Asset amount exchanged in settled trades"),
	)
	if err != nil {
		return nil, err
	}

	t.commissionTotal, err = meter.Float64Counter(
		"exchange.trades.commission",
		metric.WithDescription("Commission withheld from sellers, in USD"),
		metric.WithUnit("USD"),
	)
	if err != nil {
		return nil, err
	}

	t.notifyFailures, err = meter.Int64Counter(
		"exchange.notifications.failed.total",
		metric.WithDescription("Trade events that could not be delivered"),
	)
	if err != nil {
		return nil, err
	}

	return t, nil
}

// RecordOrderPlaced counts an accepted order.
func (t *AppTelemetry) RecordOrderPlaced(ctx context.Context, symbol, side string) {
	t.ordersPlaced.Add(ctx, 1, metric.WithAttributes(
		attribute.String("symbol", symbol),
		attribute.String("side", side),
	))
}

// RecordOrderRejected counts a rejected order by reason.
func (t *AppTelemetry) RecordOrderRejected(ctx context.Context, symbol, reason string) {
	t.ordersRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("symbol", symbol),
		attribute.String("reason", reason),
	))
}

// RecordTrade counts a settled trade. Amounts are exported as floats and are
// for dashboards only.
func (t *AppTelemetry) RecordTrade(ctx context.Context, symbol string, amount, commission fixedpoint.Value) {
	attrs := metric.WithAttributes(attribute.String("symbol", symbol))
	t.tradesTotal.Add(ctx, 1, attrs)
	t.tradedAmount.Add(ctx, amount.Decimal().InexactFloat64(), attrs)
	t.commissionTotal.Add(ctx, commission.Decimal().InexactFloat64(), attrs)
}

// RecordOrderCancelled counts a cancellation.
func (t *AppTelemetry) RecordOrderCancelled(ctx context.Context, symbol string) {
	t.ordersCancelled.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", symbol)))
}

// RecordPlacementLatency records the duration of a placement transaction.
func (t *AppTelemetry) RecordPlacementLatency(ctx context.Context, duration time.Duration, status string) {
	t.placeLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

// RecordNotificationFailure counts an undelivered trade event.
func (t *AppTelemetry) RecordNotificationFailure(ctx context.Context, notifier string) {
	t.notifyFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("notifier", notifier)))
}
