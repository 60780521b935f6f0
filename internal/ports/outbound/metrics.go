package outbound

import (
	"context"
	"time"

	"github.com/archon-research/stl-exchange/internal/pkg/fixedpoint"
)

// MetricsRecorder provides an interface for recording application metrics.
// This allows the application layer to record metrics without depending on
// specific telemetry implementations.
type MetricsRecorder interface {
	// RecordOrderPlaced counts an accepted order.
	RecordOrderPlaced(ctx context.Context, symbol, side string)

	// RecordOrderRejected counts an order rejected by the core, by reason.
	RecordOrderRejected(ctx context.Context, symbol, reason string)

	// RecordTrade counts a settled trade, its traded amount and the commission it earned.
	RecordTrade(ctx context.Context, symbol string, amount, commission fixedpoint.Value)

	// RecordOrderCancelled counts a cancellation.
	RecordOrderCancelled(ctx context.Context, symbol string)

	// RecordPlacementLatency records the duration of a PlaceOrder transaction.
	RecordPlacementLatency(ctx context.Context, duration time.Duration, status string)

	// RecordNotificationFailure counts a trade event that could not be delivered.
	RecordNotificationFailure(ctx context.Context, notifier string)
}
