// Package inbound contains the primary/inbound ports.
// These interfaces define the use cases that the exchange exposes.
package inbound

import (
	"context"
	"time"

	"github.com/archon-research/stl-exchange/internal/domain/entity"
	"github.com/archon-research/stl-exchange/internal/pkg/fixedpoint"
)

// BookEntry is an OPEN order as shown in the public order book. It omits
// the owner and the status.
type BookEntry struct {
	ID        int64            `json:"id"`
	Symbol    string           `json:"symbol"`
	Side      entity.Side      `json:"side"`
	Price     fixedpoint.Value `json:"price"`
	Amount    fixedpoint.Value `json:"amount"`
	CreatedAt time.Time        `json:"created_at"`
}

// OrderBook is the public view of OPEN orders for one symbol.
// Buys are sorted by price descending, sells by price ascending, then by time.
type OrderBook struct {
	Buys  []BookEntry `json:"buy_orders"`
	Sells []BookEntry `json:"sell_orders"`
}

// ExchangeService defines the primary use cases of the exchange core.
// Inbound adapters (HTTP handlers, CLI) call these methods.
type ExchangeService interface {
	// PlaceOrder reserves funds or assets, records the order and settles it
	// immediately if a compatible resident order exists.
	PlaceOrder(ctx context.Context, userID int64, symbol string, side entity.Side, price, amount fixedpoint.Value) (*entity.Order, error)

	// CancelOrder cancels an OPEN order owned by userID and releases its reservation.
	CancelOrder(ctx context.Context, userID, orderID int64) (*entity.Order, error)

	// ListOpenOrders returns the order book for symbol.
	ListOpenOrders(ctx context.Context, symbol string) (*OrderBook, error)

	// ListMyOrders returns all orders of userID, newest first.
	ListMyOrders(ctx context.Context, userID int64) ([]*entity.Order, error)

	// GetPortfolio returns the balance and holdings of userID.
	GetPortfolio(ctx context.Context, userID int64) (*entity.Portfolio, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}

// HealthChecker defines the interface for services that can report readiness and liveness.
// Used by the health server for load balancer and orchestrator probes.
type HealthChecker interface {
	// IsReady returns true when the service can accept orders, i.e. the
	// backing store answers.
	IsReady() bool

	// IsHealthy returns true when the process is operating normally.
	IsHealthy() bool
}
