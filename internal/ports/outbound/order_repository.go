package outbound

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/archon-research/stl-exchange/internal/domain/entity"
)

// OrderRepository persists orders and answers matching queries.
type OrderRepository interface {
	// CreateOrder inserts an OPEN order and fills in its ID, CreatedAt and UpdatedAt.
	CreateOrder(ctx context.Context, tx pgx.Tx, order *entity.Order) error

	// FindBestMatch returns the single best compatible OPEN counter-order for
	// order, locked for update, or nil if none exists. Compatibility is
	// entity.Order.CanMatch; priority is entity.Order.BetterThan.
	FindBestMatch(ctx context.Context, tx pgx.Tx, order *entity.Order) (*entity.Order, error)

	// GetOrderForUpdate returns the order locked for update.
	// Returns entity.ErrNotFound if no such order exists.
	GetOrderForUpdate(ctx context.Context, tx pgx.Tx, orderID int64) (*entity.Order, error)

	// GetOrder reads an order without locking it.
	// Returns entity.ErrNotFound if no such order exists.
	GetOrder(ctx context.Context, orderID int64) (*entity.Order, error)

	// MarkFilled transitions an OPEN order to FILLED.
	// Fails with entity.ErrInvalidTransition if the stored status is not OPEN.
	MarkFilled(ctx context.Context, tx pgx.Tx, order *entity.Order) error

	// MarkCancelled transitions an OPEN order to CANCELLED.
	// Fails with entity.ErrInvalidTransition if the stored status is not OPEN.
	MarkCancelled(ctx context.Context, tx pgx.Tx, order *entity.Order) error

	// ListOpenOrders returns OPEN orders for symbol and side in priority order.
	ListOpenOrders(ctx context.Context, symbol string, side entity.Side) ([]*entity.Order, error)

	// ListOrdersByUser returns every order of a user, newest first.
	ListOrdersByUser(ctx context.Context, userID int64) ([]*entity.Order, error)

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error
}
