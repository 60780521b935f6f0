package exchange

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/archon-research/stl-exchange/internal/domain/entity"
	"github.com/archon-research/stl-exchange/internal/ports/outbound"
)

// Matcher finds the resident order a new order trades against.
type Matcher struct {
	orders outbound.OrderRepository
}

// NewMatcher creates a matcher over the given order store.
func NewMatcher(orders outbound.OrderRepository) *Matcher {
	return &Matcher{orders: orders}
}

// FindMatchingOrder returns the best OPEN counter-order for order, or nil.
// The returned order stays locked until tx ends so no concurrent order can
// match against it.
func (m *Matcher) FindMatchingOrder(ctx context.Context, tx pgx.Tx, order *entity.Order) (*entity.Order, error) {
	match, err := m.orders.FindBestMatch(ctx, tx, order)
	if err != nil {
		return nil, fmt.Errorf("failed to find match for order %d: %w", order.ID, err)
	}
	if match != nil && !order.CanMatch(match) {
		return nil, fmt.Errorf("order store returned incompatible match %d for order %d", match.ID, order.ID)
	}
	return match, nil
}
