package exchange

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/archon-research/stl-exchange/internal/domain/entity"
	"github.com/archon-research/stl-exchange/internal/pkg/fixedpoint"
	"github.com/archon-research/stl-exchange/internal/ports/outbound"
)

// SettlementEngine prices a match and applies it to the ledger and the order
// store inside the caller's transaction.
type SettlementEngine struct {
	orders         outbound.OrderRepository
	ledger         *Ledger
	commissionRate fixedpoint.Value
}

// NewSettlementEngine creates a settlement engine charging commissionRate to sellers.
func NewSettlementEngine(orders outbound.OrderRepository, ledger *Ledger, commissionRate fixedpoint.Value) *SettlementEngine {
	return &SettlementEngine{
		orders:         orders,
		ledger:         ledger,
		commissionRate: commissionRate,
	}
}

// ExecuteMatch settles newOrder against the resident matchedOrder.
// Both orders become FILLED, the seller's locked assets are consumed and the
// seller is paid the trade value net of commission, and the buyer receives
// the assets. Any error leaves tx in a state the caller must roll back.
func (e *SettlementEngine) ExecuteMatch(ctx context.Context, tx pgx.Tx, newOrder, matchedOrder *entity.Order) (*entity.Trade, error) {
	trade, err := entity.NewTrade(newOrder, matchedOrder, e.commissionRate)
	if err != nil {
		return nil, fmt.Errorf("failed to price match %d/%d: %w", newOrder.ID, matchedOrder.ID, err)
	}

	if err := e.orders.MarkFilled(ctx, tx, trade.BuyOrder); err != nil {
		return nil, fmt.Errorf("failed to fill buy order %d: %w", trade.BuyOrder.ID, err)
	}
	if err := e.orders.MarkFilled(ctx, tx, trade.SellOrder); err != nil {
		return nil, fmt.Errorf("failed to fill sell order %d: %w", trade.SellOrder.ID, err)
	}

	symbol := trade.Symbol()
	if err := e.ledger.CreditSellerOnTrade(ctx, tx, trade.SellOrder.UserID, symbol, trade.Amount, trade.SellerNet); err != nil {
		return nil, err
	}
	if err := e.ledger.CreditBuyerOnTrade(ctx, tx, trade.BuyOrder.UserID, symbol, trade.Amount); err != nil {
		return nil, err
	}

	return trade, nil
}
