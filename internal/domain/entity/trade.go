package entity

import (
	"fmt"

	"github.com/archon-research/stl-exchange/internal/pkg/fixedpoint"
)

// DefaultCommissionRate is charged to the seller on every trade (1.5%).
var DefaultCommissionRate = fixedpoint.MustParse("0.015")

// Trade is the economic outcome of settling one buy order against one sell order.
type Trade struct {
	BuyOrder      *Order
	SellOrder     *Order
	ExecutedPrice fixedpoint.Value
	Amount        fixedpoint.Value
	Value         fixedpoint.Value
	Commission    fixedpoint.Value
	SellerNet     fixedpoint.Value
}

// Symbol returns the traded asset symbol.
func (t *Trade) Symbol() string {
	return t.BuyOrder.Symbol
}

// NewTrade prices a match between the incoming (taker) order and the resident
// (maker) order. The maker's price is the executed price regardless of side.
//
//	value      = trunc8(amount x executedPrice)
//	commission = trunc8(value x rate)
//	sellerNet  = value - commission
func NewTrade(taker, maker *Order, rate fixedpoint.Value) (*Trade, error) {
	if taker == nil || maker == nil {
		return nil, fmt.Errorf("%w: both orders are required", ErrValidation)
	}
	if taker.Side == maker.Side {
		return nil, fmt.Errorf("%w: orders %d and %d are on the same side", ErrValidation, taker.ID, maker.ID)
	}
	if taker.Symbol != maker.Symbol {
		return nil, fmt.Errorf("%w: symbol mismatch %s/%s", ErrValidation, taker.Symbol, maker.Symbol)
	}
	if !taker.Amount.Equal(maker.Amount) {
		return nil, fmt.Errorf("%w: amount mismatch %s/%s", ErrValidation, taker.Amount, maker.Amount)
	}
	if rate.IsNegative() {
		return nil, fmt.Errorf("%w: commission rate must not be negative", ErrValidation)
	}

	buy, sell := taker, maker
	if taker.Side == SideSell {
		buy, sell = maker, taker
	}

	price := maker.Price
	amount := taker.Amount
	value := amount.Mul(price)
	commission := value.Mul(rate)

	return &Trade{
		BuyOrder:      buy,
		SellOrder:     sell,
		ExecutedPrice: price,
		Amount:        amount,
		Value:         value,
		Commission:    commission,
		SellerNet:     value.Sub(commission),
	}, nil
}
