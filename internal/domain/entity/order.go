package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/archon-research/stl-exchange/internal/pkg/fixedpoint"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide converts user input into a Side.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", fmt.Errorf("%w: side must be buy or sell, got %q", ErrValidation, s)
	}
}

// Opposite returns the side an order must match against.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus is the lifecycle state of an order. The numeric values are the
// ones persisted in the orders.status column.
type OrderStatus int16

const (
	OrderStatusOpen      OrderStatus = 1
	OrderStatusFilled    OrderStatus = 2
	OrderStatusCancelled OrderStatus = 3
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusOpen:
		return "OPEN"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("OrderStatus(%d)", int16(s))
	}
}

// IsTerminal reports whether no further transition is allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled
}

// Order is a single buy or sell intent for the full Amount at Price.
type Order struct {
	ID        int64
	UserID    int64
	Symbol    string
	Side      Side
	Price     fixedpoint.Value
	Amount    fixedpoint.Value
	Status    OrderStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewOrder validates the order fields and returns an OPEN order that has not
// been persisted yet (ID and CreatedAt are assigned by the order store).
func NewOrder(userID int64, symbol string, side Side, price, amount fixedpoint.Value) (*Order, error) {
	o := &Order{
		UserID: userID,
		Symbol: symbol,
		Side:   side,
		Price:  price,
		Amount: amount,
		Status: OrderStatusOpen,
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// Validate checks the invariants every stored order must satisfy.
func (o *Order) Validate() error {
	if o.UserID <= 0 {
		return fmt.Errorf("%w: user id must be positive, got %d", ErrValidation, o.UserID)
	}
	if o.Symbol == "" {
		return fmt.Errorf("%w: symbol must not be empty", ErrValidation)
	}
	if o.Side != SideBuy && o.Side != SideSell {
		return fmt.Errorf("%w: side must be buy or sell, got %q", ErrValidation, o.Side)
	}
	if !o.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive, got %s", ErrValidation, o.Price)
	}
	if !o.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive, got %s", ErrValidation, o.Amount)
	}
	return nil
}

// Cost is the fiat reserved by a buy order: amount x price at 8 digits.
func (o *Order) Cost() fixedpoint.Value {
	return o.Amount.Mul(o.Price)
}

// IsOpen reports whether the order is still in the book.
func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusOpen
}

// CanMatch reports whether candidate is an acceptable counter-order for o:
// same symbol, opposite side, different owner, OPEN, exact amount and a
// crossing price.
func (o *Order) CanMatch(candidate *Order) bool {
	if candidate == nil || candidate.ID == o.ID {
		return false
	}
	if candidate.Symbol != o.Symbol || candidate.Side != o.Side.Opposite() {
		return false
	}
	if candidate.UserID == o.UserID || !candidate.IsOpen() {
		return false
	}
	if !candidate.Amount.Equal(o.Amount) {
		return false
	}
	if o.Side == SideBuy {
		return candidate.Price.Cmp(o.Price) <= 0
	}
	return candidate.Price.Cmp(o.Price) >= 0
}

// BetterThan reports whether o has priority over other when both rest on the
// same side of the book: best price first, then earliest CreatedAt, then lowest ID.
func (o *Order) BetterThan(other *Order) bool {
	if c := o.Price.Cmp(other.Price); c != 0 {
		if o.Side == SideSell {
			return c < 0
		}
		return c > 0
	}
	if !o.CreatedAt.Equal(other.CreatedAt) {
		return o.CreatedAt.Before(other.CreatedAt)
	}
	return o.ID < other.ID
}

// transition moves an OPEN order into a terminal status.
func (o *Order) transition(to OrderStatus) error {
	if o.Status != OrderStatusOpen {
		return &TransitionError{OrderID: o.ID, From: o.Status, To: to}
	}
	o.Status = to
	return nil
}

// MarkFilled transitions OPEN -> FILLED.
func (o *Order) MarkFilled() error {
	return o.transition(OrderStatusFilled)
}

// MarkCancelled transitions OPEN -> CANCELLED.
func (o *Order) MarkCancelled() error {
	return o.transition(OrderStatusCancelled)
}
