package entity

import (
	"github.com/archon-research/stl-exchange/internal/pkg/fixedpoint"
)

// Account holds a user's custodial fiat balance. Balance never goes negative.
type Account struct {
	UserID  int64
	Balance fixedpoint.Value
}

// Holding is a user's position in one asset symbol. Amount is freely
// available, LockedAmount is reserved by OPEN sell orders.
type Holding struct {
	UserID       int64
	Symbol       string
	Amount       fixedpoint.Value
	LockedAmount fixedpoint.Value
}

// Total returns Amount + LockedAmount.
func (h *Holding) Total() fixedpoint.Value {
	return h.Amount.Add(h.LockedAmount)
}

// Portfolio is a read-only view of everything a user owns.
type Portfolio struct {
	UserID   int64
	Balance  fixedpoint.Value
	Holdings []Holding
}
