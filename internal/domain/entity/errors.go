package entity

import (
	"errors"
	"fmt"

	"github.com/archon-research/stl-exchange/internal/pkg/fixedpoint"
)

// Sentinel errors. Callers classify failures with errors.Is.
var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientAssets = errors.New("insufficient assets")
	ErrInvalidState       = errors.New("order is not open")
	ErrInvalidTransition  = errors.New("invalid order status transition")
	ErrNotOwner           = errors.New("order belongs to another user")
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation error")
	ErrLedgerInvariant    = errors.New("ledger invariant violated")
)

// InsufficientFundsError reports a buy whose cost exceeds the fiat balance.
type InsufficientFundsError struct {
	Required  fixedpoint.Value
	Available fixedpoint.Value
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: required %s, available %s", e.Required, e.Available)
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// InsufficientAssetsError reports a sell larger than the available holding.
type InsufficientAssetsError struct {
	Symbol    string
	Required  fixedpoint.Value
	Available fixedpoint.Value
}

func (e *InsufficientAssetsError) Error() string {
	return fmt.Sprintf("insufficient %s: required %s, available %s", e.Symbol, e.Required, e.Available)
}

func (e *InsufficientAssetsError) Is(target error) bool {
	return target == ErrInsufficientAssets
}

// TransitionError reports an attempt to leave a terminal order status.
type TransitionError struct {
	OrderID int64
	From    OrderStatus
	To      OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %d: cannot transition %s -> %s", e.OrderID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
