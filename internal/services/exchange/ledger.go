package exchange

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/archon-research/stl-exchange/internal/domain/entity"
	"github.com/archon-research/stl-exchange/internal/pkg/fixedpoint"
	"github.com/archon-research/stl-exchange/internal/ports/outbound"
)

// Ledger applies balance and holding changes inside the caller's transaction.
//
// Every operation locks the rows it touches, checks its precondition against
// the locked values and only then writes. A failed check returns an error
// without writing anything, so the caller's rollback leaves no trace.
type Ledger struct {
	accounts outbound.AccountRepository
}

// NewLedger creates a ledger over the given account repository.
func NewLedger(accounts outbound.AccountRepository) *Ledger {
	return &Ledger{accounts: accounts}
}

// LockAccount takes the exclusive lock on a user's account row.
func (l *Ledger) LockAccount(ctx context.Context, tx pgx.Tx, userID int64) (*entity.Account, error) {
	account, err := l.accounts.LockAccount(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock account of user %d: %w", userID, err)
	}
	return account, nil
}

// ReserveForBuy debits cost from the user's balance.
func (l *Ledger) ReserveForBuy(ctx context.Context, tx pgx.Tx, userID int64, cost fixedpoint.Value) error {
	account, err := l.LockAccount(ctx, tx, userID)
	if err != nil {
		return err
	}
	if account.Balance.LessThan(cost) {
		return &entity.InsufficientFundsError{Required: cost, Available: account.Balance}
	}

	account.Balance = account.Balance.Sub(cost)
	if err := l.accounts.UpdateBalance(ctx, tx, account); err != nil {
		return fmt.Errorf("failed to reserve funds: %w", err)
	}
	return nil
}

// ReserveForSell moves amount of symbol from available to locked.
// A user who never held symbol has zero available.
func (l *Ledger) ReserveForSell(ctx context.Context, tx pgx.Tx, userID int64, symbol string, amount fixedpoint.Value) error {
	holding, err := l.accounts.LockHolding(ctx, tx, userID, symbol)
	if err != nil {
		return fmt.Errorf("failed to lock %s holding of user %d: %w", symbol, userID, err)
	}

	available := fixedpoint.Zero
	if holding != nil {
		available = holding.Amount
	}
	if holding == nil || available.LessThan(amount) {
		return &entity.InsufficientAssetsError{Symbol: symbol, Required: amount, Available: available}
	}

	holding.Amount = holding.Amount.Sub(amount)
	holding.LockedAmount = holding.LockedAmount.Add(amount)
	if err := l.accounts.UpdateHolding(ctx, tx, holding); err != nil {
		return fmt.Errorf("failed to reserve assets: %w", err)
	}
	return nil
}

// ReleaseBuyReservation refunds cost to the user's balance.
func (l *Ledger) ReleaseBuyReservation(ctx context.Context, tx pgx.Tx, userID int64, cost fixedpoint.Value) error {
	if cost.IsNegative() {
		return fmt.Errorf("%w: negative refund %s", entity.ErrLedgerInvariant, cost)
	}
	account, err := l.LockAccount(ctx, tx, userID)
	if err != nil {
		return err
	}

	account.Balance = account.Balance.Add(cost)
	if err := l.accounts.UpdateBalance(ctx, tx, account); err != nil {
		return fmt.Errorf("failed to release funds: %w", err)
	}
	return nil
}

// ReleaseSellReservation moves amount of symbol from locked back to available.
func (l *Ledger) ReleaseSellReservation(ctx context.Context, tx pgx.Tx, userID int64, symbol string, amount fixedpoint.Value) error {
	holding, err := l.lockLockedHolding(ctx, tx, userID, symbol, amount)
	if err != nil {
		return err
	}

	holding.LockedAmount = holding.LockedAmount.Sub(amount)
	holding.Amount = holding.Amount.Add(amount)
	if err := l.accounts.UpdateHolding(ctx, tx, holding); err != nil {
		return fmt.Errorf("failed to release assets: %w", err)
	}
	return nil
}

// CreditSellerOnTrade consumes amount of the seller's locked symbol and pays
// usdNet into the seller's balance.
func (l *Ledger) CreditSellerOnTrade(ctx context.Context, tx pgx.Tx, sellerID int64, symbol string, amount, usdNet fixedpoint.Value) error {
	if usdNet.IsNegative() {
		return fmt.Errorf("%w: negative seller credit %s", entity.ErrLedgerInvariant, usdNet)
	}

	account, err := l.LockAccount(ctx, tx, sellerID)
	if err != nil {
		return err
	}
	holding, err := l.lockLockedHolding(ctx, tx, sellerID, symbol, amount)
	if err != nil {
		return err
	}

	holding.LockedAmount = holding.LockedAmount.Sub(amount)
	if err := l.accounts.UpdateHolding(ctx, tx, holding); err != nil {
		return fmt.Errorf("failed to debit seller assets: %w", err)
	}

	account.Balance = account.Balance.Add(usdNet)
	if err := l.accounts.UpdateBalance(ctx, tx, account); err != nil {
		return fmt.Errorf("failed to credit seller: %w", err)
	}
	return nil
}

// CreditBuyerOnTrade adds amount of symbol to the buyer's available holding,
// creating the holding if the buyer never held symbol. The buyer's fiat was
// debited when the order was placed and is not touched here.
func (l *Ledger) CreditBuyerOnTrade(ctx context.Context, tx pgx.Tx, buyerID int64, symbol string, amount fixedpoint.Value) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: negative buyer credit %s", entity.ErrLedgerInvariant, amount)
	}
	holding, err := l.accounts.LockOrCreateHolding(ctx, tx, buyerID, symbol)
	if err != nil {
		return fmt.Errorf("failed to lock %s holding of user %d: %w", symbol, buyerID, err)
	}

	holding.Amount = holding.Amount.Add(amount)
	if err := l.accounts.UpdateHolding(ctx, tx, holding); err != nil {
		return fmt.Errorf("failed to credit buyer: %w", err)
	}
	return nil
}

// lockLockedHolding locks a holding that must have at least amount locked.
func (l *Ledger) lockLockedHolding(ctx context.Context, tx pgx.Tx, userID int64, symbol string, amount fixedpoint.Value) (*entity.Holding, error) {
	holding, err := l.accounts.LockHolding(ctx, tx, userID, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s holding of user %d: %w", symbol, userID, err)
	}
	if holding == nil {
		return nil, fmt.Errorf("%w: user %d has no %s holding", entity.ErrLedgerInvariant, userID, symbol)
	}
	if holding.LockedAmount.LessThan(amount) {
		return nil, fmt.Errorf("%w: user %d has %s %s locked, need %s",
			entity.ErrLedgerInvariant, userID, holding.LockedAmount, symbol, amount)
	}
	return holding, nil
}
