package outbound

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/archon-research/stl-exchange/internal/domain/entity"
)

// AccountRepository persists fiat accounts and per-symbol holdings.
//
// The Lock* methods take an exclusive row lock that is held until the
// enclosing transaction ends. Invariant checks live in the ledger service;
// repositories only read and write rows.
type AccountRepository interface {
	// CreateAccount inserts a new account. Fails if one already exists.
	CreateAccount(ctx context.Context, tx pgx.Tx, account entity.Account) error

	// LockAccount returns the account for userID, locked for update.
	// Returns entity.ErrNotFound if the user has no account.
	LockAccount(ctx context.Context, tx pgx.Tx, userID int64) (*entity.Account, error)

	// UpdateBalance overwrites the account balance.
	UpdateBalance(ctx context.Context, tx pgx.Tx, account *entity.Account) error

	// LockHolding returns the (userID, symbol) holding locked for update,
	// or nil if the user has never held the symbol.
	LockHolding(ctx context.Context, tx pgx.Tx, userID int64, symbol string) (*entity.Holding, error)

	// LockOrCreateHolding is LockHolding, creating a zero holding first if absent.
	LockOrCreateHolding(ctx context.Context, tx pgx.Tx, userID int64, symbol string) (*entity.Holding, error)

	// UpdateHolding overwrites amount and locked_amount of an existing holding.
	UpdateHolding(ctx context.Context, tx pgx.Tx, holding *entity.Holding) error

	// UpsertHolding sets a holding to the given values, creating it if needed.
	UpsertHolding(ctx context.Context, tx pgx.Tx, holding entity.Holding) error

	// GetPortfolio reads the balance and all holdings of a user within tx.
	GetPortfolio(ctx context.Context, tx pgx.Tx, userID int64) (*entity.Portfolio, error)
}
