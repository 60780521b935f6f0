package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archon-research/stl-exchange/internal/domain/entity"
	"github.com/archon-research/stl-exchange/internal/ports/outbound"
)

// Compile-time check that AccountRepository implements outbound.AccountRepository
var _ outbound.AccountRepository = (*AccountRepository)(nil)

// AccountRepository is a PostgreSQL implementation of the outbound.AccountRepository port.
//
// Numeric columns are read as text and parsed into fixedpoint.Value so no
// value ever passes through a float.
type AccountRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewAccountRepository creates a new PostgreSQL account repository.
func NewAccountRepository(pool *pgxpool.Pool, logger *slog.Logger) (*AccountRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountRepository{
		pool:   pool,
		logger: logger.With("component", "account-repository"),
	}, nil
}

// CreateAccount inserts a new account.
func (r *AccountRepository) CreateAccount(ctx context.Context, tx pgx.Tx, account entity.Account) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO accounts (user_id, balance) VALUES ($1, $2)`,
		account.UserID, account.Balance.String())
	if err != nil {
		if hasPgCode(err, pgUniqueViolation) {
			return fmt.Errorf("account for user %d already exists: %w", account.UserID, err)
		}
		return fmt.Errorf("failed to create account: %w", mapCheckViolation(err))
	}
	return nil
}

// LockAccount returns the account row locked FOR UPDATE.
func (r *AccountRepository) LockAccount(ctx context.Context, tx pgx.Tx, userID int64) (*entity.Account, error) {
	account := &entity.Account{UserID: userID}
	err := tx.QueryRow(ctx,
		`SELECT balance::text FROM accounts WHERE user_id = $1 FOR UPDATE`,
		userID).Scan(&account.Balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account for user %d: %w", userID, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}
	return account, nil
}

// UpdateBalance overwrites the account balance.
func (r *AccountRepository) UpdateBalance(ctx context.Context, tx pgx.Tx, account *entity.Account) error {
	tag, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = $2, updated_at = now() WHERE user_id = $1`,
		account.UserID, account.Balance.String())
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", mapCheckViolation(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account for user %d: %w", account.UserID, entity.ErrNotFound)
	}
	return nil
}

const selectHolding = `SELECT user_id, symbol, amount::text, locked_amount::text
	FROM holdings WHERE user_id = $1 AND symbol = $2 FOR UPDATE`

// LockHolding returns the holding row locked FOR UPDATE, or nil if absent.
func (r *AccountRepository) LockHolding(ctx context.Context, tx pgx.Tx, userID int64, symbol string) (*entity.Holding, error) {
	h, err := scanHolding(tx.QueryRow(ctx, selectHolding, userID, symbol))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock holding: %w", err)
	}
	return h, nil
}

// LockOrCreateHolding inserts a zero holding if absent and returns the row locked.
func (r *AccountRepository) LockOrCreateHolding(ctx context.Context, tx pgx.Tx, userID int64, symbol string) (*entity.Holding, error) {
	_, err := tx.Exec(ctx,
		`INSERT INTO holdings (user_id, symbol, amount, locked_amount)
		 VALUES ($1, $2, 0, 0)
		 ON CONFLICT (user_id, symbol) DO NOTHING`,
		userID, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to create holding: %w", err)
	}

	h, err := scanHolding(tx.QueryRow(ctx, selectHolding, userID, symbol))
	if err != nil {
		return nil, fmt.Errorf("failed to lock holding: %w", err)
	}
	return h, nil
}

// UpdateHolding overwrites amount and locked_amount of an existing holding.
func (r *AccountRepository) UpdateHolding(ctx context.Context, tx pgx.Tx, holding *entity.Holding) error {
	tag, err := tx.Exec(ctx,
		`UPDATE holdings SET amount = $3, locked_amount = $4, updated_at = now()
		 WHERE user_id = $1 AND symbol = $2`,
		holding.UserID, holding.Symbol, holding.Amount.String(), holding.LockedAmount.String())
	if err != nil {
		return fmt.Errorf("failed to update holding: %w", mapCheckViolation(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s holding of user %d: %w", holding.Symbol, holding.UserID, entity.ErrNotFound)
	}
	return nil
}

// UpsertHolding sets a holding to the given values, creating it if needed.
func (r *AccountRepository) UpsertHolding(ctx context.Context, tx pgx.Tx, holding entity.Holding) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO holdings (user_id, symbol, amount, locked_amount)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, symbol)
		 DO UPDATE SET amount = EXCLUDED.amount, locked_amount = EXCLUDED.locked_amount, updated_at = now()`,
		holding.UserID, holding.Symbol, holding.Amount.String(), holding.LockedAmount.String())
	if err != nil {
		return fmt.Errorf("failed to upsert holding: %w", mapCheckViolation(err))
	}
	return nil
}

// GetPortfolio reads the balance and all holdings of a user within tx.
func (r *AccountRepository) GetPortfolio(ctx context.Context, tx pgx.Tx, userID int64) (*entity.Portfolio, error) {
	p := &entity.Portfolio{UserID: userID, Holdings: []entity.Holding{}}
	err := tx.QueryRow(ctx,
		`SELECT balance::text FROM accounts WHERE user_id = $1`,
		userID).Scan(&p.Balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account for user %d: %w", userID, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read account: %w", err)
	}

	rows, err := tx.Query(ctx,
		`SELECT user_id, symbol, amount::text, locked_amount::text
		 FROM holdings WHERE user_id = $1 ORDER BY symbol`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		p.Holdings = append(p.Holdings, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate holdings: %w", err)
	}
	return p, nil
}

func scanHolding(row rowScanner) (*entity.Holding, error) {
	var h entity.Holding
	if err := row.Scan(&h.UserID, &h.Symbol, &h.Amount, &h.LockedAmount); err != nil {
		return nil, err
	}
	return &h, nil
}

// mapCheckViolation turns a non-negativity CHECK failure into ErrLedgerInvariant.
func mapCheckViolation(err error) error {
	if hasPgCode(err, pgCheckViolation) {
		return fmt.Errorf("%w: %w", entity.ErrLedgerInvariant, err)
	}
	return err
}
