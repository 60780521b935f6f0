package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archon-research/stl-exchange/internal/ports/outbound"
)

// Compile-time check that TxManager implements outbound.TxManager
var _ outbound.TxManager = (*TxManager)(nil)

// TxManager provides transaction lifecycle management across the account and
// order repositories. Order placement, settlement and cancellation each run
// inside a single call to WithTransaction.
//
// Usage:
//
//	txm, _ := postgres.NewTxManager(pool, logger)
//	err := txm.WithTransaction(ctx, func(tx pgx.Tx) error {
//	    account, err := accounts.LockAccount(ctx, tx, userID)
//	    if err != nil {
//	        return err // triggers rollback
//	    }
//	    return orders.CreateOrder(ctx, tx, order)
//	})
type TxManager struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewTxManager creates a new transaction manager.
// Returns an error if the pool is nil.
func NewTxManager(pool *pgxpool.Pool, logger *slog.Logger) (*TxManager, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TxManager{
		pool:   pool,
		logger: logger.With("component", "tx-manager"),
	}, nil
}

// WithTransaction executes fn within a READ COMMITTED transaction.
// If fn returns an error, the transaction is rolled back.
// If fn succeeds, the transaction is committed.
//
// The transaction is automatically rolled back if:
//   - fn returns an error
//   - fn panics (panic is re-raised after rollback)
//   - commit fails
//
// Deadlocks and serialization failures are returned wrapping
// outbound.ErrTxConflict. They are not retried.
func (m *TxManager) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return m.WithTransactionOptions(ctx, pgx.TxOptions{}, fn)
}

// WithTransactionOptions executes fn within a transaction with custom options.
func (m *TxManager) WithTransactionOptions(ctx context.Context, opts pgx.TxOptions, fn func(tx pgx.Tx) error) error {
	tx, err := m.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Handle panic by rolling back and re-raising
	defer func() {
		if p := recover(); p != nil {
			rollback(context.WithoutCancel(ctx), tx, m.logger)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		rollback(context.WithoutCancel(ctx), tx, m.logger)
		return classifyTxError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyTxError(fmt.Errorf("failed to commit transaction: %w", err))
	}

	return nil
}
