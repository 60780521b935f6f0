package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/archon-research/stl-exchange/internal/ports/outbound"
)

// PostgreSQL error codes the store reacts to.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
	pgCheckViolation       = "23514"
)

// rollback rolls back the transaction and logs the error if it is not pgx.ErrTxClosed.
func rollback(ctx context.Context, tx pgx.Tx, logger *slog.Logger) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		logger.Error("failed to rollback transaction", "error", err)
	}
}

// classifyTxError marks deadlock and serialization aborts as outbound.ErrTxConflict.
func classifyTxError(err error) error {
	if hasPgCode(err, pgDeadlockDetected, pgSerializationFailure) {
		return fmt.Errorf("%w: %w", outbound.ErrTxConflict, err)
	}
	return err
}

func hasPgCode(err error, codes ...string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	for _, c := range codes {
		if pgErr.Code == c {
			return true
		}
	}
	return false
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
