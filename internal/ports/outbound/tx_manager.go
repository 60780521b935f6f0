// Package outbound defines the outbound (secondary) port interfaces that the
// exchange services depend on.
package outbound

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// ErrTxConflict is returned when the store aborted a transaction to break a
// deadlock or a serialization conflict. The transaction has been fully rolled
// back and the caller may resubmit the request.
var ErrTxConflict = errors.New("transaction aborted by concurrent update")

// TxManager defines the interface for database transaction management.
// Services inject this to run ledger, order and settlement writes inside a
// single atomic transaction.
//
// Repositories receive the transaction handle and must not commit or roll it
// back themselves.
type TxManager interface {
	// WithTransaction executes fn within a database transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn succeeds, the transaction is committed.
	WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error
}
