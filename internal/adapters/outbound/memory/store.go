// Package memory provides an in-memory implementation of the exchange store.
//
// Store implements the TxManager, AccountRepository and OrderRepository ports
// over plain maps. Transactions are fully serialised: WithTransaction holds a
// store-wide lock, runs fn against a private copy of the committed state and
// swaps the copy in on success. Row locks are therefore implicit and a
// rolled-back transaction leaves no trace.
//
// Useful for unit tests and local development. For production, use the
// postgres adapter.
package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/archon-research/stl-exchange/internal/domain/entity"
	"github.com/archon-research/stl-exchange/internal/pkg/fixedpoint"
	"github.com/archon-research/stl-exchange/internal/ports/outbound"
)

// Compile-time checks that Store implements the outbound ports.
var (
	_ outbound.TxManager         = (*Store)(nil)
	_ outbound.AccountRepository = (*Store)(nil)
	_ outbound.OrderRepository   = (*Store)(nil)
)

// ErrForeignTx is returned when a repository method receives a transaction
// handle that was not created by the same Store.
var ErrForeignTx = errors.New("transaction does not belong to this store")

type holdingKey struct {
	userID int64
	symbol string
}

// state is one consistent snapshot of every table.
type state struct {
	accounts      map[int64]fixedpoint.Value
	holdings      map[holdingKey]entity.Holding
	orders        map[int64]entity.Order
	nextOrderID   int64
	lastCreatedAt time.Time
}

func newState() *state {
	return &state{
		accounts:    make(map[int64]fixedpoint.Value),
		holdings:    make(map[holdingKey]entity.Holding),
		orders:      make(map[int64]entity.Order),
		nextOrderID: 1,
	}
}

func (s *state) clone() *state {
	return &state{
		accounts:      maps.Clone(s.accounts),
		holdings:      maps.Clone(s.holdings),
		orders:        maps.Clone(s.orders),
		nextOrderID:   s.nextOrderID,
		lastCreatedAt: s.lastCreatedAt,
	}
}

// memTx is the transaction handle passed to fn. The embedded pgx.Tx is nil;
// only the repositories of the owning Store may use the handle.
type memTx struct {
	pgx.Tx
	store *Store
	state *state
}

// Store is an in-memory exchange store.
type Store struct {
	txMu sync.Mutex   // serialises transactions
	mu   sync.RWMutex // guards committed

	committed *state
	now       func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		committed: newState(),
		now:       time.Now,
	}
}

// WithTransaction runs fn against a private copy of the store and publishes
// the copy if fn returns nil.
func (s *Store) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	staged := s.committed.clone()
	s.mu.RUnlock()

	if err := fn(&memTx{store: s, state: staged}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.mu.Lock()
	s.committed = staged
	s.mu.Unlock()
	return nil
}

// txState returns the staged state behind tx.
func (s *Store) txState(tx pgx.Tx) (*state, error) {
	mtx, ok := tx.(*memTx)
	if !ok || mtx.store != s {
		return nil, ErrForeignTx
	}
	return mtx.state, nil
}

// read runs fn against the committed state.
func (s *Store) read(fn func(st *state)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.committed)
}

// HealthCheck verifies the store is operational.
func (s *Store) HealthCheck(ctx context.Context) error {
	// In-memory store is always healthy
	return ctx.Err()
}
