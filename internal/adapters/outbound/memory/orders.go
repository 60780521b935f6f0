package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/archon-research/stl-exchange/internal/domain/entity"
)

// CreateOrder stores an OPEN order and assigns its ID and timestamps.
// CreatedAt is strictly increasing across orders.
func (s *Store) CreateOrder(ctx context.Context, tx pgx.Tx, order *entity.Order) error {
	st, err := s.txState(tx)
	if err != nil {
		return err
	}
	if err := order.Validate(); err != nil {
		return err
	}
	if order.Status != entity.OrderStatusOpen {
		return fmt.Errorf("%w: new orders must be OPEN, got %s", entity.ErrValidation, order.Status)
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	if !now.After(st.lastCreatedAt) {
		now = st.lastCreatedAt.Add(time.Microsecond)
	}
	st.lastCreatedAt = now

	order.ID = st.nextOrderID
	order.CreatedAt = now
	order.UpdatedAt = now
	st.nextOrderID++
	st.orders[order.ID] = *order
	return nil
}

// FindBestMatch scans the staged orders for the best compatible counter-order.
func (s *Store) FindBestMatch(ctx context.Context, tx pgx.Tx, order *entity.Order) (*entity.Order, error) {
	st, err := s.txState(tx)
	if err != nil {
		return nil, err
	}

	var best *entity.Order
	for _, o := range st.orders {
		candidate := o
		if !order.CanMatch(&candidate) {
			continue
		}
		if best == nil || candidate.BetterThan(best) {
			best = &candidate
		}
	}
	return best, nil
}

// GetOrderForUpdate returns the staged order.
func (s *Store) GetOrderForUpdate(ctx context.Context, tx pgx.Tx, orderID int64) (*entity.Order, error) {
	st, err := s.txState(tx)
	if err != nil {
		return nil, err
	}
	o, ok := st.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", orderID, entity.ErrNotFound)
	}
	return &o, nil
}

// GetOrder returns the committed order.
func (s *Store) GetOrder(ctx context.Context, orderID int64) (*entity.Order, error) {
	var (
		o  entity.Order
		ok bool
	)
	s.read(func(st *state) {
		o, ok = st.orders[orderID]
	})
	if !ok {
		return nil, fmt.Errorf("order %d: %w", orderID, entity.ErrNotFound)
	}
	return &o, nil
}

// MarkFilled transitions a stored OPEN order to FILLED.
func (s *Store) MarkFilled(ctx context.Context, tx pgx.Tx, order *entity.Order) error {
	return s.transition(tx, order, (*entity.Order).MarkFilled)
}

// MarkCancelled transitions a stored OPEN order to CANCELLED.
func (s *Store) MarkCancelled(ctx context.Context, tx pgx.Tx, order *entity.Order) error {
	return s.transition(tx, order, (*entity.Order).MarkCancelled)
}

func (s *Store) transition(tx pgx.Tx, order *entity.Order, apply func(*entity.Order) error) error {
	st, err := s.txState(tx)
	if err != nil {
		return err
	}
	stored, ok := st.orders[order.ID]
	if !ok {
		return fmt.Errorf("order %d: %w", order.ID, entity.ErrNotFound)
	}
	// The stored status decides, not the caller's copy.
	if err := apply(&stored); err != nil {
		return err
	}
	stored.UpdatedAt = s.now().UTC()
	st.orders[order.ID] = stored

	order.Status = stored.Status
	order.UpdatedAt = stored.UpdatedAt
	return nil
}

// ListOpenOrders returns committed OPEN orders for symbol and side, best first.
func (s *Store) ListOpenOrders(ctx context.Context, symbol string, side entity.Side) ([]*entity.Order, error) {
	var result []*entity.Order
	s.read(func(st *state) {
		for _, o := range st.orders {
			if o.Symbol == symbol && o.Side == side && o.IsOpen() {
				order := o
				result = append(result, &order)
			}
		}
	})
	sort.Slice(result, func(i, j int) bool { return result[i].BetterThan(result[j]) })
	return result, nil
}

// ListOrdersByUser returns every committed order of userID, newest first.
func (s *Store) ListOrdersByUser(ctx context.Context, userID int64) ([]*entity.Order, error) {
	var result []*entity.Order
	s.read(func(st *state) {
		for _, o := range st.orders {
			if o.UserID == userID {
				order := o
				result = append(result, &order)
			}
		}
	})
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result, nil
}
