package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archon-research/stl-exchange/internal/domain/entity"
	"github.com/archon-research/stl-exchange/internal/ports/outbound"
)

// Compile-time check that OrderRepository implements outbound.OrderRepository
var _ outbound.OrderRepository = (*OrderRepository)(nil)

// OrderRepository is a PostgreSQL implementation of the outbound.OrderRepository port.
type OrderRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewOrderRepository creates a new PostgreSQL order repository.
func NewOrderRepository(pool *pgxpool.Pool, logger *slog.Logger) (*OrderRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderRepository{
		pool:   pool,
		logger: logger.With("component", "order-repository"),
	}, nil
}

const orderColumns = `id, user_id, symbol, side, price::text, amount::text, status, created_at, updated_at`

// CreateOrder inserts an OPEN order. created_at comes from clock_timestamp()
// so orders placed inside one transaction still get distinct times.
func (r *OrderRepository) CreateOrder(ctx context.Context, tx pgx.Tx, order *entity.Order) error {
	if err := order.Validate(); err != nil {
		return err
	}
	err := tx.QueryRow(ctx,
		`INSERT INTO orders (user_id, symbol, side, price, amount, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		order.UserID, order.Symbol, string(order.Side), order.Price.String(), order.Amount.String(), int16(entity.OrderStatusOpen),
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	order.Status = entity.OrderStatusOpen
	return nil
}

// FindBestMatch selects and locks the best compatible counter-order.
//
// Under READ COMMITTED the row lock is taken below the LIMIT, so a candidate
// that a concurrent transaction fills while we wait on its lock fails the
// status recheck and the next candidate is returned instead.
func (r *OrderRepository) FindBestMatch(ctx context.Context, tx pgx.Tx, order *entity.Order) (*entity.Order, error) {
	var query string
	switch order.Side {
	case entity.SideBuy:
		query = `SELECT ` + orderColumns + ` FROM orders
			WHERE symbol = $1 AND side = 'sell' AND status = 1
			  AND user_id <> $2 AND amount = $3 AND price <= $4
			ORDER BY price ASC, created_at ASC, id ASC
			LIMIT 1
			FOR UPDATE`
	case entity.SideSell:
		query = `SELECT ` + orderColumns + ` FROM orders
			WHERE symbol = $1 AND side = 'buy' AND status = 1
			  AND user_id <> $2 AND amount = $3 AND price >= $4
			ORDER BY price DESC, created_at ASC, id ASC
			LIMIT 1
			FOR UPDATE`
	default:
		return nil, fmt.Errorf("%w: unknown side %q", entity.ErrValidation, order.Side)
	}

	match, err := scanOrder(tx.QueryRow(ctx, query, order.Symbol, order.UserID, order.Amount.String(), order.Price.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query best match: %w", err)
	}
	return match, nil
}

// GetOrderForUpdate returns the order row locked FOR UPDATE.
func (r *OrderRepository) GetOrderForUpdate(ctx context.Context, tx pgx.Tx, orderID int64) (*entity.Order, error) {
	o, err := scanOrder(tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", orderID, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}
	return o, nil
}

// GetOrder reads an order without locking it.
func (r *OrderRepository) GetOrder(ctx context.Context, orderID int64) (*entity.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", orderID, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

// MarkFilled transitions an OPEN order to FILLED.
func (r *OrderRepository) MarkFilled(ctx context.Context, tx pgx.Tx, order *entity.Order) error {
	return r.transition(ctx, tx, order, entity.OrderStatusFilled)
}

// MarkCancelled transitions an OPEN order to CANCELLED.
func (r *OrderRepository) MarkCancelled(ctx context.Context, tx pgx.Tx, order *entity.Order) error {
	return r.transition(ctx, tx, order, entity.OrderStatusCancelled)
}

// transition updates the row only if it is still OPEN.
func (r *OrderRepository) transition(ctx context.Context, tx pgx.Tx, order *entity.Order, to entity.OrderStatus) error {
	var updatedAt time.Time
	err := tx.QueryRow(ctx,
		`UPDATE orders SET status = $2, updated_at = now()
		 WHERE id = $1 AND status = 1
		 RETURNING updated_at`,
		order.ID, int16(to)).Scan(&updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		var current int16
		if err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, order.ID).Scan(&current); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("order %d: %w", order.ID, entity.ErrNotFound)
			}
			return fmt.Errorf("failed to read order status: %w", err)
		}
		return &entity.TransitionError{OrderID: order.ID, From: entity.OrderStatus(current), To: to}
	}
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}

	order.Status = to
	order.UpdatedAt = updatedAt
	return nil
}

// ListOpenOrders returns OPEN orders for symbol and side, best first.
func (r *OrderRepository) ListOpenOrders(ctx context.Context, symbol string, side entity.Side) ([]*entity.Order, error) {
	priceOrder := "price DESC"
	if side == entity.SideSell {
		priceOrder = "price ASC"
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE symbol = $1 AND side = $2 AND status = 1
		 ORDER BY `+priceOrder+`, created_at ASC, id ASC`,
		symbol, string(side))
	if err != nil {
		return nil, fmt.Errorf("failed to query open orders: %w", err)
	}
	return collectOrders(rows)
}

// ListOrdersByUser returns every order of a user, newest first.
func (r *OrderRepository) ListOrdersByUser(ctx context.Context, userID int64) ([]*entity.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user orders: %w", err)
	}
	return collectOrders(rows)
}

// HealthCheck verifies the database is reachable.
func (r *OrderRepository) HealthCheck(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

func collectOrders(rows pgx.Rows) ([]*entity.Order, error) {
	defer rows.Close()
	var orders []*entity.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}
	return orders, nil
}

func scanOrder(row rowScanner) (*entity.Order, error) {
	var (
		o      entity.Order
		side   string
		status int16
	)
	if err := row.Scan(&o.ID, &o.UserID, &o.Symbol, &side, &o.Price, &o.Amount, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Side = entity.Side(side)
	o.Status = entity.OrderStatus(status)
	return &o, nil
}
