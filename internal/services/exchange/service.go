// Package exchange implements the order matching and settlement core: order
// intake, the ledger, the matcher and the settlement engine.
//
// Every state change runs in one store transaction per request. Placement
// locks the placing user's account (and holding for sells), reserves funds or
// assets, stores the order, locks the best resident counter-order and settles
// against it before committing. There is no in-memory order book; the store
// is the only shared state.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/stl-exchange/internal/domain/entity"
	"github.com/archon-research/stl-exchange/internal/pkg/fixedpoint"
	"github.com/archon-research/stl-exchange/internal/ports/inbound"
	"github.com/archon-research/stl-exchange/internal/ports/outbound"
)

const instrumentationName = "github.com/archon-research/stl-exchange/internal/services/exchange"

// Compile-time checks that Service implements the inbound ports.
var (
	_ inbound.ExchangeService = (*Service)(nil)
	_ inbound.HealthChecker   = (*Service)(nil)
)

// Config holds configuration for the exchange service.
type Config struct {
	// CommissionRate is the fraction of trade value charged to the seller.
	CommissionRate fixedpoint.Value

	// NotifyTimeout bounds a single post-commit notification.
	NotifyTimeout time.Duration

	// HealthTimeout bounds a readiness probe against the store.
	HealthTimeout time.Duration

	Logger *slog.Logger
}

// ConfigDefaults returns a config with default values.
func ConfigDefaults() Config {
	return Config{
		CommissionRate: entity.DefaultCommissionRate,
		NotifyTimeout:  5 * time.Second,
		HealthTimeout:  2 * time.Second,
		Logger:         slog.Default(),
	}
}

// Service is the order intake of the exchange and the entry point for all
// inbound adapters.
type Service struct {
	config     Config
	txManager  outbound.TxManager
	accounts   outbound.AccountRepository
	orders     outbound.OrderRepository
	notifier   outbound.TradeNotifier
	metrics    outbound.MetricsRecorder
	ledger     *Ledger
	matcher    *Matcher
	settlement *SettlementEngine
	tracer     trace.Tracer
	logger     *slog.Logger
}

// NewService creates a new exchange service. notifier and metrics may be nil.
func NewService(
	config Config,
	txManager outbound.TxManager,
	accounts outbound.AccountRepository,
	orders outbound.OrderRepository,
	notifier outbound.TradeNotifier,
	metrics outbound.MetricsRecorder,
) (*Service, error) {
	if txManager == nil {
		return nil, fmt.Errorf("txManager cannot be nil")
	}
	if accounts == nil {
		return nil, fmt.Errorf("accounts cannot be nil")
	}
	if orders == nil {
		return nil, fmt.Errorf("orders cannot be nil")
	}

	defaults := ConfigDefaults()
	if config.CommissionRate.IsZero() {
		config.CommissionRate = defaults.CommissionRate
	}
	if config.CommissionRate.IsNegative() {
		return nil, fmt.Errorf("commission rate cannot be negative: %s", config.CommissionRate)
	}
	if config.NotifyTimeout == 0 {
		config.NotifyTimeout = defaults.NotifyTimeout
	}
	if config.HealthTimeout == 0 {
		config.HealthTimeout = defaults.HealthTimeout
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	ledger := NewLedger(accounts)
	return &Service{
		config:     config,
		txManager:  txManager,
		accounts:   accounts,
		orders:     orders,
		notifier:   notifier,
		metrics:    metrics,
		ledger:     ledger,
		matcher:    NewMatcher(orders),
		settlement: NewSettlementEngine(orders, ledger, config.CommissionRate),
		tracer:     otel.Tracer(instrumentationName),
		logger:     config.Logger.With("component", "exchange"),
	}, nil
}

// PlaceOrder reserves funds (buy) or assets (sell), stores the order and
// settles it against the best resident order if one exists, all in one
// transaction. The returned order is FILLED if it matched, OPEN otherwise.
func (s *Service) PlaceOrder(ctx context.Context, userID int64, symbol string, side entity.Side, price, amount fixedpoint.Value) (*entity.Order, error) {
	ctx, span := s.tracer.Start(ctx, "exchange.PlaceOrder", trace.WithAttributes(
		attribute.Int64("user.id", userID),
		attribute.String("order.symbol", symbol),
		attribute.String("order.side", string(side)),
	))
	defer span.End()
	start := time.Now()

	order, err := entity.NewOrder(userID, symbol, side, price, amount)
	if err != nil {
		s.metrics.RecordOrderRejected(ctx, symbol, rejectReason(err))
		return nil, err
	}

	var event *outbound.TradeSettledEvent
	err = s.txManager.WithTransaction(ctx, func(tx pgx.Tx) error {
		var txErr error
		event, txErr = s.placeInTx(ctx, tx, order)
		return txErr
	})
	if err != nil {
		s.metrics.RecordPlacementLatency(ctx, time.Since(start), "error")
		s.metrics.RecordOrderRejected(ctx, symbol, rejectReason(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.metrics.RecordPlacementLatency(ctx, time.Since(start), "ok")
	s.metrics.RecordOrderPlaced(ctx, symbol, string(side))
	span.SetAttributes(attribute.Int64("order.id", order.ID), attribute.Bool("order.matched", event != nil))

	s.logger.Info("order placed",
		"orderId", order.ID,
		"userId", userID,
		"symbol", symbol,
		"side", side,
		"price", price,
		"amount", amount,
		"status", order.Status)

	if event != nil {
		s.metrics.RecordTrade(ctx, symbol, event.Details.Amount, event.Details.Commission)
		s.notify(ctx, *event)
	}
	return order, nil
}

// placeInTx reserves, stores, matches and settles order inside tx. order is
// updated in place with its ID and final status.
func (s *Service) placeInTx(ctx context.Context, tx pgx.Tx, order *entity.Order) (*outbound.TradeSettledEvent, error) {
	// Lock order: placing user's account, then holding (sells), then the
	// candidate order, then the counterparty's rows during settlement.
	if _, err := s.ledger.LockAccount(ctx, tx, order.UserID); err != nil {
		return nil, err
	}

	switch order.Side {
	case entity.SideBuy:
		if err := s.ledger.ReserveForBuy(ctx, tx, order.UserID, order.Cost()); err != nil {
			return nil, err
		}
	case entity.SideSell:
		if err := s.ledger.ReserveForSell(ctx, tx, order.UserID, order.Symbol, order.Amount); err != nil {
			return nil, err
		}
	}

	if err := s.orders.CreateOrder(ctx, tx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	match, err := s.matcher.FindMatchingOrder(ctx, tx, order)
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, nil
	}

	trade, err := s.settlement.ExecuteMatch(ctx, tx, order, match)
	if err != nil {
		return nil, err
	}

	s.logger.Info("order matched with commission",
		"buyOrderId", trade.BuyOrder.ID,
		"sellOrderId", trade.SellOrder.ID,
		"symbol", trade.Symbol(),
		"executedPrice", trade.ExecutedPrice,
		"amount", trade.Amount,
		"commission", trade.Commission)

	return s.buildTradeEvent(ctx, tx, trade)
}

// CancelOrder cancels an OPEN order owned by userID and releases its reservation.
func (s *Service) CancelOrder(ctx context.Context, userID, orderID int64) (*entity.Order, error) {
	ctx, span := s.tracer.Start(ctx, "exchange.CancelOrder", trace.WithAttributes(
		attribute.Int64("user.id", userID),
		attribute.Int64("order.id", orderID),
	))
	defer span.End()

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order %d: %w", orderID, err)
	}
	if err := checkCancellable(order, userID); err != nil {
		return nil, err
	}

	err = s.txManager.WithTransaction(ctx, func(tx pgx.Tx) error {
		// Order row before owner account, the same order a matching
		// placement takes them in.
		locked, err := s.orders.GetOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return fmt.Errorf("failed to lock order %d: %w", orderID, err)
		}
		// The order may have been filled between the read above and the lock.
		if err := checkCancellable(locked, userID); err != nil {
			return err
		}
		if _, err := s.ledger.LockAccount(ctx, tx, locked.UserID); err != nil {
			return err
		}

		switch locked.Side {
		case entity.SideBuy:
			if err := s.ledger.ReleaseBuyReservation(ctx, tx, locked.UserID, locked.Cost()); err != nil {
				return err
			}
		case entity.SideSell:
			if err := s.ledger.ReleaseSellReservation(ctx, tx, locked.UserID, locked.Symbol, locked.Amount); err != nil {
				return err
			}
		}

		if err := s.orders.MarkCancelled(ctx, tx, locked); err != nil {
			return fmt.Errorf("failed to cancel order %d: %w", orderID, err)
		}
		order = locked
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.metrics.RecordOrderCancelled(ctx, order.Symbol)
	s.logger.Info("order cancelled", "orderId", order.ID, "userId", userID, "symbol", order.Symbol, "side", order.Side)
	return order, nil
}

func checkCancellable(order *entity.Order, userID int64) error {
	if order.UserID != userID {
		return fmt.Errorf("%w: order %d", entity.ErrNotOwner, order.ID)
	}
	if !order.IsOpen() {
		return fmt.Errorf("%w: order %d is %s", entity.ErrInvalidState, order.ID, order.Status)
	}
	return nil
}

// ListOpenOrders returns the public order book for symbol.
func (s *Service) ListOpenOrders(ctx context.Context, symbol string) (*inbound.OrderBook, error) {
	buys, err := s.orders.ListOpenOrders(ctx, symbol, entity.SideBuy)
	if err != nil {
		return nil, fmt.Errorf("failed to list buy orders: %w", err)
	}
	sells, err := s.orders.ListOpenOrders(ctx, symbol, entity.SideSell)
	if err != nil {
		return nil, fmt.Errorf("failed to list sell orders: %w", err)
	}
	return &inbound.OrderBook{
		Buys:  toBookEntries(buys),
		Sells: toBookEntries(sells),
	}, nil
}

func toBookEntries(orders []*entity.Order) []inbound.BookEntry {
	entries := make([]inbound.BookEntry, 0, len(orders))
	for _, o := range orders {
		entries = append(entries, inbound.BookEntry{
			ID:        o.ID,
			Symbol:    o.Symbol,
			Side:      o.Side,
			Price:     o.Price,
			Amount:    o.Amount,
			CreatedAt: o.CreatedAt,
		})
	}
	return entries
}

// ListMyOrders returns every order of userID, newest first.
func (s *Service) ListMyOrders(ctx context.Context, userID int64) ([]*entity.Order, error) {
	orders, err := s.orders.ListOrdersByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders of user %d: %w", userID, err)
	}
	return orders, nil
}

// GetPortfolio returns the balance and holdings of userID.
func (s *Service) GetPortfolio(ctx context.Context, userID int64) (*entity.Portfolio, error) {
	var portfolio *entity.Portfolio
	err := s.txManager.WithTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		portfolio, err = s.accounts.GetPortfolio(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio of user %d: %w", userID, err)
	}
	return portfolio, nil
}

// Ping reports whether the backing store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.orders.HealthCheck(ctx)
}

// IsReady reports whether the store answers within HealthTimeout.
func (s *Service) IsReady() bool {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.HealthTimeout)
	defer cancel()
	return s.Ping(ctx) == nil
}

// IsHealthy reports process liveness. It does not depend on the store so a
// database outage does not restart every replica.
func (s *Service) IsHealthy() bool {
	return true
}

// buildTradeEvent snapshots both parties inside the settlement transaction so
// the published state is exactly what was committed.
func (s *Service) buildTradeEvent(ctx context.Context, tx pgx.Tx, trade *entity.Trade) (*outbound.TradeSettledEvent, error) {
	buyer, err := s.accounts.GetPortfolio(ctx, tx, trade.BuyOrder.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot buyer: %w", err)
	}
	seller, err := s.accounts.GetPortfolio(ctx, tx, trade.SellOrder.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot seller: %w", err)
	}

	return &outbound.TradeSettledEvent{
		EventID:  uuid.NewString(),
		BuyerID:  trade.BuyOrder.UserID,
		SellerID: trade.SellOrder.UserID,
		Details: outbound.TradeDetails{
			BuyOrderID:    trade.BuyOrder.ID,
			SellOrderID:   trade.SellOrder.ID,
			Symbol:        trade.Symbol(),
			ExecutedPrice: trade.ExecutedPrice,
			Amount:        trade.Amount,
			Commission:    trade.Commission,
		},
		Buyer:     partySnapshot(buyer, trade.BuyOrder),
		Seller:    partySnapshot(seller, trade.SellOrder),
		SettledAt: time.Now().UTC(),
	}, nil
}

func partySnapshot(p *entity.Portfolio, o *entity.Order) outbound.PartySnapshot {
	holdings := make([]outbound.HoldingSnapshot, 0, len(p.Holdings))
	for _, h := range p.Holdings {
		holdings = append(holdings, outbound.HoldingSnapshot{
			Symbol:       h.Symbol,
			Amount:       h.Amount,
			LockedAmount: h.LockedAmount,
		})
	}
	return outbound.PartySnapshot{
		Balance:  p.Balance,
		Holdings: holdings,
		Order: outbound.OrderSnapshot{
			ID:     o.ID,
			Symbol: o.Symbol,
			Side:   o.Side,
			Price:  o.Price,
			Amount: o.Amount,
			Status: o.Status.String(),
		},
	}
}

// notify publishes a settled trade. Failures are logged and counted only; the
// trade is already committed.
func (s *Service) notify(ctx context.Context, event outbound.TradeSettledEvent) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.NotifyTimeout)
	defer cancel()

	if err := s.notifier.Publish(ctx, event); err != nil {
		s.metrics.RecordNotificationFailure(ctx, "trade")
		s.logger.Error("failed to publish trade event",
			"error", err,
			"eventId", event.EventID,
			"buyOrderId", event.Details.BuyOrderID,
			"sellOrderId", event.Details.SellOrderID)
	}
}

// rejectReason classifies an error for the rejected-orders metric.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, entity.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, entity.ErrInsufficientAssets):
		return "insufficient_assets"
	case errors.Is(err, entity.ErrValidation):
		return "validation"
	case errors.Is(err, entity.ErrNotFound):
		return "no_account"
	case errors.Is(err, outbound.ErrTxConflict):
		return "conflict"
	default:
		return "internal"
	}
}
