package exchange

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"

	"github.com/archon-research/stl-exchange/internal/adapters/outbound/memory"
	"github.com/archon-research/stl-exchange/internal/domain/entity"
	"github.com/archon-research/stl-exchange/internal/pkg/fixedpoint"
)

func newLedgerStore(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	err := store.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := store.CreateAccount(ctx, tx, entity.Account{UserID: 1, Balance: d("100")}); err != nil {
			return err
		}
		return store.UpsertHolding(ctx, tx, entity.Holding{UserID: 1, Symbol: "BTC", Amount: d("1"), LockedAmount: d("0.5")})
	})
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestLedger_Preconditions(t *testing.T) {
	tests := []struct {
		name    string
		op      func(ctx context.Context, l *Ledger, tx pgx.Tx) error
		wantErr error
	}{
		{
			name: "reserve buy exactly the balance",
			op: func(ctx context.Context, l *Ledger, tx pgx.Tx) error {
				return l.ReserveForBuy(ctx, tx, 1, d("100"))
			},
		},
		{
			name: "reserve buy over balance",
			op: func(ctx context.Context, l *Ledger, tx pgx.Tx) error {
				return l.ReserveForBuy(ctx, tx, 1, d("100.00000001"))
			},
			wantErr: entity.ErrInsufficientFunds,
		},
		{
			name: "reserve sell over available",
			op: func(ctx context.Context, l *Ledger, tx pgx.Tx) error {
				return l.ReserveForSell(ctx, tx, 1, "BTC", d("1.1"))
			},
			wantErr: entity.ErrInsufficientAssets,
		},
		{
			name: "reserve sell without holding",
			op: func(ctx context.Context, l *Ledger, tx pgx.Tx) error {
				return l.ReserveForSell(ctx, tx, 1, "ETH", d("0.1"))
			},
			wantErr: entity.ErrInsufficientAssets,
		},
		{
			name: "release more than locked",
			op: func(ctx context.Context, l *Ledger, tx pgx.Tx) error {
				return l.ReleaseSellReservation(ctx, tx, 1, "BTC", d("0.6"))
			},
			wantErr: entity.ErrLedgerInvariant,
		},
		{
			name: "credit seller more than locked",
			op: func(ctx context.Context, l *Ledger, tx pgx.Tx) error {
				return l.CreditSellerOnTrade(ctx, tx, 1, "BTC", d("0.6"), d("10"))
			},
			wantErr: entity.ErrLedgerInvariant,
		},
		{
			name: "credit seller negative net",
			op: func(ctx context.Context, l *Ledger, tx pgx.Tx) error {
				return l.CreditSellerOnTrade(ctx, tx, 1, "BTC", d("0.1"), d("-1"))
			},
			wantErr: entity.ErrLedgerInvariant,
		},
		{
			name: "unknown account",
			op: func(ctx context.Context, l *Ledger, tx pgx.Tx) error {
				return l.ReserveForBuy(ctx, tx, 2, d("1"))
			},
			wantErr: entity.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := newLedgerStore(t)
			ledger := NewLedger(store)

			err := store.WithTransaction(ctx, func(tx pgx.Tx) error {
				return tt.op(ctx, ledger, tx)
			})
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLedger_CreditBuyerCreatesHolding(t *testing.T) {
	ctx := context.Background()
	store := newLedgerStore(t)
	ledger := NewLedger(store)

	var got *entity.Portfolio
	err := store.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := ledger.CreditBuyerOnTrade(ctx, tx, 1, "ETH", d("2.5")); err != nil {
			return err
		}
		var err error
		got, err = store.GetPortfolio(ctx, tx, 1)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	eth := holdingOf(got, "ETH")
	assertValue(t, "ETH amount", eth.Amount, "2.50000000")
	assertValue(t, "ETH locked", eth.LockedAmount, "0.00000000")
	assertValue(t, "balance untouched", got.Balance, "100.00000000")
}

func TestSettlementEngine_CommissionTruncates(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	ledger := NewLedger(store)
	engine := NewSettlementEngine(store, ledger, entity.DefaultCommissionRate)

	var trade *entity.Trade
	err := store.WithTransaction(ctx, func(tx pgx.Tx) error {
		for _, u := range []int64{1, 2} {
			if err := store.CreateAccount(ctx, tx, entity.Account{UserID: u, Balance: d("10")}); err != nil {
				return err
			}
		}
		if err := store.UpsertHolding(ctx, tx, entity.Holding{UserID: 1, Symbol: "BTC", Amount: fixedpoint.Zero, LockedAmount: d("1")}); err != nil {
			return err
		}
		sell, _ := entity.NewOrder(1, "BTC", entity.SideSell, d("1.23456789"), d("1"))
		buy, _ := entity.NewOrder(2, "BTC", entity.SideBuy, d("2"), d("1"))
		if err := store.CreateOrder(ctx, tx, sell); err != nil {
			return err
		}
		if err := store.CreateOrder(ctx, tx, buy); err != nil {
			return err
		}
		var err error
		trade, err = engine.ExecuteMatch(ctx, tx, buy, sell)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	assertValue(t, "executed price", trade.ExecutedPrice, "1.23456789")
	assertValue(t, "commission", trade.Commission, "0.01851851")
	assertValue(t, "seller net", trade.SellerNet, "1.21604938")
	if trade.BuyOrder.Status != entity.OrderStatusFilled || trade.SellOrder.Status != entity.OrderStatusFilled {
		t.Errorf("statuses = %s/%s, want FILLED/FILLED", trade.BuyOrder.Status, trade.SellOrder.Status)
	}
}
