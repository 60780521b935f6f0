package entity

import (
	"errors"
	"testing"
	"time"

	"github.com/archon-research/stl-exchange/internal/pkg/fixedpoint"
)

func mustOrder(t *testing.T, id, user int64, side Side, price, amount string, created time.Time) *Order {
	t.Helper()
	o, err := NewOrder(user, "BTC", side, fixedpoint.MustParse(price), fixedpoint.MustParse(amount))
	if err != nil {
		t.Fatalf("NewOrder: %v", err)
	}
	o.ID = id
	o.CreatedAt = created
	return o
}

func TestNewOrder_Validation(t *testing.T) {
	tests := []struct {
		name   string
		user   int64
		symbol string
		side   Side
		price  string
		amount string
	}{
		{name: "zero user", user: 0, symbol: "BTC", side: SideBuy, price: "1", amount: "1"},
		{name: "empty symbol", user: 1, symbol: "", side: SideBuy, price: "1", amount: "1"},
		{name: "bad side", user: 1, symbol: "BTC", side: "hold", price: "1", amount: "1"},
		{name: "zero price", user: 1, symbol: "BTC", side: SideBuy, price: "0", amount: "1"},
		{name: "negative amount", user: 1, symbol: "BTC", side: SideSell, price: "1", amount: "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOrder(tt.user, tt.symbol, tt.side, fixedpoint.MustParse(tt.price), fixedpoint.MustParse(tt.amount))
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}

	o, err := NewOrder(1, "BTC", SideBuy, fixedpoint.MustParse("45000"), fixedpoint.MustParse("0.1"))
	if err != nil {
		t.Fatalf("valid order rejected: %v", err)
	}
	if o.Status != OrderStatusOpen {
		t.Errorf("new order status = %s, want OPEN", o.Status)
	}
	if got := o.Cost().String(); got != "4500.00000000" {
		t.Errorf("Cost() = %s, want 4500.00000000", got)
	}
}

func TestParseSide(t *testing.T) {
	if s, err := ParseSide(" BUY "); err != nil || s != SideBuy {
		t.Errorf("ParseSide(BUY) = %q, %v", s, err)
	}
	if s, err := ParseSide("sell"); err != nil || s != SideSell {
		t.Errorf("ParseSide(sell) = %q, %v", s, err)
	}
	if _, err := ParseSide("short"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	if SideBuy.Opposite() != SideSell || SideSell.Opposite() != SideBuy {
		t.Error("Opposite is wrong")
	}
}

func TestOrder_CanMatch(t *testing.T) {
	now := time.Now()
	buy := mustOrder(t, 10, 1, SideBuy, "45000", "0.1", now)

	tests := []struct {
		name      string
		candidate *Order
		want      bool
	}{
		{name: "same price", candidate: mustOrder(t, 1, 2, SideSell, "45000", "0.1", now), want: true},
		{name: "cheaper sell", candidate: mustOrder(t, 2, 2, SideSell, "44000", "0.1", now), want: true},
		{name: "dearer sell", candidate: mustOrder(t, 3, 2, SideSell, "45000.00000001", "0.1", now), want: false},
		{name: "amount mismatch", candidate: mustOrder(t, 4, 2, SideSell, "45000", "0.2", now), want: false},
		{name: "self trade", candidate: mustOrder(t, 5, 1, SideSell, "45000", "0.1", now), want: false},
		{name: "same side", candidate: mustOrder(t, 6, 2, SideBuy, "45000", "0.1", now), want: false},
		{name: "nil", candidate: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buy.CanMatch(tt.candidate); got != tt.want {
				t.Errorf("CanMatch = %v, want %v", got, tt.want)
			}
		})
	}

	filled := mustOrder(t, 7, 2, SideSell, "45000", "0.1", now)
	filled.Status = OrderStatusFilled
	if buy.CanMatch(filled) {
		t.Error("filled order must not match")
	}

	sell := mustOrder(t, 11, 2, SideSell, "45000", "0.1", now)
	if !sell.CanMatch(mustOrder(t, 12, 3, SideBuy, "46000", "0.1", now)) {
		t.Error("higher bid should match a sell")
	}
	if sell.CanMatch(mustOrder(t, 13, 3, SideBuy, "44999", "0.1", now)) {
		t.Error("lower bid must not match a sell")
	}
}

func TestOrder_BetterThan(t *testing.T) {
	t0 := time.Now()
	t1 := t0.Add(time.Second)

	cheap := mustOrder(t, 2, 2, SideSell, "44000", "0.1", t1)
	dear := mustOrder(t, 1, 2, SideSell, "45000", "0.1", t0)
	if !cheap.BetterThan(dear) || dear.BetterThan(cheap) {
		t.Error("lower sell price should win regardless of time")
	}

	highBid := mustOrder(t, 3, 2, SideBuy, "46000", "0.1", t1)
	lowBid := mustOrder(t, 4, 2, SideBuy, "45000", "0.1", t0)
	if !highBid.BetterThan(lowBid) {
		t.Error("higher bid should win")
	}

	early := mustOrder(t, 6, 2, SideSell, "45000", "0.1", t0)
	late := mustOrder(t, 5, 3, SideSell, "45000", "0.1", t1)
	if !early.BetterThan(late) || late.BetterThan(early) {
		t.Error("earlier order should win at equal price")
	}

	a := mustOrder(t, 7, 2, SideSell, "45000", "0.1", t0)
	b := mustOrder(t, 8, 3, SideSell, "45000", "0.1", t0)
	if !a.BetterThan(b) {
		t.Error("lower id should break exact ties")
	}
}

func TestOrder_Transitions(t *testing.T) {
	o := mustOrder(t, 1, 1, SideSell, "45000", "0.5", time.Now())

	if err := o.MarkCancelled(); err != nil {
		t.Fatalf("MarkCancelled: %v", err)
	}
	if o.Status != OrderStatusCancelled || !o.Status.IsTerminal() {
		t.Fatalf("status = %s", o.Status)
	}

	err := o.MarkCancelled()
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	var te *TransitionError
	if !errors.As(err, &te) || te.From != OrderStatusCancelled {
		t.Errorf("unexpected transition error: %v", err)
	}

	if err := o.MarkFilled(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("cancelled order must not fill, got %v", err)
	}
}
