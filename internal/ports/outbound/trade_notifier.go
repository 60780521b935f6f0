package outbound

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/archon-research/stl-exchange/internal/domain/entity"
	"github.com/archon-research/stl-exchange/internal/pkg/fixedpoint"
)

// TradeSettledEventName is the broadcast name of TradeSettledEvent.
const TradeSettledEventName = "order.matched"

// TradeDetails describes the economics of a settled trade.
type TradeDetails struct {
	BuyOrderID    int64            `json:"buyOrderId"`
	SellOrderID   int64            `json:"sellOrderId"`
	Symbol        string           `json:"symbol"`
	ExecutedPrice fixedpoint.Value `json:"executedPrice"`
	Amount        fixedpoint.Value `json:"amount"`
	Commission    fixedpoint.Value `json:"commission"`
}

// HoldingSnapshot is a holding as seen at settlement commit.
type HoldingSnapshot struct {
	Symbol       string           `json:"symbol"`
	Amount       fixedpoint.Value `json:"amount"`
	LockedAmount fixedpoint.Value `json:"lockedAmount"`
}

// OrderSnapshot is an order as seen at settlement commit.
type OrderSnapshot struct {
	ID     int64            `json:"id"`
	Symbol string           `json:"symbol"`
	Side   entity.Side      `json:"side"`
	Price  fixedpoint.Value `json:"price"`
	Amount fixedpoint.Value `json:"amount"`
	Status string           `json:"status"`
}

// PartySnapshot is the post-trade state of one side of the trade.
type PartySnapshot struct {
	Balance  fixedpoint.Value  `json:"balance"`
	Holdings []HoldingSnapshot `json:"holdings"`
	Order    OrderSnapshot     `json:"order"`
}

// TradeSettledEvent is published once per settled trade, after commit.
type TradeSettledEvent struct {
	EventID   string        `json:"eventId"`
	BuyerID   int64         `json:"buyerId"`
	SellerID  int64         `json:"sellerId"`
	Details   TradeDetails  `json:"orderDetails"`
	Buyer     PartySnapshot `json:"buyer"`
	Seller    PartySnapshot `json:"seller"`
	SettledAt time.Time     `json:"settledAt"`
}

// Recipients returns the user ids that should receive the event.
func (e TradeSettledEvent) Recipients() []int64 {
	return []int64{e.BuyerID, e.SellerID}
}

// BroadcastEnvelope is the message pushed to a user's private channel.
type BroadcastEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// EncodeBroadcast wraps event in a BroadcastEnvelope named TradeSettledEventName.
func EncodeBroadcast(event TradeSettledEvent) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trade event: %w", err)
	}
	payload, err := json.Marshal(BroadcastEnvelope{Event: TradeSettledEventName, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return payload, nil
}

// TradeNotifier delivers settled-trade facts to the notification layer.
// Delivery is best effort: a failed Publish never affects the settled trade.
type TradeNotifier interface {
	// Publish delivers the event. Called outside any database transaction.
	Publish(ctx context.Context, event TradeSettledEvent) error

	// Close releases any resources held by the notifier.
	Close() error
}
