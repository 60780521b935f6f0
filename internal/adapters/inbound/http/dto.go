package http

import (
	"time"

	"github.com/archon-research/stl-exchange/internal/domain/entity"
	"github.com/archon-research/stl-exchange/internal/pkg/fixedpoint"
)

// placeOrderRequest is the body of POST /api/orders. Price and amount accept
// JSON strings or numbers.
type placeOrderRequest struct {
	Symbol string            `json:"symbol"`
	Side   string            `json:"side"`
	Price  *fixedpoint.Value `json:"price"`
	Amount *fixedpoint.Value `json:"amount"`
}

// orderResponse is an order as returned to its owner.
type orderResponse struct {
	ID        int64              `json:"id"`
	UserID    int64              `json:"user_id"`
	Symbol    string             `json:"symbol"`
	Side      entity.Side        `json:"side"`
	Price     fixedpoint.Value   `json:"price"`
	Amount    fixedpoint.Value   `json:"amount"`
	Status    entity.OrderStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func toOrderResponse(o *entity.Order) orderResponse {
	return orderResponse{
		ID:        o.ID,
		UserID:    o.UserID,
		Symbol:    o.Symbol,
		Side:      o.Side,
		Price:     o.Price,
		Amount:    o.Amount,
		Status:    o.Status,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

type orderEnvelope struct {
	Message string        `json:"message"`
	Order   orderResponse `json:"order"`
}

type ordersEnvelope struct {
	Orders []orderResponse `json:"orders"`
}

type profileUser struct {
	ID      int64            `json:"id"`
	Balance fixedpoint.Value `json:"balance"`
}

type profileAsset struct {
	Symbol       string           `json:"symbol"`
	Amount       fixedpoint.Value `json:"amount"`
	LockedAmount fixedpoint.Value `json:"locked_amount"`
}

type profileResponse struct {
	User   profileUser    `json:"user"`
	Assets []profileAsset `json:"assets"`
}

func toProfileResponse(p *entity.Portfolio) profileResponse {
	assets := make([]profileAsset, 0, len(p.Holdings))
	for _, h := range p.Holdings {
		assets = append(assets, profileAsset{
			Symbol:       h.Symbol,
			Amount:       h.Amount,
			LockedAmount: h.LockedAmount,
		})
	}
	return profileResponse{
		User:   profileUser{ID: p.UserID, Balance: p.Balance},
		Assets: assets,
	}
}

// errorResponse carries a human readable message and, for validation
// failures, the offending fields.
type errorResponse struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors,omitempty"`
}
