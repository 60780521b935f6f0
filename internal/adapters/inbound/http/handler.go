// Package http provides the inbound REST adapter of the exchange.
//
// Routes:
//   - POST /api/orders              place an order
//   - POST /api/orders/{id}/cancel  cancel an OPEN order
//   - GET  /api/orders?symbol=BTC   public order book
//   - GET  /api/my-orders           caller's orders, newest first
//   - GET  /api/profile             caller's balance and holdings
//
// Authentication is delegated to a gateway in front of the service, which
// forwards the caller's id in the X-User-ID header.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/archon-research/stl-exchange/internal/adapters/outbound/telemetry"
	"github.com/archon-research/stl-exchange/internal/domain/entity"
	"github.com/archon-research/stl-exchange/internal/ports/inbound"
)

// UserIDHeader carries the authenticated user id.
const UserIDHeader = "X-User-ID"

type userIDKey struct{}

// HandlerConfig holds configuration for the REST handler.
type HandlerConfig struct {
	// Symbols is the whitelist of tradable assets.
	Symbols []string

	// OrderRate is the sustained number of order writes per second per user.
	// Zero disables rate limiting.
	OrderRate float64

	// OrderBurst is the bucket size of the per-user limiter.
	OrderBurst int

	// RequestTimeout bounds every service call.
	RequestTimeout time.Duration

	// Metrics is optional.
	Metrics *telemetry.HTTPMetrics

	Logger *slog.Logger
}

// HandlerConfigDefaults returns a config with default values.
func HandlerConfigDefaults() HandlerConfig {
	return HandlerConfig{
		Symbols:        []string{"BTC", "ETH"},
		OrderRate:      5,
		OrderBurst:     10,
		RequestTimeout: 10 * time.Second,
		Logger:         slog.Default(),
	}
}

// Handler implements HTTP handlers for the API.
type Handler struct {
	service inbound.ExchangeService
	config  HandlerConfig
	limiter *userLimiter
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler with the given service.
func NewHandler(service inbound.ExchangeService, config HandlerConfig) (*Handler, error) {
	if service == nil {
		return nil, errors.New("service is required")
	}
	defaults := HandlerConfigDefaults()
	if len(config.Symbols) == 0 {
		config.Symbols = defaults.Symbols
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	h := &Handler{
		service: service,
		config:  config,
		logger:  config.Logger.With("component", "http-handler"),
	}
	if config.OrderRate > 0 {
		h.limiter = newUserLimiter(config.OrderRate, config.OrderBurst, 0)
	}
	return h, nil
}

// RegisterRoutes registers the API routes with the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("POST /api/orders", h.wrap("POST /api/orders", true, h.PlaceOrder))
	mux.Handle("POST /api/orders/{id}/cancel", h.wrap("POST /api/orders/{id}/cancel", true, h.CancelOrder))
	mux.Handle("GET /api/orders", h.wrap("GET /api/orders", false, h.ListOpenOrders))
	mux.Handle("GET /api/my-orders", h.wrap("GET /api/my-orders", false, h.ListMyOrders))
	mux.Handle("GET /api/profile", h.wrap("GET /api/profile", false, h.Profile))
}

// PlaceOrder handles POST /api/orders.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := dec.Decode(&req); err != nil {
		h.respondValidation(w, map[string][]string{"body": {"The request body must be a JSON object with valid decimals."}})
		return
	}

	if fields := h.validatePlaceOrder(&req); len(fields) > 0 {
		h.respondValidation(w, fields)
		return
	}
	side, _ := entity.ParseSide(req.Side)

	order, err := h.service.PlaceOrder(r.Context(), userIDFrom(r.Context()), req.Symbol, side, *req.Price, *req.Amount)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, orderEnvelope{
		Message: "Order created successfully",
		Order:   toOrderResponse(order),
	})
}

func (h *Handler) validatePlaceOrder(req *placeOrderRequest) map[string][]string {
	fields := make(map[string][]string)
	if req.Symbol == "" {
		fields["symbol"] = append(fields["symbol"], "The symbol field is required.")
	} else if !slices.Contains(h.config.Symbols, req.Symbol) {
		fields["symbol"] = append(fields["symbol"], "The selected symbol is invalid.")
	}
	if req.Side == "" {
		fields["side"] = append(fields["side"], "The side field is required.")
	} else if _, err := entity.ParseSide(req.Side); err != nil {
		fields["side"] = append(fields["side"], "The selected side is invalid.")
	}
	if req.Price == nil {
		fields["price"] = append(fields["price"], "The price field is required.")
	} else if !req.Price.IsPositive() {
		fields["price"] = append(fields["price"], "The price field must be greater than 0.")
	}
	if req.Amount == nil {
		fields["amount"] = append(fields["amount"], "The amount field is required.")
	} else if !req.Amount.IsPositive() {
		fields["amount"] = append(fields["amount"], "The amount field must be greater than 0.")
	}
	return fields
}

// CancelOrder handles POST /api/orders/{id}/cancel.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || orderID <= 0 {
		h.respondError(w, http.StatusNotFound, msgNotFound)
		return
	}

	order, err := h.service.CancelOrder(r.Context(), userIDFrom(r.Context()), orderID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, orderEnvelope{
		Message: "Order cancelled successfully",
		Order:   toOrderResponse(order),
	})
}

// ListOpenOrders handles GET /api/orders?symbol=.
func (h *Handler) ListOpenOrders(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	switch {
	case symbol == "":
		h.respondValidation(w, map[string][]string{"symbol": {"The symbol parameter is required."}})
		return
	case !slices.Contains(h.config.Symbols, symbol):
		h.respondValidation(w, map[string][]string{"symbol": {
			fmt.Sprintf("The symbol must be either %s.", strings.Join(h.config.Symbols, " or ")),
		}})
		return
	}

	book, err := h.service.ListOpenOrders(r.Context(), symbol)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, book)
}

// ListMyOrders handles GET /api/my-orders.
func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListMyOrders(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	out := ordersEnvelope{Orders: make([]orderResponse, 0, len(orders))}
	for _, o := range orders {
		out.Orders = append(out.Orders, toOrderResponse(o))
	}
	h.respondJSON(w, http.StatusOK, out)
}

// Profile handles GET /api/profile.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	portfolio, err := h.service.GetPortfolio(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, toProfileResponse(portfolio))
}

// wrap authenticates the caller, applies the rate limit to write routes,
// bounds the request context and records request metrics.
func (h *Handler) wrap(route string, limited bool, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if h.config.Metrics != nil {
				h.config.Metrics.RecordRequest(r.Context(), route, rec.status, time.Since(start))
			}
		}()

		userID, ok := parseUserID(r.Header.Get(UserIDHeader))
		if !ok {
			h.respondError(rec, http.StatusUnauthorized, msgUnauthenticated)
			return
		}
		if limited && h.limiter != nil && !h.limiter.Allow(userID) {
			if h.config.Metrics != nil {
				h.config.Metrics.RecordRateLimited(r.Context(), route)
			}
			rec.Header().Set("Retry-After", "1")
			h.respondError(rec, http.StatusTooManyRequests, msgTooManyRequests)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), h.config.RequestTimeout)
		defer cancel()
		next(rec, r.WithContext(context.WithValue(ctx, userIDKey{}, userID)))
	})
}

func parseUserID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func userIDFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(userIDKey{}).(int64)
	return id
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	} else {
		h.logger.Debug("request rejected", "status", status, "error", err)
	}
	h.respondError(w, status, message)
}

func (h *Handler) respondValidation(w http.ResponseWriter, fields map[string][]string) {
	h.respondJSON(w, http.StatusUnprocessableEntity, errorResponse{
		Message: "The given data was invalid.",
		Errors:  fields,
	})
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, errorResponse{Message: message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
