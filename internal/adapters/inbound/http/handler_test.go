package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/archon-research/stl-exchange/internal/adapters/outbound/memory"
	"github.com/archon-research/stl-exchange/internal/services/exchange"
	"github.com/archon-research/stl-exchange/internal/testutil"
)

type apiEnv struct {
	mux   *http.ServeMux
	store *memory.Store
}

func newAPIEnv(t *testing.T, config HandlerConfig) *apiEnv {
	t.Helper()
	store := memory.NewStore()
	svc, err := exchange.NewService(exchange.Config{Logger: testutil.DiscardLogger()},
		store, store, store, memory.NewNotifier(), nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	testutil.Fund(t, store, store,
		testutil.Funding{UserID: 1, Balance: "10000", Holdings: map[string]string{"BTC": "1"}},
		testutil.Funding{UserID: 2, Balance: "50000"},
		testutil.Funding{UserID: 3, Balance: "1000"},
	)

	config.Logger = testutil.DiscardLogger()
	h, err := NewHandler(svc, config)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return &apiEnv{mux: mux, store: store}
}

func (e *apiEnv) do(t *testing.T, method, path string, userID int64, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != 0 {
		req.Header.Set(UserIDHeader, fmt.Sprint(userID))
	}
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)

	var decoded map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("%s %s: invalid JSON %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w, decoded
}

func order(symbol, side, price, amount string) map[string]string {
	return map[string]string{"symbol": symbol, "side": side, "price": price, "amount": amount}
}

func TestHandler_PlaceOrderAndMatch(t *testing.T) {
	env := newAPIEnv(t, HandlerConfig{})

	w, body := env.do(t, "POST", "/api/orders", 1, order("BTC", "sell", "45000", "0.1"))
	if w.Code != http.StatusCreated {
		t.Fatalf("sell status = %d, body %v", w.Code, body)
	}
	if body["message"] != "Order created successfully" {
		t.Errorf("message = %v", body["message"])
	}
	sell := body["order"].(map[string]any)
	if sell["status"] != float64(1) || sell["price"] != "45000.00000000" {
		t.Errorf("sell order = %v", sell)
	}

	w, body = env.do(t, "POST", "/api/orders", 2, map[string]any{"symbol": "BTC", "side": "buy", "price": 45000, "amount": 0.1})
	if w.Code != http.StatusCreated {
		t.Fatalf("buy status = %d, body %v", w.Code, body)
	}
	if got := body["order"].(map[string]any)["status"]; got != float64(2) {
		t.Errorf("buy status = %v, want 2 (filled)", got)
	}

	_, profile := env.do(t, "GET", "/api/profile", 1, nil)
	if got := profile["user"].(map[string]any)["balance"]; got != "14432.50000000" {
		t.Errorf("seller balance = %v, want 14432.50000000", got)
	}
	assets := profile["assets"].([]any)
	if len(assets) != 1 || assets[0].(map[string]any)["amount"] != "0.90000000" {
		t.Errorf("seller assets = %v", assets)
	}
}

func TestHandler_Unauthenticated(t *testing.T) {
	env := newAPIEnv(t, HandlerConfig{})
	for _, path := range []string{"/api/my-orders", "/api/profile", "/api/orders?symbol=BTC"} {
		w, body := env.do(t, "GET", path, 0, nil)
		if w.Code != http.StatusUnauthorized || body["message"] != msgUnauthenticated {
			t.Errorf("GET %s = %d %v, want 401", path, w.Code, body)
		}
	}
	w, _ := env.do(t, "POST", "/api/orders/1/cancel", 0, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("cancel status = %d, want 401", w.Code)
	}
}

func TestHandler_PlaceOrderValidation(t *testing.T) {
	env := newAPIEnv(t, HandlerConfig{})

	tests := []struct {
		name  string
		body  any
		field string
	}{
		{"unknown symbol", order("DOGE", "buy", "1", "1"), "symbol"},
		{"missing symbol", map[string]string{"side": "buy", "price": "1", "amount": "1"}, "symbol"},
		{"bad side", order("BTC", "hold", "1", "1"), "side"},
		{"zero price", order("BTC", "buy", "0", "1"), "price"},
		{"negative amount", order("BTC", "buy", "1", "-1"), "amount"},
		{"missing amount", map[string]string{"symbol": "BTC", "side": "buy", "price": "1"}, "amount"},
		{"non numeric price", order("BTC", "buy", "abc", "1"), "body"},
		{"exponent price", order("BTC", "buy", "1e3000000", "0.1"), "body"},
		{"exponent amount", order("BTC", "buy", "45000", "1E2"), "body"},
		{"price over 20 integer digits", order("BTC", "buy", "123456789012345678901", "0.1"), "body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := env.do(t, "POST", "/api/orders", 2, tt.body)
			if w.Code != http.StatusUnprocessableEntity {
				t.Fatalf("status = %d, want 422; body %v", w.Code, body)
			}
			errs, _ := body["errors"].(map[string]any)
			if _, ok := errs[tt.field]; !ok {
				t.Errorf("errors = %v, want key %q", errs, tt.field)
			}
		})
	}
}

func TestHandler_InsufficientMessages(t *testing.T) {
	env := newAPIEnv(t, HandlerConfig{})

	w, body := env.do(t, "POST", "/api/orders", 3, order("BTC", "buy", "45000", "0.1"))
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	want := "Insufficient USD balance. You need $4,500.00 but only have $1,000.00 available."
	if body["message"] != want {
		t.Errorf("message = %q, want %q", body["message"], want)
	}

	w, body = env.do(t, "POST", "/api/orders", 1, order("BTC", "sell", "45000", "2"))
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	want = "Insufficient BTC. You need 2.00000000 but only have 1.00000000 available."
	if body["message"] != want {
		t.Errorf("message = %q, want %q", body["message"], want)
	}
}

func TestHandler_CancelOrder(t *testing.T) {
	env := newAPIEnv(t, HandlerConfig{})

	_, body := env.do(t, "POST", "/api/orders", 2, order("BTC", "buy", "40000", "0.5"))
	id := int64(body["order"].(map[string]any)["id"].(float64))
	path := fmt.Sprintf("/api/orders/%d/cancel", id)

	w, body := env.do(t, "POST", path, 1, nil)
	if w.Code != http.StatusForbidden || body["message"] != msgNotOwner {
		t.Errorf("foreign cancel = %d %v", w.Code, body)
	}

	w, body = env.do(t, "POST", path, 2, nil)
	if w.Code != http.StatusOK || body["message"] != "Order cancelled successfully" {
		t.Fatalf("cancel = %d %v", w.Code, body)
	}
	if got := body["order"].(map[string]any)["status"]; got != float64(3) {
		t.Errorf("status = %v, want 3 (cancelled)", got)
	}

	w, body = env.do(t, "POST", path, 2, nil)
	if w.Code != http.StatusUnprocessableEntity || body["message"] != msgNotOpen {
		t.Errorf("second cancel = %d %v", w.Code, body)
	}

	w, _ = env.do(t, "POST", "/api/orders/99999/cancel", 2, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown order status = %d, want 404", w.Code)
	}
	w, _ = env.do(t, "POST", "/api/orders/abc/cancel", 2, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("malformed id status = %d, want 404", w.Code)
	}

	_, profile := env.do(t, "GET", "/api/profile", 2, nil)
	if got := profile["user"].(map[string]any)["balance"]; got != "50000.00000000" {
		t.Errorf("balance after refund = %v", got)
	}
}

func TestHandler_OrderBook(t *testing.T) {
	env := newAPIEnv(t, HandlerConfig{})
	env.do(t, "POST", "/api/orders", 2, order("BTC", "buy", "40000", "0.1"))
	env.do(t, "POST", "/api/orders", 2, order("BTC", "buy", "41000", "0.1"))
	env.do(t, "POST", "/api/orders", 1, order("BTC", "sell", "50000", "0.1"))

	w, body := env.do(t, "GET", "/api/orders?symbol=BTC", 3, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	buys := body["buy_orders"].([]any)
	sells := body["sell_orders"].([]any)
	if len(buys) != 2 || len(sells) != 1 {
		t.Fatalf("book = %v", body)
	}
	if got := buys[0].(map[string]any)["price"]; got != "41000.00000000" {
		t.Errorf("best bid = %v, want 41000", got)
	}
	if _, leaked := buys[0].(map[string]any)["user_id"]; leaked {
		t.Error("order book must not expose the owner")
	}

	w, body = env.do(t, "GET", "/api/orders", 3, nil)
	if w.Code != http.StatusUnprocessableEntity || !strings.Contains(fmt.Sprint(body["errors"]), "The symbol parameter is required.") {
		t.Errorf("missing symbol = %d %v", w.Code, body)
	}
	w, body = env.do(t, "GET", "/api/orders?symbol=XRP", 3, nil)
	if w.Code != http.StatusUnprocessableEntity || !strings.Contains(fmt.Sprint(body["errors"]), "The symbol must be either BTC or ETH.") {
		t.Errorf("bad symbol = %d %v", w.Code, body)
	}
}

func TestHandler_MyOrdersNewestFirst(t *testing.T) {
	env := newAPIEnv(t, HandlerConfig{})
	env.do(t, "POST", "/api/orders", 2, order("BTC", "buy", "100", "0.1"))
	env.do(t, "POST", "/api/orders", 2, order("ETH", "buy", "200", "0.1"))

	_, body := env.do(t, "GET", "/api/my-orders", 2, nil)
	orders := body["orders"].([]any)
	if len(orders) != 2 || orders[0].(map[string]any)["symbol"] != "ETH" {
		t.Errorf("orders = %v", orders)
	}

	_, body = env.do(t, "GET", "/api/my-orders", 3, nil)
	if orders := body["orders"].([]any); len(orders) != 0 {
		t.Errorf("orders of user without orders = %v", orders)
	}
}

func TestHandler_ProfileUnknownUser(t *testing.T) {
	env := newAPIEnv(t, HandlerConfig{})
	w, _ := env.do(t, "GET", "/api/profile", 42, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestHandler_RateLimitsOrderWrites(t *testing.T) {
	env := newAPIEnv(t, HandlerConfig{OrderRate: 0.001, OrderBurst: 1})

	w, _ := env.do(t, "POST", "/api/orders", 2, order("BTC", "buy", "100", "0.1"))
	if w.Code != http.StatusCreated {
		t.Fatalf("first order status = %d", w.Code)
	}
	w, body := env.do(t, "POST", "/api/orders", 2, order("BTC", "buy", "100", "0.1"))
	if w.Code != http.StatusTooManyRequests || body["message"] != msgTooManyRequests {
		t.Fatalf("second order = %d %v, want 429", w.Code, body)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	// Reads and other users are not limited.
	if w, _ := env.do(t, "GET", "/api/my-orders", 2, nil); w.Code != http.StatusOK {
		t.Errorf("read status = %d", w.Code)
	}
	if w, _ := env.do(t, "POST", "/api/orders", 3, order("BTC", "buy", "100", "0.1")); w.Code != http.StatusCreated {
		t.Errorf("other user status = %d", w.Code)
	}
}

func TestFormatUSD(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "0.00"},
		{"999.999", "1,000.00"},
		{"45500", "45,500.00"},
		{"1234567.891", "1,234,567.89"},
		{"-1500.5", "-1,500.50"},
	}
	for _, tt := range tests {
		if got := formatUSD(d(tt.in).Decimal()); got != tt.want {
			t.Errorf("formatUSD(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
