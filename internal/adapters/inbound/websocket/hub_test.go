package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/archon-research/stl-exchange/internal/ports/outbound"
	"github.com/archon-research/stl-exchange/internal/testutil"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(Config{Logger: testutil.DiscardLogger()})
	server := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})
	return hub, server
}

func dial(t *testing.T, server *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?user_id=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForConnections(t *testing.T, hub *Hub, userID int64, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Connections(userID) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("user %d connections = %d, want %d", userID, hub.Connections(userID), want)
}

func TestHub_RejectsAnonymous(t *testing.T) {
	_, server := newTestHub(t)
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}
}

func TestHub_PublishReachesBothParties(t *testing.T) {
	hub, server := newTestHub(t)
	buyer := dial(t, server, "2")
	seller := dial(t, server, "1")
	other := dial(t, server, "3")
	waitForConnections(t, hub, 1, 1)
	waitForConnections(t, hub, 2, 1)
	waitForConnections(t, hub, 3, 1)

	event := outbound.TradeSettledEvent{EventID: "e1", BuyerID: 2, SellerID: 1}
	if err := hub.Publish(context.Background(), event); err != nil {
		t.Fatal(err)
	}

	for name, conn := range map[string]*websocket.Conn{"buyer": buyer, "seller": seller} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("%s read: %v", name, err)
		}
		var env outbound.BroadcastEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			t.Fatalf("%s: bad payload: %v", name, err)
		}
		if env.Event != "order.matched" {
			t.Errorf("%s event = %s", name, env.Event)
		}
	}

	other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := other.ReadMessage(); err == nil {
		t.Error("uninvolved user received a message")
	}
}

func TestHub_UnregistersOnDisconnect(t *testing.T) {
	hub, server := newTestHub(t)
	conn := dial(t, server, "5")
	waitForConnections(t, hub, 5, 1)

	conn.Close()
	waitForConnections(t, hub, 5, 0)
}

func TestHub_PublishAfterClose(t *testing.T) {
	hub, _ := newTestHub(t)
	hub.Close()
	err := hub.Publish(context.Background(), outbound.TradeSettledEvent{BuyerID: 1, SellerID: 2})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestHub_DeliverToUnknownUserIsNoop(t *testing.T) {
	hub, _ := newTestHub(t)
	hub.Deliver(99, []byte(`{}`))
	if hub.Connections(99) != 0 {
		t.Error("unexpected connection")
	}
}
