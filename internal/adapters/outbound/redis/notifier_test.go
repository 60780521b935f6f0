package redis

import (
	"encoding/json"
	"testing"

	"github.com/archon-research/stl-exchange/internal/pkg/fixedpoint"
	"github.com/archon-research/stl-exchange/internal/ports/outbound"
)

func TestNewNotifier_EmptyAddrReturnsError(t *testing.T) {
	if _, err := NewNotifier(Config{}, nil); err == nil {
		t.Error("expected error for empty address")
	}
}

func TestNewNotifier_CreatesWithConfig(t *testing.T) {
	n, err := NewNotifier(Config{Addr: "localhost:6379", ChannelPrefix: "x:"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer n.Close()
	if n.prefix != "x:" {
		t.Errorf("prefix = %q", n.prefix)
	}
	if n.Client() == nil {
		t.Error("client is nil")
	}
}

func TestConfigDefaults_ReturnsDefaults(t *testing.T) {
	cfg := ConfigDefaults()
	if cfg.Addr != "localhost:6379" {
		t.Errorf("Addr = %s", cfg.Addr)
	}
	if cfg.ChannelPrefix != "exchange:" {
		t.Errorf("ChannelPrefix = %s", cfg.ChannelPrefix)
	}
}

func TestUserChannel_RoundTrip(t *testing.T) {
	tests := []struct {
		prefix string
		id     int64
		want   string
	}{
		{"", 1, "user.1"},
		{"exchange:", 42, "exchange:user.42"},
	}
	for _, tt := range tests {
		ch := UserChannel(tt.prefix, tt.id)
		if ch != tt.want {
			t.Errorf("UserChannel(%q, %d) = %s, want %s", tt.prefix, tt.id, ch, tt.want)
		}
		id, ok := ParseUserChannel(tt.prefix, ch)
		if !ok || id != tt.id {
			t.Errorf("ParseUserChannel(%s) = %d, %v", ch, id, ok)
		}
	}
}

func TestParseUserChannel_Rejects(t *testing.T) {
	for _, ch := range []string{"exchange:order.1", "exchange:user.", "exchange:user.abc", "exchange:user.-3", "user.1"} {
		if _, ok := ParseUserChannel("exchange:", ch); ok {
			t.Errorf("ParseUserChannel accepted %q", ch)
		}
	}
}

func TestEncodeBroadcast(t *testing.T) {
	event := outbound.TradeSettledEvent{
		EventID:  "e1",
		BuyerID:  2,
		SellerID: 1,
		Details: outbound.TradeDetails{
			Symbol:        "ETH",
			ExecutedPrice: fixedpoint.MustParse("3000"),
			Amount:        fixedpoint.MustParse("1"),
			Commission:    fixedpoint.MustParse("45"),
		},
	}

	payload, err := outbound.EncodeBroadcast(event)
	if err != nil {
		t.Fatal(err)
	}

	var env outbound.BroadcastEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatal(err)
	}
	if env.Event != "order.matched" {
		t.Errorf("event = %s", env.Event)
	}
	var decoded outbound.TradeSettledEvent
	if err := json.Unmarshal(env.Data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.BuyerID != 2 || decoded.Details.Symbol != "ETH" {
		t.Errorf("decoded = %+v", decoded)
	}
	if !decoded.Details.Commission.Equal(fixedpoint.MustParse("45")) {
		t.Errorf("commission = %s", decoded.Details.Commission)
	}
}
