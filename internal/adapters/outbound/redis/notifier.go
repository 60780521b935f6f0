// Package redis provides a Redis pub/sub implementation of the TradeNotifier port.
//
// Each settled trade is published to the private channel of both parties,
// "<prefix>user.<id>", wrapped in an outbound.BroadcastEnvelope:
//
//	{"event": "order.matched", "data": {...TradeSettledEvent...}}
//
// Subscriber reads those channels back so every API replica can push the
// events to its own websocket clients.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/archon-research/stl-exchange/internal/ports/outbound"
)

// Compile-time check that Notifier implements outbound.TradeNotifier
var _ outbound.TradeNotifier = (*Notifier)(nil)

// Config holds Redis pub/sub configuration.
type Config struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string
	// Password for Redis authentication (empty for no auth)
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// ChannelPrefix is prepended to every user channel
	ChannelPrefix string
}

// ConfigDefaults returns sensible defaults for Redis pub/sub configuration.
func ConfigDefaults() Config {
	return Config{
		Addr:          "localhost:6379",
		Password:      "",
		DB:            0,
		ChannelPrefix: "exchange:",
	}
}

// Notifier publishes trade events to the users' Redis channels.
type Notifier struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewNotifier creates a new Redis notifier.
func NewNotifier(cfg Config, logger *slog.Logger) (*Notifier, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if logger == nil {
		logger = slog.Default()
	}

	return &Notifier{
		client: client,
		prefix: cfg.ChannelPrefix,
		logger: logger.With("component", "redis-notifier"),
	}, nil
}

// Client returns the underlying Redis client, e.g. to share it with a Subscriber.
func (n *Notifier) Client() *redis.Client {
	return n.client
}

// Ping checks the Redis connection.
func (n *Notifier) Ping(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (n *Notifier) Close() error {
	return n.client.Close()
}

// Publish sends the event to the buyer's and the seller's channel in one pipeline.
func (n *Notifier) Publish(ctx context.Context, event outbound.TradeSettledEvent) error {
	payload, err := outbound.EncodeBroadcast(event)
	if err != nil {
		return err
	}

	pipe := n.client.Pipeline()
	for _, userID := range event.Recipients() {
		pipe.Publish(ctx, UserChannel(n.prefix, userID), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish trade event: %w", err)
	}

	n.logger.Debug("trade event published",
		"eventId", event.EventID,
		"buyerId", event.BuyerID,
		"sellerId", event.SellerID)
	return nil
}

// UserChannel returns the private channel name of a user.
func UserChannel(prefix string, userID int64) string {
	return prefix + "user." + strconv.FormatInt(userID, 10)
}

// ParseUserChannel extracts the user id from a channel name produced by UserChannel.
func ParseUserChannel(prefix, channel string) (int64, bool) {
	rest, ok := strings.CutPrefix(channel, prefix+"user.")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
