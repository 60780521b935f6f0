package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// MessageHandler receives the raw envelope published to a user's channel.
type MessageHandler func(userID int64, payload []byte)

// Subscriber listens on every user channel and hands messages to a handler.
type Subscriber struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewSubscriber creates a subscriber over an existing client.
func NewSubscriber(client *redis.Client, prefix string, logger *slog.Logger) (*Subscriber, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		client: client,
		prefix: prefix,
		logger: logger.With("component", "redis-subscriber"),
	}, nil
}

// Run blocks delivering messages to handle until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context, handle MessageHandler) error {
	pubsub := s.client.PSubscribe(ctx, s.prefix+"user.*")
	defer pubsub.Close()

	// Wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	s.logger.Info("subscribed to user channels", "pattern", s.prefix+"user.*")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription channel closed")
			}
			userID, ok := ParseUserChannel(s.prefix, msg.Channel)
			if !ok {
				s.logger.Warn("ignoring message on unexpected channel", "channel", msg.Channel)
				continue
			}
			handle(userID, []byte(msg.Payload))
		}
	}
}
