// Package sns implements the TradeNotifier port using AWS SNS.
//
// Every settled trade is published to one SNS topic as a JSON message.
// Downstream consumers (for example a push gateway fanning events out to the
// buyer's and seller's channels) subscribe to the topic.
//
// Features:
//   - Retry with exponential backoff for transient failures (internal/pkg/retry)
//   - FIFO topics: messages are grouped by symbol and deduplicated by event id
//   - Message attributes for subscription filtering
//
// Message Attributes:
//   - eventType: "order.matched"
//   - symbol: the traded asset symbol
//   - buyerId, sellerId: the user ids of both parties
//
// For testing, use the memory.Notifier adapter instead.
package sns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/archon-research/stl-exchange/internal/pkg/retry"
	"github.com/archon-research/stl-exchange/internal/ports/outbound"
)

// Compile-time check that Notifier implements outbound.TradeNotifier
var _ outbound.TradeNotifier = (*Notifier)(nil)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("notifier is closed")

// SNSPublisher defines the subset of SNS client methods used by Notifier.
// This interface allows for easy mocking in tests.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Config holds configuration for the SNS notifier.
type Config struct {
	// TopicARN is the topic trade events are published to. A topic whose
	// name ends in ".fifo" gets MessageGroupId and MessageDeduplicationId.
	TopicARN string

	// MaxRetries is the maximum number of retry attempts for transient failures.
	MaxRetries int

	// InitialBackoff is the initial delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum delay between retries.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to backoff after each retry.
	BackoffFactor float64

	// Logger is the structured logger for the notifier.
	Logger *slog.Logger
}

// ConfigDefaults returns a config with default values.
func ConfigDefaults() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		BackoffFactor:  2.0,
		Logger:         slog.Default(),
	}
}

// Notifier publishes trade events to AWS SNS.
type Notifier struct {
	client    SNSPublisher
	config    Config
	fifo      bool
	logger    *slog.Logger
	closeOnce sync.Once
	closed    bool
	mu        sync.RWMutex
}

// NewNotifier creates a new SNS notifier.
func NewNotifier(client SNSPublisher, config Config) (*Notifier, error) {
	if client == nil {
		return nil, errors.New("sns client is required")
	}
	if config.TopicARN == "" {
		return nil, errors.New("topic ARN is required")
	}

	// Apply defaults for unset values
	defaults := ConfigDefaults()
	if config.MaxRetries == 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.BackoffFactor == 0 {
		config.BackoffFactor = defaults.BackoffFactor
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Notifier{
		client: client,
		config: config,
		fifo:   strings.HasSuffix(config.TopicARN, ".fifo"),
		logger: config.Logger.With("component", "sns-notifier"),
	}, nil
}

// Publish publishes a trade event to SNS.
func (n *Notifier) Publish(ctx context.Context, event outbound.TradeSettledEvent) error {
	n.mu.RLock()
	if n.closed {
		n.mu.RUnlock()
		return ErrClosed
	}
	n.mu.RUnlock()

	messageBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// Build message attributes for filtering
	attributes := map[string]types.MessageAttributeValue{
		"eventType": {
			DataType:    aws.String("String"),
			StringValue: aws.String(outbound.TradeSettledEventName),
		},
		"symbol": {
			DataType:    aws.String("String"),
			StringValue: aws.String(event.Details.Symbol),
		},
		"buyerId": {
			DataType:    aws.String("Number"),
			StringValue: aws.String(strconv.FormatInt(event.BuyerID, 10)),
		},
		"sellerId": {
			DataType:    aws.String("Number"),
			StringValue: aws.String(strconv.FormatInt(event.SellerID, 10)),
		},
	}

	input := &sns.PublishInput{
		TopicArn:          aws.String(n.config.TopicARN),
		Message:           aws.String(string(messageBytes)),
		MessageAttributes: attributes,
	}
	if n.fifo {
		input.MessageGroupId = aws.String(event.Details.Symbol)
		input.MessageDeduplicationId = aws.String(event.EventID)
	}

	retryCfg := retry.Config{
		MaxRetries:     n.config.MaxRetries,
		InitialBackoff: n.config.InitialBackoff,
		MaxBackoff:     n.config.MaxBackoff,
		BackoffFactor:  n.config.BackoffFactor,
		Jitter:         true,
	}
	onRetry := func(attempt int, err error, backoff time.Duration) {
		n.logger.Warn("publish failed, retrying",
			"attempt", attempt,
			"maxRetries", n.config.MaxRetries,
			"backoff", backoff,
			"error", err,
			"eventId", event.EventID)
	}

	err = retry.DoVoid(ctx, retryCfg, isRetryableError, onRetry, func() error {
		_, err := n.client.Publish(ctx, input)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}
	return nil
}

// isRetryableError determines if an error should trigger a retry.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Context errors are not retryable
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Request errors will fail the same way again
	var invalidParam *types.InvalidParameterException
	if errors.As(err, &invalidParam) {
		return false
	}
	var notFound *types.NotFoundException
	if errors.As(err, &notFound) {
		return false
	}
	var authErr *types.AuthorizationErrorException
	if errors.As(err, &authErr) {
		return false
	}

	// Throttling, internal errors and network issues are transient
	return true
}

// Close marks the notifier as closed and prevents further publishing.
func (n *Notifier) Close() error {
	n.closeOnce.Do(func() {
		n.mu.Lock()
		n.closed = true
		n.mu.Unlock()
		n.logger.Info("SNS notifier closed")
	})
	return nil
}
