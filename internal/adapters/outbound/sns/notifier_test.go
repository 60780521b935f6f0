package sns

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/archon-research/stl-exchange/internal/pkg/fixedpoint"
	"github.com/archon-research/stl-exchange/internal/ports/outbound"
)

// mockSNSClient implements SNSPublisher for testing.
type mockSNSClient struct {
	publishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	calls       []*sns.PublishInput
}

func (m *mockSNSClient) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.calls = append(m.calls, params)
	if m.publishFunc != nil {
		return m.publishFunc(ctx, params, optFns...)
	}
	return &sns.PublishOutput{
		MessageId: aws.String("test-message-id"),
	}, nil
}

const (
	testTopicARN     = "arn:aws:sns:us-east-1:123456789:exchange-trades"
	testFIFOTopicARN = "arn:aws:sns:us-east-1:123456789:exchange-trades.fifo"
)

func testEvent() outbound.TradeSettledEvent {
	return outbound.TradeSettledEvent{
		EventID:  "8c1f1d0e-6a43-4b0a-9c55-0a5d1e3f7b21",
		BuyerID:  2,
		SellerID: 1,
		Details: outbound.TradeDetails{
			BuyOrderID:    11,
			SellOrderID:   10,
			Symbol:        "BTC",
			ExecutedPrice: fixedpoint.MustParse("45000"),
			Amount:        fixedpoint.MustParse("0.1"),
			Commission:    fixedpoint.MustParse("67.5"),
		},
		SettledAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func fastConfig(topic string) Config {
	return Config{
		TopicARN:       topic,
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

func TestNewNotifier_RequiresClient(t *testing.T) {
	_, err := NewNotifier(nil, Config{TopicARN: testTopicARN})
	if err == nil || err.Error() != "sns client is required" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewNotifier_RequiresTopicARN(t *testing.T) {
	_, err := NewNotifier(&mockSNSClient{}, Config{})
	if err == nil || err.Error() != "topic ARN is required" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewNotifier_AppliesDefaults(t *testing.T) {
	n, err := NewNotifier(&mockSNSClient{}, Config{TopicARN: testTopicARN})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.config.MaxRetries != 3 {
		t.Errorf("expected MaxRetries=3, got %d", n.config.MaxRetries)
	}
	if n.config.InitialBackoff != 100*time.Millisecond {
		t.Errorf("expected InitialBackoff=100ms, got %v", n.config.InitialBackoff)
	}
	if n.config.BackoffFactor != 2.0 {
		t.Errorf("expected BackoffFactor=2.0, got %v", n.config.BackoffFactor)
	}
}

func TestPublish_StandardTopic(t *testing.T) {
	client := &mockSNSClient{}
	n, err := NewNotifier(client, fastConfig(testTopicARN))
	if err != nil {
		t.Fatal(err)
	}

	if err := n.Publish(context.Background(), testEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(client.calls))
	}

	call := client.calls[0]
	if *call.TopicArn != testTopicARN {
		t.Errorf("topic = %s", *call.TopicArn)
	}
	if call.MessageGroupId != nil || call.MessageDeduplicationId != nil {
		t.Error("standard topic must not carry FIFO fields")
	}
	if got := *call.MessageAttributes["eventType"].StringValue; got != "order.matched" {
		t.Errorf("eventType = %s", got)
	}
	if got := *call.MessageAttributes["buyerId"].StringValue; got != "2" {
		t.Errorf("buyerId = %s", got)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(*call.Message), &decoded); err != nil {
		t.Fatalf("message is not JSON: %v", err)
	}
	details, ok := decoded["orderDetails"].(map[string]any)
	if !ok {
		t.Fatalf("orderDetails missing: %s", *call.Message)
	}
	if details["commission"] != "67.50000000" {
		t.Errorf("commission = %v", details["commission"])
	}
}

func TestPublish_FIFOTopic(t *testing.T) {
	client := &mockSNSClient{}
	n, _ := NewNotifier(client, fastConfig(testFIFOTopicARN))

	if err := n.Publish(context.Background(), testEvent()); err != nil {
		t.Fatal(err)
	}
	call := client.calls[0]
	if call.MessageGroupId == nil || *call.MessageGroupId != "BTC" {
		t.Errorf("MessageGroupId = %v, want BTC", call.MessageGroupId)
	}
	if call.MessageDeduplicationId == nil || *call.MessageDeduplicationId != testEvent().EventID {
		t.Errorf("MessageDeduplicationId = %v", call.MessageDeduplicationId)
	}
}

func TestPublish_RetriesTransientErrors(t *testing.T) {
	attempts := 0
	client := &mockSNSClient{
		publishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
			attempts++
			if attempts < 3 {
				return nil, &types.ThrottledException{Message: aws.String("slow down")}
			}
			return &sns.PublishOutput{MessageId: aws.String("ok")}, nil
		},
	}
	n, _ := NewNotifier(client, fastConfig(testTopicARN))

	if err := n.Publish(context.Background(), testEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestPublish_DoesNotRetryInvalidParameter(t *testing.T) {
	client := &mockSNSClient{
		publishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
			return nil, &types.InvalidParameterException{Message: aws.String("bad")}
		},
	}
	n, _ := NewNotifier(client, fastConfig(testTopicARN))

	if err := n.Publish(context.Background(), testEvent()); err == nil {
		t.Fatal("expected error")
	}
	if len(client.calls) != 1 {
		t.Errorf("calls = %d, want 1", len(client.calls))
	}
}

func TestPublish_AfterClose(t *testing.T) {
	n, _ := NewNotifier(&mockSNSClient{}, fastConfig(testTopicARN))
	if err := n.Close(); err != nil {
		t.Fatal(err)
	}
	if err := n.Publish(context.Background(), testEvent()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	// Close is idempotent
	if err := n.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"throttled", &types.ThrottledException{}, true},
		{"internal", &types.InternalErrorException{}, true},
		{"not found", &types.NotFoundException{}, false},
		{"auth", &types.AuthorizationErrorException{}, false},
		{"network", errors.New("connection reset"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.want {
				t.Errorf("isRetryableError = %v, want %v", got, tt.want)
			}
		})
	}
}
