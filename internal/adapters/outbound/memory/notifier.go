// notifier.go provides an in-memory implementation of TradeNotifier.
//
// This adapter stores every published trade event for inspection in tests:
//   - Events(): returns all published events
//   - EventsForUser(): filters events by recipient
//   - SetOnPublish(): registers a callback for event assertions
//   - FailWith(): makes subsequent publishes fail
//
// All operations are thread-safe. For production, use the sns or redis adapter.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/archon-research/stl-exchange/internal/ports/outbound"
)

// Compile-time check that Notifier implements outbound.TradeNotifier
var _ outbound.TradeNotifier = (*Notifier)(nil)

// Notifier is an in-memory TradeNotifier for testing.
type Notifier struct {
	mu      sync.RWMutex
	events  []outbound.TradeSettledEvent
	closed  bool
	failErr error

	onPublish func(outbound.TradeSettledEvent)
}

// NewNotifier creates a new in-memory notifier.
func NewNotifier() *Notifier {
	return &Notifier{
		events: make([]outbound.TradeSettledEvent, 0),
	}
}

// Publish stores the event, or returns the configured failure.
func (n *Notifier) Publish(ctx context.Context, event outbound.TradeSettledEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.failErr != nil {
		return n.failErr
	}
	if n.closed {
		return nil
	}

	n.events = append(n.events, event)

	if n.onPublish != nil {
		n.onPublish(event)
	}
	return nil
}

// Close marks the notifier as closed.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}

// Events returns all published events.
func (n *Notifier) Events() []outbound.TradeSettledEvent {
	n.mu.RLock()
	defer n.mu.RUnlock()
	result := make([]outbound.TradeSettledEvent, len(n.events))
	copy(result, n.events)
	return result
}

// EventsForUser returns the events userID is a recipient of.
func (n *Notifier) EventsForUser(userID int64) []outbound.TradeSettledEvent {
	n.mu.RLock()
	defer n.mu.RUnlock()
	result := make([]outbound.TradeSettledEvent, 0)
	for _, e := range n.events {
		if slices.Contains(e.Recipients(), userID) {
			result = append(result, e)
		}
	}
	return result
}

// SetOnPublish sets a callback invoked on every stored event.
func (n *Notifier) SetOnPublish(fn func(outbound.TradeSettledEvent)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onPublish = fn
}

// FailWith makes every subsequent Publish return err. A nil err restores delivery.
func (n *Notifier) FailWith(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failErr = err
}

// Clear removes all stored events.
func (n *Notifier) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = make([]outbound.TradeSettledEvent, 0)
}
