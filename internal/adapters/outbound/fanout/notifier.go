// Package fanout combines several TradeNotifiers into one.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/archon-research/stl-exchange/internal/ports/outbound"
)

// Compile-time check that Notifier implements outbound.TradeNotifier
var _ outbound.TradeNotifier = (*Notifier)(nil)

// Target is a named notifier.
type Target struct {
	Name     string
	Notifier outbound.TradeNotifier
}

// Notifier publishes every event to all targets concurrently. One failing
// target does not stop delivery to the others.
type Notifier struct {
	targets []Target
}

// New creates a fanout over targets. Targets with a nil notifier are skipped.
func New(targets ...Target) *Notifier {
	n := &Notifier{}
	for _, t := range targets {
		if t.Notifier != nil {
			n.targets = append(n.targets, t)
		}
	}
	return n
}

// Len returns the number of targets.
func (n *Notifier) Len() int {
	return len(n.targets)
}

// Publish delivers event to every target and joins their errors.
func (n *Notifier) Publish(ctx context.Context, event outbound.TradeSettledEvent) error {
	errs := make([]error, len(n.targets))
	var wg sync.WaitGroup
	for i, t := range n.targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := t.Notifier.Publish(ctx, event); err != nil {
				errs[i] = fmt.Errorf("%s: %w", t.Name, err)
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Close closes every target and joins their errors.
func (n *Notifier) Close() error {
	var errs []error
	for _, t := range n.targets {
		if err := t.Notifier.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Name, err))
		}
	}
	return errors.Join(errs...)
}
