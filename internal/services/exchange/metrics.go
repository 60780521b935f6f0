package exchange

import (
	"context"
	"time"

	"github.com/archon-research/stl-exchange/internal/pkg/fixedpoint"
	"github.com/archon-research/stl-exchange/internal/ports/outbound"
)

var _ outbound.MetricsRecorder = noopMetrics{}

type noopMetrics struct{}

func (noopMetrics) RecordOrderPlaced(context.Context, string, string) {}
func (noopMetrics) RecordOrderRejected(context.Context, string, string) {}
func (noopMetrics) RecordTrade(context.Context, string, fixedpoint.Value, fixedpoint.Value) {}
func (noopMetrics) RecordOrderCancelled(context.Context, string) {}
func (noopMetrics) RecordPlacementLatency(context.Context, time.Duration, string) {}
func (noopMetrics) RecordNotificationFailure(context.Context, string) {}
