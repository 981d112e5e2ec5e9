package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/jensholdgaard/bidcore"

// BidMetrics holds the instruments recorded on the bidding write path.
type BidMetrics struct {
	accepted  metric.Int64Counter
	rejected  metric.Int64Counter
	duration  metric.Float64Histogram
	removed   metric.Int64Counter
	lockWaits metric.Int64Counter
}

// NewBidMetrics creates the bidding instruments on mp.
func NewBidMetrics(mp metric.MeterProvider) (*BidMetrics, error) {
	meter := mp.Meter(meterName)

	accepted, err := meter.Int64Counter("bidcore.bids.accepted",
		metric.WithDescription("Bids committed to a lot."))
	if err != nil {
		return nil, fmt.Errorf("creating accepted counter: %w", err)
	}
	rejected, err := meter.Int64Counter("bidcore.bids.rejected",
		metric.WithDescription("Bids rejected, by reason."))
	if err != nil {
		return nil, fmt.Errorf("creating rejected counter: %w", err)
	}
	duration, err := meter.Float64Histogram("bidcore.bid.duration",
		metric.WithDescription("Time to place a bid, including lock waits and retries."),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}
	removed, err := meter.Int64Counter("bidcore.top_bids.removed",
		metric.WithDescription("Top bids removed by administrators."))
	if err != nil {
		return nil, fmt.Errorf("creating removed counter: %w", err)
	}
	lockWaits, err := meter.Int64Counter("bidcore.lot.busy",
		metric.WithDescription("Attempts that found the lot lock busy."))
	if err != nil {
		return nil, fmt.Errorf("creating busy counter: %w", err)
	}

	return &BidMetrics{
		accepted:  accepted,
		rejected:  rejected,
		duration:  duration,
		removed:   removed,
		lockWaits: lockWaits,
	}, nil
}

// BidPlaced records an outcome of a bid placement. reason is empty for
// accepted bids.
func (m *BidMetrics) BidPlaced(ctx context.Context, reason string, elapsed time.Duration) {
	m.duration.Record(ctx, float64(elapsed)/float64(time.Millisecond))
	if reason == "" {
		m.accepted.Add(ctx, 1)
		return
	}
	m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// TopBidRemoved counts a successful reversal.
func (m *BidMetrics) TopBidRemoved(ctx context.Context) {
	m.removed.Add(ctx, 1)
}

// LotBusy counts an attempt that could not take the lot lock.
func (m *BidMetrics) LotBusy(ctx context.Context, op string) {
	m.lockWaits.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}
