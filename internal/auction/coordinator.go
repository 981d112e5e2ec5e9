package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/bidcore/internal/biderr"
	"github.com/jensholdgaard/bidcore/internal/broadcast"
	"github.com/jensholdgaard/bidcore/internal/clock"
	"github.com/jensholdgaard/bidcore/internal/config"
	"github.com/jensholdgaard/bidcore/internal/event"
	"github.com/jensholdgaard/bidcore/internal/store"
	"github.com/jensholdgaard/bidcore/internal/telemetry"
)

const tracerName = "github.com/jensholdgaard/bidcore/internal/auction"

// BidResult describes an accepted bid and the lot state it produced.
type BidResult struct {
	BidID      string
	LotID      string
	BidderID   string
	Amount     decimal.Decimal
	CreatedAt  time.Time
	CurrentBid decimal.Decimal
	BidCount   int
	Version    int64
}

// Coordinator places bids. Each placement validates and writes under the
// per-lot lock, so concurrent bids on a lot are applied one at a time.
type Coordinator struct {
	ledger    store.Ledger
	updates   *broadcast.Sequencer
	metrics   *telemetry.BidMetrics
	retry     retryPolicy
	logger    *slog.Logger
	tracer    trace.Tracer
	clock     clock.Clock
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(ledger store.Ledger, publisher broadcast.Publisher, metrics *telemetry.BidMetrics, cfg config.BiddingConfig, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock) *Coordinator {
	return &Coordinator{
		ledger:    ledger,
		updates:   broadcast.Sequence(publisher),
		metrics:   metrics,
		retry:     retryPolicy{maxRetries: cfg.MaxRetries, backoff: cfg.RetryBackoff},
		logger:    logger,
		tracer:    tp.Tracer(tracerName),
		clock:     clk,
	}
}

// PlaceBid validates and records a bid of amount by bidderID on lotID.
// Nothing is written when an error is returned.
func (c *Coordinator) PlaceBid(ctx context.Context, lotID, bidderID string, amount decimal.Decimal) (*BidResult, error) {
	ctx, span := c.tracer.Start(ctx, "Coordinator.PlaceBid",
		trace.WithAttributes(
			attribute.String("lot.id", lotID),
			attribute.String("bidder.id", bidderID),
			attribute.String("bid.amount", amount.String()),
		),
	)
	defer span.End()

	logger := telemetry.LogWithTrace(ctx, c.logger)
	start := time.Now()
	res, ticket, err := c.placeBid(ctx, lotID, bidderID, amount)
	if err != nil {
		c.metrics.BidPlaced(ctx, biderr.Code(err), time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, biderr.Code(err))
		logger.InfoContext(ctx, "bid rejected",
			slog.String("lot_id", lotID),
			slog.String("bidder_id", bidderID),
			slog.String("amount", amount.String()),
			slog.String("reason", biderr.Code(err)),
		)
		return nil, err
	}
	c.metrics.BidPlaced(ctx, "", time.Since(start))

	logger.InfoContext(ctx, "bid placed",
		slog.String("lot_id", lotID),
		slog.String("bid_id", res.BidID),
		slog.String("bidder_id", bidderID),
		slog.String("amount", amount.String()),
		slog.Int64("version", res.Version),
	)

	publish(ctx, ticket, c.logger, broadcast.LotUpdate{
		LotID:           res.LotID,
		Kind:            broadcast.KindBidPlaced,
		CurrentBid:      &res.CurrentBid,
		HighestBidderID: res.BidderID,
		BidCount:        res.BidCount,
		Version:         res.Version,
		At:              res.CreatedAt,
	})
	return res, nil
}

func (c *Coordinator) placeBid(ctx context.Context, lotID, bidderID string, amount decimal.Decimal) (*BidResult, *broadcast.Ticket, error) {
	if err := CheckBidInput(lotID, bidderID, amount); err != nil {
		return nil, nil, err
	}

	var res *BidResult
	var ticket *broadcast.Ticket
	err := c.retry.do(ctx, func() error {
		t, err := withLot(ctx, c.ledger, c.updates, lotID, func(ctx context.Context, tx store.LotTx) error {
			r, err := c.apply(ctx, tx, bidderID, amount)
			if err != nil {
				return err
			}
			res = r
			return nil
		})
		if errors.Is(err, biderr.ErrLotBusy) {
			c.metrics.LotBusy(ctx, "place_bid")
		}
		ticket = t
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return res, ticket, nil
}

// apply runs inside the lot lock.
func (c *Coordinator) apply(ctx context.Context, tx store.LotTx, bidderID string, amount decimal.Decimal) (*BidResult, error) {
	snap, err := tx.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading lot: %w", err)
	}

	now := c.clock.Now()
	var lastBidderID, previousID string
	if snap.TopBid != nil {
		lastBidderID = snap.TopBid.BidderID
		previousID = snap.TopBid.ID
	}
	decision, err := Validate(snap.Lot, snap.Auction, bidderID, amount, lastBidderID, now)
	if err != nil {
		return nil, err
	}

	bid := &store.Bid{
		ID:        uuid.NewString(),
		LotID:     snap.Lot.ID,
		BidderID:  bidderID,
		Amount:    amount,
		CreatedAt: now,
	}
	lot, err := tx.RecordBid(ctx, bid)
	if err != nil {
		return nil, fmt.Errorf("recording bid: %w", err)
	}
	if !decision.Matches(*lot) {
		return nil, biderr.Persistence("recording bid", fmt.Errorf("ledger wrote %v/%d, validated %s/%d",
			lot.CurrentBid, lot.BidCount, decision.CurrentBid, decision.BidCount))
	}

	e, err := event.New(lot.ID, event.BidPlaced, lot.Version, event.BidPlacedData{
		BidID:      bid.ID,
		BidderID:   bidderID,
		Amount:     amount,
		PreviousID: previousID,
	}, now)
	if err != nil {
		return nil, err
	}
	if err := tx.AppendEvents(ctx, e); err != nil {
		return nil, fmt.Errorf("appending bid event: %w", err)
	}

	return &BidResult{
		BidID:      bid.ID,
		LotID:      lot.ID,
		BidderID:   bidderID,
		Amount:     amount,
		CreatedAt:  bid.CreatedAt,
		CurrentBid: decision.CurrentBid,
		BidCount:   decision.BidCount,
		Version:    lot.Version,
	}, nil
}

// withLot runs fn under the lot lock and reserves the lot's publishing slot
// before the commit, so updates of one lot are published in commit order.
// The ticket is nil when an error is returned.
func withLot(ctx context.Context, ledger store.Ledger, updates *broadcast.Sequencer, lotID string, fn func(ctx context.Context, tx store.LotTx) error) (*broadcast.Ticket, error) {
	var ticket *broadcast.Ticket
	err := ledger.WithLotLock(ctx, lotID, func(ctx context.Context, tx store.LotTx) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		ticket = updates.Reserve(lotID)
		return nil
	})
	if err != nil {
		ticket.Cancel()
		return nil, err
	}
	return ticket, nil
}

// publish sends u in its reserved slot. Failures are logged and never reach
// the caller, whose mutation is already durable.
func publish(ctx context.Context, t *broadcast.Ticket, logger *slog.Logger, u broadcast.LotUpdate) {
	if err := t.Publish(ctx, u); err != nil {
		logger.WarnContext(ctx, "failed to broadcast lot update",
			slog.String("lot_id", u.LotID),
			slog.Int64("version", u.Version),
			slog.Any("error", err),
		)
	}
}

// retryPolicy retries operations that found the lot busy, waiting
// backoff*attempt between tries.
type retryPolicy struct {
	maxRetries int
	backoff    time.Duration
}

func (p retryPolicy) do(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if !errors.Is(err, biderr.ErrLotBusy) || attempt >= p.maxRetries {
			return err
		}

		wait := p.backoff * time.Duration(attempt+1)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("waiting to retry busy lot: %w", errors.Join(err, ctx.Err()))
		case <-timer.C:
		}
	}
}
