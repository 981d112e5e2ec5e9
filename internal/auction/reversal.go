package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

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

// Audit records who removed a bid and when.
type Audit struct {
	ActorID   string
	RemovedAt time.Time
}

// ReversalResult describes a removed top bid and the lot state afterwards.
type ReversalResult struct {
	LotID   string
	Removed store.Bid
	// NewTopBid is nil when the removed bid was the last one.
	NewTopBid  *store.Bid
	CurrentBid *decimal.Decimal
	BidCount   int
	Version    int64
	Audit      Audit
}

// ReversalService removes a lot's top bid and promotes the next highest.
// Callers are responsible for restricting it to administrators.
type ReversalService struct {
	ledger    store.Ledger
	updates   *broadcast.Sequencer
	metrics   *telemetry.BidMetrics
	retry     retryPolicy
	logger    *slog.Logger
	tracer    trace.Tracer
	clock     clock.Clock
}

// NewReversalService creates a ReversalService.
func NewReversalService(ledger store.Ledger, publisher broadcast.Publisher, metrics *telemetry.BidMetrics, cfg config.BiddingConfig, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock) *ReversalService {
	return &ReversalService{
		ledger:    ledger,
		updates:   broadcast.Sequence(publisher),
		metrics:   metrics,
		retry:     retryPolicy{maxRetries: cfg.MaxRetries, backoff: cfg.RetryBackoff},
		logger:    logger,
		tracer:    tp.Tracer(tracerName),
		clock:     clk,
	}
}

// RemoveTopBid deletes the highest bid of lotID on behalf of actorID and
// recomputes the lot from the remaining bids. A lot without bids yields
// biderr.ErrNoBidsFound and is left untouched.
func (s *ReversalService) RemoveTopBid(ctx context.Context, lotID, actorID string) (*ReversalResult, error) {
	ctx, span := s.tracer.Start(ctx, "ReversalService.RemoveTopBid",
		trace.WithAttributes(
			attribute.String("lot.id", lotID),
			attribute.String("actor.id", actorID),
		),
	)
	defer span.End()

	if lotID == "" || actorID == "" {
		return nil, fmt.Errorf("lot id and actor id are required: %w", biderr.ErrInvalidInput)
	}

	var res *ReversalResult
	var ticket *broadcast.Ticket
	err := s.retry.do(ctx, func() error {
		t, err := withLot(ctx, s.ledger, s.updates, lotID, func(ctx context.Context, tx store.LotTx) error {
			r, err := s.apply(ctx, tx, actorID)
			if err != nil {
				return err
			}
			res = r
			return nil
		})
		if errors.Is(err, biderr.ErrLotBusy) {
			s.metrics.LotBusy(ctx, "remove_top_bid")
		}
		ticket = t
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, biderr.Code(err))
		return nil, err
	}

	s.metrics.TopBidRemoved(ctx)
	telemetry.LogWithTrace(ctx, s.logger).InfoContext(ctx, "top bid removed",
		slog.String("lot_id", lotID),
		slog.String("actor_id", actorID),
		slog.String("removed_bid_id", res.Removed.ID),
		slog.String("removed_bidder_id", res.Removed.BidderID),
		slog.Int64("version", res.Version),
	)

	u := broadcast.LotUpdate{
		LotID:      lotID,
		Kind:       broadcast.KindTopBidRemoved,
		CurrentBid: res.CurrentBid,
		BidCount:   res.BidCount,
		Version:    res.Version,
		At:         res.Audit.RemovedAt,
	}
	if res.NewTopBid != nil {
		u.HighestBidderID = res.NewTopBid.BidderID
	}
	publish(ctx, ticket, s.logger, u)

	return res, nil
}

// apply runs inside the lot lock.
func (s *ReversalService) apply(ctx context.Context, tx store.LotTx, actorID string) (*ReversalResult, error) {
	snap, err := tx.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading lot: %w", err)
	}
	if snap.TopBid == nil {
		return nil, biderr.ErrNoBidsFound
	}
	removed := *snap.TopBid

	if err := tx.DeleteBid(ctx, removed.ID); err != nil {
		return nil, fmt.Errorf("deleting top bid: %w", err)
	}
	lot, newTop, err := tx.RecomputeLotAggregates(ctx)
	if err != nil {
		return nil, fmt.Errorf("recomputing lot: %w", err)
	}

	now := s.clock.Now()
	e, err := event.New(lot.ID, event.TopBidRemoved, lot.Version, event.TopBidRemovedData{
		ActorID:         actorID,
		RemovedBidID:    removed.ID,
		RemovedBidderID: removed.BidderID,
		RemovedAmount:   removed.Amount,
		NewCurrentBid:   lot.CurrentBid,
		NewBidCount:     lot.BidCount,
	}, now)
	if err != nil {
		return nil, err
	}
	if err := tx.AppendEvents(ctx, e); err != nil {
		return nil, fmt.Errorf("appending removal event: %w", err)
	}

	return &ReversalResult{
		LotID:      lot.ID,
		Removed:    removed,
		NewTopBid:  newTop,
		CurrentBid: lot.CurrentBid,
		BidCount:   lot.BidCount,
		Version:    lot.Version,
		Audit:      Audit{ActorID: actorID, RemovedAt: now},
	}, nil
}
