package auction

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/bidcore/internal/event"
	"github.com/jensholdgaard/bidcore/internal/store"
)

// LotView is a lot as presented to bidders.
type LotView struct {
	Lot             store.Lot
	Auction         store.Auction
	MinimumBid      decimal.Decimal
	HighestBidderID string
}

// MyBid is one of a bidder's bids with the state of its lot.
type MyBid struct {
	store.BidderBid
	IsWinning bool
}

// Reader serves committed lot state without taking the lot lock.
type Reader struct {
	store  store.Reader
	events event.Store
	tracer trace.Tracer
}

// NewReader creates a Reader.
func NewReader(s store.Reader, events event.Store, tp trace.TracerProvider) *Reader {
	return &Reader{store: s, events: events, tracer: tp.Tracer(tracerName)}
}

// Lot returns the lot with its auction, next minimum bid and leading bidder.
func (r *Reader) Lot(ctx context.Context, lotID string) (*LotView, error) {
	ctx, span := r.tracer.Start(ctx, "Reader.Lot",
		trace.WithAttributes(attribute.String("lot.id", lotID)))
	defer span.End()

	lot, err := r.store.GetLot(ctx, lotID)
	if err != nil {
		return nil, err
	}
	auc, err := r.store.GetAuction(ctx, lot.AuctionID)
	if err != nil {
		return nil, fmt.Errorf("loading auction of lot %s: %w", lotID, err)
	}
	top, err := r.store.TopBid(ctx, lotID)
	if err != nil {
		return nil, err
	}

	v := &LotView{Lot: *lot, Auction: *auc, MinimumBid: MinimumBid(*lot)}
	if top != nil {
		v.HighestBidderID = top.BidderID
	}
	return v, nil
}

// Bids returns the bid history of a lot, highest first.
func (r *Reader) Bids(ctx context.Context, lotID string) ([]store.Bid, error) {
	ctx, span := r.tracer.Start(ctx, "Reader.Bids",
		trace.WithAttributes(attribute.String("lot.id", lotID)))
	defer span.End()

	if _, err := r.store.GetLot(ctx, lotID); err != nil {
		return nil, err
	}
	return r.store.ListBidsByLot(ctx, lotID)
}

// BidsByBidder returns a bidder's bids, newest first.
func (r *Reader) BidsByBidder(ctx context.Context, bidderID string) ([]MyBid, error) {
	ctx, span := r.tracer.Start(ctx, "Reader.BidsByBidder",
		trace.WithAttributes(attribute.String("bidder.id", bidderID)))
	defer span.End()

	rows, err := r.store.ListBidsByBidder(ctx, bidderID)
	if err != nil {
		return nil, err
	}
	out := make([]MyBid, 0, len(rows))
	for _, row := range rows {
		out = append(out, MyBid{
			BidderBid: row,
			IsWinning: row.HighestBidderID != nil && *row.HighestBidderID == bidderID && row.Status == store.BidWinning,
		})
	}
	return out, nil
}

// Audit returns the audit trail of a lot in version order.
func (r *Reader) Audit(ctx context.Context, lotID string) ([]event.Event, error) {
	ctx, span := r.tracer.Start(ctx, "Reader.Audit",
		trace.WithAttributes(attribute.String("lot.id", lotID)))
	defer span.End()

	if _, err := r.store.GetLot(ctx, lotID); err != nil {
		return nil, err
	}
	events, err := r.events.Load(ctx, lotID)
	if err != nil {
		return nil, fmt.Errorf("loading audit events: %w", err)
	}
	return events, nil
}
