package bunstore

import (
	"context"
	"fmt"

	"github.com/jensholdgaard/bidcore/internal/event"
	"github.com/jensholdgaard/bidcore/internal/store"
)

func (s *Store) GetLot(ctx context.Context, lotID string) (*store.Lot, error) {
	l := new(store.Lot)
	if err := s.db.NewSelect().Model(l).Where("id = ?", lotID).Scan(ctx); err != nil {
		return nil, mapError(fmt.Sprintf("getting lot %s", lotID), err)
	}
	return l, nil
}

func (s *Store) GetAuction(ctx context.Context, auctionID string) (*store.Auction, error) {
	a := new(store.Auction)
	if err := s.db.NewSelect().Model(a).Where("id = ?", auctionID).Scan(ctx); err != nil {
		return nil, mapError(fmt.Sprintf("getting auction %s", auctionID), err)
	}
	return a, nil
}

func (s *Store) TopBid(ctx context.Context, lotID string) (*store.Bid, error) {
	return topBid(ctx, s.db, lotID)
}

func (s *Store) ListBidsByLot(ctx context.Context, lotID string) ([]store.Bid, error) {
	var bids []store.Bid
	err := s.db.NewSelect().
		Model(&bids).
		Where("lot_id = ?", lotID).
		OrderExpr(bidRank).
		Scan(ctx)
	if err != nil {
		return nil, mapError("listing bids", err)
	}
	return bids, nil
}

func (s *Store) ListBidsByBidder(ctx context.Context, bidderID string) ([]store.BidderBid, error) {
	var rows []store.BidderBid
	err := s.db.NewRaw(
		`SELECT b.id, b.seq, b.lot_id, b.bidder_id, b.amount, b.status, b.created_at,
		        l.title AS lot_title, l.lot_number, l.current_bid AS lot_current_bid,
		        (SELECT tb.bidder_id FROM bids tb WHERE tb.lot_id = l.id
		          ORDER BY tb.amount DESC, tb.created_at ASC, tb.seq ASC LIMIT 1) AS highest_bidder_id
		 FROM bids b
		 JOIN lots l ON l.id = b.lot_id
		 WHERE b.bidder_id = ?
		 ORDER BY b.created_at DESC, b.seq DESC`, bidderID).
		Scan(ctx, &rows)
	if err != nil {
		return nil, mapError("listing bidder bids", err)
	}
	return rows, nil
}

func (s *Store) Load(ctx context.Context, aggregateID string) ([]event.Event, error) {
	events := []event.Event{}
	err := s.db.NewSelect().
		Model(&events).
		Where("aggregate_id = ?", aggregateID).
		Order("version ASC").
		Scan(ctx)
	if err != nil {
		return nil, mapError("loading events", err)
	}
	return events, nil
}

func (s *Store) LoadByType(ctx context.Context, eventType event.Type) ([]event.Event, error) {
	events := []event.Event{}
	err := s.db.NewSelect().
		Model(&events).
		Where("type = ?", eventType).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, mapError("loading events by type", err)
	}
	return events, nil
}
