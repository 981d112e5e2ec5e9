package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/bidcore/internal/store"
)

// Reader implements store.Reader without locking.
type Reader struct {
	db *sqlx.DB
}

// NewReader returns a new Reader.
func NewReader(db *sqlx.DB) *Reader {
	return &Reader{db: db}
}

func (r *Reader) GetLot(ctx context.Context, lotID string) (*store.Lot, error) {
	var l store.Lot
	if err := r.db.GetContext(ctx, &l, `SELECT `+lotColumns+` FROM lots WHERE id = $1`, lotID); err != nil {
		return nil, mapError(fmt.Sprintf("getting lot %s", lotID), err)
	}
	return &l, nil
}

func (r *Reader) GetAuction(ctx context.Context, auctionID string) (*store.Auction, error) {
	var a store.Auction
	if err := r.db.GetContext(ctx, &a, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, auctionID); err != nil {
		return nil, mapError(fmt.Sprintf("getting auction %s", auctionID), err)
	}
	return &a, nil
}

func (r *Reader) TopBid(ctx context.Context, lotID string) (*store.Bid, error) {
	return topBid(ctx, r.db, lotID)
}

func (r *Reader) ListBidsByLot(ctx context.Context, lotID string) ([]store.Bid, error) {
	var bids []store.Bid
	err := r.db.SelectContext(ctx, &bids,
		`SELECT `+bidColumns+` FROM bids WHERE lot_id = $1 ORDER BY `+bidRank, lotID)
	if err != nil {
		return nil, mapError("listing bids", err)
	}
	return bids, nil
}

func (r *Reader) ListBidsByBidder(ctx context.Context, bidderID string) ([]store.BidderBid, error) {
	var rows []store.BidderBid
	err := r.db.SelectContext(ctx, &rows,
		`SELECT b.id, b.seq, b.lot_id, b.bidder_id, b.amount, b.status, b.created_at,
		        l.title AS lot_title, l.lot_number, l.current_bid AS lot_current_bid,
		        (SELECT tb.bidder_id FROM bids tb WHERE tb.lot_id = l.id
		          ORDER BY tb.amount DESC, tb.created_at ASC, tb.seq ASC LIMIT 1) AS highest_bidder_id
		 FROM bids b
		 JOIN lots l ON l.id = b.lot_id
		 WHERE b.bidder_id = $1
		 ORDER BY b.created_at DESC, b.seq DESC`, bidderID)
	if err != nil {
		return nil, mapError("listing bidder bids", err)
	}
	return rows, nil
}
