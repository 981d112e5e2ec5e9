package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/bidcore/internal/biderr"
	"github.com/jensholdgaard/bidcore/internal/clock"
	"github.com/jensholdgaard/bidcore/internal/event"
	"github.com/jensholdgaard/bidcore/internal/store"
)

const (
	auctionColumns = `id, title, start_time, end_time, status, created_at, updated_at`
	lotColumns     = `id, auction_id, lot_number, title, starting_bid, reserve_price, bid_increment,
		current_bid, bid_count, status, version, created_at, updated_at`
	bidColumns = `id, seq, lot_id, bidder_id, amount, status, created_at`

	// bidRank orders bids highest first, earliest first on ties.
	bidRank = `amount DESC, created_at ASC, seq ASC`
)

// Ledger implements store.Ledger with row locks on the lots table.
type Ledger struct {
	db          *sqlx.DB
	clock       clock.Clock
	lockTimeout time.Duration
}

// NewLedger returns a new Ledger. lockTimeout bounds the wait for a lot row
// lock; zero leaves the server default in place.
func NewLedger(db *sqlx.DB, clk clock.Clock, lockTimeout time.Duration) *Ledger {
	return &Ledger{db: db, clock: clk, lockTimeout: lockTimeout}
}

func (l *Ledger) WithLotLock(ctx context.Context, lotID string, fn func(ctx context.Context, tx store.LotTx) error) error {
	tx, err := l.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapError("beginning transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if l.lockTimeout > 0 {
		// SET does not take bind parameters; the value is an integer.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", l.lockTimeout.Milliseconds())); err != nil {
			return mapError("setting lock timeout", err)
		}
	}

	var locked string
	if err := tx.GetContext(ctx, &locked, `SELECT id FROM lots WHERE id = $1 FOR UPDATE`, lotID); err != nil {
		return mapError(fmt.Sprintf("locking lot %s", lotID), err)
	}

	if err := fn(ctx, &lotTx{tx: tx, lotID: locked, clock: l.clock}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapError("committing", err)
	}
	return nil
}

// lotTx is the store.LotTx of a transaction holding a lot row lock.
type lotTx struct {
	tx    *sqlx.Tx
	lotID string
	clock clock.Clock
}

func (t *lotTx) Snapshot(ctx context.Context) (*store.Snapshot, error) {
	var snap store.Snapshot
	if err := t.tx.GetContext(ctx, &snap.Lot,
		`SELECT `+lotColumns+` FROM lots WHERE id = $1`, t.lotID); err != nil {
		return nil, mapError("reading lot", err)
	}
	if err := t.tx.GetContext(ctx, &snap.Auction,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, snap.Lot.AuctionID); err != nil {
		return nil, mapError("reading auction", err)
	}
	top, err := topBid(ctx, t.tx, t.lotID)
	if err != nil {
		return nil, err
	}
	snap.TopBid = top
	return &snap, nil
}

func (t *lotTx) RecordBid(ctx context.Context, b *store.Bid) (*store.Lot, error) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = t.clock.Now()
	}
	b.LotID = t.lotID
	b.Status = store.BidWinning

	if _, err := t.tx.ExecContext(ctx,
		`UPDATE bids SET status = 'outbid' WHERE lot_id = $1 AND status = 'winning'`, t.lotID); err != nil {
		return nil, mapError("marking previous bid outbid", err)
	}

	if err := t.tx.GetContext(ctx, &b.Seq,
		`INSERT INTO bids (id, lot_id, bidder_id, amount, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING seq`,
		b.ID, b.LotID, b.BidderID, b.Amount, b.Status, b.CreatedAt,
	); err != nil {
		return nil, mapError("inserting bid", err)
	}

	var lot store.Lot
	if err := t.tx.GetContext(ctx, &lot,
		`UPDATE lots SET current_bid = $2, bid_count = bid_count + 1, version = version + 1, updated_at = $3
		 WHERE id = $1 RETURNING `+lotColumns,
		t.lotID, b.Amount, b.CreatedAt,
	); err != nil {
		return nil, mapError("updating lot", err)
	}
	return &lot, nil
}

func (t *lotTx) DeleteBid(ctx context.Context, bidID string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM bids WHERE id = $1 AND lot_id = $2`, bidID, t.lotID)
	if err != nil {
		return mapError("deleting bid", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError("deleting bid", err)
	}
	if n == 0 {
		return fmt.Errorf("deleting bid %s: %w", bidID, biderr.ErrNotFound)
	}
	return nil
}

func (t *lotTx) RecomputeLotAggregates(ctx context.Context) (*store.Lot, *store.Bid, error) {
	var lot store.Lot
	if err := t.tx.GetContext(ctx, &lot,
		`UPDATE lots SET
		     current_bid = (SELECT MAX(amount) FROM bids WHERE lot_id = $1),
		     bid_count = (SELECT COUNT(*) FROM bids WHERE lot_id = $1),
		     version = version + 1,
		     updated_at = $2
		 WHERE id = $1 RETURNING `+lotColumns,
		t.lotID, t.clock.Now(),
	); err != nil {
		return nil, nil, mapError("recomputing lot", err)
	}

	top, err := topBid(ctx, t.tx, t.lotID)
	if err != nil {
		return nil, nil, err
	}
	if top == nil {
		return &lot, nil, nil
	}

	if _, err := t.tx.ExecContext(ctx,
		`UPDATE bids SET status = CASE WHEN id = $2 THEN 'winning' ELSE 'outbid' END WHERE lot_id = $1`,
		t.lotID, top.ID,
	); err != nil {
		return nil, nil, mapError("re-marking bids", err)
	}
	top.Status = store.BidWinning
	return &lot, top, nil
}

func (t *lotTx) AppendEvents(ctx context.Context, events ...event.Event) error {
	return appendEvents(ctx, t.tx, events...)
}

// topBid returns the highest ranked bid of lotID, or nil when there is none.
func topBid(ctx context.Context, q sqlx.QueryerContext, lotID string) (*store.Bid, error) {
	var b store.Bid
	err := sqlx.GetContext(ctx, q, &b,
		`SELECT `+bidColumns+` FROM bids WHERE lot_id = $1 ORDER BY `+bidRank+` LIMIT 1`, lotID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError("reading top bid", err)
	}
	return &b, nil
}
