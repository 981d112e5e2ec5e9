package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/jensholdgaard/bidcore/internal/biderr"
	"github.com/jensholdgaard/bidcore/internal/clock"
	"github.com/jensholdgaard/bidcore/internal/event"
	"github.com/jensholdgaard/bidcore/internal/store"
)

const bidRank = "amount DESC, created_at ASC, seq ASC"

// Store implements store.Ledger, store.Reader, store.Catalog and event.Store.
type Store struct {
	db          *bun.DB
	clock       clock.Clock
	lockTimeout time.Duration
}

// New wraps an open bun.DB.
func New(db *bun.DB, opts store.Options) *Store {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &Store{db: db, clock: opts.Clock, lockTimeout: opts.LockTimeout}
}

func (s *Store) WithLotLock(ctx context.Context, lotID string, fn func(ctx context.Context, tx store.LotTx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapError("beginning transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if s.lockTimeout > 0 {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", s.lockTimeout.Milliseconds())); err != nil {
			return mapError("setting lock timeout", err)
		}
	}

	var locked string
	err = tx.NewSelect().
		Model((*store.Lot)(nil)).
		Column("id").
		Where("id = ?", lotID).
		For("UPDATE").
		Scan(ctx, &locked)
	if err != nil {
		return mapError(fmt.Sprintf("locking lot %s", lotID), err)
	}

	if err := fn(ctx, &lotTx{tx: tx, lotID: locked, clock: s.clock}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapError("committing", err)
	}
	return nil
}

type lotTx struct {
	tx    bun.Tx
	lotID string
	clock clock.Clock
}

func (t *lotTx) Snapshot(ctx context.Context) (*store.Snapshot, error) {
	var snap store.Snapshot
	if err := t.tx.NewSelect().Model(&snap.Lot).Where("id = ?", t.lotID).Scan(ctx); err != nil {
		return nil, mapError("reading lot", err)
	}
	if err := t.tx.NewSelect().Model(&snap.Auction).Where("id = ?", snap.Lot.AuctionID).Scan(ctx); err != nil {
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

	_, err := t.tx.NewUpdate().
		Model((*store.Bid)(nil)).
		Set("status = ?", store.BidOutbid).
		Where("lot_id = ?", t.lotID).
		Where("status = ?", store.BidWinning).
		Exec(ctx)
	if err != nil {
		return nil, mapError("marking previous bid outbid", err)
	}

	if _, err := t.tx.NewInsert().Model(b).ExcludeColumn("seq").Returning("seq").Exec(ctx); err != nil {
		return nil, mapError("inserting bid", err)
	}

	var lot store.Lot
	_, err = t.tx.NewUpdate().
		Model(&lot).
		Set("current_bid = ?", b.Amount).
		Set("bid_count = bid_count + 1").
		Set("version = version + 1").
		Set("updated_at = ?", b.CreatedAt).
		Where("id = ?", t.lotID).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, mapError("updating lot", err)
	}
	return &lot, nil
}

func (t *lotTx) DeleteBid(ctx context.Context, bidID string) error {
	res, err := t.tx.NewDelete().
		Model((*store.Bid)(nil)).
		Where("id = ?", bidID).
		Where("lot_id = ?", t.lotID).
		Exec(ctx)
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
	_, err := t.tx.NewUpdate().
		Model(&lot).
		Set("current_bid = (SELECT MAX(amount) FROM bids WHERE lot_id = ?)", t.lotID).
		Set("bid_count = (SELECT COUNT(*) FROM bids WHERE lot_id = ?)", t.lotID).
		Set("version = version + 1").
		Set("updated_at = ?", t.clock.Now()).
		Where("id = ?", t.lotID).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, nil, mapError("recomputing lot", err)
	}

	top, err := topBid(ctx, t.tx, t.lotID)
	if err != nil || top == nil {
		return &lot, nil, err
	}

	_, err = t.tx.NewUpdate().
		Model((*store.Bid)(nil)).
		Set("status = CASE WHEN id = ? THEN ? ELSE ? END", top.ID, store.BidWinning, store.BidOutbid).
		Where("lot_id = ?", t.lotID).
		Exec(ctx)
	if err != nil {
		return nil, nil, mapError("re-marking bids", err)
	}
	top.Status = store.BidWinning
	return &lot, top, nil
}

func (t *lotTx) AppendEvents(ctx context.Context, events ...event.Event) error {
	if len(events) == 0 {
		return nil
	}
	if _, err := t.tx.NewInsert().Model(&events).Exec(ctx); err != nil {
		return mapError("inserting events", err)
	}
	return nil
}

// topBid returns the highest ranked bid of lotID, or nil when there is none.
func topBid(ctx context.Context, db bun.IDB, lotID string) (*store.Bid, error) {
	var b store.Bid
	err := db.NewSelect().
		Model(&b).
		Where("lot_id = ?", lotID).
		OrderExpr(bidRank).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError("reading top bid", err)
	}
	return &b, nil
}
