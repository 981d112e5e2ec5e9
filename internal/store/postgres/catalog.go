package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/bidcore/internal/biderr"
	"github.com/jensholdgaard/bidcore/internal/clock"
	"github.com/jensholdgaard/bidcore/internal/store"
)

// Catalog implements store.Catalog with sqlx.
type Catalog struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewCatalog returns a new Catalog.
func NewCatalog(db *sqlx.DB, clk clock.Clock) *Catalog {
	return &Catalog{db: db, clock: clk}
}

func (c *Catalog) CreateAuction(ctx context.Context, a *store.Auction) error {
	if !a.EndTime.After(a.StartTime) {
		return fmt.Errorf("creating auction: end time must be after start time: %w", biderr.ErrInvalidInput)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = store.AuctionUpcoming
	}
	now := c.clock.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO auctions (id, title, start_time, end_time, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.Title, a.StartTime, a.EndTime, a.Status, a.CreatedAt, a.UpdatedAt,
	)
	return mapWriteError("creating auction", err)
}

func (c *Catalog) CreateLot(ctx context.Context, l *store.Lot) error {
	if !l.BidIncrement.IsPositive() || l.StartingBid.IsNegative() {
		return fmt.Errorf("creating lot: starting bid and increment must be valid: %w", biderr.ErrInvalidInput)
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Status == "" {
		l.Status = store.LotActive
	}
	now := c.clock.Now().UTC()
	l.CurrentBid, l.BidCount, l.Version = nil, 0, 0
	l.CreatedAt, l.UpdatedAt = now, now

	_, err := c.db.NamedExecContext(ctx,
		`INSERT INTO lots (id, auction_id, lot_number, title, starting_bid, reserve_price, bid_increment,
		                   bid_count, status, version, created_at, updated_at)
		 VALUES (:id, :auction_id, :lot_number, :title, :starting_bid, :reserve_price, :bid_increment,
		         :bid_count, :status, :version, :created_at, :updated_at)`, l)
	return mapWriteError("creating lot", err)
}

func (c *Catalog) SyncAuctionStatuses(ctx context.Context, now time.Time) (activated, ended int64, err error) {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, mapError("beginning transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE auctions SET status = 'ended', updated_at = $1
		 WHERE status <> 'ended' AND end_time <= $1`, now)
	if err != nil {
		return 0, 0, mapError("ending auctions", err)
	}
	if ended, err = res.RowsAffected(); err != nil {
		return 0, 0, mapError("ending auctions", err)
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE auctions SET status = 'active', updated_at = $1
		 WHERE status = 'upcoming' AND start_time <= $1 AND end_time > $1`, now)
	if err != nil {
		return 0, 0, mapError("activating auctions", err)
	}
	if activated, err = res.RowsAffected(); err != nil {
		return 0, 0, mapError("activating auctions", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, mapError("committing", err)
	}
	return activated, ended, nil
}
