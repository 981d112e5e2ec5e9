package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/jensholdgaard/bidcore/internal/biderr"
	"github.com/jensholdgaard/bidcore/internal/store"
)

func (s *Store) CreateAuction(ctx context.Context, a *store.Auction) error {
	if !a.EndTime.After(a.StartTime) {
		return fmt.Errorf("creating auction: end time must be after start time: %w", biderr.ErrInvalidInput)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = store.AuctionUpcoming
	}
	now := s.clock.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	_, err := s.db.NewInsert().Model(a).Exec(ctx)
	return mapWriteError("creating auction", err)
}

func (s *Store) CreateLot(ctx context.Context, l *store.Lot) error {
	if !l.BidIncrement.IsPositive() || l.StartingBid.IsNegative() {
		return fmt.Errorf("creating lot: starting bid and increment must be valid: %w", biderr.ErrInvalidInput)
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Status == "" {
		l.Status = store.LotActive
	}
	now := s.clock.Now().UTC()
	l.CurrentBid, l.BidCount, l.Version = nil, 0, 0
	l.CreatedAt, l.UpdatedAt = now, now

	_, err := s.db.NewInsert().Model(l).Exec(ctx)
	return mapWriteError("creating lot", err)
}

func (s *Store) SyncAuctionStatuses(ctx context.Context, now time.Time) (activated, ended int64, err error) {
	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*store.Auction)(nil)).
			Set("status = ?", store.AuctionEnded).
			Set("updated_at = ?", now).
			Where("status <> ?", store.AuctionEnded).
			Where("end_time <= ?", now).
			Exec(ctx)
		if err != nil {
			return mapError("ending auctions", err)
		}
		if ended, err = res.RowsAffected(); err != nil {
			return mapError("ending auctions", err)
		}

		res, err = tx.NewUpdate().
			Model((*store.Auction)(nil)).
			Set("status = ?", store.AuctionActive).
			Set("updated_at = ?", now).
			Where("status = ?", store.AuctionUpcoming).
			Where("start_time <= ?", now).
			Where("end_time > ?", now).
			Exec(ctx)
		if err != nil {
			return mapError("activating auctions", err)
		}
		activated, err = res.RowsAffected()
		return mapError("activating auctions", err)
	})
	if err != nil {
		return 0, 0, err
	}
	return activated, ended, nil
}
