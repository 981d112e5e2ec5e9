// Package memstore provides an in-process store.Driver. Each lot has a single
// lock token, so bids on one lot are serialized while distinct lots proceed
// in parallel. Writes are staged on a private copy of the lot and become
// visible only when the locked function succeeds.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/jensholdgaard/bidcore/internal/biderr"
	"github.com/jensholdgaard/bidcore/internal/clock"
	"github.com/jensholdgaard/bidcore/internal/config"
	"github.com/jensholdgaard/bidcore/internal/event"
	"github.com/jensholdgaard/bidcore/internal/store"
)

func init() {
	store.Register("memory", openMemory)
}

// openMemory is the store.Driver for the "memory" backend.
func openMemory(_ context.Context, _ config.DatabaseConfig, opts store.Options) (*store.Repositories, error) {
	s := New(opts.Clock, opts.LockTimeout)
	return &store.Repositories{
		Ledger:  s,
		Reader:  s,
		Catalog: s,
		Events:  s,
		Closer:  store.CloserFunc(func() error { return nil }),
		Ping:    func(context.Context) error { return nil },
		Migrate: func(context.Context) error { return nil },
	}, nil
}

// Store keeps auctions, lots, bids and audit events in memory.
type Store struct {
	clk         clock.Clock
	lockTimeout time.Duration
	locks       *xsync.MapOf[string, chan struct{}]
	seq         atomic.Int64

	mu       sync.RWMutex
	auctions map[string]store.Auction
	lots     map[string]store.Lot
	bids     map[string][]store.Bid // by lot ID, insertion order
	events   map[string][]event.Event
}

// New returns an empty Store. A non-positive lockTimeout waits for the lock
// until the context is done.
func New(clk clock.Clock, lockTimeout time.Duration) *Store {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Store{
		clk:         clk,
		lockTimeout: lockTimeout,
		locks:       xsync.NewMapOf[string, chan struct{}](),
		auctions:    make(map[string]store.Auction),
		lots:        make(map[string]store.Lot),
		bids:        make(map[string][]store.Bid),
		events:      make(map[string][]event.Event),
	}
}

func (s *Store) WithLotLock(ctx context.Context, lotID string, fn func(ctx context.Context, tx store.LotTx) error) error {
	s.mu.RLock()
	_, ok := s.lots[lotID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("locking lot %s: %w", lotID, biderr.ErrNotFound)
	}

	token, _ := s.locks.LoadOrCompute(lotID, func() chan struct{} {
		return make(chan struct{}, 1)
	})

	var timeout <-chan time.Time
	if s.lockTimeout > 0 {
		timer := time.NewTimer(s.lockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case token <- struct{}{}:
	case <-timeout:
		return fmt.Errorf("locking lot %s: %w", lotID, biderr.ErrLotBusy)
	case <-ctx.Done():
		return fmt.Errorf("locking lot %s: %w", lotID, ctx.Err())
	}
	defer func() { <-token }()

	tx := s.begin(lotID)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *Store) begin(lotID string) *lotTx {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lot := s.lots[lotID]
	return &lotTx{
		s:       s,
		lot:     lot,
		auction: s.auctions[lot.AuctionID],
		bids:    append([]store.Bid(nil), s.bids[lotID]...),
	}
}

func (s *Store) commit(tx *lotTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lots[tx.lot.ID] = tx.lot
	s.bids[tx.lot.ID] = tx.bids
	s.events[tx.lot.ID] = append(s.events[tx.lot.ID], tx.events...)
}

// lotTx stages the writes of one locked section.
type lotTx struct {
	s       *Store
	lot     store.Lot
	auction store.Auction
	bids    []store.Bid
	events  []event.Event
}

func (tx *lotTx) Snapshot(_ context.Context) (*store.Snapshot, error) {
	snap := &store.Snapshot{Lot: tx.lot, Auction: tx.auction}
	if i := topIndex(tx.bids); i >= 0 {
		top := tx.bids[i]
		snap.TopBid = &top
	}
	return snap, nil
}

func (tx *lotTx) RecordBid(_ context.Context, b *store.Bid) (*store.Lot, error) {
	now := tx.s.clk.Now()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.LotID = tx.lot.ID
	b.Seq = tx.s.seq.Add(1)
	b.Status = store.BidWinning

	for i := range tx.bids {
		if tx.bids[i].Status == store.BidWinning {
			tx.bids[i].Status = store.BidOutbid
		}
	}
	tx.bids = append(tx.bids, *b)

	amount := b.Amount
	tx.lot.CurrentBid = &amount
	tx.lot.BidCount++
	tx.lot.Version++
	tx.lot.UpdatedAt = now

	lot := tx.lot
	return &lot, nil
}

func (tx *lotTx) DeleteBid(_ context.Context, bidID string) error {
	for i := range tx.bids {
		if tx.bids[i].ID == bidID {
			tx.bids = append(tx.bids[:i:i], tx.bids[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("deleting bid %s: %w", bidID, biderr.ErrNotFound)
}

func (tx *lotTx) RecomputeLotAggregates(_ context.Context) (*store.Lot, *store.Bid, error) {
	var top *store.Bid
	i := topIndex(tx.bids)
	for j := range tx.bids {
		if j == i {
			tx.bids[j].Status = store.BidWinning
		} else {
			tx.bids[j].Status = store.BidOutbid
		}
	}

	tx.lot.CurrentBid = nil
	if i >= 0 {
		b := tx.bids[i]
		top = &b
		amount := b.Amount
		tx.lot.CurrentBid = &amount
	}
	tx.lot.BidCount = len(tx.bids)
	tx.lot.Version++
	tx.lot.UpdatedAt = tx.s.clk.Now()

	lot := tx.lot
	return &lot, top, nil
}

func (tx *lotTx) AppendEvents(_ context.Context, events ...event.Event) error {
	tx.s.mu.RLock()
	committed := tx.s.events[tx.lot.ID]
	tx.s.mu.RUnlock()

	for _, e := range events {
		if e.AggregateID != tx.lot.ID {
			return fmt.Errorf("appending event for %s inside lock of %s: %w", e.AggregateID, tx.lot.ID, biderr.ErrInvalidInput)
		}
		if hasVersion(committed, e.Version) || hasVersion(tx.events, e.Version) {
			return biderr.Persistence("appending event",
				fmt.Errorf("duplicate version %d for aggregate %s", e.Version, e.AggregateID))
		}
		tx.events = append(tx.events, e)
	}
	return nil
}

func hasVersion(events []event.Event, v int64) bool {
	for _, e := range events {
		if e.Version == v {
			return true
		}
	}
	return false
}

// topIndex returns the index of the highest bid, earliest first on ties, or
// -1 when there are no bids.
func topIndex(bids []store.Bid) int {
	top := -1
	for i := range bids {
		if top < 0 || outranks(bids[i], bids[top]) {
			top = i
		}
	}
	return top
}

func outranks(a, b store.Bid) bool {
	if c := a.Amount.Cmp(b.Amount); c != 0 {
		return c > 0
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}

func (s *Store) GetLot(_ context.Context, lotID string) (*store.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lot, ok := s.lots[lotID]
	if !ok {
		return nil, fmt.Errorf("getting lot %s: %w", lotID, biderr.ErrNotFound)
	}
	return &lot, nil
}

func (s *Store) GetAuction(_ context.Context, auctionID string) (*store.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.auctions[auctionID]
	if !ok {
		return nil, fmt.Errorf("getting auction %s: %w", auctionID, biderr.ErrNotFound)
	}
	return &a, nil
}

func (s *Store) TopBid(_ context.Context, lotID string) (*store.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bids := s.bids[lotID]
	i := topIndex(bids)
	if i < 0 {
		return nil, nil
	}
	b := bids[i]
	return &b, nil
}

func (s *Store) ListBidsByLot(_ context.Context, lotID string) ([]store.Bid, error) {
	s.mu.RLock()
	bids := append([]store.Bid(nil), s.bids[lotID]...)
	s.mu.RUnlock()

	sort.SliceStable(bids, func(i, j int) bool { return outranks(bids[i], bids[j]) })
	return bids, nil
}

func (s *Store) ListBidsByBidder(_ context.Context, bidderID string) ([]store.BidderBid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.BidderBid
	for lotID, bids := range s.bids {
		lot := s.lots[lotID]
		var highest *string
		if i := topIndex(bids); i >= 0 {
			id := bids[i].BidderID
			highest = &id
		}
		for _, b := range bids {
			if b.BidderID != bidderID {
				continue
			}
			out = append(out, store.BidderBid{
				Bid:             b,
				LotTitle:        lot.Title,
				LotNumber:       lot.LotNumber,
				LotCurrentBid:   lot.CurrentBid,
				HighestBidderID: highest,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Seq > out[j].Seq
	})
	return out, nil
}

func (s *Store) CreateAuction(_ context.Context, a *store.Auction) error {
	if !a.EndTime.After(a.StartTime) {
		return fmt.Errorf("creating auction: end time must be after start time: %w", biderr.ErrInvalidInput)
	}
	now := s.clk.Now()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = store.AuctionUpcoming
	}
	a.CreatedAt, a.UpdatedAt = now, now

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.auctions[a.ID]; ok {
		return fmt.Errorf("creating auction %s: already exists: %w", a.ID, biderr.ErrInvalidInput)
	}
	s.auctions[a.ID] = *a
	return nil
}

func (s *Store) CreateLot(_ context.Context, l *store.Lot) error {
	if !l.BidIncrement.IsPositive() || l.StartingBid.IsNegative() {
		return fmt.Errorf("creating lot: starting bid and increment must be valid: %w", biderr.ErrInvalidInput)
	}
	now := s.clk.Now()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Status == "" {
		l.Status = store.LotActive
	}
	l.CurrentBid = nil
	l.BidCount = 0
	l.Version = 0
	l.CreatedAt, l.UpdatedAt = now, now

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.auctions[l.AuctionID]; !ok {
		return fmt.Errorf("creating lot: auction %s: %w", l.AuctionID, biderr.ErrNotFound)
	}
	for _, other := range s.lots {
		if other.AuctionID == l.AuctionID && other.LotNumber == l.LotNumber {
			return fmt.Errorf("creating lot: number %d already used in auction %s: %w", l.LotNumber, l.AuctionID, biderr.ErrInvalidInput)
		}
	}
	if _, ok := s.lots[l.ID]; ok {
		return fmt.Errorf("creating lot %s: already exists: %w", l.ID, biderr.ErrInvalidInput)
	}
	s.lots[l.ID] = *l
	return nil
}

func (s *Store) SyncAuctionStatuses(_ context.Context, now time.Time) (activated, ended int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, a := range s.auctions {
		switch {
		case a.Status != store.AuctionEnded && !now.Before(a.EndTime):
			a.Status = store.AuctionEnded
			ended++
		case a.Status == store.AuctionUpcoming && !now.Before(a.StartTime):
			a.Status = store.AuctionActive
			activated++
		default:
			continue
		}
		a.UpdatedAt = now
		s.auctions[id] = a
	}
	return activated, ended, nil
}

func (s *Store) Load(_ context.Context, aggregateID string) ([]event.Event, error) {
	s.mu.RLock()
	events := append([]event.Event(nil), s.events[aggregateID]...)
	s.mu.RUnlock()

	sort.Slice(events, func(i, j int) bool { return events[i].Version < events[j].Version })
	return events, nil
}

func (s *Store) LoadByType(_ context.Context, eventType event.Type) ([]event.Event, error) {
	s.mu.RLock()
	var events []event.Event
	for _, evs := range s.events {
		for _, e := range evs {
			if e.Type == eventType {
				events = append(events, e)
			}
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })
	return events, nil
}
