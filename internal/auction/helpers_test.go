package auction_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/bidcore/internal/auction"
	"github.com/jensholdgaard/bidcore/internal/biderr"
	"github.com/jensholdgaard/bidcore/internal/broadcast"
	"github.com/jensholdgaard/bidcore/internal/clock"
	"github.com/jensholdgaard/bidcore/internal/config"
	"github.com/jensholdgaard/bidcore/internal/store"
	"github.com/jensholdgaard/bidcore/internal/store/memstore"
	"github.com/jensholdgaard/bidcore/internal/telemetry"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

// --- mock helpers ---

type recordingPublisher struct {
	mu      sync.Mutex
	updates []broadcast.LotUpdate
	err     error
	// before, if set, runs ahead of recording each update.
	before func(broadcast.LotUpdate)
}

func (p *recordingPublisher) Publish(_ context.Context, u broadcast.LotUpdate) error {
	if p.before != nil {
		p.before(u)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, u)
	return p.err
}

func (p *recordingPublisher) all() []broadcast.LotUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]broadcast.LotUpdate(nil), p.updates...)
}

// busyLedger reports the lot busy for the first failures calls.
type busyLedger struct {
	store.Ledger
	mu       sync.Mutex
	failures int
	calls    int
}

func (b *busyLedger) WithLotLock(ctx context.Context, lotID string, fn func(context.Context, store.LotTx) error) error {
	b.mu.Lock()
	b.calls++
	fail := b.calls <= b.failures
	b.mu.Unlock()
	if fail {
		return errLotBusy
	}
	return b.Ledger.WithLotLock(ctx, lotID, fn)
}

type fixture struct {
	store     *memstore.Store
	clock     *clock.Mock
	publisher *recordingPublisher
	coord     *auction.Coordinator
	reversal  *auction.ReversalService
	reader    *auction.Reader
	auction   *store.Auction
	lot       *store.Lot
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	ledger  func(*memstore.Store) store.Ledger
	bidding config.BiddingConfig
	auction store.Auction
}

func withLedger(f func(*memstore.Store) store.Ledger) fixtureOption {
	return func(c *fixtureConfig) { c.ledger = f }
}

func withAuction(a store.Auction) fixtureOption {
	return func(c *fixtureConfig) { c.auction = a }
}

func withBidding(b config.BiddingConfig) fixtureOption {
	return func(c *fixtureConfig) { c.bidding = b }
}

// newFixture seeds an active auction with one lot (starting bid 100,
// increment 10).
func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	cfg := fixtureConfig{
		ledger:  func(s *memstore.Store) store.Ledger { return s },
		bidding: config.BiddingConfig{LockTimeout: time.Second, MaxRetries: 2, RetryBackoff: time.Millisecond},
		auction: store.Auction{
			Title:     "Estate sale",
			StartTime: now.Add(-time.Hour),
			EndTime:   now.Add(time.Hour),
			Status:    store.AuctionActive,
		},
	}
	for _, o := range opts {
		o(&cfg)
	}

	clk := clock.NewMock(now)
	s := memstore.New(clk, cfg.bidding.LockTimeout)
	ctx := context.Background()

	a := cfg.auction
	if err := s.CreateAuction(ctx, &a); err != nil {
		t.Fatalf("CreateAuction: %v", err)
	}
	lot := &store.Lot{
		AuctionID:    a.ID,
		LotNumber:    1,
		Title:        "Grandfather clock",
		StartingBid:  decimal.NewFromInt(100),
		BidIncrement: decimal.NewFromInt(10),
	}
	if err := s.CreateLot(ctx, lot); err != nil {
		t.Fatalf("CreateLot: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tp := noop.NewTracerProvider()
	metrics, err := telemetry.NewBidMetrics(metricnoop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewBidMetrics: %v", err)
	}
	pub := &recordingPublisher{}
	updates := broadcast.NewSequencer(pub)
	ledger := cfg.ledger(s)

	return &fixture{
		store:     s,
		clock:     clk,
		publisher: pub,
		coord:     auction.NewCoordinator(ledger, updates, metrics, cfg.bidding, logger, tp, clk),
		reversal:  auction.NewReversalService(ledger, updates, metrics, cfg.bidding, logger, tp, clk),
		reader:    auction.NewReader(s, s, tp),
		auction:   &a,
		lot:       lot,
	}
}

func (f *fixture) bid(t *testing.T, bidder string, amount string) *auction.BidResult {
	t.Helper()
	res, err := f.coord.PlaceBid(context.Background(), f.lot.ID, bidder, decimal.RequireFromString(amount))
	if err != nil {
		t.Fatalf("PlaceBid(%s, %s): %v", bidder, amount, err)
	}
	return res
}

func (f *fixture) currentLot(t *testing.T) *store.Lot {
	t.Helper()
	lot, err := f.store.GetLot(context.Background(), f.lot.ID)
	if err != nil {
		t.Fatalf("GetLot: %v", err)
	}
	return lot
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func equalDecPtr(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

var errLotBusy = fmt.Errorf("locking lot: %w", biderr.ErrLotBusy)
