package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/bidcore/internal/event"
)

// AuctionStatus is the lifecycle state of an auction.
type AuctionStatus string

const (
	AuctionUpcoming AuctionStatus = "upcoming"
	AuctionActive   AuctionStatus = "active"
	AuctionEnded    AuctionStatus = "ended"
)

// LotStatus is the administrative state of a lot.
type LotStatus string

const (
	LotActive LotStatus = "active"
	LotClosed LotStatus = "closed"
)

// BidStatus marks whether a bid is the lot's current high bid.
type BidStatus string

const (
	BidWinning BidStatus = "winning"
	BidOutbid  BidStatus = "outbid"
)

// Auction represents a timed auction. The core only reads it.
type Auction struct {
	ID        string        `db:"id" bun:"id,pk"`
	Title     string        `db:"title" bun:"title"`
	StartTime time.Time     `db:"start_time" bun:"start_time"`
	EndTime   time.Time     `db:"end_time" bun:"end_time"`
	Status    AuctionStatus `db:"status" bun:"status"`
	CreatedAt time.Time     `db:"created_at" bun:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" bun:"updated_at"`
}

// Lot represents an item within an auction. CurrentBid and BidCount are
// derived from the lot's bids and only change under the per-lot lock.
type Lot struct {
	ID           string           `db:"id" bun:"id,pk"`
	AuctionID    string           `db:"auction_id" bun:"auction_id"`
	LotNumber    int              `db:"lot_number" bun:"lot_number"`
	Title        string           `db:"title" bun:"title"`
	StartingBid  decimal.Decimal  `db:"starting_bid" bun:"starting_bid,type:numeric(14,2)"`
	ReservePrice *decimal.Decimal `db:"reserve_price" bun:"reserve_price,type:numeric(14,2)"`
	BidIncrement decimal.Decimal  `db:"bid_increment" bun:"bid_increment,type:numeric(14,2)"`
	CurrentBid   *decimal.Decimal `db:"current_bid" bun:"current_bid,type:numeric(14,2)"`
	BidCount     int              `db:"bid_count" bun:"bid_count"`
	Status       LotStatus        `db:"status" bun:"status"`
	Version      int64            `db:"version" bun:"version"`
	CreatedAt    time.Time        `db:"created_at" bun:"created_at"`
	UpdatedAt    time.Time        `db:"updated_at" bun:"updated_at"`
}

// Bid is a single offer on a lot. Amounts never change after insert.
type Bid struct {
	ID        string          `db:"id" json:"id" bun:"id,pk"`
	Seq       int64           `db:"seq" json:"-" bun:"seq,nullzero"`
	LotID     string          `db:"lot_id" json:"lot_id" bun:"lot_id"`
	BidderID  string          `db:"bidder_id" json:"bidder_id" bun:"bidder_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount" bun:"amount,type:numeric(14,2)"`
	Status    BidStatus       `db:"status" json:"status" bun:"status"`
	CreatedAt time.Time       `db:"created_at" json:"created_at" bun:"created_at"`
}

// Snapshot is the state a bid is validated against, read under the lot lock.
type Snapshot struct {
	Lot     Lot
	Auction Auction
	// TopBid is the highest bid, earliest first on ties. Nil when the lot has
	// no bids.
	TopBid *Bid
}

// BidderBid is one of a bidder's bids together with the state of its lot.
type BidderBid struct {
	Bid
	LotTitle        string           `db:"lot_title" bun:"lot_title"`
	LotNumber       int              `db:"lot_number" bun:"lot_number"`
	LotCurrentBid   *decimal.Decimal `db:"lot_current_bid" bun:"lot_current_bid"`
	HighestBidderID *string          `db:"highest_bidder_id" bun:"highest_bidder_id"`
}

// LotTx is the view of the ledger available while the per-lot lock is held.
// Every write made through it commits or rolls back as a unit.
type LotTx interface {
	// Snapshot reads the locked lot, its auction and its top bid.
	Snapshot(ctx context.Context) (*Snapshot, error)
	// RecordBid inserts b as the winning bid, marks the previous winner as
	// outbid and advances the lot aggregates and version.
	RecordBid(ctx context.Context, b *Bid) (*Lot, error)
	// DeleteBid hard-deletes a bid of the locked lot.
	DeleteBid(ctx context.Context, bidID string) error
	// RecomputeLotAggregates derives current bid and bid count from the
	// remaining bids, re-marks the top bid as winning and advances the version.
	RecomputeLotAggregates(ctx context.Context) (*Lot, *Bid, error)
	event.Appender
}

// Ledger serializes all mutations of a lot.
type Ledger interface {
	// WithLotLock runs fn while holding the exclusive lock for lotID. The
	// writes made through tx commit only when fn returns nil. A lock that
	// cannot be taken in time yields biderr.ErrLotBusy; an unknown lot yields
	// biderr.ErrNotFound.
	WithLotLock(ctx context.Context, lotID string, fn func(ctx context.Context, tx LotTx) error) error
}

// Reader serves lock-free reads of committed state.
type Reader interface {
	GetLot(ctx context.Context, lotID string) (*Lot, error)
	GetAuction(ctx context.Context, auctionID string) (*Auction, error)
	// TopBid returns nil, nil when the lot has no bids.
	TopBid(ctx context.Context, lotID string) (*Bid, error)
	// ListBidsByLot orders by amount descending, then earliest first.
	ListBidsByLot(ctx context.Context, lotID string) ([]Bid, error)
	// ListBidsByBidder orders newest first.
	ListBidsByBidder(ctx context.Context, bidderID string) ([]BidderBid, error)
}

// Catalog is the narrow slice of auction and lot management the core needs:
// seeding records and advancing auction status with time.
type Catalog interface {
	CreateAuction(ctx context.Context, a *Auction) error
	CreateLot(ctx context.Context, l *Lot) error
	// SyncAuctionStatuses activates upcoming auctions whose window has opened
	// and ends auctions whose end time has passed.
	SyncAuctionStatuses(ctx context.Context, now time.Time) (activated, ended int64, err error)
}
