package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/bidcore/internal/auction"
	"github.com/jensholdgaard/bidcore/internal/store"
)

// placeBidRequest accepts the amount as a JSON string or number.
type placeBidRequest struct {
	LotID  string           `json:"lot_id" binding:"required"`
	Amount *decimal.Decimal `json:"amount" binding:"required"`
}

type bidPlacedResponse struct {
	BidID      string          `json:"bid_id"`
	LotID      string          `json:"lot_id"`
	Amount     decimal.Decimal `json:"amount"`
	CreatedAt  time.Time       `json:"created_at"`
	CurrentBid decimal.Decimal `json:"current_bid"`
	BidCount   int             `json:"bid_count"`
}

func newBidPlacedResponse(r auction.BidResult) bidPlacedResponse {
	return bidPlacedResponse{
		BidID:      r.BidID,
		LotID:      r.LotID,
		Amount:     r.Amount,
		CreatedAt:  r.CreatedAt.UTC(),
		CurrentBid: r.CurrentBid,
		BidCount:   r.BidCount,
	}
}

type lotResponse struct {
	ID              string              `json:"id"`
	AuctionID       string              `json:"auction_id"`
	LotNumber       int                 `json:"lot_number"`
	Title           string              `json:"title"`
	Status          store.LotStatus     `json:"status"`
	StartingBid     decimal.Decimal     `json:"starting_bid"`
	ReservePrice    *decimal.Decimal    `json:"reserve_price,omitempty"`
	BidIncrement    decimal.Decimal     `json:"bid_increment"`
	CurrentBid      *decimal.Decimal    `json:"current_bid"`
	BidCount        int                 `json:"bid_count"`
	MinimumBid      decimal.Decimal     `json:"minimum_bid"`
	HighestBidderID string              `json:"highest_bidder_id,omitempty"`
	AuctionStatus   store.AuctionStatus `json:"auction_status"`
	StartTime       time.Time           `json:"start_time"`
	EndTime         time.Time           `json:"end_time"`
	Version         int64               `json:"version"`
}

func newLotResponse(v *auction.LotView) lotResponse {
	return lotResponse{
		ID:              v.Lot.ID,
		AuctionID:       v.Lot.AuctionID,
		LotNumber:       v.Lot.LotNumber,
		Title:           v.Lot.Title,
		Status:          v.Lot.Status,
		StartingBid:     v.Lot.StartingBid,
		ReservePrice:    v.Lot.ReservePrice,
		BidIncrement:    v.Lot.BidIncrement,
		CurrentBid:      v.Lot.CurrentBid,
		BidCount:        v.Lot.BidCount,
		MinimumBid:      v.MinimumBid,
		HighestBidderID: v.HighestBidderID,
		AuctionStatus:   v.Auction.Status,
		StartTime:       v.Auction.StartTime.UTC(),
		EndTime:         v.Auction.EndTime.UTC(),
		Version:         v.Lot.Version,
	}
}

type myBidResponse struct {
	BidID           string           `json:"bid_id"`
	LotID           string           `json:"lot_id"`
	LotTitle        string           `json:"lot_title"`
	LotNumber       int              `json:"lot_number"`
	Amount          decimal.Decimal  `json:"amount"`
	Status          store.BidStatus  `json:"status"`
	CreatedAt       time.Time        `json:"created_at"`
	LotCurrentBid   *decimal.Decimal `json:"lot_current_bid"`
	HighestBidderID *string          `json:"highest_bidder_id"`
	IsWinning       bool             `json:"is_winning"`
}

func newMyBidResponse(b auction.MyBid) myBidResponse {
	return myBidResponse{
		BidID:           b.ID,
		LotID:           b.LotID,
		LotTitle:        b.LotTitle,
		LotNumber:       b.LotNumber,
		Amount:          b.Amount,
		Status:          b.Status,
		CreatedAt:       b.CreatedAt.UTC(),
		LotCurrentBid:   b.LotCurrentBid,
		HighestBidderID: b.HighestBidderID,
		IsWinning:       b.IsWinning,
	}
}

type auditResponse struct {
	RemovedBy string    `json:"removed_by"`
	RemovedAt time.Time `json:"removed_at"`
}

type lotStateResponse struct {
	ID         string           `json:"id"`
	CurrentBid *decimal.Decimal `json:"current_bid"`
	BidCount   int              `json:"bid_count"`
	Version    int64            `json:"version"`
}

type topBidRemovedResponse struct {
	RemovedBidder string           `json:"removed_bidder"`
	RemovedBid    store.Bid        `json:"removed_bid"`
	NewTopBid     *store.Bid       `json:"new_top_bid"`
	Lot           lotStateResponse `json:"lot"`
	Audit         auditResponse    `json:"audit"`
}

func newTopBidRemovedResponse(r *auction.ReversalResult) topBidRemovedResponse {
	return topBidRemovedResponse{
		RemovedBidder: r.Removed.BidderID,
		RemovedBid:    r.Removed,
		NewTopBid:     r.NewTopBid,
		Lot: lotStateResponse{
			ID:         r.LotID,
			CurrentBid: r.CurrentBid,
			BidCount:   r.BidCount,
			Version:    r.Version,
		},
		Audit: auditResponse{RemovedBy: r.Audit.ActorID, RemovedAt: r.Audit.RemovedAt.UTC()},
	}
}
