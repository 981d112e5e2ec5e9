// Package auction implements the lot bidding core: bid validation, the
// transactional bid placement protocol, top bid reversal and the read model
// served to bidders.
package auction

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/bidcore/internal/biderr"
	"github.com/jensholdgaard/bidcore/internal/store"
)

// monetaryPrecision is the number of fractional digits an amount may carry.
const monetaryPrecision = 2

// maxAmount is the largest amount a NUMERIC(14,2) column holds.
var maxAmount = decimal.RequireFromString("999999999999.99")

// Decision is the lot projection that results from accepting a bid.
type Decision struct {
	MinimumBid decimal.Decimal
	CurrentBid decimal.Decimal
	BidCount   int
}

// Matches reports whether lot, as written by the ledger, carries the
// projection the bid was validated for.
func (d Decision) Matches(lot store.Lot) bool {
	return lot.CurrentBid != nil && lot.CurrentBid.Equal(d.CurrentBid) && lot.BidCount == d.BidCount
}

// MinimumBid returns the lowest amount the lot accepts next: the current bid
// plus the increment, or the starting bid while the lot has no bids.
func MinimumBid(lot store.Lot) decimal.Decimal {
	if lot.CurrentBid == nil {
		return lot.StartingBid
	}
	return lot.CurrentBid.Add(lot.BidIncrement)
}

// Validate applies the bidding rules to a snapshot of the lot. The first
// failing rule determines the error. lastBidderID is the bidder of the current
// top bid, or empty when the lot has no bids.
func Validate(lot store.Lot, auc store.Auction, bidderID string, amount decimal.Decimal, lastBidderID string, now time.Time) (Decision, error) {
	if auc.Status != store.AuctionActive {
		return Decision{}, biderr.ErrAuctionNotActive
	}
	if now.Before(auc.StartTime) {
		return Decision{}, biderr.ErrAuctionNotStarted
	}
	if !now.Before(auc.EndTime) {
		return Decision{}, biderr.ErrAuctionEnded
	}
	if lot.Status != store.LotActive {
		return Decision{}, biderr.ErrLotClosed
	}

	minBid := MinimumBid(lot)
	if amount.LessThan(minBid) {
		return Decision{}, &biderr.BelowMinimumError{MinimumBid: minBid}
	}
	if lastBidderID != "" && lastBidderID == bidderID {
		return Decision{}, biderr.ErrSelfOutbid
	}

	return Decision{
		MinimumBid: minBid,
		CurrentBid: amount,
		BidCount:   lot.BidCount + 1,
	}, nil
}

// CheckBidInput rejects requests that can never be valid regardless of lot
// state. Amounts are never rounded.
func CheckBidInput(lotID, bidderID string, amount decimal.Decimal) error {
	if strings.TrimSpace(lotID) == "" {
		return fmt.Errorf("lot id is required: %w", biderr.ErrInvalidInput)
	}
	if strings.TrimSpace(bidderID) == "" {
		return fmt.Errorf("bidder id is required: %w", biderr.ErrInvalidInput)
	}
	return CheckAmount(amount)
}

// CheckAmount verifies that amount is a positive money value.
func CheckAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive: %w", biderr.ErrInvalidAmount)
	}
	if !amount.Equal(amount.Truncate(monetaryPrecision)) {
		return fmt.Errorf("amount has more than %d decimal places: %w", monetaryPrecision, biderr.ErrInvalidAmount)
	}
	if amount.GreaterThan(maxAmount) {
		return fmt.Errorf("amount exceeds %s: %w", maxAmount.StringFixed(monetaryPrecision), biderr.ErrInvalidAmount)
	}
	return nil
}
