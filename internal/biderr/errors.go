// Package biderr defines the error taxonomy shared by the bidding core and
// its transports.
package biderr

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Lookup and storage errors.
var (
	ErrNotFound    = errors.New("not found")
	ErrLotBusy     = errors.New("lot is busy, retry later")
	ErrPersistence = errors.New("persistence failure")
)

// Business rule errors.
var (
	ErrAuctionNotActive  = errors.New("auction is not active")
	ErrAuctionNotStarted = errors.New("auction has not started yet")
	ErrAuctionEnded      = errors.New("auction has ended")
	ErrLotClosed         = errors.New("lot is closed")
	ErrBelowMinimum      = errors.New("bid is below minimum")
	ErrSelfOutbid        = errors.New("you are already the highest bidder")
	ErrNoBidsFound       = errors.New("no bids found for this lot")
)

// Caller errors.
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidAmount = errors.New("invalid bid amount")
	ErrForbidden     = errors.New("forbidden")
	// ErrKeyReused means an idempotency key was sent again with a different
	// request.
	ErrKeyReused = errors.New("idempotency key reused with a different request")
)

// BelowMinimumError carries the minimum acceptable bid computed at validation
// time. It matches ErrBelowMinimum with errors.Is.
type BelowMinimumError struct {
	MinimumBid decimal.Decimal
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("%s: minimum bid is %s", ErrBelowMinimum, e.MinimumBid.StringFixed(2))
}

// Is reports whether target is ErrBelowMinimum.
func (e *BelowMinimumError) Is(target error) bool { return target == ErrBelowMinimum }

// Persistence wraps a storage error so that it matches ErrPersistence while
// keeping the driver error reachable through errors.As.
func Persistence(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrPersistence, err))
}

var codes = []struct {
	err  error
	code string
}{
	{ErrNotFound, "not_found"},
	{ErrLotBusy, "lot_busy"},
	{ErrPersistence, "persistence_failure"},
	{ErrAuctionNotActive, "auction_not_active"},
	{ErrAuctionNotStarted, "auction_not_started"},
	{ErrAuctionEnded, "auction_ended"},
	{ErrLotClosed, "lot_closed"},
	{ErrBelowMinimum, "below_minimum"},
	{ErrSelfOutbid, "self_outbid"},
	{ErrNoBidsFound, "no_bids_found"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrInvalidInput, "invalid_input"},
	{ErrForbidden, "forbidden"},
	{ErrKeyReused, "idempotency_key_reused"},
}

// Code returns a stable machine-readable code for err, or "internal" when err
// is outside the taxonomy.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// Retryable reports whether a caller may retry the same request unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrLotBusy) || errors.Is(err, ErrPersistence)
}

// MinimumBid extracts the minimum bid from a below-minimum rejection.
func MinimumBid(err error) (decimal.Decimal, bool) {
	var bm *BelowMinimumError
	if errors.As(err, &bm) {
		return bm.MinimumBid, true
	}
	return decimal.Decimal{}, false
}
