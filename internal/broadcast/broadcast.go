// Package broadcast delivers committed lot changes to live observers.
// Delivery is best effort: an update is published after the ledger commit and
// a slow or failed observer never affects the bid that produced it.
package broadcast

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Kind names the mutation that produced an update.
type Kind string

const (
	KindBidPlaced     Kind = "bid_placed"
	KindTopBidRemoved Kind = "top_bid_removed"
	// KindSnapshot is the current state sent when an observer joins.
	KindSnapshot Kind = "snapshot"
)

// LotUpdate is the state of a lot right after a committed mutation.
type LotUpdate struct {
	LotID           string           `json:"lot_id"`
	Kind            Kind             `json:"kind"`
	CurrentBid      *decimal.Decimal `json:"current_bid"`
	HighestBidderID string           `json:"highest_bidder_id,omitempty"`
	BidCount        int              `json:"bid_count"`
	// Version is the lot version after the mutation. Observers never see a
	// lower version after a higher one.
	Version int64     `json:"version"`
	At      time.Time `json:"at"`
}

// Publisher sends lot updates to observers.
type Publisher interface {
	Publish(ctx context.Context, u LotUpdate) error
}

// Fanout publishes every update to all of its publishers.
type Fanout []Publisher

// Publish calls every publisher and joins their errors.
func (f Fanout) Publish(ctx context.Context, u LotUpdate) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
