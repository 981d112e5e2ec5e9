// Package event defines the audit trail written alongside every lot mutation.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type identifies an event kind.
type Type string

const (
	BidPlaced     Type = "bid.placed"
	TopBidRemoved Type = "bid.top_removed"
)

// Event represents a single audit event. AggregateID is the lot ID and Version
// is the lot version produced by the mutation, so a lot's events form a gapless
// ordered history.
type Event struct {
	ID          string          `json:"id" db:"id" bun:"id,pk"`
	AggregateID string          `json:"aggregate_id" db:"aggregate_id" bun:"aggregate_id"`
	Type        Type            `json:"type" db:"type" bun:"type"`
	Data        json.RawMessage `json:"data" db:"data" bun:"data,type:jsonb"`
	Version     int64           `json:"version" db:"version" bun:"version"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at" bun:"created_at"`
}

// BidPlacedData is the payload for BidPlaced events.
type BidPlacedData struct {
	BidID      string          `json:"bid_id"`
	BidderID   string          `json:"bidder_id"`
	Amount     decimal.Decimal `json:"amount"`
	PreviousID string          `json:"previous_bid_id,omitempty"`
}

// TopBidRemovedData is the payload for TopBidRemoved events.
type TopBidRemovedData struct {
	ActorID         string           `json:"actor_id"`
	RemovedBidID    string           `json:"removed_bid_id"`
	RemovedBidderID string           `json:"removed_bidder_id"`
	RemovedAmount   decimal.Decimal  `json:"removed_amount"`
	NewCurrentBid   *decimal.Decimal `json:"new_current_bid"`
	NewBidCount     int              `json:"new_bid_count"`
}

// New builds an event with a fresh ID and the JSON encoding of data.
func New(aggregateID string, typ Type, version int64, data any, at time.Time) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshalling %s payload: %w", typ, err)
	}
	return Event{
		ID:          uuid.NewString(),
		AggregateID: aggregateID,
		Type:        typ,
		Data:        raw,
		Version:     version,
		CreatedAt:   at,
	}, nil
}
