package event

import "context"

// Appender writes events. Ledger transactions implement it so that audit
// events commit or roll back together with the lot mutation.
type Appender interface {
	AppendEvents(ctx context.Context, events ...Event) error
}

// Store retrieves persisted events.
type Store interface {
	// Load returns all events for an aggregate, ordered by version.
	Load(ctx context.Context, aggregateID string) ([]Event, error)
	// LoadByType returns events filtered by type, oldest first.
	LoadByType(ctx context.Context, eventType Type) ([]Event, error)
}
