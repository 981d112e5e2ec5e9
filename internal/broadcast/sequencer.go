package broadcast

import (
	"context"
	"sync"
)

// Sequencer publishes the updates of each lot one at a time, in the order
// their tickets were reserved. Writers reserve a ticket while they still hold
// the lot lock, so reservation order is commit order.
type Sequencer struct {
	next Publisher

	mu    sync.Mutex
	tails map[string]chan struct{}
}

// NewSequencer orders publishing to next per lot.
func NewSequencer(next Publisher) *Sequencer {
	return &Sequencer{next: next, tails: make(map[string]chan struct{})}
}

// Sequence returns p as a Sequencer, wrapping it unless it already is one.
// A nil p yields a nil Sequencer, whose tickets do nothing.
func Sequence(p Publisher) *Sequencer {
	switch v := p.(type) {
	case nil:
		return nil
	case *Sequencer:
		return v
	default:
		return NewSequencer(p)
	}
}

// Reserve takes the next publishing slot of lotID. Every ticket must end
// with Publish or Cancel, or later updates of the lot wait forever.
func (s *Sequencer) Reserve(lotID string) *Ticket {
	if s == nil {
		return nil
	}
	done := make(chan struct{})
	s.mu.Lock()
	prev := s.tails[lotID]
	s.tails[lotID] = done
	s.mu.Unlock()
	return &Ticket{seq: s, lotID: lotID, prev: prev, done: done}
}

// Publish publishes u after every earlier update of its lot.
func (s *Sequencer) Publish(ctx context.Context, u LotUpdate) error {
	return s.Reserve(u.LotID).Publish(ctx, u)
}

// Pending returns the number of lots with a reserved, unfinished slot.
func (s *Sequencer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tails)
}

// Ticket is one reserved publishing slot of a lot.
type Ticket struct {
	seq   *Sequencer
	lotID string
	prev  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// Publish waits for the previous slot of the lot, then publishes u.
func (t *Ticket) Publish(ctx context.Context, u LotUpdate) error {
	if t == nil {
		return nil
	}
	defer t.release()
	if t.prev != nil {
		<-t.prev
	}
	return t.seq.next.Publish(ctx, u)
}

// Cancel gives the slot up without publishing, e.g. when the commit failed.
func (t *Ticket) Cancel() {
	if t == nil {
		return
	}
	if t.prev == nil {
		t.release()
		return
	}
	go func() {
		<-t.prev
		t.release()
	}()
}

func (t *Ticket) release() {
	t.once.Do(func() {
		close(t.done)
		t.seq.mu.Lock()
		if t.seq.tails[t.lotID] == t.done {
			delete(t.seq.tails, t.lotID)
		}
		t.seq.mu.Unlock()
	})
}
