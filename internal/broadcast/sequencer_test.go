package broadcast_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jensholdgaard/bidcore/internal/broadcast"
)

type orderRecorder struct {
	mu       sync.Mutex
	versions []int64
}

func (r *orderRecorder) Publish(_ context.Context, u broadcast.LotUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions = append(r.versions, u.Version)
	return nil
}

func (r *orderRecorder) all() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.versions...)
}

func TestSequencer_PublishesInReservationOrder(t *testing.T) {
	rec := &orderRecorder{}
	seq := broadcast.NewSequencer(rec)
	ctx := context.Background()

	first := seq.Reserve("lot-a")
	second := seq.Reserve("lot-a")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = second.Publish(ctx, update("lot-a", 2, 110))
	}()

	select {
	case <-done:
		t.Fatal("second ticket published before the first")
	case <-time.After(20 * time.Millisecond):
	}
	_ = first.Publish(ctx, update("lot-a", 1, 100))
	<-done

	got := rec.all()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("published versions = %v, want [1 2]", got)
	}
	if n := seq.Pending(); n != 0 {
		t.Errorf("Pending = %d, want 0", n)
	}
}

func TestSequencer_CancelPassesSlotOn(t *testing.T) {
	rec := &orderRecorder{}
	seq := broadcast.NewSequencer(rec)
	ctx := context.Background()

	first := seq.Reserve("lot-a")
	cancelled := seq.Reserve("lot-a")
	third := seq.Reserve("lot-a")
	cancelled.Cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = third.Publish(ctx, update("lot-a", 2, 110))
	}()
	_ = first.Publish(ctx, update("lot-a", 1, 100))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("ticket after a cancelled one never published")
	}
	if got := rec.all(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("published versions = %v, want [1 2]", got)
	}
}

func TestSequencer_LotsDoNotWaitForEachOther(t *testing.T) {
	rec := &orderRecorder{}
	seq := broadcast.NewSequencer(rec)

	blocked := seq.Reserve("lot-a")
	defer blocked.Cancel()

	if err := seq.Publish(context.Background(), update("lot-b", 1, 100)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := rec.all(); len(got) != 1 {
		t.Errorf("published %v, want one update for lot-b", got)
	}
}

func TestSequence(t *testing.T) {
	if broadcast.Sequence(nil) != nil {
		t.Error("Sequence(nil) should be nil")
	}
	seq := broadcast.NewSequencer(&orderRecorder{})
	if broadcast.Sequence(seq) != seq {
		t.Error("Sequence should return an existing Sequencer unchanged")
	}

	var none *broadcast.Sequencer
	tk := none.Reserve("lot-a")
	if err := tk.Publish(context.Background(), update("lot-a", 1, 100)); err != nil {
		t.Errorf("nil ticket Publish: %v", err)
	}
	tk.Cancel()
}
