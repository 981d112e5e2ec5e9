package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Hub keeps one subscriber group per lot and fans updates out to them.
type Hub struct {
	buffer  int
	logger  *slog.Logger
	dropped metric.Int64Counter
	groups  *xsync.MapOf[string, *group]
}

type group struct {
	mu          sync.Mutex
	subs        map[*Subscription]struct{}
	lastVersion int64
}

// Subscription receives the updates of a single lot.
type Subscription struct {
	lotID string
	ch    chan LotUpdate
	hub   *Hub
	once  sync.Once
}

// NewHub returns a Hub whose subscribers buffer up to buffer updates. An
// update that does not fit into a subscriber's buffer is dropped for that
// subscriber.
func NewHub(buffer int, logger *slog.Logger, mp metric.MeterProvider) (*Hub, error) {
	if buffer < 1 {
		buffer = 1
	}
	dropped, err := mp.Meter("github.com/jensholdgaard/bidcore/internal/broadcast").
		Int64Counter("bidcore.broadcast.dropped",
			metric.WithDescription("Lot updates not delivered to a subscriber."))
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}
	return &Hub{
		buffer:  buffer,
		logger:  logger,
		dropped: dropped,
		groups:  xsync.NewMapOf[string, *group](),
	}, nil
}

// Subscribe joins the observer group of lotID, creating the group if the
// lot has no observers yet.
func (h *Hub) Subscribe(lotID string) *Subscription {
	s := &Subscription{
		lotID: lotID,
		ch:    make(chan LotUpdate, h.buffer),
		hub:   h,
	}
	h.groups.Compute(lotID, func(g *group, loaded bool) (*group, bool) {
		if !loaded {
			g = &group{subs: make(map[*Subscription]struct{})}
		}
		g.mu.Lock()
		g.subs[s] = struct{}{}
		g.mu.Unlock()
		return g, false
	})
	return s
}

// Updates returns the channel updates are delivered on. It is closed by Close.
func (s *Subscription) Updates() <-chan LotUpdate { return s.ch }

// LotID returns the lot the subscription observes.
func (s *Subscription) LotID() string { return s.lotID }

// Close leaves the group. The group, and the last version it saw, is
// dropped with its last subscriber. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.groups.Compute(s.lotID, func(g *group, loaded bool) (*group, bool) {
			if !loaded {
				return g, true
			}
			g.mu.Lock()
			defer g.mu.Unlock()
			delete(g.subs, s)
			close(s.ch)
			return g, len(g.subs) == 0
		})
	})
}

// Groups returns the number of lots with at least one subscriber.
func (h *Hub) Groups() int {
	return h.groups.Size()
}

// Subscribers returns the number of open subscriptions for lotID.
func (h *Hub) Subscribers(lotID string) int {
	g, ok := h.groups.Load(lotID)
	if !ok {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

// Publish delivers u to every subscriber of its lot without blocking. A lot
// without subscribers is skipped. Updates older than one already delivered
// to the lot's group are discarded.
func (h *Hub) Publish(ctx context.Context, u LotUpdate) error {
	g, ok := h.groups.Load(u.LotID)
	if !ok {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if u.Version <= g.lastVersion {
		h.logger.DebugContext(ctx, "discarding stale lot update",
			slog.String("lot_id", u.LotID),
			slog.Int64("version", u.Version),
			slog.Int64("last_version", g.lastVersion),
		)
		return nil
	}
	g.lastVersion = u.Version

	for s := range g.subs {
		select {
		case s.ch <- u:
		default:
			h.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(u.Kind))))
			h.logger.WarnContext(ctx, "subscriber buffer full, dropping lot update",
				slog.String("lot_id", u.LotID),
				slog.Int64("version", u.Version),
			)
		}
	}
	return nil
}
