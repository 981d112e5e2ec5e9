// Package lifecycle advances auction status as time passes.
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/bidcore/internal/clock"
	"github.com/jensholdgaard/bidcore/internal/store"
)

const tracerName = "github.com/jensholdgaard/bidcore/internal/lifecycle"

// Syncer periodically activates auctions whose window has opened and ends
// auctions whose end time has passed.
type Syncer struct {
	catalog  store.Catalog
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewSyncer creates a Syncer ticking every interval.
func NewSyncer(catalog store.Catalog, interval time.Duration, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock) *Syncer {
	return &Syncer{
		catalog:  catalog,
		clock:    clk,
		interval: interval,
		logger:   logger,
		tracer:   tp.Tracer(tracerName),
	}
}

// Run syncs once immediately and then on every tick until ctx is done.
// Failed ticks are logged and retried on the next tick.
func (s *Syncer) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		if _, _, err := s.SyncOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "syncing auction statuses", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// SyncOnce performs a single status sync at the current clock time.
func (s *Syncer) SyncOnce(ctx context.Context) (activated, ended int64, err error) {
	ctx, span := s.tracer.Start(ctx, "Syncer.SyncOnce")
	defer span.End()

	activated, ended, err = s.catalog.SyncAuctionStatuses(ctx, s.clock.Now())
	if err != nil {
		span.RecordError(err)
		return 0, 0, err
	}
	if activated > 0 || ended > 0 {
		s.logger.InfoContext(ctx, "auction statuses synced",
			slog.Int64("activated", activated),
			slog.Int64("ended", ended),
		)
	}
	return activated, ended, nil
}
