// Package httpapi exposes the bidding core over HTTP with gin. Identity is
// taken from headers set by the upstream authentication proxy.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/bidcore/internal/auction"
	"github.com/jensholdgaard/bidcore/internal/broadcast"
	"github.com/jensholdgaard/bidcore/internal/config"
	"github.com/jensholdgaard/bidcore/internal/event"
	"github.com/jensholdgaard/bidcore/internal/health"
	"github.com/jensholdgaard/bidcore/internal/idempotency"
	"github.com/jensholdgaard/bidcore/internal/store"
)

const tracerName = "github.com/jensholdgaard/bidcore/internal/httpapi"

// BidPlacer places bids.
type BidPlacer interface {
	PlaceBid(ctx context.Context, lotID, bidderID string, amount decimal.Decimal) (*auction.BidResult, error)
}

// TopBidRemover removes a lot's top bid.
type TopBidRemover interface {
	RemoveTopBid(ctx context.Context, lotID, actorID string) (*auction.ReversalResult, error)
}

// LotReader serves committed lot state.
type LotReader interface {
	Lot(ctx context.Context, lotID string) (*auction.LotView, error)
	Bids(ctx context.Context, lotID string) ([]store.Bid, error)
	BidsByBidder(ctx context.Context, bidderID string) ([]auction.MyBid, error)
	Audit(ctx context.Context, lotID string) ([]event.Event, error)
}

// Subscriber hands out per-lot live update subscriptions.
type Subscriber interface {
	Subscribe(lotID string) *broadcast.Subscription
}

// Deps are the collaborators of the HTTP API. Idempotency, Health and Done
// are optional. Closing Done ends all open live update streams.
type Deps struct {
	Bids        BidPlacer
	Reversals   TopBidRemover
	Reader      LotReader
	Updates     Subscriber
	Idempotency *idempotency.Cache
	Health      *health.Handler
	Logger      *slog.Logger
	Tracer      trace.TracerProvider
	Done        <-chan struct{}
}

type api struct {
	Deps
	tracer trace.Tracer
}

// NewRouter builds the gin engine with all routes.
func NewRouter(d Deps) *gin.Engine {
	a := &api{Deps: d, tracer: d.Tracer.Tracer(tracerName)}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(d.Logger))

	if d.Health != nil {
		d.Health.Register(r)
	}

	v1 := r.Group("/v1", requireIdentity())
	{
		v1.POST("/bids", a.placeBid)
		v1.GET("/lots/:lot_id", a.getLot)
		v1.GET("/lots/:lot_id/bids", a.listBids)
		v1.GET("/lots/:lot_id/stream", a.streamLot)
		v1.GET("/me/bids", a.myBids)
	}

	admin := v1.Group("/admin", requireAdmin())
	{
		admin.DELETE("/lots/:lot_id/top-bid", a.removeTopBid)
		admin.GET("/lots/:lot_id/audit", a.lotAudit)
	}

	return r
}

// Server runs the router until its context is cancelled.
type Server struct {
	srv             *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// NewServer wraps handler in an http.Server listening on cfg.Port.
func NewServer(cfg config.ServerConfig, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          logger,
	}
}

// Run serves until ctx is done and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "starting http server", slog.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}
