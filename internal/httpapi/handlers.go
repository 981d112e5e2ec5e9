package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/bidcore/internal/biderr"
	"github.com/jensholdgaard/bidcore/internal/broadcast"
)

// HeaderIdempotencyKey lets a client retry a bid without placing it twice.
const HeaderIdempotencyKey = "Idempotency-Key"

// eventLotUpdated is the SSE event name of live lot updates.
const eventLotUpdated = "lot-updated"

// placeBid handles POST /v1/bids.
func (a *api) placeBid(c *gin.Context) {
	var req placeBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("invalid request payload: %v: %w", err, biderr.ErrInvalidInput))
		return
	}
	bidder := userID(c)
	key := c.GetHeader(HeaderIdempotencyKey)

	if key != "" && a.Idempotency != nil {
		if res, ok := a.Idempotency.Get(bidder, key); ok {
			if res.LotID != req.LotID || !res.Amount.Equal(*req.Amount) {
				writeError(c, fmt.Errorf("key %q was used for %s on lot %s: %w",
					key, res.Amount.StringFixed(2), res.LotID, biderr.ErrKeyReused))
				return
			}
			c.Header("Idempotent-Replayed", "true")
			c.JSON(http.StatusCreated, newBidPlacedResponse(res))
			return
		}
	}

	res, err := a.Bids.PlaceBid(c.Request.Context(), req.LotID, bidder, *req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	if key != "" && a.Idempotency != nil {
		a.Idempotency.Put(bidder, key, *res)
	}
	c.JSON(http.StatusCreated, newBidPlacedResponse(*res))
}

// getLot handles GET /v1/lots/:lot_id.
func (a *api) getLot(c *gin.Context) {
	v, err := a.Reader.Lot(c.Request.Context(), c.Param("lot_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newLotResponse(v))
}

// listBids handles GET /v1/lots/:lot_id/bids.
func (a *api) listBids(c *gin.Context) {
	bids, err := a.Reader.Bids(c.Request.Context(), c.Param("lot_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bids": nonNil(bids)})
}

// myBids handles GET /v1/me/bids.
func (a *api) myBids(c *gin.Context) {
	rows, err := a.Reader.BidsByBidder(c.Request.Context(), userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]myBidResponse, 0, len(rows))
	for _, r := range rows {
		out = append(out, newMyBidResponse(r))
	}
	c.JSON(http.StatusOK, gin.H{"bids": out})
}

// removeTopBid handles DELETE /v1/admin/lots/:lot_id/top-bid.
func (a *api) removeTopBid(c *gin.Context) {
	res, err := a.Reversals.RemoveTopBid(c.Request.Context(), c.Param("lot_id"), userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTopBidRemovedResponse(res))
}

// lotAudit handles GET /v1/admin/lots/:lot_id/audit.
func (a *api) lotAudit(c *gin.Context) {
	events, err := a.Reader.Audit(c.Request.Context(), c.Param("lot_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": nonNil(events)})
}

// streamLot handles GET /v1/lots/:lot_id/stream. It sends the current lot
// state first and then every update published for the lot until the client
// goes away.
func (a *api) streamLot(c *gin.Context) {
	lotID := c.Param("lot_id")
	ctx, span := a.tracer.Start(c.Request.Context(), "api.streamLot",
		trace.WithAttributes(attribute.String("lot.id", lotID)))
	defer span.End()

	v, err := a.Reader.Lot(ctx, lotID)
	if err != nil {
		writeError(c, err)
		return
	}

	// Re-read after subscribing so no update falls in between.
	sub := a.Updates.Subscribe(lotID)
	defer sub.Close()
	if fresh, err := a.Reader.Lot(ctx, lotID); err == nil {
		v = fresh
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	last := v.Lot.Version
	c.SSEvent(eventLotUpdated, broadcast.LotUpdate{
		LotID:           v.Lot.ID,
		Kind:            broadcast.KindSnapshot,
		CurrentBid:      v.Lot.CurrentBid,
		HighestBidderID: v.HighestBidderID,
		BidCount:        v.Lot.BidCount,
		Version:         v.Lot.Version,
		At:              v.Lot.UpdatedAt,
	})
	c.Writer.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.Done:
			return
		case u, ok := <-sub.Updates():
			if !ok {
				return
			}
			if u.Version <= last {
				continue
			}
			last = u.Version
			c.SSEvent(eventLotUpdated, u)
			c.Writer.Flush()
			a.Logger.DebugContext(ctx, "streamed lot update",
				slog.String("lot_id", lotID), slog.Int64("version", u.Version))
		}
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
