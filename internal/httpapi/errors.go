package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jensholdgaard/bidcore/internal/biderr"
)

type errorBody struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	MinimumBid string `json:"minimum_bid,omitempty"`
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, biderr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, biderr.ErrInvalidInput), errors.Is(err, biderr.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, biderr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, biderr.ErrKeyReused):
		return http.StatusUnprocessableEntity
	case errors.Is(err, biderr.ErrAuctionNotActive),
		errors.Is(err, biderr.ErrAuctionNotStarted),
		errors.Is(err, biderr.ErrAuctionEnded),
		errors.Is(err, biderr.ErrLotClosed),
		errors.Is(err, biderr.ErrBelowMinimum),
		errors.Is(err, biderr.ErrSelfOutbid),
		errors.Is(err, biderr.ErrNoBidsFound):
		return http.StatusConflict
	case errors.Is(err, biderr.ErrLotBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as JSON. Internal failures are not echoed to the
// client.
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error(), Code: biderr.Code(err)}
	if status == http.StatusInternalServerError {
		body.Error = "internal error"
	}
	if minBid, ok := biderr.MinimumBid(err); ok {
		body.MinimumBid = minBid.StringFixed(2)
	}
	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", "1")
	}
	c.JSON(status, body)
}
