package httpapi_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/bidcore/internal/auction"
	"github.com/jensholdgaard/bidcore/internal/biderr"
	"github.com/jensholdgaard/bidcore/internal/broadcast"
	"github.com/jensholdgaard/bidcore/internal/clock"
	"github.com/jensholdgaard/bidcore/internal/config"
	"github.com/jensholdgaard/bidcore/internal/httpapi"
	"github.com/jensholdgaard/bidcore/internal/idempotency"
	"github.com/jensholdgaard/bidcore/internal/store"
	"github.com/jensholdgaard/bidcore/internal/store/memstore"
	"github.com/jensholdgaard/bidcore/internal/telemetry"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type env struct {
	router *gin.Engine
	coord  *auction.Coordinator
	lot    *store.Lot
	clock  *clock.Mock
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEnv(t *testing.T, override func(*httpapi.Deps)) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	clk := clock.NewMock(now)
	s := memstore.New(clk, time.Second)

	a := &store.Auction{Title: "Summer", StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour), Status: store.AuctionActive}
	require.NoError(t, s.CreateAuction(ctx, a))
	lot := &store.Lot{
		AuctionID:    a.ID,
		LotNumber:    7,
		Title:        "Vase",
		StartingBid:  decimal.NewFromInt(100),
		BidIncrement: decimal.NewFromInt(10),
	}
	require.NoError(t, s.CreateLot(ctx, lot))

	logger := discardLogger()
	tp := noop.NewTracerProvider()
	hub, err := broadcast.NewHub(8, logger, metricnoop.NewMeterProvider())
	require.NoError(t, err)
	metrics, err := telemetry.NewBidMetrics(metricnoop.NewMeterProvider())
	require.NoError(t, err)
	idem, err := idempotency.New(config.IdempotencyConfig{Size: 16, TTL: time.Minute}, clk)
	require.NoError(t, err)

	bidding := config.BiddingConfig{MaxRetries: 0}
	coord := auction.NewCoordinator(s, hub, metrics, bidding, logger, tp, clk)
	deps := httpapi.Deps{
		Bids:        coord,
		Reversals:   auction.NewReversalService(s, hub, metrics, bidding, logger, tp, clk),
		Reader:      auction.NewReader(s, s, tp),
		Updates:     hub,
		Idempotency: idem,
		Logger:      logger,
		Tracer:      tp,
	}
	if override != nil {
		override(&deps)
	}
	return &env{router: httpapi.NewRouter(deps), coord: coord, lot: lot, clock: clk}
}

type response struct {
	code   int
	header http.Header
	body   map[string]any
}

func (e *env) do(t *testing.T, method, path, user, role, body string, headers ...string) response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(httpapi.HeaderUserID, user)
	}
	if role != "" {
		req.Header.Set(httpapi.HeaderUserRole, role)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	out := response{code: rec.Code, header: rec.Header()}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out.body), rec.Body.String())
	}
	return out
}

func (e *env) bid(t *testing.T, user, amount string, headers ...string) response {
	t.Helper()
	return e.do(t, http.MethodPost, "/v1/bids", user, "", `{"lot_id":"`+e.lot.ID+`","amount":`+amount+`}`, headers...)
}

func TestPlaceBid(t *testing.T) {
	e := newEnv(t, nil)

	res := e.bid(t, "alice", `"100"`)
	require.Equal(t, http.StatusCreated, res.code, res.body)
	require.NotEmpty(t, res.body["bid_id"])
	require.Equal(t, e.lot.ID, res.body["lot_id"])
	require.Equal(t, "100", res.body["amount"])
	require.Equal(t, float64(1), res.body["bid_count"])

	tests := []struct {
		name     string
		user     string
		amount   string
		wantCode int
		wantErr  string
	}{
		{"below minimum", "bob", `105`, http.StatusConflict, "below_minimum"},
		{"self outbid", "alice", `"120"`, http.StatusConflict, "self_outbid"},
		{"too precise", "bob", `"110.001"`, http.StatusBadRequest, "invalid_amount"},
		{"negative", "bob", `-5`, http.StatusBadRequest, "invalid_amount"},
		{"not a number", "bob", `"abc"`, http.StatusBadRequest, "invalid_input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.bid(t, tt.user, tt.amount)
			require.Equal(t, tt.wantCode, res.code, res.body)
			require.Equal(t, tt.wantErr, res.body["code"])
		})
	}

	res = e.bid(t, "bob", `105`)
	require.Equal(t, "110.00", res.body["minimum_bid"])

	res = e.bid(t, "bob", `110.50`)
	require.Equal(t, http.StatusCreated, res.code, res.body)
}

func TestPlaceBid_RequestErrors(t *testing.T) {
	e := newEnv(t, nil)

	res := e.do(t, http.MethodPost, "/v1/bids", "", "", `{"lot_id":"`+e.lot.ID+`","amount":"100"}`)
	require.Equal(t, http.StatusUnauthorized, res.code)
	require.Equal(t, "unauthenticated", res.body["code"])

	res = e.do(t, http.MethodPost, "/v1/bids", "alice", "", `{invalid json}`)
	require.Equal(t, http.StatusBadRequest, res.code)

	res = e.do(t, http.MethodPost, "/v1/bids", "alice", "", `{"lot_id":"missing","amount":"100"}`)
	require.Equal(t, http.StatusNotFound, res.code)
	require.Equal(t, "not_found", res.body["code"])
}

func TestPlaceBid_AuctionEnded(t *testing.T) {
	e := newEnv(t, nil)
	e.clock.Set(now.Add(time.Hour))

	res := e.bid(t, "alice", `"100"`)
	require.Equal(t, http.StatusConflict, res.code)
	require.Equal(t, "auction_ended", res.body["code"])
}

func TestPlaceBid_IdempotencyKey(t *testing.T) {
	e := newEnv(t, nil)

	first := e.bid(t, "alice", `"100"`, httpapi.HeaderIdempotencyKey, "k-1")
	require.Equal(t, http.StatusCreated, first.code, first.body)

	replay := e.bid(t, "alice", `"100"`, httpapi.HeaderIdempotencyKey, "k-1")
	require.Equal(t, http.StatusCreated, replay.code, replay.body)
	require.Equal(t, first.body["bid_id"], replay.body["bid_id"])
	require.Equal(t, "true", replay.header.Get("Idempotent-Replayed"))

	lot := e.do(t, http.MethodGet, "/v1/lots/"+e.lot.ID, "alice", "", "")
	require.Equal(t, float64(1), lot.body["bid_count"])

	// Without the key the same request is a new bid and fails validation.
	again := e.bid(t, "alice", `"100"`)
	require.Equal(t, http.StatusConflict, again.code)
}

func TestPlaceBid_IdempotencyKeyReused(t *testing.T) {
	e := newEnv(t, nil)

	first := e.bid(t, "alice", `"100"`, httpapi.HeaderIdempotencyKey, "k-1")
	require.Equal(t, http.StatusCreated, first.code, first.body)

	// The same amount written differently is the same request.
	same := e.bid(t, "alice", `"100.00"`, httpapi.HeaderIdempotencyKey, "k-1")
	require.Equal(t, http.StatusCreated, same.code, same.body)
	require.Equal(t, first.body["bid_id"], same.body["bid_id"])

	other := e.bid(t, "alice", `"150"`, httpapi.HeaderIdempotencyKey, "k-1")
	require.Equal(t, http.StatusUnprocessableEntity, other.code, other.body)
	require.Equal(t, "idempotency_key_reused", other.body["code"])
	require.Empty(t, other.header.Get("Idempotent-Replayed"))

	otherLot := e.do(t, http.MethodPost, "/v1/bids", "alice", "", `{"lot_id":"another-lot","amount":"100"}`,
		httpapi.HeaderIdempotencyKey, "k-1")
	require.Equal(t, http.StatusUnprocessableEntity, otherLot.code, otherLot.body)

	lot := e.do(t, http.MethodGet, "/v1/lots/"+e.lot.ID, "bob", "", "")
	require.Equal(t, float64(1), lot.body["bid_count"])
}

type stubPlacer struct{ err error }

func (s stubPlacer) PlaceBid(context.Context, string, string, decimal.Decimal) (*auction.BidResult, error) {
	return nil, s.err
}

func TestPlaceBid_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantBody   string
		retryAfter string
	}{
		{"busy", biderr.ErrLotBusy, http.StatusServiceUnavailable, "lot_busy", "1"},
		{"persistence", biderr.Persistence("inserting bid", errors.New("disk full")), http.StatusInternalServerError, "persistence_failure", ""},
		{"not active", biderr.ErrAuctionNotActive, http.StatusConflict, "auction_not_active", ""},
		{"not started", biderr.ErrAuctionNotStarted, http.StatusConflict, "auction_not_started", ""},
		{"lot closed", biderr.ErrLotClosed, http.StatusConflict, "lot_closed", ""},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, func(d *httpapi.Deps) { d.Bids = stubPlacer{err: tt.err} })
			res := e.bid(t, "alice", `"100"`)
			require.Equal(t, tt.wantCode, res.code)
			require.Equal(t, tt.wantBody, res.body["code"])
			require.Equal(t, tt.retryAfter, res.header.Get("Retry-After"))
			if tt.wantCode == http.StatusInternalServerError {
				require.Equal(t, "internal error", res.body["error"])
			}
		})
	}
}

func TestReadEndpoints(t *testing.T) {
	e := newEnv(t, nil)
	require.Equal(t, http.StatusCreated, e.bid(t, "alice", `"100"`).code)
	e.clock.Advance(time.Second)
	require.Equal(t, http.StatusCreated, e.bid(t, "bob", `"130"`).code)

	lot := e.do(t, http.MethodGet, "/v1/lots/"+e.lot.ID, "carol", "", "")
	require.Equal(t, http.StatusOK, lot.code)
	require.Equal(t, "130", lot.body["current_bid"])
	require.Equal(t, "140", lot.body["minimum_bid"])
	require.Equal(t, "bob", lot.body["highest_bidder_id"])
	require.Equal(t, float64(2), lot.body["bid_count"])

	bids := e.do(t, http.MethodGet, "/v1/lots/"+e.lot.ID+"/bids", "carol", "", "")
	require.Equal(t, http.StatusOK, bids.code)
	list := bids.body["bids"].([]any)
	require.Len(t, list, 2)
	require.Equal(t, "bob", list[0].(map[string]any)["bidder_id"])

	mine := e.do(t, http.MethodGet, "/v1/me/bids", "alice", "", "")
	require.Equal(t, http.StatusOK, mine.code)
	rows := mine.body["bids"].([]any)
	require.Len(t, rows, 1)
	row := rows[0].(map[string]any)
	require.Equal(t, false, row["is_winning"])
	require.Equal(t, "130", row["lot_current_bid"])
	require.Equal(t, "Vase", row["lot_title"])

	missing := e.do(t, http.MethodGet, "/v1/lots/nope", "carol", "", "")
	require.Equal(t, http.StatusNotFound, missing.code)

	empty := e.do(t, http.MethodGet, "/v1/me/bids", "dave", "", "")
	require.Equal(t, http.StatusOK, empty.code)
	require.Empty(t, empty.body["bids"])
}

func TestRemoveTopBid(t *testing.T) {
	e := newEnv(t, nil)
	path := "/v1/admin/lots/" + e.lot.ID + "/top-bid"

	res := e.do(t, http.MethodDelete, path, "admin-1", "admin", "")
	require.Equal(t, http.StatusConflict, res.code)
	require.Equal(t, "no_bids_found", res.body["code"])

	require.Equal(t, http.StatusCreated, e.bid(t, "alice", `"100"`).code)
	e.clock.Advance(time.Second)
	require.Equal(t, http.StatusCreated, e.bid(t, "bob", `"150"`).code)

	res = e.do(t, http.MethodDelete, path, "bob", "bidder", "")
	require.Equal(t, http.StatusForbidden, res.code)
	require.Equal(t, "forbidden", res.body["code"])

	res = e.do(t, http.MethodDelete, path, "admin-1", "admin", "")
	require.Equal(t, http.StatusOK, res.code, res.body)
	require.Equal(t, "bob", res.body["removed_bidder"])
	lot := res.body["lot"].(map[string]any)
	require.Equal(t, "100", lot["current_bid"])
	require.Equal(t, float64(1), lot["bid_count"])
	audit := res.body["audit"].(map[string]any)
	require.Equal(t, "admin-1", audit["removed_by"])
	newTop := res.body["new_top_bid"].(map[string]any)
	require.Equal(t, "alice", newTop["bidder_id"])

	events := e.do(t, http.MethodGet, "/v1/admin/lots/"+e.lot.ID+"/audit", "admin-1", "admin", "")
	require.Equal(t, http.StatusOK, events.code)
	list := events.body["events"].([]any)
	require.Len(t, list, 3)
	require.Equal(t, "bid.top_removed", list[2].(map[string]any)["type"])
}

func readEvent(t *testing.T, sc *bufio.Scanner) (string, broadcast.LotUpdate) {
	t.Helper()
	var name string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			var u broadcast.LotUpdate
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &u))
			return name, u
		}
	}
	t.Fatalf("stream ended: %v", sc.Err())
	return "", broadcast.LotUpdate{}
}

func TestStreamLot(t *testing.T) {
	e := newEnv(t, nil)
	require.Equal(t, http.StatusCreated, e.bid(t, "alice", `"100"`).code)

	srv := httptest.NewServer(e.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/lots/"+e.lot.ID+"/stream", nil)
	require.NoError(t, err)
	req.Header.Set(httpapi.HeaderUserID, "watcher")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sc := bufio.NewScanner(resp.Body)
	name, snap := readEvent(t, sc)
	require.Equal(t, "lot-updated", name)
	require.Equal(t, broadcast.KindSnapshot, snap.Kind)
	require.Equal(t, int64(1), snap.Version)
	require.Equal(t, "alice", snap.HighestBidderID)

	_, err = e.coord.PlaceBid(context.Background(), e.lot.ID, "bob", decimal.NewFromInt(110))
	require.NoError(t, err)

	_, u := readEvent(t, sc)
	require.Equal(t, broadcast.KindBidPlaced, u.Kind)
	require.Equal(t, int64(2), u.Version)
	require.Equal(t, "bob", u.HighestBidderID)
	require.True(t, u.CurrentBid.Equal(decimal.NewFromInt(110)))
}

func TestStreamLot_UnknownLot(t *testing.T) {
	e := newEnv(t, nil)
	res := e.do(t, http.MethodGet, "/v1/lots/missing/stream", "watcher", "", "")
	require.Equal(t, http.StatusNotFound, res.code)
}
