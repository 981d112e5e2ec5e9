// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/jensholdgaard/bidcore/internal/clock"
)

// checkTimeout bounds a single readiness probe.
const checkTimeout = 5 * time.Second

// Status is the body of both probes.
type Status struct {
	Status    string            `json:"status"`
	Leader    *bool             `json:"leader,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// Checker is a named dependency probe, e.g. the store ping.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler serves /healthz and /readyz.
type Handler struct {
	ready    atomic.Bool
	leader   atomic.Pointer[bool]
	checkers []Checker
	clock    clock.Clock
}

// NewHandler creates a handler probing checkers on readiness.
func NewHandler(clk clock.Clock, checkers ...Checker) *Handler {
	return &Handler{checkers: checkers, clock: clk}
}

// SetReady marks the service as ready to receive traffic.
func (h *Handler) SetReady(ready bool) { h.ready.Store(ready) }

// SetLeader records whether this replica currently runs the leader-only
// background work. Until it is called the field is omitted.
func (h *Handler) SetLeader(leader bool) { h.leader.Store(&leader) }

// Register mounts the probes on r.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/healthz", h.Liveness)
	r.GET("/readyz", h.Readiness)
}

// Liveness answers 200 while the process is serving.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, h.status("ok", nil))
}

// Readiness answers 200 once SetReady(true) was called and every checker passes.
func (h *Handler) Readiness(c *gin.Context) {
	if !h.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, h.status("not_ready", nil))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		allOK  = true
	)
	var g errgroup.Group
	for _, chk := range h.checkers {
		g.Go(func() error {
			result := "ok"
			if err := chk.Check(ctx); err != nil {
				result = err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			checks[chk.Name] = result
			if result != "ok" {
				allOK = false
			}
			return nil
		})
	}
	_ = g.Wait()

	if !allOK {
		c.JSON(http.StatusServiceUnavailable, h.status("not_ready", checks))
		return
	}
	c.JSON(http.StatusOK, h.status("ready", checks))
}

func (h *Handler) status(s string, checks map[string]string) Status {
	return Status{
		Status:    s,
		Leader:    h.leader.Load(),
		Checks:    checks,
		Timestamp: h.clock.Now().UTC().Format(time.RFC3339),
	}
}
