// Package idempotency remembers successful bid placements by client-supplied
// key so that a retried request replays the original result.
package idempotency

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/jensholdgaard/bidcore/internal/auction"
	"github.com/jensholdgaard/bidcore/internal/clock"
	"github.com/jensholdgaard/bidcore/internal/config"
)

type entry struct {
	result    auction.BidResult
	expiresAt time.Time
}

// Cache is a bounded LRU of bid results keyed by bidder and idempotency key.
// It is safe for concurrent use.
type Cache struct {
	entries *lru.Cache
	ttl     time.Duration
	clock   clock.Clock
}

// New returns a Cache sized by cfg.
func New(cfg config.IdempotencyConfig, clk clock.Clock) (*Cache, error) {
	entries, err := lru.New(cfg.Size)
	if err != nil {
		return nil, fmt.Errorf("creating idempotency cache: %w", err)
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Cache{entries: entries, ttl: cfg.TTL, clock: clk}, nil
}

func cacheKey(bidderID, key string) string {
	return bidderID + "\x00" + key
}

// Get returns the stored result for (bidderID, key) if it has not expired.
func (c *Cache) Get(bidderID, key string) (auction.BidResult, bool) {
	k := cacheKey(bidderID, key)
	v, ok := c.entries.Get(k)
	if !ok {
		return auction.BidResult{}, false
	}
	e := v.(entry)
	if c.ttl > 0 && !c.clock.Now().Before(e.expiresAt) {
		c.entries.Remove(k)
		return auction.BidResult{}, false
	}
	return e.result, true
}

// Put stores a successful result.
func (c *Cache) Put(bidderID, key string, result auction.BidResult) {
	c.entries.Add(cacheKey(bidderID, key), entry{
		result:    result,
		expiresAt: c.clock.Now().Add(c.ttl),
	})
}

// Len reports the number of cached entries, expired ones included.
func (c *Cache) Len() int {
	return c.entries.Len()
}
