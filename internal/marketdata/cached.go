package marketdata

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cached wraps a Source with a TTL cache. Concurrent requests for the same
// ticker set share one upstream fetch.
type Cached struct {
	src   Source
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	prices  *Prices
	expires time.Time
}

// NewCached wraps src. A ttl <= 0 disables caching but keeps fetch collapsing.
func NewCached(src Source, ttl time.Duration) *Cached {
	return &Cached{
		src:     src,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Name implements Source.
func (c *Cached) Name() string { return c.src.Name() }

// History implements Source. Errors are never cached.
func (c *Cached) History(ctx context.Context, tickers []string, lookbackDays int) (*Prices, error) {
	key := cacheKey(tickers, lookbackDays)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if c.now().Before(e.expires) {
			c.mu.Unlock()
			return e.prices, nil
		}
		delete(c.entries, key)
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		// detached so one caller's cancellation does not fail the others
		return c.src.History(context.WithoutCancel(ctx), tickers, lookbackDays)
	})
	if err != nil {
		return nil, err
	}
	p := v.(*Prices)

	if c.ttl > 0 {
		c.mu.Lock()
		c.entries[key] = cacheEntry{prices: p, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()
	}
	return p, nil
}

func cacheKey(tickers []string, lookbackDays int) string {
	sorted := slices.Clone(tickers)
	slices.Sort(sorted)
	return strings.Join(sorted, ",") + "|" + strconv.Itoa(lookbackDays)
}
