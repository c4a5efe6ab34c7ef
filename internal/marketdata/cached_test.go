package marketdata

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingSource struct {
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (c *countingSource) Name() string { return "counting" }

func (c *countingSource) History(_ context.Context, tickers []string, _ int) (*Prices, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.err != nil {
		return nil, c.err
	}
	return &Prices{Tickers: tickers, Closes: map[string][]float64{}}, nil
}

func TestCached_HitWithinTTL(t *testing.T) {
	t.Parallel()

	src := &countingSource{}
	c := NewCached(src, time.Minute)

	for range 3 {
		if _, err := c.History(context.Background(), []string{"SPY", "GLD"}, 365); err != nil {
			t.Fatalf("History: %v", err)
		}
	}
	// ticker order does not matter
	if _, err := c.History(context.Background(), []string{"GLD", "SPY"}, 365); err != nil {
		t.Fatalf("History: %v", err)
	}

	if n := src.calls.Load(); n != 1 {
		t.Errorf("upstream calls = %d, want 1", n)
	}
	if c.Name() != "counting" {
		t.Errorf("Name() = %q, want counting", c.Name())
	}
}

func TestCached_ExpiresAfterTTL(t *testing.T) {
	t.Parallel()

	src := &countingSource{}
	c := NewCached(src, time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, _ = c.History(context.Background(), []string{"SPY"}, 365)
	now = now.Add(2 * time.Minute)
	_, _ = c.History(context.Background(), []string{"SPY"}, 365)

	if n := src.calls.Load(); n != 2 {
		t.Errorf("upstream calls = %d, want 2", n)
	}
}

func TestCached_DifferentLookbackMisses(t *testing.T) {
	t.Parallel()

	src := &countingSource{}
	c := NewCached(src, time.Minute)

	_, _ = c.History(context.Background(), []string{"SPY"}, 365)
	_, _ = c.History(context.Background(), []string{"SPY"}, 180)

	if n := src.calls.Load(); n != 2 {
		t.Errorf("upstream calls = %d, want 2", n)
	}
}

func TestCached_ErrorsNotCached(t *testing.T) {
	t.Parallel()

	src := &countingSource{err: errors.New("rate limited")}
	c := NewCached(src, time.Minute)

	for range 2 {
		if _, err := c.History(context.Background(), []string{"SPY"}, 365); err == nil {
			t.Fatal("expected error")
		}
	}
	if n := src.calls.Load(); n != 2 {
		t.Errorf("upstream calls = %d, want 2", n)
	}
}

func TestCached_CollapsesConcurrentFetches(t *testing.T) {
	t.Parallel()

	src := &countingSource{delay: 50 * time.Millisecond}
	c := NewCached(src, 0)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.History(context.Background(), []string{"SPY"}, 365)
		}()
	}
	wg.Wait()

	if n := src.calls.Load(); n >= 8 {
		t.Errorf("upstream calls = %d, want concurrent fetches collapsed", n)
	}
}
