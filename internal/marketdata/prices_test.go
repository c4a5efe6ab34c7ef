package marketdata

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func d(day int) time.Time {
	return time.Date(2025, 3, day, 0, 0, 0, 0, time.UTC)
}

func TestAlign_InnerJoin(t *testing.T) {
	t.Parallel()

	series := []Series{
		{Ticker: "SPY", Points: []Point{{d(3), 100}, {d(4), 101}, {d(5), 102}, {d(6), 103}}},
		{Ticker: "GLD", Points: []Point{{d(4), 50}, {d(5), 51}, {d(6), 52}, {d(7), 53}}},
	}

	p := Align(series)

	if diff := cmp.Diff([]time.Time{d(4), d(5), d(6)}, p.Dates); diff != "" {
		t.Errorf("Dates mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"SPY", "GLD"}, p.Tickers); diff != "" {
		t.Errorf("Tickers mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{101, 102, 103}, p.Column("SPY")); diff != "" {
		t.Errorf("SPY closes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{50, 51, 52}, p.Column("GLD")); diff != "" {
		t.Errorf("GLD closes mismatch (-want +got):\n%s", diff)
	}
}

func TestAlign_NormalizesIntradayTimestamps(t *testing.T) {
	t.Parallel()

	series := []Series{
		{Ticker: "BTC-USD", Points: []Point{{d(4).Add(5 * time.Hour), 60000}, {d(5).Add(time.Minute), 61000}}},
		{Ticker: "SPY", Points: []Point{{d(4).Add(14 * time.Hour), 500}, {d(5).Add(20 * time.Hour), 501}}},
	}

	p := Align(series)
	if p.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", p.Len())
	}
}

func TestAlign_DropsEmptySeries(t *testing.T) {
	t.Parallel()

	p := Align([]Series{
		{Ticker: "SPY", Points: []Point{{d(4), 1}, {d(5), 2}}},
		{Ticker: "DEAD"},
	})

	if diff := cmp.Diff([]string{"SPY"}, p.Tickers); diff != "" {
		t.Errorf("Tickers mismatch (-want +got):\n%s", diff)
	}
	if p.Len() != 2 {
		t.Errorf("Len() = %d, want 2", p.Len())
	}
}

func TestAlign_Empty(t *testing.T) {
	t.Parallel()

	p := Align(nil)
	if p.Len() != 0 {
		t.Errorf("Len() = %d, want 0", p.Len())
	}

	var nilPrices *Prices
	if nilPrices.Len() != 0 {
		t.Error("nil Prices should report zero length")
	}
}
