// Package marketdata retrieves daily close history for the optimizer, either
// from Yahoo Finance or from a deterministic simulation.
package marketdata

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrNoData is returned when no ticker produced usable history.
var ErrNoData = errors.New("no market data available")

// Source provides daily close history for a set of tickers.
type Source interface {
	Name() string
	History(ctx context.Context, tickers []string, lookbackDays int) (*Prices, error)
}

// Point is a single daily close.
type Point struct {
	Date  time.Time
	Close float64
}

// Series is the close history of one ticker, ascending by date.
type Series struct {
	Ticker string
	Points []Point
}

// Prices is a close matrix aligned on common dates. Closes[ticker][i] is the
// close on Dates[i]. Values returned by a Source are shared and must not be
// modified.
type Prices struct {
	Dates   []time.Time
	Tickers []string
	Closes  map[string][]float64
	Source  string
}

// Len returns the number of aligned observations.
func (p *Prices) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Dates)
}

// Column returns the closes of a ticker.
func (p *Prices) Column(ticker string) []float64 {
	return p.Closes[ticker]
}

// Align inner-joins series on calendar day. Tickers with no points are dropped.
// Ticker order follows the input.
func Align(series []Series) *Prices {
	p := &Prices{Closes: make(map[string][]float64)}

	var live []Series
	for _, s := range series {
		if len(s.Points) > 0 {
			live = append(live, s)
		}
	}
	if len(live) == 0 {
		return p
	}

	count := make(map[time.Time]int)
	byTicker := make([]map[time.Time]float64, len(live))
	for i, s := range live {
		byTicker[i] = make(map[time.Time]float64, len(s.Points))
		for _, pt := range s.Points {
			d := day(pt.Date)
			if _, dup := byTicker[i][d]; !dup {
				count[d]++
			}
			// last print of the day wins
			byTicker[i][d] = pt.Close
		}
	}

	for d, n := range count {
		if n == len(live) {
			p.Dates = append(p.Dates, d)
		}
	}
	sort.Slice(p.Dates, func(i, j int) bool { return p.Dates[i].Before(p.Dates[j]) })

	for i, s := range live {
		col := make([]float64, len(p.Dates))
		for j, d := range p.Dates {
			col[j] = byTicker[i][d]
		}
		p.Tickers = append(p.Tickers, s.Ticker)
		p.Closes[s.Ticker] = col
	}
	return p
}

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
