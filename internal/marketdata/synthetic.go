package marketdata

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"github.com/linnemanlabs/allocator/internal/universe"
)

const tradingDaysPerYear = 252

// classParams are annual drift and volatility used for simulated paths.
var classParams = map[universe.AssetClass]struct{ drift, vol float64 }{
	universe.Stock:      {0.08, 0.18},
	universe.Crypto:     {0.35, 0.70},
	universe.Commodity:  {0.05, 0.22},
	universe.MutualFund: {0.07, 0.15},
}

// Synthetic produces deterministic geometric Brownian motion paths. The same
// ticker, lookback and day always produce the same history.
type Synthetic struct {
	universe *universe.Universe
	now      func() time.Time
}

// NewSynthetic creates a simulated source. Tickers outside u use stock parameters.
func NewSynthetic(u *universe.Universe) *Synthetic {
	return &Synthetic{universe: u, now: time.Now}
}

// Name implements Source.
func (s *Synthetic) Name() string { return "synthetic" }

// History implements Source.
func (s *Synthetic) History(ctx context.Context, tickers []string, lookbackDays int) (*Prices, error) {
	_, span := tracer.Start(ctx, "marketdata.Synthetic.History")
	defer span.End()

	if len(tickers) == 0 {
		return nil, ErrNoData
	}

	dates := businessDays(day(s.now()), lookbackDays)
	series := make([]Series, 0, len(tickers))
	for _, t := range tickers {
		series = append(series, s.path(t, dates))
	}

	p := Align(series)
	p.Source = s.Name()
	return p, nil
}

func (s *Synthetic) path(ticker string, dates []time.Time) Series {
	params := classParams[universe.Stock]
	if s.universe != nil {
		if c, ok := s.universe.ClassOf(ticker); ok {
			if cp, ok := classParams[c]; ok {
				params = cp
			}
		}
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(ticker))
	rng := rand.New(rand.NewPCG(h.Sum64(), 0x5eed)) //nolint:gosec // simulation, not security

	dt := 1.0 / tradingDaysPerYear
	driftTerm := (params.drift - 0.5*params.vol*params.vol) * dt
	volTerm := params.vol * math.Sqrt(dt)

	price := 100.0
	out := Series{Ticker: ticker, Points: make([]Point, len(dates))}
	for i, d := range dates {
		if i > 0 {
			price *= math.Exp(driftTerm + volTerm*rng.NormFloat64())
		}
		out.Points[i] = Point{Date: d, Close: price}
	}
	return out
}

// businessDays returns weekdays in (end-lookback, end], ascending.
func businessDays(end time.Time, lookbackDays int) []time.Time {
	start := end.AddDate(0, 0, -lookbackDays)
	var out []time.Time
	for d := start.AddDate(0, 0, 1); !d.After(end); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		out = append(out, d)
	}
	return out
}
