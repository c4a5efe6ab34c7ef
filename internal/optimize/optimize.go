package optimize

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/linnemanlabs/allocator/internal/marketdata"
)

var tracer = otel.Tracer("github.com/linnemanlabs/allocator/internal/optimize")

// ErrNoPositiveExcessReturn means no asset beats the risk-free rate, so the
// maximum-Sharpe portfolio is undefined.
var ErrNoPositiveExcessReturn = errors.New("at least one asset must have an expected return exceeding the risk-free rate")

const (
	// WeightCutoff zeroes weights below this magnitude in CleanWeights.
	WeightCutoff = 1e-4

	// WeightDecimals is the rounding precision of CleanWeights.
	WeightDecimals = 5

	maxIterations = 20000
	tolerance     = 1e-12
	minVariance   = 1e-18
)

// Strategy selects the optimization objective.
type Strategy string

const (
	MinVolatility Strategy = "min_volatility"
	MaxSharpe     Strategy = "max_sharpe"
)

// StrategyFor maps a 1..10 risk tolerance to an objective. Conservative
// investors (1..3) get minimum volatility, everyone else maximum Sharpe.
func StrategyFor(risk int) Strategy {
	if risk <= 3 {
		return MinVolatility
	}
	return MaxSharpe
}

// Performance is the expected annual behavior of a portfolio.
type Performance struct {
	ExpectedReturn float64 `json:"expected_return"`
	Volatility     float64 `json:"volatility"`
	Sharpe         float64 `json:"sharpe"`
}

// Result is an optimized portfolio.
type Result struct {
	Strategy    Strategy
	Tickers     []string
	Weights     []float64 // cleaned, aligned with Tickers
	Performance Performance
}

// Weight returns the cleaned weight of a ticker, 0 when absent.
func (r *Result) Weight(ticker string) float64 {
	for i, t := range r.Tickers {
		if t == ticker {
			return r.Weights[i]
		}
	}
	return 0
}

// Optimize estimates a model from prices and solves for the strategy.
func Optimize(ctx context.Context, p *marketdata.Prices, strategy Strategy, riskFreeRate float64) (*Result, error) {
	_, span := tracer.Start(ctx, "optimize.Optimize", trace.WithAttributes(
		attribute.String("optimize.strategy", string(strategy)),
		attribute.Int("optimize.tickers", len(p.Tickers)),
		attribute.Int("optimize.observations", p.Len()),
	))
	defer span.End()

	res, err := optimize(p, strategy, riskFreeRate)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Float64("optimize.expected_return", res.Performance.ExpectedReturn),
		attribute.Float64("optimize.volatility", res.Performance.Volatility),
		attribute.Float64("optimize.sharpe", res.Performance.Sharpe),
	)
	return res, nil
}

func optimize(p *marketdata.Prices, strategy Strategy, riskFreeRate float64) (*Result, error) {
	m, err := Estimate(p)
	if err != nil {
		return nil, err
	}

	var w []float64
	switch strategy {
	case MinVolatility:
		w = m.MinVolatility()
	case MaxSharpe:
		w, err = m.MaxSharpe(riskFreeRate)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}

	return &Result{
		Strategy:    strategy,
		Tickers:     m.Tickers,
		Weights:     CleanWeights(w),
		Performance: m.Performance(w, riskFreeRate),
	}, nil
}

// Performance computes expected return, volatility and Sharpe ratio of w.
func (m *Model) Performance(w []float64, riskFreeRate float64) Performance {
	ret := m.portfolioReturn(w)
	vol := math.Sqrt(math.Max(m.variance(w), 0))
	perf := Performance{ExpectedReturn: ret, Volatility: vol}
	if vol > 0 {
		perf.Sharpe = (ret - riskFreeRate) / vol
	}
	return perf
}

// MinVolatility returns the long-only fully invested portfolio with the
// lowest variance.
func (m *Model) MinVolatility() []float64 {
	n := len(m.Tickers)
	w0 := make([]float64, n)
	for i := range w0 {
		w0[i] = 1 / float64(n)
	}

	return ascend(w0,
		func(w []float64) float64 { return -m.variance(w) },
		func(w []float64) []float64 {
			g := m.covTimes(w)
			floats.Scale(-2, g)
			return g
		},
	)
}

// MaxSharpe returns the long-only fully invested portfolio with the highest
// Sharpe ratio.
func (m *Model) MaxSharpe(riskFreeRate float64) ([]float64, error) {
	n := len(m.Tickers)
	excess := make([]float64, n)
	best, bestSharpe := -1, math.Inf(-1)
	for i := range n {
		excess[i] = m.Mu.AtVec(i) - riskFreeRate
		if excess[i] <= 0 {
			continue
		}
		s := excess[i] / math.Sqrt(math.Max(m.Cov.At(i, i), minVariance))
		if s > bestSharpe {
			best, bestSharpe = i, s
		}
	}
	if best < 0 {
		return nil, ErrNoPositiveExcessReturn
	}

	// Sharpe is quasi-concave where excess return is positive, so ascent from
	// the best single asset stays in that region and reaches the global optimum.
	w0 := make([]float64, n)
	w0[best] = 1

	sharpe := func(w []float64) float64 {
		return floats.Dot(excess, w) / math.Sqrt(math.Max(m.variance(w), minVariance))
	}
	grad := func(w []float64) []float64 {
		v := math.Max(m.variance(w), minVariance)
		sd := math.Sqrt(v)
		ex := floats.Dot(excess, w)
		g := m.covTimes(w)
		floats.Scale(-ex/(v*sd), g)
		floats.AddScaled(g, 1/sd, excess)
		return g
	}

	return ascend(w0, sharpe, grad), nil
}

// CleanWeights zeroes weights below WeightCutoff and rounds the rest to
// WeightDecimals places. The result is not renormalized.
func CleanWeights(w []float64) []float64 {
	out := make([]float64, len(w))
	scale := math.Pow(10, WeightDecimals)
	for i, x := range w {
		if math.Abs(x) < WeightCutoff {
			continue
		}
		out[i] = math.Round(x*scale) / scale
	}
	return out
}

func (m *Model) variance(w []float64) float64 {
	v := mat.NewVecDense(len(w), w)
	return mat.Inner(v, m.Cov, v)
}

func (m *Model) portfolioReturn(w []float64) float64 {
	return mat.Dot(m.Mu, mat.NewVecDense(len(w), w))
}

func (m *Model) covTimes(w []float64) []float64 {
	out := mat.NewVecDense(len(w), nil)
	out.MulVec(m.Cov, mat.NewVecDense(len(w), w))
	return out.RawVector().Data
}

// ascend maximizes f over the probability simplex by projected gradient
// ascent with an adaptive step.
func ascend(w0 []float64, f func([]float64) float64, grad func([]float64) []float64) []float64 {
	w := projectSimplex(w0)
	fw := f(w)
	step := 1.0
	next := make([]float64, len(w))

	for range maxIterations {
		g := grad(w)

		improved := false
		for step > tolerance {
			copy(next, w)
			floats.AddScaled(next, step, g)
			cand := projectSimplex(next)
			if fc := f(cand); fc > fw {
				moved := floats.Distance(cand, w, 2)
				w, fw = cand, fc
				improved = true
				step *= 2
				if moved < tolerance {
					return w
				}
				break
			}
			step /= 2
		}
		if !improved {
			break
		}
	}
	return w
}

// projectSimplex returns the Euclidean projection of v onto
// {w : w_i >= 0, sum w_i = 1}.
func projectSimplex(v []float64) []float64 {
	n := len(v)
	u := make([]float64, n)
	copy(u, v)
	sort.Sort(sort.Reverse(sort.Float64Slice(u)))

	var cum, theta float64
	for j := range n {
		cum += u[j]
		t := (cum - 1) / float64(j+1)
		if u[j]-t > 0 {
			theta = t
		}
	}

	out := make([]float64, n)
	for i, x := range v {
		out[i] = math.Max(x-theta, 0)
	}
	return out
}
