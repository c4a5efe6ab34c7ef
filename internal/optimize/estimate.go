// Package optimize implements long-only mean-variance portfolio optimization
// over daily close history: historical return and covariance estimation, the
// minimum-volatility and maximum-Sharpe portfolios, and weight cleanup.
package optimize

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/linnemanlabs/allocator/internal/marketdata"
)

// TradingDaysPerYear annualizes daily statistics.
const TradingDaysPerYear = 252

var (
	// ErrInsufficientData means there are too few observations or tickers to estimate.
	ErrInsufficientData = errors.New("insufficient price history")

	// ErrInvalidEstimate means the estimates contain NaN or Inf.
	ErrInvalidEstimate = errors.New("invalid return or covariance estimate")
)

// Model holds annualized expected returns and covariance for a ticker set.
type Model struct {
	Tickers []string
	Mu      *mat.VecDense
	Cov     *mat.SymDense
}

// Estimate builds a Model from aligned prices.
func Estimate(p *marketdata.Prices) (*Model, error) {
	if p.Len() < 2 || len(p.Tickers) == 0 {
		return nil, fmt.Errorf("%w: %d observations, %d tickers", ErrInsufficientData, p.Len(), len(p.Tickers))
	}

	returns := DailyReturns(p)

	mu, err := MeanHistoricalReturn(p)
	if err != nil {
		return nil, err
	}
	cov := SampleCovariance(returns)

	for i := range len(p.Tickers) {
		if !finite(mu.AtVec(i)) {
			return nil, fmt.Errorf("%w: return of %s", ErrInvalidEstimate, p.Tickers[i])
		}
		for j := range len(p.Tickers) {
			if !finite(cov.At(i, j)) {
				return nil, fmt.Errorf("%w: covariance of %s", ErrInvalidEstimate, p.Tickers[i])
			}
		}
	}

	return &Model{Tickers: p.Tickers, Mu: mu, Cov: cov}, nil
}

// DailyReturns returns the (observations-1) x tickers matrix of simple returns.
func DailyReturns(p *marketdata.Prices) *mat.Dense {
	rows, cols := p.Len()-1, len(p.Tickers)
	r := mat.NewDense(rows, cols, nil)
	for j, t := range p.Tickers {
		c := p.Column(t)
		for i := range rows {
			r.Set(i, j, c[i+1]/c[i]-1)
		}
	}
	return r
}

// MeanHistoricalReturn is the compounded annual growth rate of each ticker:
// (last/first)^(252/n) - 1 where n is the number of daily returns.
func MeanHistoricalReturn(p *marketdata.Prices) (*mat.VecDense, error) {
	n := p.Len() - 1
	if n < 1 {
		return nil, ErrInsufficientData
	}
	mu := mat.NewVecDense(len(p.Tickers), nil)
	for j, t := range p.Tickers {
		c := p.Column(t)
		growth := c[len(c)-1] / c[0]
		mu.SetVec(j, math.Pow(growth, float64(TradingDaysPerYear)/float64(n))-1)
	}
	return mu, nil
}

// SampleCovariance annualizes the sample covariance of daily returns.
func SampleCovariance(returns *mat.Dense) *mat.SymDense {
	_, cols := returns.Dims()
	cov := mat.NewSymDense(cols, nil)
	stat.CovarianceMatrix(cov, returns, nil)
	cov.ScaleSym(TradingDaysPerYear, cov)
	return cov
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
