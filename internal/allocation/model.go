package allocation

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/linnemanlabs/allocator/internal/optimize"
	"github.com/linnemanlabs/allocator/internal/universe"
)

// ErrInvalidRequest is returned for requests rejected before any data fetch.
var ErrInvalidRequest = errors.New("invalid allocation request")

const (
	MinRisk = 1
	MaxRisk = 10
)

// Source tells how an allocation was produced.
type Source string

const (
	// SourceOptimized means the mean-variance optimizer produced the weights
	SourceOptimized Source = "optimized"

	// SourceFallback means the static heuristic table was used
	SourceFallback Source = "fallback"
)

// MarketDataHint is a client-supplied symbol. Accepted and ignored.
type MarketDataHint struct {
	Symbol string `json:"symbol"`
	Type   string `json:"type"`
}

// Request asks for an allocation of capital at a risk tolerance.
type Request struct {
	Capital       float64          `json:"capital"`
	RiskTolerance int              `json:"risk_tolerance"`
	MarketData    []MarketDataHint `json:"market_data,omitempty"`
}

// Validate rejects non-positive capital and risk outside 1..10.
func (r *Request) Validate() error {
	var errs []error
	if math.IsNaN(r.Capital) || math.IsInf(r.Capital, 0) || r.Capital <= 0 {
		errs = append(errs, fmt.Errorf("capital must be a positive number, got %v", r.Capital))
	}
	if r.RiskTolerance < MinRisk || r.RiskTolerance > MaxRisk {
		errs = append(errs, fmt.Errorf("risk_tolerance must be between %d and %d, got %d", MinRisk, MaxRisk, r.RiskTolerance))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, errors.Join(errs...))
	}
	return nil
}

// Item is the share of the portfolio assigned to one asset class.
type Item struct {
	AssetClass        universe.AssetClass `json:"assetClass"`
	Percentage        float64             `json:"percentage"`
	Amount            decimal.Decimal     `json:"amount"`
	Reasoning         string              `json:"reasoning"`
	RecommendedAssets []string            `json:"recommendedAssets"`
}

// Run is a completed allocation.
type Run struct {
	ID                   string                `json:"id"`
	Capital              decimal.Decimal       `json:"capital"`
	Allocation           []Item                `json:"allocation"`
	TotalProjectedReturn string                `json:"totalProjectedReturn"`
	RiskScore            int                   `json:"riskScore"`
	AgentSummary         string                `json:"agentSummary"`
	Source               Source                `json:"source"`
	Strategy             optimize.Strategy     `json:"strategy,omitempty"`
	DataSource           string                `json:"dataSource,omitempty"`
	Performance          *optimize.Performance `json:"performance,omitempty"`
	FallbackReason       string                `json:"fallbackReason,omitempty"`
	Narrator             string                `json:"narrator,omitempty"`
	CreatedAt            time.Time             `json:"createdAt"`
	Duration             float64               `json:"durationSeconds"`
}

// Clone returns a deep copy of the run.
func (r *Run) Clone() *Run {
	cp := *r
	cp.Allocation = make([]Item, len(r.Allocation))
	for i, it := range r.Allocation {
		it.RecommendedAssets = append([]string(nil), it.RecommendedAssets...)
		cp.Allocation[i] = it
	}
	if r.Performance != nil {
		p := *r.Performance
		cp.Performance = &p
	}
	return &cp
}

// TotalPercentage sums the class percentages.
func (r *Run) TotalPercentage() float64 {
	var sum float64
	for _, it := range r.Allocation {
		sum += it.Percentage
	}
	return sum
}

// fillAmounts sets each item's dollar amount from capital, rounded to cents.
func (r *Run) fillAmounts() {
	hundred := decimal.NewFromInt(100)
	for i := range r.Allocation {
		pct := decimal.NewFromFloat(r.Allocation[i].Percentage)
		r.Allocation[i].Amount = r.Capital.Mul(pct).Div(hundred).Round(2)
	}
}
