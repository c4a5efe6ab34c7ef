package allocation

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"

	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/allocator/internal/marketdata"
	"github.com/linnemanlabs/allocator/internal/optimize"
	"github.com/linnemanlabs/allocator/internal/universe"
)

const (
	// OverlayMinRisk is the lowest risk tolerance that receives the speculative overlay.
	OverlayMinRisk = 8

	// CryptoFloorMinRisk is the lowest risk tolerance guaranteed some crypto.
	CryptoFloorMinRisk = 6

	// FallbackProjectedReturn is reported when the heuristic table is used.
	FallbackProjectedReturn = "10% (Est)"

	// FallbackSummary is the narrative of every fallback allocation.
	FallbackSummary = "Live data unavailable. Using heuristic fallback model."

	fallbackReasoning = "Fallback Model"

	// lottery picks are drawn from a fixed seed so every response agrees
	lotterySeed = 42
)

var coreReasoning = map[universe.AssetClass]string{
	universe.Stock:      "Mean-Variance Optimized equity basket.",
	universe.Crypto:     "Efficient Frontier maximized crypto exposure.",
	universe.Commodity:  "Uncorrelated diversification.",
	universe.MutualFund: "Low-cost diversified index funds.",
}

// EngineConfig tunes the optimizer pipeline.
type EngineConfig struct {
	RiskFreeRate    float64
	MinObservations int
	LookbackDays    int
}

// Engine turns price history and a risk tolerance into class percentages. It
// holds no state between calls and is safe for concurrent use.
type Engine struct {
	universe *universe.Universe
	cfg      EngineConfig
}

// NewEngine creates an engine over the given universe.
func NewEngine(u *universe.Universe, cfg EngineConfig) *Engine {
	if u == nil {
		panic(xerrors.New("allocation.NewEngine: nil universe"))
	}
	if cfg.MinObservations < 2 {
		cfg.MinObservations = 2
	}
	return &Engine{universe: u, cfg: cfg}
}

// Tickers returns the tickers the engine optimizes over.
func (e *Engine) Tickers() []string { return e.universe.Tickers() }

// LookbackDays is the history window requested from market data sources.
func (e *Engine) LookbackDays() int { return e.cfg.LookbackDays }

// Outcome is the engine's result before amounts, summary and identity are attached.
type Outcome struct {
	Items                []Item
	TotalProjectedReturn string
	Strategy             optimize.Strategy
	Performance          optimize.Performance
	Overlay              bool
}

// Allocate optimizes prices for the risk tolerance and maps weights to
// asset classes. Any error means the caller should fall back.
func (e *Engine) Allocate(ctx context.Context, prices *marketdata.Prices, risk int) (*Outcome, error) {
	if prices.Len() < e.cfg.MinObservations {
		return nil, fmt.Errorf("%w: %d aligned observations, need %d",
			optimize.ErrInsufficientData, prices.Len(), e.cfg.MinObservations)
	}

	strategy := optimize.StrategyFor(risk)
	res, err := optimize.Optimize(ctx, prices, strategy, e.cfg.RiskFreeRate)
	if err != nil {
		return nil, fmt.Errorf("optimize %s: %w", strategy, err)
	}

	totals, assets := e.bucket(res)
	e.applyCryptoFloor(totals, assets, risk)

	var overlay []Item
	if risk >= OverlayMinRisk {
		overlay = speculativeOverlay(risk)
		scale := (100 - overlayTotal(risk)) / 100
		for c, v := range totals {
			totals[c] = round2(v * scale)
		}
	}

	var items []Item
	for _, c := range universe.CoreClasses {
		if totals[c] <= 0 {
			continue
		}
		items = append(items, Item{
			AssetClass:        c,
			Percentage:        round2(totals[c]),
			Reasoning:         coreReasoning[c],
			RecommendedAssets: assets[c],
		})
	}
	items = append(items, overlay...)

	return &Outcome{
		Items:                items,
		TotalProjectedReturn: ProjectedReturn(res.Performance),
		Strategy:             strategy,
		Performance:          res.Performance,
		Overlay:              len(overlay) > 0,
	}, nil
}

// bucket sums rounded ticker percentages per class and lists each held
// ticker as "TICKER (pct%)".
func (e *Engine) bucket(res *optimize.Result) (map[universe.AssetClass]float64, map[universe.AssetClass][]string) {
	totals := make(map[universe.AssetClass]float64)
	assets := make(map[universe.AssetClass][]string)
	for i, t := range res.Tickers {
		pct := round2(res.Weights[i] * 100)
		if pct <= 0 {
			continue
		}
		class, ok := e.universe.ClassOf(t)
		if !ok {
			continue
		}
		totals[class] += pct
		assets[class] = append(assets[class], fmt.Sprintf("%s (%s%%)", t, FormatPercent(pct)))
	}
	return totals, assets
}

// applyCryptoFloor gives moderate and aggressive investors min(5, risk-5)
// percent crypto when the optimizer chose none, taken pro rata from the
// other core classes.
func (e *Engine) applyCryptoFloor(totals map[universe.AssetClass]float64, assets map[universe.AssetClass][]string, risk int) {
	if risk < CryptoFloorMinRisk || totals[universe.Crypto] > 0 {
		return
	}
	floor := float64(min(5, risk-5))

	var core float64
	for _, v := range totals {
		core += v
	}
	if core <= floor {
		return
	}
	scale := (core - floor) / core
	for c, v := range totals {
		totals[c] = round2(v * scale)
	}
	totals[universe.Crypto] = floor
	assets[universe.Crypto] = []string{fmt.Sprintf("%s (%s%%)", e.floorTicker(), FormatPercent(floor))}
}

func (e *Engine) floorTicker() string {
	for _, g := range e.universe.Groups {
		if g.Class == universe.Crypto && len(g.Tickers) > 0 {
			if slices.Contains(g.Tickers, "BTC-USD") {
				return "BTC-USD"
			}
			return g.Tickers[0]
		}
	}
	return "BTC-USD"
}

func overlayTotal(risk int) float64 {
	return float64(6 * (risk - OverlayMinRisk + 1))
}

// speculativeOverlay returns the prediction, sports and lottery sleeves for
// risk >= 8. They take 3k, 2k and k percent with k = risk-7.
func speculativeOverlay(risk int) []Item {
	k := float64(risk - OverlayMinRisk + 1)
	return []Item{
		{
			AssetClass:        universe.Prediction,
			Percentage:        3 * k,
			Reasoning:         "High-conviction binary alpha via prediction markets.",
			RecommendedAssets: []string{"FED-RATES-JUN25", "TRUMP-ELECTION-2028", "RECESSION-2025"},
		},
		{
			AssetClass:        universe.Sports,
			Percentage:        2 * k,
			Reasoning:         "Statistical edge in sports betting markets.",
			RecommendedAssets: []string{"NBA: Lakers ML", "NFL: Chiefs -3.5", "EPL: Man City Over 2.5"},
		},
		{
			AssetClass:        universe.Lottery,
			Percentage:        k,
			Reasoning:         "Positive convexity black swan exposure with optimized number selection.",
			RecommendedAssets: LotteryPicks(),
		},
	}
}

// LotteryPicks returns one Powerball and one Mega Millions line.
func LotteryPicks() []string {
	r := rand.New(rand.NewPCG(lotterySeed, lotterySeed))
	pb := drawDistinct(r, 5, 69)
	pbBall := r.IntN(26) + 1
	mm := drawDistinct(r, 5, 70)
	mmBall := r.IntN(25) + 1
	return []string{
		fmt.Sprintf("POWERBALL: %s PB:%d", joinInts(pb, "-"), pbBall),
		fmt.Sprintf("MEGA MILLIONS: %s MB:%d", joinInts(mm, "-"), mmBall),
	}
}

// drawDistinct returns n distinct sorted integers in 1..upper.
func drawDistinct(r *rand.Rand, n, upper int) []int {
	out := r.Perm(upper)[:n]
	for i := range out {
		out[i]++
	}
	slices.Sort(out)
	return out
}

func joinInts(xs []int, sep string) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, sep)
}

// Fallback is the heuristic table used when optimization is not possible.
func Fallback(risk int) []Item {
	stock := 60.0
	if risk >= OverlayMinRisk {
		stock = 40
	}
	var crypto float64
	switch {
	case risk < 4:
		crypto = 0
	case risk < OverlayMinRisk:
		crypto = 10
	default:
		crypto = 40
	}
	commodity := 10.0
	cash := 100 - (stock + crypto + commodity)

	item := func(c universe.AssetClass, pct float64, asset string) Item {
		return Item{AssetClass: c, Percentage: pct, Reasoning: fallbackReasoning, RecommendedAssets: []string{asset}}
	}
	return []Item{
		item(universe.Stock, stock, "SPY"),
		item(universe.Crypto, crypto, "BTC"),
		item(universe.Commodity, commodity, "GLD"),
		item(universe.Cash, cash, "USD"),
	}
}

// ProjectedReturn formats performance as "{ret}% Ann. Return (Vol: {vol}%, Sharpe: {sharpe})".
func ProjectedReturn(p optimize.Performance) string {
	return fmt.Sprintf("%s%% Ann. Return (Vol: %s%%, Sharpe: %s)",
		FormatPercent(round2(p.ExpectedReturn*100)),
		FormatPercent(round2(p.Volatility*100)),
		FormatPercent(round2(p.Sharpe)),
	)
}

// FormatPercent renders a number with the fewest digits that round-trip.
func FormatPercent(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
