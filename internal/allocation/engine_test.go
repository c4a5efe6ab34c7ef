package allocation

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"regexp"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/linnemanlabs/allocator/internal/marketdata"
	"github.com/linnemanlabs/allocator/internal/optimize"
	"github.com/linnemanlabs/allocator/internal/universe"
)

func testEngine() *Engine {
	return NewEngine(universe.Default(), EngineConfig{RiskFreeRate: 0.02, MinObservations: 30, LookbackDays: 365})
}

func syntheticPrices(t *testing.T) *marketdata.Prices {
	t.Helper()
	p, err := marketdata.NewSynthetic(universe.Default()).History(context.Background(), universe.Default().Tickers(), 365)
	if err != nil {
		t.Fatalf("synthetic history: %v", err)
	}
	return p
}

func percentages(items []Item) map[universe.AssetClass]float64 {
	out := make(map[universe.AssetClass]float64, len(items))
	for _, it := range items {
		out[it.AssetClass] = it.Percentage
	}
	return out
}

func sum(items []Item) float64 {
	var s float64
	for _, it := range items {
		s += it.Percentage
	}
	return s
}

func TestFallback_Table(t *testing.T) {
	t.Parallel()

	tests := []struct {
		risk                            int
		stock, crypto, commodity, cash float64
	}{
		{1, 60, 0, 10, 30},
		{3, 60, 0, 10, 30},
		{4, 60, 10, 10, 20},
		{7, 60, 10, 10, 20},
		{8, 40, 40, 10, 10},
		{10, 40, 40, 10, 10},
	}
	for _, tt := range tests {
		items := Fallback(tt.risk)
		want := map[universe.AssetClass]float64{
			universe.Stock:     tt.stock,
			universe.Crypto:    tt.crypto,
			universe.Commodity: tt.commodity,
			universe.Cash:      tt.cash,
		}
		if diff := cmp.Diff(want, percentages(items)); diff != "" {
			t.Errorf("Fallback(%d) mismatch (-want +got):\n%s", tt.risk, diff)
		}
	}
}

func TestFallback_SumsToHundredWithoutNegatives(t *testing.T) {
	t.Parallel()

	for risk := MinRisk; risk <= MaxRisk; risk++ {
		items := Fallback(risk)
		if s := sum(items); s != 100 {
			t.Errorf("risk %d: sum = %v, want 100", risk, s)
		}
		for _, it := range items {
			if it.Percentage < 0 {
				t.Errorf("risk %d: %s = %v, want >= 0", risk, it.AssetClass, it.Percentage)
			}
			if it.Reasoning != "Fallback Model" {
				t.Errorf("risk %d: reasoning = %q, want Fallback Model", risk, it.Reasoning)
			}
		}
	}
}

func TestFallback_Assets(t *testing.T) {
	t.Parallel()

	want := []string{"SPY", "BTC", "GLD", "USD"}
	for i, it := range Fallback(5) {
		if len(it.RecommendedAssets) != 1 || it.RecommendedAssets[0] != want[i] {
			t.Errorf("%s assets = %v, want [%s]", it.AssetClass, it.RecommendedAssets, want[i])
		}
	}
}

func TestBucket(t *testing.T) {
	t.Parallel()

	e := testEngine()
	res := &optimize.Result{
		Tickers: []string{"SPY", "QQQ", "BTC-USD", "GLD"},
		Weights: []float64{0.5, 0.123456, 0, 0.376544},
	}

	totals, assets := e.bucket(res)

	if !approx(totals[universe.Stock], 62.35) {
		t.Errorf("Stock = %v, want 62.35", totals[universe.Stock])
	}
	if !approx(totals[universe.Commodity], 37.65) {
		t.Errorf("Commodity = %v, want 37.65", totals[universe.Commodity])
	}
	if _, ok := totals[universe.Crypto]; ok {
		t.Errorf("Crypto present with zero weight")
	}
	if diff := cmp.Diff([]string{"SPY (50%)", "QQQ (12.35%)"}, assets[universe.Stock]); diff != "" {
		t.Errorf("Stock assets mismatch (-want +got):\n%s", diff)
	}
}

func TestCryptoFloor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		risk      int
		in        map[universe.AssetClass]float64
		want      map[universe.AssetClass]float64
		wantAsset string
	}{
		{
			name: "below threshold",
			risk: 5,
			in:   map[universe.AssetClass]float64{universe.Stock: 60, universe.Commodity: 40},
			want: map[universe.AssetClass]float64{universe.Stock: 60, universe.Commodity: 40},
		},
		{
			name:      "risk 6 gets 1%",
			risk:      6,
			in:        map[universe.AssetClass]float64{universe.Stock: 60, universe.Commodity: 40},
			want:      map[universe.AssetClass]float64{universe.Stock: 59.4, universe.Commodity: 39.6, universe.Crypto: 1},
			wantAsset: "BTC-USD (1%)",
		},
		{
			name:      "risk 9 gets 4%",
			risk:      9,
			in:        map[universe.AssetClass]float64{universe.Stock: 60, universe.Commodity: 40},
			want:      map[universe.AssetClass]float64{universe.Stock: 57.6, universe.Commodity: 38.4, universe.Crypto: 4},
			wantAsset: "BTC-USD (4%)",
		},
		{
			name:      "capped at 5%",
			risk:      10,
			in:        map[universe.AssetClass]float64{universe.Stock: 100},
			want:      map[universe.AssetClass]float64{universe.Stock: 95, universe.Crypto: 5},
			wantAsset: "BTC-USD (5%)",
		},
		{
			name: "optimizer already holds crypto",
			risk: 9,
			in:   map[universe.AssetClass]float64{universe.Stock: 80, universe.Crypto: 20},
			want: map[universe.AssetClass]float64{universe.Stock: 80, universe.Crypto: 20},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := testEngine()
			assets := map[universe.AssetClass][]string{}
			e.applyCryptoFloor(tt.in, assets, tt.risk)

			if diff := cmp.Diff(tt.want, tt.in, cmp.Comparer(approx)); diff != "" {
				t.Errorf("totals mismatch (-want +got):\n%s", diff)
			}
			if tt.wantAsset != "" {
				if got := assets[universe.Crypto]; len(got) != 1 || got[0] != tt.wantAsset {
					t.Errorf("crypto assets = %v, want [%s]", got, tt.wantAsset)
				}
			}
		})
	}
}

func TestSpeculativeOverlay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		risk                        int
		prediction, sports, lottery float64
	}{
		{8, 3, 2, 1},
		{9, 6, 4, 2},
		{10, 9, 6, 3},
	}
	for _, tt := range tests {
		got := percentages(speculativeOverlay(tt.risk))
		want := map[universe.AssetClass]float64{
			universe.Prediction: tt.prediction,
			universe.Sports:     tt.sports,
			universe.Lottery:    tt.lottery,
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("overlay(%d) mismatch (-want +got):\n%s", tt.risk, diff)
		}
		if overlayTotal(tt.risk) != tt.prediction+tt.sports+tt.lottery {
			t.Errorf("overlayTotal(%d) = %v, want %v", tt.risk, overlayTotal(tt.risk), tt.prediction+tt.sports+tt.lottery)
		}
	}
}

var (
	powerballRe = regexp.MustCompile(`^POWERBALL: (\d+)-(\d+)-(\d+)-(\d+)-(\d+) PB:(\d+)$`)
	megaRe      = regexp.MustCompile(`^MEGA MILLIONS: (\d+)-(\d+)-(\d+)-(\d+)-(\d+) MB:(\d+)$`)
)

func TestLotteryPicks(t *testing.T) {
	t.Parallel()

	picks := LotteryPicks()
	if len(picks) != 2 {
		t.Fatalf("len = %d, want 2", len(picks))
	}
	if !powerballRe.MatchString(picks[0]) {
		t.Errorf("powerball line %q malformed", picks[0])
	}
	if !megaRe.MatchString(picks[1]) {
		t.Errorf("mega millions line %q malformed", picks[1])
	}
	if diff := cmp.Diff(picks, LotteryPicks()); diff != "" {
		t.Errorf("picks not deterministic (-first +second):\n%s", diff)
	}
}

func TestDrawDistinct(t *testing.T) {
	t.Parallel()

	for i := range 20 {
		got := drawDistinct(rand.New(rand.NewPCG(uint64(i), 7)), 5, 69)
		seen := map[int]bool{}
		for i, n := range got {
			if n < 1 || n > 69 {
				t.Fatalf("number %d out of range", n)
			}
			if seen[n] {
				t.Fatalf("duplicate %d in %v", n, got)
			}
			seen[n] = true
			if i > 0 && got[i-1] > n {
				t.Fatalf("not sorted: %v", got)
			}
		}
	}
}

func TestProjectedReturn(t *testing.T) {
	t.Parallel()

	got := ProjectedReturn(optimize.Performance{ExpectedReturn: 0.12344, Volatility: 0.2, Sharpe: 1.5})
	want := "12.34% Ann. Return (Vol: 20%, Sharpe: 1.5)"
	if got != want {
		t.Errorf("ProjectedReturn = %q, want %q", got, want)
	}
}

func TestEngine_AllocateAllRisks(t *testing.T) {
	t.Parallel()

	e := testEngine()
	prices := syntheticPrices(t)

	for risk := MinRisk; risk <= MaxRisk; risk++ {
		out, err := e.Allocate(context.Background(), prices, risk)
		if err != nil {
			t.Fatalf("risk %d: Allocate: %v", risk, err)
		}

		if s := sum(out.Items); math.Abs(s-100) > 0.1 {
			t.Errorf("risk %d: sum = %v, want 100 ± 0.1", risk, s)
		}

		wantStrategy := optimize.MaxSharpe
		if risk <= 3 {
			wantStrategy = optimize.MinVolatility
		}
		if out.Strategy != wantStrategy {
			t.Errorf("risk %d: strategy = %q, want %q", risk, out.Strategy, wantStrategy)
		}

		pct := percentages(out.Items)
		if risk >= CryptoFloorMinRisk && pct[universe.Crypto] <= 0 {
			t.Errorf("risk %d: expected crypto exposure", risk)
		}

		_, hasPrediction := pct[universe.Prediction]
		if hasPrediction != (risk >= OverlayMinRisk) || out.Overlay != (risk >= OverlayMinRisk) {
			t.Errorf("risk %d: overlay present = %v, want %v", risk, hasPrediction, risk >= OverlayMinRisk)
		}

		for _, it := range out.Items {
			if it.Percentage <= 0 {
				t.Errorf("risk %d: %s = %v, want > 0", risk, it.AssetClass, it.Percentage)
			}
		}
	}
}

func TestEngine_AllocateOrder(t *testing.T) {
	t.Parallel()

	out, err := testEngine().Allocate(context.Background(), syntheticPrices(t), 10)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	rank := map[universe.AssetClass]int{
		universe.Stock: 0, universe.Crypto: 1, universe.Commodity: 2, universe.MutualFund: 3,
		universe.Prediction: 4, universe.Sports: 5, universe.Lottery: 6,
	}
	for i := 1; i < len(out.Items); i++ {
		if rank[out.Items[i-1].AssetClass] >= rank[out.Items[i].AssetClass] {
			t.Errorf("order: %s before %s", out.Items[i-1].AssetClass, out.Items[i].AssetClass)
		}
	}
	n := len(out.Items)
	if n < 3 || out.Items[n-1].AssetClass != universe.Lottery {
		t.Errorf("expected overlay classes last, got %v", out.Items)
	}
}

func TestEngine_Deterministic(t *testing.T) {
	t.Parallel()

	e := testEngine()
	prices := syntheticPrices(t)

	a, err := e.Allocate(context.Background(), prices, 9)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	b, err := e.Allocate(context.Background(), prices, 9)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("outcomes differ (-a +b):\n%s", diff)
	}
}

func TestEngine_InsufficientObservations(t *testing.T) {
	t.Parallel()

	p := &marketdata.Prices{Tickers: []string{"SPY"}, Closes: map[string][]float64{"SPY": {}}}
	for i := range 10 {
		p.Dates = append(p.Dates, time.Date(2025, 1, 1+i, 0, 0, 0, 0, time.UTC))
		p.Closes["SPY"] = append(p.Closes["SPY"], 100+float64(i))
	}

	_, err := testEngine().Allocate(context.Background(), p, 5)
	if !errors.Is(err, optimize.ErrInsufficientData) {
		t.Fatalf("error = %v, want ErrInsufficientData", err)
	}
}

func TestFormatPercent(t *testing.T) {
	t.Parallel()

	tests := map[float64]string{10: "10", 12.5: "12.5", 0.01: "0.01", 33.33: "33.33"}
	for in, want := range tests {
		if got := FormatPercent(in); got != want {
			t.Errorf("FormatPercent(%v) = %q, want %q", in, got, want)
		}
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }
