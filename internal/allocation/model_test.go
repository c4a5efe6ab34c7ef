package allocation

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/linnemanlabs/allocator/internal/optimize"
	"github.com/linnemanlabs/allocator/internal/universe"
)

func TestRequest_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{"minimum risk", Request{Capital: 1, RiskTolerance: 1}, false},
		{"maximum risk", Request{Capital: 1e9, RiskTolerance: 10}, false},
		{"fractional capital", Request{Capital: 0.01, RiskTolerance: 5}, false},
		{"risk below range", Request{Capital: 100, RiskTolerance: 0}, true},
		{"risk above range", Request{Capital: 100, RiskTolerance: 11}, true},
		{"zero capital", Request{Capital: 0, RiskTolerance: 5}, true},
		{"both invalid", Request{Capital: -1, RiskTolerance: 42}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("error %v does not wrap ErrInvalidRequest", err)
			}
		})
	}
}

func TestRequest_ValidateReportsAllProblems(t *testing.T) {
	t.Parallel()

	err := (&Request{Capital: -1, RiskTolerance: 42}).Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"capital", "risk_tolerance"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestRequest_DecodeIgnoresMarketData(t *testing.T) {
	t.Parallel()

	body := `{"capital": 5000, "risk_tolerance": 7, "market_data": [{"symbol": "AAPL", "type": "Stock"}]}`
	var req Request
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if req.Capital != 5000 || req.RiskTolerance != 7 {
		t.Errorf("decoded %+v", req)
	}
	if len(req.MarketData) != 1 || req.MarketData[0].Symbol != "AAPL" {
		t.Errorf("MarketData = %+v", req.MarketData)
	}
}

func TestRun_FillAmounts(t *testing.T) {
	t.Parallel()

	r := &Run{
		Capital: decimal.RequireFromString("1234.56"),
		Allocation: []Item{
			{AssetClass: universe.Stock, Percentage: 33.33},
			{AssetClass: universe.Cash, Percentage: 66.67},
		},
	}
	r.fillAmounts()

	if want := decimal.RequireFromString("411.48"); !r.Allocation[0].Amount.Equal(want) {
		t.Errorf("Stock amount = %s, want %s", r.Allocation[0].Amount, want)
	}
	if want := decimal.RequireFromString("823.08"); !r.Allocation[1].Amount.Equal(want) {
		t.Errorf("Cash amount = %s, want %s", r.Allocation[1].Amount, want)
	}
}

func TestRun_Clone(t *testing.T) {
	t.Parallel()

	r := &Run{
		ID:          "a-1",
		Allocation:  []Item{{AssetClass: universe.Stock, RecommendedAssets: []string{"SPY"}}},
		Performance: &optimize.Performance{Sharpe: 1.2},
	}
	cp := r.Clone()
	cp.Allocation[0].RecommendedAssets[0] = "QQQ"
	cp.Performance.Sharpe = 9

	if r.Allocation[0].RecommendedAssets[0] != "SPY" {
		t.Error("Clone shares RecommendedAssets with the original")
	}
	if r.Performance.Sharpe != 1.2 {
		t.Error("Clone shares Performance with the original")
	}
}

func TestRun_JSONKeys(t *testing.T) {
	t.Parallel()

	r := &Run{
		ID:                   "a-1",
		Allocation:           []Item{{AssetClass: universe.Stock, Percentage: 60, RecommendedAssets: []string{"SPY"}}},
		TotalProjectedReturn: "10% (Est)",
		RiskScore:            5,
		AgentSummary:         FallbackSummary,
		Source:               SourceFallback,
	}
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, k := range []string{"allocation", "totalProjectedReturn", "riskScore", "agentSummary", "id", "source", "createdAt"} {
		if _, ok := m[k]; !ok {
			t.Errorf("missing key %q in %s", k, b)
		}
	}
	item := m["allocation"].([]any)[0].(map[string]any)
	for _, k := range []string{"assetClass", "percentage", "amount", "reasoning", "recommendedAssets"} {
		if _, ok := item[k]; !ok {
			t.Errorf("missing item key %q in %s", k, b)
		}
	}
}
