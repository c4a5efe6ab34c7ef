package allocation

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/allocator/internal/optimize"
)

// Narrator writes the agentSummary of an optimized run.
type Narrator interface {
	Name() string
	Summarize(ctx context.Context, run *Run) (string, error)
}

// Template is the built-in Narrator. It never fails.
type Template struct{}

// Name implements Narrator.
func (Template) Name() string { return "template" }

// Summarize implements Narrator.
func (Template) Summarize(_ context.Context, run *Run) (string, error) {
	return TemplateSummary(run), nil
}

// TemplateSummary describes how a run was produced.
func TemplateSummary(run *Run) string {
	if run.Source == SourceFallback || run.Performance == nil {
		return FallbackSummary
	}

	data := "live market data"
	if run.DataSource == "synthetic" {
		data = "simulated market data"
	}

	perf := run.Performance
	if run.Strategy == optimize.MinVolatility {
		return fmt.Sprintf("Mathematically optimized using Modern Portfolio Theory on %s. "+
			"Portfolio minimizes volatility (%s%%) given historical correlations.",
			data, FormatPercent(round2(perf.Volatility*100)))
	}
	return fmt.Sprintf("Mathematically optimized using Modern Portfolio Theory on %s. "+
		"Portfolio maximizes Sharpe Ratio (%s) given historical correlations.",
		data, FormatPercent(round2(perf.Sharpe)))
}
