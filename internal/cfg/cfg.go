package cfg

import (
	"errors"
	"flag"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"
)

// Market data sources accepted by -market-data.
const (
	MarketDataYahoo     = "yahoo"
	MarketDataSynthetic = "synthetic"
)

// Config holds the application flags. It satisfies the common
// cfg.Registerable and cfg.Validatable interfaces.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string
	CORSOrigins           string

	DatabaseURL  string
	DBMaxConns   int
	SlowQuery    time.Duration
	SQLitePath   string
	UniverseFile string

	MarketData      string
	YahooEndpoint   string
	MarketDataTTL   time.Duration
	LookbackDays    int
	MinObservations int
	RiskFreeRate    float64

	ClaudeAPIKey     string
	ClaudeModel      string
	NarrativeTimeout time.Duration
	SlackWebhookURL  string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on allocation endpoints (empty = open)")
	fs.StringVar(&c.CORSOrigins, "cors-origins", "", "comma-separated list of allowed CORS origins (empty = CORS disabled)")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = sqlite-path or in-memory store)")
	fs.IntVar(&c.DBMaxConns, "db-max-conns", 10, "maximum PostgreSQL pool connections (1..1000)")
	fs.DurationVar(&c.SlowQuery, "db-slow-query", 200*time.Millisecond, "log PostgreSQL queries slower than this (0 = off)")
	fs.StringVar(&c.SQLitePath, "sqlite-path", "", "SQLite database file for allocation runs (empty = in-memory store)")
	fs.StringVar(&c.UniverseFile, "universe-file", "", "YAML asset universe file (empty = built-in universe)")

	fs.StringVar(&c.MarketData, "market-data", MarketDataYahoo, "market data source: yahoo or synthetic")
	fs.StringVar(&c.YahooEndpoint, "yahoo-endpoint", "", "Yahoo Finance chart API base URL (empty = public endpoint)")
	fs.DurationVar(&c.MarketDataTTL, "market-data-ttl", 15*time.Minute, "how long fetched price history is reused (0 = no caching)")
	fs.IntVar(&c.LookbackDays, "lookback-days", 365, "calendar days of price history used by the optimizer (30..3650)")
	fs.IntVar(&c.MinObservations, "min-observations", 30, "aligned trading days required before optimizing (>= 2)")
	fs.Float64Var(&c.RiskFreeRate, "risk-free-rate", 0.02, "annual risk-free rate used for Sharpe ratios (0..0.2)")

	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for Claude narratives (empty = template narrative)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-5", "Claude model used for narratives")
	fs.DurationVar(&c.NarrativeTimeout, "narrative-timeout", 20*time.Second, "time limit for a Claude narrative before the template is used")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// One persistent store at most
	if c.DatabaseURL != "" && c.SQLitePath != "" {
		errs = append(errs, errors.New("DATABASE_URL and SQLITE_PATH are mutually exclusive"))
	}
	if c.DBMaxConns <= 0 || c.DBMaxConns > 1000 {
		errs = append(errs, fmt.Errorf("invalid DB_MAX_CONNS %d (must be 1..1000)", c.DBMaxConns))
	}
	if c.SlowQuery < 0 {
		errs = append(errs, fmt.Errorf("invalid DB_SLOW_QUERY %s (must be >= 0)", c.SlowQuery))
	}

	switch c.MarketData {
	case MarketDataYahoo, MarketDataSynthetic:
	default:
		errs = append(errs, fmt.Errorf("invalid MARKET_DATA %q (must be %s or %s)", c.MarketData, MarketDataYahoo, MarketDataSynthetic))
	}
	if c.YahooEndpoint != "" {
		if u, err := url.Parse(c.YahooEndpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid YAHOO_ENDPOINT %q (must be an http(s) URL)", c.YahooEndpoint))
		}
	}
	if c.MarketDataTTL < 0 {
		errs = append(errs, fmt.Errorf("invalid MARKET_DATA_TTL %s (must be >= 0)", c.MarketDataTTL))
	}
	if c.LookbackDays < 30 || c.LookbackDays > 3650 {
		errs = append(errs, fmt.Errorf("invalid LOOKBACK_DAYS %d (must be 30..3650)", c.LookbackDays))
	}
	if c.MinObservations < 2 {
		errs = append(errs, fmt.Errorf("invalid MIN_OBSERVATIONS %d (must be >= 2)", c.MinObservations))
	}
	if math.IsNaN(c.RiskFreeRate) || c.RiskFreeRate < 0 || c.RiskFreeRate > 0.2 {
		errs = append(errs, fmt.Errorf("invalid RISK_FREE_RATE %v (must be 0..0.2)", c.RiskFreeRate))
	}

	// A key without a model cannot produce narratives
	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}
	if c.NarrativeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid NARRATIVE_TIMEOUT %s (must be > 0)", c.NarrativeTimeout))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// AllowedOrigins splits CORSOrigins into trimmed, non-empty origins.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for o := range strings.SplitSeq(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
