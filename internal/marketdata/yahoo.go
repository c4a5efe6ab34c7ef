package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/log"
)

var tracer = otel.Tracer("github.com/linnemanlabs/allocator/internal/marketdata")

const (
	// DefaultYahooEndpoint is the public chart API host.
	DefaultYahooEndpoint = "https://query1.finance.yahoo.com"

	yahooUserAgent   = "Mozilla/5.0 (compatible; allocator/1.0)"
	maxFetchParallel = 4
	maxResponseBytes = 4 << 20
)

// FetchHook is called once per ticker fetch.
type FetchHook func(source, ticker string, duration float64, err error)

// Yahoo fetches daily history from the Yahoo Finance chart API.
type Yahoo struct {
	endpoint   string
	httpClient *http.Client
	logger     log.Logger
	onFetch    FetchHook
	now        func() time.Time
}

// NewYahoo creates a Yahoo source. An empty endpoint uses DefaultYahooEndpoint.
func NewYahoo(endpoint string, logger log.Logger, onFetch FetchHook) *Yahoo {
	if endpoint == "" {
		endpoint = DefaultYahooEndpoint
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Yahoo{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger:  logger,
		onFetch: onFetch,
		now:     time.Now,
	}
}

// Name implements Source.
func (y *Yahoo) Name() string { return "yahoo" }

// History fetches all tickers concurrently. Tickers that fail are dropped and
// logged; the call fails only when none succeed.
func (y *Yahoo) History(ctx context.Context, tickers []string, lookbackDays int) (*Prices, error) {
	ctx, span := tracer.Start(ctx, "marketdata.Yahoo.History", trace.WithAttributes(
		attribute.Int("marketdata.tickers", len(tickers)),
		attribute.Int("marketdata.lookback_days", lookbackDays),
	))
	defer span.End()

	end := y.now().UTC()
	start := end.AddDate(0, 0, -lookbackDays)

	series := make([]Series, len(tickers))
	errs := make([]error, len(tickers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxFetchParallel)
	for i, ticker := range tickers {
		g.Go(func() error {
			began := time.Now()
			s, err := y.fetch(gctx, ticker, start, end)
			if y.onFetch != nil {
				y.onFetch(y.Name(), ticker, time.Since(began).Seconds(), err)
			}
			if err != nil {
				errs[i] = err
				return nil
			}
			series[i] = s
			return nil
		})
	}
	_ = g.Wait() // fetch errors are collected per ticker

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var failed int
	for i, err := range errs {
		if err != nil {
			failed++
			y.logger.Warn(ctx, "dropping ticker, history fetch failed", "ticker", tickers[i], "error", err)
		}
	}
	span.SetAttributes(attribute.Int("marketdata.failed", failed))

	if failed == len(tickers) {
		err := fmt.Errorf("yahoo: all %d tickers failed: %w", failed, ErrNoData)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	p := Align(series)
	p.Source = y.Name()
	span.SetAttributes(attribute.Int("marketdata.observations", p.Len()))
	return p, nil
}

// chartResponse is the subset of the chart API payload we read.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (y *Yahoo) fetch(ctx context.Context, ticker string, start, end time.Time) (Series, error) {
	u, err := url.Parse(y.endpoint)
	if err != nil {
		return Series{}, fmt.Errorf("invalid endpoint: %w", err)
	}
	u.Path = "/v8/finance/chart/" + url.PathEscape(ticker)

	q := u.Query()
	q.Set("period1", strconv.FormatInt(start.Unix(), 10))
	q.Set("period2", strconv.FormatInt(end.Unix(), 10))
	q.Set("interval", "1d")
	q.Set("events", "div,splits")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return Series{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", yahooUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := y.httpClient.Do(req) //nolint:gosec // endpoint is from trusted config
	if err != nil {
		return Series{}, fmt.Errorf("chart request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Series{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Series{}, fmt.Errorf("yahoo returned %d: %s", resp.StatusCode, truncate(string(body), 256))
	}

	var cr chartResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return Series{}, fmt.Errorf("decode chart: %w", err)
	}
	if cr.Chart.Error != nil {
		return Series{}, fmt.Errorf("yahoo error %s: %s", cr.Chart.Error.Code, cr.Chart.Error.Description)
	}
	if len(cr.Chart.Result) == 0 {
		return Series{}, fmt.Errorf("yahoo: empty result for %s", ticker)
	}

	res := cr.Chart.Result[0]

	// adjusted close when present, raw close otherwise
	var closes []*float64
	if len(res.Indicators.AdjClose) > 0 && len(res.Indicators.AdjClose[0].AdjClose) == len(res.Timestamp) {
		closes = res.Indicators.AdjClose[0].AdjClose
	} else if len(res.Indicators.Quote) > 0 && len(res.Indicators.Quote[0].Close) == len(res.Timestamp) {
		closes = res.Indicators.Quote[0].Close
	} else {
		return Series{}, fmt.Errorf("yahoo: no price data for %s", ticker)
	}

	s := Series{Ticker: ticker, Points: make([]Point, 0, len(closes))}
	for i, ts := range res.Timestamp {
		c := closes[i]
		if c == nil || *c <= 0 {
			continue
		}
		s.Points = append(s.Points, Point{Date: time.Unix(ts, 0).UTC(), Close: *c})
	}
	if len(s.Points) == 0 {
		return Series{}, fmt.Errorf("yahoo: no usable closes for %s", ticker)
	}
	return s, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
