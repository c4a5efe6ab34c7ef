package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

const chartOK = `{"chart":{"result":[{
	"timestamp":[1741003200,1741089600,1741176000],
	"indicators":{
		"quote":[{"close":[10,11,12]}],
		"adjclose":[{"adjclose":[9.5,null,11.5]}]
	}}],"error":null}}`

const chartCloseOnly = `{"chart":{"result":[{
	"timestamp":[1741003200,1741089600,1741176000],
	"indicators":{"quote":[{"close":[10,11,12]}]}}],"error":null}}`

const chartNotFound = `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`

func newTestYahoo(t *testing.T, handler http.HandlerFunc) *Yahoo {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	y := NewYahoo(srv.URL, log.Nop(), nil)
	y.now = func() time.Time { return time.Date(2025, 3, 6, 0, 0, 0, 0, time.UTC) }
	return y
}

func TestYahoo_History_PrefersAdjClose(t *testing.T) {
	t.Parallel()

	y := newTestYahoo(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v8/finance/chart/") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("interval") != "1d" {
			t.Errorf("interval = %q, want 1d", r.URL.Query().Get("interval"))
		}
		if r.Header.Get("User-Agent") == "" {
			t.Error("expected a User-Agent header")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, chartOK)
	})

	p, err := y.History(context.Background(), []string{"SPY"}, 365)
	if err != nil {
		t.Fatalf("History: %v", err)
	}

	// null adjclose point is skipped
	got := p.Column("SPY")
	if len(got) != 2 || got[0] != 9.5 || got[1] != 11.5 {
		t.Errorf("closes = %v, want [9.5 11.5]", got)
	}
	if p.Source != "yahoo" {
		t.Errorf("Source = %q, want yahoo", p.Source)
	}
}

func TestYahoo_History_FallsBackToClose(t *testing.T) {
	t.Parallel()

	y := newTestYahoo(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, chartCloseOnly)
	})

	p, err := y.History(context.Background(), []string{"GLD"}, 30)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if got := p.Column("GLD"); len(got) != 3 || got[2] != 12 {
		t.Errorf("closes = %v, want [10 11 12]", got)
	}
}

func TestYahoo_History_DropsFailingTickers(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var hooked []string

	y := newTestYahoo(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/SPY"):
			_, _ = fmt.Fprint(w, chartOK)
		case strings.HasSuffix(r.URL.Path, "/GONE"):
			w.WriteHeader(http.StatusNotFound)
			_, _ = fmt.Fprint(w, chartNotFound)
		default:
			w.WriteHeader(http.StatusTooManyRequests)
		}
	})
	y.onFetch = func(_, ticker string, _ float64, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			hooked = append(hooked, ticker)
		}
	}

	p, err := y.History(context.Background(), []string{"SPY", "GONE", "RATE"}, 365)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(p.Tickers) != 1 || p.Tickers[0] != "SPY" {
		t.Errorf("Tickers = %v, want [SPY]", p.Tickers)
	}
	if len(hooked) != 2 {
		t.Errorf("fetch hook saw %d failures, want 2", len(hooked))
	}
}

func TestYahoo_History_AllFail(t *testing.T) {
	t.Parallel()

	y := newTestYahoo(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, chartNotFound)
	})

	_, err := y.History(context.Background(), []string{"A", "B"}, 365)
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("error = %v, want ErrNoData", err)
	}
}

func TestYahoo_History_CanceledContext(t *testing.T) {
	t.Parallel()

	y := newTestYahoo(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, chartOK)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := y.History(ctx, []string{"SPY"}, 365)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestYahoo_Fetch_MalformedJSON(t *testing.T) {
	t.Parallel()

	y := newTestYahoo(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{not json`)
	})

	_, err := y.fetch(context.Background(), "SPY", time.Unix(0, 0), time.Unix(100, 0))
	if err == nil || !strings.Contains(err.Error(), "decode chart") {
		t.Fatalf("error = %v, want decode chart error", err)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate short = %q", got)
	}
	if got := truncate(strings.Repeat("x", 20), 10); len(got) != 10 || !strings.HasSuffix(got, "...") {
		t.Errorf("truncate long = %q", got)
	}
}
