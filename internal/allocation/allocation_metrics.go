package allocation

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/allocator/internal/marketdata"
)

// Hooks receives lifecycle events from the Service. Nil fields are skipped.
type Hooks struct {
	OnComplete  func(e *CompleteEvent)
	OnFallback  func(reason string)
	OnReject    func()
	OnNarrative func(narrator, outcome string, duration float64)
	OnPersist   func(err error)
}

// CompleteEvent describes a finished allocation.
type CompleteEvent struct {
	Source   Source
	Strategy string
	Risk     int
	Overlay  bool
	Duration float64
}

// Metrics holds Prometheus metrics for the allocation subsystem.
type Metrics struct {
	AllocationsTotal   *prometheus.CounterVec
	AllocationDuration *prometheus.HistogramVec
	RiskScore          prometheus.Histogram
	FallbacksTotal     *prometheus.CounterVec
	OverlaysTotal      prometheus.Counter
	RejectsTotal       prometheus.Counter
	NarrativesTotal    *prometheus.CounterVec
	NarrativeDuration  *prometheus.HistogramVec
	PersistErrors      prometheus.Counter
	FetchesTotal       *prometheus.CounterVec
	FetchDuration      *prometheus.HistogramVec
}

// NewMetrics registers and returns allocation metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AllocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "allocator_allocations_total",
			Help: "Total allocation runs by source and strategy.",
		}, []string{"source", "strategy"}),
		AllocationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "allocator_allocation_duration_seconds",
			Help:    "Duration of allocation runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms .. ~10s
		}, []string{"source"}),
		RiskScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "allocator_risk_score",
			Help:    "Requested risk tolerance per allocation.",
			Buckets: prometheus.LinearBuckets(1, 1, 10), // 1 .. 10
		}),
		FallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "allocator_fallbacks_total",
			Help: "Allocations served from the heuristic table, by reason.",
		}, []string{"reason"}),
		OverlaysTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "allocator_speculative_overlays_total",
			Help: "Optimized allocations that received the speculative overlay.",
		}),
		RejectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "allocator_rejected_requests_total",
			Help: "Allocation requests rejected by validation.",
		}),
		NarrativesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "allocator_narratives_total",
			Help: "Summary generation attempts by narrator and outcome.",
		}, []string{"narrator", "outcome"}),
		NarrativeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "allocator_narrative_duration_seconds",
			Help:    "Duration of summary generation in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms .. ~16s
		}, []string{"narrator"}),
		PersistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "allocator_persist_errors_total",
			Help: "Allocation runs that could not be stored.",
		}),
		FetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "allocator_market_data_fetches_total",
			Help: "Per-ticker market data fetches by source and status.",
		}, []string{"source", "status"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "allocator_market_data_fetch_duration_seconds",
			Help:    "Duration of per-ticker market data fetches in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 8), // 50ms .. ~6.4s
		}, []string{"source"}),
	}

	reg.MustRegister(
		m.AllocationsTotal,
		m.AllocationDuration,
		m.RiskScore,
		m.FallbacksTotal,
		m.OverlaysTotal,
		m.RejectsTotal,
		m.NarrativesTotal,
		m.NarrativeDuration,
		m.PersistErrors,
		m.FetchesTotal,
		m.FetchDuration,
	)

	return m
}

// Hooks returns Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnComplete: func(e *CompleteEvent) {
			strategy := e.Strategy
			if strategy == "" {
				strategy = "none"
			}
			m.AllocationsTotal.WithLabelValues(string(e.Source), strategy).Inc()
			m.AllocationDuration.WithLabelValues(string(e.Source)).Observe(e.Duration)
			m.RiskScore.Observe(float64(e.Risk))
			if e.Overlay {
				m.OverlaysTotal.Inc()
			}
		},
		OnFallback: func(reason string) {
			m.FallbacksTotal.WithLabelValues(reason).Inc()
		},
		OnReject: func() {
			m.RejectsTotal.Inc()
		},
		OnNarrative: func(narrator, outcome string, duration float64) {
			m.NarrativesTotal.WithLabelValues(narrator, outcome).Inc()
			m.NarrativeDuration.WithLabelValues(narrator).Observe(duration)
		},
		OnPersist: func(err error) {
			if err != nil {
				m.PersistErrors.Inc()
			}
		},
	}
}

// FetchHook returns a marketdata.FetchHook that records per-ticker fetches.
func (m *Metrics) FetchHook() marketdata.FetchHook {
	return func(source, _ string, duration float64, err error) {
		status := "success"
		if err != nil {
			status = "error"
		}
		m.FetchesTotal.WithLabelValues(source, status).Inc()
		m.FetchDuration.WithLabelValues(source).Observe(duration)
	}
}
