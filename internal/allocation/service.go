package allocation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/allocator/internal/marketdata"
	"github.com/linnemanlabs/allocator/internal/optimize"
)

var tracer = otel.Tracer("github.com/linnemanlabs/allocator/internal/allocation")

// Fallback reasons reported on runs and metrics.
const (
	ReasonMarketData       = "market_data"
	ReasonInsufficientData = "insufficient_data"
	ReasonOptimizer        = "optimizer"
)

// Notifier delivers completed runs to an external channel.
type Notifier interface {
	Send(ctx context.Context, run *Run) error
}

// Service is the business boundary for allocation operations.
type Service struct {
	store    Store
	engine   *Engine
	source   marketdata.Source
	narrator Narrator
	logger   log.Logger
	hooks    Hooks
	notifier Notifier
	now      func() time.Time
}

// NewService creates a new allocation service. narrator and notifier may be
// nil; a nil narrator uses the built-in template.
func NewService(store Store, engine *Engine, source marketdata.Source, narrator Narrator, logger log.Logger, hooks Hooks, notifier Notifier) *Service {
	if store == nil || engine == nil || source == nil {
		panic(xerrors.New("allocation.NewService: store, engine and source are required"))
	}
	if narrator == nil {
		narrator = Template{}
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:    store,
		engine:   engine,
		source:   source,
		narrator: narrator,
		logger:   logger,
		hooks:    hooks,
		notifier: notifier,
		now:      time.Now,
	}
}

// Allocate computes, stores and returns an allocation for the request.
// Invalid requests return ErrInvalidRequest. Market data and optimizer
// failures never surface as errors; they produce a fallback run.
func (s *Service) Allocate(ctx context.Context, req *Request) (*Run, error) {
	ctx, span := tracer.Start(ctx, "allocation.Allocate", trace.WithAttributes(
		attribute.Int("allocation.risk", req.RiskTolerance),
	))
	defer span.End()

	if err := req.Validate(); err != nil {
		if s.hooks.OnReject != nil {
			s.hooks.OnReject()
		}
		span.SetStatus(codes.Error, "invalid request")
		return nil, err
	}

	start := s.now()
	run := &Run{
		ID:        ulid.Make().String(),
		Capital:   decimal.NewFromFloat(req.Capital),
		RiskScore: req.RiskTolerance,
		CreatedAt: start.UTC(),
	}
	L := s.logger.With("allocation_id", run.ID, "risk", run.RiskScore)

	out, dataSource, reason, err := s.compute(ctx, req.RiskTolerance)
	if ctxErr := ctx.Err(); ctxErr != nil {
		span.RecordError(ctxErr)
		span.SetStatus(codes.Error, ctxErr.Error())
		return nil, ctxErr
	}
	run.DataSource = dataSource

	if err != nil {
		L.Warn(ctx, "optimization unavailable, using fallback model", "reason", reason, "error", err.Error())
		span.AddEvent("fallback", trace.WithAttributes(attribute.String("allocation.fallback_reason", reason)))
		if s.hooks.OnFallback != nil {
			s.hooks.OnFallback(reason)
		}
		run.Source = SourceFallback
		run.FallbackReason = reason
		run.Allocation = Fallback(req.RiskTolerance)
		run.TotalProjectedReturn = FallbackProjectedReturn
		run.AgentSummary = FallbackSummary
	} else {
		perf := out.Performance
		run.Source = SourceOptimized
		run.Strategy = out.Strategy
		run.Performance = &perf
		run.Allocation = out.Items
		run.TotalProjectedReturn = out.TotalProjectedReturn
	}
	run.fillAmounts()
	if run.Source == SourceOptimized {
		run.AgentSummary, run.Narrator = s.summarize(ctx, run)
	}
	run.Duration = s.now().Sub(start).Seconds()

	span.SetAttributes(
		attribute.String("allocation.id", run.ID),
		attribute.String("allocation.source", string(run.Source)),
		attribute.String("allocation.strategy", string(run.Strategy)),
	)

	err = s.store.Put(ctx, run)
	if s.hooks.OnPersist != nil {
		s.hooks.OnPersist(err)
	}
	if err != nil {
		// the computed allocation is still useful to the caller
		L.Error(ctx, err, "failed to persist allocation run")
		span.RecordError(err)
	}

	if s.hooks.OnComplete != nil {
		s.hooks.OnComplete(&CompleteEvent{
			Source:   run.Source,
			Strategy: string(run.Strategy),
			Risk:     run.RiskScore,
			Overlay:  out != nil && out.Overlay,
			Duration: run.Duration,
		})
	}

	if s.notifier != nil {
		// pass a copy so the caller may keep using run
		go s.notify(context.WithoutCancel(ctx), run.Clone())
	}

	L.Info(ctx, "allocation complete",
		"source", run.Source,
		"strategy", run.Strategy,
		"data_source", run.DataSource,
		"classes", len(run.Allocation),
		"duration", run.Duration,
	)
	return run, nil
}

// compute fetches history and runs the engine. On failure it returns the
// fallback reason.
func (s *Service) compute(ctx context.Context, risk int) (out *Outcome, dataSource, reason string, err error) {
	prices, err := s.source.History(ctx, s.engine.Tickers(), s.engine.LookbackDays())
	if err != nil {
		return nil, s.source.Name(), ReasonMarketData, fmt.Errorf("fetch market data: %w", err)
	}
	dataSource = prices.Source
	if dataSource == "" {
		dataSource = s.source.Name()
	}

	out, err = s.engine.Allocate(ctx, prices, risk)
	if err != nil {
		if errors.Is(err, optimize.ErrInsufficientData) {
			return nil, dataSource, ReasonInsufficientData, err
		}
		return nil, dataSource, ReasonOptimizer, err
	}
	return out, dataSource, "", nil
}

// summarize asks the narrator for a summary and falls back to the template
// on error or empty output.
func (s *Service) summarize(ctx context.Context, run *Run) (summary, narrator string) {
	name := s.narrator.Name()
	start := time.Now()
	text, err := s.narrator.Summarize(ctx, run)
	text = strings.TrimSpace(text)

	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
		s.logger.Warn(ctx, "narrator failed, using template summary", "narrator", name, "error", err.Error())
	case text == "":
		outcome = "empty"
	}
	if s.hooks.OnNarrative != nil {
		s.hooks.OnNarrative(name, outcome, time.Since(start).Seconds())
	}
	if outcome != "success" {
		return TemplateSummary(run), Template{}.Name()
	}
	return text, name
}

func (s *Service) notify(ctx context.Context, run *Run) {
	if err := s.notifier.Send(ctx, run); err != nil {
		s.logger.Error(ctx, err, "failed to send allocation notification", "allocation_id", run.ID)
	}
}

// Get retrieves an allocation run by ID.
func (s *Service) Get(ctx context.Context, id string) (*Run, bool, error) {
	return s.store.Get(ctx, id)
}

// List returns the most recent runs. limit is clamped to 1..MaxListLimit,
// zero meaning DefaultListLimit.
func (s *Service) List(ctx context.Context, limit int) ([]*Run, error) {
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	return s.store.List(ctx, limit)
}
