// Package pgstore provides a PostgreSQL implementation of allocation.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/linnemanlabs/allocator/internal/allocation"
	"github.com/linnemanlabs/allocator/internal/optimize"
)

var tracer = otel.Tracer("github.com/linnemanlabs/allocator/internal/allocation/pgstore")

//go:embed schema.sql
var schema string

var _ allocation.Store = (*Store)(nil)

// Store persists allocation runs in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller owns
// the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const runColumns = `id, capital::text, risk_score, source, strategy, data_source, fallback_reason,
	narrator, total_projected_return, agent_summary, performance, allocation, created_at, duration_s`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Get retrieves an allocation run by ID.
func (s *Store) Get(ctx context.Context, id string) (*allocation.Run, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	query := `SELECT ` + runColumns + ` FROM allocation_runs WHERE id = $1`
	r, err := scanRun(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, false, fail(span, err)
	}
	if r == nil {
		return nil, false, nil
	}
	return r, true, nil
}

// Put inserts or updates an allocation run.
func (s *Store) Put(ctx context.Context, r *allocation.Run) error {
	ctx, span := startSpan(ctx, "pgstore.Put", "UPSERT")
	defer span.End()

	allocJSON, err := json.Marshal(r.Allocation)
	if err != nil {
		return fail(span, fmt.Errorf("marshal allocation: %w", err))
	}
	var perfJSON []byte
	if r.Performance != nil {
		if perfJSON, err = json.Marshal(r.Performance); err != nil {
			return fail(span, fmt.Errorf("marshal performance: %w", err))
		}
	}

	query := `INSERT INTO allocation_runs (
		id, capital, risk_score, source, strategy, data_source, fallback_reason,
		narrator, total_projected_return, agent_summary, performance, allocation, created_at, duration_s
	) VALUES ($1, $2::text::numeric, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (id) DO UPDATE SET
		capital                = EXCLUDED.capital,
		risk_score             = EXCLUDED.risk_score,
		source                 = EXCLUDED.source,
		strategy               = EXCLUDED.strategy,
		data_source            = EXCLUDED.data_source,
		fallback_reason        = EXCLUDED.fallback_reason,
		narrator               = EXCLUDED.narrator,
		total_projected_return = EXCLUDED.total_projected_return,
		agent_summary          = EXCLUDED.agent_summary,
		performance            = EXCLUDED.performance,
		allocation             = EXCLUDED.allocation,
		duration_s             = EXCLUDED.duration_s`

	_, err = s.pool.Exec(ctx, query,
		r.ID, r.Capital.String(), r.RiskScore, string(r.Source), string(r.Strategy), r.DataSource,
		r.FallbackReason, r.Narrator, r.TotalProjectedReturn, r.AgentSummary, perfJSON, allocJSON,
		r.CreatedAt, r.Duration,
	)
	if err != nil {
		return fail(span, fmt.Errorf("upsert allocation run: %w", err))
	}
	return nil
}

// List returns up to limit runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*allocation.Run, error) {
	ctx, span := startSpan(ctx, "pgstore.List", "SELECT")
	defer span.End()

	query := `SELECT ` + runColumns + ` FROM allocation_runs ORDER BY created_at DESC, id DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query runs: %w", err))
	}
	defer rows.Close()

	var out []*allocation.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fail(span, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate runs: %w", err))
	}
	span.SetAttributes(attribute.Int("db.rows", len(out)))
	return out, nil
}

// scanRun scans a single row into an allocation.Run.
// Returns (nil, nil) when no row is found.
func scanRun(row pgx.Row) (*allocation.Run, error) {
	var (
		r         allocation.Run
		capital   string
		source    string
		strategy  string
		perfJSON  []byte
		allocJSON []byte
	)

	err := row.Scan(
		&r.ID, &capital, &r.RiskScore, &source, &strategy, &r.DataSource, &r.FallbackReason,
		&r.Narrator, &r.TotalProjectedReturn, &r.AgentSummary, &perfJSON, &allocJSON,
		&r.CreatedAt, &r.Duration,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	r.Source = allocation.Source(source)
	r.Strategy = optimize.Strategy(strategy)

	if r.Capital, err = decimal.NewFromString(capital); err != nil {
		return nil, fmt.Errorf("parse capital %q: %w", capital, err)
	}
	if len(perfJSON) > 0 {
		r.Performance = &optimize.Performance{}
		if err := json.Unmarshal(perfJSON, r.Performance); err != nil {
			return nil, fmt.Errorf("unmarshal performance: %w", err)
		}
	}
	if err := json.Unmarshal(allocJSON, &r.Allocation); err != nil {
		return nil, fmt.Errorf("unmarshal allocation: %w", err)
	}

	return &r, nil
}
