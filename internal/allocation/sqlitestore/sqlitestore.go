// Package sqlitestore provides a single-file SQLite implementation of
// allocation.Store for deployments without PostgreSQL.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	_ "modernc.org/sqlite"

	"github.com/linnemanlabs/allocator/internal/allocation"
	"github.com/linnemanlabs/allocator/internal/optimize"
)

var tracer = otel.Tracer("github.com/linnemanlabs/allocator/internal/allocation/sqlitestore")

const createRunsTable = `
CREATE TABLE IF NOT EXISTS allocation_runs (
    id                     TEXT PRIMARY KEY,
    capital                TEXT NOT NULL,
    risk_score             INTEGER NOT NULL,
    source                 TEXT NOT NULL,
    strategy               TEXT NOT NULL DEFAULT '',
    data_source            TEXT NOT NULL DEFAULT '',
    fallback_reason        TEXT NOT NULL DEFAULT '',
    narrator               TEXT NOT NULL DEFAULT '',
    total_projected_return TEXT NOT NULL,
    agent_summary          TEXT NOT NULL,
    performance            TEXT,
    allocation             TEXT NOT NULL,
    created_at_ns          INTEGER NOT NULL,
    duration_s             REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS allocation_runs_created_idx ON allocation_runs (created_at_ns DESC, id DESC);`

const runColumns = `id, capital, risk_score, source, strategy, data_source, fallback_reason,
	narrator, total_projected_return, agent_summary, performance, allocation, created_at_ns, duration_s`

var _ allocation.Store = (*Store)(nil)

// Store persists allocation runs in SQLite.
type Store struct {
	db *sql.DB
}

// New opens the SQLite database at path and creates the schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one writer; also keeps a ":memory:" database on a single connection
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout = 5000", createRunsTable} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init %q: %w", firstLine(stmt), err)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "sqlite"),
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
	ctx, span := startSpan(ctx, "sqlitestore.Get", "SELECT")
	defer span.End()

	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM allocation_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("get run: %w", err))
	}
	return r, true, nil
}

// Put inserts or replaces an allocation run.
func (s *Store) Put(ctx context.Context, r *allocation.Run) error {
	ctx, span := startSpan(ctx, "sqlitestore.Put", "UPSERT")
	defer span.End()

	allocJSON, err := json.Marshal(r.Allocation)
	if err != nil {
		return fail(span, fmt.Errorf("marshal allocation: %w", err))
	}
	var perf sql.NullString
	if r.Performance != nil {
		b, err := json.Marshal(r.Performance)
		if err != nil {
			return fail(span, fmt.Errorf("marshal performance: %w", err))
		}
		perf = sql.NullString{String: string(b), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO allocation_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Capital.String(), r.RiskScore, string(r.Source), string(r.Strategy), r.DataSource,
		r.FallbackReason, r.Narrator, r.TotalProjectedReturn, r.AgentSummary, perf, string(allocJSON),
		r.CreatedAt.UnixNano(), r.Duration,
	)
	if err != nil {
		return fail(span, fmt.Errorf("insert run: %w", err))
	}
	return nil
}

// List returns up to limit runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*allocation.Run, error) {
	ctx, span := startSpan(ctx, "sqlitestore.List", "SELECT")
	defer span.End()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM allocation_runs ORDER BY created_at_ns DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fail(span, fmt.Errorf("list runs: %w", err))
	}
	defer rows.Close()

	var out []*allocation.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fail(span, fmt.Errorf("scan run: %w", err))
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate runs: %w", err))
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*allocation.Run, error) {
	var (
		r         allocation.Run
		capital   string
		source    string
		strategy  string
		perf      sql.NullString
		allocJSON string
		createdNs int64
	)
	if err := row.Scan(
		&r.ID, &capital, &r.RiskScore, &source, &strategy, &r.DataSource, &r.FallbackReason,
		&r.Narrator, &r.TotalProjectedReturn, &r.AgentSummary, &perf, &allocJSON, &createdNs, &r.Duration,
	); err != nil {
		return nil, err
	}

	r.Source = allocation.Source(source)
	r.Strategy = optimize.Strategy(strategy)
	r.CreatedAt = time.Unix(0, createdNs).UTC()

	var err error
	if r.Capital, err = decimal.NewFromString(capital); err != nil {
		return nil, fmt.Errorf("parse capital %q: %w", capital, err)
	}
	if perf.Valid {
		r.Performance = &optimize.Performance{}
		if err := json.Unmarshal([]byte(perf.String), r.Performance); err != nil {
			return nil, fmt.Errorf("unmarshal performance: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(allocJSON), &r.Allocation); err != nil {
		return nil, fmt.Errorf("unmarshal allocation: %w", err)
	}
	return &r, nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
