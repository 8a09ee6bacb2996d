package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/domain"
)

// Postgres stores runs in PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects to dsn and applies migrations.
func NewPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("empty database dsn")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := withDB(dsn, func(db *sql.DB) error {
		return migrate(ctx, db, "postgres", "migrations/postgres", logger)
	}); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases pooled connections.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// CreateRun inserts a run.
func (p *Postgres) CreateRun(ctx context.Context, run *Run) error {
	const query = `INSERT INTO runs (id, namespace, space_name, repo_url, hardware, hardware_kind, provenance, status, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := p.pool.Exec(ctx, query, run.ID, run.Namespace, run.SpaceName, run.RepoURL, run.Hardware, run.HardwareKind,
		run.Provenance, string(run.Status), run.Error, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateRun rewrites the mutable columns of a run.
func (p *Postgres) UpdateRun(ctx context.Context, run *Run) error {
	const query = `UPDATE runs SET hardware = $1, hardware_kind = $2, provenance = $3, status = $4, error = $5, updated_at = $6
		WHERE id = $7`
	tag, err := p.pool.Exec(ctx, query, run.Hardware, run.HardwareKind, run.Provenance, string(run.Status), run.Error,
		run.UpdatedAt, run.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendAttempt records one attempt for runID.
func (p *Postgres) AppendAttempt(ctx context.Context, runID string, a domain.AttemptRecord) error {
	const query = `INSERT INTO run_attempts (run_id, ordinal, failure, repair_applied, recipes, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	recipes := a.Recipes
	if recipes == nil {
		recipes = []string{}
	}
	if _, err := p.pool.Exec(ctx, query, runID, a.Ordinal, a.Failure, a.RepairApplied, recipes, a.StartedAt, a.EndedAt); err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// GetRun fetches a run with its attempts.
func (p *Postgres) GetRun(ctx context.Context, id string) (*Run, error) {
	const query = `SELECT id, namespace, space_name, repo_url, hardware, hardware_kind, provenance, status, error, created_at, updated_at
		FROM runs WHERE id = $1`
	run, err := scanRun(p.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query run: %w", err)
	}

	rows, err := p.pool.Query(ctx, `SELECT ordinal, failure, repair_applied, recipes, started_at, ended_at
		FROM run_attempts WHERE run_id = $1 ORDER BY ordinal`, id)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a domain.AttemptRecord
		if err := rows.Scan(&a.Ordinal, &a.Failure, &a.RepairApplied, &a.Recipes, &a.StartedAt, &a.EndedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		if len(a.Recipes) == 0 {
			a.Recipes = nil
		}
		run.Attempts = append(run.Attempts, a)
	}
	return run, rows.Err()
}

// ListRuns returns the most recent runs first.
func (p *Postgres) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, namespace, space_name, repo_url, hardware, hardware_kind, provenance, status, error, created_at, updated_at
		FROM runs ORDER BY created_at DESC LIMIT $1`
	rows, err := p.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func withDB(dsn string, fn func(*sql.DB) error) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open sql connection: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping sql connection: %w", err)
	}
	return fn(db)
}
