package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/domain"
)

// SQLite stores runs in a local database file.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens path in WAL mode and applies migrations.
func NewSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("empty sqlite path")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := migrate(ctx, db, "sqlite3", "migrations/sqlite", logger); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateRun inserts a run.
func (s *SQLite) CreateRun(ctx context.Context, run *Run) error {
	const query = `INSERT INTO runs (id, namespace, space_name, repo_url, hardware, hardware_kind, provenance, status, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, run.ID, run.Namespace, run.SpaceName, run.RepoURL, run.Hardware, run.HardwareKind,
		run.Provenance, string(run.Status), run.Error, run.CreatedAt.UTC(), run.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateRun rewrites the mutable columns of a run.
func (s *SQLite) UpdateRun(ctx context.Context, run *Run) error {
	const query = `UPDATE runs SET hardware = ?, hardware_kind = ?, provenance = ?, status = ?, error = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query, run.Hardware, run.HardwareKind, run.Provenance, string(run.Status), run.Error,
		run.UpdatedAt.UTC(), run.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendAttempt records one attempt for runID.
func (s *SQLite) AppendAttempt(ctx context.Context, runID string, a domain.AttemptRecord) error {
	const query = `INSERT INTO run_attempts (run_id, ordinal, failure, repair_applied, recipes, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, runID, a.Ordinal, a.Failure, a.RepairApplied, joinRecipes(a.Recipes),
		a.StartedAt.UTC(), a.EndedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// GetRun fetches a run with its attempts.
func (s *SQLite) GetRun(ctx context.Context, id string) (*Run, error) {
	const query = `SELECT id, namespace, space_name, repo_url, hardware, hardware_kind, provenance, status, error, created_at, updated_at
		FROM runs WHERE id = ?`
	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT ordinal, failure, repair_applied, recipes, started_at, ended_at
		FROM run_attempts WHERE run_id = ? ORDER BY ordinal`, id)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a domain.AttemptRecord
		var recipes string
		if err := rows.Scan(&a.Ordinal, &a.Failure, &a.RepairApplied, &recipes, &a.StartedAt, &a.EndedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Recipes = splitRecipes(recipes)
		run.Attempts = append(run.Attempts, a)
	}
	return run, rows.Err()
}

// ListRuns returns the most recent runs first.
func (s *SQLite) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, namespace, space_name, repo_url, hardware, hardware_kind, provenance, status, error, created_at, updated_at
		FROM runs ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var status string
	if err := row.Scan(&run.ID, &run.Namespace, &run.SpaceName, &run.RepoURL, &run.Hardware, &run.HardwareKind,
		&run.Provenance, &status, &run.Error, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return nil, err
	}
	run.Status = domain.Status(status)
	return &run, nil
}
