// Package store persists run history and per-attempt records.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/domain"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/pkg/config"
)

// ErrNotFound indicates a run was not located.
var ErrNotFound = errors.New("store: run not found")

// Run is the persisted view of one orchestration run.
type Run struct {
	ID           string                 `json:"id"`
	Namespace    string                 `json:"namespace"`
	SpaceName    string                 `json:"space_name"`
	RepoURL      string                 `json:"repo_url"`
	Hardware     string                 `json:"hardware,omitempty"`
	HardwareKind string                 `json:"hardware_kind,omitempty"`
	Provenance   string                 `json:"provenance,omitempty"`
	Status       domain.Status          `json:"status"`
	Error        string                 `json:"error,omitempty"`
	Attempts     []domain.AttemptRecord `json:"attempts,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// Store persists runs. ListRuns omits attempts; GetRun includes them.
type Store interface {
	CreateRun(ctx context.Context, run *Run) error
	UpdateRun(ctx context.Context, run *Run) error
	AppendAttempt(ctx context.Context, runID string, attempt domain.AttemptRecord) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	Close() error
}

// Open returns the backend selected by cfg.Driver and applies migrations.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return NewSQLite(ctx, cfg.DSN, logger)
	case "postgres":
		return NewPostgres(ctx, cfg.DSN, logger)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

func joinRecipes(recipes []string) string {
	return strings.Join(recipes, ",")
}

func splitRecipes(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return strings.Split(raw, ",")
}
