package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/domain"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/pkg/config"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLite(context.Background(), filepath.Join(t.TempDir(), "runs.db"), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{"memory": NewMemory(), "sqlite": sqlite}
}

func sampleRun(id string, created time.Time) *Run {
	return &Run{
		ID:        id,
		Namespace: "acme",
		SpaceName: "demo",
		RepoURL:   "https://github.com/acme/demo",
		Status:    domain.StatusPending,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestRunLifecycle(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Second)
			run := sampleRun("run-1", now)
			require.NoError(t, s.CreateRun(ctx, run))

			run.Status = domain.StatusRunning
			run.Hardware = "t4-small"
			run.HardwareKind = string(domain.HardwareInferredGPU)
			run.Provenance = "synthesized"
			run.UpdatedAt = now.Add(time.Minute)
			require.NoError(t, s.UpdateRun(ctx, run))

			require.NoError(t, s.AppendAttempt(ctx, run.ID, domain.AttemptRecord{
				Ordinal:       1,
				Failure:       "RUNTIME_ERROR\nImportError: libGL.so.1",
				RepairApplied: true,
				Recipes:       []string{"apt_opencv_gl"},
				StartedAt:     now,
				EndedAt:       now.Add(30 * time.Second),
			}))
			require.NoError(t, s.AppendAttempt(ctx, run.ID, domain.AttemptRecord{
				Ordinal:   2,
				StartedAt: now.Add(30 * time.Second),
				EndedAt:   now.Add(time.Minute),
			}))

			got, err := s.GetRun(ctx, run.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusRunning, got.Status)
			assert.Equal(t, "t4-small", got.Hardware)
			assert.Equal(t, "synthesized", got.Provenance)
			assert.True(t, got.CreatedAt.Equal(now), "created_at %v", got.CreatedAt)
			require.Len(t, got.Attempts, 2)
			assert.Equal(t, []string{"apt_opencv_gl"}, got.Attempts[0].Recipes)
			assert.True(t, got.Attempts[0].RepairApplied)
			assert.False(t, got.Attempts[0].Succeeded())
			assert.Nil(t, got.Attempts[1].Recipes)
			assert.True(t, got.Attempts[1].Succeeded())
		})
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().UTC().Truncate(time.Second)
			for i, id := range []string{"a", "b", "c"} {
				require.NoError(t, s.CreateRun(ctx, sampleRun(id, base.Add(time.Duration(i)*time.Minute))))
			}
			runs, err := s.ListRuns(ctx, 2)
			require.NoError(t, err)
			require.Len(t, runs, 2)
			assert.Equal(t, "c", runs[0].ID)
			assert.Equal(t, "b", runs[1].ID)
		})
	}
}

func TestMissingRun(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.GetRun(ctx, "nope")
			assert.ErrorIs(t, err, ErrNotFound)
			err = s.UpdateRun(ctx, sampleRun("nope", time.Now()))
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, config.StoreConfig{Driver: "memory"}, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = Open(ctx, config.StoreConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "nested", "o.db")}, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, config.StoreConfig{Driver: "mongo"}, quietLogger())
	assert.Error(t, err)
}

func TestSQLiteMigrationsAreRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	first, err := NewSQLite(context.Background(), path, quietLogger())
	require.NoError(t, err)
	require.NoError(t, first.Close())
	second, err := NewSQLite(context.Background(), path, quietLogger())
	require.NoError(t, err)
	require.NoError(t, second.Close())
}
