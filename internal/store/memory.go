package store

import (
	"context"
	"sort"
	"sync"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/domain"
)

// Memory keeps runs in process memory.
type Memory struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{runs: make(map[string]*Run)}
}

func (m *Memory) CreateRun(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	cp.Attempts = nil
	m.runs[run.ID] = &cp
	return nil
}

func (m *Memory) UpdateRun(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.runs[run.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Hardware = run.Hardware
	existing.HardwareKind = run.HardwareKind
	existing.Provenance = run.Provenance
	existing.Status = run.Status
	existing.Error = run.Error
	existing.UpdatedAt = run.UpdatedAt
	return nil
}

func (m *Memory) AppendAttempt(_ context.Context, runID string, a domain.AttemptRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.runs[runID]
	if !ok {
		return ErrNotFound
	}
	a.Recipes = append([]string(nil), a.Recipes...)
	existing.Attempts = append(existing.Attempts, a)
	return nil
}

func (m *Memory) GetRun(_ context.Context, id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	existing, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *existing
	cp.Attempts = append([]domain.AttemptRecord(nil), existing.Attempts...)
	return &cp, nil
}

func (m *Memory) ListRuns(_ context.Context, limit int) ([]Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	runs := make([]Run, 0, len(m.runs))
	for _, r := range m.runs {
		cp := *r
		cp.Attempts = nil
		runs = append(runs, cp)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (m *Memory) Close() error { return nil }
