package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/dockerfile"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/domain"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/logstream"
)

// Result is the terminal outcome of a run.
type Result struct {
	RunID      string                  `json:"run_id"`
	Status     domain.Status           `json:"status"`
	Target     string                  `json:"target,omitempty"`
	Hardware   domain.HardwareDecision `json:"hardware"`
	Provenance dockerfile.Provenance   `json:"provenance,omitempty"`
	Attempts   []domain.AttemptRecord  `json:"attempts,omitempty"`
	Error      string                  `json:"error,omitempty"`
	Lines      []string                `json:"log"`
	Err        error                   `json:"-"`
}

// Run is a started orchestration. Its stream is readable while the run
// executes; Result becomes available once Done is closed.
type Run struct {
	ID        string
	Request   Request
	StartedAt time.Time

	stream *logstream.Stream
	done   chan struct{}

	mu     sync.Mutex
	result Result
}

// Stream returns the run's append-only log.
func (r *Run) Stream() *logstream.Stream {
	return r.stream
}

// Done is closed when the run reaches a terminal status.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Result returns the outcome and whether the run has finished.
func (r *Run) Result() (Result, bool) {
	select {
	case <-r.done:
	default:
		return Result{RunID: r.ID, Status: domain.StatusPending}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, true
}

// Wait blocks until the run finishes or ctx ends.
func (r *Run) Wait(ctx context.Context) (Result, error) {
	select {
	case <-r.done:
		res, _ := r.Result()
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (r *Run) finish(res Result) {
	r.mu.Lock()
	r.result = res
	r.mu.Unlock()
	close(r.done)
}
