// Package notify delivers post-run notifications.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/domain"
)

// Event describes a finished run.
type Event struct {
	RunID      string        `json:"run_id"`
	Target     string        `json:"target"`
	RepoURL    string        `json:"repo_url"`
	Status     domain.Status `json:"status"`
	Hardware   string        `json:"hardware,omitempty"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// Notifier receives run events.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event Event) error
}

// Dispatcher fans events out to notifiers without blocking the caller.
type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration
	log       *slog.Logger
	wg        sync.WaitGroup
}

// NewDispatcher returns a Dispatcher. Nil notifiers are ignored.
func NewDispatcher(logger *slog.Logger, timeout time.Duration, notifiers ...Notifier) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	d := &Dispatcher{timeout: timeout, log: logger}
	for _, n := range notifiers {
		if n != nil {
			d.notifiers = append(d.notifiers, n)
		}
	}
	return d
}

// Dispatch sends event to every notifier in the background. Failures are
// logged and never reach the run that produced the event.
func (d *Dispatcher) Dispatch(event Event) {
	if d == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	for _, n := range d.notifiers {
		d.wg.Add(1)
		go func(n Notifier) {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()
			if err := n.Notify(ctx, event); err != nil {
				d.log.Warn("notification failed", "notifier", n.Name(), "run_id", event.RunID, "error", err)
				return
			}
			d.log.Debug("notification sent", "notifier", n.Name(), "run_id", event.RunID)
		}(n)
	}
}

// Wait blocks until in-flight notifications finish.
func (d *Dispatcher) Wait() {
	if d != nil {
		d.wg.Wait()
	}
}
