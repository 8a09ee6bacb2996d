package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/dockerfile"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/domain"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/hub"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/logstream"
)

// ErrUnpatched is returned when an artifact that was never patched is pushed.
var ErrUnpatched = errors.New("dockerfile artifact has not been patched")

// Platform is the subset of the hosting API the driver needs.
type Platform interface {
	CreateSpace(ctx context.Context, namespace, name string, private bool) (string, error)
	RequestHardware(ctx context.Context, id, flavor string) error
	Commit(ctx context.Context, id string, commit hub.Commit) error
	Restart(ctx context.Context, id string) error
	Runtime(ctx context.Context, id string) (hub.Runtime, error)
}

// Options tunes the driver.
type Options struct {
	PollInterval time.Duration
	// FailFast ends a wait as soon as the platform reports an error stage.
	FailFast bool
	// SettleGrace ignores RUNNING and error stages seen before any other
	// stage during the first part of a wait, since they may predate the push.
	// An error stage that was already showing when the wait began only ends
	// a fail-fast wait once the grace has elapsed; with no grace it is
	// treated as left over from the previous build until another stage shows.
	SettleGrace time.Duration
}

// Driver performs the target lifecycle for one run, reporting to its stream.
type Driver struct {
	platform Platform
	opts     Options
	stream   *logstream.Stream
	log      *slog.Logger
	now      func() time.Time
}

// New builds a Driver.
func New(platform Platform, opts Options, stream *logstream.Stream, logger *slog.Logger) *Driver {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	if stream == nil {
		stream = logstream.New(nil)
	}
	return &Driver{platform: platform, opts: opts, stream: stream, log: logger, now: time.Now}
}

// EnsureTarget creates the target if absent and returns its id.
func (d *Driver) EnsureTarget(ctx context.Context, target domain.DeploymentTarget) (string, error) {
	id, err := d.platform.CreateSpace(ctx, target.Namespace, target.Name, target.Private)
	if err != nil {
		d.stream.Errorf("Creating Space %s failed: %v", target.ID(), err)
		return "", &domain.DeployError{Kind: domain.ErrCreateFailed, Target: target.ID(), Err: err}
	}
	d.stream.Infof("Space ready: %s", id)
	return id, nil
}

// RequestHardware asks for tier. Failures are logged and never returned.
func (d *Driver) RequestHardware(ctx context.Context, id, tier string) {
	if tier == "" {
		d.stream.Infof("No hardware request (default CPU)")
		return
	}
	if err := d.platform.RequestHardware(ctx, id, tier); err != nil {
		d.stream.Warnf("Hardware request %s failed: %v", tier, err)
		d.log.Warn("hardware request failed", "target", id, "tier", tier, "error", err)
		return
	}
	d.stream.Infof("Requested hardware: %s", tier)
}

// Push commits the artifact as the root Dockerfile together with files in
// one batched commit.
func (d *Driver) Push(ctx context.Context, id string, artifact *dockerfile.Artifact, files []hub.File, summary string) error {
	if artifact == nil || !artifact.Patched {
		return &domain.DeployError{Kind: domain.ErrPushFailed, Target: id, Err: ErrUnpatched}
	}
	all := make([]hub.File, 0, len(files)+1)
	all = append(all, hub.File{Path: DockerfilePath, Content: artifact.Bytes()})
	for _, f := range files {
		if f.Path == DockerfilePath {
			continue
		}
		all = append(all, f)
	}
	commit := hub.Commit{
		Summary:     summary,
		Description: fmt.Sprintf("Dockerfile provenance: %s", artifact.Provenance),
		Files:       all,
	}
	if err := d.platform.Commit(ctx, id, commit); err != nil {
		d.stream.Errorf("Push to %s failed: %v", id, err)
		return &domain.DeployError{Kind: domain.ErrPushFailed, Target: id, Err: err}
	}
	d.stream.Infof("Pushed %d files to %s", len(all), id)
	return nil
}

// Restart asks the platform to restart the target. Failures are logged.
func (d *Driver) Restart(ctx context.Context, id string) {
	if err := d.platform.Restart(ctx, id); err != nil {
		d.stream.Warnf("Restart of %s failed: %v", id, err)
		d.log.Warn("restart failed", "target", id, "error", err)
		return
	}
	d.stream.Infof("Restart requested")
}

// WaitUntilRunning polls the runtime stage until it is RUNNING, the
// platform reports an error stage (with FailFast), ctx ends, or timeout
// elapses. Each stage change is logged once.
func (d *Driver) WaitUntilRunning(ctx context.Context, id string, timeout time.Duration) error {
	start := d.now()
	deadline := start.Add(timeout)
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	var last hub.Runtime
	lastStage := ""
	sawTransition := false
	for {
		rt, err := d.platform.Runtime(ctx, id)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.stream.Warnf("Runtime poll failed: %v", err)
		default:
			last = rt
			stage := strings.ToUpper(rt.Stage)
			if stage != lastStage {
				d.stream.Infof("Runtime stage: %s", rt.Stage)
				if lastStage != "" || (!rt.IsRunning() && !rt.IsError()) {
					sawTransition = true
				}
				lastStage = stage
			}
			elapsed := d.now().Sub(start)
			settled := sawTransition || elapsed >= d.opts.SettleGrace
			if rt.IsRunning() && settled {
				return nil
			}
			errorSettled := sawTransition || (d.opts.SettleGrace > 0 && elapsed >= d.opts.SettleGrace)
			if rt.IsError() && d.opts.FailFast && errorSettled {
				if rt.ErrorMessage != "" {
					d.stream.Errorf("Runtime error: %s", rt.ErrorMessage)
				}
				return &domain.StageError{Target: id, Stage: rt.Stage, Message: rt.ErrorMessage}
			}
		}

		if !d.now().Before(deadline) {
			d.stream.Errorf("Timed out after %s waiting for RUNNING", timeout)
			return &domain.TimeoutError{Target: id, LastStage: last.Stage, ErrorMessage: last.ErrorMessage, Elapsed: d.now().Sub(start)}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
