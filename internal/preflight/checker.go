package preflight

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/dockerfile"
)

// AppPort is the port every Space container listens on.
const AppPort = 7860

const (
	defaultSmokeDuration = 20 * time.Second
	logTailLines         = 80
	cleanupTimeout       = 30 * time.Second
)

var tagSanitizer = regexp.MustCompile(`[^a-z0-9_.-]+`)

// Engine is the subset of Docker operations a local check needs.
type Engine interface {
	BuildImage(ctx context.Context, dir, tag string, onOutput func(string)) error
	StartContainer(ctx context.Context, name, img string, containerPort int) (string, error)
	ContainerState(ctx context.Context, id string) (bool, int, error)
	ContainerLogs(ctx context.Context, id string, tail int) (string, error)
	RemoveContainer(ctx context.Context, id string) error
	RemoveImage(ctx context.Context, ref string) error
}

var _ Engine = (*Client)(nil)

// Checker builds a candidate Dockerfile locally and smoke-runs the image
// before anything is pushed to the hosting platform.
type Checker struct {
	engine Engine
	smoke  time.Duration
	log    *slog.Logger
}

// NewChecker returns a Checker. A zero smoke duration uses the default.
func NewChecker(engine Engine, smoke time.Duration, logger *slog.Logger) *Checker {
	if smoke <= 0 {
		smoke = defaultSmokeDuration
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{engine: engine, smoke: smoke, log: logger}
}

// Check writes the artifact into root, builds it, and keeps the container
// alive for the smoke window. A failed phase returns a *CheckError whose
// Output holds the tail of the build or container logs.
func (c *Checker) Check(ctx context.Context, root string, a *dockerfile.Artifact, tag string, emit func(string)) error {
	if err := os.WriteFile(filepath.Join(root, "Dockerfile"), a.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write dockerfile: %w", err)
	}
	tag = ImageTag(tag)
	agg := newOutputAggregator(emit)

	if err := c.engine.BuildImage(ctx, root, tag, agg.Add); err != nil {
		agg.Flush()
		return &CheckError{Phase: "build", Output: joinOutput(agg.Tail(), err.Error()), Err: err}
	}
	agg.Flush()
	defer c.cleanup(func(ctx context.Context) error { return c.engine.RemoveImage(ctx, tag) })

	id, err := c.engine.StartContainer(ctx, strings.ReplaceAll(tag, ":", "-"), tag, AppPort)
	if id != "" {
		defer c.cleanup(func(ctx context.Context) error { return c.engine.RemoveContainer(ctx, id) })
	}
	if err != nil {
		return &CheckError{Phase: "smoke", Output: err.Error(), Err: err}
	}

	timer := time.NewTimer(c.smoke)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	running, code, err := c.engine.ContainerState(ctx, id)
	if err != nil {
		return fmt.Errorf("inspect smoke container: %w", err)
	}
	if running {
		c.log.Info("preflight passed", "image", tag)
		return nil
	}
	logs, logErr := c.engine.ContainerLogs(ctx, id, logTailLines)
	if logErr != nil {
		c.log.Warn("failed to read container logs", "error", logErr)
	}
	exitErr := fmt.Errorf("container exited with code %d", code)
	return &CheckError{Phase: "smoke", Output: joinOutput(logs, exitErr.Error()), Err: exitErr}
}

func (c *Checker) cleanup(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		c.log.Warn("preflight cleanup failed", "error", err)
	}
}

// ImageTag normalises a run identifier into a local image reference.
func ImageTag(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if strings.HasPrefix(id, "preflight:") {
		return id
	}
	id = strings.Trim(tagSanitizer.ReplaceAllString(id, "-"), "-.")
	if id == "" {
		id = "latest"
	}
	return "preflight:" + id
}

func joinOutput(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}
