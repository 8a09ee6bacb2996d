// Package orchestrator runs the fetch, scan, patch, deploy and repair
// pipeline for one repository at a time.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/artifact"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/deploy"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/dockerfile"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/domain"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/hub"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/logstream"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/notify"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/preflight"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/repair"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/scan"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/source"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/store"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/workspace"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/pkg/config"
)

// RepairMarkerPath is committed alongside every auto-repaired Dockerfile.
const RepairMarkerPath = "orchestrator_repair.txt"

const persistTimeout = 10 * time.Second

// Fetcher materialises a repository into a scratch directory.
type Fetcher interface {
	Fetch(ctx context.Context, ref source.RepoRef, dir string) (domain.SourceBundle, error)
}

// Preflighter builds and smoke-runs a Dockerfile locally.
type Preflighter interface {
	Check(ctx context.Context, root string, a *dockerfile.Artifact, tag string, emit func(string)) error
}

// Options are the run tunables.
type Options struct {
	MaxAttempts      int
	WaitTimeout      time.Duration
	PollInterval     time.Duration
	SettleGrace      time.Duration
	FailFast         bool
	GPUTier          string
	MaxFileBytes     int64
	PreflightTimeout time.Duration
}

// OptionsFromConfig converts the deploy section of the configuration.
func OptionsFromConfig(d config.DeployConfig) Options {
	return Options{
		MaxAttempts:      d.MaxAttempts,
		WaitTimeout:      d.WaitTimeout(),
		PollInterval:     d.PollInterval(),
		SettleGrace:      d.SettleGrace(),
		FailFast:         d.FailFastOnErrorStage,
		GPUTier:          d.GPUHardware,
		MaxFileBytes:     d.MaxFileBytes,
		PreflightTimeout: d.PreflightTimeout(),
	}
}

// Deps are the collaborators of a Service. Platform, Fetcher and Workspace
// are required; everything else is optional.
type Deps struct {
	Platform  deploy.Platform
	Fetcher   Fetcher
	Workspace *workspace.Manager
	Repair    *repair.Engine
	Store     store.Store
	Artifacts artifact.Store
	Notifier  *notify.Dispatcher
	Preflight Preflighter
	Metrics   *Metrics
	HasToken  bool
}

// Service executes orchestration runs.
type Service struct {
	opts  Options
	deps  Deps
	log   *slog.Logger
	newID func() string
	now   func() time.Time
}

// New validates deps and fills unset options with defaults.
func New(opts Options, deps Deps, logger *slog.Logger) (*Service, error) {
	if deps.Platform == nil {
		return nil, errors.New("orchestrator: platform is required")
	}
	if deps.Fetcher == nil {
		return nil, errors.New("orchestrator: fetcher is required")
	}
	if deps.Workspace == nil {
		return nil, errors.New("orchestrator: workspace is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 1200 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.GPUTier == "" {
		opts.GPUTier = "t4-small"
	}
	if opts.PreflightTimeout <= 0 {
		opts.PreflightTimeout = 15 * time.Minute
	}
	if deps.Repair == nil {
		deps.Repair = repair.NewEngine(nil, nil, logger)
	}
	if deps.Store == nil {
		deps.Store = store.NewMemory()
	}
	return &Service{opts: opts, deps: deps, log: logger, newID: uuid.NewString, now: time.Now}, nil
}

// Store exposes run history.
func (s *Service) Store() store.Store {
	return s.deps.Store
}

// Start launches a run in the background. ctx bounds the whole run, so
// callers serving requests should pass a context that outlives the request.
func (s *Service) Start(ctx context.Context, req Request) *Run {
	run := s.newRun(req)
	go s.execute(ctx, run)
	return run
}

// Orchestrate executes a run to completion and returns its outcome.
func (s *Service) Orchestrate(ctx context.Context, req Request) Result {
	run := s.newRun(req)
	s.execute(ctx, run)
	res, _ := run.Result()
	return res
}

func (s *Service) newRun(req Request) *Run {
	id := s.newID()
	return &Run{
		ID:        id,
		Request:   req,
		StartedAt: s.now().UTC(),
		stream:    logstream.New(s.log.With("run_id", id)),
		done:      make(chan struct{}),
	}
}

// runState is what a run learns as it moves through the pipeline.
type runState struct {
	ref      source.RepoRef
	target   domain.DeploymentTarget
	root     string
	artifact *dockerfile.Artifact
	attempts []domain.AttemptRecord
}

func (s *Service) execute(ctx context.Context, run *Run) {
	stream := run.stream
	st := &runState{target: run.Request.Target()}
	log := s.log.With("run_id", run.ID, "target", st.target.ID())

	record := &store.Run{
		ID:        run.ID,
		Namespace: st.target.Namespace,
		SpaceName: st.target.Name,
		RepoURL:   strings.TrimSpace(run.Request.RepoURL),
		Status:    domain.StatusPending,
		CreatedAt: run.StartedAt,
		UpdatedAt: run.StartedAt,
	}
	s.persist(ctx, log, "create run", func(ctx context.Context) error { return s.deps.Store.CreateRun(ctx, record) })

	ref, err := run.Request.Validate()
	if err != nil {
		stream.Errorf("Invalid input: %v", err)
	} else {
		st.ref = ref
		if !s.deps.HasToken {
			stream.Warnf("HF_TOKEN is not set; hosting API calls may be rejected")
		}
		err = s.pipeline(ctx, run, st, log)
		if err != nil {
			stream.Errorf("Run failed: %v", err)
		} else {
			stream.Infof("Space %s is RUNNING", st.target.ID())
		}
	}

	status := domain.StatusFor(err)
	log.Info("run finished", "status", status, "attempts", len(st.attempts), "error", err)
	stream.Close()

	res := Result{
		RunID:    run.ID,
		Status:   status,
		Target:   st.target.ID(),
		Hardware: st.target.Hardware,
		Attempts: st.attempts,
		Lines:    stream.Lines(),
		Err:      err,
	}
	if err != nil {
		res.Error = err.Error()
	}
	if st.artifact != nil {
		res.Provenance = st.artifact.Provenance
	}

	record.Hardware = st.target.Hardware.Tier
	record.HardwareKind = string(st.target.Hardware.Kind)
	record.Provenance = string(res.Provenance)
	record.Status = status
	record.Error = res.Error
	record.UpdatedAt = s.now().UTC()
	s.persist(ctx, log, "update run", func(ctx context.Context) error { return s.deps.Store.UpdateRun(ctx, record) })
	s.saveArtifacts(ctx, log, res, st.artifact)
	s.deps.Metrics.recordRun(status, len(st.attempts))
	s.deps.Notifier.Dispatch(notify.Event{
		RunID:    run.ID,
		Target:   res.Target,
		RepoURL:  record.RepoURL,
		Status:   status,
		Hardware: record.Hardware,
		Attempts: len(st.attempts),
		Error:    res.Error,
	})
	run.finish(res)
}

func (s *Service) pipeline(ctx context.Context, run *Run, st *runState, log *slog.Logger) error {
	stream := run.stream

	dir, err := s.deps.Workspace.Prepare(run.ID)
	if err != nil {
		return fmt.Errorf("prepare workspace: %w", err)
	}
	defer func() {
		if err := s.deps.Workspace.Cleanup(dir); err != nil {
			log.Warn("workspace cleanup failed", "dir", dir, "error", err)
		}
	}()

	stream.Infof("Fetching %s", st.ref)
	bundle, err := s.deps.Fetcher.Fetch(ctx, st.ref, dir)
	if err != nil {
		return err
	}
	if bundle.Origin == domain.OriginArchive {
		stream.Infof("Downloaded %s archive of %s", bundle.Branch, bundle.Repo)
	} else {
		stream.Infof("Cloned %s (depth 1)", bundle.Repo)
	}
	st.root = bundle.Root

	needsGPU, evidence := scan.NeedsGPU(bundle.Root)
	if needsGPU {
		stream.Infof("GPU evidence: %q in %s (%s pass)", evidence.Keyword, evidence.File, evidence.Pass)
	}
	st.target.Hardware = domain.DecideHardware(run.Request.Hardware, needsGPU, s.opts.GPUTier)
	if st.target.Hardware.Tier != "" {
		stream.Infof("Hardware: %s (%s)", st.target.Hardware.Tier, st.target.Hardware.Kind)
	} else {
		stream.Infof("Hardware: default CPU (%s)", st.target.Hardware.Kind)
	}

	st.artifact, err = s.prepareArtifact(bundle.Root, stream)
	if err != nil {
		return err
	}

	files, skipped, err := deploy.CollectFiles(bundle.Root, s.opts.MaxFileBytes)
	if err != nil {
		return err
	}
	for _, sk := range skipped {
		stream.Warnf("Skipping %s: %s", sk.Path, sk.Reason)
	}

	driver := deploy.New(s.deps.Platform, deploy.Options{
		PollInterval: s.opts.PollInterval,
		FailFast:     s.opts.FailFast,
		SettleGrace:  s.opts.SettleGrace,
	}, stream, log)

	id, err := driver.EnsureTarget(ctx, st.target)
	if err != nil {
		return err
	}
	driver.RequestHardware(ctx, id, st.target.Hardware.Tier)

	return s.attemptLoop(ctx, run, st, driver, id, files)
}

func (s *Service) prepareArtifact(root string, stream *logstream.Stream) (*dockerfile.Artifact, error) {
	var a *dockerfile.Artifact
	if path, ok := scan.FindDockerfile(root); ok {
		loaded, err := dockerfile.Load(path)
		if err != nil {
			return nil, err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		stream.Infof("Adopting existing Dockerfile: %s", filepath.ToSlash(rel))
		a = loaded
	} else {
		manifest := scan.DetectManifest(root)
		if manifest == "" {
			stream.Infof("No Dockerfile found; synthesizing one without a manifest")
		} else {
			stream.Infof("No Dockerfile found; synthesizing one from %s", manifest)
		}
		a = dockerfile.Synthesize(manifest)
	}
	if missing := dockerfile.Missing(a.Lines); len(missing) > 0 {
		stream.Infof("Patching Dockerfile: %d injections", len(missing))
	}
	a.ApplyPatch()
	return a, nil
}

// attemptLoop runs deploy-and-wait cycles until the target is running or
// the attempt cap is reached. Between failed attempts the Dockerfile is
// repaired and, once the tree has been pushed, recommitted with a marker.
func (s *Service) attemptLoop(ctx context.Context, run *Run, st *runState, driver *deploy.Driver, id string, files []hub.File) error {
	stream := run.stream
	pushed := false
	for ordinal := 1; ; ordinal++ {
		rec := domain.AttemptRecord{Ordinal: ordinal, StartedAt: s.now().UTC()}
		stream.Infof("Attempt %d/%d", ordinal, s.opts.MaxAttempts)

		failure, err := s.attempt(ctx, run, st, driver, id, files, &pushed)
		rec.EndedAt = s.now().UTC()
		if err != nil {
			return err
		}
		if failure == nil {
			s.recordAttempt(ctx, run.ID, st, rec)
			return nil
		}

		rec.Failure = failureText(failure)
		stream.Warnf("Attempt %d failed: %s", ordinal, firstLine(rec.Failure))
		if ordinal >= s.opts.MaxAttempts {
			s.recordAttempt(ctx, run.ID, st, rec)
			return &domain.RepairExhaustedError{Attempts: ordinal, History: st.attempts, Last: failure}
		}

		outcome := s.deps.Repair.Repair(st.artifact, rec.Failure)
		rec.RepairApplied = true
		rec.Recipes = outcome.Recipes
		s.recordAttempt(ctx, run.ID, st, rec)
		s.deps.Metrics.recordRecipes(outcome.Recipes)
		if outcome.Fallback {
			stream.Infof("Auto-repair: no known signature, applying default bundle (%s)", strings.Join(outcome.Recipes, ", "))
		} else {
			stream.Infof("Auto-repair: %s", strings.Join(outcome.Recipes, ", "))
		}

		if pushed {
			marker := hub.File{Path: RepairMarkerPath, Content: repairMarker(ordinal, rec)}
			summary := fmt.Sprintf("Auto-repair after attempt %d", ordinal)
			if err := driver.Push(ctx, id, st.artifact, []hub.File{marker}, summary); err != nil {
				return err
			}
		}
	}
}

// attempt reports a recoverable failure, or fatal when the run must stop.
func (s *Service) attempt(ctx context.Context, run *Run, st *runState, driver *deploy.Driver, id string, files []hub.File, pushed *bool) (failure, fatal error) {
	stream := run.stream
	if s.deps.Preflight != nil {
		stream.Infof("Local preflight: docker build and smoke run")
		pctx, cancel := context.WithTimeout(ctx, s.opts.PreflightTimeout)
		err := s.deps.Preflight.Check(pctx, st.root, st.artifact, run.ID, func(line string) {
			s.log.Debug("preflight output", "run_id", run.ID, "line", line)
		})
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var ce *preflight.CheckError
			if errors.As(err, &ce) {
				stream.Warnf("Local preflight %s failed", ce.Phase)
				return err, nil
			}
			return nil, fmt.Errorf("preflight: %w", err)
		}
		stream.Infof("Local preflight passed")
	}

	if !*pushed {
		if err := driver.Push(ctx, id, st.artifact, files, "Deploy "+st.ref.String()); err != nil {
			return nil, err
		}
		*pushed = true
	}
	driver.Restart(ctx, id)
	if err := driver.WaitUntilRunning(ctx, id, s.opts.WaitTimeout); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return err, nil
	}
	return nil, nil
}

func (s *Service) recordAttempt(ctx context.Context, runID string, st *runState, rec domain.AttemptRecord) {
	st.attempts = append(st.attempts, rec)
	s.persist(ctx, s.log.With("run_id", runID), "append attempt", func(ctx context.Context) error {
		return s.deps.Store.AppendAttempt(ctx, runID, rec)
	})
}

func (s *Service) persist(ctx context.Context, log *slog.Logger, what string, fn func(context.Context) error) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := fn(pctx); err != nil {
		log.Warn("run store write failed", "op", what, "error", err)
	}
}

func (s *Service) saveArtifacts(ctx context.Context, log *slog.Logger, res Result, a *dockerfile.Artifact) {
	if s.deps.Artifacts == nil {
		return
	}
	objects := map[string][]byte{
		artifact.LogObject: []byte(strings.Join(res.Lines, "\n") + "\n"),
	}
	if a != nil {
		objects[artifact.DockerfileObject] = a.Bytes()
	}
	if summary, err := json.MarshalIndent(res, "", "  "); err == nil {
		objects[artifact.SummaryObject] = summary
	}
	for name, data := range objects {
		s.persist(ctx, log, "save "+name, func(ctx context.Context) error {
			return s.deps.Artifacts.Put(ctx, res.RunID, name, data)
		})
	}
}

func failureText(err error) string {
	var ce *preflight.CheckError
	if errors.As(err, &ce) && ce.Output != "" {
		return ce.Output
	}
	return domain.FailureText(err)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

func repairMarker(ordinal int, rec domain.AttemptRecord) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "Auto-repair applied after attempt %d\n", ordinal)
	fmt.Fprintf(&b, "Time: %s\n", rec.EndedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Recipes: %s\n", strings.Join(rec.Recipes, ", "))
	b.WriteString("\nObserved failure:\n")
	b.WriteString(rec.Failure)
	b.WriteString("\n")
	return []byte(b.String())
}
