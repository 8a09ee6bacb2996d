package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/artifact"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/hub"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/notify"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/orchestrator"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/preflight"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/source"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/store"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/workspace"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/pkg/config"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/pkg/logger"
)

const notifyTimeout = 2 * time.Minute

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if strings.TrimSpace(logLevel) != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

func newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	return logger.NewWithWriter(w, "orchestrator", cfg.LogFormat, logger.ParseLevel(cfg.LogLevel))
}

// app holds the wired service and everything that must be closed with it.
type app struct {
	service  *orchestrator.Service
	store    store.Store
	notifier *notify.Dispatcher
	release  *notify.GitHubRelease
	closers  []func() error
}

func (a *app) Close(log *slog.Logger) {
	a.notifier.Wait()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn("shutdown step failed", "error", err)
		}
	}
}

// buildApp wires the orchestrator from configuration.
func buildApp(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	a := &app{}

	platform, err := hub.New(cfg.Hub.Endpoint, cfg.Hub.Token,
		hub.WithRetry(cfg.Hub.RetryAttempts, 0),
		hub.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	ws, err := workspace.New(cfg.Deploy.Workdir)
	if err != nil {
		return nil, err
	}

	runs, err := store.Open(ctx, cfg.Store, log)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	a.store = runs
	a.closers = append(a.closers, runs.Close)

	artifacts, err := artifact.Open(cfg.Artifacts)
	if err != nil {
		a.Close(log)
		return nil, fmt.Errorf("open artifact store: %w", err)
	}

	a.release = notify.NewGitHubRelease(cfg.Release, nil, log)
	var notifiers []notify.Notifier
	if cfg.Release.Owner != "" && cfg.Release.Repo != "" {
		notifiers = append(notifiers, a.release)
	}
	if cfg.Webhook.URL != "" {
		hook, err := notify.NewWebhook(cfg.Webhook.URL, cfg.Webhook.Token, nil)
		if err != nil {
			a.Close(log)
			return nil, err
		}
		notifiers = append(notifiers, hook)
	}
	a.notifier = notify.NewDispatcher(log, notifyTimeout, notifiers...)

	deps := orchestrator.Deps{
		Platform: platform,
		Fetcher: source.NewFetcher(source.Options{
			ArchiveBaseURL: cfg.Deploy.ArchiveBaseURL,
			Branches:       cfg.Deploy.ArchiveBranches,
			FetchTimeout:   cfg.Deploy.FetchTimeout(),
			GitTimeout:     cfg.Deploy.GitTimeout(),
		}, log),
		Workspace: ws,
		Store:     runs,
		Artifacts: artifacts,
		Notifier:  a.notifier,
		Metrics:   orchestrator.NewMetrics(),
		HasToken:  platform.HasToken(),
	}

	if cfg.Deploy.Preflight {
		docker, err := preflight.NewClient(cfg.Deploy.DockerHost)
		if err != nil {
			a.Close(log)
			return nil, fmt.Errorf("docker client: %w", err)
		}
		a.closers = append(a.closers, docker.Close)
		if version, err := docker.Available(ctx); err != nil {
			log.Warn("local preflight disabled", "error", err)
		} else {
			log.Info("local preflight enabled", "docker_api", version)
			deps.Preflight = preflight.NewChecker(docker, 0, log)
		}
	}

	svc, err := orchestrator.New(orchestrator.OptionsFromConfig(cfg.Deploy), deps, log)
	if err != nil {
		a.Close(log)
		return nil, err
	}
	a.service = svc
	return a, nil
}
