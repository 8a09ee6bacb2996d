package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/httpx"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/workspace"
)

const staleWorkspaceAge = 24 * time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator HTTP API",
	RunE:  runServe,
}

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (defaults to server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	log := newLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if ws, err := workspace.New(cfg.Deploy.Workdir); err == nil {
		if n, err := ws.Sweep(time.Now().Add(-staleWorkspaceAge)); err != nil {
			log.Warn("workspace sweep failed", "error", err)
		} else if n > 0 {
			log.Info("removed stale run workspaces", "count", n)
		}
	}

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close(log)

	guard := httpx.NewMemoryGuard()
	if addr := strings.TrimSpace(cfg.Server.RedisAddr); addr != "" {
		redisGuard, err := httpx.NewRedisGuard(addr, cfg.Server.RedisPassword, cfg.Server.RedisDB, log)
		if err != nil {
			log.Warn("redis target guard unavailable", "error", err)
		} else {
			guard.Close()
			guard = redisGuard
		}
	}

	var releaser httpx.Releaser
	if cfg.Release.Owner != "" && cfg.Release.Repo != "" {
		releaser = a.release
	}

	router, err := httpx.NewRouter(ctx, log, a.service, releaser, guard, httpx.Options{
		APISecret:  cfg.Server.APISecret,
		GuardTTL:   cfg.Server.GuardTTL(),
		RecentRuns: cfg.Server.RecentRuns,
		Health: func(ctx context.Context) error {
			_, err := a.store.ListRuns(ctx, 1)
			return err
		},
	})
	if err != nil {
		return err
	}
	defer router.Close()
	if cfg.Server.APISecret == "" {
		log.Warn("server.api_secret is empty; API is unauthenticated")
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h2c.NewHandler(router, &http2.Server{}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Server.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("waiting for cancelled runs to finish")
		router.Wait()
		log.Info("api server stopped")
		return nil
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
