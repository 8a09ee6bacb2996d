package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/domain"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/orchestrator"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy a repository to a Docker Space and wait until it runs",
	RunE:  runDeploy,
}

var (
	deployNamespace string
	deploySpace     string
	deployRepo      string
	deployHardware  string
	deployPrivate   bool
	deployJSON      bool
	deployVerbose   bool
)

func init() {
	deployCmd.Flags().StringVar(&deployNamespace, "namespace", "", "Space owner (defaults to hub.namespace)")
	deployCmd.Flags().StringVar(&deploySpace, "space", "", "Space name")
	deployCmd.Flags().StringVar(&deployRepo, "repo", "", "GitHub repository URL")
	deployCmd.Flags().StringVar(&deployHardware, "hardware", "", "Hardware tier override, e.g. t4-small")
	deployCmd.Flags().BoolVar(&deployPrivate, "private", false, "Create the Space as private")
	deployCmd.Flags().BoolVar(&deployJSON, "json", false, "Print the final result as JSON")
	deployCmd.Flags().BoolVar(&deployVerbose, "verbose", false, "Also write structured logs to stderr")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !deployVerbose && logLevel == "" {
		cfg.LogLevel = "error"
	}
	log := newLogger(cfg, os.Stderr)

	if strings.TrimSpace(cfg.Hub.Token) == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(os.Stderr, "HF token (leave empty to continue without one): ")
		secret, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprint(os.Stderr, "\n")
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		cfg.Hub.Token = strings.TrimSpace(string(secret))
	}

	namespace := deployNamespace
	if namespace == "" {
		namespace = cfg.Hub.Namespace
	}
	req := orchestrator.Request{
		Namespace: namespace,
		SpaceName: deploySpace,
		RepoURL:   deployRepo,
		Hardware:  deployHardware,
		Private:   deployPrivate,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close(log)

	run := a.service.Start(ctx, req)
	out := newPrinter(os.Stdout)
	if !deployJSON {
		for e := range run.Stream().Subscribe(context.Background()) {
			out.entry(e)
		}
	}
	res, err := run.Wait(context.Background())
	if err != nil {
		return err
	}

	if deployJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		out.field("run:", res.RunID)
		if res.Target != "" {
			out.field("space:", res.Target)
		}
		out.status(res.Status)
	}
	if res.Status != domain.StatusRunning {
		if res.Err != nil {
			return res.Err
		}
		return errors.New(res.Error)
	}
	return nil
}
