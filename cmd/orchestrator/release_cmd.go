package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/notify"
)

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Publish orchestrator releases",
}

var releaseSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Create a GitHub release and upload a zip of the release directory",
	RunE:  runReleaseSync,
}

var (
	releaseDir  string
	releaseJSON bool
)

func init() {
	releaseCmd.AddCommand(releaseSyncCmd)
	releaseSyncCmd.Flags().StringVar(&releaseDir, "dir", "", "Directory to archive (defaults to release.dir)")
	releaseSyncCmd.Flags().BoolVar(&releaseJSON, "json", false, "Output as JSON")
}

func runReleaseSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if releaseDir != "" {
		cfg.Release.Dir = releaseDir
	}
	log := newLogger(cfg, os.Stderr)

	rel, err := notify.NewGitHubRelease(cfg.Release, nil, log).Sync(cmd.Context())
	status := notify.SyncStatus(err)
	if releaseJSON {
		payload := map[string]any{"status": status, "release": rel}
		if err != nil {
			payload["error"] = err.Error()
		}
		if encErr := json.NewEncoder(os.Stdout).Encode(payload); encErr != nil {
			return encErr
		}
	} else {
		out := newPrinter(os.Stdout)
		if rel.Tag != "" {
			out.field("tag:", rel.Tag)
			out.field("asset:", rel.Asset)
		}
		if rel.URL != "" {
			out.field("url:", rel.URL)
		}
		out.status(status)
	}
	return err
}
