package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/pkg/config"
)

var buildVersion = "dev"

var rootCmd = &cobra.Command{
	Use:           "orchestrator",
	Short:         "Deploy GitHub repositories to Hugging Face Docker Spaces",
	Long:          `orchestrator fetches a repository, prepares a Dockerfile for it, pushes it to a Docker Space and repairs common runtime failures until the Space is running.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	configPath string
	logLevel   string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Path to the TOML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
