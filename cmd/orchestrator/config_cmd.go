package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with default values",
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	RunE:  runConfigShow,
}

var configForce bool

func init() {
	configCmd.AddCommand(configInitCmd, configShowCmd)
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configPath); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}
	if err := config.Save(configPath, config.Defaults()); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", configPath)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	for _, secret := range []*string{
		&cfg.Hub.Token,
		&cfg.Server.APISecret,
		&cfg.Server.RedisPassword,
		&cfg.Artifacts.SecretKey,
		&cfg.Release.Token,
		&cfg.Webhook.Token,
	} {
		if *secret != "" {
			*secret = "********"
		}
	}
	return toml.NewEncoder(os.Stdout).Encode(cfg)
}
