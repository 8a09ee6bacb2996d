package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/pkg/jwt"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the HTTP API",
	RunE:  runToken,
}

var (
	tokenClient    string
	tokenNamespace string
	tokenTTL       time.Duration
)

func init() {
	tokenCmd.Flags().StringVar(&tokenClient, "client", "cli", "Client name recorded in the token")
	tokenCmd.Flags().StringVar(&tokenNamespace, "namespace", "", "Restrict the token to one namespace")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (defaults to server.token_ttl_seconds)")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Server.APISecret == "" {
		return errors.New("server.api_secret (ORCH_API_SECRET) is not set")
	}
	ttl := tokenTTL
	if ttl <= 0 {
		ttl = cfg.Server.TokenTTL()
	}
	token, err := jwt.GenerateToken(tokenClient, tokenNamespace, cfg.Server.APISecret, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
