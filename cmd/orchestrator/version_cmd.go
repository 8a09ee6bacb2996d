package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the orchestrator version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("orchestrator %s (%s/%s)\n", buildVersion, runtime.GOOS, runtime.GOARCH)
	},
}
