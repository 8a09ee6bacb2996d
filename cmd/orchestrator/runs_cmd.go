package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect run history",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show a run with its attempts",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var (
	runsLimit int
	runsJSON  bool
)

func init() {
	runsCmd.AddCommand(runsListCmd, runsShowCmd)
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of runs to display")
	runsCmd.PersistentFlags().BoolVar(&runsJSON, "json", false, "Output as JSON")
}

func openStore(cmd *cobra.Command) (store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return store.Open(cmd.Context(), cfg.Store, newLogger(cfg, os.Stderr))
}

func runRunsList(cmd *cobra.Command, args []string) error {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	runs, err := s.ListRuns(cmd.Context(), runsLimit)
	if err != nil {
		return err
	}
	if runsJSON {
		return json.NewEncoder(os.Stdout).Encode(runs)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTARGET\tSTATUS\tHARDWARE\tCREATED")
	for _, r := range runs {
		hw := r.Hardware
		if hw == "" {
			hw = "-"
		}
		fmt.Fprintf(w, "%s\t%s/%s\t%s\t%s\t%s\n", r.ID, r.Namespace, r.SpaceName, r.Status, hw, r.CreatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	r, err := s.GetRun(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if runsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	out := newPrinter(os.Stdout)
	out.field("run:", r.ID)
	out.field("space:", r.Namespace+"/"+r.SpaceName)
	out.field("repo:", r.RepoURL)
	if r.Hardware != "" {
		out.field("hardware:", r.Hardware+" ("+r.HardwareKind+")")
	}
	if r.Provenance != "" {
		out.field("dockerfile:", r.Provenance)
	}
	if r.Error != "" {
		out.field("error:", r.Error)
	}
	for _, a := range r.Attempts {
		outcome := "ok"
		if a.Failure != "" {
			outcome = firstLine(a.Failure)
		}
		line := fmt.Sprintf("#%d %s", a.Ordinal, outcome)
		if a.RepairApplied {
			line += " -> repaired: " + strings.Join(a.Recipes, ", ")
		}
		out.field("attempt:", line)
	}
	out.status(r.Status)
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
