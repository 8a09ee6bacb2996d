package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// CloneOptions tunes a clone. Zero Depth means full history.
type CloneOptions struct {
	Depth        int
	Branch       string
	SingleBranch bool
}

// Shallow is the option set used for source fetching: depth one, one branch.
var Shallow = CloneOptions{Depth: 1, SingleBranch: true}

// Clone clones repoURL into dest, which must exist and be empty.
func Clone(ctx context.Context, repoURL, dest string, opts CloneOptions) error {
	if repoURL == "" {
		return fmt.Errorf("repository URL cannot be empty")
	}
	if dest == "" {
		return fmt.Errorf("destination cannot be empty")
	}
	cmd := exec.CommandContext(ctx, "git", cloneArgs(repoURL, opts)...)
	cmd.Dir = dest
	// Prevent git from prompting for credentials interactively.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git clone failed: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

func cloneArgs(repoURL string, opts CloneOptions) []string {
	args := []string{"clone"}
	if opts.Depth > 0 {
		args = append(args, "--depth", strconv.Itoa(opts.Depth))
	}
	if opts.SingleBranch {
		args = append(args, "--single-branch")
	}
	if opts.Branch != "" {
		args = append(args, "--branch", opts.Branch)
	}
	return append(args, "--", repoURL, ".")
}
