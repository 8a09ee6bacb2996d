package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Manager owns per-run scratch directories under a common root.
type Manager struct {
	root string
}

// New ensures the scratch root exists and is accessible.
func New(root string) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{root: abs}, nil
}

// Root returns the absolute scratch root.
func (m *Manager) Root() string {
	return m.root
}

// Prepare creates an empty directory owned by the run identified by runID.
func (m *Manager) Prepare(runID string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("workspace identifier cannot be empty")
	}
	if strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return "", fmt.Errorf("workspace identifier %q is not a plain name", runID)
	}
	dir := filepath.Join(m.root, runID)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("reset workspace: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return dir, nil
}

// Cleanup removes a directory previously returned by Prepare. Paths outside
// the root, and the root itself, are refused.
func (m *Manager) Cleanup(path string) error {
	if path == "" {
		return nil
	}
	rel, err := filepath.Rel(m.root, path)
	if err != nil || rel == "." || rel == "" || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to cleanup path outside workspace root")
	}
	return os.RemoveAll(path)
}

// CleanupByID removes the workspace of runID.
func (m *Manager) CleanupByID(runID string) error {
	if runID == "" {
		return fmt.Errorf("workspace identifier cannot be empty")
	}
	return m.Cleanup(filepath.Join(m.root, runID))
}

// Sweep removes run directories last modified before cutoff and returns how
// many were removed. Used on startup to collect scratch left by killed runs.
func (m *Manager) Sweep(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0, fmt.Errorf("list workspace root: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := m.CleanupByID(entry.Name()); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
