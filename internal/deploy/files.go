package deploy

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/hub"
)

// DockerfilePath is where the artifact is committed on the target.
const DockerfilePath = "Dockerfile"

var excluded = regexp.MustCompile(`(?i)(^|/)(\.git|\.gitattributes|\.gitignore|LICENSE|CODEOWNERS|README(\.md)?|.*\.(pt|bin|safetensors|ckpt|tar|tar\.gz|zip|7z|mp4|mov|avi|mkv|png|jpg|jpeg|gif|webp|onnx))$`)

// Eligible reports whether a repository-relative, slash-separated path is
// committed to the target.
func Eligible(rel string) bool {
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "./")
	if rel == "" || rel == ".git" || strings.HasPrefix(rel, ".git/") || strings.Contains(rel, "/.git/") {
		return false
	}
	return !excluded.MatchString(rel)
}

// Skipped describes a file left out of a commit.
type Skipped struct {
	Path   string
	Reason string
}

// CollectFiles reads every eligible regular file under root. The root
// Dockerfile is left out because the artifact replaces it. Files larger
// than maxBytes (when positive) are skipped and reported.
func CollectFiles(root string, maxBytes int64) ([]hub.File, []Skipped, error) {
	var files []hub.File
	var skipped []Skipped
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || rel == DockerfilePath || !Eligible(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if maxBytes > 0 && info.Size() > maxBytes {
			skipped = append(skipped, Skipped{Path: rel, Reason: fmt.Sprintf("%d bytes exceeds inline limit", info.Size())})
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}
		files = append(files, hub.File{Path: rel, Content: data})
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("collect files: %w", err)
	}
	return files, skipped, nil
}
