package scan

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DockerfileCandidates are probed in priority order, relative to the repository root.
var DockerfileCandidates = []string{
	"Dockerfile",
	"docker/Dockerfile",
	"dockerfile",
	"Dockerfile.dev",
	"Dockerfile.prod",
}

// ManifestCandidates are the dependency manifests recognised at the repository root.
var ManifestCandidates = []string{
	"requirements.txt",
	"requirements-prod.txt",
	"requirements_dev.txt",
}

var (
	requirementKeywords = []string{"torch", "xformers", "pytorch-cuda", "flash-attn", "triton", "tensorflow-gpu", "bitsandbytes"}
	dockerfileKeywords  = []string{"pytorch", "cuda", "nvidia", "xformers", "bitsandbytes", "tensorflow-gpu", "pytorch-cuda"}
	sourceKeywords      = []string{"cuda", "gpu", "nvidia", "torch.cuda", "flash-attn"}
)

// maxScanBytes caps how much of a single file is inspected.
const maxScanBytes = 4 << 20

// Evidence explains a GPU verdict.
type Evidence struct {
	Pass    string
	File    string
	Keyword string
}

// NeedsGPU inspects root in three passes: requirements files, discovered
// Dockerfiles, then markdown and python sources. The first keyword hit wins.
// Matching is case-insensitive substring; the same tree always yields the
// same verdict.
func NeedsGPU(root string) (bool, Evidence) {
	var requirements, sources []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		name := strings.ToLower(d.Name())
		switch {
		case strings.HasPrefix(name, "requirements") && strings.HasSuffix(name, ".txt"):
			requirements = append(requirements, path)
		case strings.HasSuffix(name, ".md"), strings.HasSuffix(name, ".py"):
			sources = append(sources, path)
		}
		return nil
	})

	passes := []struct {
		name     string
		files    []string
		keywords []string
	}{
		{"requirements", requirements, requirementKeywords},
		{"dockerfile", FindDockerfiles(root), dockerfileKeywords},
		{"sources", sources, sourceKeywords},
	}
	for _, pass := range passes {
		for _, file := range pass.files {
			if kw, ok := containsAny(file, pass.keywords); ok {
				rel, err := filepath.Rel(root, file)
				if err != nil {
					rel = file
				}
				return true, Evidence{Pass: pass.name, File: filepath.ToSlash(rel), Keyword: kw}
			}
		}
	}
	return false, Evidence{}
}

// FindDockerfile returns the first existing candidate in priority order.
func FindDockerfile(root string) (string, bool) {
	found := FindDockerfiles(root)
	if len(found) == 0 {
		return "", false
	}
	return found[0], true
}

// FindDockerfiles returns every existing candidate in priority order.
func FindDockerfiles(root string) []string {
	var out []string
	var seen []os.FileInfo
	for _, candidate := range DockerfileCandidates {
		path := filepath.Join(root, filepath.FromSlash(candidate))
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		// Case-insensitive filesystems resolve Dockerfile and dockerfile to one file.
		if sameAsAny(info, seen) {
			continue
		}
		seen = append(seen, info)
		out = append(out, path)
	}
	return out
}

// DetectManifest returns the first manifest candidate present at root, or "".
func DetectManifest(root string) string {
	for _, candidate := range ManifestCandidates {
		if isRegularFile(filepath.Join(root, candidate)) {
			return candidate
		}
	}
	return ""
}

func containsAny(path string, keywords []string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxScanBytes))
	if err != nil {
		return "", false
	}
	text := strings.ToLower(string(data))
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return kw, true
		}
	}
	return "", false
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func sameAsAny(info os.FileInfo, seen []os.FileInfo) bool {
	for _, other := range seen {
		if os.SameFile(info, other) {
			return true
		}
	}
	return false
}
