package scan

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNeedsGPU(t *testing.T) {
	t.Run("requirements keyword", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "requirements.txt", "gradio\nTorch==2.1\n")
		gpu, ev := NeedsGPU(dir)
		if !gpu {
			t.Fatalf("expected gpu verdict")
		}
		if ev.Pass != "requirements" || ev.File != "requirements.txt" || ev.Keyword != "torch" {
			t.Fatalf("unexpected evidence %+v", ev)
		}
	})

	t.Run("nested requirements variant", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "env/Requirements-GPU.txt", "bitsandbytes\n")
		if gpu, ev := NeedsGPU(dir); !gpu || ev.File != "env/Requirements-GPU.txt" {
			t.Fatalf("expected nested requirements hit, got %v %+v", gpu, ev)
		}
	})

	t.Run("dockerfile keyword", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "requirements.txt", "flask\n")
		writeFile(t, dir, "docker/Dockerfile", "FROM nvidia/cuda:12.1.0-runtime\n")
		gpu, ev := NeedsGPU(dir)
		if !gpu || ev.Pass != "dockerfile" || ev.Keyword != "cuda" {
			t.Fatalf("unexpected verdict %v %+v", gpu, ev)
		}
	})

	t.Run("source keyword", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "app.py", "device = 'cuda' if ok else 'cpu'\n")
		if gpu, ev := NeedsGPU(dir); !gpu || ev.Pass != "sources" {
			t.Fatalf("unexpected verdict %v %+v", gpu, ev)
		}
	})

	t.Run("cpu only", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "requirements.txt", "flask\nrequests\n")
		writeFile(t, dir, "app.py", "print('hello')\n")
		writeFile(t, dir, "notes.txt", "cuda is mentioned but not in a scanned file\n")
		writeFile(t, dir, ".git/config", "nvidia\n")
		if gpu, ev := NeedsGPU(dir); gpu {
			t.Fatalf("expected cpu verdict, got %+v", ev)
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "a.md", "Runs on GPU\n")
		writeFile(t, dir, "b.py", "import torch.cuda\n")
		first, firstEv := NeedsGPU(dir)
		for i := 0; i < 5; i++ {
			again, ev := NeedsGPU(dir)
			if again != first || ev != firstEv {
				t.Fatalf("verdict changed between runs: %+v vs %+v", firstEv, ev)
			}
		}
	})
}

func TestFindDockerfilePriority(t *testing.T) {
	t.Run("root beats nested", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "docker/Dockerfile", "FROM b\n")
		writeFile(t, dir, "Dockerfile", "FROM a\n")
		path, ok := FindDockerfile(dir)
		if !ok || path != filepath.Join(dir, "Dockerfile") {
			t.Fatalf("expected root Dockerfile, got %q", path)
		}
	})

	t.Run("nested before variants", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "Dockerfile.prod", "FROM c\n")
		writeFile(t, dir, "docker/Dockerfile", "FROM b\n")
		path, ok := FindDockerfile(dir)
		if !ok || path != filepath.Join(dir, "docker", "Dockerfile") {
			t.Fatalf("expected docker/Dockerfile, got %q", path)
		}
		all := FindDockerfiles(dir)
		if len(all) != 2 || all[1] != filepath.Join(dir, "Dockerfile.prod") {
			t.Fatalf("unexpected candidates %v", all)
		}
	})

	t.Run("directories are ignored", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.MkdirAll(filepath.Join(dir, "Dockerfile"), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if _, ok := FindDockerfile(dir); ok {
			t.Fatalf("directory named Dockerfile must not count")
		}
	})
}

func TestDetectManifest(t *testing.T) {
	dir := t.TempDir()
	if got := DetectManifest(dir); got != "" {
		t.Fatalf("expected no manifest, got %q", got)
	}
	writeFile(t, dir, "requirements_dev.txt", "pytest\n")
	writeFile(t, dir, "requirements-prod.txt", "flask\n")
	if got := DetectManifest(dir); got != "requirements-prod.txt" {
		t.Fatalf("expected requirements-prod.txt, got %q", got)
	}
	writeFile(t, dir, "requirements.txt", "flask\n")
	if got := DetectManifest(dir); got != "requirements.txt" {
		t.Fatalf("expected requirements.txt, got %q", got)
	}
}

func writeFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", name, err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}
