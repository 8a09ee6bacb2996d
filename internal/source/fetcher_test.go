package source

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/domain"
)

func TestParseRepoURL(t *testing.T) {
	valid := map[string]RepoRef{
		"https://github.com/acme/demo":       {Host: "github.com", Owner: "acme", Name: "demo"},
		"https://github.com/acme/demo.git":   {Host: "github.com", Owner: "acme", Name: "demo"},
		" https://github.com/acme/demo/ ":    {Host: "github.com", Owner: "acme", Name: "demo"},
		"https://gitlab.example.com/o/r.git": {Host: "gitlab.example.com", Owner: "o", Name: "r"},
	}
	for raw, want := range valid {
		got, err := ParseRepoURL(raw)
		if err != nil {
			t.Fatalf("ParseRepoURL(%q): %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseRepoURL(%q) = %+v, want %+v", raw, got, want)
		}
	}

	invalid := []string{
		"",
		"not a url",
		"http://github.com/acme/demo",
		"https://github.com/acme",
		"https://github.com/acme/demo/tree/main",
		"https:///acme/demo",
		"git@github.com:acme/demo.git",
		"https://github.com/acme/demo?tab=readme",
	}
	for _, raw := range invalid {
		_, err := ParseRepoURL(raw)
		if !errors.Is(err, domain.ErrInvalidURL) {
			t.Fatalf("ParseRepoURL(%q) expected ErrInvalidURL, got %v", raw, err)
		}
	}
}

func TestFetchPrefersFirstAvailableBranchArchive(t *testing.T) {
	payload := buildZip(t, map[string]string{
		"demo-master/app.py":           "print('ok')\n",
		"demo-master/requirements.txt": "gradio\n",
	})
	var requested []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = append(requested, r.URL.Path)
		if r.URL.Path == "/acme/demo/archive/refs/heads/master.zip" {
			_, _ = w.Write(payload)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cloned := false
	f := NewFetcher(Options{
		ArchiveBaseURL: srv.URL,
		Clone: func(context.Context, string, string) error {
			cloned = true
			return nil
		},
	}, quietLogger())

	bundle, err := f.Fetch(context.Background(), RepoRef{Host: "github.com", Owner: "acme", Name: "demo"}, t.TempDir())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if cloned {
		t.Fatalf("clone fallback must not run when an archive is available")
	}
	if bundle.Origin != domain.OriginArchive || bundle.Branch != "master" {
		t.Fatalf("unexpected bundle %+v", bundle)
	}
	if filepath.Base(bundle.Root) != "demo-master" {
		t.Fatalf("expected archive top-level directory as root, got %s", bundle.Root)
	}
	if got := readFile(t, filepath.Join(bundle.Root, "app.py")); got != "print('ok')\n" {
		t.Fatalf("unexpected app.py contents %q", got)
	}
	if len(requested) != 2 || requested[0] != "/acme/demo/archive/refs/heads/main.zip" {
		t.Fatalf("expected main then master, got %v", requested)
	}
}

func TestFetchFallsBackToClone(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	var gotURL string
	f := NewFetcher(Options{
		ArchiveBaseURL: srv.URL,
		Clone: func(_ context.Context, url, dest string) error {
			gotURL = url
			return os.WriteFile(filepath.Join(dest, "main.py"), []byte("x"), 0o644)
		},
	}, quietLogger())

	bundle, err := f.Fetch(context.Background(), RepoRef{Host: "github.com", Owner: "acme", Name: "demo"}, t.TempDir())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if bundle.Origin != domain.OriginClone {
		t.Fatalf("expected clone origin, got %s", bundle.Origin)
	}
	if gotURL != "https://github.com/acme/demo.git" {
		t.Fatalf("unexpected clone url %s", gotURL)
	}
	if _, err := os.Stat(filepath.Join(bundle.Root, "main.py")); err != nil {
		t.Fatalf("expected cloned file: %v", err)
	}
}

func TestFetchClonesReposOnOtherHosts(t *testing.T) {
	payload := buildZip(t, map[string]string{"widget-main/app.py": "wrong"})
	var hits []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, r.URL.Path)
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	ref, err := ParseRepoURL("https://gitlab.com/acme/widget")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var gotURL string
	f := NewFetcher(Options{
		ArchiveBaseURL: srv.URL,
		Clone: func(_ context.Context, url, dest string) error {
			gotURL = url
			return os.WriteFile(filepath.Join(dest, "app.py"), []byte("right"), 0o644)
		},
	}, quietLogger())

	bundle, err := f.Fetch(context.Background(), ref, t.TempDir())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("archive server must not be consulted for gitlab.com, got %v", hits)
	}
	if bundle.Origin != domain.OriginClone || gotURL != "https://gitlab.com/acme/widget.git" {
		t.Fatalf("expected clone of the gitlab repo, got origin=%s url=%s", bundle.Origin, gotURL)
	}
	if got := readFile(t, filepath.Join(bundle.Root, "app.py")); got != "right" {
		t.Fatalf("unexpected app.py contents %q", got)
	}
}

func TestFetchCloneFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	transport := errors.New("repository not found")
	f := NewFetcher(Options{
		ArchiveBaseURL: srv.URL,
		Clone:          func(context.Context, string, string) error { return transport },
	}, quietLogger())

	_, err := f.Fetch(context.Background(), RepoRef{Host: "github.com", Owner: "acme", Name: "missing"}, t.TempDir())
	if !errors.Is(err, domain.ErrCloneFailed) {
		t.Fatalf("expected ErrCloneFailed, got %v", err)
	}
	if !errors.Is(err, transport) {
		t.Fatalf("expected transport error to be wrapped, got %v", err)
	}
}

func TestExtractZipRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "evil.zip")
	if err := os.WriteFile(zipPath, buildZip(t, map[string]string{"../escape.txt": "x"}), 0o644); err != nil {
		t.Fatalf("write zip: %v", err)
	}
	dest := filepath.Join(dir, "out")
	if err := os.MkdirAll(dest, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := extractZip(zipPath, dest); err == nil {
		t.Fatalf("expected traversal entry to be rejected")
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.txt")); !os.IsNotExist(err) {
		t.Fatalf("traversal entry must not be written")
	}
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, contents := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(contents)); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}
