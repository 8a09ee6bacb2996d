package deploy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/dockerfile"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/domain"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/hub"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/logstream"
)

type fakePlatform struct {
	mu          sync.Mutex
	createErr   error
	hardwareErr error
	commitErr   error
	restartErr  error
	stages      []hub.Runtime
	pollErrs    map[int]error
	polls       int
	commits     []hub.Commit
}

func (f *fakePlatform) CreateSpace(_ context.Context, ns, name string, _ bool) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	return ns + "/" + name, nil
}

func (f *fakePlatform) RequestHardware(context.Context, string, string) error { return f.hardwareErr }

func (f *fakePlatform) Commit(_ context.Context, _ string, c hub.Commit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, c)
	return f.commitErr
}

func (f *fakePlatform) Restart(context.Context, string) error { return f.restartErr }

func (f *fakePlatform) Runtime(context.Context, string) (hub.Runtime, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.polls
	f.polls++
	if err := f.pollErrs[i]; err != nil {
		return hub.Runtime{}, err
	}
	if i >= len(f.stages) {
		return f.stages[len(f.stages)-1], nil
	}
	return f.stages[i], nil
}

func newDriver(p Platform, opts Options) (*Driver, *logstream.Stream) {
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Millisecond
	}
	stream := logstream.New(nil)
	return New(p, opts, stream, slog.New(slog.NewTextHandler(io.Discard, nil))), stream
}

func TestEligible(t *testing.T) {
	allowed := []string{"app.py", "src/model.py", "requirements.txt", "LICENSE.md", "configs/model.yaml", "docs/guide.md"}
	for _, p := range allowed {
		if !Eligible(p) {
			t.Fatalf("expected %s to be eligible", p)
		}
	}
	denied := []string{
		".git/config", ".gitattributes", "sub/.gitignore", "LICENSE", "CODEOWNERS", "README", "README.md", "readme.MD",
		"weights/model.safetensors", "ckpt/last.ckpt", "model.BIN", "assets/demo.mp4", "img/logo.png", "export/model.onnx",
		"data.tar.gz", "bundle.zip",
	}
	for _, p := range denied {
		if Eligible(p) {
			t.Fatalf("expected %s to be excluded", p)
		}
	}
}

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	write := func(name, contents string) {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write("app.py", "print(1)")
	write("Dockerfile", "FROM scratch")
	write("docker/Dockerfile", "FROM scratch")
	write("README.md", "# demo")
	write("weights/model.pt", "xx")
	write("big.json", strings.Repeat("x", 64))
	write(".git/HEAD", "ref")

	files, skipped, err := CollectFiles(dir, 32)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	if strings.Join(paths, ",") != "app.py,docker/Dockerfile" {
		t.Fatalf("unexpected files %v", paths)
	}
	if len(skipped) != 1 || skipped[0].Path != "big.json" {
		t.Fatalf("unexpected skipped %v", skipped)
	}
}

func TestEnsureTarget(t *testing.T) {
	d, _ := newDriver(&fakePlatform{}, Options{})
	id, err := d.EnsureTarget(context.Background(), domain.DeploymentTarget{Namespace: "acme", Name: "demo"})
	if err != nil || id != "acme/demo" {
		t.Fatalf("expected acme/demo, got %q %v", id, err)
	}

	d, stream := newDriver(&fakePlatform{createErr: errors.New("quota exceeded")}, Options{})
	_, err = d.EnsureTarget(context.Background(), domain.DeploymentTarget{Namespace: "acme", Name: "demo"})
	if !errors.Is(err, domain.ErrCreateFailed) {
		t.Fatalf("expected ErrCreateFailed, got %v", err)
	}
	if lines := stream.Lines(); len(lines) == 0 || !strings.Contains(lines[len(lines)-1], "quota exceeded") {
		t.Fatalf("expected failure in log, got %v", lines)
	}
}

func TestBestEffortCallsAreSwallowed(t *testing.T) {
	p := &fakePlatform{hardwareErr: errors.New("no gpu quota"), restartErr: errors.New("busy")}
	d, stream := newDriver(p, Options{})
	d.RequestHardware(context.Background(), "acme/demo", "t4-small")
	d.Restart(context.Background(), "acme/demo")
	var warns int
	for _, e := range stream.Entries() {
		if e.Level == logstream.LevelWarn {
			warns++
		}
	}
	if warns != 2 {
		t.Fatalf("expected two warnings, got %d", warns)
	}
}

func TestPush(t *testing.T) {
	t.Run("refuses unpatched artifact", func(t *testing.T) {
		p := &fakePlatform{}
		d, _ := newDriver(p, Options{})
		err := d.Push(context.Background(), "acme/demo", dockerfile.Synthesize(""), nil, "deploy")
		if !errors.Is(err, ErrUnpatched) || !errors.Is(err, domain.ErrPushFailed) {
			t.Fatalf("expected unpatched push failure, got %v", err)
		}
		if len(p.commits) != 0 {
			t.Fatalf("nothing must be committed")
		}
	})

	t.Run("commits dockerfile first", func(t *testing.T) {
		p := &fakePlatform{}
		d, _ := newDriver(p, Options{})
		a := dockerfile.Synthesize("")
		a.ApplyPatch()
		files := []hub.File{{Path: "app.py", Content: []byte("x")}, {Path: "Dockerfile", Content: []byte("stale")}}
		if err := d.Push(context.Background(), "acme/demo", a, files, "deploy"); err != nil {
			t.Fatalf("push: %v", err)
		}
		got := p.commits[0].Files
		if len(got) != 2 || got[0].Path != "Dockerfile" || string(got[0].Content) != a.String() || got[1].Path != "app.py" {
			t.Fatalf("unexpected commit files %+v", got)
		}
	})

	t.Run("wraps platform failure", func(t *testing.T) {
		p := &fakePlatform{commitErr: errors.New("413 payload too large")}
		d, _ := newDriver(p, Options{})
		a := dockerfile.Synthesize("")
		a.ApplyPatch()
		if err := d.Push(context.Background(), "acme/demo", a, nil, "deploy"); !errors.Is(err, domain.ErrPushFailed) {
			t.Fatalf("expected ErrPushFailed, got %v", err)
		}
	})
}

func TestWaitUntilRunning(t *testing.T) {
	t.Run("logs each stage once", func(t *testing.T) {
		p := &fakePlatform{stages: []hub.Runtime{
			{Stage: "BUILDING"}, {Stage: "BUILDING"}, {Stage: "BUILDING"},
			{Stage: "APP_STARTING"}, {Stage: "RUNNING"},
		}, pollErrs: map[int]error{1: errors.New("connection reset")}}
		d, stream := newDriver(p, Options{})
		if err := d.WaitUntilRunning(context.Background(), "acme/demo", time.Minute); err != nil {
			t.Fatalf("wait: %v", err)
		}
		var stages []string
		var warned bool
		for _, e := range stream.Entries() {
			if strings.HasPrefix(e.Message, "Runtime stage: ") {
				stages = append(stages, strings.TrimPrefix(e.Message, "Runtime stage: "))
			}
			if strings.Contains(e.Message, "connection reset") {
				warned = true
			}
		}
		if strings.Join(stages, ",") != "BUILDING,APP_STARTING,RUNNING" {
			t.Fatalf("unexpected stage log %v", stages)
		}
		if !warned {
			t.Fatalf("expected poll error to be logged")
		}
	})

	t.Run("times out", func(t *testing.T) {
		p := &fakePlatform{stages: []hub.Runtime{{Stage: "BUILDING", ErrorMessage: ""}}}
		d, _ := newDriver(p, Options{})
		err := d.WaitUntilRunning(context.Background(), "acme/demo", 20*time.Millisecond)
		var timeout *domain.TimeoutError
		if !errors.As(err, &timeout) || timeout.LastStage != "BUILDING" {
			t.Fatalf("expected timeout with last stage, got %v", err)
		}
	})

	t.Run("fails fast on error stage", func(t *testing.T) {
		p := &fakePlatform{stages: []hub.Runtime{{Stage: "BUILDING"}, {Stage: "RUNTIME_ERROR", ErrorMessage: "ImportError: libGL.so.1"}}}
		d, _ := newDriver(p, Options{FailFast: true})
		err := d.WaitUntilRunning(context.Background(), "acme/demo", time.Minute)
		var stage *domain.StageError
		if !errors.As(err, &stage) || stage.Message != "ImportError: libGL.so.1" {
			t.Fatalf("expected stage error, got %v", err)
		}
	})

	t.Run("error left from the previous build is not fatal", func(t *testing.T) {
		p := &fakePlatform{stages: []hub.Runtime{
			{Stage: "RUNTIME_ERROR", ErrorMessage: "ImportError: libGL.so.1"},
			{Stage: "BUILDING"}, {Stage: "RUNNING"},
		}}
		d, _ := newDriver(p, Options{FailFast: true})
		if err := d.WaitUntilRunning(context.Background(), "acme/demo", time.Minute); err != nil {
			t.Fatalf("wait: %v", err)
		}
		if p.polls != 3 {
			t.Fatalf("expected to observe the rebuild, polled %d times", p.polls)
		}
	})

	t.Run("error after the rebuild is fatal", func(t *testing.T) {
		p := &fakePlatform{stages: []hub.Runtime{
			{Stage: "RUNTIME_ERROR", ErrorMessage: "old failure"},
			{Stage: "BUILDING"},
			{Stage: "RUNTIME_ERROR", ErrorMessage: "ImportError: libGL.so.1"},
		}}
		d, _ := newDriver(p, Options{FailFast: true})
		err := d.WaitUntilRunning(context.Background(), "acme/demo", time.Minute)
		var stage *domain.StageError
		if !errors.As(err, &stage) || stage.Message != "ImportError: libGL.so.1" {
			t.Fatalf("expected stage error from the new build, got %v", err)
		}
	})

	t.Run("error that never clears times out with its message", func(t *testing.T) {
		p := &fakePlatform{stages: []hub.Runtime{{Stage: "RUNTIME_ERROR", ErrorMessage: "ImportError: libGL.so.1"}}}
		d, _ := newDriver(p, Options{FailFast: true})
		err := d.WaitUntilRunning(context.Background(), "acme/demo", 20*time.Millisecond)
		var timeout *domain.TimeoutError
		if !errors.As(err, &timeout) || timeout.ErrorMessage != "ImportError: libGL.so.1" {
			t.Fatalf("expected timeout carrying the error message, got %v", err)
		}
	})

	t.Run("stale running is ignored during grace", func(t *testing.T) {
		p := &fakePlatform{stages: []hub.Runtime{{Stage: "RUNNING"}, {Stage: "RUNNING"}, {Stage: "BUILDING"}, {Stage: "RUNNING"}}}
		d, _ := newDriver(p, Options{SettleGrace: time.Hour})
		if err := d.WaitUntilRunning(context.Background(), "acme/demo", time.Minute); err != nil {
			t.Fatalf("wait: %v", err)
		}
		if p.polls != 4 {
			t.Fatalf("expected to wait for the rebuild, polled %d times", p.polls)
		}
	})

	t.Run("honours cancellation", func(t *testing.T) {
		p := &fakePlatform{stages: []hub.Runtime{{Stage: "BUILDING"}}}
		d, _ := newDriver(p, Options{PollInterval: time.Hour})
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		if err := d.WaitUntilRunning(ctx, "acme/demo", 2*time.Hour); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected cancellation, got %v", err)
		}
	})
}
