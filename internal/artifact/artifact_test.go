package artifact

import (
	"context"
	"errors"
	"testing"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/pkg/config"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.Put(ctx, "run-1", DockerfileObject, []byte("FROM python:3.10-slim\n")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := m.Put(ctx, "run-1", "/"+LogObject, []byte("log")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := m.Put(ctx, "run-10", LogObject, []byte("other")); err != nil {
		t.Fatalf("put: %v", err)
	}

	data, err := m.Get(ctx, "run-1", LogObject)
	if err != nil || string(data) != "log" {
		t.Fatalf("expected log, got %q %v", data, err)
	}
	if _, err := m.Get(ctx, "run-1", SummaryObject); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	paths, err := m.List(ctx, "run-1")
	if err != nil || len(paths) != 2 || paths[0] != DockerfileObject || paths[1] != LogObject {
		t.Fatalf("unexpected listing %v %v", paths, err)
	}
}

func TestMemoryStoreValidates(t *testing.T) {
	m := NewMemory()
	if err := m.Put(context.Background(), " ", "x", nil); err == nil {
		t.Fatalf("expected error for empty run id")
	}
	if err := m.Put(context.Background(), "run", "", nil); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestOpen(t *testing.T) {
	s, err := Open(config.ArtifactConfig{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := s.(*Memory); !ok {
		t.Fatalf("expected memory store, got %T", s)
	}
	if _, err := Open(config.ArtifactConfig{Endpoint: "localhost:9000", Bucket: "runs"}); err == nil {
		t.Fatalf("expected missing credential error")
	}
	s, err = Open(config.ArtifactConfig{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b", Bucket: "runs"})
	if err != nil {
		t.Fatalf("open s3: %v", err)
	}
	if _, ok := s.(*S3Store); !ok {
		t.Fatalf("expected s3 store, got %T", s)
	}
}

func TestContentType(t *testing.T) {
	cases := map[string]string{
		SummaryObject:    "application/json",
		LogObject:        "text/plain; charset=utf-8",
		DockerfileObject: "text/plain; charset=utf-8",
		"bundle.zip":     "application/octet-stream",
	}
	for path, want := range cases {
		if got := contentType(path); got != want {
			t.Fatalf("contentType(%q) = %q, want %q", path, got, want)
		}
	}
}
