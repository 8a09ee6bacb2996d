// Package artifact keeps per-run outputs such as the deployed Dockerfile
// and the run log.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/pkg/config"
)

// Well-known object names written for every run.
const (
	DockerfileObject = "Dockerfile"
	LogObject        = "run.log"
	SummaryObject    = "summary.json"
)

// ErrNotFound indicates the object does not exist.
var ErrNotFound = errors.New("artifact: not found")

// Store saves run artifacts keyed by run identifier and relative path.
type Store interface {
	Put(ctx context.Context, runID, path string, content []byte) error
	Get(ctx context.Context, runID, path string) ([]byte, error)
	List(ctx context.Context, runID string) ([]string, error)
}

// Open returns an S3 store when an endpoint is configured, otherwise an
// in-memory store.
func Open(cfg config.ArtifactConfig) (Store, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return NewMemory(), nil
	}
	return NewS3Store(S3Config{
		Endpoint:  cfg.Endpoint,
		Region:    cfg.Region,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Bucket:    cfg.Bucket,
		UseSSL:    cfg.UseSSL,
	})
}

// Memory is a process-local Store.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) Put(_ context.Context, runID, path string, content []byte) error {
	if err := validate(runID, path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectKey(runID, path)] = append([]byte(nil), content...)
	return nil
}

func (m *Memory) Get(_ context.Context, runID, path string) ([]byte, error) {
	if err := validate(runID, path); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[objectKey(runID, path)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) List(_ context.Context, runID string) ([]string, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	prefix := runID + "/"
	m.mu.RLock()
	defer m.mu.RUnlock()
	var paths []string
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			paths = append(paths, strings.TrimPrefix(key, prefix))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func validate(runID, path string) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("path is required")
	}
	return nil
}

func objectKey(runID, path string) string {
	return strings.TrimSpace(runID) + "/" + strings.TrimLeft(strings.TrimSpace(path), "/")
}
