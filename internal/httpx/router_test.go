package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/domain"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/hub"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/notify"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/orchestrator"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/source"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/ws"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/workspace"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/pkg/jwt"
)

type stubFetcher struct{}

func (stubFetcher) Fetch(_ context.Context, ref source.RepoRef, dir string) (domain.SourceBundle, error) {
	root := filepath.Join(dir, "src")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return domain.SourceBundle{}, err
	}
	if err := os.WriteFile(filepath.Join(root, "app.py"), []byte("print('hi')"), 0o644); err != nil {
		return domain.SourceBundle{}, err
	}
	return domain.SourceBundle{Root: root, Origin: domain.OriginArchive, Branch: "main", Repo: ref.String()}, nil
}

// gatedPlatform reports BUILDING until the gate is opened.
type gatedPlatform struct {
	gate chan struct{}
	once sync.Once
}

func newGatedPlatform(open bool) *gatedPlatform {
	p := &gatedPlatform{gate: make(chan struct{})}
	if open {
		p.open()
	}
	return p
}

func (p *gatedPlatform) open() { p.once.Do(func() { close(p.gate) }) }

func (p *gatedPlatform) CreateSpace(_ context.Context, ns, name string, _ bool) (string, error) {
	return ns + "/" + name, nil
}
func (p *gatedPlatform) RequestHardware(context.Context, string, string) error { return nil }
func (p *gatedPlatform) Commit(context.Context, string, hub.Commit) error      { return nil }
func (p *gatedPlatform) Restart(context.Context, string) error                 { return nil }
func (p *gatedPlatform) Runtime(context.Context, string) (hub.Runtime, error) {
	select {
	case <-p.gate:
		return hub.Runtime{Stage: hub.StageRunning}, nil
	default:
		return hub.Runtime{Stage: hub.StageBuilding}, nil
	}
}

type stubReleaser struct {
	rel notify.Release
	err error
}

func (s stubReleaser) Sync(context.Context) (notify.Release, error) { return s.rel, s.err }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(t *testing.T, p *gatedPlatform, releaser Releaser, opts Options) *Router {
	t.Helper()
	wsm, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	svc, err := orchestrator.New(orchestrator.Options{
		MaxAttempts:  1,
		WaitTimeout:  10 * time.Second,
		PollInterval: 5 * time.Millisecond,
		FailFast:     true,
	}, orchestrator.Deps{
		Platform:  p,
		Fetcher:   stubFetcher{},
		Workspace: wsm,
		HasToken:  true,
	}, quietLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	r, err := NewRouter(ctx, quietLogger(), svc, releaser, NewMemoryGuard(), opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		p.open()
		r.Wait()
		cancel()
		r.Close()
	})
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func runRequest() orchestrator.Request {
	return orchestrator.Request{Namespace: "acme", SpaceName: "widget", RepoURL: "https://github.com/acme/widget"}
}

func submit(t *testing.T, h http.Handler, token string) string {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/runs", runRequest(), token)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "acme/widget", out["target"])
	require.NotEmpty(t, out["run_id"])
	return out["run_id"]
}

func runStatus(t *testing.T, h http.Handler, id string) orchestrator.Result {
	t.Helper()
	rec := doJSON(t, h, http.MethodGet, "/runs/"+id, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res orchestrator.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(t, newGatedPlatform(true), nil, Options{})
	rec := doJSON(t, r, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)

	degraded := newTestRouter(t, newGatedPlatform(true), nil, Options{Health: func(context.Context) error { return errors.New("db down") }})
	rec = doJSON(t, degraded, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "db down")
}

func TestCreateRunLifecycle(t *testing.T) {
	r := newTestRouter(t, newGatedPlatform(true), nil, Options{})
	id := submit(t, r, "")

	require.Eventually(t, func() bool {
		return runStatus(t, r, id).Status == domain.StatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	res := runStatus(t, r, id)
	require.Len(t, res.Attempts, 1)
	require.NotEmpty(t, res.Lines)

	rec := doJSON(t, r, http.MethodGet, "/runs?limit=10", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Runs []struct {
			ID     string        `json:"id"`
			Status domain.Status `json:"status"`
		} `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Runs, 1)
	require.Equal(t, id, list.Runs[0].ID)
	require.Equal(t, domain.StatusRunning, list.Runs[0].Status)
}

func TestCreateRunRejectsBadInput(t *testing.T) {
	r := newTestRouter(t, newGatedPlatform(true), nil, Options{})

	req := httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	bad := runRequest()
	bad.RepoURL = "not a url"
	rec = doJSON(t, r, http.MethodPost, "/runs", bad, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ERROR"`)
	require.Contains(t, rec.Body.String(), "repo_url")

	rec = doJSON(t, r, http.MethodGet, "/runs?limit=zero", nil, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doJSON(t, r, http.MethodDelete, "/runs", nil, "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestTargetGuardConflict(t *testing.T) {
	p := newGatedPlatform(false)
	r := newTestRouter(t, p, nil, Options{})
	id := submit(t, r, "")

	rec := doJSON(t, r, http.MethodPost, "/runs", runRequest(), "")
	require.Equal(t, http.StatusConflict, rec.Code)

	pending := runStatus(t, r, id)
	require.Equal(t, domain.StatusPending, pending.Status)

	p.open()
	require.Eventually(t, func() bool {
		rec := doJSON(t, r, http.MethodPost, "/runs", runRequest(), "")
		return rec.Code == http.StatusAccepted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRunNotFound(t *testing.T) {
	r := newTestRouter(t, newGatedPlatform(true), nil, Options{})
	for _, path := range []string{"/runs/missing", "/runs/missing/ws", "/runs/missing/events", "/runs/a/b/c"} {
		rec := doJSON(t, r, http.MethodGet, path, nil, "")
		require.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestAuth(t *testing.T) {
	r := newTestRouter(t, newGatedPlatform(true), nil, Options{APISecret: "s3cret"})

	rec := doJSON(t, r, http.MethodGet, "/runs", nil, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/runs", nil, "garbage")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	foreign, err := jwt.GenerateToken("ci", "other", "s3cret", time.Hour)
	require.NoError(t, err)
	rec = doJSON(t, r, http.MethodPost, "/runs", runRequest(), foreign)
	require.Equal(t, http.StatusForbidden, rec.Code)

	scoped, err := jwt.GenerateToken("ci", "acme", "s3cret", time.Hour)
	require.NoError(t, err)
	submit(t, r, scoped)

	rec = doJSON(t, r, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRunEventsStream(t *testing.T) {
	r := newTestRouter(t, newGatedPlatform(true), nil, Options{})
	srv := httptest.NewServer(r)
	defer srv.Close()

	id := submit(t, r, "")
	resp, err := http.Get(srv.URL + "/runs/" + id + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	require.Contains(t, text, "data: ")
	require.Contains(t, text, "Fetching acme/widget")
	require.Contains(t, text, "event: result")
	require.Contains(t, text, `"status":"RUNNING"`)
}

func TestRunWebsocketStream(t *testing.T) {
	r := newTestRouter(t, newGatedPlatform(true), nil, Options{})
	srv := httptest.NewServer(r)
	defer srv.Close()

	id := submit(t, r, "")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/runs/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))

	var frames []ws.Frame
	var result map[string]any
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected close: %v", err)
			break
		}
		if strings.Contains(string(msg), `"type":"result"`) {
			require.NoError(t, json.Unmarshal(msg, &result))
			continue
		}
		var f ws.Frame
		require.NoError(t, json.Unmarshal(msg, &f))
		frames = append(frames, f)
	}
	require.NotEmpty(t, frames)
	for i, f := range frames {
		require.Equal(t, i, f.Seq)
	}
	require.NotNil(t, result)
	require.Equal(t, "RUNNING", result["result"].(map[string]any)["status"])
}

func TestReleaseSync(t *testing.T) {
	synced := newTestRouter(t, newGatedPlatform(true), stubReleaser{rel: notify.Release{Tag: "v70", Asset: "orchestrator_v70.zip"}}, Options{})
	rec := doJSON(t, synced, http.MethodPost, "/releases/sync", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"SYNCED"`)
	require.Contains(t, rec.Body.String(), "v70")

	skipped := newTestRouter(t, newGatedPlatform(true), stubReleaser{rel: notify.Release{Skipped: true}, err: notify.ErrNoToken}, Options{})
	rec = doJSON(t, skipped, http.MethodPost, "/releases/sync", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ERROR"`)

	none := newTestRouter(t, newGatedPlatform(true), nil, Options{})
	rec = doJSON(t, none, http.MethodPost, "/releases/sync", nil, "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = doJSON(t, none, http.MethodGet, "/releases/sync", nil, "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	r := newTestRouter(t, newGatedPlatform(true), nil, Options{})
	doJSON(t, r, http.MethodGet, "/healthz", nil, "")
	rec := doJSON(t, r, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "orchestrator_api_http_requests_total")
}

func TestMemoryGuard(t *testing.T) {
	g := NewMemoryGuard().(*memoryGuard)
	defer g.Close()
	ctx := context.Background()
	now := time.Now()
	g.now = func() time.Time { return now }

	token, ok := g.Acquire(ctx, "acme/widget", time.Minute)
	require.True(t, ok)
	_, ok = g.Acquire(ctx, "acme/widget", time.Minute)
	require.False(t, ok)

	g.Release(ctx, "acme/widget", "someone-else")
	_, ok = g.Acquire(ctx, "acme/widget", time.Minute)
	require.False(t, ok)

	g.Release(ctx, "acme/widget", token)
	_, ok = g.Acquire(ctx, "acme/widget", time.Minute)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = g.Acquire(ctx, "acme/widget", time.Minute)
	require.True(t, ok, "expired claims must not block")
	g.cleanup(now.Add(time.Hour))
	require.Empty(t, g.holders)
}

func TestRedisGuardUnreachable(t *testing.T) {
	_, err := NewRedisGuard("127.0.0.1:1", "", 0, quietLogger())
	require.Error(t, err)
}
