package notify

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/domain"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/pkg/config"
)

// ErrNoToken means release publishing is disabled.
var ErrNoToken = errors.New("notify: github token not set")

var versionMarker = regexp.MustCompile(`Drop(\d+)`)

// Release is the outcome of a release sync.
type Release struct {
	Tag     string `json:"tag"`
	URL     string `json:"url,omitempty"`
	Asset   string `json:"asset"`
	Skipped bool   `json:"skipped,omitempty"`
}

// SyncStatus maps a Sync outcome to the status reported to callers. A
// skipped sync counts as an error.
func SyncStatus(err error) domain.Status {
	if err != nil {
		return domain.StatusError
	}
	return domain.StatusSynced
}

// GitHubRelease publishes a tagged release with a zip of a local directory.
type GitHubRelease struct {
	token   string
	apiBase string
	owner   string
	repo    string
	dir     string
	client  *http.Client
	now     func() time.Time
	log     *slog.Logger
}

// NewGitHubRelease builds a publisher from cfg.
func NewGitHubRelease(cfg config.ReleaseConfig, client *http.Client, logger *slog.Logger) *GitHubRelease {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	if logger == nil {
		logger = slog.Default()
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	if base == "" {
		base = "https://api.github.com"
	}
	dir := cfg.Dir
	if dir == "" {
		dir = "."
	}
	return &GitHubRelease{
		token:   strings.TrimSpace(cfg.Token),
		apiBase: base,
		owner:   strings.TrimSpace(cfg.Owner),
		repo:    strings.TrimSpace(cfg.Repo),
		dir:     dir,
		client:  client,
		now:     time.Now,
		log:     logger,
	}
}

func (g *GitHubRelease) Name() string { return "github-release" }

// Notify publishes a release after a run reaches RUNNING.
func (g *GitHubRelease) Notify(ctx context.Context, event Event) error {
	if event.Status != domain.StatusRunning {
		return nil
	}
	_, err := g.Sync(ctx)
	if errors.Is(err, ErrNoToken) {
		return nil
	}
	return err
}

// Sync creates the release and uploads the directory archive. Without a
// token it logs a skip line and returns ErrNoToken.
func (g *GitHubRelease) Sync(ctx context.Context) (Release, error) {
	if g.token == "" {
		g.log.Info("GitHub sync: GITHUB_TOKEN not set; skipping GitHub publish.")
		return Release{Skipped: true}, ErrNoToken
	}
	if g.owner == "" || g.repo == "" {
		return Release{}, errors.New("release owner and repo are required")
	}
	tag := DetectVersion(g.dir, g.now)
	asset := fmt.Sprintf("%s_%s.zip", g.repo, tag)

	g.log.Info("Zip: building artifact", "dir", g.dir)
	archive, err := zipDir(g.dir)
	if err != nil {
		return Release{}, fmt.Errorf("build release archive: %w", err)
	}

	g.log.Info("GitHub: create release", "tag", tag)
	created, err := g.createRelease(ctx, tag)
	if err != nil {
		return Release{}, err
	}

	g.log.Info("GitHub: upload asset", "asset", asset)
	if err := g.uploadAsset(ctx, created.UploadURL, asset, archive); err != nil {
		return Release{}, err
	}
	return Release{Tag: tag, URL: created.HTMLURL, Asset: asset}, nil
}

type releaseResponse struct {
	UploadURL string `json:"upload_url"`
	HTMLURL   string `json:"html_url"`
}

func (g *GitHubRelease) createRelease(ctx context.Context, tag string) (releaseResponse, error) {
	payload := map[string]any{
		"tag_name":   tag,
		"name":       tag,
		"body":       "Automated release " + tag,
		"draft":      false,
		"prerelease": false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return releaseResponse{}, fmt.Errorf("marshal release: %w", err)
	}
	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases", g.apiBase, url.PathEscape(g.owner), url.PathEscape(g.repo))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return releaseResponse{}, fmt.Errorf("build release request: %w", err)
	}
	g.authorize(req)
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.client.Do(req)
	if err != nil {
		return releaseResponse{}, fmt.Errorf("create release: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return releaseResponse{}, fmt.Errorf("create release: %w", errorForStatus(resp))
	}
	var out releaseResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return releaseResponse{}, fmt.Errorf("decode release: %w", err)
	}
	if out.UploadURL == "" {
		return releaseResponse{}, errors.New("release response missing upload_url")
	}
	return out, nil
}

func (g *GitHubRelease) uploadAsset(ctx context.Context, uploadURL, name string, data []byte) error {
	if i := strings.Index(uploadURL, "{"); i >= 0 {
		uploadURL = uploadURL[:i]
	}
	endpoint := uploadURL + "?name=" + url.QueryEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	g.authorize(req)
	req.Header.Set("Content-Type", "application/zip")
	req.ContentLength = int64(len(data))
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload asset: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("upload asset: %w", errorForStatus(resp))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (g *GitHubRelease) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Accept", "application/vnd.github+json")
}

// DetectVersion reads a DropNN marker from dir/README.md and falls back to
// a timestamp tag.
func DetectVersion(dir string, now func() time.Time) string {
	if data, err := os.ReadFile(filepath.Join(dir, "README.md")); err == nil {
		if m := versionMarker.FindSubmatch(data); m != nil {
			return "v" + string(m[1])
		}
	}
	if now == nil {
		now = time.Now
	}
	return "v" + now().UTC().Format("20060102-150405")
}

func zipDir(root string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
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
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: filepath.ToSlash(rel), Method: zip.Deflate})
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
