package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/domain"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/git"
)

const maxArchiveBytes = 2 << 30

// CloneFunc clones url into dest.
type CloneFunc func(ctx context.Context, url, dest string) error

// Options configures a Fetcher.
type Options struct {
	ArchiveBaseURL string
	// ArchiveHosts are the repository hosts whose snapshots ArchiveBaseURL
	// serves. Repositories on any other host are always cloned.
	ArchiveHosts []string
	Branches       []string
	FetchTimeout   time.Duration
	GitTimeout     time.Duration
	HTTPClient     *http.Client
	Clone          CloneFunc
}

// Fetcher obtains a repository snapshot, preferring branch archives over git.
type Fetcher struct {
	archiveBase  string
	archiveHosts map[string]bool
	branches     []string
	fetchTimeout time.Duration
	gitTimeout   time.Duration
	client       *http.Client
	clone        CloneFunc
	log          *slog.Logger
}

// NewFetcher builds a Fetcher, filling unset options with defaults.
func NewFetcher(opts Options, logger *slog.Logger) *Fetcher {
	if opts.ArchiveBaseURL == "" {
		opts.ArchiveBaseURL = "https://github.com"
	}
	if len(opts.ArchiveHosts) == 0 {
		opts.ArchiveHosts = []string{"github.com", "www.github.com"}
	}
	hosts := make(map[string]bool, len(opts.ArchiveHosts)+1)
	for _, h := range opts.ArchiveHosts {
		hosts[strings.ToLower(h)] = true
	}
	if u, err := url.Parse(opts.ArchiveBaseURL); err == nil && u.Host != "" {
		hosts[strings.ToLower(u.Host)] = true
	}
	if len(opts.Branches) == 0 {
		opts.Branches = []string{"main", "master"}
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 60 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Clone == nil {
		opts.Clone = func(ctx context.Context, url, dest string) error {
			return git.Clone(ctx, url, dest, git.Shallow)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		archiveBase:  opts.ArchiveBaseURL,
		archiveHosts: hosts,
		branches:     opts.Branches,
		fetchTimeout: opts.FetchTimeout,
		gitTimeout:   opts.GitTimeout,
		client:       opts.HTTPClient,
		clone:        opts.Clone,
		log:          logger,
	}
}

// Fetch materialises ref under dir. Each configured branch archive is tried
// in order; the first 200 response wins. When none succeeds, or the
// repository lives on a host the archive base does not serve, a shallow
// clone is attempted and its failure is reported as a clone failure.
func (f *Fetcher) Fetch(ctx context.Context, ref RepoRef, dir string) (domain.SourceBundle, error) {
	branches := f.branches
	if !f.servesArchives(ref) {
		f.log.Info("no archive source for host", "repo", ref.String(), "host", ref.Host)
		branches = nil
	}
	for _, branch := range branches {
		root, err := f.fetchArchive(ctx, ref, branch, dir)
		if err != nil {
			f.log.Info("archive unavailable", "repo", ref.String(), "branch", branch, "error", err)
			continue
		}
		f.log.Info("fetched archive", "repo", ref.String(), "branch", branch)
		return domain.SourceBundle{Root: root, Origin: domain.OriginArchive, Branch: branch, Repo: ref.String()}, nil
	}

	cloneDir := filepath.Join(dir, "clone")
	if err := os.MkdirAll(cloneDir, 0o755); err != nil {
		return domain.SourceBundle{}, &domain.FetchError{Kind: domain.ErrCloneFailed, URL: ref.CloneURL(), Err: err}
	}
	cloneCtx := ctx
	if f.gitTimeout > 0 {
		var cancel context.CancelFunc
		cloneCtx, cancel = context.WithTimeout(ctx, f.gitTimeout)
		defer cancel()
	}
	f.log.Info("falling back to shallow clone", "repo", ref.String())
	if err := f.clone(cloneCtx, ref.CloneURL(), cloneDir); err != nil {
		return domain.SourceBundle{}, &domain.FetchError{Kind: domain.ErrCloneFailed, URL: ref.CloneURL(), Err: err}
	}
	return domain.SourceBundle{Root: cloneDir, Origin: domain.OriginClone, Repo: ref.String()}, nil
}

func (f *Fetcher) servesArchives(ref RepoRef) bool {
	return f.archiveHosts[strings.ToLower(ref.Host)]
}

func (f *Fetcher) fetchArchive(ctx context.Context, ref RepoRef, branch, dir string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.ArchiveURL(f.archiveBase, branch), nil)
	if err != nil {
		return "", fmt.Errorf("build archive request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download archive: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("archive request returned %s", resp.Status)
	}

	zipPath := filepath.Join(dir, "archive-"+safeName(branch)+".zip")
	out, err := os.Create(zipPath)
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}
	defer os.Remove(zipPath)
	if _, err := io.Copy(out, io.LimitReader(resp.Body, maxArchiveBytes)); err != nil {
		out.Close()
		return "", fmt.Errorf("write archive: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close archive: %w", err)
	}

	extractDir := filepath.Join(dir, "src-"+safeName(branch))
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return "", fmt.Errorf("create extract dir: %w", err)
	}
	root, err := extractZip(zipPath, extractDir)
	if err != nil {
		_ = os.RemoveAll(extractDir)
		return "", err
	}
	return root, nil
}

func safeName(branch string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(branch)
}
