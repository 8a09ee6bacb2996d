package source

import (
	"net/url"
	"strings"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/domain"
)

// RepoRef identifies a hosted git repository.
type RepoRef struct {
	Host  string
	Owner string
	Name  string
}

// String returns owner/name.
func (r RepoRef) String() string {
	return r.Owner + "/" + r.Name
}

// CloneURL returns the https clone URL.
func (r RepoRef) CloneURL() string {
	return "https://" + r.Host + "/" + r.Owner + "/" + r.Name + ".git"
}

// ArchiveURL returns the branch snapshot URL under base, e.g.
// https://github.com/owner/name/archive/refs/heads/main.zip.
func (r RepoRef) ArchiveURL(base, branch string) string {
	return strings.TrimRight(base, "/") + "/" + r.Owner + "/" + r.Name + "/archive/refs/heads/" + url.PathEscape(branch) + ".zip"
}

// ParseRepoURL accepts https://<host>/<owner>/<repo> with an optional .git
// suffix or trailing slash.
func ParseRepoURL(raw string) (RepoRef, error) {
	trimmed := strings.TrimSpace(raw)
	invalid := func() (RepoRef, error) {
		return RepoRef{}, &domain.FetchError{Kind: domain.ErrInvalidURL, URL: raw}
	}
	if trimmed == "" {
		return invalid()
	}
	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme != "https" || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return invalid()
	}
	path := strings.Trim(u.Path, "/")
	path = strings.TrimSuffix(path, ".git")
	parts := strings.Split(path, "/")
	if len(parts) != 2 {
		return invalid()
	}
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			return invalid()
		}
	}
	return RepoRef{Host: u.Host, Owner: parts[0], Name: parts[1]}, nil
}
