package orchestrator

import (
	"regexp"
	"strings"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/domain"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/source"
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Request is the caller-supplied input of one run.
type Request struct {
	Namespace string `json:"namespace"`
	SpaceName string `json:"space_name"`
	RepoURL   string `json:"repo_url"`
	Hardware  string `json:"hardware,omitempty"`
	Private   bool   `json:"private"`
}

// SanitizeSpaceName maps name onto the platform's allowed charset.
func SanitizeSpaceName(name string) string {
	return strings.Trim(unsafeNameChars.ReplaceAllString(strings.TrimSpace(name), "-"), "-")
}

// Validate checks every field without touching the network and returns the
// parsed repository reference.
func (r Request) Validate() (source.RepoRef, error) {
	if strings.TrimSpace(r.Namespace) == "" {
		return source.RepoRef{}, &domain.InputError{Field: "namespace", Reason: "is required"}
	}
	if strings.TrimSpace(r.SpaceName) == "" {
		return source.RepoRef{}, &domain.InputError{Field: "space_name", Reason: "is required"}
	}
	if SanitizeSpaceName(r.SpaceName) == "" {
		return source.RepoRef{}, &domain.InputError{Field: "space_name", Reason: "has no usable characters"}
	}
	if strings.TrimSpace(r.RepoURL) == "" {
		return source.RepoRef{}, &domain.InputError{Field: "repo_url", Reason: "is required"}
	}
	ref, err := source.ParseRepoURL(r.RepoURL)
	if err != nil {
		return source.RepoRef{}, &domain.InputError{Field: "repo_url", Reason: err.Error()}
	}
	return ref, nil
}

// Target returns the deployment target named by the request.
func (r Request) Target() domain.DeploymentTarget {
	return domain.DeploymentTarget{
		Namespace: strings.TrimSpace(r.Namespace),
		Name:      SanitizeSpaceName(r.SpaceName),
		Private:   r.Private,
	}
}
