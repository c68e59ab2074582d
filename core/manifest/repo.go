// Package manifest locates, retrieves and validates the extension manifest of a
// submitted repository.
package manifest

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrInvalidURL means the value is absent or not an http(s) URL.
	ErrInvalidURL = errors.New("invalid repository url")
	// ErrNotGitHubRepo means the URL does not name a GitHub owner/repo.
	ErrNotGitHubRepo = errors.New("not a github repository url")
)

var repoPattern = regexp.MustCompile(`^https://github\.com/([^/]+)/([^/]+)`)

// Repo identifies a GitHub repository.
type Repo struct {
	Owner string
	Name  string
}

func (r Repo) String() string {
	return r.Owner + "/" + r.Name
}

// ParseRepoURL extracts owner and repository name, stripping a trailing .git.
func ParseRepoURL(raw string) (Repo, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.HasPrefix(raw, "http") {
		return Repo{}, ErrInvalidURL
	}
	m := repoPattern.FindStringSubmatch(raw)
	if m == nil {
		return Repo{}, fmt.Errorf("%w: %s", ErrNotGitHubRepo, raw)
	}
	name := strings.TrimSuffix(m[2], ".git")
	if name == "" {
		return Repo{}, fmt.Errorf("%w: %s", ErrNotGitHubRepo, raw)
	}
	return Repo{Owner: m[1], Name: name}, nil
}
