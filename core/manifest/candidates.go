package manifest

import (
	"strings"
)

// Settings controls where manifests are looked up.
type Settings struct {
	RawBaseURL   string
	ManifestFile string
	Branches     []string
}

// DefaultSettings looks for gemini-extension.json on main, then master.
func DefaultSettings() Settings {
	return Settings{
		RawBaseURL:   "https://raw.githubusercontent.com",
		ManifestFile: "gemini-extension.json",
		Branches:     []string{"main", "master"},
	}
}

// Candidate is one location a manifest may live at.
type Candidate struct {
	Branch string
	URL    string
}

// Candidates lists manifest locations in the order they are tried.
func Candidates(repo Repo, s Settings) []Candidate {
	base := strings.TrimRight(s.RawBaseURL, "/")
	file := strings.TrimPrefix(s.ManifestFile, "/")
	out := make([]Candidate, 0, len(s.Branches))
	for _, branch := range s.Branches {
		out = append(out, Candidate{
			Branch: branch,
			URL:    base + "/" + repo.Owner + "/" + repo.Name + "/" + branch + "/" + file,
		})
	}
	return out
}

// NotFoundMessage names the manifest file and every branch that was tried.
func NotFoundMessage(s Settings) string {
	return "Could not find " + s.ManifestFile + " in " + joinOr(s.Branches) + " branch."
}

func joinOr(items []string) string {
	switch len(items) {
	case 0:
		return "any"
	case 1:
		return items[0]
	case 2:
		return items[0] + " or " + items[1]
	}
	return strings.Join(items[:len(items)-1], ", ") + " or " + items[len(items)-1]
}
