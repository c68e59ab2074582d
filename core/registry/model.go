// Package registry holds submissions and the public catalog entries derived from them.
package registry

import (
	"errors"
	"strings"
	"time"
)

// Status is the lifecycle state of a submission.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusError    Status = "error"
)

// Valid reports whether s is one of the four persisted states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusError:
		return true
	}
	return false
}

// ParseStatus normalizes user input into a Status.
func ParseStatus(raw string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	return s, s.Valid()
}

// Category distinguishes persona bundles from standalone tools.
type Category string

const (
	CategoryPersona Category = "persona"
	CategoryTool    Category = "tool"
)

func (c Category) Valid() bool {
	return c == CategoryPersona || c == CategoryTool
}

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrInvalid  = errors.New("invalid")
)

// Submission is one user-proposed extension.
type Submission struct {
	ID                string     `json:"id"`
	RepoURL           string     `json:"repo_url"`
	Category          Category   `json:"category"`
	Name              string     `json:"name"`
	Description       string     `json:"description"`
	Tags              []string   `json:"tags,omitempty"`
	Tools             []string   `json:"tools,omitempty"`
	ImageURL          string     `json:"image_url,omitempty"`
	SubmittedImageURL string     `json:"submitted_image_url,omitempty"`
	SubmittedBy       string     `json:"submitted_by"`
	SubmittedByEmail  string     `json:"submitted_by_email,omitempty"`
	Status            Status     `json:"status"`
	StatusMessage     string     `json:"status_message,omitempty"`
	ManifestURL       string     `json:"manifest_url,omitempty"`
	ManifestSnapshot  string     `json:"manifest_snapshot,omitempty"`
	Version           string     `json:"version,omitempty"`
	License           string     `json:"license,omitempty"`
	PackageURL        string     `json:"package_url,omitempty"`
	RegistryID        string     `json:"registry_id,omitempty"`
	ApprovedBy        string     `json:"approved_by,omitempty"`
	RejectedBy        string     `json:"rejected_by,omitempty"`
	SubmittedAt       time.Time  `json:"submitted_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	ValidatedAt       *time.Time `json:"validated_at,omitempty"`
	ApprovedAt        *time.Time `json:"approved_at,omitempty"`
	RejectedAt        *time.Time `json:"rejected_at,omitempty"`
	ResubmittedAt     *time.Time `json:"resubmitted_at,omitempty"`
}

// Validate checks intake fields.
func (s *Submission) Validate() error {
	if s == nil {
		return ErrInvalid
	}
	if strings.TrimSpace(s.ID) == "" {
		return errors.Join(ErrInvalid, errors.New("id required"))
	}
	if strings.TrimSpace(s.SubmittedBy) == "" {
		return errors.Join(ErrInvalid, errors.New("submitter required"))
	}
	if s.Category != "" && !s.Category.Valid() {
		return errors.Join(ErrInvalid, errors.New("category must be persona or tool"))
	}
	if len(s.Tools) > 0 && s.Category != CategoryPersona {
		return errors.Join(ErrInvalid, errors.New("tools only apply to personas"))
	}
	return nil
}

// OriginalImageURL is the image the submitter supplied at intake. Documents
// written before the field existed fall back to ImageURL.
func (s *Submission) OriginalImageURL() string {
	if s.SubmittedImageURL != "" {
		return s.SubmittedImageURL
	}
	return s.ImageURL
}

// QueuedAt is when the submission last entered pending.
func (s *Submission) QueuedAt() time.Time {
	if s.ResubmittedAt != nil {
		return *s.ResubmittedAt
	}
	return s.SubmittedAt
}

// Entry is the public projection of an approved submission. ID equals the submission id.
type Entry struct {
	ID               string    `json:"id"`
	RepoURL          string    `json:"repo_url"`
	Category         Category  `json:"category"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	Tags             []string  `json:"tags,omitempty"`
	Tools            []string  `json:"tools,omitempty"`
	ImageURL         string    `json:"image_url,omitempty"`
	ManifestURL      string    `json:"manifest_url,omitempty"`
	Version          string    `json:"version,omitempty"`
	License          string    `json:"license,omitempty"`
	PackageURL       string    `json:"package_url,omitempty"`
	SubmittedBy      string    `json:"submitted_by"`
	SubmittedByEmail string    `json:"submitted_by_email,omitempty"`
	Status           Status    `json:"status"`
	SubmittedAt      time.Time `json:"submitted_at"`
	ApprovedBy       string    `json:"approved_by"`
	ApprovedAt       time.Time `json:"approved_at"`
}

// NewEntry copies the descriptive fields of sub and stamps the approver.
func NewEntry(sub *Submission, approver string, at time.Time) *Entry {
	return &Entry{
		ID:               sub.ID,
		RepoURL:          sub.RepoURL,
		Category:         sub.Category,
		Name:             sub.Name,
		Description:      sub.Description,
		Tags:             append([]string(nil), sub.Tags...),
		Tools:            append([]string(nil), sub.Tools...),
		ImageURL:         sub.ImageURL,
		ManifestURL:      sub.ManifestURL,
		Version:          sub.Version,
		License:          sub.License,
		PackageURL:       sub.PackageURL,
		SubmittedBy:      sub.SubmittedBy,
		SubmittedByEmail: sub.SubmittedByEmail,
		Status:           StatusApproved,
		SubmittedAt:      sub.SubmittedAt,
		ApprovedBy:       approver,
		ApprovedAt:       at,
	}
}

// Matches reports whether the entry passes a catalog filter.
func (e *Entry) Matches(f EntryFilter) bool {
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	q := strings.ToLower(strings.TrimSpace(f.Query))
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(e.Name), q) || strings.Contains(strings.ToLower(e.Description), q) {
		return true
	}
	for _, tag := range e.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

// Validation is the outcome of one pipeline run.
type Validation struct {
	Status      Status
	Message     string
	Verified    bool
	Name        string
	Description string
	Version     string
	ManifestURL string
	ImageURL    string
	License     string
	PackageURL  string

	// Snapshot points at the stored manifest text, when one was kept.
	Snapshot string
}

// ListFilter narrows submission listings.
type ListFilter struct {
	SubmittedBy string
	Status      Status
	Limit       int64
}

// EntryFilter narrows catalog listings.
type EntryFilter struct {
	Category Category
	Query    string
	Limit    int64
}
