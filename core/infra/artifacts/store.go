// Package artifacts keeps manifest snapshots captured during validation so
// reviewers can see exactly what was evaluated.
package artifacts

import (
	"context"
	"errors"
	"time"
)

// RetentionClass controls how long a snapshot is kept.
type RetentionClass string

const (
	RetentionShort    RetentionClass = "short"
	RetentionStandard RetentionClass = "standard"
	RetentionAudit    RetentionClass = "audit"
)

var (
	// ErrNotFound is returned when a pointer does not resolve to a stored snapshot.
	ErrNotFound = errors.New("artifact not found")
	// ErrCorrupt means the stored bytes no longer match their recorded digest.
	ErrCorrupt = errors.New("artifact digest mismatch")
)

// Metadata describes a stored snapshot. Size, digest and storage time are
// filled in by the store.
type Metadata struct {
	SubmissionID string         `json:"submission_id,omitempty"`
	SourceURL    string         `json:"source_url,omitempty"`
	ContentType  string         `json:"content_type,omitempty"`
	SizeBytes    int64          `json:"size_bytes,omitempty"`
	Digest       string         `json:"digest,omitempty"`
	Redacted     bool           `json:"redacted,omitempty"`
	Retention    RetentionClass `json:"retention,omitempty"`
	StoredAt     time.Time      `json:"stored_at,omitempty"`
}

// Store puts and resolves snapshot pointers.
type Store interface {
	Put(ctx context.Context, content []byte, meta Metadata) (string, error)
	Get(ctx context.Context, ptr string) ([]byte, Metadata, error)
}
