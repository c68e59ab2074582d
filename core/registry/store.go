package registry

import (
	"context"
	"time"
)

// Store persists submissions and catalog entries.
type Store interface {
	CreateSubmission(ctx context.Context, sub *Submission) error
	GetSubmission(ctx context.Context, id string) (*Submission, error)
	ListSubmissions(ctx context.Context, filter ListFilter) ([]Submission, error)
	// ApplyValidation writes a pipeline outcome while the submission is still pending.
	// It reports false when the submission moved on and nothing was written.
	ApplyValidation(ctx context.Context, id string, v Validation) (bool, error)
	// Approve creates the entry and marks the submission approved in one transaction.
	Approve(ctx context.Context, id, approver string, at time.Time) (*Entry, error)
	Reject(ctx context.Context, id, rejecter string, at time.Time) (*Submission, error)
	Resubmit(ctx context.Context, id string, at time.Time) (*Submission, error)
	ListUnvalidatedPending(ctx context.Context, queuedBefore time.Time, limit int64) ([]Submission, error)
	GetEntry(ctx context.Context, id string) (*Entry, error)
	ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error)
}
