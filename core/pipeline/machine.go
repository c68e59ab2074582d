// Package pipeline runs the automated validation of new submissions and
// records the outcome on the submission.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/artifacts"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/bus"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/logging"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/metrics"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/secrets"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/manifest"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/registry"
)

const (
	MsgInvalidURL        = "Invalid Repository URL."
	MsgNotGitHub         = "URL must be a valid GitHub repository."
	MsgSecurityViolation = "Security Violation: Potential API Key detected in manifest."
	MsgMissingFields     = "Manifest missing required fields: name, description."
	MsgVerified          = "Manifest verified. Waiting for admin approval."
	MsgInternal          = "Internal processing error during validation."

	defaultRunTimeout = 60 * time.Second
	retryDelay        = 5 * time.Second
)

// Fetcher retrieves the manifest of a repository.
type Fetcher interface {
	Fetch(ctx context.Context, repo manifest.Repo) (*manifest.Fetched, error)
}

// Publisher emits status events.
type Publisher interface {
	Publish(subject string, ev *bus.Event) error
}

// Config tunes a Machine.
type Config struct {
	Settings       manifest.Settings
	DefaultVersion string
	RunTimeout     time.Duration
	Metrics        metrics.PipelineMetrics
	Events         Publisher
	// Snapshots keeps the fetched manifest text. Optional.
	Snapshots artifacts.Store
}

// Machine maps each submission to pending, rejected or error.
type Machine struct {
	store   registry.Store
	fetcher Fetcher
	scanner *secrets.Scanner
	cfg     Config
}

func NewMachine(store registry.Store, fetcher Fetcher, scanner *secrets.Scanner, cfg Config) *Machine {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaultRunTimeout
	}
	if cfg.DefaultVersion == "" {
		cfg.DefaultVersion = manifest.DefaultVersion
	}
	if cfg.Settings.ManifestFile == "" || len(cfg.Settings.Branches) == 0 {
		cfg.Settings = manifest.DefaultSettings()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Noop{}
	}
	return &Machine{store: store, fetcher: fetcher, scanner: scanner, cfg: cfg}
}

// HandleCreated is the bus handler for SubjectSubmissionCreated.
func (m *Machine) HandleCreated(ev *bus.Event) error {
	if ev == nil || strings.TrimSpace(ev.SubmissionID) == "" {
		return nil
	}
	err := m.Process(context.Background(), ev.SubmissionID)
	if err == nil {
		return nil
	}
	if errors.Is(err, registry.ErrNotFound) {
		logging.Error("pipeline", "submission missing for trigger", "submission_id", ev.SubmissionID)
		return nil
	}
	return bus.RetryAfter(err, retryDelay)
}

// Process validates one submission and persists the outcome. Content and system
// failures both end up on the document; only store failures are returned.
func (m *Machine) Process(ctx context.Context, id string) error {
	sub, err := m.store.GetSubmission(ctx, id)
	if err != nil {
		return fmt.Errorf("load submission %s: %w", id, err)
	}
	if sub.Status != registry.StatusPending {
		logging.Info("pipeline", "skipping decided submission", "submission_id", id, "status", sub.Status)
		return nil
	}

	start := time.Now()
	outcome := m.Evaluate(ctx, sub)
	m.cfg.Metrics.ObserveValidationDuration(time.Since(start).Seconds())

	applied, err := m.store.ApplyValidation(ctx, id, outcome)
	if err != nil {
		return fmt.Errorf("apply validation %s: %w", id, err)
	}
	if !applied {
		logging.Info("pipeline", "submission decided during validation", "submission_id", id)
		return nil
	}
	m.cfg.Metrics.IncSubmissionsProcessed(string(outcome.Status))
	logging.Info("pipeline", "submission validated", "submission_id", id, "status", outcome.Status, "message", outcome.Message)
	m.publish(id, outcome)
	return nil
}

// Evaluate runs the ordered checks. It never fails: unexpected errors,
// panics and the run deadline all become the error state.
func (m *Machine) Evaluate(ctx context.Context, sub *registry.Submission) (out registry.Validation) {
	runCtx, cancel := context.WithTimeout(ctx, m.cfg.RunTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			logging.Error("pipeline", "validation panic", "submission_id", sub.ID, "panic", r)
			out = internalOutcome()
		}
	}()

	out, err := m.evaluate(runCtx, sub)
	if err != nil {
		logging.Error("pipeline", "validation failed", "submission_id", sub.ID, "repo", sub.RepoURL, "error", err)
		return internalOutcome()
	}
	return out
}

func (m *Machine) evaluate(ctx context.Context, sub *registry.Submission) (registry.Validation, error) {
	repo, err := manifest.ParseRepoURL(sub.RepoURL)
	switch {
	case errors.Is(err, manifest.ErrInvalidURL):
		return rejected(MsgInvalidURL), nil
	case errors.Is(err, manifest.ErrNotGitHubRepo):
		return rejected(MsgNotGitHub), nil
	case err != nil:
		return registry.Validation{}, err
	}

	fetched, err := m.fetcher.Fetch(ctx, repo)
	if err != nil {
		if errors.Is(err, manifest.ErrManifestNotFound) {
			return rejected(manifest.NotFoundMessage(m.cfg.Settings)), nil
		}
		return registry.Validation{}, err
	}

	if findings := m.scanner.Scan(fetched.Text); len(findings) > 0 {
		logging.Warn("pipeline", "security alert: potential API key detected",
			"submission_id", sub.ID,
			"repo", sub.RepoURL,
			"rules", strings.Join(secrets.Rules(findings), ","),
		)
		m.cfg.Metrics.IncSecurityViolations()
		out := rejected(MsgSecurityViolation)
		out.Snapshot = m.snapshot(ctx, sub.ID, fetched, secrets.Redact(fetched.Text, findings), artifacts.RetentionAudit)
		return out, nil
	}

	parsed, err := manifest.Validate(fetched.Text, m.cfg.DefaultVersion)
	switch {
	case errors.Is(err, manifest.ErrInvalidJSON):
		return rejected(m.cfg.Settings.ManifestFile + " is not valid JSON."), nil
	case errors.Is(err, manifest.ErrMissingFields):
		return rejected(MsgMissingFields), nil
	case err != nil:
		return registry.Validation{}, err
	}
	if err := ctx.Err(); err != nil {
		return registry.Validation{}, err
	}

	return registry.Validation{
		Status:      registry.StatusPending,
		Message:     MsgVerified,
		Verified:    true,
		Name:        parsed.Name,
		Description: parsed.Description,
		Version:     parsed.Version,
		ManifestURL: fetched.URL,
		ImageURL:    manifest.ResolveImage(parsed.ImageURL, sub.OriginalImageURL()),
		License:     parsed.License,
		PackageURL:  manifest.PackageURL(repo, parsed.Version),
		Snapshot:    m.snapshot(ctx, sub.ID, fetched, fetched.Text, artifacts.RetentionStandard),
	}, nil
}

// snapshot stores the manifest text and returns its pointer. Failures only
// cost the reviewer the snapshot, so they are logged and swallowed.
func (m *Machine) snapshot(ctx context.Context, id string, fetched *manifest.Fetched, text string, retention artifacts.RetentionClass) string {
	if m.cfg.Snapshots == nil {
		return ""
	}
	ptr, err := m.cfg.Snapshots.Put(ctx, []byte(text), artifacts.Metadata{
		SubmissionID: id,
		SourceURL:    fetched.URL,
		ContentType:  "application/json",
		Redacted:     retention == artifacts.RetentionAudit,
		Retention:    retention,
	})
	if err != nil {
		logging.Warn("pipeline", "store manifest snapshot failed", "submission_id", id, "error", err)
		return ""
	}
	return ptr
}

func (m *Machine) publish(id string, outcome registry.Validation) {
	if m.cfg.Events == nil {
		return
	}
	ev := bus.NewEvent(id, string(outcome.Status), outcome.Message, "validator")
	if err := m.cfg.Events.Publish(bus.SubjectSubmissionUpdated, ev); err != nil {
		logging.Error("pipeline", "publish status event failed", "submission_id", id, "error", err)
	}
}

func rejected(msg string) registry.Validation {
	return registry.Validation{Status: registry.StatusRejected, Message: msg}
}

func internalOutcome() registry.Validation {
	return registry.Validation{Status: registry.StatusError, Message: MsgInternal}
}
