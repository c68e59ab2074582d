// Package review holds the privileged submission operations and the
// authorization gate in front of them.
package review

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/identity"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/bus"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/logging"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/metrics"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/registry"
)

const (
	opApprove  = "approve"
	opReject   = "reject"
	opGrant    = "grant_admin"
	opResubmit = "resubmit"

	msgInternal = "internal error"
)

// Publisher emits bus events.
type Publisher interface {
	Publish(subject string, ev *bus.Event) error
}

// ApproveResult is returned by Approve.
type ApproveResult struct {
	Success    bool   `json:"success"`
	RegistryID string `json:"registryId"`
}

// Result is returned by the operations that only report success.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Service gates and performs approve, reject, grant-admin and resubmit.
type Service struct {
	store   registry.Store
	ids     identity.Provider
	events  Publisher
	metrics metrics.PipelineMetrics
	now     func() time.Time
}

func NewService(store registry.Store, ids identity.Provider, events Publisher, m metrics.PipelineMetrics) *Service {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Service{store: store, ids: ids, events: events, metrics: m, now: time.Now}
}

// Authenticate verifies a bearer token.
func (s *Service) Authenticate(ctx context.Context, token string) (*identity.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" || s.ids == nil {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	id, err := s.ids.VerifyToken(ctx, token)
	if err != nil {
		logging.Info("review", "token rejected", "error", err)
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	return id, nil
}

// authorizeAdmin admits only verified tokens carrying the admin claim.
func (s *Service) authorizeAdmin(ctx context.Context, token string) (*identity.Identity, error) {
	id, err := s.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	if !id.Admin() {
		return nil, status.Error(codes.PermissionDenied, "admin role required")
	}
	return id, nil
}

func (s *Service) Approve(ctx context.Context, token, submissionID string) (*ApproveResult, error) {
	admin, err := s.authorizeAdmin(ctx, token)
	if err != nil {
		s.metrics.IncPrivilegedOps(opApprove, outcomeOf(err))
		return nil, err
	}
	submissionID = strings.TrimSpace(submissionID)
	if submissionID == "" {
		s.metrics.IncPrivilegedOps(opApprove, "invalid_argument")
		return nil, status.Error(codes.InvalidArgument, "submission id is required")
	}

	entry, err := s.store.Approve(ctx, submissionID, admin.UID, s.now().UTC())
	if err != nil {
		err = s.storeError(opApprove, submissionID, err, "submission is not pending")
		s.metrics.IncPrivilegedOps(opApprove, outcomeOf(err))
		return nil, err
	}
	s.metrics.IncPrivilegedOps(opApprove, "ok")
	logging.Info("review", "submission approved", "submission_id", submissionID, "registry_id", entry.ID, "admin", admin.UID)
	s.publish(bus.SubjectSubmissionUpdated, bus.NewEvent(submissionID, string(registry.StatusApproved), "", admin.UID))
	return &ApproveResult{Success: true, RegistryID: entry.ID}, nil
}

func (s *Service) Reject(ctx context.Context, token, submissionID string) (*Result, error) {
	admin, err := s.authorizeAdmin(ctx, token)
	if err != nil {
		s.metrics.IncPrivilegedOps(opReject, outcomeOf(err))
		return nil, err
	}
	submissionID = strings.TrimSpace(submissionID)
	if submissionID == "" {
		s.metrics.IncPrivilegedOps(opReject, "invalid_argument")
		return nil, status.Error(codes.InvalidArgument, "submission id is required")
	}

	if _, err := s.store.Reject(ctx, submissionID, admin.UID, s.now().UTC()); err != nil {
		err = s.storeError(opReject, submissionID, err, "")
		s.metrics.IncPrivilegedOps(opReject, outcomeOf(err))
		return nil, err
	}
	s.metrics.IncPrivilegedOps(opReject, "ok")
	logging.Info("review", "submission rejected", "submission_id", submissionID, "admin", admin.UID)
	s.publish(bus.SubjectSubmissionUpdated, bus.NewEvent(submissionID, string(registry.StatusRejected), "", admin.UID))
	return &Result{Success: true}, nil
}

// GrantAdmin merges the admin claim into the claims of the account behind email.
func (s *Service) GrantAdmin(ctx context.Context, token, email string) (*Result, error) {
	admin, err := s.authorizeAdmin(ctx, token)
	if err != nil {
		s.metrics.IncPrivilegedOps(opGrant, outcomeOf(err))
		return nil, err
	}
	email = strings.TrimSpace(email)
	if email == "" {
		s.metrics.IncPrivilegedOps(opGrant, "invalid_argument")
		return nil, status.Error(codes.InvalidArgument, "email is required")
	}

	user, err := s.ids.GetUserByEmail(ctx, email)
	if err != nil {
		logging.Error("review", "grant admin lookup failed", "email", email, "error", err)
		s.metrics.IncPrivilegedOps(opGrant, "internal")
		return nil, status.Error(codes.Internal, msgInternal)
	}
	if _, err := s.ids.MergeCustomClaims(ctx, user.UID, map[string]any{identity.ClaimAdmin: true}); err != nil {
		logging.Error("review", "grant admin failed", "email", email, "uid", user.UID, "error", err)
		s.metrics.IncPrivilegedOps(opGrant, "internal")
		return nil, status.Error(codes.Internal, msgInternal)
	}
	s.metrics.IncPrivilegedOps(opGrant, "ok")
	logging.Info("review", "admin role granted", "uid", user.UID, "granted_by", admin.UID)
	return &Result{Success: true, Message: "Admin role granted to " + email}, nil
}

// Resubmit puts the caller's own submission back through validation.
func (s *Service) Resubmit(ctx context.Context, token, submissionID string) (*Result, error) {
	caller, err := s.Authenticate(ctx, token)
	if err != nil {
		s.metrics.IncPrivilegedOps(opResubmit, outcomeOf(err))
		return nil, err
	}
	submissionID = strings.TrimSpace(submissionID)
	if submissionID == "" {
		s.metrics.IncPrivilegedOps(opResubmit, "invalid_argument")
		return nil, status.Error(codes.InvalidArgument, "submission id is required")
	}

	sub, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		err = s.storeError(opResubmit, submissionID, err, "")
		s.metrics.IncPrivilegedOps(opResubmit, outcomeOf(err))
		return nil, err
	}
	if sub.SubmittedBy != caller.UID {
		s.metrics.IncPrivilegedOps(opResubmit, "permission_denied")
		return nil, status.Error(codes.PermissionDenied, "only the submitter may resubmit")
	}
	if _, err := s.store.Resubmit(ctx, submissionID, s.now().UTC()); err != nil {
		err = s.storeError(opResubmit, submissionID, err, "approved submissions cannot be resubmitted")
		s.metrics.IncPrivilegedOps(opResubmit, outcomeOf(err))
		return nil, err
	}
	s.metrics.IncPrivilegedOps(opResubmit, "ok")
	logging.Info("review", "submission resubmitted", "submission_id", submissionID, "uid", caller.UID)
	s.publish(bus.SubjectSubmissionCreated, bus.NewEvent(submissionID, string(registry.StatusPending), "", caller.UID))
	return &Result{Success: true}, nil
}

func (s *Service) storeError(op, id string, err error, conflictMsg string) error {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return status.Error(codes.NotFound, "submission not found")
	case errors.Is(err, registry.ErrConflict) && conflictMsg != "":
		return status.Error(codes.FailedPrecondition, conflictMsg)
	default:
		logging.Error("review", op+" failed", "submission_id", id, "error", err)
		return status.Error(codes.Internal, msgInternal)
	}
}

func (s *Service) publish(subject string, ev *bus.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(subject, ev); err != nil {
		logging.Error("review", "publish failed", "subject", subject, "submission_id", ev.SubmissionID, "error", err)
	}
}

func outcomeOf(err error) string {
	switch status.Code(err) {
	case codes.OK:
		return "ok"
	case codes.Unauthenticated:
		return "unauthenticated"
	case codes.PermissionDenied:
		return "permission_denied"
	case codes.InvalidArgument:
		return "invalid_argument"
	case codes.NotFound:
		return "not_found"
	case codes.FailedPrecondition:
		return "failed_precondition"
	default:
		return "internal"
	}
}
