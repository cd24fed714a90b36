// Package workflow is the approval layer over policy change requests
// and finding exceptions. It validates requests before anything is
// persisted as pending, applies default expiry windows, and exposes the
// approver's self-approval shortcut. State transitions themselves live
// in the persistence layer, where they are atomic compare-and-set
// updates with audit entries.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/modelguard/modelguard/internal/config"
	"github.com/modelguard/modelguard/internal/data/db"
	"github.com/modelguard/modelguard/internal/data/model"
	"github.com/modelguard/modelguard/pkg/policy"
)

// ErrValidation marks a malformed request rejected before persistence.
var ErrValidation = errors.New("invalid workflow request")

// Service wraps the workflow manager with request validation and
// defaulting.
type Service struct {
	manager db.WorkflowManager
	cfg     *config.Engine
}

// NewService creates a workflow Service.
func NewService(manager db.WorkflowManager, cfg *config.Engine) (*Service, error) {
	if manager == nil {
		return nil, fmt.Errorf("manager cannot be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("cfg cannot be nil")
	}
	return &Service{manager: manager, cfg: cfg}, nil
}

// RequestPolicyChange validates and persists a new pending policy change
// request. Requests are immutable once created; a change of mind means a
// new request.
func (s *Service) RequestPolicyChange(ctx context.Context, req *model.PolicyChangeRequest) error {
	if req == nil {
		return fmt.Errorf("%w: request cannot be nil", ErrValidation)
	}
	if req.TenantID == "" {
		return fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	if req.RequesterID == "" {
		return fmt.Errorf("%w: requester is required", ErrValidation)
	}
	if req.Rationale == "" {
		return fmt.Errorf("%w: rationale is required", ErrValidation)
	}
	if err := req.Content.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.PolicyType == "" {
		req.PolicyType = policy.DefaultPolicyType
	}
	req.Status = model.RequestPending
	if req.ExpiresAt == nil {
		expires := time.Now().Add(s.cfg.PolicyRequestExpiry)
		req.ExpiresAt = &expires
	}
	return s.manager.CreatePolicyChangeRequest(ctx, req)
}

// ApprovePolicyChange approves a pending request, atomically activating
// the new policy version and superseding the prior active one.
func (s *Service) ApprovePolicyChange(ctx context.Context, id, approver, comment string) (*model.PolicyChangeRequest, *model.Policy, error) {
	if approver == "" {
		return nil, nil, fmt.Errorf("%w: approver is required", ErrValidation)
	}
	return s.manager.ApprovePolicyChangeRequest(ctx, id, approver, comment)
}

// RejectPolicyChange rejects a pending request.
func (s *Service) RejectPolicyChange(ctx context.Context, id, approver, comment string) (*model.PolicyChangeRequest, error) {
	if approver == "" {
		return nil, fmt.Errorf("%w: approver is required", ErrValidation)
	}
	return s.manager.RejectPolicyChangeRequest(ctx, id, approver, comment)
}

// ApplyPolicyChange is the approver self-approval shortcut: the request
// is created and approved in one call, skipping the pending queue. This
// is the only way around the two-party flow.
func (s *Service) ApplyPolicyChange(ctx context.Context, req *model.PolicyChangeRequest, approver string) (*model.Policy, error) {
	if approver == "" {
		return nil, fmt.Errorf("%w: approver is required", ErrValidation)
	}
	if err := s.RequestPolicyChange(ctx, req); err != nil {
		return nil, err
	}
	_, pol, err := s.manager.ApprovePolicyChangeRequest(ctx, req.ID, approver, "self-approved")
	return pol, err
}

// RequestException validates and persists a new pending exception. The
// spec must pin a finding id or carry at least one bulk match field.
func (s *Service) RequestException(ctx context.Context, exception *model.Exception) error {
	if exception == nil {
		return fmt.Errorf("%w: exception cannot be nil", ErrValidation)
	}
	if exception.TenantID == "" {
		return fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	if exception.RequesterID == "" {
		return fmt.Errorf("%w: requester is required", ErrValidation)
	}
	if exception.Rationale == "" {
		return fmt.Errorf("%w: rationale is required", ErrValidation)
	}
	if exception.FindingID == "" && exception.RuleID == "" &&
		exception.FileGlob == "" && exception.Category == "" {
		return fmt.Errorf("%w: exception must reference a finding or a match spec", ErrValidation)
	}
	if exception.FileGlob != "" && !doublestar.ValidatePattern(exception.FileGlob) {
		return fmt.Errorf("%w: invalid file glob %q", ErrValidation, exception.FileGlob)
	}
	if exception.ScheduledActivation != nil && exception.ExpiresAt != nil &&
		!exception.ScheduledActivation.Before(*exception.ExpiresAt) {
		return fmt.Errorf("%w: scheduled activation is not before expiry", ErrValidation)
	}

	if exception.ID == "" {
		exception.ID = uuid.NewString()
	}
	exception.Status = model.RequestPending
	if exception.ExpiresAt == nil {
		expires := time.Now().Add(s.cfg.ExceptionRequestExpiry)
		exception.ExpiresAt = &expires
	}
	return s.manager.CreateException(ctx, exception)
}

// ApproveException approves a pending exception. Suppression still
// waits for any scheduled activation.
func (s *Service) ApproveException(ctx context.Context, id, approver, comment string) (*model.Exception, error) {
	if approver == "" {
		return nil, fmt.Errorf("%w: approver is required", ErrValidation)
	}
	return s.manager.ApproveException(ctx, id, approver, comment)
}

// RejectException rejects a pending exception.
func (s *Service) RejectException(ctx context.Context, id, approver, comment string) (*model.Exception, error) {
	if approver == "" {
		return nil, fmt.Errorf("%w: approver is required", ErrValidation)
	}
	return s.manager.RejectException(ctx, id, approver, comment)
}

// ApplyException is the approver self-approval shortcut for exceptions.
func (s *Service) ApplyException(ctx context.Context, exception *model.Exception, approver string) (*model.Exception, error) {
	if approver == "" {
		return nil, fmt.Errorf("%w: approver is required", ErrValidation)
	}
	if err := s.RequestException(ctx, exception); err != nil {
		return nil, err
	}
	return s.manager.ApproveException(ctx, exception.ID, approver, "self-approved")
}

// AuditTrail returns the immutable transition history of one entity.
func (s *Service) AuditTrail(ctx context.Context, entityID string) ([]model.AuditEntry, error) {
	return s.manager.ListAuditEntries(ctx, entityID)
}
