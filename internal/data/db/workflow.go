package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/modelguard/modelguard/internal/data/model"
	"github.com/modelguard/modelguard/internal/log"
)

// WorkflowManager persists the approval state machine shared by policy
// change requests and exceptions. Every transition is a compare-and-set
// on the pending status plus an audit entry, inside one transaction, so
// a concurrent approval and expiration of the same request resolve to
// exactly one terminal state.
type WorkflowManager interface {
	CreatePolicyChangeRequest(ctx context.Context, req *model.PolicyChangeRequest) error
	GetPolicyChangeRequest(ctx context.Context, id string) (*model.PolicyChangeRequest, error)
	// ApprovePolicyChangeRequest atomically marks the request approved,
	// supersedes the prior active policy version, and activates the new one.
	ApprovePolicyChangeRequest(ctx context.Context, id, approver, comment string) (*model.PolicyChangeRequest, *model.Policy, error)
	RejectPolicyChangeRequest(ctx context.Context, id, approver, comment string) (*model.PolicyChangeRequest, error)

	CreateException(ctx context.Context, exception *model.Exception) error
	GetException(ctx context.Context, id string) (*model.Exception, error)
	ApproveException(ctx context.Context, id, approver, comment string) (*model.Exception, error)
	RejectException(ctx context.Context, id, approver, comment string) (*model.Exception, error)
	// ListEffectiveExceptions returns approved exceptions whose scheduled
	// activation has passed and which have not expired, as of now.
	ListEffectiveExceptions(ctx context.Context, tenantID string, now time.Time) ([]model.Exception, error)

	// ExpireOverduePolicyRequests expires pending requests past their
	// expires_at. Returns how many rows transitioned.
	ExpireOverduePolicyRequests(ctx context.Context, now time.Time) (int, error)
	// ExpireExceptions expires pending exceptions past their expires_at
	// and approved exceptions whose effect window has ended.
	ExpireExceptions(ctx context.Context, now time.Time) (int, error)
	// InvalidateException marks an exception invalid because its finding
	// no longer exists. The exception row is kept for audit.
	InvalidateException(ctx context.Context, id, comment string) error
	// ListFindingBoundExceptions returns pending and approved exceptions
	// pinned to a specific finding, for orphan detection.
	ListFindingBoundExceptions(ctx context.Context) ([]model.Exception, error)

	// ListAuditEntries returns the audit trail for one entity, oldest first.
	ListAuditEntries(ctx context.Context, entityID string) ([]model.AuditEntry, error)
}

// GormWorkflowManager implements WorkflowManager using a GORM DB connection.
type GormWorkflowManager struct {
	db *gorm.DB
}

// NewGormWorkflowManager creates a new GormWorkflowManager.
func NewGormWorkflowManager(db *gorm.DB) (*GormWorkflowManager, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	return &GormWorkflowManager{db: db}, nil
}

// CreatePolicyChangeRequest persists a new pending (or pre-approved) request.
func (manager *GormWorkflowManager) CreatePolicyChangeRequest(ctx context.Context,
	req *model.PolicyChangeRequest) error {
	if ctx == nil {
		return fmt.Errorf("ctx cannot be nil")
	}
	if req == nil {
		return fmt.Errorf("req cannot be nil")
	}
	if err := manager.db.WithContext(ctx).Create(req).Error; err != nil {
		return fmt.Errorf("error creating policy change request: %w", err)
	}
	return nil
}

// GetPolicyChangeRequest retrieves a policy change request by id.
func (manager *GormWorkflowManager) GetPolicyChangeRequest(ctx context.Context,
	id string) (*model.PolicyChangeRequest, error) {
	var req model.PolicyChangeRequest
	err := manager.db.WithContext(ctx).First(&req, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("policy change request %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("error retrieving policy change request: %w", err)
	}
	return &req, nil
}

// ApprovePolicyChangeRequest atomically approves the request and swaps the
// active policy version for the tenant.
func (manager *GormWorkflowManager) ApprovePolicyChangeRequest(ctx context.Context,
	id, approver, comment string) (*model.PolicyChangeRequest, *model.Policy, error) {
	if ctx == nil {
		return nil, nil, fmt.Errorf("ctx cannot be nil")
	}
	logger := log.NewLogger(ctx)

	var req model.PolicyChangeRequest
	var newPolicy model.Policy
	err := manager.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&req, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("policy change request %s: %w", id, ErrNotFound)
			}
			return fmt.Errorf("error finding policy change request: %w", err)
		}

		now := time.Now()
		res := tx.Model(&model.PolicyChangeRequest{}).
			Where("id = ? AND status = ?", id, model.RequestPending).
			Updates(map[string]interface{}{
				"status":      model.RequestApproved,
				"approver_id": approver,
				"resolved_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("error approving policy change request: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("policy change request %s is %s: %w", id, req.Status, ErrConflict)
		}

		// Supersede the prior active version. Superseded rows stay as history.
		version := 1
		var prior model.Policy
		err := tx.Where("tenant_id = ? AND policy_type = ? AND status = ?",
			req.TenantID, req.PolicyType, model.PolicyActive).First(&prior).Error
		switch {
		case err == nil:
			version = prior.Version + 1
			if err := tx.Model(&model.Policy{}).Where("id = ?", prior.ID).
				Update("status", model.PolicyExpired).Error; err != nil {
				return fmt.Errorf("error superseding active policy: %w", err)
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			// First version for this tenant+type.
		default:
			return fmt.Errorf("error finding active policy: %w", err)
		}

		newPolicy = model.Policy{
			ID:         uuid.NewString(),
			TenantID:   req.TenantID,
			PolicyType: req.PolicyType,
			Content:    req.Content,
			Status:     model.PolicyActive,
			Version:    version,
			CreatedBy:  req.RequesterID,
			ApprovedBy: approver,
			ApprovedAt: &now,
		}
		if err := tx.Create(&newPolicy).Error; err != nil {
			return fmt.Errorf("error activating policy version: %w", err)
		}

		audit := model.AuditEntry{
			TenantID:   req.TenantID,
			EntityType: model.AuditEntityPolicyChangeRequest,
			EntityID:   req.ID,
			Actor:      approver,
			FromStatus: string(model.RequestPending),
			ToStatus:   string(model.RequestApproved),
			Comment:    comment,
		}
		if err := tx.Create(&audit).Error; err != nil {
			return fmt.Errorf("error appending audit entry: %w", err)
		}

		req.Status = model.RequestApproved
		req.ApproverID = approver
		req.ResolvedAt = &now
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	logger.Info("policy change request approved",
		zap.String("request_id", req.ID),
		zap.String("tenant", req.TenantID),
		zap.Int("policy_version", newPolicy.Version))
	return &req, &newPolicy, nil
}

// RejectPolicyChangeRequest transitions a pending request to rejected.
func (manager *GormWorkflowManager) RejectPolicyChangeRequest(ctx context.Context,
	id, approver, comment string) (*model.PolicyChangeRequest, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx cannot be nil")
	}

	var req model.PolicyChangeRequest
	err := manager.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&req, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("policy change request %s: %w", id, ErrNotFound)
			}
			return fmt.Errorf("error finding policy change request: %w", err)
		}
		return transitionRequest(tx, &req, model.RequestRejected, approver, comment)
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// transitionRequest applies a CAS pending->to transition plus audit entry
// for a policy change request inside the caller's transaction.
func transitionRequest(tx *gorm.DB, req *model.PolicyChangeRequest,
	to model.RequestStatus, actor, comment string) error {
	now := time.Now()
	res := tx.Model(&model.PolicyChangeRequest{}).
		Where("id = ? AND status = ?", req.ID, model.RequestPending).
		Updates(map[string]interface{}{
			"status":      to,
			"approver_id": actor,
			"resolved_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("error transitioning policy change request: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("policy change request %s is %s: %w", req.ID, req.Status, ErrConflict)
	}

	audit := model.AuditEntry{
		TenantID:   req.TenantID,
		EntityType: model.AuditEntityPolicyChangeRequest,
		EntityID:   req.ID,
		Actor:      actor,
		FromStatus: string(model.RequestPending),
		ToStatus:   string(to),
		Comment:    comment,
	}
	if err := tx.Create(&audit).Error; err != nil {
		return fmt.Errorf("error appending audit entry: %w", err)
	}

	req.Status = to
	req.ApproverID = actor
	req.ResolvedAt = &now
	return nil
}

// CreateException persists a new pending (or pre-approved) exception.
func (manager *GormWorkflowManager) CreateException(ctx context.Context, exception *model.Exception) error {
	if ctx == nil {
		return fmt.Errorf("ctx cannot be nil")
	}
	if exception == nil {
		return fmt.Errorf("exception cannot be nil")
	}
	if err := manager.db.WithContext(ctx).Create(exception).Error; err != nil {
		return fmt.Errorf("error creating exception: %w", err)
	}
	return nil
}

// GetException retrieves an exception by id.
func (manager *GormWorkflowManager) GetException(ctx context.Context, id string) (*model.Exception, error) {
	var exception model.Exception
	err := manager.db.WithContext(ctx).First(&exception, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("exception %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("error retrieving exception: %w", err)
	}
	return &exception, nil
}

// ApproveException transitions a pending exception to approved. Gate
// suppression still defers to any scheduled activation timestamp.
func (manager *GormWorkflowManager) ApproveException(ctx context.Context,
	id, approver, comment string) (*model.Exception, error) {
	return manager.transitionException(ctx, id, model.RequestApproved, approver, comment)
}

// RejectException transitions a pending exception to rejected.
func (manager *GormWorkflowManager) RejectException(ctx context.Context,
	id, approver, comment string) (*model.Exception, error) {
	return manager.transitionException(ctx, id, model.RequestRejected, approver, comment)
}

func (manager *GormWorkflowManager) transitionException(ctx context.Context,
	id string, to model.RequestStatus, actor, comment string) (*model.Exception, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx cannot be nil")
	}

	var exception model.Exception
	err := manager.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&exception, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("exception %s: %w", id, ErrNotFound)
			}
			return fmt.Errorf("error finding exception: %w", err)
		}

		now := time.Now()
		updates := map[string]interface{}{
			"status":      to,
			"approver_id": actor,
			"resolved_at": now,
		}
		if to == model.RequestApproved {
			updates["approved_at"] = now
		}
		res := tx.Model(&model.Exception{}).
			Where("id = ? AND status = ?", id, model.RequestPending).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("error transitioning exception: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("exception %s is %s: %w", id, exception.Status, ErrConflict)
		}

		audit := model.AuditEntry{
			TenantID:   exception.TenantID,
			EntityType: model.AuditEntityException,
			EntityID:   exception.ID,
			Actor:      actor,
			FromStatus: string(model.RequestPending),
			ToStatus:   string(to),
			Comment:    comment,
		}
		if err := tx.Create(&audit).Error; err != nil {
			return fmt.Errorf("error appending audit entry: %w", err)
		}

		exception.Status = to
		exception.ApproverID = actor
		exception.ResolvedAt = &now
		if to == model.RequestApproved {
			exception.ApprovedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &exception, nil
}

// ListEffectiveExceptions returns approved exceptions currently in effect.
func (manager *GormWorkflowManager) ListEffectiveExceptions(ctx context.Context,
	tenantID string, now time.Time) ([]model.Exception, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx cannot be nil")
	}

	var exceptions []model.Exception
	err := manager.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ?", tenantID, model.RequestApproved).
		Where("scheduled_activation IS NULL OR scheduled_activation <= ?", now).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Find(&exceptions).Error
	if err != nil {
		return nil, fmt.Errorf("error listing effective exceptions: %w", err)
	}
	return exceptions, nil
}

// ExpireOverduePolicyRequests expires pending policy change requests past
// their expires_at. Each row transitions under the same CAS used by
// interactive approval, so a concurrent approval wins or loses cleanly.
func (manager *GormWorkflowManager) ExpireOverduePolicyRequests(ctx context.Context,
	now time.Time) (int, error) {
	if ctx == nil {
		return 0, fmt.Errorf("ctx cannot be nil")
	}

	var overdue []model.PolicyChangeRequest
	err := manager.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", model.RequestPending, now).
		Find(&overdue).Error
	if err != nil {
		return 0, fmt.Errorf("error finding overdue policy change requests: %w", err)
	}

	expired := 0
	for i := range overdue {
		req := &overdue[i]
		err := manager.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return transitionRequest(tx, req, model.RequestExpired, "system", "pending window elapsed")
		})
		if errors.Is(err, ErrConflict) {
			// Lost the race to an interactive approval or rejection.
			continue
		}
		if err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// ExpireExceptions expires pending exceptions past their expires_at and
// approved exceptions whose effect window has ended.
func (manager *GormWorkflowManager) ExpireExceptions(ctx context.Context, now time.Time) (int, error) {
	if ctx == nil {
		return 0, fmt.Errorf("ctx cannot be nil")
	}

	var due []model.Exception
	err := manager.db.WithContext(ctx).
		Where("status IN ? AND expires_at IS NOT NULL AND expires_at <= ?",
			[]model.RequestStatus{model.RequestPending, model.RequestApproved}, now).
		Find(&due).Error
	if err != nil {
		return 0, fmt.Errorf("error finding expiring exceptions: %w", err)
	}

	expired := 0
	for i := range due {
		exception := &due[i]
		from := exception.Status
		err := manager.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&model.Exception{}).
				Where("id = ? AND status = ?", exception.ID, from).
				Updates(map[string]interface{}{
					"status":      model.RequestExpired,
					"resolved_at": now,
				})
			if res.Error != nil {
				return fmt.Errorf("error expiring exception: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("exception %s changed concurrently: %w", exception.ID, ErrConflict)
			}
			audit := model.AuditEntry{
				TenantID:   exception.TenantID,
				EntityType: model.AuditEntityException,
				EntityID:   exception.ID,
				Actor:      "system",
				FromStatus: string(from),
				ToStatus:   string(model.RequestExpired),
				Comment:    "expiration window elapsed",
			}
			if err := tx.Create(&audit).Error; err != nil {
				return fmt.Errorf("error appending audit entry: %w", err)
			}
			return nil
		})
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// InvalidateException marks an exception invalid because its finding no
// longer exists. The exception is retained; nothing cascades.
func (manager *GormWorkflowManager) InvalidateException(ctx context.Context, id, comment string) error {
	if ctx == nil {
		return fmt.Errorf("ctx cannot be nil")
	}

	return manager.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var exception model.Exception
		if err := tx.First(&exception, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("exception %s: %w", id, ErrNotFound)
			}
			return fmt.Errorf("error finding exception: %w", err)
		}
		if exception.Status == model.RequestInvalid {
			return nil
		}

		from := exception.Status
		res := tx.Model(&model.Exception{}).
			Where("id = ? AND status = ?", id, from).
			Update("status", model.RequestInvalid)
		if res.Error != nil {
			return fmt.Errorf("error invalidating exception: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("exception %s changed concurrently: %w", id, ErrConflict)
		}

		audit := model.AuditEntry{
			TenantID:   exception.TenantID,
			EntityType: model.AuditEntityException,
			EntityID:   exception.ID,
			Actor:      "system",
			FromStatus: string(from),
			ToStatus:   string(model.RequestInvalid),
			Comment:    comment,
		}
		if err := tx.Create(&audit).Error; err != nil {
			return fmt.Errorf("error appending audit entry: %w", err)
		}
		return nil
	})
}

// ListFindingBoundExceptions returns pending and approved exceptions
// pinned to a finding id.
func (manager *GormWorkflowManager) ListFindingBoundExceptions(ctx context.Context) ([]model.Exception, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx cannot be nil")
	}

	var exceptions []model.Exception
	err := manager.db.WithContext(ctx).
		Where("finding_id <> '' AND status IN ?",
			[]model.RequestStatus{model.RequestPending, model.RequestApproved}).
		Find(&exceptions).Error
	if err != nil {
		return nil, fmt.Errorf("error listing finding-bound exceptions: %w", err)
	}
	return exceptions, nil
}

// ListAuditEntries returns the audit trail for one entity, oldest first.
func (manager *GormWorkflowManager) ListAuditEntries(ctx context.Context,
	entityID string) ([]model.AuditEntry, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx cannot be nil")
	}

	var entries []model.AuditEntry
	err := manager.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("error listing audit entries: %w", err)
	}
	return entries, nil
}
