package db

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/modelguard/modelguard/internal/data/model"
)

// PolicyManager defines read access to tenant policies. Mutation happens
// exclusively through the approval workflow (WorkflowManager), which owns
// the atomic active-flag swap.
type PolicyManager interface {
	// GetActivePolicy returns the active policy for (tenant, policyType),
	// or ErrNotFound when the tenant has none.
	GetActivePolicy(ctx context.Context, tenantID, policyType string) (*model.Policy, error)
	// ListPolicyVersions returns all versions for (tenant, policyType),
	// newest version first.
	ListPolicyVersions(ctx context.Context, tenantID, policyType string) ([]model.Policy, error)
}

// GormPolicyManager implements PolicyManager using a GORM DB connection.
type GormPolicyManager struct {
	db *gorm.DB
}

// NewGormPolicyManager creates a new GormPolicyManager.
func NewGormPolicyManager(db *gorm.DB) (*GormPolicyManager, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	return &GormPolicyManager{db: db}, nil
}

// GetActivePolicy returns the active policy for (tenant, policyType).
func (manager *GormPolicyManager) GetActivePolicy(ctx context.Context,
	tenantID, policyType string) (*model.Policy, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx cannot be nil")
	}

	var policy model.Policy
	err := manager.db.WithContext(ctx).
		Where("tenant_id = ? AND policy_type = ? AND status = ?", tenantID, policyType, model.PolicyActive).
		First(&policy).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("active policy for tenant %s type %s: %w", tenantID, policyType, ErrNotFound)
		}
		return nil, fmt.Errorf("error retrieving active policy: %w", err)
	}
	return &policy, nil
}

// ListPolicyVersions returns all versions for (tenant, policyType).
func (manager *GormPolicyManager) ListPolicyVersions(ctx context.Context,
	tenantID, policyType string) ([]model.Policy, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx cannot be nil")
	}

	var policies []model.Policy
	err := manager.db.WithContext(ctx).
		Where("tenant_id = ? AND policy_type = ?", tenantID, policyType).
		Order("version DESC").
		Find(&policies).Error
	if err != nil {
		return nil, fmt.Errorf("error listing policy versions: %w", err)
	}
	return policies, nil
}
