package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/modelguard/modelguard/pkg/types"
)

// PolicyStatus is the lifecycle state of a policy version.
type PolicyStatus string

const (
	PolicyActive          PolicyStatus = "active"
	PolicyPendingApproval PolicyStatus = "pending_approval"
	PolicyRejected        PolicyStatus = "rejected"
	// PolicyExpired marks historical versions superseded by a later
	// approval. Superseded rows are retained, never deleted.
	PolicyExpired PolicyStatus = "expired"
)

// PolicyContent is the structured rule body of a policy.
type PolicyContent struct {
	// SeverityThreshold fails the gate for any non-suppressed finding at
	// or above this severity.
	SeverityThreshold types.Severity `json:"severity_threshold" yaml:"severity_threshold"`
	// BlockIssues fails the gate for any finding matching one of these
	// category patterns, exact or "Prefix.*".
	BlockIssues []string `json:"block_issues" yaml:"block_issues"`
}

// Validate checks the content is well formed before it may be persisted.
func (c *PolicyContent) Validate() error {
	if c.SeverityThreshold.Rank() == 0 {
		return fmt.Errorf("unknown severity threshold %q", c.SeverityThreshold)
	}
	for _, pattern := range c.BlockIssues {
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("block_issues contains an empty pattern")
		}
	}
	return nil
}

// Value implements the driver.Valuer interface for database serialization.
func (c PolicyContent) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements the sql.Scanner interface for database deserialization.
func (c *PolicyContent) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	default:
		return fmt.Errorf("PolicyContent Scan error: expected []byte or string, got %T", value)
	}
}

// Policy is a tenant-scoped, versioned gating configuration. At most one
// version is active per (tenant_id, policy_type) at any time.
type Policy struct {
	ID         string        `json:"ID" gorm:"primaryKey"`
	TenantID   string        `json:"TenantID" gorm:"index:idx_policies_tenant_type"`
	PolicyType string        `json:"PolicyType" gorm:"index:idx_policies_tenant_type"`
	Content    PolicyContent `json:"Content" gorm:"type:text"`
	Status     PolicyStatus  `json:"Status"`
	Version    int           `json:"Version"`
	CreatedBy  string        `json:"CreatedBy"`
	ApprovedBy string        `json:"ApprovedBy,omitempty"`
	ApprovedAt *time.Time    `json:"ApprovedAt,omitempty"`
	CreatedAt  time.Time     `json:"CreatedAt" gorm:"autoCreateTime"`
	UpdatedAt  time.Time     `json:"UpdatedAt" gorm:"autoUpdateTime"`
}
