package model

import "time"

// Audited entity kinds.
const (
	AuditEntityPolicyChangeRequest = "policy_change_request"
	AuditEntityException           = "exception"
)

// AuditEntry records one workflow state transition. The audit log is
// append-only: entries are never updated or deleted.
type AuditEntry struct {
	ID         uint      `json:"ID" gorm:"primaryKey;autoIncrement"`
	TenantID   string    `json:"TenantID" gorm:"index:idx_audit_tenant"`
	EntityType string    `json:"EntityType"`
	EntityID   string    `json:"EntityID" gorm:"index:idx_audit_entity"`
	Actor      string    `json:"Actor"`
	FromStatus string    `json:"FromStatus"`
	ToStatus   string    `json:"ToStatus"`
	Comment    string    `json:"Comment,omitempty"`
	CreatedAt  time.Time `json:"CreatedAt" gorm:"autoCreateTime"`
}
