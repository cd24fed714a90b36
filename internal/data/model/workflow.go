package model

import (
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// RequestStatus is the state of an approval workflow entity.
// pending transitions exactly once to approved, rejected, or expired;
// an exception whose finding disappears becomes invalid.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
	RequestExpired  RequestStatus = "expired"
	RequestInvalid  RequestStatus = "invalid"
)

// Terminal reports whether the status permits no further transitions.
func (s RequestStatus) Terminal() bool {
	return s != RequestPending
}

// PolicyChangeRequest is a pending mutation to a tenant policy. Requests
// are immutable once created; a change of mind means a new request.
type PolicyChangeRequest struct {
	ID          string        `json:"ID" gorm:"primaryKey"`
	TenantID    string        `json:"TenantID" gorm:"index:idx_pcr_tenant"`
	PolicyType  string        `json:"PolicyType"`
	Content     PolicyContent `json:"Content" gorm:"type:text"`
	RequesterID string        `json:"RequesterID"`
	ApproverID  string        `json:"ApproverID,omitempty"`
	Status      RequestStatus `json:"Status" gorm:"index:idx_pcr_status"`
	Rationale   string        `json:"Rationale"`
	Diff        string        `json:"Diff,omitempty"`
	ExpiresAt   *time.Time    `json:"ExpiresAt,omitempty"`
	ResolvedAt  *time.Time    `json:"ResolvedAt,omitempty"`
	CreatedAt   time.Time     `json:"CreatedAt" gorm:"autoCreateTime"`
	UpdatedAt   time.Time     `json:"UpdatedAt" gorm:"autoUpdateTime"`
}

// Exception suppresses or re-grades matching findings for a bounded time.
// An Exception never deletes a Finding; if its finding is removed the
// exception becomes invalid, preserving the audit trail.
type Exception struct {
	ID       string `json:"ID" gorm:"primaryKey"`
	TenantID string `json:"TenantID" gorm:"index:idx_exceptions_tenant"`
	// FindingID pins the exception to one finding. Empty for bulk
	// rule-match exceptions.
	FindingID string `json:"FindingID,omitempty" gorm:"index:idx_exceptions_finding"`
	// RuleID, FileGlob, and Category form a bulk match spec; all set
	// fields must match.
	RuleID              string        `json:"RuleID,omitempty"`
	FileGlob            string        `json:"FileGlob,omitempty"`
	Category            string        `json:"Category,omitempty"`
	Status              RequestStatus `json:"Status" gorm:"index:idx_exceptions_status"`
	RequesterID         string        `json:"RequesterID"`
	ApproverID          string        `json:"ApproverID,omitempty"`
	Rationale           string        `json:"Rationale"`
	ExpiresAt           *time.Time    `json:"ExpiresAt,omitempty"`
	ScheduledActivation *time.Time    `json:"ScheduledActivation,omitempty"`
	ApprovedAt          *time.Time    `json:"ApprovedAt,omitempty"`
	ResolvedAt          *time.Time    `json:"ResolvedAt,omitempty"`
	CreatedAt           time.Time     `json:"CreatedAt" gorm:"autoCreateTime"`
	UpdatedAt           time.Time     `json:"UpdatedAt" gorm:"autoUpdateTime"`
}

// EffectiveAt reports whether the exception suppresses findings at the
// given instant: approved, past any scheduled activation, not expired.
func (e *Exception) EffectiveAt(now time.Time) bool {
	if e.Status != RequestApproved {
		return false
	}
	if e.ScheduledActivation != nil && now.Before(*e.ScheduledActivation) {
		return false
	}
	if e.ExpiresAt != nil && !now.Before(*e.ExpiresAt) {
		return false
	}
	return true
}

// Matches reports whether the exception covers the finding. Effectiveness
// is the caller's concern; this checks the match fields only.
func (e *Exception) Matches(f *Finding) bool {
	if e.FindingID != "" {
		return e.FindingID == f.ID
	}
	if e.RuleID == "" && e.FileGlob == "" && e.Category == "" {
		return false
	}
	if e.RuleID != "" && e.RuleID != f.RuleID {
		return false
	}
	if e.Category != "" && e.Category != f.Category {
		return false
	}
	if e.FileGlob != "" {
		ok, err := doublestar.Match(e.FileGlob, f.FilePath)
		if err != nil || !ok {
			return false
		}
	}
	return true
}
