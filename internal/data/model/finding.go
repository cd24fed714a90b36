package model

import (
	"strconv"
	"time"

	"github.com/modelguard/modelguard/pkg/types"
)

// Finding is a single normalized security observation. A Finding belongs
// to exactly one Scan and one tenant and is immutable after creation;
// exceptions reference findings, they never modify or delete them.
type Finding struct {
	ID          string           `json:"ID" gorm:"primaryKey"`
	ScanID      string           `json:"ScanID" gorm:"index:idx_findings_scan"`
	TenantID    string           `json:"TenantID" gorm:"index:idx_findings_tenant"`
	RuleID      string           `json:"RuleID"`
	Engine      string           `json:"Engine"`
	Category    string           `json:"Category"`
	Severity    types.Severity   `json:"Severity"`
	Confidence  types.Confidence `json:"Confidence"`
	Title       string           `json:"Title"`
	Description string           `json:"Description"`
	FilePath    string           `json:"FilePath"`
	Line        int              `json:"Line"`
	ConfigPath  string           `json:"ConfigPath,omitempty"`
	Evidence    JSONMap          `json:"Evidence" gorm:"type:text"`
	Remediation string           `json:"Remediation"`
	CreatedAt   time.Time        `json:"CreatedAt" gorm:"autoCreateTime"`
}

// Location returns the finding's location key: the config path when the
// finding has no line anchor, otherwise file:line.
func (f *Finding) Location() string {
	if f.ConfigPath != "" {
		return f.FilePath + ":" + f.ConfigPath
	}
	if f.Line > 0 {
		return f.FilePath + ":" + strconv.Itoa(f.Line)
	}
	return f.FilePath
}
