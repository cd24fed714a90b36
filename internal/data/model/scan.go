package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelguard/modelguard/pkg/types"
)

// ScanStatus is the lifecycle state of a scan.
type ScanStatus string

const (
	ScanQueued    ScanStatus = "queued"
	ScanRunning   ScanStatus = "running"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
)

// Scan represents one invocation of the orchestrator against one target.
// Scans are mutated only by the orchestrator and never deleted.
type Scan struct {
	ID            string         `json:"ID" gorm:"primaryKey"`
	TenantID      string         `json:"TenantID" gorm:"index:idx_scans_tenant"`
	ScanType      types.ScanType `json:"ScanType"`
	TargetRef     string         `json:"TargetRef"`
	Status        ScanStatus     `json:"Status"`
	FailureReason string         `json:"FailureReason,omitempty"`
	StartedAt     *time.Time     `json:"StartedAt"`
	CompletedAt   *time.Time     `json:"CompletedAt"`
	CreatedAt     time.Time      `json:"CreatedAt" gorm:"autoCreateTime"`
	UpdatedAt     time.Time      `json:"UpdatedAt" gorm:"autoUpdateTime"`
	Summary       ScanSummary    `json:"Summary" gorm:"embedded;embeddedPrefix:summary_"`
	Findings      []Finding      `json:"Findings" gorm:"foreignKey:ScanID"`
}

// ScanSummary records how the analyzer set fared and the gate outcome.
// Confidence reflects how many analyzers completed; it is informational
// and never alters gating.
type ScanSummary struct {
	AnalyzersRun    int             `json:"AnalyzersRun"`
	AnalyzersFailed int             `json:"AnalyzersFailed"`
	PartialScan     bool            `json:"PartialScan"`
	DurationMS      int64           `json:"DurationMS"`
	Confidence      string          `json:"Confidence"`
	AdapterStatuses JSONStringArray `json:"AdapterStatuses" gorm:"type:text"`
	Gate            GateSummary     `json:"Gate" gorm:"embedded;embeddedPrefix:gate_"`
}

// GateSummary is the persisted projection of a gate evaluation.
type GateSummary struct {
	Evaluated     bool    `json:"Evaluated"`
	Passed        bool    `json:"Passed"`
	PolicyID      string  `json:"PolicyID"`
	SeverityCount JSONMap `json:"SeverityCount" gorm:"type:text"`
	// Suppressed maps finding id to the id of the exception that
	// suppressed it during gate evaluation.
	Suppressed JSONMap `json:"Suppressed,omitempty" gorm:"type:text"`
}

// JSONStringArray custom type for handling JSON serialization of string arrays.
type JSONStringArray []string

// Value implements the driver.Valuer interface for database serialization.
func (j JSONStringArray) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for database deserialization.
func (j *JSONStringArray) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return fmt.Errorf("JSONStringArray Scan error: expected []byte or string, got %T", value)
	}
}

// JSONMap custom type for handling JSON serialization of generic maps.
type JSONMap map[string]interface{}

// Value implements the driver.Valuer interface for database serialization.
func (m JSONMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements the sql.Scanner interface for database deserialization.
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("JSONMap Scan error: expected []byte or string, got %T", value)
	}
}
