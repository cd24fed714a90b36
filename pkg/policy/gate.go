// Package policy evaluates a scan's findings against the tenant's
// active gating policy. Evaluation is a pure function of the findings,
// the policy content, and the effective exception snapshot, so repeated
// evaluation of the same inputs always yields the same result.
package policy

import (
	"strings"
	"time"

	"github.com/modelguard/modelguard/internal/data/model"
	"github.com/modelguard/modelguard/pkg/types"
)

// DefaultPolicyType is the policy type scans gate against unless the
// caller selects another.
const DefaultPolicyType = "scan_gate"

// DefaultContent is the built-in policy applied when a tenant has no
// active policy row: block high and above, no category blocks.
func DefaultContent() model.PolicyContent {
	return model.PolicyContent{SeverityThreshold: types.SeverityHigh}
}

// Violation is one finding that failed the gate and why.
type Violation struct {
	FindingID string `json:"finding_id"`
	// Reason is "severity" or "blocked_category".
	Reason  string `json:"reason"`
	Matched string `json:"matched"`
}

// GateResult is the pass/fail outcome of one evaluation. SeverityCounts
// covers every finding, suppressed or not; only unsuppressed findings
// can produce violations.
type GateResult struct {
	Passed         bool
	PolicyID       string
	SeverityCounts map[types.Severity]int
	Violations     []Violation
	// Suppressed maps finding id to the exception id that suppressed it.
	Suppressed map[string]string
}

// EvaluateGate evaluates findings against the policy and the exception
// snapshot taken at now. A nil policy means the built-in default.
func EvaluateGate(findings []model.Finding, pol *model.Policy, exceptions []model.Exception, now time.Time) GateResult {
	content := DefaultContent()
	policyID := ""
	if pol != nil {
		content = pol.Content
		policyID = pol.ID
	}

	result := GateResult{
		Passed:         true,
		PolicyID:       policyID,
		SeverityCounts: make(map[types.Severity]int),
		Suppressed:     make(map[string]string),
	}

	for i := range findings {
		finding := &findings[i]
		result.SeverityCounts[finding.Severity]++

		if exceptionID, ok := suppressedBy(finding, exceptions, now); ok {
			result.Suppressed[finding.ID] = exceptionID
			continue
		}

		if finding.Severity.Rank() >= content.SeverityThreshold.Rank() && content.SeverityThreshold.Rank() > 0 {
			result.Passed = false
			result.Violations = append(result.Violations, Violation{
				FindingID: finding.ID,
				Reason:    "severity",
				Matched:   string(finding.Severity),
			})
			continue
		}
		if pattern, ok := blockedBy(finding.Category, content.BlockIssues); ok {
			result.Passed = false
			result.Violations = append(result.Violations, Violation{
				FindingID: finding.ID,
				Reason:    "blocked_category",
				Matched:   pattern,
			})
		}
	}
	return result
}

// suppressedBy returns the id of the first effective exception covering
// the finding.
func suppressedBy(finding *model.Finding, exceptions []model.Exception, now time.Time) (string, bool) {
	for i := range exceptions {
		exception := &exceptions[i]
		if exception.EffectiveAt(now) && exception.Matches(finding) {
			return exception.ID, true
		}
	}
	return "", false
}

// blockedBy matches category against block patterns: exact, or
// "Prefix.*" covering the prefix itself and anything below it.
func blockedBy(category string, patterns []string) (string, bool) {
	for _, pattern := range patterns {
		if pattern == category {
			return pattern, true
		}
		if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
			if category == prefix || strings.HasPrefix(category, prefix+".") {
				return pattern, true
			}
		}
	}
	return "", false
}
