package policy

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/modelguard/modelguard/internal/data/model"
	"github.com/modelguard/modelguard/pkg/types"
)

func gatePolicy(threshold types.Severity, blocked ...string) *model.Policy {
	return &model.Policy{
		ID:       "pol-1",
		TenantID: "tenant-a",
		Status:   model.PolicyActive,
		Content: model.PolicyContent{
			SeverityThreshold: threshold,
			BlockIssues:       blocked,
		},
	}
}

func TestEvaluateGateSeverityAndBlockedCategory(t *testing.T) {
	now := time.Now()
	findings := []model.Finding{
		{ID: "f-style", Severity: types.SeverityMedium, Category: "Code.Style"},
		{ID: "f-secret", Severity: types.SeverityCritical, Category: "Secrets.Hardcoded"},
	}
	pol := gatePolicy(types.SeverityHigh, "Secrets.Hardcoded")

	result := EvaluateGate(findings, pol, nil, now)
	require.False(t, result.Passed)
	require.Equal(t, 1, result.SeverityCounts[types.SeverityCritical])
	require.Equal(t, 1, result.SeverityCounts[types.SeverityMedium])
	require.Len(t, result.Violations, 1)
	require.Equal(t, "f-secret", result.Violations[0].FindingID)

	// An approved exception on the critical finding flips the gate.
	exceptions := []model.Exception{{
		ID:        "exc-1",
		FindingID: "f-secret",
		Status:    model.RequestApproved,
	}}
	result = EvaluateGate(findings, pol, exceptions, now)
	require.True(t, result.Passed)
	require.Equal(t, "exc-1", result.Suppressed["f-secret"])
	require.Equal(t, 1, result.SeverityCounts[types.SeverityCritical], "counts cover suppressed findings")
}

func TestEvaluateGateDeterminism(t *testing.T) {
	now := time.Now()
	findings := []model.Finding{
		{ID: "f-1", Severity: types.SeverityHigh, Category: "ModelSecurity.UnsafeDeserialization"},
		{ID: "f-2", Severity: types.SeverityLow, Category: "Code.Style"},
		{ID: "f-3", Severity: types.SeverityHigh, Category: "Secrets.Hardcoded", FilePath: "cfg/app.yaml"},
	}
	pol := gatePolicy(types.SeverityCritical, "Secrets.*")
	exceptions := []model.Exception{{
		ID:       "exc-bulk",
		RuleID:   "",
		FileGlob: "cfg/**",
		Category: "Secrets.Hardcoded",
		Status:   model.RequestApproved,
	}}

	first := EvaluateGate(findings, pol, exceptions, now)
	for i := 0; i < 5; i++ {
		again := EvaluateGate(findings, pol, exceptions, now)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("gate result changed between evaluations (-first +again):\n%s", diff)
		}
	}
	require.True(t, first.Passed)
	require.Equal(t, "exc-bulk", first.Suppressed["f-3"])
}

func TestEvaluateGateDefaultPolicy(t *testing.T) {
	findings := []model.Finding{
		{ID: "f-1", Severity: types.SeverityHigh, Category: "Code.DynamicExecution"},
	}

	result := EvaluateGate(findings, nil, nil, time.Now())
	require.False(t, result.Passed, "built-in default blocks high and above")
	require.Empty(t, result.PolicyID)

	findings[0].Severity = types.SeverityMedium
	result = EvaluateGate(findings, nil, nil, time.Now())
	require.True(t, result.Passed)
}

func TestEvaluateGateExpiredExceptionStopsSuppressing(t *testing.T) {
	now := time.Now()
	expired := now.Add(-time.Hour)
	findings := []model.Finding{
		{ID: "f-1", Severity: types.SeverityCritical, Category: "Secrets.Hardcoded"},
	}
	pol := gatePolicy(types.SeverityHigh)
	exceptions := []model.Exception{{
		ID:        "exc-1",
		FindingID: "f-1",
		Status:    model.RequestApproved,
		ExpiresAt: &expired,
	}}

	result := EvaluateGate(findings, pol, exceptions, now)
	require.False(t, result.Passed, "expired exception no longer suppresses")
	require.Empty(t, result.Suppressed)
}

func TestBlockedByPatterns(t *testing.T) {
	tests := []struct {
		name     string
		category string
		patterns []string
		want     bool
	}{
		{name: "exact match", category: "Secrets.Hardcoded", patterns: []string{"Secrets.Hardcoded"}, want: true},
		{name: "prefix glob", category: "Secrets.Hardcoded.AWS", patterns: []string{"Secrets.*"}, want: true},
		{name: "glob covers the prefix itself", category: "Secrets", patterns: []string{"Secrets.*"}, want: true},
		{name: "no partial segment match", category: "SecretsExtra.Foo", patterns: []string{"Secrets.*"}, want: false},
		{name: "no match", category: "Code.Style", patterns: []string{"Secrets.*", "Network.InsecureTransport"}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, got := blockedBy(tt.category, tt.patterns)
			require.Equal(t, tt.want, got)
		})
	}
}
