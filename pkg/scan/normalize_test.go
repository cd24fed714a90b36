package scan

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/modelguard/modelguard/pkg/rules"
	"github.com/modelguard/modelguard/pkg/types"
)

func rawResults() []types.AdapterResult {
	return []types.AdapterResult{
		{
			Engine: "pattern",
			Status: types.AdapterOK,
			Findings: []types.RawFinding{{
				RuleID:   "MG-PATTERN-001",
				Title:    "Dynamic code evaluation",
				FilePath: "/workspace/repo/loader.py",
				Line:     12,
				Severity: types.SeverityHigh,
				Category: "Code.DynamicExecution",
			}},
		},
		{
			Engine: "semgrep",
			Status: types.AdapterOK,
			Findings: []types.RawFinding{{
				RuleID:     "python.lang.security.eval",
				Title:      "eval detected",
				FilePath:   "repo/loader.py",
				Line:       12,
				Severity:   types.SeverityCritical,
				Confidence: types.ConfidenceHigh,
				Category:   "Code.DynamicExecution",
			}},
		},
		{
			Engine: "timeout",
			Status: types.AdapterTimedOut,
			Findings: []types.RawFinding{{
				RuleID: "dropped", FilePath: "repo/loader.py", Line: 12,
			}},
		},
	}
}

func newTestNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	normalizer, err := NewNormalizer(rules.Default(), []string{"/workspace"})
	require.NoError(t, err)
	return normalizer
}

func TestNormalizeMergesAcrossEngines(t *testing.T) {
	normalizer := newTestNormalizer(t)

	findings := normalizer.Normalize("scan-1", "tenant-a", rawResults())
	require.Len(t, findings, 1, "same logical location merges into one finding")

	merged := findings[0]
	require.Equal(t, "repo/loader.py", merged.FilePath, "workspace prefix stripped")
	require.Equal(t, types.SeverityCritical, merged.Severity, "highest severity wins")
	require.Equal(t, types.ConfidenceHigh, merged.Confidence)
	require.Equal(t, "semgrep", merged.Engine, "representative follows the strictest signal")
	require.Equal(t, "scan-1", merged.ScanID)

	detections, ok := merged.Evidence[EvidenceDetections].([]interface{})
	require.True(t, ok)
	require.Len(t, detections, 2, "contributing detections are preserved, not discarded")
	require.NotEmpty(t, merged.Evidence[EvidenceDedupGroup])
}

func TestNormalizeIgnoresFailedAdapters(t *testing.T) {
	normalizer := newTestNormalizer(t)

	findings := normalizer.Normalize("scan-1", "tenant-a", rawResults())
	for _, finding := range findings {
		require.NotEqual(t, "dropped", finding.RuleID, "timed-out adapter output is dropped")
	}
}

func TestNormalizeIdempotence(t *testing.T) {
	normalizer := newTestNormalizer(t)

	first := normalizer.Normalize("scan-1", "tenant-a", rawResults())
	second := normalizer.Normalize("scan-1", "tenant-a", rawResults())
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("normalization is not idempotent (-first +second):\n%s", diff)
	}
}

func TestNormalizeFillsFromBundleMapping(t *testing.T) {
	normalizer := newTestNormalizer(t)
	results := []types.AdapterResult{{
		Engine: "pickleast",
		Status: types.AdapterOK,
		Findings: []types.RawFinding{{
			RuleID:   "MG-PICKLE-001",
			FilePath: "model.pkl",
		}},
	}}

	findings := normalizer.Normalize("scan-2", "tenant-a", results)
	require.Len(t, findings, 1)
	require.Equal(t, "ModelSecurity.UnsafeDeserialization", findings[0].Category)
	require.Equal(t, types.SeverityCritical, findings[0].Severity)
	require.NotEmpty(t, findings[0].Remediation)
}

func TestNormalizeKeepsDistinctLocations(t *testing.T) {
	normalizer := newTestNormalizer(t)
	results := []types.AdapterResult{{
		Engine: "mcpprobe",
		Status: types.AdapterOK,
		Findings: []types.RawFinding{
			{RuleID: "MG-MCP-002", FilePath: "mcp.json", ConfigPath: "mcpServers.a.env.TOKEN", Category: "Secrets.Hardcoded"},
			{RuleID: "MG-MCP-002", FilePath: "mcp.json", ConfigPath: "mcpServers.b.env.TOKEN", Category: "Secrets.Hardcoded"},
		},
	}}

	findings := normalizer.Normalize("scan-3", "tenant-a", results)
	require.Len(t, findings, 2)
	require.NotEqual(t, findings[0].ID, findings[1].ID)
}

func TestThreatMapperAttachesTags(t *testing.T) {
	normalizer := newTestNormalizer(t)
	mapper, err := NewThreatMapper(rules.Default())
	require.NoError(t, err)

	findings := normalizer.Normalize("scan-1", "tenant-a", rawResults())
	mapper.Apply(findings)

	tags := Tags(&findings[0])
	require.NotEmpty(t, tags, "Code.DynamicExecution maps to taxonomy tags")
	for _, tag := range tags {
		require.NotEmpty(t, tag.ID)
		require.Contains(t, []string{rules.TierContextualized, rules.TierConventional}, tag.Tier)
	}
}

func TestThreatMapperLeavesUnmappedUntagged(t *testing.T) {
	mapper, err := NewThreatMapper(rules.Default())
	require.NoError(t, err)
	normalizer := newTestNormalizer(t)

	results := []types.AdapterResult{{
		Engine: "pattern",
		Status: types.AdapterOK,
		Findings: []types.RawFinding{{
			RuleID: "X-UNKNOWN", FilePath: "a.py", Line: 1, Category: "Nobody.MapsThis",
		}},
	}}
	findings := normalizer.Normalize("scan-1", "tenant-a", results)
	mapper.Apply(findings)
	require.Empty(t, Tags(&findings[0]), "tags are never fabricated")
}
