package scan

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/modelguard/modelguard/internal/data/model"
	"github.com/modelguard/modelguard/pkg/rules"
	"github.com/modelguard/modelguard/pkg/types"
)

// Evidence keys written by the normalizer and the threat mapper.
const (
	EvidenceDedupGroup = "dedup_group"
	EvidenceDetections = "detections"
	EvidenceTaxonomy   = "taxonomy"
)

// Normalizer converts raw adapter output into canonical findings and
// merges duplicate detections across engines. Normalization is a pure
// merge over the dedup key, so it is order independent and idempotent.
type Normalizer struct {
	bundle        *rules.Bundle
	stripPrefixes []string
}

// NewNormalizer creates a Normalizer backed by the rule bundle's mapping
// table. stripPrefixes are workspace/cache prefixes removed from file
// paths so the same logical location matches across engines.
func NewNormalizer(bundle *rules.Bundle, stripPrefixes []string) (*Normalizer, error) {
	if bundle == nil {
		return nil, fmt.Errorf("bundle cannot be nil")
	}
	return &Normalizer{bundle: bundle, stripPrefixes: stripPrefixes}, nil
}

// Normalize canonicalizes and deduplicates the raw findings of one scan.
// Output ordering is deterministic: by file path, location, category.
func (n *Normalizer) Normalize(scanID, tenantID string, results []types.AdapterResult) []model.Finding {
	groups := make(map[string]*model.Finding)
	for _, result := range results {
		if result.Status != types.AdapterOK {
			continue
		}
		for _, raw := range result.Findings {
			n.merge(groups, scanID, tenantID, result.Engine, raw)
		}
	}

	findings := make([]model.Finding, 0, len(groups))
	for _, finding := range groups {
		findings = append(findings, *finding)
	}
	sort.Slice(findings, func(i, j int) bool {
		if findings[i].FilePath != findings[j].FilePath {
			return findings[i].FilePath < findings[j].FilePath
		}
		if findings[i].Line != findings[j].Line {
			return findings[i].Line < findings[j].Line
		}
		if findings[i].ConfigPath != findings[j].ConfigPath {
			return findings[i].ConfigPath < findings[j].ConfigPath
		}
		return findings[i].Category < findings[j].Category
	})
	return findings
}

func (n *Normalizer) merge(groups map[string]*model.Finding, scanID, tenantID, engine string, raw types.RawFinding) {
	canonical := n.canonicalize(raw)
	key := dedupKey(canonical)
	groupID := fmt.Sprintf("%016x", xxh3.HashString(key))
	detection := map[string]interface{}{"engine": engine, "rule_id": canonical.RuleID}

	existing, ok := groups[key]
	if !ok {
		// Finding ids derive from the scan and the dedup key, so the
		// same raw input always produces the same finding set.
		id := fmt.Sprintf("%016x", xxh3.HashString(scanID+"\x00"+key))
		groups[key] = &model.Finding{
			ID:          id,
			ScanID:      scanID,
			TenantID:    tenantID,
			RuleID:      canonical.RuleID,
			Engine:      engine,
			Category:    canonical.Category,
			Severity:    canonical.Severity,
			Confidence:  canonical.Confidence,
			Title:       canonical.Title,
			Description: canonical.Description,
			FilePath:    canonical.FilePath,
			Line:        canonical.Line,
			ConfigPath:  canonical.ConfigPath,
			Remediation: canonical.Remediation,
			Evidence: model.JSONMap{
				EvidenceDedupGroup: groupID,
				EvidenceDetections: []interface{}{detection},
			},
		}
		return
	}

	// Merged finding keeps the strictest signal from any engine.
	if canonical.Severity.Rank() > existing.Severity.Rank() {
		existing.Severity = canonical.Severity
		existing.RuleID = canonical.RuleID
		existing.Engine = engine
		existing.Title = canonical.Title
		existing.Description = canonical.Description
	}
	if canonical.Confidence.Rank() > existing.Confidence.Rank() {
		existing.Confidence = canonical.Confidence
	}
	if existing.Remediation == "" {
		existing.Remediation = canonical.Remediation
	}
	existing.Evidence[EvidenceDetections] = appendDetection(
		existing.Evidence[EvidenceDetections], detection)
}

// canonicalize fills category, severity, confidence and remediation from
// the bundle mapping when the engine left them empty, and normalizes the
// file path.
func (n *Normalizer) canonicalize(raw types.RawFinding) types.RawFinding {
	if mapping, ok := n.bundle.MappingFor(raw.RuleID); ok {
		if raw.Category == "" {
			raw.Category = mapping.Category
		}
		if raw.Severity == "" {
			raw.Severity = mapping.Severity
		}
		if raw.Confidence == "" {
			raw.Confidence = mapping.Confidence
		}
		if raw.Remediation == "" {
			raw.Remediation = mapping.Remediation
		}
	}
	if raw.Severity == "" {
		raw.Severity = types.SeverityInfo
	}
	if raw.Confidence == "" {
		raw.Confidence = types.ConfidenceLow
	}
	raw.FilePath = n.normalizePath(raw.FilePath)
	return raw
}

func (n *Normalizer) normalizePath(path string) string {
	cleaned := filepath.ToSlash(filepath.Clean(path))
	for _, prefix := range n.stripPrefixes {
		prefix = filepath.ToSlash(prefix)
		if rest, ok := strings.CutPrefix(cleaned, prefix); ok {
			cleaned = strings.TrimPrefix(rest, "/")
			break
		}
	}
	return cleaned
}

// dedupKey is (category, normalized path, line-or-config-path).
func dedupKey(raw types.RawFinding) string {
	location := raw.ConfigPath
	if location == "" && raw.Line > 0 {
		location = strconv.Itoa(raw.Line)
	}
	return raw.Category + "\x00" + raw.FilePath + "\x00" + location
}

// appendDetection adds a detection to the evidence list unless the same
// engine+rule pair is already recorded, keeping re-normalization
// idempotent.
func appendDetection(value interface{}, detection map[string]interface{}) []interface{} {
	detections, _ := value.([]interface{})
	for _, existing := range detections {
		if prior, ok := existing.(map[string]interface{}); ok {
			if prior["engine"] == detection["engine"] && prior["rule_id"] == detection["rule_id"] {
				return detections
			}
		}
	}
	return append(detections, detection)
}
