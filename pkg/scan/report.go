package scan

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/modelguard/modelguard/internal/data/model"
)

// ReportFinding is the stable structured projection of one finding,
// sufficient for the UI layer's CSV/JSON export.
type ReportFinding struct {
	ID           string   `json:"id"`
	RuleID       string   `json:"rule_id"`
	Engine       string   `json:"engine"`
	Category     string   `json:"category"`
	Severity     string   `json:"severity"`
	Confidence   string   `json:"confidence"`
	Title        string   `json:"title"`
	Location     string   `json:"location"`
	TaxonomyTags []string `json:"taxonomy_tags,omitempty"`
	Remediation  string   `json:"remediation,omitempty"`
	// SuppressedBy is the id of the exception that suppressed the
	// finding during gate evaluation, empty when the finding gated.
	SuppressedBy string `json:"suppressed_by,omitempty"`
}

// ReportGate projects the persisted gate outcome.
type ReportGate struct {
	Evaluated      bool           `json:"evaluated"`
	Passed         bool           `json:"passed"`
	PolicyID       string         `json:"policy_id,omitempty"`
	SeverityCounts map[string]int `json:"severity_counts"`
}

// Report is the export shape of one completed scan.
type Report struct {
	ScanID      string          `json:"scan_id"`
	TenantID    string          `json:"tenant_id"`
	ScanType    string          `json:"scan_type"`
	TargetRef   string          `json:"target_ref"`
	Status      string          `json:"status"`
	PartialScan bool            `json:"partial_scan"`
	Confidence  string          `json:"confidence"`
	Gate        ReportGate      `json:"gate"`
	Findings    []ReportFinding `json:"findings"`
}

// BuildReport projects a persisted scan, its findings, and its gate
// summary into the export shape.
func BuildReport(scan *model.Scan) *Report {
	report := &Report{
		ScanID:      scan.ID,
		TenantID:    scan.TenantID,
		ScanType:    string(scan.ScanType),
		TargetRef:   scan.TargetRef,
		Status:      string(scan.Status),
		PartialScan: scan.Summary.PartialScan,
		Confidence:  scan.Summary.Confidence,
		Gate: ReportGate{
			Evaluated:      scan.Summary.Gate.Evaluated,
			Passed:         scan.Summary.Gate.Passed,
			PolicyID:       scan.Summary.Gate.PolicyID,
			SeverityCounts: map[string]int{},
		},
	}
	for severity, count := range scan.Summary.Gate.SeverityCount {
		if n, ok := count.(float64); ok {
			report.Gate.SeverityCounts[severity] = int(n)
		} else if n, ok := count.(int); ok {
			report.Gate.SeverityCounts[severity] = n
		}
	}

	for i := range scan.Findings {
		finding := &scan.Findings[i]
		projected := ReportFinding{
			ID:          finding.ID,
			RuleID:      finding.RuleID,
			Engine:      finding.Engine,
			Category:    finding.Category,
			Severity:    string(finding.Severity),
			Confidence:  string(finding.Confidence),
			Title:       finding.Title,
			Location:    finding.Location(),
			Remediation: finding.Remediation,
		}
		for _, tag := range Tags(finding) {
			projected.TaxonomyTags = append(projected.TaxonomyTags, tag.ID)
		}
		if suppressor, ok := scan.Summary.Gate.Suppressed[finding.ID].(string); ok {
			projected.SuppressedBy = suppressor
		}
		report.Findings = append(report.Findings, projected)
	}
	return report
}

// WriteToJSON writes the report as indented JSON.
func (r *Report) WriteToJSON(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// WriteToCSV writes one row per finding.
func (r *Report) WriteToCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	header := []string{
		"scan_id", "finding_id", "rule_id", "engine", "category",
		"severity", "confidence", "title", "location", "taxonomy_tags",
		"suppressed_by",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, finding := range r.Findings {
		row := []string{
			r.ScanID, finding.ID, finding.RuleID, finding.Engine,
			finding.Category, finding.Severity, finding.Confidence,
			finding.Title, finding.Location,
			strings.Join(finding.TaxonomyTags, ";"),
			finding.SuppressedBy,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}
