package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/modelguard/modelguard/pkg/types"
)

// semgrepExtensions are the source languages the SAST pass covers.
var semgrepExtensions = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".go": true, ".java": true,
}

// semgrepOutput mirrors the subset of `semgrep --json` the adapter reads.
type semgrepOutput struct {
	Results []struct {
		CheckID string `json:"check_id"`
		Path    string `json:"path"`
		Start   struct {
			Line int `json:"line"`
		} `json:"start"`
		Extra struct {
			Message  string `json:"message"`
			Severity string `json:"severity"`
		} `json:"extra"`
	} `json:"results"`
}

// SemgrepAnalyzer wraps the external semgrep binary for SAST coverage.
type SemgrepAnalyzer struct {
	executor types.CommandExecutor
	// configPath selects a ruleset; empty means semgrep's auto config.
	configPath string
}

// NewSemgrepAnalyzer creates a new SemgrepAnalyzer.
func NewSemgrepAnalyzer(executor types.CommandExecutor, configPath string) *SemgrepAnalyzer {
	return &SemgrepAnalyzer{executor: executor, configPath: configPath}
}

// Name returns the stable engine name.
func (a *SemgrepAnalyzer) Name() string { return "semgrep" }

// Applicable reports whether the target has source files semgrep covers.
func (a *SemgrepAnalyzer) Applicable(t *types.Target) bool {
	for _, file := range t.Files {
		if semgrepExtensions[strings.ToLower(filepath.Ext(file))] {
			return true
		}
	}
	return false
}

// Analyze shells out to semgrep and converts its JSON results. The
// process inherits ctx's deadline through the executor, so a timed-out
// run leaves no orphaned child.
func (a *SemgrepAnalyzer) Analyze(ctx context.Context, t *types.Target) ([]types.RawFinding, error) {
	config := a.configPath
	if config == "" {
		config = "auto"
	}
	args := []string{"scan", "--json", "--quiet", "--config", config, t.Path}
	stdout, stderr, err := a.executor.ExecuteCommand(ctx, "semgrep", args, os.Environ())
	if err != nil {
		return nil, fmt.Errorf("semgrep failed: %w: %s", err, firstLine(stderr))
	}

	var output semgrepOutput
	if err := json.Unmarshal([]byte(stdout), &output); err != nil {
		return nil, fmt.Errorf("failed to parse semgrep output: %w", err)
	}

	findings := make([]types.RawFinding, 0, len(output.Results))
	for _, result := range output.Results {
		path := result.Path
		if rel, err := filepath.Rel(t.Path, path); err == nil && !strings.HasPrefix(rel, "..") {
			path = rel
		}
		findings = append(findings, types.RawFinding{
			RuleID:      result.CheckID,
			Engine:      "semgrep",
			Title:       result.CheckID,
			Description: result.Extra.Message,
			FilePath:    path,
			Line:        result.Start.Line,
			Severity:    types.ParseSeverity(result.Extra.Severity),
			Confidence:  types.ConfidenceMedium,
		})
	}
	return findings, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
