package analyzer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/modelguard/modelguard/pkg/types"
)

// secretDetector is one high-signal credential pattern.
type secretDetector struct {
	ruleID   string
	title    string
	re       *regexp.Regexp
	severity types.Severity
}

var secretDetectors = []secretDetector{
	{
		ruleID:   "MG-SECRET-001",
		title:    "AWS access key id",
		re:       regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
		severity: types.SeverityCritical,
	},
	{
		ruleID:   "MG-SECRET-001",
		title:    "Private key material",
		re:       regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
		severity: types.SeverityCritical,
	},
	{
		ruleID:   "MG-SECRET-001",
		title:    "GitHub token",
		re:       regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`),
		severity: types.SeverityCritical,
	},
	{
		ruleID:   "MG-SECRET-001",
		title:    "Hardcoded credential assignment",
		re:       regexp.MustCompile(`(?i)\b(?:api[_-]?key|secret|token|passwd|password)\b\s*[:=]\s*["'][^"']{12,}["']`),
		severity: types.SeverityHigh,
	},
}

// entropyCandidate finds long quoted strings worth an entropy check.
var entropyCandidate = regexp.MustCompile(`["']([A-Za-z0-9+/=_\-]{24,})["']`)

// entropyThreshold is the Shannon entropy (bits per byte) above which a
// quoted string is reported as a possible secret.
const entropyThreshold = 4.2

// secretFileExtensions limits the scan to text-ish artifact files.
var secretFileExtensions = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".json": true, ".yaml": true,
	".yml": true, ".toml": true, ".ini": true, ".cfg": true, ".env": true,
	".sh": true, ".txt": true, ".md": true,
}

// SecretsAnalyzer is the in-process secrets detector: high-signal
// credential patterns plus a Shannon-entropy backstop.
type SecretsAnalyzer struct{}

// NewSecretsAnalyzer creates a new SecretsAnalyzer.
func NewSecretsAnalyzer() *SecretsAnalyzer { return &SecretsAnalyzer{} }

// Name returns the stable engine name.
func (a *SecretsAnalyzer) Name() string { return "secrets" }

// Applicable reports whether the target has any text files worth scanning.
func (a *SecretsAnalyzer) Applicable(t *types.Target) bool {
	for _, file := range t.Files {
		if secretFileExtensions[strings.ToLower(filepath.Ext(file))] {
			return true
		}
	}
	return false
}

// Analyze scans text files for credential patterns and high-entropy strings.
func (a *SecretsAnalyzer) Analyze(ctx context.Context, t *types.Target) ([]types.RawFinding, error) {
	var findings []types.RawFinding
	for _, file := range t.Files {
		if err := ctx.Err(); err != nil {
			return findings, err
		}
		if !secretFileExtensions[strings.ToLower(filepath.Ext(file))] {
			continue
		}
		fileFindings, err := a.scanFile(t.Path, file)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", file, err)
		}
		findings = append(findings, fileFindings...)
	}
	return findings, nil
}

func (a *SecretsAnalyzer) scanFile(root, file string) ([]types.RawFinding, error) {
	f, err := os.Open(filepath.Join(root, file))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var findings []types.RawFinding
	scanner := bufio.NewScanner(bufio.NewReader(f))
	scanner.Buffer(make([]byte, 0, 64*1024), maxPatternFileSize)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Bytes()
		if bytes.IndexByte(text, 0) >= 0 {
			return findings, nil
		}

		matched := false
		for _, detector := range secretDetectors {
			if detector.re.Match(text) {
				matched = true
				findings = append(findings, types.RawFinding{
					RuleID:      detector.ruleID,
					Engine:      "secrets",
					Title:       detector.title,
					Description: fmt.Sprintf("%s detected in %s", detector.title, file),
					FilePath:    file,
					Line:        line,
					Severity:    detector.severity,
					Confidence:  types.ConfidenceHigh,
				})
			}
		}
		if matched {
			continue
		}

		// Entropy backstop for secrets the patterns miss.
		for _, match := range entropyCandidate.FindAllSubmatch(text, -1) {
			candidate := string(match[1])
			if shannonEntropy(candidate) >= entropyThreshold {
				findings = append(findings, types.RawFinding{
					RuleID:      "MG-SECRET-002",
					Engine:      "secrets",
					Title:       "High-entropy string",
					Description: fmt.Sprintf("High-entropy string of length %d in %s", len(candidate), file),
					FilePath:    file,
					Line:        line,
					Severity:    types.SeverityMedium,
					Confidence:  types.ConfidenceLow,
				})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return findings, nil
}

// shannonEntropy returns the entropy of s in bits per byte.
func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	var counts [256]int
	for i := 0; i < len(s); i++ {
		counts[s[i]]++
	}
	entropy := 0.0
	length := float64(len(s))
	for _, count := range counts {
		if count == 0 {
			continue
		}
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}
