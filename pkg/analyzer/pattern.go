package analyzer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/modelguard/modelguard/pkg/rules"
	"github.com/modelguard/modelguard/pkg/types"
)

// maxPatternFileSize caps how much of a single file the pattern scanner
// reads. Model weight blobs are not useful regex targets.
const maxPatternFileSize = 4 << 20

// PatternAnalyzer is the in-process regex rule scanner. Its rules come
// from the rule bundle, so rule content updates without a rebuild.
type PatternAnalyzer struct {
	patterns []compiledPattern
}

type compiledPattern struct {
	rule rules.PatternRule
	re   *regexp.Regexp
}

// NewPatternAnalyzer compiles the bundle's pattern rules.
func NewPatternAnalyzer(bundle *rules.Bundle) (*PatternAnalyzer, error) {
	analyzer := &PatternAnalyzer{}
	for _, rule := range bundle.Patterns {
		re, err := regexp.Compile(rule.Regex)
		if err != nil {
			return nil, fmt.Errorf("pattern rule %s has an invalid regex: %w", rule.ID, err)
		}
		analyzer.patterns = append(analyzer.patterns, compiledPattern{rule: rule, re: re})
	}
	return analyzer, nil
}

// Name returns the stable engine name.
func (a *PatternAnalyzer) Name() string { return "pattern" }

// Applicable reports whether any pattern rule covers a target file.
func (a *PatternAnalyzer) Applicable(t *types.Target) bool {
	for _, file := range t.Files {
		for _, pattern := range a.patterns {
			if ok, _ := doublestar.Match(pattern.rule.Files, filepath.ToSlash(file)); ok {
				return true
			}
		}
	}
	return false
}

// Analyze scans matching files line by line against every pattern rule.
func (a *PatternAnalyzer) Analyze(ctx context.Context, t *types.Target) ([]types.RawFinding, error) {
	var findings []types.RawFinding
	for _, file := range t.Files {
		if err := ctx.Err(); err != nil {
			return findings, err
		}

		var applicable []compiledPattern
		for _, pattern := range a.patterns {
			if ok, _ := doublestar.Match(pattern.rule.Files, filepath.ToSlash(file)); ok {
				applicable = append(applicable, pattern)
			}
		}
		if len(applicable) == 0 {
			continue
		}

		fileFindings, err := a.scanFile(t.Path, file, applicable)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", file, err)
		}
		findings = append(findings, fileFindings...)
	}
	return findings, nil
}

func (a *PatternAnalyzer) scanFile(root, file string, patterns []compiledPattern) ([]types.RawFinding, error) {
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
			// Binary file; not a regex target.
			return findings, nil
		}
		for _, pattern := range patterns {
			if pattern.re.Match(text) {
				findings = append(findings, types.RawFinding{
					RuleID:      pattern.rule.ID,
					Engine:      "pattern",
					Title:       pattern.rule.Title,
					Description: fmt.Sprintf("Line matches rule %s: %s", pattern.rule.ID, pattern.rule.Title),
					FilePath:    file,
					Line:        line,
					Severity:    pattern.rule.Severity,
					Confidence:  types.ConfidenceMedium,
					Category:    pattern.rule.Category,
				})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return findings, nil
}
