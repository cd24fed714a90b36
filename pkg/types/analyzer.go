package types

import (
	"context"
	"time"
)

// RawFinding is one detection as reported by a single engine, before
// normalization and deduplication.
type RawFinding struct {
	// RuleID is the engine-native rule identifier.
	RuleID string
	// Engine is the stable name of the reporting analyzer.
	Engine string
	Title       string
	Description string
	// FilePath is relative to the target root.
	FilePath string
	// Line is 1-based; 0 when the finding has no line anchor.
	Line int
	// ConfigPath locates a finding inside a structured config
	// (e.g. "mcpServers.github.env.TOKEN") when Line does not apply.
	ConfigPath string
	// Severity and Category may be left empty; the normalizer fills
	// them from the rule bundle's mapping table.
	Severity   Severity
	Confidence Confidence
	Category   string
	Remediation string
	Metadata    map[string]string
}

// AdapterStatus is the terminal state of one analyzer invocation.
type AdapterStatus string

const (
	AdapterOK       AdapterStatus = "ok"
	AdapterFailed   AdapterStatus = "failed"
	AdapterTimedOut AdapterStatus = "timed_out"
)

// AdapterResult is what the orchestrator records for one analyzer,
// whether it succeeded or not. Adapters never surface errors past this.
type AdapterResult struct {
	Engine      string
	Status      AdapterStatus
	Findings    []RawFinding
	Diagnostics string
	Duration    time.Duration
}

// Analyzer is the uniform contract every analysis engine implements.
// Implementations are registered explicitly at startup; there is no
// dynamic discovery.
type Analyzer interface {
	// Name is the stable engine name used for provenance.
	Name() string
	// Applicable reports whether the analyzer should run for the target.
	Applicable(t *Target) bool
	// Analyze runs the engine. Errors are converted by the orchestrator
	// into a failed AdapterResult; they never fail the scan on their own.
	Analyze(ctx context.Context, t *Target) ([]RawFinding, error)
}
