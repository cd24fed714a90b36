// Package analyzer holds the closed set of analysis engines the
// orchestrator can run. Engines are registered explicitly here; adding
// one means adding a type that implements types.Analyzer, not reflection.
package analyzer

import (
	"fmt"

	"github.com/modelguard/modelguard/pkg/rules"
	"github.com/modelguard/modelguard/pkg/types"
)

// DefaultRegistry builds the full analyzer set in a stable order.
func DefaultRegistry(bundle *rules.Bundle, executor types.CommandExecutor) ([]types.Analyzer, error) {
	pattern, err := NewPatternAnalyzer(bundle)
	if err != nil {
		return nil, fmt.Errorf("failed to build pattern analyzer: %w", err)
	}
	return []types.Analyzer{
		pattern,
		NewSemgrepAnalyzer(executor, ""),
		NewSecretsAnalyzer(),
		NewPickleAnalyzer(),
		NewMCPProbeAnalyzer(),
	}, nil
}
