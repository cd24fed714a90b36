package scan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/modelguard/modelguard/internal/config"
	"github.com/modelguard/modelguard/internal/metrics"
	"github.com/modelguard/modelguard/pkg/types"
)

// stubAnalyzer is a scripted analyzer for orchestrator tests.
type stubAnalyzer struct {
	name       string
	applicable bool
	findings   []types.RawFinding
	err        error
	// block makes Analyze wait for ctx cancellation.
	block bool
}

func (s *stubAnalyzer) Name() string                    { return s.name }
func (s *stubAnalyzer) Applicable(_ *types.Target) bool { return s.applicable }

func (s *stubAnalyzer) Analyze(ctx context.Context, _ *types.Target) ([]types.RawFinding, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.findings, s.err
}

func testEngineConfig() *config.Engine {
	cfg := config.Default()
	cfg.AnalyzerTimeout = 100 * time.Millisecond
	cfg.ScanTimeout = time.Second
	return cfg
}

func TestOrchestratorPartialFailureTolerance(t *testing.T) {
	finding := types.RawFinding{RuleID: "MG-SECRET-001", FilePath: "config.py", Line: 3}
	analyzers := []types.Analyzer{
		&stubAnalyzer{name: "a1", applicable: true, findings: []types.RawFinding{finding}},
		&stubAnalyzer{name: "a2", applicable: true},
		&stubAnalyzer{name: "a3", applicable: true},
		&stubAnalyzer{name: "timeout", applicable: true, block: true},
	}
	orchestrator, err := NewOrchestrator(analyzers, testEngineConfig())
	require.NoError(t, err)

	results := orchestrator.Run(context.Background(), &types.Target{Path: "."})
	require.Len(t, results, 4)

	byEngine := map[string]types.AdapterResult{}
	for _, result := range results {
		byEngine[result.Engine] = result
	}
	require.Equal(t, types.AdapterOK, byEngine["a1"].Status)
	require.Len(t, byEngine["a1"].Findings, 1)
	require.Equal(t, types.AdapterTimedOut, byEngine["timeout"].Status)

	summary := Summarize(results, 250*time.Millisecond, testEngineConfig())
	require.Equal(t, 3, summary.AnalyzersRun)
	require.Equal(t, 1, summary.AnalyzersFailed)
	require.True(t, summary.PartialScan)
	require.Equal(t, int64(250), summary.DurationMS)
}

func TestOrchestratorAdapterErrorDoesNotAbort(t *testing.T) {
	analyzers := []types.Analyzer{
		&stubAnalyzer{name: "broken", applicable: true, err: errors.New("scanner crashed")},
		&stubAnalyzer{name: "fine", applicable: true},
	}
	orchestrator, err := NewOrchestrator(analyzers, testEngineConfig())
	require.NoError(t, err)

	results := orchestrator.Run(context.Background(), &types.Target{Path: "."})
	require.Len(t, results, 2)
	for _, result := range results {
		if result.Engine == "broken" {
			require.Equal(t, types.AdapterFailed, result.Status)
			require.Contains(t, result.Diagnostics, "scanner crashed")
		} else {
			require.Equal(t, types.AdapterOK, result.Status)
		}
	}
}

func TestOrchestratorSkipsInapplicable(t *testing.T) {
	analyzers := []types.Analyzer{
		&stubAnalyzer{name: "model-only", applicable: false},
		&stubAnalyzer{name: "generic", applicable: true},
	}
	orchestrator, err := NewOrchestrator(analyzers, testEngineConfig())
	require.NoError(t, err)

	results := orchestrator.Run(context.Background(), &types.Target{Path: "."})
	require.Len(t, results, 1)
	require.Equal(t, "generic", results[0].Engine)
}

func TestSummarizeConfidenceThresholds(t *testing.T) {
	cfg := config.Default()
	ok := types.AdapterResult{Engine: "e", Status: types.AdapterOK}
	failed := types.AdapterResult{Engine: "e", Status: types.AdapterFailed}

	tests := []struct {
		name    string
		results []types.AdapterResult
		want    string
	}{
		{name: "one ran", results: []types.AdapterResult{ok, failed}, want: "low"},
		{name: "two ran", results: []types.AdapterResult{ok, ok}, want: "medium"},
		{name: "four ran", results: []types.AdapterResult{ok, ok, ok, ok}, want: "high"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summary := Summarize(tt.results, time.Second, cfg)
			require.Equal(t, tt.want, summary.Confidence)
		})
	}
}

// TestRegisterMetrics tests counter registration on a fresh collector.
func TestRegisterMetrics(t *testing.T) {
	ctx := metrics.WithMetrics(context.Background(), metricsPrefix)

	require.NoError(t, RegisterMetrics(ctx))
	// Second registration on the same collector collides.
	require.Error(t, RegisterMetrics(ctx))

	collector := metrics.FromContext(ctx, metricsPrefix)
	require.NoError(t, collector.AddCounter(ctx, "scans_total", 1, "completed"))
	require.NoError(t, collector.AddCounter(ctx, "adapter_failures_total", 1, "timed_out"))
}
