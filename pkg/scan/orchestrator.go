// Package scan drives the analyzer set over one target and turns the
// raw engine output into persisted, gated scan results.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/modelguard/modelguard/internal/config"
	"github.com/modelguard/modelguard/internal/data/model"
	"github.com/modelguard/modelguard/internal/log"
	"github.com/modelguard/modelguard/internal/metrics"
	"github.com/modelguard/modelguard/pkg/types"
)

// metricsPrefix namespaces the engine's prometheus metrics.
const metricsPrefix = "modelguard"

// RegisterMetrics registers the engine's counters on the context's
// collector. Call once per process before running scans; the recording
// sites tolerate an absent registration.
func RegisterMetrics(ctx context.Context) error {
	collector := metrics.FromContext(ctx, metricsPrefix)
	if _, err := collector.RegisterCounter(ctx, "scans_total", "status"); err != nil {
		return fmt.Errorf("failed to register scans_total: %w", err)
	}
	if _, err := collector.RegisterCounter(ctx, "findings_total", "severity"); err != nil {
		return fmt.Errorf("failed to register findings_total: %w", err)
	}
	if _, err := collector.RegisterCounter(ctx, "adapter_failures_total", "status"); err != nil {
		return fmt.Errorf("failed to register adapter_failures_total: %w", err)
	}
	return nil
}

// Orchestrator runs the applicable analyzers for a target concurrently,
// each under its own deadline, and collects whatever finishes before the
// scan's global deadline. Adapter errors become AdapterResult statuses;
// they never abort the scan.
type Orchestrator struct {
	analyzers      []types.Analyzer
	maxConcurrent  int64
	adapterTimeout time.Duration
}

// NewOrchestrator creates an Orchestrator over the given analyzer set.
func NewOrchestrator(analyzers []types.Analyzer, cfg *config.Engine) (*Orchestrator, error) {
	if len(analyzers) == 0 {
		return nil, fmt.Errorf("analyzers cannot be empty")
	}
	if cfg == nil {
		return nil, fmt.Errorf("cfg cannot be nil")
	}
	return &Orchestrator{
		analyzers:      analyzers,
		maxConcurrent:  int64(cfg.MaxConcurrentAnalyzers),
		adapterTimeout: cfg.AnalyzerTimeout,
	}, nil
}

// Applicable returns the analyzers that should run for the target.
func (o *Orchestrator) Applicable(t *types.Target) []types.Analyzer {
	var applicable []types.Analyzer
	for _, analyzer := range o.analyzers {
		if analyzer.Applicable(t) {
			applicable = append(applicable, analyzer)
		}
	}
	return applicable
}

// Run executes every applicable analyzer under the worker-pool cap and
// returns one AdapterResult per analyzer, in registration order. The
// caller's ctx carries the global scan deadline; an adapter that has not
// finished by then is recorded as timed out.
func (o *Orchestrator) Run(ctx context.Context, t *types.Target) []types.AdapterResult {
	logger := log.NewLogger(ctx)
	collector := metrics.FromContext(ctx, metricsPrefix)
	applicable := o.Applicable(t)

	sem := semaphore.NewWeighted(o.maxConcurrent)
	results := make([]types.AdapterResult, len(applicable))
	var wg sync.WaitGroup
	for i, analyzer := range applicable {
		wg.Add(1)
		go func(i int, analyzer types.Analyzer) {
			defer wg.Done()
			results[i] = o.runOne(ctx, sem, analyzer, t)
			if results[i].Status != types.AdapterOK {
				logger.Warn("analyzer did not complete",
					zap.String("engine", results[i].Engine),
					zap.String("status", string(results[i].Status)),
					zap.String("diagnostics", results[i].Diagnostics))
				_ = collector.AddCounter(ctx, "adapter_failures_total", 1, string(results[i].Status))
			}
		}(i, analyzer)
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) runOne(ctx context.Context, sem *semaphore.Weighted,
	analyzer types.Analyzer, t *types.Target) types.AdapterResult {
	start := time.Now()
	result := types.AdapterResult{Engine: analyzer.Name()}

	if err := sem.Acquire(ctx, 1); err != nil {
		// Scan deadline hit before this analyzer got a worker slot.
		result.Status = types.AdapterTimedOut
		result.Diagnostics = "scan deadline reached before the analyzer started"
		result.Duration = time.Since(start)
		return result
	}
	defer sem.Release(1)

	adapterCtx, cancel := context.WithTimeout(ctx, o.adapterTimeout)
	defer cancel()

	findings, err := analyzer.Analyze(adapterCtx, t)
	result.Duration = time.Since(start)
	switch {
	case err == nil:
		result.Status = types.AdapterOK
		result.Findings = findings
	case errors.Is(err, context.DeadlineExceeded), errors.Is(adapterCtx.Err(), context.DeadlineExceeded):
		result.Status = types.AdapterTimedOut
		result.Diagnostics = err.Error()
	default:
		result.Status = types.AdapterFailed
		result.Diagnostics = err.Error()
	}
	return result
}

// Summarize derives the scan summary from the adapter results. The
// confidence label reflects how many analyzers completed; it is
// informational only and never feeds the gate.
func Summarize(results []types.AdapterResult, duration time.Duration, cfg *config.Engine) model.ScanSummary {
	summary := model.ScanSummary{DurationMS: duration.Milliseconds()}
	ran := 0
	for _, result := range results {
		summary.AdapterStatuses = append(summary.AdapterStatuses,
			result.Engine+":"+string(result.Status))
		if result.Status == types.AdapterOK {
			ran++
		} else {
			summary.AnalyzersFailed++
		}
	}
	summary.AnalyzersRun = ran
	summary.PartialScan = summary.AnalyzersFailed > 0
	switch {
	case ran >= cfg.ConfidenceHighMin:
		summary.Confidence = string(types.ConfidenceHigh)
	case ran >= cfg.ConfidenceMediumMin:
		summary.Confidence = string(types.ConfidenceMedium)
	default:
		summary.Confidence = string(types.ConfidenceLow)
	}
	return summary
}
