package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/modelguard/modelguard/internal/config"
	"github.com/modelguard/modelguard/internal/data/db"
	"github.com/modelguard/modelguard/internal/data/model"
	"github.com/modelguard/modelguard/internal/log"
	"github.com/modelguard/modelguard/internal/metrics"
	"github.com/modelguard/modelguard/pkg/policy"
	"github.com/modelguard/modelguard/pkg/types"
)

// ExceptionSource supplies the approved, currently-effective exception
// snapshot consulted during gate evaluation.
type ExceptionSource interface {
	ListEffectiveExceptions(ctx context.Context, tenantID string, now time.Time) ([]model.Exception, error)
}

// Service owns the scan lifecycle: queued, running, then completed with
// a gate result or failed with an explicit reason.
type Service struct {
	scans        db.ScanManager
	policies     db.PolicyManager
	exceptions   ExceptionSource
	orchestrator *Orchestrator
	normalizer   *Normalizer
	mapper       *ThreatMapper
	cfg          *config.Engine
}

// NewService creates a scan Service.
func NewService(scans db.ScanManager, policies db.PolicyManager, exceptions ExceptionSource,
	orchestrator *Orchestrator, normalizer *Normalizer, mapper *ThreatMapper,
	cfg *config.Engine) (*Service, error) {
	if scans == nil {
		return nil, fmt.Errorf("scans cannot be nil")
	}
	if policies == nil {
		return nil, fmt.Errorf("policies cannot be nil")
	}
	if exceptions == nil {
		return nil, fmt.Errorf("exceptions cannot be nil")
	}
	if orchestrator == nil || normalizer == nil || mapper == nil {
		return nil, fmt.Errorf("orchestrator, normalizer, and mapper cannot be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("cfg cannot be nil")
	}
	return &Service{
		scans:        scans,
		policies:     policies,
		exceptions:   exceptions,
		orchestrator: orchestrator,
		normalizer:   normalizer,
		mapper:       mapper,
		cfg:          cfg,
	}, nil
}

// Queue records a new scan in queued status and returns it immediately.
func (s *Service) Queue(ctx context.Context, tenantID string, scanType types.ScanType,
	targetRef string) (*model.Scan, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID cannot be empty")
	}
	scan := &model.Scan{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		ScanType:  scanType,
		TargetRef: targetRef,
		Status:    model.ScanQueued,
	}
	if err := s.scans.InsertScan(ctx, scan); err != nil {
		return nil, fmt.Errorf("failed to queue scan: %w", err)
	}
	return scan, nil
}

// Execute runs a queued scan against the resolved target. Adapter
// failures never fail the scan; it fails only when the target is
// unreadable or every applicable analyzer failed.
func (s *Service) Execute(ctx context.Context, scanID string, target *types.Target,
	policyType string) (*model.Scan, error) {
	logger := log.NewLogger(ctx)
	collector := metrics.FromContext(ctx, metricsPrefix)

	scan, err := s.scans.GetScan(ctx, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load scan %s: %w", scanID, err)
	}
	if scan.Status != model.ScanQueued {
		return nil, fmt.Errorf("scan %s is %s, only queued scans can execute", scanID, scan.Status)
	}
	if policyType == "" {
		policyType = policy.DefaultPolicyType
	}

	started := time.Now()
	scan.Status = model.ScanRunning
	scan.StartedAt = &started
	if err := s.scans.UpdateScan(ctx, scan); err != nil {
		return nil, fmt.Errorf("failed to mark scan running: %w", err)
	}

	scanCtx, cancel := context.WithTimeout(ctx, s.cfg.ScanTimeout)
	defer cancel()

	if err := target.Resolve(); err != nil {
		return s.fail(ctx, scan, started, fmt.Sprintf("target unreadable: %v", err))
	}

	results := s.orchestrator.Run(scanCtx, target)
	summary := Summarize(results, time.Since(started), s.cfg)
	if len(results) > 0 && summary.AnalyzersRun == 0 {
		scan.Summary = summary
		return s.fail(ctx, scan, started, "all applicable analyzers failed")
	}

	findings := s.normalizer.Normalize(scan.ID, scan.TenantID, results)
	s.mapper.Apply(findings)

	gate, err := s.evaluate(ctx, scan.TenantID, policyType, findings)
	if err != nil {
		return s.fail(ctx, scan, started, fmt.Sprintf("gate evaluation failed: %v", err))
	}

	summary.Gate = model.GateSummary{
		Evaluated:     true,
		Passed:        gate.Passed,
		PolicyID:      gate.PolicyID,
		SeverityCount: model.JSONMap{},
		Suppressed:    model.JSONMap{},
	}
	for severity, count := range gate.SeverityCounts {
		summary.Gate.SeverityCount[string(severity)] = count
	}
	for findingID, exceptionID := range gate.Suppressed {
		summary.Gate.Suppressed[findingID] = exceptionID
	}

	completed := time.Now()
	summary.DurationMS = completed.Sub(started).Milliseconds()
	scan.Summary = summary
	scan.Findings = findings
	scan.Status = model.ScanCompleted
	scan.CompletedAt = &completed
	if err := s.scans.UpdateScan(ctx, scan); err != nil {
		return nil, fmt.Errorf("failed to persist completed scan: %w", err)
	}

	logger.Info("scan completed",
		zap.String("scan_id", scan.ID),
		zap.String("tenant_id", scan.TenantID),
		zap.Int("findings", len(findings)),
		zap.Bool("partial", summary.PartialScan),
		zap.Bool("gate_passed", gate.Passed))
	_ = collector.AddCounter(ctx, "scans_total", 1, string(model.ScanCompleted))
	for _, finding := range findings {
		_ = collector.AddCounter(ctx, "findings_total", 1, string(finding.Severity))
	}
	return scan, nil
}

// Run queues and immediately executes a scan against a local target path.
func (s *Service) Run(ctx context.Context, tenantID string, scanType types.ScanType,
	targetPath, policyType string) (*model.Scan, error) {
	scan, err := s.Queue(ctx, tenantID, scanType, targetPath)
	if err != nil {
		return nil, err
	}
	target := &types.Target{Path: targetPath, ScanType: scanType, TenantID: tenantID}
	return s.Execute(ctx, scan.ID, target, policyType)
}

// evaluate resolves the effective policy and exception snapshot and runs
// the gate. A tenant without an active policy gates against the built-in
// default.
func (s *Service) evaluate(ctx context.Context, tenantID, policyType string,
	findings []model.Finding) (policy.GateResult, error) {
	now := time.Now()
	active, err := s.policies.GetActivePolicy(ctx, tenantID, policyType)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			return policy.GateResult{}, err
		}
		active = nil
	}
	exceptions, err := s.exceptions.ListEffectiveExceptions(ctx, tenantID, now)
	if err != nil {
		return policy.GateResult{}, err
	}
	return policy.EvaluateGate(findings, active, exceptions, now), nil
}

func (s *Service) fail(ctx context.Context, scan *model.Scan, started time.Time,
	reason string) (*model.Scan, error) {
	collector := metrics.FromContext(ctx, metricsPrefix)
	completed := time.Now()
	scan.Status = model.ScanFailed
	scan.FailureReason = reason
	scan.CompletedAt = &completed
	scan.Summary.DurationMS = completed.Sub(started).Milliseconds()
	if err := s.scans.UpdateScan(ctx, scan); err != nil {
		return nil, fmt.Errorf("failed to persist failed scan: %w", err)
	}
	log.NewLogger(ctx).Error("scan failed", "scan_id", scan.ID, "reason", reason)
	_ = collector.AddCounter(ctx, "scans_total", 1, string(model.ScanFailed))
	return scan, nil
}
