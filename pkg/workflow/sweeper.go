package workflow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/modelguard/modelguard/internal/data/db"
	"github.com/modelguard/modelguard/internal/log"
)

// FindingChecker reports whether a finding still exists. The scan store
// implements it.
type FindingChecker interface {
	FindingExists(ctx context.Context, findingID string) (bool, error)
}

// Sweeper periodically expires overdue pending requests, retires
// exceptions past their window, and invalidates exceptions whose finding
// is gone. Each row transition uses the same compare-and-set as
// interactive approval, so a sweep racing an approval resolves to
// exactly one terminal state.
type Sweeper struct {
	manager  db.WorkflowManager
	findings FindingChecker
	interval time.Duration
}

// NewSweeper creates a Sweeper.
func NewSweeper(manager db.WorkflowManager, findings FindingChecker, interval time.Duration) (*Sweeper, error) {
	if manager == nil {
		return nil, fmt.Errorf("manager cannot be nil")
	}
	if findings == nil {
		return nil, fmt.Errorf("findings cannot be nil")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", interval)
	}
	return &Sweeper{manager: manager, findings: findings, interval: interval}, nil
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	logger := log.NewLogger(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx, time.Now()); err != nil {
				logger.Error("workflow sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce runs one full pass at the given instant.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) error {
	logger := log.NewLogger(ctx)

	expiredRequests, err := s.manager.ExpireOverduePolicyRequests(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to expire policy change requests: %w", err)
	}
	expiredExceptions, err := s.manager.ExpireExceptions(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to expire exceptions: %w", err)
	}
	invalidated, err := s.invalidateOrphans(ctx)
	if err != nil {
		return fmt.Errorf("failed to invalidate orphaned exceptions: %w", err)
	}

	if expiredRequests+expiredExceptions+invalidated > 0 {
		logger.Info("workflow sweep",
			zap.Int("expired_requests", expiredRequests),
			zap.Int("expired_exceptions", expiredExceptions),
			zap.Int("invalidated_exceptions", invalidated))
	}
	return nil
}

// invalidateOrphans marks exceptions invalid when their pinned finding
// no longer exists. The exception rows are kept for audit.
func (s *Sweeper) invalidateOrphans(ctx context.Context) (int, error) {
	exceptions, err := s.manager.ListFindingBoundExceptions(ctx)
	if err != nil {
		return 0, err
	}
	invalidated := 0
	for _, exception := range exceptions {
		exists, err := s.findings.FindingExists(ctx, exception.FindingID)
		if err != nil {
			return invalidated, err
		}
		if exists {
			continue
		}
		if err := s.manager.InvalidateException(ctx, exception.ID,
			fmt.Sprintf("finding %s no longer exists", exception.FindingID)); err != nil {
			return invalidated, err
		}
		invalidated++
	}
	return invalidated, nil
}
