package db

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/modelguard/modelguard/internal/data/model"
	"github.com/modelguard/modelguard/internal/log"
)

// ScanManager defines the interface for managing scans in the database.
type ScanManager interface {
	// InsertScan inserts a new Scan and its associated Findings into the database.
	InsertScan(ctx context.Context, scan *model.Scan) error
	// UpdateScan updates an existing Scan's status, summary, and Findings.
	UpdateScan(ctx context.Context, scan *model.Scan) error
	// GetScan retrieves a Scan and its associated Findings from the database.
	GetScan(ctx context.Context, id string) (*model.Scan, error)
	// ListScans retrieves all scans for a tenant, newest first, without findings.
	ListScans(ctx context.Context, tenantID string) ([]model.Scan, error)
	// FindingExists reports whether a finding row exists.
	FindingExists(ctx context.Context, findingID string) (bool, error)
}

// GormScanManager implements the ScanManager interface using a GORM DB connection.
type GormScanManager struct {
	db *gorm.DB
}

// NewGormScanManager creates a new GormScanManager.
func NewGormScanManager(db *gorm.DB) (*GormScanManager, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	return &GormScanManager{db: db}, nil
}

// InsertScan inserts a new Scan and its associated Findings into the database.
func (manager *GormScanManager) InsertScan(ctx context.Context, scan *model.Scan) error {
	if ctx == nil {
		return fmt.Errorf("ctx cannot be nil")
	}
	if scan == nil {
		return fmt.Errorf("scan cannot be nil")
	}
	logger := log.NewLogger(ctx)
	logger.Debug("InsertScan", zap.String("scan_id", scan.ID), zap.String("tenant", scan.TenantID))

	if err := manager.db.WithContext(ctx).Create(scan).Error; err != nil {
		return fmt.Errorf("error creating scan: %w", err)
	}
	return nil
}

// UpdateScan updates an existing Scan's status and summary, and replaces
// its Findings. Findings are written exactly once per scan, so the delete
// only matters on orchestrator retries.
func (manager *GormScanManager) UpdateScan(ctx context.Context, scan *model.Scan) error {
	if ctx == nil {
		return fmt.Errorf("ctx cannot be nil")
	}
	if scan == nil {
		return fmt.Errorf("scan cannot be nil")
	}
	logger := log.NewLogger(ctx)
	logger.Debug("UpdateScan", zap.String("scan_id", scan.ID), zap.String("status", string(scan.Status)))

	err := manager.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.Scan
		if err := tx.First(&existing, "id = ?", scan.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("scan %s: %w", scan.ID, ErrNotFound)
			}
			return fmt.Errorf("error finding scan: %w", err)
		}

		if err := tx.Where("scan_id = ?", scan.ID).Delete(&model.Finding{}).Error; err != nil {
			return fmt.Errorf("error deleting existing findings: %w", err)
		}
		if err := tx.Save(scan).Error; err != nil {
			return fmt.Errorf("error updating scan: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}
	return nil
}

// GetScan retrieves a Scan and its associated Findings from the database.
func (manager *GormScanManager) GetScan(ctx context.Context, id string) (*model.Scan, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx cannot be nil")
	}

	var scan model.Scan
	err := manager.db.WithContext(ctx).Preload("Findings").First(&scan, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("scan %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("error retrieving scan: %w", err)
	}
	return &scan, nil
}

// ListScans retrieves all scans for a tenant, newest first, without findings.
func (manager *GormScanManager) ListScans(ctx context.Context, tenantID string) ([]model.Scan, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx cannot be nil")
	}

	var scans []model.Scan
	err := manager.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Find(&scans).Error
	if err != nil {
		return nil, fmt.Errorf("error listing scans: %w", err)
	}
	return scans, nil
}

// FindingExists reports whether a finding row exists.
func (manager *GormScanManager) FindingExists(ctx context.Context, findingID string) (bool, error) {
	if ctx == nil {
		return false, fmt.Errorf("ctx cannot be nil")
	}

	var count int64
	err := manager.db.WithContext(ctx).Model(&model.Finding{}).
		Where("id = ?", findingID).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("error checking finding: %w", err)
	}
	return count > 0, nil
}
