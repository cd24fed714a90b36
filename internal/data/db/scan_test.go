package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/modelguard/modelguard/internal/data/model"
	"github.com/modelguard/modelguard/pkg/types"
)

func setupSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()
	// Using a unique identifier for each database instance to ensure it's unique
	uniqueDBIdentifier := fmt.Sprintf("file:memdb%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(uniqueDBIdentifier), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	err = db.AutoMigrate(&model.Scan{}, &model.Finding{}, &model.Policy{},
		&model.PolicyChangeRequest{}, &model.Exception{}, &model.AuditEntry{})
	if err != nil {
		t.Fatalf("Failed to auto-migrate models: %v", err)
	}
	return db
}

func testScan(id string) *model.Scan {
	return &model.Scan{
		ID:        id,
		TenantID:  "tenant-a",
		ScanType:  types.ScanTypeFull,
		TargetRef: "/srv/artifacts/resnet",
		Status:    model.ScanQueued,
		Findings: []model.Finding{
			{
				ID:       id + "-f1",
				ScanID:   id,
				TenantID: "tenant-a",
				RuleID:   "MG-PICKLE-001",
				Engine:   "pickleast",
				Category: "ModelSecurity.UnsafeDeserialization",
				Severity: types.SeverityCritical,
				FilePath: "weights.pkl",
			},
		},
	}
}

func TestInsertScan(t *testing.T) {
	tests := []struct {
		name    string
		scan    *model.Scan
		wantErr bool
	}{
		{name: "successful insertion", scan: testScan("scan-1"), wantErr: false},
		{name: "nil scan", scan: nil, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager, err := NewGormScanManager(setupSQLiteDB(t))
			if err != nil {
				t.Fatalf("failed to create scan manager: %v", err)
			}
			if err := manager.InsertScan(context.Background(), tt.scan); (err != nil) != tt.wantErr {
				t.Errorf("InsertScan() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetScanWithFindings(t *testing.T) {
	manager, err := NewGormScanManager(setupSQLiteDB(t))
	if err != nil {
		t.Fatalf("failed to create scan manager: %v", err)
	}
	ctx := context.Background()
	if err := manager.InsertScan(ctx, testScan("scan-2")); err != nil {
		t.Fatalf("InsertScan() error = %v", err)
	}

	got, err := manager.GetScan(ctx, "scan-2")
	if err != nil {
		t.Fatalf("GetScan() error = %v", err)
	}
	if len(got.Findings) != 1 {
		t.Errorf("GetScan() findings = %d, want 1", len(got.Findings))
	}
	if got.Findings[0].Severity != types.SeverityCritical {
		t.Errorf("finding severity = %s, want critical", got.Findings[0].Severity)
	}
}

func TestGetScanNotFound(t *testing.T) {
	manager, err := NewGormScanManager(setupSQLiteDB(t))
	if err != nil {
		t.Fatalf("failed to create scan manager: %v", err)
	}
	_, err = manager.GetScan(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetScan() error = %v, want ErrNotFound", err)
	}
}

func TestUpdateScan(t *testing.T) {
	manager, err := NewGormScanManager(setupSQLiteDB(t))
	if err != nil {
		t.Fatalf("failed to create scan manager: %v", err)
	}
	ctx := context.Background()
	scan := testScan("scan-3")
	if err := manager.InsertScan(ctx, scan); err != nil {
		t.Fatalf("InsertScan() error = %v", err)
	}

	scan.Status = model.ScanCompleted
	scan.Summary = model.ScanSummary{
		AnalyzersRun:    3,
		AnalyzersFailed: 1,
		PartialScan:     true,
		Confidence:      "medium",
	}
	if err := manager.UpdateScan(ctx, scan); err != nil {
		t.Fatalf("UpdateScan() error = %v", err)
	}

	got, err := manager.GetScan(ctx, "scan-3")
	if err != nil {
		t.Fatalf("GetScan() error = %v", err)
	}
	if got.Status != model.ScanCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if !got.Summary.PartialScan {
		t.Error("summary.PartialScan = false, want true")
	}
}

func TestFindingExists(t *testing.T) {
	manager, err := NewGormScanManager(setupSQLiteDB(t))
	if err != nil {
		t.Fatalf("failed to create scan manager: %v", err)
	}
	ctx := context.Background()
	if err := manager.InsertScan(ctx, testScan("scan-4")); err != nil {
		t.Fatalf("InsertScan() error = %v", err)
	}

	exists, err := manager.FindingExists(ctx, "scan-4-f1")
	if err != nil {
		t.Fatalf("FindingExists() error = %v", err)
	}
	if !exists {
		t.Error("FindingExists() = false, want true")
	}

	exists, err = manager.FindingExists(ctx, "nope")
	if err != nil {
		t.Fatalf("FindingExists() error = %v", err)
	}
	if exists {
		t.Error("FindingExists() = true, want false")
	}
}

func TestNewGormScanManagerNilDB(t *testing.T) {
	if _, err := NewGormScanManager(nil); err == nil {
		t.Error("NewGormScanManager(nil) error = nil, want error")
	}
}
