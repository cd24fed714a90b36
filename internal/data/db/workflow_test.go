package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/modelguard/modelguard/internal/data/model"
	"github.com/modelguard/modelguard/pkg/types"
)

func testChangeRequest(id string) *model.PolicyChangeRequest {
	return &model.PolicyChangeRequest{
		ID:          id,
		TenantID:    "tenant-a",
		PolicyType:  "gating",
		Content:     model.PolicyContent{SeverityThreshold: types.SeverityHigh, BlockIssues: []string{"Secrets.*"}},
		RequesterID: "alice",
		Status:      model.RequestPending,
		Rationale:   "tighten the gate",
	}
}

func TestApprovePolicyChangeRequestActivatesPolicy(t *testing.T) {
	database := setupSQLiteDB(t)
	manager, err := NewGormWorkflowManager(database)
	if err != nil {
		t.Fatalf("failed to create workflow manager: %v", err)
	}
	policies, err := NewGormPolicyManager(database)
	if err != nil {
		t.Fatalf("failed to create policy manager: %v", err)
	}
	ctx := context.Background()

	req := testChangeRequest("pcr-1")
	if err := manager.CreatePolicyChangeRequest(ctx, req); err != nil {
		t.Fatalf("CreatePolicyChangeRequest() error = %v", err)
	}

	approved, policy, err := manager.ApprovePolicyChangeRequest(ctx, "pcr-1", "bob", "lgtm")
	if err != nil {
		t.Fatalf("ApprovePolicyChangeRequest() error = %v", err)
	}
	if approved.Status != model.RequestApproved {
		t.Errorf("request status = %s, want approved", approved.Status)
	}
	if policy.Version != 1 || policy.Status != model.PolicyActive {
		t.Errorf("policy = v%d/%s, want v1/active", policy.Version, policy.Status)
	}

	active, err := policies.GetActivePolicy(ctx, "tenant-a", "gating")
	if err != nil {
		t.Fatalf("GetActivePolicy() error = %v", err)
	}
	if active.Content.SeverityThreshold != types.SeverityHigh {
		t.Errorf("active threshold = %s, want high", active.Content.SeverityThreshold)
	}
}

func TestSequentialApprovalsLeaveOneActive(t *testing.T) {
	database := setupSQLiteDB(t)
	manager, err := NewGormWorkflowManager(database)
	if err != nil {
		t.Fatalf("failed to create workflow manager: %v", err)
	}
	policies, err := NewGormPolicyManager(database)
	if err != nil {
		t.Fatalf("failed to create policy manager: %v", err)
	}
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		req := testChangeRequest(fmt.Sprintf("pcr-%d", i))
		if err := manager.CreatePolicyChangeRequest(ctx, req); err != nil {
			t.Fatalf("CreatePolicyChangeRequest() error = %v", err)
		}
		if _, _, err := manager.ApprovePolicyChangeRequest(ctx, req.ID, "bob", ""); err != nil {
			t.Fatalf("ApprovePolicyChangeRequest() error = %v", err)
		}
	}

	versions, err := policies.ListPolicyVersions(ctx, "tenant-a", "gating")
	if err != nil {
		t.Fatalf("ListPolicyVersions() error = %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("versions = %d, want 3 (history retained)", len(versions))
	}
	activeCount := 0
	for _, p := range versions {
		if p.Status == model.PolicyActive {
			activeCount++
			if p.Version != 3 {
				t.Errorf("active version = %d, want 3", p.Version)
			}
		}
	}
	if activeCount != 1 {
		t.Errorf("active policies = %d, want exactly 1", activeCount)
	}
}

func TestApproveTerminalRequestConflicts(t *testing.T) {
	manager, err := NewGormWorkflowManager(setupSQLiteDB(t))
	if err != nil {
		t.Fatalf("failed to create workflow manager: %v", err)
	}
	ctx := context.Background()

	req := testChangeRequest("pcr-term")
	if err := manager.CreatePolicyChangeRequest(ctx, req); err != nil {
		t.Fatalf("CreatePolicyChangeRequest() error = %v", err)
	}
	if _, err := manager.RejectPolicyChangeRequest(ctx, "pcr-term", "bob", "no"); err != nil {
		t.Fatalf("RejectPolicyChangeRequest() error = %v", err)
	}

	_, _, err = manager.ApprovePolicyChangeRequest(ctx, "pcr-term", "bob", "")
	if !errors.Is(err, ErrConflict) {
		t.Errorf("ApprovePolicyChangeRequest() error = %v, want ErrConflict", err)
	}
}

func TestApproveMissingRequest(t *testing.T) {
	manager, err := NewGormWorkflowManager(setupSQLiteDB(t))
	if err != nil {
		t.Fatalf("failed to create workflow manager: %v", err)
	}
	_, _, err = manager.ApprovePolicyChangeRequest(context.Background(), "missing", "bob", "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ApprovePolicyChangeRequest() error = %v, want ErrNotFound", err)
	}
}

func TestExceptionLifecycle(t *testing.T) {
	manager, err := NewGormWorkflowManager(setupSQLiteDB(t))
	if err != nil {
		t.Fatalf("failed to create workflow manager: %v", err)
	}
	ctx := context.Background()

	exception := &model.Exception{
		ID:          "exc-1",
		TenantID:    "tenant-a",
		FindingID:   "f-1",
		Status:      model.RequestPending,
		RequesterID: "alice",
		Rationale:   "false positive in test fixture",
	}
	if err := manager.CreateException(ctx, exception); err != nil {
		t.Fatalf("CreateException() error = %v", err)
	}

	approved, err := manager.ApproveException(ctx, "exc-1", "bob", "confirmed fixture")
	if err != nil {
		t.Fatalf("ApproveException() error = %v", err)
	}
	if approved.Status != model.RequestApproved || approved.ApprovedAt == nil {
		t.Errorf("exception = %s/approvedAt=%v, want approved with timestamp", approved.Status, approved.ApprovedAt)
	}

	effective, err := manager.ListEffectiveExceptions(ctx, "tenant-a", time.Now())
	if err != nil {
		t.Fatalf("ListEffectiveExceptions() error = %v", err)
	}
	if len(effective) != 1 {
		t.Errorf("effective exceptions = %d, want 1", len(effective))
	}

	// A second approval is a conflict, not a silent no-op.
	if _, err := manager.ApproveException(ctx, "exc-1", "carol", ""); !errors.Is(err, ErrConflict) {
		t.Errorf("second ApproveException() error = %v, want ErrConflict", err)
	}
}

func TestScheduledActivationDefersEffect(t *testing.T) {
	manager, err := NewGormWorkflowManager(setupSQLiteDB(t))
	if err != nil {
		t.Fatalf("failed to create workflow manager: %v", err)
	}
	ctx := context.Background()

	activation := time.Now().Add(time.Hour)
	exception := &model.Exception{
		ID:                  "exc-sched",
		TenantID:            "tenant-a",
		FindingID:           "f-9",
		Status:              model.RequestPending,
		RequesterID:         "alice",
		Rationale:           "maintenance window",
		ScheduledActivation: &activation,
	}
	if err := manager.CreateException(ctx, exception); err != nil {
		t.Fatalf("CreateException() error = %v", err)
	}
	if _, err := manager.ApproveException(ctx, "exc-sched", "bob", ""); err != nil {
		t.Fatalf("ApproveException() error = %v", err)
	}

	effective, err := manager.ListEffectiveExceptions(ctx, "tenant-a", time.Now())
	if err != nil {
		t.Fatalf("ListEffectiveExceptions() error = %v", err)
	}
	if len(effective) != 0 {
		t.Errorf("effective before activation = %d, want 0", len(effective))
	}

	effective, err = manager.ListEffectiveExceptions(ctx, "tenant-a", activation.Add(time.Minute))
	if err != nil {
		t.Fatalf("ListEffectiveExceptions() error = %v", err)
	}
	if len(effective) != 1 {
		t.Errorf("effective after activation = %d, want 1", len(effective))
	}
}

func TestExpireOverduePolicyRequests(t *testing.T) {
	manager, err := NewGormWorkflowManager(setupSQLiteDB(t))
	if err != nil {
		t.Fatalf("failed to create workflow manager: %v", err)
	}
	ctx := context.Background()

	deadline := time.Now().Add(-time.Hour)
	req := testChangeRequest("pcr-overdue")
	req.ExpiresAt = &deadline
	if err := manager.CreatePolicyChangeRequest(ctx, req); err != nil {
		t.Fatalf("CreatePolicyChangeRequest() error = %v", err)
	}

	expired, err := manager.ExpireOverduePolicyRequests(ctx, time.Now())
	if err != nil {
		t.Fatalf("ExpireOverduePolicyRequests() error = %v", err)
	}
	if expired != 1 {
		t.Errorf("expired = %d, want 1", expired)
	}

	got, err := manager.GetPolicyChangeRequest(ctx, "pcr-overdue")
	if err != nil {
		t.Fatalf("GetPolicyChangeRequest() error = %v", err)
	}
	if got.Status != model.RequestExpired {
		t.Errorf("status = %s, want expired", got.Status)
	}

	// Second sweep finds nothing.
	expired, err = manager.ExpireOverduePolicyRequests(ctx, time.Now())
	if err != nil {
		t.Fatalf("ExpireOverduePolicyRequests() error = %v", err)
	}
	if expired != 0 {
		t.Errorf("second sweep expired = %d, want 0", expired)
	}
}

func TestExpireApprovedException(t *testing.T) {
	manager, err := NewGormWorkflowManager(setupSQLiteDB(t))
	if err != nil {
		t.Fatalf("failed to create workflow manager: %v", err)
	}
	ctx := context.Background()

	expiry := time.Now().Add(-time.Minute)
	exception := &model.Exception{
		ID:          "exc-exp",
		TenantID:    "tenant-a",
		FindingID:   "f-2",
		Status:      model.RequestPending,
		RequesterID: "alice",
		Rationale:   "short-lived waiver",
		ExpiresAt:   &expiry,
	}
	if err := manager.CreateException(ctx, exception); err != nil {
		t.Fatalf("CreateException() error = %v", err)
	}
	// Pending past its expiry also sweeps to expired.
	expired, err := manager.ExpireExceptions(ctx, time.Now())
	if err != nil {
		t.Fatalf("ExpireExceptions() error = %v", err)
	}
	if expired != 1 {
		t.Errorf("expired = %d, want 1", expired)
	}

	got, err := manager.GetException(ctx, "exc-exp")
	if err != nil {
		t.Fatalf("GetException() error = %v", err)
	}
	if got.Status != model.RequestExpired {
		t.Errorf("status = %s, want expired", got.Status)
	}
}

func TestInvalidateException(t *testing.T) {
	manager, err := NewGormWorkflowManager(setupSQLiteDB(t))
	if err != nil {
		t.Fatalf("failed to create workflow manager: %v", err)
	}
	ctx := context.Background()

	exception := &model.Exception{
		ID:          "exc-orphan",
		TenantID:    "tenant-a",
		FindingID:   "gone",
		Status:      model.RequestApproved,
		RequesterID: "alice",
		Rationale:   "waiver",
	}
	if err := manager.CreateException(ctx, exception); err != nil {
		t.Fatalf("CreateException() error = %v", err)
	}

	if err := manager.InvalidateException(ctx, "exc-orphan", "referenced finding removed"); err != nil {
		t.Fatalf("InvalidateException() error = %v", err)
	}
	got, err := manager.GetException(ctx, "exc-orphan")
	if err != nil {
		t.Fatalf("GetException() error = %v", err)
	}
	if got.Status != model.RequestInvalid {
		t.Errorf("status = %s, want invalid", got.Status)
	}

	// Idempotent.
	if err := manager.InvalidateException(ctx, "exc-orphan", "again"); err != nil {
		t.Errorf("second InvalidateException() error = %v", err)
	}
}

func TestAuditTrailCompleteness(t *testing.T) {
	manager, err := NewGormWorkflowManager(setupSQLiteDB(t))
	if err != nil {
		t.Fatalf("failed to create workflow manager: %v", err)
	}
	ctx := context.Background()

	req := testChangeRequest("pcr-audit")
	if err := manager.CreatePolicyChangeRequest(ctx, req); err != nil {
		t.Fatalf("CreatePolicyChangeRequest() error = %v", err)
	}
	if _, _, err := manager.ApprovePolicyChangeRequest(ctx, "pcr-audit", "bob", "lgtm"); err != nil {
		t.Fatalf("ApprovePolicyChangeRequest() error = %v", err)
	}

	entries, err := manager.ListAuditEntries(ctx, "pcr-audit")
	if err != nil {
		t.Fatalf("ListAuditEntries() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want exactly 1", len(entries))
	}
	entry := entries[0]
	if entry.FromStatus != string(model.RequestPending) || entry.ToStatus != string(model.RequestApproved) {
		t.Errorf("audit transition = %s->%s, want pending->approved", entry.FromStatus, entry.ToStatus)
	}
	if entry.Actor != "bob" {
		t.Errorf("audit actor = %s, want bob", entry.Actor)
	}
}
