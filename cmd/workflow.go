package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/modelguard/modelguard/internal/config"
	"github.com/modelguard/modelguard/internal/data/db"
	"github.com/modelguard/modelguard/internal/data/model"
	"github.com/modelguard/modelguard/internal/log"
	"github.com/modelguard/modelguard/internal/sql"
	"github.com/modelguard/modelguard/pkg/types"
	"github.com/modelguard/modelguard/pkg/workflow"
)

// newWorkflowCmd groups the approval workflow commands.
func newWorkflowCmd() *cobra.Command {
	workflowCmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage policy change requests and finding exceptions.",
	}
	workflowCmd.AddCommand(newPolicyCmd())
	workflowCmd.AddCommand(newExceptionCmd())
	workflowCmd.AddCommand(newAuditCmd())
	return workflowCmd
}

func newPolicyCmd() *cobra.Command {
	policyCmd := &cobra.Command{
		Use:   "policy",
		Short: "Request, approve, or reject policy changes.",
	}

	requestCmd := &cobra.Command{
		Use:   "request",
		Short: "Create a pending policy change request.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			service, err := workflowService(cmd)
			if err != nil {
				return err
			}
			tenant, _ := cmd.Flags().GetString("tenant")          //nolint:errcheck
			requester, _ := cmd.Flags().GetString("requester")    //nolint:errcheck
			rationale, _ := cmd.Flags().GetString("rationale")    //nolint:errcheck
			threshold, _ := cmd.Flags().GetString("threshold")    //nolint:errcheck
			blocked, _ := cmd.Flags().GetStringSlice("block")     //nolint:errcheck
			policyType, _ := cmd.Flags().GetString("policy-type") //nolint:errcheck

			req := &model.PolicyChangeRequest{
				TenantID:    tenant,
				PolicyType:  policyType,
				RequesterID: requester,
				Rationale:   rationale,
				Content: model.PolicyContent{
					SeverityThreshold: types.ParseSeverity(threshold),
					BlockIssues:       blocked,
				},
			}
			if err := service.RequestPolicyChange(cmd.Context(), req); err != nil {
				return fmt.Errorf("error creating policy change request: %w", err)
			}
			return printEntity(req)
		},
	}
	requestCmd.Flags().String("requester", "", "Requesting user")
	requestCmd.Flags().String("rationale", "", "Why the policy should change")
	requestCmd.Flags().String("threshold", "high", "Severity threshold. options: critical|high|medium|low|info")
	requestCmd.Flags().StringSlice("block", nil, "Blocked category patterns, exact or 'Prefix.*'")

	approveCmd := &cobra.Command{
		Use:   "approve",
		Short: "Approve a pending request and activate the new policy version.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			service, err := workflowService(cmd)
			if err != nil {
				return err
			}
			id, _ := cmd.Flags().GetString("id")           //nolint:errcheck
			approver, _ := cmd.Flags().GetString("approver") //nolint:errcheck
			comment, _ := cmd.Flags().GetString("comment")   //nolint:errcheck
			_, pol, err := service.ApprovePolicyChange(cmd.Context(), id, approver, comment)
			if err != nil {
				return fmt.Errorf("error approving policy change request: %w", err)
			}
			return printEntity(pol)
		},
	}
	rejectCmd := &cobra.Command{
		Use:   "reject",
		Short: "Reject a pending request.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			service, err := workflowService(cmd)
			if err != nil {
				return err
			}
			id, _ := cmd.Flags().GetString("id")           //nolint:errcheck
			approver, _ := cmd.Flags().GetString("approver") //nolint:errcheck
			comment, _ := cmd.Flags().GetString("comment")   //nolint:errcheck
			req, err := service.RejectPolicyChange(cmd.Context(), id, approver, comment)
			if err != nil {
				return fmt.Errorf("error rejecting policy change request: %w", err)
			}
			return printEntity(req)
		},
	}
	for _, sub := range []*cobra.Command{approveCmd, rejectCmd} {
		sub.Flags().String("id", "", "Request id")
		sub.Flags().String("approver", "", "Approving user")
		sub.Flags().String("comment", "", "Optional transition comment")
	}

	policyCmd.AddCommand(requestCmd, approveCmd, rejectCmd)
	return policyCmd
}

func newExceptionCmd() *cobra.Command {
	exceptionCmd := &cobra.Command{
		Use:   "exception",
		Short: "Request, approve, or reject finding exceptions.",
	}

	requestCmd := &cobra.Command{
		Use:   "request",
		Short: "Create a pending exception for a finding or a rule match spec.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			service, err := workflowService(cmd)
			if err != nil {
				return err
			}
			tenant, _ := cmd.Flags().GetString("tenant")       //nolint:errcheck
			requester, _ := cmd.Flags().GetString("requester") //nolint:errcheck
			rationale, _ := cmd.Flags().GetString("rationale") //nolint:errcheck
			findingID, _ := cmd.Flags().GetString("finding-id") //nolint:errcheck
			ruleID, _ := cmd.Flags().GetString("rule-id")      //nolint:errcheck
			fileGlob, _ := cmd.Flags().GetString("file-glob")  //nolint:errcheck
			category, _ := cmd.Flags().GetString("category")   //nolint:errcheck

			exception := &model.Exception{
				TenantID:    tenant,
				RequesterID: requester,
				Rationale:   rationale,
				FindingID:   findingID,
				RuleID:      ruleID,
				FileGlob:    fileGlob,
				Category:    category,
			}
			if err := service.RequestException(cmd.Context(), exception); err != nil {
				return fmt.Errorf("error creating exception: %w", err)
			}
			return printEntity(exception)
		},
	}
	requestCmd.Flags().String("requester", "", "Requesting user")
	requestCmd.Flags().String("rationale", "", "Why the finding should be suppressed")
	requestCmd.Flags().String("finding-id", "", "Pin the exception to one finding")
	requestCmd.Flags().String("rule-id", "", "Bulk match: rule id")
	requestCmd.Flags().String("file-glob", "", "Bulk match: file glob")
	requestCmd.Flags().String("category", "", "Bulk match: category")

	approveCmd := &cobra.Command{
		Use:   "approve",
		Short: "Approve a pending exception.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			service, err := workflowService(cmd)
			if err != nil {
				return err
			}
			id, _ := cmd.Flags().GetString("id")           //nolint:errcheck
			approver, _ := cmd.Flags().GetString("approver") //nolint:errcheck
			comment, _ := cmd.Flags().GetString("comment")   //nolint:errcheck
			exception, err := service.ApproveException(cmd.Context(), id, approver, comment)
			if err != nil {
				return fmt.Errorf("error approving exception: %w", err)
			}
			return printEntity(exception)
		},
	}
	rejectCmd := &cobra.Command{
		Use:   "reject",
		Short: "Reject a pending exception.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			service, err := workflowService(cmd)
			if err != nil {
				return err
			}
			id, _ := cmd.Flags().GetString("id")           //nolint:errcheck
			approver, _ := cmd.Flags().GetString("approver") //nolint:errcheck
			comment, _ := cmd.Flags().GetString("comment")   //nolint:errcheck
			exception, err := service.RejectException(cmd.Context(), id, approver, comment)
			if err != nil {
				return fmt.Errorf("error rejecting exception: %w", err)
			}
			return printEntity(exception)
		},
	}
	for _, sub := range []*cobra.Command{approveCmd, rejectCmd} {
		sub.Flags().String("id", "", "Exception id")
		sub.Flags().String("approver", "", "Approving user")
		sub.Flags().String("comment", "", "Optional transition comment")
	}

	exceptionCmd.AddCommand(requestCmd, approveCmd, rejectCmd)
	return exceptionCmd
}

func newAuditCmd() *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the immutable transition history of a workflow entity.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			service, err := workflowService(cmd)
			if err != nil {
				return err
			}
			id, _ := cmd.Flags().GetString("id") //nolint:errcheck
			trail, err := service.AuditTrail(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("error listing audit entries: %w", err)
			}
			return printEntity(trail)
		},
	}
	auditCmd.Flags().String("id", "", "Entity id")
	return auditCmd
}

// workflowService opens the configured database and builds the workflow
// service over it.
func workflowService(cmd *cobra.Command) (*workflow.Service, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = log.WithLogger(ctx, log.NewLogger(ctx))

	configPath, _ := cmd.Flags().GetString("config") //nolint:errcheck
	dbPath, _ := cmd.Flags().GetString("db-path")    //nolint:errcheck

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}
	dbConn, err := initializeDatabase(ctx, sql.ConnectionConfig{DBType: "sqlite", DBPath: dbPath})
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}
	workflows, err := db.NewGormWorkflowManager(dbConn)
	if err != nil {
		return nil, fmt.Errorf("error initializing GormWorkflowManager: %w", err)
	}
	return workflow.NewService(workflows, cfg)
}

func printEntity(entity interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(entity); err != nil {
		return fmt.Errorf("error encoding output: %w", err)
	}
	return nil
}
