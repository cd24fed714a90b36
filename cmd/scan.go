package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/modelguard/modelguard/internal/config"
	"github.com/modelguard/modelguard/internal/data/db"
	"github.com/modelguard/modelguard/internal/data/model"
	"github.com/modelguard/modelguard/internal/executor"
	"github.com/modelguard/modelguard/internal/log"
	"github.com/modelguard/modelguard/internal/metrics"
	"github.com/modelguard/modelguard/internal/sql"
	"github.com/modelguard/modelguard/pkg/analyzer"
	"github.com/modelguard/modelguard/pkg/rules"
	"github.com/modelguard/modelguard/pkg/scan"
	"github.com/modelguard/modelguard/pkg/types"
	"github.com/modelguard/modelguard/pkg/version"
)

// errFlagRetrieval is the error message for when a flag cannot be retrieved.
var errFlagRetrieval = errors.New("error getting flag")

// errRequiredFlagEmpty is the error message for a required flag that is empty.
var errRequiredFlagEmpty = errors.New("is required and cannot be empty")

// Execute is the main entry point for the scanner CLI.
func Execute(args []string) {
	rootCmd := newRootCmd()
	rootCmd.Version = fmt.Sprintf(`{"version": "%s", "commit": "%s"}`, version.Version, version.CommitSHA)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd creates the root command for the scanner.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "modelguard",
		Short: "Scan AI artifacts and gate the result against a tenant policy.",
		Long: "Modelguard runs static analyzers over ML models and MCP server " +
			"configurations, normalizes their findings, and evaluates the set " +
			"against the tenant's active policy.",
		RunE: runScanner,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			requiredFlags := []string{"target", "tenant"}
			for _, flag := range requiredFlags {
				value, err := cmd.Flags().GetString(flag)
				if err != nil {
					return fmt.Errorf("%w: %s: %w", errFlagRetrieval, flag, err)
				}
				if value == "" {
					return fmt.Errorf("%s %w", flag, errRequiredFlagEmpty)
				}
			}
			outputFormat, err := cmd.Flags().GetString("output-format")
			if err != nil {
				return fmt.Errorf("%w: output-format: %w", errFlagRetrieval, err)
			}
			if outputFormat != "csv" && outputFormat != "json" {
				return fmt.Errorf("unsupported output format %q, options: csv|json", outputFormat)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringP("target", "p", "", "Path to the artifact tree to scan")
	rootCmd.PersistentFlags().StringP("tenant", "e", "", "Tenant the scan belongs to")
	rootCmd.PersistentFlags().StringP("scan-type", "s", "full", "Scan type. options: model|mcp|full")
	rootCmd.PersistentFlags().StringP("policy-type", "y", "", "Policy type to gate against")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the engine configuration file")
	rootCmd.PersistentFlags().StringP("rule-bundle", "b", "", "Path to a rule/taxonomy bundle file")
	rootCmd.PersistentFlags().StringP("db-path", "d", "modelguard.db", "Path to the local SQLite database")
	rootCmd.PersistentFlags().StringP("output-file", "f", "", "Output file for results")
	rootCmd.PersistentFlags().StringP("output-format", "t", "json", "Output format for results. options: csv|json")

	rootCmd.AddCommand(newSweepCmd())
	rootCmd.AddCommand(newWorkflowCmd())

	return rootCmd
}

// runScanner runs one scan end to end and writes the report.
func runScanner(cmd *cobra.Command, _ []string) error {
	ctx := metrics.WithMetrics(context.Background(), "modelguard")
	logger := log.NewLogger(ctx)
	ctx = log.WithLogger(ctx, logger)
	if err := scan.RegisterMetrics(ctx); err != nil {
		return fmt.Errorf("error registering metrics: %w", err)
	}

	target, _ := cmd.Flags().GetString("target")             //nolint:errcheck
	tenant, _ := cmd.Flags().GetString("tenant")             //nolint:errcheck
	scanType, _ := cmd.Flags().GetString("scan-type")        //nolint:errcheck
	policyType, _ := cmd.Flags().GetString("policy-type")    //nolint:errcheck
	configPath, _ := cmd.Flags().GetString("config")         //nolint:errcheck
	bundlePath, _ := cmd.Flags().GetString("rule-bundle")    //nolint:errcheck
	dbPath, _ := cmd.Flags().GetString("db-path")            //nolint:errcheck
	outputFile, _ := cmd.Flags().GetString("output-file")    //nolint:errcheck
	outputFormat, _ := cmd.Flags().GetString("output-format") //nolint:errcheck

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}

	dbConn, err := initializeDatabase(ctx, sql.ConnectionConfig{DBType: "sqlite", DBPath: dbPath})
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}

	service, err := buildScanService(dbConn, cfg, bundlePath)
	if err != nil {
		return err
	}

	result, err := service.Run(ctx, tenant, types.ScanType(scanType), target, policyType)
	if err != nil {
		return fmt.Errorf("error running scan: %w", err)
	}
	if result.Status == model.ScanFailed {
		return fmt.Errorf("scan %s failed: %s", result.ID, result.FailureReason)
	}

	output := io.Writer(os.Stdout)
	if outputFile != "" {
		file, err := os.OpenFile(outputFile, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o600)
		if err != nil {
			return fmt.Errorf("error creating output file: %w", err)
		}
		defer file.Close()
		output = file
	}

	report := scan.BuildReport(result)
	if outputFormat == "csv" {
		return report.WriteToCSV(output)
	}
	return report.WriteToJSON(output)
}

// buildScanService assembles the scan pipeline over an open DB connection.
func buildScanService(dbConn *gorm.DB, cfg *config.Engine, bundlePath string) (*scan.Service, error) {
	bundle := rules.Default()
	if bundlePath == "" {
		bundlePath = cfg.RuleBundlePath
	}
	if bundlePath != "" {
		loaded, err := rules.Load(bundlePath)
		if err != nil {
			return nil, fmt.Errorf("error loading rule bundle: %w", err)
		}
		bundle = loaded
	}

	analyzers, err := analyzer.DefaultRegistry(bundle, executor.NewCommandExecutor())
	if err != nil {
		return nil, fmt.Errorf("error building analyzer registry: %w", err)
	}
	orchestrator, err := scan.NewOrchestrator(analyzers, cfg)
	if err != nil {
		return nil, fmt.Errorf("error building orchestrator: %w", err)
	}
	normalizer, err := scan.NewNormalizer(bundle, cfg.StripPathPrefixes)
	if err != nil {
		return nil, fmt.Errorf("error building normalizer: %w", err)
	}
	mapper, err := scan.NewThreatMapper(bundle)
	if err != nil {
		return nil, fmt.Errorf("error building threat mapper: %w", err)
	}

	scans, err := db.NewGormScanManager(dbConn)
	if err != nil {
		return nil, fmt.Errorf("error initializing GormScanManager: %w", err)
	}
	policies, err := db.NewGormPolicyManager(dbConn)
	if err != nil {
		return nil, fmt.Errorf("error initializing GormPolicyManager: %w", err)
	}
	workflows, err := db.NewGormWorkflowManager(dbConn)
	if err != nil {
		return nil, fmt.Errorf("error initializing GormWorkflowManager: %w", err)
	}
	return scan.NewService(scans, policies, workflows, orchestrator, normalizer, mapper, cfg)
}

// initializeDatabase opens the configured database and migrates the schema.
func initializeDatabase(ctx context.Context, connCfg sql.ConnectionConfig) (*gorm.DB, error) {
	connector := sql.CreateDBConnector(connCfg)
	dbConn, err := connector.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	err = dbConn.AutoMigrate(&model.Scan{}, &model.Finding{}, &model.Policy{},
		&model.PolicyChangeRequest{}, &model.Exception{}, &model.AuditEntry{})
	if err != nil {
		return nil, fmt.Errorf("failed to auto-migrate models: %w", err)
	}
	return dbConn, nil
}
