package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/modelguard/modelguard/internal/config"
	"github.com/modelguard/modelguard/internal/data/db"
	"github.com/modelguard/modelguard/internal/data/model"
	"github.com/modelguard/modelguard/internal/executor"
	"github.com/modelguard/modelguard/internal/log"
	"github.com/modelguard/modelguard/internal/metrics"
	"github.com/modelguard/modelguard/pkg/analyzer"
	"github.com/modelguard/modelguard/pkg/rules"
	"github.com/modelguard/modelguard/pkg/scan"
	"github.com/modelguard/modelguard/pkg/types"
)

// ScanRunner is the interface for the scan pipeline.
type ScanRunner interface {
	Run(ctx context.Context, tenantID string, scanType types.ScanType,
		targetPath, policyType string) (*model.Scan, error)
}

// errFlagRetrieval is the error message for when a flag cannot be retrieved.
var errFlagRetrieval = errors.New("error getting flag")

// errRequiredFlagEmpty is the error message for a required flag that is empty.
var errRequiredFlagEmpty = errors.New("is required and cannot be empty")

// newStoreCmd creates a new store command.
func newStoreCmd() *cobra.Command {
	var storeCmd = &cobra.Command{
		Use:   "store",
		Short: "Scan artifact trees and store the results in the shared database",
		Long: "Scan one or more artifact trees for unsafe model and MCP server " +
			"content and store the gated results in the shared database",
		RunE: runStoreScanner,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			targets, err := cmd.Flags().GetStringSlice("target")
			if err != nil {
				return fmt.Errorf("%w: target: %w", errFlagRetrieval, err)
			}
			if len(targets) == 0 {
				return fmt.Errorf("target %w", errRequiredFlagEmpty)
			}

			requiredFlags := []string{"tenant", "db-host", "db-user", "db-password", "db-name", "db-port"}
			for _, flag := range requiredFlags {
				value, err := cmd.Flags().GetString(flag)
				if err != nil {
					return fmt.Errorf("%w: %s: %w", errFlagRetrieval, flag, err)
				}
				if value == "" {
					return fmt.Errorf("%s %w", flag, errRequiredFlagEmpty)
				}
			}
			return nil
		},
	}

	storeCmd.PersistentFlags().StringSliceP("target", "p", nil,
		"Path to an artifact tree to scan, repeatable")
	storeCmd.PersistentFlags().StringP("tenant", "e", "", "Tenant the scans belong to")
	storeCmd.PersistentFlags().StringP("scan-type", "s", "full", "Scan type. options: model|mcp|full")
	storeCmd.PersistentFlags().StringP("policy-type", "y", "", "Policy type to gate against")
	storeCmd.PersistentFlags().StringP("config", "c", "", "Path to the engine configuration file")
	storeCmd.PersistentFlags().StringP("rule-bundle", "b", "", "Path to a rule/taxonomy bundle file")
	storeCmd.PersistentFlags().StringP("db-type", "", "postgres", "Database type. options: sqlite|postgres|cloudsql")
	storeCmd.PersistentFlags().StringP("db-path", "", "modelguard.db", "Database path (sqlite only)")
	storeCmd.PersistentFlags().StringP("db-host", "", "localhost", "Database host")
	storeCmd.PersistentFlags().StringP("db-user", "", "test_user", "Database user")
	storeCmd.PersistentFlags().StringP("db-password", "", "test_password", "Database password")
	storeCmd.PersistentFlags().StringP("db-name", "", "test_db", "Database name")
	storeCmd.PersistentFlags().StringP("db-port", "", "5432", "Database port")
	storeCmd.PersistentFlags().StringP("db-ssl-mode", "", "disable", "Database SSL mode")
	storeCmd.PersistentFlags().StringP("db-instance-connection-name", "", "",
		"Cloud SQL instance connection name (cloudsql only)")

	return storeCmd
}

// runStoreScanner runs the store scanner.
func runStoreScanner(cmd *cobra.Command, _ []string) error {
	ctx := metrics.WithMetrics(context.Background(), "modelguard")
	logger := log.NewLogger(ctx)
	ctx = log.WithLogger(ctx, logger)
	if err := scan.RegisterMetrics(ctx); err != nil {
		return fmt.Errorf("error registering metrics: %w", err)
	}

	storeConfig, err := getConfigFromFlags(cmd)
	if err != nil {
		return fmt.Errorf("error getting config from flags: %w", err)
	}
	engineConfig, err := config.Load(storeConfig.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	dbConn, err := DefaultDatabaseInitializer.Initialize(storeConfig.Database, logger)
	if err != nil {
		return fmt.Errorf("error setting up database connection: %w", err)
	}
	runner, err := buildScanRunner(dbConn, engineConfig, storeConfig.RuleBundlePath)
	if err != nil {
		return err
	}
	return runStoreScannerWithDeps(ctx, runner, storeConfig)
}

// runStoreScannerWithDeps runs the store scanner with the provided dependencies.
func runStoreScannerWithDeps(ctx context.Context, runner ScanRunner, config *Config) error {
	if runner == nil {
		return fmt.Errorf("runner cannot be nil")
	}
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	var combinedErrors error
	for _, target := range config.Targets {
		result, err := runner.Run(ctx, config.Tenant, types.ScanType(config.ScanType),
			target, config.PolicyType)
		if err != nil {
			combinedErrors = errors.Join(combinedErrors, fmt.Errorf("error scanning %s: %w", target, err))
			continue
		}
		if result.Status == model.ScanFailed {
			combinedErrors = errors.Join(combinedErrors,
				fmt.Errorf("scan %s of %s failed: %s", result.ID, target, result.FailureReason))
		}
	}
	return combinedErrors
}

// Config is the configuration for the store command.
type Config struct {
	Tenant         string
	ScanType       string
	PolicyType     string
	ConfigPath     string
	RuleBundlePath string
	Targets        []string
	Database       *DatabaseConfig
}

// getConfigFromFlags gets the configuration from the command line flags.
func getConfigFromFlags(cmd *cobra.Command) (*Config, error) {
	targets, _ := cmd.Flags().GetStringSlice("target")           //nolint:errcheck
	tenant, _ := cmd.Flags().GetString("tenant")                 //nolint:errcheck
	scanType, _ := cmd.Flags().GetString("scan-type")            //nolint:errcheck
	policyType, _ := cmd.Flags().GetString("policy-type")        //nolint:errcheck
	configPath, _ := cmd.Flags().GetString("config")             //nolint:errcheck
	ruleBundlePath, _ := cmd.Flags().GetString("rule-bundle")    //nolint:errcheck
	dbType, _ := cmd.Flags().GetString("db-type")                //nolint:errcheck
	dbPath, _ := cmd.Flags().GetString("db-path")                //nolint:errcheck
	dbHost, _ := cmd.Flags().GetString("db-host")                //nolint:errcheck
	dbUser, _ := cmd.Flags().GetString("db-user")                //nolint:errcheck
	dbPassword, _ := cmd.Flags().GetString("db-password")        //nolint:errcheck
	dbName, _ := cmd.Flags().GetString("db-name")                //nolint:errcheck
	dbPort, _ := cmd.Flags().GetString("db-port")                //nolint:errcheck
	dbSSLMode, _ := cmd.Flags().GetString("db-ssl-mode")         //nolint:errcheck
	dbInstanceConnectionName, _ := cmd.Flags().GetString("db-instance-connection-name") //nolint:errcheck

	return &Config{
		Tenant:         tenant,
		ScanType:       scanType,
		PolicyType:     policyType,
		ConfigPath:     configPath,
		RuleBundlePath: ruleBundlePath,
		Targets:        targets,
		Database: &DatabaseConfig{
			DBType:                   dbType,
			DBPath:                   dbPath,
			DBHost:                   dbHost,
			DBPort:                   dbPort,
			DBUser:                   dbUser,
			DBPassword:               dbPassword,
			DBName:                   dbName,
			DBSSLMode:                dbSSLMode,
			DBInstanceConnectionName: dbInstanceConnectionName,
		},
	}, nil
}

// buildScanRunner assembles the scan pipeline over an open DB connection.
func buildScanRunner(dbConn *gorm.DB, cfg *config.Engine, bundlePath string) (ScanRunner, error) {
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

// main is the main function for the store command.
func main() {
	Execute(os.Args[1:])
}

// Execute executes the store command.
func Execute(args []string) {
	rootCmd := newStoreCmd()
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error executing command:", err)
		os.Exit(1)
	}
}
