package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/modelguard/modelguard/internal/config"
	"github.com/modelguard/modelguard/internal/data/db"
	"github.com/modelguard/modelguard/internal/log"
	"github.com/modelguard/modelguard/internal/sql"
	"github.com/modelguard/modelguard/pkg/workflow"
)

// newSweepCmd creates the workflow expiry sweeper command.
func newSweepCmd() *cobra.Command {
	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the workflow expiry sweeper until interrupted.",
		Long: "Sweep periodically expires overdue pending requests, retires " +
			"exceptions past their window, and invalidates exceptions whose " +
			"finding no longer exists.",
		RunE: runSweeper,
	}
	sweepCmd.Flags().Bool("once", false, "Run a single sweep and exit")
	return sweepCmd
}

// runSweeper runs the sweeper against the configured database.
func runSweeper(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger := log.NewLogger(ctx)
	ctx = log.WithLogger(ctx, logger)

	configPath, _ := cmd.Flags().GetString("config") //nolint:errcheck
	dbPath, _ := cmd.Flags().GetString("db-path")    //nolint:errcheck
	once, _ := cmd.Flags().GetBool("once")           //nolint:errcheck

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	dbConn, err := initializeDatabase(ctx, sql.ConnectionConfig{DBType: "sqlite", DBPath: dbPath})
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	workflows, err := db.NewGormWorkflowManager(dbConn)
	if err != nil {
		return fmt.Errorf("error initializing GormWorkflowManager: %w", err)
	}
	scans, err := db.NewGormScanManager(dbConn)
	if err != nil {
		return fmt.Errorf("error initializing GormScanManager: %w", err)
	}
	sweeper, err := workflow.NewSweeper(workflows, scans, cfg.SweepInterval)
	if err != nil {
		return fmt.Errorf("error building sweeper: %w", err)
	}

	if once {
		return sweeper.SweepOnce(ctx, time.Now())
	}
	logger.Info("workflow sweeper started", zap.Duration("interval", cfg.SweepInterval))
	sweeper.Run(ctx)
	return nil
}
