package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the capture loop until SIGINT or SIGTERM",
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, syncLogs, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer syncLogs()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := NewApplication(cfg, logger)
	defer app.Cleanup()

	if err := app.Initialize(ctx); err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	if err := app.Run(ctx); err != nil {
		logger.Error("capture loop failed", zap.Error(err))
		return err
	}
	return nil
}
