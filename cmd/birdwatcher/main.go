package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mikeyg42/birdwatcher/internal/config"
	"github.com/mikeyg42/birdwatcher/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "birdwatcher",
	Short: "Motion triggered bird and person camera",
	Long: `birdwatcher waits for the PIR sensor, checks the scene with a YOLO model
and records a clip when a bird or a person is in view. Clips are remuxed
to MP4 in the background for the file manager web app.`,
	SilenceUsage: true,
}

// Flags that override the device config
var (
	configPath   string
	settingsPath string
	videoDir     string
	modelPath    string
	logLevel     string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Device config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", "", "Shared settings file (JSON)")
	rootCmd.PersistentFlags().StringVar(&videoDir, "video-dir", "", "Directory for recordings")
	rootCmd.PersistentFlags().StringVar(&modelPath, "model", "", "ONNX model path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the device config, applies flag overrides and
// validates the result.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Config) {
	if settingsPath != "" {
		cfg.Video.SettingsPath = settingsPath
	}
	if videoDir != "" {
		cfg.Video.Dir = videoDir
	}
	if modelPath != "" {
		cfg.Classifier.ModelPath = modelPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
}

// newLogger builds the logger from the config and installs it as the
// zap global.
func newLogger(cfg *config.Config) (*zap.Logger, func(), error) {
	logger, closeFn, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Dir:    cfg.Log.Dir,
		Name:   "birdwatcher",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	restore := zap.ReplaceGlobals(logger)
	return logger, func() {
		_ = logger.Sync()
		_ = closeFn()
		restore()
	}, nil
}
