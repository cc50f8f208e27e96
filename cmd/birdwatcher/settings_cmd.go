package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mikeyg42/birdwatcher/internal/settings"
	"github.com/mikeyg42/birdwatcher/internal/video"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change the shared settings file",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change settings; the running capture loop picks them up after the next clip",
	RunE:  runSettingsSet,
}

var (
	setClip int
	setRes  string
	setDays int
)

func init() {
	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd)

	settingsSetCmd.Flags().IntVar(&setClip, "clip", 0, "Clip length in seconds (1-120)")
	settingsSetCmd.Flags().StringVar(&setRes, "res", "", "Recording resolution, e.g. 1920x1080")
	settingsSetCmd.Flags().IntVar(&setDays, "days", 0, "Days to keep clips (1-99)")
}

func openSettings() (*settings.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return settings.NewStore(cfg.Video.SettingsPath, zap.NewNop()), nil
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	store, err := openSettings()
	if err != nil {
		return err
	}
	return printSettings(cmd, store.Path(), store.Load())
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	if !flags.Changed("clip") && !flags.Changed("res") && !flags.Changed("days") {
		return fmt.Errorf("nothing to set: use --clip, --res or --days")
	}

	store, err := openSettings()
	if err != nil {
		return err
	}
	cfg := store.Load()

	if flags.Changed("clip") {
		if setClip < settings.MinClipSeconds || setClip > settings.MaxClipSeconds {
			return fmt.Errorf("clip must be between %d and %d seconds", settings.MinClipSeconds, settings.MaxClipSeconds)
		}
		cfg.ClipDuration = time.Duration(setClip) * time.Second
	}
	if flags.Changed("res") {
		res, err := video.ParseResolution(setRes)
		if err != nil {
			return err
		}
		cfg.Resolution = res
	}
	if flags.Changed("days") {
		if setDays < settings.MinRetentionDays || setDays > settings.MaxRetentionDays {
			return fmt.Errorf("days must be between %d and %d", settings.MinRetentionDays, settings.MaxRetentionDays)
		}
		cfg.RetentionDays = setDays
	}

	if err := store.Save(cfg); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return printSettings(cmd, store.Path(), store.Load())
}

func printSettings(cmd *cobra.Command, path string, cfg settings.Configuration) error {
	out, err := json.MarshalIndent(map[string]any{
		settings.KeyClipDuration:  cfg.ClipSeconds(),
		settings.KeyResolution:    [2]int{cfg.Resolution.Width, cfg.Resolution.Height},
		settings.KeyRetentionDays: cfg.RetentionDays,
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s\n", path, out)
	return nil
}
