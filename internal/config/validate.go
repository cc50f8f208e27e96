package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Validate checks required fields and creates the directories the
// service writes to.
func (c *Config) Validate() error {
	if c.GPIO.MotionPin == "" {
		return fmt.Errorf("gpio.motion_pin is required")
	}

	if c.Camera.Binary == "" {
		return fmt.Errorf("camera.binary is required")
	}
	if c.Camera.PreviewWidth <= 0 || c.Camera.PreviewHeight <= 0 {
		return fmt.Errorf("invalid preview dimensions: %dx%d", c.Camera.PreviewWidth, c.Camera.PreviewHeight)
	}
	if c.Camera.FrameRate <= 0 {
		return fmt.Errorf("invalid frame rate: %d", c.Camera.FrameRate)
	}
	if c.Camera.MaxFrameFailures < 0 {
		return fmt.Errorf("camera.max_frame_failures must not be negative")
	}

	if c.Classifier.ModelPath == "" {
		return fmt.Errorf("classifier.model_path is required")
	}
	if c.Classifier.Threshold <= 0 || c.Classifier.Threshold >= 1 {
		return fmt.Errorf("classifier.threshold must be in (0,1), got %v", c.Classifier.Threshold)
	}
	if len(c.Classifier.Targets) == 0 {
		return fmt.Errorf("classifier.targets must not be empty")
	}

	t := c.Timings
	for name, d := range map[string]int64{
		"tick":               int64(t.Tick),
		"negative_delay":     int64(t.NegativeDelay),
		"classifier_backoff": int64(t.ClassifierBackoff),
		"settle":             int64(t.Settle),
		"cooldown":           int64(t.Cooldown),
	} {
		if d < 0 {
			return fmt.Errorf("timings.%s must not be negative", name)
		}
	}
	if t.Tick == 0 {
		return fmt.Errorf("timings.tick must be positive")
	}

	if c.Video.Dir == "" {
		return fmt.Errorf("video.dir is required")
	}
	if err := os.MkdirAll(c.Video.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create video directory %s: %w", c.Video.Dir, err)
	}
	if c.Video.SettingsPath == "" {
		return fmt.Errorf("video.settings_path is required")
	}
	if err := os.MkdirAll(filepath.Dir(c.Video.SettingsPath), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	if c.Transcode.QueueSize <= 0 {
		return fmt.Errorf("transcode.queue_size must be positive")
	}
	if c.Transcode.Workers <= 0 {
		return fmt.Errorf("transcode.workers must be positive")
	}

	if c.Ledger.Enabled {
		switch c.Ledger.Driver {
		case "sqlite3", "postgres":
		default:
			return fmt.Errorf("ledger.driver must be sqlite3 or postgres, got %q", c.Ledger.Driver)
		}
		if c.Ledger.DSN == "" {
			return fmt.Errorf("ledger.dsn is required when the ledger is enabled")
		}
	}

	if c.Archive.Enabled {
		if c.Archive.Endpoint == "" {
			return fmt.Errorf("archive.endpoint is required when archiving is enabled")
		}
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required when archiving is enabled")
		}
	}

	if c.Retention.Enabled && c.Retention.Interval <= 0 {
		return fmt.Errorf("retention.interval must be positive")
	}

	if c.Log.Dir != "" {
		if err := os.MkdirAll(c.Log.Dir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory %s: %w", c.Log.Dir, err)
		}
	}

	return nil
}
