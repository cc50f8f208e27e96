// Package config holds the device configuration: hardware bindings,
// loop timings and the optional ledger, archive and retention services.
// It is loaded once at startup from YAML. The user tunables shared with
// the web app live in package settings instead.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the service looks without --config.
const DefaultPath = "/etc/birdwatcher/birdwatcher.yaml"

// Config holds all application configuration
type Config struct {
	GPIO       GPIOConfig       `yaml:"gpio"`
	Camera     CameraConfig     `yaml:"camera"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Timings    TimingsConfig    `yaml:"timings"`
	Video      VideoConfig      `yaml:"video"`
	Transcode  TranscodeConfig  `yaml:"transcode"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Retention  RetentionConfig  `yaml:"retention"`
	Log        LogConfig        `yaml:"log"`
}

type GPIOConfig struct {
	MotionPin string `yaml:"motion_pin"`
}

type CameraConfig struct {
	Binary           string        `yaml:"binary"`
	PreviewWidth     int           `yaml:"preview_width"`
	PreviewHeight    int           `yaml:"preview_height"`
	FrameRate        int           `yaml:"frame_rate"`
	Autofocus        string        `yaml:"autofocus"`
	StartRetries     uint64        `yaml:"start_retries"`
	StopTimeout      time.Duration `yaml:"stop_timeout"`
	MaxFrameFailures int           `yaml:"max_frame_failures"` // in a row before the camera is restarted
}

type ClassifierConfig struct {
	ModelPath string   `yaml:"model_path"`
	InputSize int      `yaml:"input_size"`
	Threshold float32  `yaml:"threshold"`
	Targets   []string `yaml:"targets"`
}

type TimingsConfig struct {
	Tick              time.Duration `yaml:"tick"`
	NegativeDelay     time.Duration `yaml:"negative_delay"`
	ClassifierBackoff time.Duration `yaml:"classifier_backoff"`
	Settle            time.Duration `yaml:"settle"`
	Cooldown          time.Duration `yaml:"cooldown"`
}

type VideoConfig struct {
	Dir          string `yaml:"dir"`
	SettingsPath string `yaml:"settings_path"`
}

type TranscodeConfig struct {
	FFmpegPath   string        `yaml:"ffmpeg_path"`
	QueueSize    int           `yaml:"queue_size"`
	Workers      int           `yaml:"workers"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
	LowPriority  bool          `yaml:"low_priority"`
	Recover      bool          `yaml:"recover"`
}

type LedgerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Driver  string `yaml:"driver"` // sqlite3 or postgres
	DSN     string `yaml:"dsn"`
}

type ArchiveConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Endpoint        string        `yaml:"endpoint"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	UseSSL          bool          `yaml:"use_ssl"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Prefix          string        `yaml:"prefix"`
	MaxRetries      uint64        `yaml:"max_retries"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

type RetentionConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Dir    string `yaml:"dir"`
}

// NewDefaultConfig returns a Config with default values
func NewDefaultConfig() *Config {
	return &Config{
		GPIO: GPIOConfig{
			MotionPin: "GPIO14",
		},
		Camera: CameraConfig{
			Binary:           "rpicam-vid",
			PreviewWidth:     640,
			PreviewHeight:    480,
			FrameRate:        25,
			Autofocus:        "continuous",
			StartRetries:     5,
			StopTimeout:      5 * time.Second,
			MaxFrameFailures: 3,
		},
		Classifier: ClassifierConfig{
			ModelPath: "yolov8n.onnx",
			InputSize: 640,
			Threshold: 0.40,
			Targets:   []string{"person", "bird"},
		},
		Timings: TimingsConfig{
			Tick:              200 * time.Millisecond,
			NegativeDelay:     500 * time.Millisecond,
			ClassifierBackoff: time.Second,
			Settle:            1500 * time.Millisecond,
			Cooldown:          3 * time.Second,
		},
		Video: VideoConfig{
			Dir:          "videos",
			SettingsPath: "config.json",
		},
		Transcode: TranscodeConfig{
			FFmpegPath:   "ffmpeg",
			QueueSize:    8,
			Workers:      1,
			DrainTimeout: 2 * time.Minute,
			LowPriority:  true,
			Recover:      true,
		},
		Ledger: LedgerConfig{
			Enabled: true,
			Driver:  "sqlite3",
			DSN:     "birdwatcher.db",
		},
		Archive: ArchiveConfig{
			Bucket:         "birdwatcher",
			Region:         "us-east-1",
			MaxRetries:     5,
			RequestTimeout: 2 * time.Minute,
		},
		Retention: RetentionConfig{
			Interval: time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads path over the defaults. A missing file is not an error:
// the device runs on defaults alone.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Save writes cfg as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
