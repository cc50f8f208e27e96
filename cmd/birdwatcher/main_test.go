package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/mikeyg42/birdwatcher/internal/config"
)

// execute runs the root command with args and resets the package level
// flag variables afterwards.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		configPath, settingsPath, videoDir, modelPath, logLevel = "", "", "", "", ""
		setClip, setRes, setDays = 0, "", 0
		for _, c := range []string{"clip", "res", "days"} {
			if f := settingsSetCmd.Flags().Lookup(c); f != nil {
				f.Changed = false
			}
		}
	})

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeDeviceConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "birdwatcher.yaml")
	data := "video:\n  dir: " + filepath.Join(dir, "videos") + "\n" +
		"  settings_path: " + filepath.Join(dir, "config.json") + "\n" +
		"ledger:\n  dsn: " + filepath.Join(dir, "ledger.db") + "\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestSettingsSetAndShow(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeDeviceConfig(t, dir)

	if _, err := execute(t, "settings", "set", "--config", cfgPath, "--clip", "45", "--res", "1920x1080"); err != nil {
		t.Fatalf("Failed to set settings: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatalf("Failed to read settings: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Failed to parse settings: %v", err)
	}
	if raw["time_clip"] != float64(45) || raw["cleanup_days"] != float64(7) {
		t.Fatalf("settings = %v", raw)
	}

	out, err := execute(t, "settings", "show", "--config", cfgPath)
	if err != nil {
		t.Fatalf("Failed to show settings: %v", err)
	}
	if !strings.Contains(out, "1920") || !strings.Contains(out, `"time_clip": 45`) {
		t.Fatalf("show output = %q", out)
	}
}

func TestSettingsSetRejectsBadInput(t *testing.T) {
	cfgPath := writeDeviceConfig(t, t.TempDir())

	tests := []struct {
		name string
		args []string
	}{
		{"no flags", []string{"settings", "set", "--config", cfgPath}},
		{"clip too long", []string{"settings", "set", "--config", cfgPath, "--clip", "500"}},
		{"bad resolution", []string{"settings", "set", "--config", cfgPath, "--res", "wide"}},
		{"days out of range", []string{"settings", "set", "--config", cfgPath, "--days", "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := execute(t, tt.args...); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestTasksEmptyLedger(t *testing.T) {
	cfgPath := writeDeviceConfig(t, t.TempDir())
	out, err := execute(t, "tasks", "--config", cfgPath)
	if err != nil {
		t.Fatalf("Failed to list tasks: %v", err)
	}
	if !strings.Contains(out, "STEM") {
		t.Fatalf("tasks output = %q", out)
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("Failed to run version: %v", err)
	}
	if !strings.HasPrefix(out, "birdwatcher dev") {
		t.Fatalf("version output = %q", out)
	}
}

func TestRemuxerFollowsCameraFrameRate(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Camera.FrameRate = 30

	if got := newRemuxer(cfg, zaptest.NewLogger(t)).FrameRate; got != 30 {
		t.Fatalf("remux frame rate = %d, want the camera's 30", got)
	}
}
