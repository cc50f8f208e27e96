package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"WARN", zapcore.WarnLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestDailyRotatingWriter(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2024, 5, 17, 23, 59, 0, 0, time.Local)

	w := NewDailyRotatingWriter(dir, "test")
	w.now = func() time.Time { return day }
	defer w.Close()

	if _, err := w.Write([]byte("first\n")); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	day = day.Add(2 * time.Minute)
	if _, err := w.Write([]byte("second\n")); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("Failed to sync: %v", err)
	}

	for name, want := range map[string]string{
		"test-2024-05-17.log": "first\n",
		"test-2024-05-18.log": "second\n",
	} {
		got, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("Failed to read %s: %v", name, err)
		}
		if string(got) != want {
			t.Fatalf("%s = %q, want %q", name, got, want)
		}
	}
}

func TestNewWritesToDir(t *testing.T) {
	dir := t.TempDir()
	logger, closeFn, err := New(Options{Level: "info", Format: "json", Dir: dir, Name: "bw"})
	if err != nil {
		t.Fatalf("Failed to build logger: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("visible")
	if err := closeFn(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "bw-*.log"))
	if len(matches) != 1 {
		t.Fatalf("expected one log file, got %v", matches)
	}
	data, _ := os.ReadFile(matches[0])
	if !strings.Contains(string(data), "visible") || strings.Contains(string(data), "hidden") {
		t.Fatalf("unexpected log contents: %s", data)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
