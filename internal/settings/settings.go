// Package settings reads and writes the JSON tunables shared with the
// file-management web app (clip length, recording resolution and
// retention). Loading never fails: anything unreadable falls back to
// defaults.
package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/birdwatcher/internal/logging"
	"github.com/mikeyg42/birdwatcher/internal/video"
)

// JSON keys owned by this package. Other keys are left untouched.
const (
	KeyClipDuration  = "time_clip"
	KeyResolution    = "res_video"
	KeyRetentionDays = "cleanup_days"
)

// Bounds enforced on load and save
const (
	MinClipSeconds   = 1
	MaxClipSeconds   = 120
	MinRetentionDays = 1
	MaxRetentionDays = 99
)

// Configuration is the set of user-facing tunables.
type Configuration struct {
	ClipDuration  time.Duration
	Resolution    video.Resolution
	RetentionDays int
}

// Default is used for a missing file, an unparsable file and for each
// missing or invalid field.
var Default = Configuration{
	ClipDuration:  60 * time.Second,
	Resolution:    video.Res720p,
	RetentionDays: 7,
}

// ClipSeconds returns the clip duration in whole seconds.
func (c Configuration) ClipSeconds() int {
	return int(c.ClipDuration / time.Second)
}

// Store is the JSON file. It holds no lock: Save replaces the file with
// a rename so concurrent readers see either the old or the new value.
type Store struct {
	path   string
	logger *zap.Logger
}

// NewStore returns a store for path. logger may be nil.
func NewStore(path string, logger *zap.Logger) *Store {
	return &Store{path: path, logger: logging.Named(logger, "settings")}
}

// Path returns the file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the current configuration. A missing file is created with
// the defaults.
func (s *Store) Load() Configuration {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		if err := s.Save(Default); err != nil {
			s.logger.Warn("failed to create settings file", zap.String("path", s.path), zap.Error(err))
		} else {
			s.logger.Info("created settings file with defaults", zap.String("path", s.path))
		}
		return Default
	}
	if err != nil {
		s.logger.Warn("failed to read settings, using defaults", zap.String("path", s.path), zap.Error(err))
		return Default
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn("failed to parse settings, using defaults", zap.String("path", s.path), zap.Error(err))
		return Default
	}
	return s.decode(raw)
}

func (s *Store) decode(raw map[string]json.RawMessage) Configuration {
	cfg := Default

	if v, ok := raw[KeyClipDuration]; ok {
		if n, ok := intValue(v); ok {
			cfg.ClipDuration = time.Duration(clamp(n, MinClipSeconds, MaxClipSeconds)) * time.Second
		} else {
			s.logger.Warn("invalid settings field, using default", zap.String("key", KeyClipDuration), zap.ByteString("value", v))
		}
	}

	if v, ok := raw[KeyResolution]; ok {
		if res, ok := resolutionValue(v); ok {
			cfg.Resolution = res
		} else {
			s.logger.Warn("invalid settings field, using default", zap.String("key", KeyResolution), zap.ByteString("value", v))
		}
	}

	if v, ok := raw[KeyRetentionDays]; ok {
		if n, ok := intValue(v); ok {
			cfg.RetentionDays = clamp(n, MinRetentionDays, MaxRetentionDays)
		} else {
			s.logger.Warn("invalid settings field, using default", zap.String("key", KeyRetentionDays), zap.ByteString("value", v))
		}
	}

	return cfg
}

// Save clamps cfg and writes it. Keys written by other programs are
// kept as they are.
func (s *Store) Save(cfg Configuration) error {
	raw := map[string]json.RawMessage{}
	if data, err := os.ReadFile(s.path); err == nil {
		// an unparsable file is simply replaced
		_ = json.Unmarshal(data, &raw)
		if raw == nil {
			raw = map[string]json.RawMessage{}
		}
	}

	if !cfg.Resolution.Valid() {
		return fmt.Errorf("invalid resolution %v", cfg.Resolution)
	}
	clip := clamp(cfg.ClipSeconds(), MinClipSeconds, MaxClipSeconds)
	days := clamp(cfg.RetentionDays, MinRetentionDays, MaxRetentionDays)

	raw[KeyClipDuration], _ = json.Marshal(clip)
	raw[KeyRetentionDays], _ = json.Marshal(days)
	raw[KeyResolution], _ = json.Marshal([2]int{cfg.Resolution.Width, cfg.Resolution.Height})

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	return writeFileAtomic(s.path, append(data, '\n'))
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp settings file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp settings file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp settings file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp settings file: %w", err)
	}
	// the web app runs as another user and must be able to read it
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("failed to chmod temp settings file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename settings file: %w", err)
	}
	return nil
}

// intValue accepts JSON numbers with no fractional part.
func intValue(v json.RawMessage) (int, bool) {
	dec := json.NewDecoder(bytes.NewReader(v))
	dec.UseNumber()
	var n json.Number
	if err := dec.Decode(&n); err != nil {
		return 0, false
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

func resolutionValue(v json.RawMessage) (video.Resolution, bool) {
	var pair []json.RawMessage
	if err := json.Unmarshal(v, &pair); err != nil || len(pair) != 2 {
		return video.Resolution{}, false
	}
	w, ok := intValue(pair[0])
	if !ok {
		return video.Resolution{}, false
	}
	h, ok := intValue(pair[1])
	if !ok {
		return video.Resolution{}, false
	}
	res := video.Resolution{Width: w, Height: h}
	return res, res.Valid()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
