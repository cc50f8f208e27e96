// Package retention deletes clips older than the configured number of
// days. It is off by default because the web application usually runs
// its own cleanup.
package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/birdwatcher/internal/logging"
	"github.com/mikeyg42/birdwatcher/internal/settings"
	"github.com/mikeyg42/birdwatcher/internal/video"
)

// SettingsLoader returns the current shared tunables.
type SettingsLoader interface {
	Load() settings.Configuration
}

// Result summarises one sweep.
type Result struct {
	Scanned int
	Removed []string
	Errors  int
}

// Sweeper removes expired clips from one directory.
type Sweeper struct {
	dir      string
	settings SettingsLoader
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewSweeper creates a Sweeper. The retention window is read from the
// settings store on every sweep.
func NewSweeper(dir string, store SettingsLoader, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		dir:      dir,
		settings: store,
		interval: interval,
		logger:   logging.Named(logger, "retention"),
		now:      time.Now,
	}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(s.now()); err != nil {
			s.logger.Warn("retention sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep deletes every clip recorded before now minus the retention
// window. The recording time comes from the file stem, or from the
// modification time when the name does not parse.
func (s *Sweeper) Sweep(now time.Time) (Result, error) {
	var res Result
	days := s.settings.Load().RetentionDays
	cutoff := now.AddDate(0, 0, -days)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return res, fmt.Errorf("failed to read video dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || !clip(e.Name()) {
			continue
		}
		res.Scanned++

		path := filepath.Join(s.dir, e.Name())
		at, err := video.ParseStem(video.Stem(path))
		if err != nil {
			info, ierr := e.Info()
			if ierr != nil {
				res.Errors++
				continue
			}
			at = info.ModTime()
		}
		if !at.Before(cutoff) {
			continue
		}

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			res.Errors++
			s.logger.Warn("failed to remove expired clip", zap.String("path", path), zap.Error(err))
			continue
		}
		res.Removed = append(res.Removed, path)
	}

	if len(res.Removed) > 0 {
		s.logger.Info("removed expired clips",
			zap.Int("count", len(res.Removed)),
			zap.Int("retention_days", days))
	}
	return res, nil
}

func clip(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == video.FinalExt || ext == video.RawExt
}
