package transcode

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/mikeyg42/birdwatcher/internal/video"
)

// Recover submits raw files left in dir by an earlier run that stopped
// before transcoding them, oldest first, and removes stale partial
// outputs. It stops at the first rejected submission; the rest wait for
// the next start.
func (q *Queue) Recover(dir string) (int, error) {
	partials, err := filepath.Glob(filepath.Join(dir, "*"+video.FinalExt+partialExt))
	if err != nil {
		return 0, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	for _, p := range partials {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			q.logger.Warn("failed to remove partial output", zap.String("path", p), zap.Error(err))
		}
	}

	raws, err := filepath.Glob(filepath.Join(dir, "*"+video.RawExt))
	if err != nil {
		return 0, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	sort.Strings(raws) // stems sort chronologically

	known := q.inputs()
	n := 0
	for _, raw := range raws {
		if known[raw] {
			continue
		}
		st, err := os.Stat(raw)
		if err != nil {
			continue
		}
		if st.Size() == 0 {
			// the recorder died before writing anything
			_ = os.Remove(raw)
			continue
		}
		startedAt, err := video.ParseStem(video.Stem(raw))
		if err != nil {
			startedAt = st.ModTime()
		}

		job := video.RecordingJob{ID: "recovered-" + video.Stem(raw), StartedAt: startedAt, RawPath: raw}
		if _, err := q.Submit(job); err != nil {
			return n, fmt.Errorf("recovered %d of %d raw files: %w", n, len(raws), err)
		}
		n++
	}
	if n > 0 {
		q.logger.Info("recovered orphan recordings", zap.Int("count", n), zap.String("dir", dir))
	}
	return n, nil
}

// inputs returns the raw paths of tasks that are not finished.
func (q *Queue) inputs() map[string]bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	m := make(map[string]bool, len(q.tasks))
	for _, e := range q.tasks {
		if !e.task.Status.Terminal() {
			m[e.task.InputPath] = true
		}
	}
	return m
}
