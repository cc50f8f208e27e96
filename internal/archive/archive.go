// Package archive copies finished clips to S3 compatible object storage
// so they survive the SD card. It listens to the transcode queue and
// uploads on its own goroutine.
package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/birdwatcher/internal/logging"
	"github.com/mikeyg42/birdwatcher/internal/transcode"
	"github.com/mikeyg42/birdwatcher/internal/video"
)

// Uploader stores a local file under a key.
type Uploader interface {
	Upload(ctx context.Context, key, path, contentType string) error
}

// UploadError describes a failed upload.
type UploadError struct {
	Op         string
	Key        string
	Err        error
	StatusCode int
	Retryable  bool
}

func (e *UploadError) Error() string {
	if e.Key != "" {
		return e.Op + " " + e.Key + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// Stats counts archive outcomes.
type Stats struct {
	Uploaded int64
	Failed   int64
	Dropped  int64
}

// Archiver uploads every clip whose transcode finished.
type Archiver struct {
	up     Uploader
	prefix string
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan transcode.Task
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	stats  Stats
}

var _ transcode.Listener = (*Archiver)(nil)

// New starts the upload goroutine. backlog bounds how many finished
// clips may wait for upload.
func New(up Uploader, prefix string, backlog int, logger *zap.Logger) *Archiver {
	if backlog <= 0 {
		backlog = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &Archiver{
		up:     up,
		prefix: prefix,
		logger: logging.Named(logger, "archive"),
		ctx:    ctx,
		cancel: cancel,
		queue:  make(chan transcode.Task, backlog),
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

// ObjectKey lays clips out by day: <prefix>/YYYY/MM/DD/<stem>.mp4.
func ObjectKey(prefix string, t transcode.Task) string {
	day := t.Job.StartedAt
	if day.IsZero() {
		day = t.EnqueuedAt
	}
	return path.Join(prefix, day.Format("2006/01/02"), video.Stem(t.OutputPath)+video.FinalExt)
}

// TaskChanged implements transcode.Listener.
func (a *Archiver) TaskChanged(t transcode.Task) {
	if t.Status != transcode.StatusDone {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- t:
	default:
		a.stats.Dropped++
		a.logger.Warn("archive backlog full, clip stays local only", zap.String("path", t.OutputPath))
	}
}

func (a *Archiver) loop() {
	defer a.wg.Done()
	for t := range a.queue {
		a.upload(t)
	}
}

func (a *Archiver) upload(t transcode.Task) {
	key := ObjectKey(a.prefix, t)
	if _, err := os.Stat(t.OutputPath); err != nil {
		// already removed by the web app or the retention sweep
		a.logger.Debug("clip gone before upload", zap.String("path", t.OutputPath))
		return
	}

	start := time.Now()
	err := a.up.Upload(a.ctx, key, t.OutputPath, "video/mp4")

	a.mu.Lock()
	if err != nil {
		a.stats.Failed++
	} else {
		a.stats.Uploaded++
	}
	a.mu.Unlock()

	if err != nil {
		a.logger.Error("archive upload failed", zap.String("key", key), zap.Error(err))
		return
	}
	a.logger.Info("clip archived", zap.String("key", key), zap.Duration("took", time.Since(start)))
}

// Stats returns the counters.
func (a *Archiver) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Close stops accepting clips and waits up to timeout for the backlog.
func (a *Archiver) Close(timeout time.Duration) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.cancel()
		return nil
	case <-time.After(timeout):
		a.cancel()
		<-done
		return fmt.Errorf("archive: drain timed out after %v", timeout)
	}
}
