package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DailyRotatingWriter writes to <dir>/<name>-YYYY-MM-DD.log, opening a
// new file on the first write of each local day. It satisfies
// zapcore.WriteSyncer.
type DailyRotatingWriter struct {
	logDir      string
	filename    string
	now         func() time.Time
	currentFile *os.File
	currentDate string
	mu          sync.Mutex
}

// NewDailyRotatingWriter creates a writer; no file is opened until the
// first Write.
func NewDailyRotatingWriter(logDir, filename string) *DailyRotatingWriter {
	return &DailyRotatingWriter{
		logDir:   logDir,
		filename: filename,
		now:      time.Now,
	}
}

func (w *DailyRotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	date := w.now().Format("2006-01-02")
	if w.currentFile == nil || w.currentDate != date {
		if err := w.rotate(date); err != nil {
			return 0, err
		}
	}
	return w.currentFile.Write(p)
}

func (w *DailyRotatingWriter) rotate(date string) error {
	if w.currentFile != nil {
		_ = w.currentFile.Close()
		w.currentFile = nil
	}

	path := filepath.Join(w.logDir, fmt.Sprintf("%s-%s.log", w.filename, date))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	w.currentFile = f
	w.currentDate = date
	return nil
}

// Sync flushes the current file to disk.
func (w *DailyRotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentFile == nil {
		return nil
	}
	return w.currentFile.Sync()
}

// Close closes the current file.
func (w *DailyRotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentFile == nil {
		return nil
	}
	err := w.currentFile.Close()
	w.currentFile = nil
	return err
}
