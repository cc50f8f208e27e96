package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/mikeyg42/birdwatcher/internal/transcode"
	"github.com/mikeyg42/birdwatcher/internal/video"
)

type fakeUploader struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (f *fakeUploader) Upload(_ context.Context, key, path, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if contentType != "video/mp4" {
		return errors.New("wrong content type " + contentType)
	}
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	return nil
}

func doneTask(t *testing.T, dir, stem string) transcode.Task {
	t.Helper()
	at, _ := video.ParseStem(stem)
	job := video.NewRecordingJob(at, filepath.Join(dir, stem+video.RawExt), 30*time.Second, video.Res720p)
	if err := os.WriteFile(job.FinalPath(), []byte("mp4"), 0o644); err != nil {
		t.Fatalf("Failed to write clip: %v", err)
	}
	return transcode.Task{ID: stem, Job: job, InputPath: job.RawPath, OutputPath: job.FinalPath(), Status: transcode.StatusDone}
}

func TestObjectKey(t *testing.T) {
	task := doneTask(t, t.TempDir(), "20240517_063000")
	if got := ObjectKey("garden", task); got != "garden/2024/05/17/20240517_063000.mp4" {
		t.Fatalf("ObjectKey = %q", got)
	}
	if got := ObjectKey("", task); got != "2024/05/17/20240517_063000.mp4" {
		t.Fatalf("ObjectKey without prefix = %q", got)
	}
}

func TestArchiverUploadsDoneTasksOnly(t *testing.T) {
	dir := t.TempDir()
	up := &fakeUploader{}
	a := New(up, "cam1", 4, zaptest.NewLogger(t))

	done := doneTask(t, dir, "20240517_063000")
	failed := done
	failed.Status = transcode.StatusFailed
	running := done
	running.Status = transcode.StatusRunning

	a.TaskChanged(running)
	a.TaskChanged(failed)
	a.TaskChanged(done)

	if err := a.Close(time.Second); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}
	if len(up.keys) != 1 || up.keys[0] != "cam1/2024/05/17/20240517_063000.mp4" {
		t.Fatalf("uploaded keys = %v", up.keys)
	}
	if s := a.Stats(); s.Uploaded != 1 || s.Failed != 0 {
		t.Fatalf("Stats = %+v", s)
	}

	// after Close nothing is accepted
	a.TaskChanged(done)
	if len(up.keys) != 1 {
		t.Fatal("upload accepted after Close")
	}
}

func TestArchiverCountsFailures(t *testing.T) {
	dir := t.TempDir()
	up := &fakeUploader{err: &UploadError{Op: "put", Key: "k", Err: errors.New("denied"), StatusCode: 403}}
	a := New(up, "", 4, zaptest.NewLogger(t))

	a.TaskChanged(doneTask(t, dir, "20240517_063000"))
	gone := doneTask(t, dir, "20240517_063100")
	os.Remove(gone.OutputPath)
	a.TaskChanged(gone)

	a.Close(time.Second)
	if s := a.Stats(); s.Failed != 1 || s.Uploaded != 0 {
		t.Fatalf("Stats = %+v", s)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{0, true},
		{408, true},
		{429, true},
		{503, true},
		{403, false},
		{404, false},
	}
	for _, tt := range tests {
		if got := retryable(tt.status); got != tt.want {
			t.Fatalf("retryable(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestUploadErrorUnwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := error(&UploadError{Op: "put", Key: "a/b.mp4", Err: inner})
	if !errors.Is(err, inner) {
		t.Fatal("UploadError does not unwrap")
	}
	if err.Error() != "put a/b.mp4: connection reset" {
		t.Fatalf("Error() = %q", err.Error())
	}
}
