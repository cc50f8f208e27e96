package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/mikeyg42/birdwatcher/internal/transcode"
	"github.com/mikeyg42/birdwatcher/internal/video"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "db", "birdwatcher.db")
	l, err := Open(context.Background(), "sqlite3", dsn, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to open ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func testTask(id, stem string, enqueued time.Time) transcode.Task {
	start, _ := video.ParseStem(stem)
	job := video.NewRecordingJob(start, "/videos/"+stem+".h264", 45*time.Second, video.Res1080p)
	return transcode.Task{
		ID:         id,
		Job:        job,
		InputPath:  job.RawPath,
		OutputPath: job.FinalPath(),
		Status:     transcode.StatusPending,
		EnqueuedAt: enqueued,
	}
}

func TestRecordLifecycle(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	task := testTask("task-1", "20240517_063000", time.Now())
	for _, status := range []transcode.Status{transcode.StatusPending, transcode.StatusRunning, transcode.StatusFailed} {
		task.Status = status
		if status == transcode.StatusFailed {
			task.Err = errors.New("moov atom not found")
		}
		if err := l.Record(ctx, task); err != nil {
			t.Fatalf("Failed to record %s: %v", status, err)
		}
	}

	got, err := l.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("Failed to get entry: %v", err)
	}
	if got.Status != "failed" || got.Error != "moov atom not found" {
		t.Fatalf("entry = %+v", got)
	}
	if got.Stem != "20240517_063000" || got.ClipSeconds != 45 || got.Width != 1920 || got.Bitrate != video.BitrateHigh {
		t.Fatalf("job fields not stored: %+v", got)
	}
}

func TestListAndCounts(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	statuses := []transcode.Status{transcode.StatusDone, transcode.StatusFailed, transcode.StatusDone}
	for i, st := range statuses {
		task := testTask(
			[]string{"a", "b", "c"}[i],
			[]string{"20240517_063000", "20240517_063100", "20240517_063200"}[i],
			base.Add(time.Duration(i)*time.Minute),
		)
		task.Status = st
		l.TaskChanged(task)
	}

	all, err := l.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(all) != 3 || all[0].TaskID != "c" {
		t.Fatalf("List() = %+v", all)
	}

	failed, err := l.List(ctx, Filter{Status: "failed"})
	if err != nil {
		t.Fatalf("Failed to list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].TaskID != "b" {
		t.Fatalf("List(failed) = %+v", failed)
	}

	limited, err := l.List(ctx, Filter{Limit: 2})
	if err != nil {
		t.Fatalf("Failed to list with limit: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("List(limit 2) returned %d entries", len(limited))
	}

	counts, err := l.Counts(ctx)
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if counts["done"] != 2 || counts["failed"] != 1 {
		t.Fatalf("Counts() = %v", counts)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mysql", "x", zaptest.NewLogger(t)); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestSQLitePath(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"/var/lib/bw/bw.db", "/var/lib/bw/bw.db"},
		{"file:/var/lib/bw/bw.db?cache=shared", "/var/lib/bw/bw.db"},
	}
	for _, tt := range tests {
		if got := sqlitePath(tt.dsn); got != tt.want {
			t.Fatalf("sqlitePath(%q) = %q, want %q", tt.dsn, got, tt.want)
		}
	}
}
