package transcode

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/mikeyg42/birdwatcher/internal/video"
)

// copyRemuxer copies in to out, optionally failing or waiting for a
// release signal first.
type copyRemuxer struct {
	fail    error
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func (r *copyRemuxer) Remux(ctx context.Context, in, out string) error {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()

	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if r.fail != nil {
		// leave a partial file behind like a crashed ffmpeg would
		_ = os.WriteFile(out, []byte("junk"), 0o644)
		return r.fail
	}
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o644)
}

type fakeProber struct {
	info MediaInfo
	err  error
}

func (p fakeProber) Probe(string) (MediaInfo, error) {
	return p.info, p.err
}

var goodProbe = fakeProber{info: MediaInfo{Duration: 30 * time.Second, VideoStream: true, Width: 1280, Height: 720}}

type recordingListener struct {
	mu     sync.Mutex
	events map[string][]Status
}

func (l *recordingListener) TaskChanged(t Task) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.events == nil {
		l.events = map[string][]Status{}
	}
	l.events[t.ID] = append(l.events[t.ID], t.Status)
}

func (l *recordingListener) statuses(id string) []Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Status(nil), l.events[id]...)
}

func writeRaw(t *testing.T, dir, stem string) video.RecordingJob {
	t.Helper()
	raw := filepath.Join(dir, stem+video.RawExt)
	if err := os.WriteFile(raw, []byte("h264 bytes"), 0o644); err != nil {
		t.Fatalf("Failed to write raw file: %v", err)
	}
	at, _ := video.ParseStem(stem)
	return video.NewRecordingJob(at, raw, 30*time.Second, video.Res720p)
}

func waitFor(t *testing.T, q *Queue, id string, want Status) Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if task, ok := q.Task(id); ok && task.Status == want {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	task, _ := q.Task(id)
	t.Fatalf("task %s status = %s, want %s", id, task.Status, want)
	return Task{}
}

func TestTranscodeSuccess(t *testing.T) {
	dir := t.TempDir()
	listener := &recordingListener{}
	q := NewQueue(Options{
		Remuxer:   &copyRemuxer{},
		Prober:    goodProbe,
		Listeners: []Listener{listener},
		Logger:    zaptest.NewLogger(t),
	})
	defer q.Close(time.Second)

	job := writeRaw(t, dir, "20240517_063000")
	task, err := q.Submit(job)
	if err != nil {
		t.Fatalf("Failed to submit: %v", err)
	}
	if task.Status != StatusPending || task.OutputPath != filepath.Join(dir, "20240517_063000.mp4") {
		t.Fatalf("submitted task = %+v", task)
	}

	done := waitFor(t, q, task.ID, StatusDone)
	if done.OutputDuration != 30*time.Second {
		t.Fatalf("OutputDuration = %v", done.OutputDuration)
	}
	if _, err := os.Stat(job.RawPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("raw file not removed after success")
	}
	if _, err := os.Stat(done.OutputPath); err != nil {
		t.Fatalf("final file missing: %v", err)
	}
	if _, err := os.Stat(done.OutputPath + partialExt); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("partial file left behind")
	}

	want := []Status{StatusPending, StatusRunning, StatusDone}
	if got := listener.statuses(task.ID); !reflect.DeepEqual(got, want) {
		t.Fatalf("listener saw %v, want %v", got, want)
	}

	stats := q.Stats()
	if stats.Submitted != 1 || stats.Done != 1 || stats.Failed != 0 || stats.Pending != 0 || stats.Running != 0 {
		t.Fatalf("Stats = %+v", stats)
	}
}

func TestTranscodeFailureKeepsRaw(t *testing.T) {
	tests := []struct {
		name    string
		remuxer *copyRemuxer
		prober  Prober
	}{
		{"remux error", &copyRemuxer{fail: errors.New("exit status 1")}, goodProbe},
		{"probe error", &copyRemuxer{}, fakeProber{err: errors.New("moov atom not found")}},
		{"zero duration", &copyRemuxer{}, fakeProber{info: MediaInfo{VideoStream: true}}},
		{"no video stream", &copyRemuxer{}, fakeProber{info: MediaInfo{Duration: time.Second}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			q := NewQueue(Options{Remuxer: tt.remuxer, Prober: tt.prober, Logger: zaptest.NewLogger(t)})
			defer q.Close(time.Second)

			job := writeRaw(t, dir, "20240517_063000")
			task, err := q.Submit(job)
			if err != nil {
				t.Fatalf("Failed to submit: %v", err)
			}

			failed := waitFor(t, q, task.ID, StatusFailed)
			if failed.Err == nil {
				t.Fatal("failed task has no error")
			}
			if _, err := os.Stat(job.RawPath); err != nil {
				t.Fatalf("raw file removed after failure: %v", err)
			}
			for _, p := range []string{job.FinalPath(), job.FinalPath() + partialExt} {
				if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
					t.Fatalf("%s should not exist after failure", filepath.Base(p))
				}
			}
			if q.Stats().Failed != 1 {
				t.Fatalf("Stats = %+v", q.Stats())
			}
		})
	}
}

func TestSubmitQueueFull(t *testing.T) {
	dir := t.TempDir()
	remuxer := &copyRemuxer{release: make(chan struct{})}
	q := NewQueue(Options{QueueSize: 1, Workers: 1, Remuxer: remuxer, Prober: goodProbe, Logger: zaptest.NewLogger(t)})

	first, err := q.Submit(writeRaw(t, dir, "20240517_063000"))
	if err != nil {
		t.Fatalf("Failed to submit first job: %v", err)
	}
	waitFor(t, q, first.ID, StatusRunning)

	if _, err := q.Submit(writeRaw(t, dir, "20240517_063001")); err != nil {
		t.Fatalf("Failed to submit second job: %v", err)
	}
	if _, err := q.Submit(writeRaw(t, dir, "20240517_063002")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("third Submit = %v, want ErrQueueFull", err)
	}
	if q.Stats().Rejected != 1 {
		t.Fatalf("Rejected = %d, want 1", q.Stats().Rejected)
	}

	close(remuxer.release)
	if err := q.Close(5 * time.Second); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}
	if stats := q.Stats(); stats.Done != 2 {
		t.Fatalf("Stats after drain = %+v", stats)
	}
	if _, err := q.Submit(writeRaw(t, dir, "20240517_063003")); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("Submit after Close = %v, want ErrQueueClosed", err)
	}
}

func TestCloseTimeoutCancelsRunning(t *testing.T) {
	dir := t.TempDir()
	remuxer := &copyRemuxer{release: make(chan struct{})}
	q := NewQueue(Options{Remuxer: remuxer, Prober: goodProbe, Logger: zaptest.NewLogger(t)})

	job := writeRaw(t, dir, "20240517_063000")
	task, err := q.Submit(job)
	if err != nil {
		t.Fatalf("Failed to submit: %v", err)
	}
	waitFor(t, q, task.ID, StatusRunning)

	if err := q.Close(20 * time.Millisecond); err == nil {
		t.Fatal("expected drain timeout error")
	}
	got, _ := q.Task(task.ID)
	if got.Status != StatusFailed || !errors.Is(got.Err, context.Canceled) {
		t.Fatalf("task after cancel = %+v", got)
	}
	if _, err := os.Stat(job.RawPath); err != nil {
		t.Fatal("raw file must survive a cancelled transcode")
	}
}

func TestRecover(t *testing.T) {
	dir := t.TempDir()
	writeRaw(t, dir, "20240517_063001")
	writeRaw(t, dir, "20240517_063000")
	empty := filepath.Join(dir, "20240517_063002"+video.RawExt)
	partial := filepath.Join(dir, "20240517_062959"+video.FinalExt+partialExt)
	for _, p := range []string{empty, partial} {
		if err := os.WriteFile(p, nil, 0o644); err != nil {
			t.Fatalf("Failed to seed %s: %v", p, err)
		}
	}

	q := NewQueue(Options{Remuxer: &copyRemuxer{}, Prober: goodProbe, Logger: zaptest.NewLogger(t)})
	n, err := q.Recover(dir)
	if err != nil {
		t.Fatalf("Failed to recover: %v", err)
	}
	if n != 2 {
		t.Fatalf("recovered %d files, want 2", n)
	}
	if err := q.Close(5 * time.Second); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	tasks := q.Tasks()
	if len(tasks) != 2 || tasks[0].Job.Stem() != "20240517_063000" {
		t.Fatalf("tasks = %+v", tasks)
	}
	for _, p := range []string{empty, partial} {
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("%s should have been removed", filepath.Base(p))
		}
	}
	for _, stem := range []string{"20240517_063000", "20240517_063001"} {
		if _, err := os.Stat(filepath.Join(dir, stem+video.FinalExt)); err != nil {
			t.Fatalf("recovered clip %s not transcoded: %v", stem, err)
		}
	}
}

func TestHistoryIsBounded(t *testing.T) {
	dir := t.TempDir()
	q := NewQueue(Options{QueueSize: 4, History: 2, Remuxer: &copyRemuxer{}, Prober: goodProbe, Logger: zaptest.NewLogger(t)})

	var last Task
	for _, stem := range []string{"20240517_063000", "20240517_063001", "20240517_063002"} {
		task, err := q.Submit(writeRaw(t, dir, stem))
		if err != nil {
			t.Fatalf("Failed to submit: %v", err)
		}
		last = waitFor(t, q, task.ID, StatusDone)
	}
	q.Close(time.Second)

	if got := len(q.Tasks()); got != 2 {
		t.Fatalf("kept %d tasks, want 2", got)
	}
	if _, ok := q.Task(last.ID); !ok {
		t.Fatal("newest task was pruned")
	}
	if q.Stats().Done != 3 {
		t.Fatalf("Done = %d, want 3", q.Stats().Done)
	}
}
