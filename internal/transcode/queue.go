// Package transcode remuxes raw H.264 recordings into MP4 files in the
// background. Work goes through a bounded queue so a burst of triggers
// cannot pile up ffmpeg processes, and every task's status can be
// inspected while and after it runs.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mikeyg42/birdwatcher/internal/logging"
	"github.com/mikeyg42/birdwatcher/internal/video"
)

var (
	ErrQueueFull   = errors.New("transcode: queue full")
	ErrQueueClosed = errors.New("transcode: queue closed")
)

// partialExt marks output still being written.
const partialExt = ".part"

// Remuxer changes the container of in and writes it to out.
type Remuxer interface {
	Remux(ctx context.Context, in, out string) error
}

// Options configures a Queue. Remuxer and Prober are required.
type Options struct {
	QueueSize int // pending tasks, default 8
	Workers   int // concurrent remuxes, default 1
	History   int // finished tasks kept for inspection, default 256
	Remuxer   Remuxer
	Prober    Prober
	Listeners []Listener
	Logger    *zap.Logger
}

// Queue accepts recording jobs and remuxes them on worker goroutines.
type Queue struct {
	opts   Options
	logger *zap.Logger

	jobs   chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	tasks    map[string]*entry
	finished []string // terminal task IDs, oldest first
	seq      uint64
	stats    Stats
}

type entry struct {
	seq  uint64
	task Task
	// closed once listeners have seen the pending state, so a fast
	// worker cannot report running first
	announced chan struct{}
}

// NewQueue starts the workers.
func NewQueue(opts Options) *Queue {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 8
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.History <= 0 {
		opts.History = 256
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		opts:   opts,
		logger: logging.Named(opts.Logger, "transcode"),
		jobs:   make(chan string, opts.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]*entry),
	}

	for i := 0; i < opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	return q
}

// Submit enqueues job without blocking.
func (q *Queue) Submit(job video.RecordingJob) (Task, error) {
	q.mu.Lock()
	if q.closed {
		q.stats.Rejected++
		q.mu.Unlock()
		return Task{}, ErrQueueClosed
	}

	e := &entry{
		task: Task{
			ID:         uuid.NewString(),
			Job:        job,
			InputPath:  job.RawPath,
			OutputPath: job.FinalPath(),
			Status:     StatusPending,
			EnqueuedAt: time.Now(),
		},
		announced: make(chan struct{}),
	}
	t := e.task

	select {
	case q.jobs <- t.ID:
	default:
		q.stats.Rejected++
		q.mu.Unlock()
		q.logger.Warn("transcode queue full, raw file left for recovery",
			zap.String("raw", job.RawPath),
			zap.Int("capacity", q.opts.QueueSize))
		return Task{}, ErrQueueFull
	}

	q.seq++
	e.seq = q.seq
	q.tasks[t.ID] = e
	q.stats.Submitted++
	q.stats.Pending++
	listeners := q.opts.Listeners
	q.mu.Unlock()

	q.logger.Info("transcode queued",
		zap.String("task_id", t.ID),
		zap.String("raw", t.InputPath))
	notify(listeners, t)
	close(e.announced)
	return t, nil
}

// Task returns a snapshot of the task with id.
func (q *Queue) Task(id string) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.tasks[id]
	if !ok {
		return Task{}, false
	}
	return e.task, true
}

// Tasks returns snapshots of all known tasks, oldest first.
func (q *Queue) Tasks() []Task {
	q.mu.Lock()
	entries := make([]*entry, 0, len(q.tasks))
	for _, e := range q.tasks {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq < entries[j].seq
	})
	out := make([]Task, len(entries))
	for i, e := range entries {
		out[i] = e.task
	}
	q.mu.Unlock()
	return out
}

// Stats returns the counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Close stops accepting work and waits up to timeout for queued and
// running tasks. After the timeout running remuxes are cancelled and
// anything still queued fails; raw files stay for the next Recover.
func (q *Queue) Close(timeout time.Duration) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-time.After(timeout):
		q.logger.Warn("transcode drain timed out, cancelling", zap.Duration("timeout", timeout))
		q.cancel()
		<-done
		return fmt.Errorf("transcode: drain timed out after %v", timeout)
	}
}

func (q *Queue) worker(n int) {
	defer q.wg.Done()
	logger := q.logger.With(zap.Int("worker", n))
	for id := range q.jobs {
		q.run(id, logger)
	}
}

func (q *Queue) run(id string, logger *zap.Logger) {
	q.mu.Lock()
	e, ok := q.tasks[id]
	q.mu.Unlock()
	if !ok {
		return
	}
	<-e.announced

	t, ok := q.update(id, func(t *Task) {
		t.Status = StatusRunning
		t.StartedAt = time.Now()
	})
	if !ok {
		return
	}
	logger = logger.With(zap.String("task_id", id), zap.String("raw", t.InputPath))

	if err := q.ctx.Err(); err != nil {
		q.fail(id, fmt.Errorf("cancelled before start: %w", err), logger)
		return
	}

	logger.Info("transcode started")
	dur, err := q.remux(t.InputPath, t.OutputPath)
	if err != nil {
		q.fail(id, err, logger)
		return
	}

	if err := os.Remove(t.InputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		// the MP4 is good; a leftover raw file is only wasted space
		logger.Warn("failed to remove raw file", zap.Error(err))
	}

	final, _ := q.update(id, func(t *Task) {
		t.Status = StatusDone
		t.FinishedAt = time.Now()
		t.OutputDuration = dur
	})
	logger.Info("transcode done",
		zap.String("output", final.OutputPath),
		zap.Duration("clip", dur),
		zap.Duration("took", final.FinishedAt.Sub(final.StartedAt)))
}

// remux writes to a partial file, validates it and renames it into
// place so readers of the video directory never see a half written MP4.
func (q *Queue) remux(in, out string) (time.Duration, error) {
	partial := out + partialExt
	defer os.Remove(partial)

	if err := q.opts.Remuxer.Remux(q.ctx, in, partial); err != nil {
		return 0, fmt.Errorf("remux failed: %w", err)
	}
	dur, err := Validate(partial, q.opts.Prober)
	if err != nil {
		return 0, err
	}
	if err := os.Rename(partial, out); err != nil {
		return 0, fmt.Errorf("failed to publish %s: %w", filepath.Base(out), err)
	}
	return dur, nil
}

func (q *Queue) fail(id string, err error, logger *zap.Logger) {
	q.update(id, func(t *Task) {
		t.Status = StatusFailed
		t.Err = err
		t.FinishedAt = time.Now()
	})
	logger.Error("transcode failed, raw file kept", zap.Error(err))
}

// update applies fn to the task, keeps the counters in step, and
// notifies listeners with the resulting snapshot.
func (q *Queue) update(id string, fn func(t *Task)) (Task, bool) {
	q.mu.Lock()
	e, ok := q.tasks[id]
	if !ok {
		q.mu.Unlock()
		return Task{}, false
	}
	t := &e.task
	before := t.Status
	fn(t)
	q.count(before, -1)
	q.count(t.Status, +1)
	if t.Status.Terminal() {
		q.finished = append(q.finished, id)
		q.prune()
	}
	snapshot := *t
	listeners := q.opts.Listeners
	q.mu.Unlock()

	notify(listeners, snapshot)
	return snapshot, true
}

func (q *Queue) count(s Status, delta int) {
	switch s {
	case StatusPending:
		q.stats.Pending += delta
	case StatusRunning:
		q.stats.Running += delta
	case StatusDone:
		if delta > 0 {
			q.stats.Done++
		}
	case StatusFailed:
		if delta > 0 {
			q.stats.Failed++
		}
	}
}

// prune drops the oldest finished tasks beyond the history limit.
func (q *Queue) prune() {
	for len(q.finished) > q.opts.History {
		delete(q.tasks, q.finished[0])
		q.finished = q.finished[1:]
	}
}

func notify(listeners []Listener, t Task) {
	for _, l := range listeners {
		l.TaskChanged(t)
	}
}
