package transcode

import (
	"time"

	"github.com/mikeyg42/birdwatcher/internal/video"
)

// Status is the lifecycle position of a Task.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Task is one raw recording on its way to an MP4. Values handed out by
// the Queue are snapshots.
type Task struct {
	ID         string
	Job        video.RecordingJob
	InputPath  string
	OutputPath string
	Status     Status
	Err        error

	EnqueuedAt time.Time
	StartedAt  time.Time
	FinishedAt time.Time

	// OutputDuration is what the probe reported for the finished file.
	OutputDuration time.Duration
}

// Listener is told about every status change, in order, from the worker
// that made it. Implementations must not block for long.
type Listener interface {
	TaskChanged(t Task)
}

// Stats counts tasks by outcome since the queue was created.
type Stats struct {
	Submitted int64
	Rejected  int64
	Pending   int
	Running   int
	Done      int64
	Failed    int64
}
