package video

import (
	"time"

	"github.com/google/uuid"
)

// FrameRate is the default capture rate of the camera pipeline.
const FrameRate = 25

// RecordingJob describes one finished raw recording. It is built once by
// the capture loop and never modified afterwards.
type RecordingJob struct {
	ID         string
	StartedAt  time.Time
	RawPath    string
	Duration   time.Duration
	Resolution Resolution
	Bitrate    int
}

// NewRecordingJob stamps a new job with a fresh ID.
func NewRecordingJob(startedAt time.Time, rawPath string, d time.Duration, res Resolution) RecordingJob {
	return RecordingJob{
		ID:         uuid.NewString(),
		StartedAt:  startedAt,
		RawPath:    rawPath,
		Duration:   d,
		Resolution: res,
		Bitrate:    TierFor(res).Bitrate(),
	}
}

// Stem returns the shared file stem of the job's artifacts.
func (j RecordingJob) Stem() string {
	return Stem(j.RawPath)
}

// FinalPath returns where the remuxed file for this job goes.
func (j RecordingJob) FinalPath() string {
	return FinalPath(j.RawPath)
}
