// Package controller runs the capture loop: wait for motion, check the
// scene, record, hand the clip to the transcode queue and restart the
// camera with the current settings.
package controller

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/birdwatcher/internal/camera"
	"github.com/mikeyg42/birdwatcher/internal/classifier"
	"github.com/mikeyg42/birdwatcher/internal/logging"
	"github.com/mikeyg42/birdwatcher/internal/motion"
	"github.com/mikeyg42/birdwatcher/internal/settings"
	"github.com/mikeyg42/birdwatcher/internal/transcode"
	"github.com/mikeyg42/birdwatcher/internal/video"
)

// Camera is the part of camera.Session the loop drives.
type Camera interface {
	Frame() (image.Image, error)
	StartRecording(path string, bitrate int) error
	StopRecording() error
	Start(ctx context.Context) error
	Stop() error
	Reconfigure(ctx context.Context, res video.Resolution) error
	State() camera.State
}

var _ Camera = (*camera.Session)(nil)

// SettingsLoader returns the shared tunables. It never fails.
type SettingsLoader interface {
	Load() settings.Configuration
}

// Namer allocates artifact names.
type Namer interface {
	Next() (string, time.Time)
	RawPath(stem string) string
}

// Submitter accepts finished recordings without blocking.
type Submitter interface {
	Submit(job video.RecordingJob) (transcode.Task, error)
}

// Deps are the collaborators of the loop. All but Logger and
// OnTransition are required.
type Deps struct {
	Sensor     motion.Sensor
	Classifier classifier.Classifier
	Camera     Camera
	Settings   SettingsLoader
	Namer      Namer
	Queue      Submitter
	Timings    Timings
	Logger     *zap.Logger

	// FrameFailureLimit is how many frame captures in a row may fail
	// before the camera is restarted. Zero means DefaultFrameFailureLimit.
	FrameFailureLimit int

	// OnTransition is called on the loop goroutine after every state change.
	OnTransition func(from, to State)
}

// DefaultFrameFailureLimit is the FrameFailureLimit used when Deps leaves it unset.
const DefaultFrameFailureLimit = 3

// Stats counts loop outcomes.
type Stats struct {
	Triggers         int64
	Negatives        int64
	ClassifierErrors int64
	FrameErrors      int64
	CameraRestarts   int64
	Recordings       int64
	SubmitFailures   int64
}

// Controller is the capture state machine. Run it on one goroutine.
type Controller struct {
	deps    Deps
	timings Timings
	logger  *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	frameLimit    int
	frameFailures int // consecutive, touched only by the loop goroutine

	mu    sync.Mutex
	state State
	stats Stats
}

// New checks the dependencies and returns a Controller in IDLE.
func New(deps Deps) (*Controller, error) {
	switch {
	case deps.Sensor == nil:
		return nil, errors.New("controller: sensor is required")
	case deps.Classifier == nil:
		return nil, errors.New("controller: classifier is required")
	case deps.Camera == nil:
		return nil, errors.New("controller: camera is required")
	case deps.Settings == nil:
		return nil, errors.New("controller: settings are required")
	case deps.Namer == nil:
		return nil, errors.New("controller: namer is required")
	case deps.Queue == nil:
		return nil, errors.New("controller: transcode queue is required")
	}
	limit := deps.FrameFailureLimit
	if limit <= 0 {
		limit = DefaultFrameFailureLimit
	}
	return &Controller{
		deps:       deps,
		timings:    deps.Timings.withDefaults(),
		logger:     logging.Named(deps.Logger, "controller"),
		sleep:      sleep,
		now:        time.Now,
		frameLimit: limit,
		state:      StateIdle,
	}, nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns the counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Run loops until ctx is cancelled, which returns nil, or until the
// camera cannot be restarted, which returns a *FatalError. Releasing the
// camera and the sensor is up to the caller.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("capture loop started", zap.Any("timings", c.timings))
	defer c.logger.Info("capture loop stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		var (
			next State
			err  error
		)
		switch cur := c.State(); cur {
		case StateIdle:
			next = c.idle(ctx)
		case StateChecking:
			next = c.check(ctx)
		case StateRecording:
			next = c.record(ctx)
		case StateReconfiguring:
			next, err = c.reconfigure(ctx)
		case StateCooldown:
			next = c.cooldown(ctx)
		default:
			return &FatalError{Op: "run", Err: errors.New("unknown state " + cur.String())}
		}
		if err != nil {
			return err
		}
		c.transition(next)
	}
}

func (c *Controller) transition(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()

	if from == to {
		return
	}
	c.logger.Debug("state transition", zap.Stringer("from", from), zap.Stringer("to", to))
	if c.deps.OnTransition != nil {
		c.deps.OnTransition(from, to)
	}
}

func (c *Controller) count(fn func(s *Stats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}

func (c *Controller) idle(ctx context.Context) State {
	for {
		if c.deps.Sensor.Poll() {
			c.count(func(s *Stats) { s.Triggers++ })
			c.logger.Info("motion detected")
			return StateChecking
		}
		if err := c.sleep(ctx, c.timings.Tick); err != nil {
			return StateIdle
		}
	}
}

func (c *Controller) check(ctx context.Context) State {
	frame, err := c.deps.Camera.Frame()
	if err != nil {
		return c.frameFailed(ctx, err)
	}
	c.frameFailures = 0

	det, ok, err := c.deps.Classifier.Classify(frame)
	if err != nil {
		c.count(func(s *Stats) { s.ClassifierErrors++ })
		c.logger.Warn("scene check failed", zap.Error(err))
		c.sleep(ctx, c.timings.ClassifierBackoff)
		return StateIdle
	}
	if !ok {
		c.count(func(s *Stats) { s.Negatives++ })
		c.logger.Debug("no target in scene")
		c.sleep(ctx, c.timings.NegativeDelay)
		return StateIdle
	}
	c.logger.Info("target detected",
		zap.Int("class_id", det.ClassID),
		zap.Float32("confidence", det.Confidence))
	return StateRecording
}

// frameFailed backs off after a failed capture. A camera that keeps
// failing has usually lost its stream, so after frameLimit failures in a
// row it is restarted through RECONFIGURING, where a failed restart is
// fatal.
func (c *Controller) frameFailed(ctx context.Context, err error) State {
	c.frameFailures++
	c.count(func(s *Stats) { s.FrameErrors++ })
	if c.frameFailures >= c.frameLimit {
		c.frameFailures = 0
		c.count(func(s *Stats) { s.CameraRestarts++ })
		c.logger.Warn("camera stopped delivering frames, restarting",
			zap.Int("failures", c.frameLimit), zap.Error(err))
		return StateReconfiguring
	}
	c.logger.Warn("frame capture failed",
		zap.Int("failures", c.frameFailures), zap.Error(err))
	c.sleep(ctx, c.timings.ClassifierBackoff)
	return StateIdle
}

func (c *Controller) record(ctx context.Context) State {
	cfg := c.deps.Settings.Load()
	res := c.deps.Camera.State().ActiveResolution
	stem, startedAt := c.deps.Namer.Next()
	raw := c.deps.Namer.RawPath(stem)

	if err := c.deps.Camera.StartRecording(raw, video.TierFor(res).Bitrate()); err != nil {
		c.logger.Error("failed to start recording", zap.String("path", raw), zap.Error(err))
		return StateReconfiguring
	}

	began := c.now()
	interrupted := c.sleep(ctx, cfg.ClipDuration) != nil
	if err := c.deps.Camera.StopRecording(); err != nil {
		c.logger.Error("failed to stop recording", zap.String("path", raw), zap.Error(err))
	}

	d := cfg.ClipDuration
	if interrupted {
		d = c.now().Sub(began)
	}
	job := video.NewRecordingJob(startedAt, raw, d, res)
	c.count(func(s *Stats) { s.Recordings++ })
	c.logger.Info("recording finished",
		zap.String("stem", stem),
		zap.Duration("duration", d),
		zap.Stringer("resolution", res),
		zap.Bool("interrupted", interrupted))

	if _, err := c.deps.Queue.Submit(job); err != nil {
		c.count(func(s *Stats) { s.SubmitFailures++ })
		c.logger.Warn("transcode not queued, raw file left for recovery",
			zap.String("path", raw), zap.Error(err))
	}

	if interrupted {
		return StateIdle
	}
	return StateReconfiguring
}

func (c *Controller) reconfigure(ctx context.Context) (State, error) {
	if err := c.deps.Camera.Stop(); err != nil {
		c.logger.Warn("failed to stop camera", zap.Error(err))
	}
	if err := c.sleep(ctx, c.timings.Settle); err != nil {
		return StateIdle, nil
	}

	want := c.deps.Settings.Load().Resolution
	have := c.deps.Camera.State().ActiveResolution

	var err error
	if want != have {
		c.logger.Info("applying new resolution", zap.Stringer("from", have), zap.Stringer("to", want))
		err = c.deps.Camera.Reconfigure(ctx, want)
	} else {
		err = c.deps.Camera.Start(ctx)
	}
	if err != nil {
		if ctx.Err() != nil {
			return StateIdle, nil
		}
		return StateIdle, &FatalError{Op: "restart camera", Err: err}
	}
	return StateCooldown, nil
}

func (c *Controller) cooldown(ctx context.Context) State {
	c.sleep(ctx, c.timings.Cooldown)
	return StateIdle
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
