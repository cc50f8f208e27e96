// Package camera owns the single camera on the device. A Session wraps a
// Device driver and enforces the lifecycle rules: the output size only
// changes while stopped, frames and recordings need a running session,
// and only one recording exists at a time.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/mikeyg42/birdwatcher/internal/logging"
	"github.com/mikeyg42/birdwatcher/internal/video"
)

var (
	ErrRunning    = errors.New("camera: session is running")
	ErrNotRunning = errors.New("camera: session is not running")
	ErrRecording  = errors.New("camera: recording in progress")
	ErrClosed     = errors.New("camera: session closed")
)

// Device is a camera driver. The Session serialises every call.
type Device interface {
	// Configure sets the recording resolution. Only called while stopped.
	Configure(res video.Resolution) error
	// Start brings up the low resolution preview stream.
	Start() error
	Stop() error
	// Frame returns the latest preview frame.
	Frame() (image.Image, error)
	StartRecording(path string, res video.Resolution, bitrate int) error
	StopRecording() error
	Close() error
}

// State is the hardware state owned by the Session.
type State struct {
	ActiveResolution video.Resolution
	Running          bool
	Recording        bool
}

// Options tunes start retries.
type Options struct {
	StartRetries  uint64
	RetryInterval time.Duration
}

// Session is the only handle to the camera in the process.
type Session struct {
	dev    Device
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	state  State
	closed bool
}

// NewSession wraps dev. Nothing is sent to the device until Open.
func NewSession(dev Device, opts Options, logger *zap.Logger) *Session {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 500 * time.Millisecond
	}
	return &Session{
		dev:    dev,
		opts:   opts,
		logger: logging.Named(logger, "camera"),
	}
}

// Open configures res and starts the preview.
func (s *Session) Open(ctx context.Context, res video.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.state.Running {
		return ErrRunning
	}
	if err := s.configure(res); err != nil {
		return err
	}
	return s.start(ctx)
}

// Start restarts the preview with the current configuration.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.state.Running {
		return ErrRunning
	}
	return s.start(ctx)
}

// Stop halts the preview. Stopping a stopped session is a no-op; an
// active recording is stopped first.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.stop()
}

// Reconfigure applies res and starts the session. The session must be
// stopped. When res is already active the device is only restarted.
func (s *Session) Reconfigure(ctx context.Context, res video.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.state.Running {
		return ErrRunning
	}
	if res != s.state.ActiveResolution {
		prev := s.state.ActiveResolution
		if err := s.configure(res); err != nil {
			return err
		}
		s.logger.Info("camera reconfigured",
			zap.Stringer("from", prev),
			zap.Stringer("to", res))
	}
	return s.start(ctx)
}

// Frame grabs one preview frame for classification.
func (s *Session) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return nil, ErrClosed
	case !s.state.Running:
		return nil, ErrNotRunning
	case s.state.Recording:
		return nil, ErrRecording
	}
	img, err := s.dev.Frame()
	if err != nil {
		return nil, fmt.Errorf("failed to capture frame: %w", err)
	}
	return img, nil
}

// StartRecording writes the raw stream at the active resolution to path.
func (s *Session) StartRecording(path string, bitrate int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return ErrClosed
	case !s.state.Running:
		return ErrNotRunning
	case s.state.Recording:
		return ErrRecording
	}
	if err := s.dev.StartRecording(path, s.state.ActiveResolution, bitrate); err != nil {
		return fmt.Errorf("failed to start recording: %w", err)
	}
	s.state.Recording = true
	s.logger.Info("recording started",
		zap.String("path", path),
		zap.Stringer("resolution", s.state.ActiveResolution),
		zap.Int("bitrate", bitrate))
	return nil
}

// StopRecording finalises the current recording.
func (s *Session) StopRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.stopRecording()
}

// State returns a snapshot of the hardware state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close stops everything and releases the device. Safe to call twice.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	stopErr := s.stop()
	s.closed = true
	closeErr := s.dev.Close()
	s.logger.Info("camera released")
	return errors.Join(stopErr, closeErr)
}

func (s *Session) configure(res video.Resolution) error {
	if !res.Valid() {
		return fmt.Errorf("camera: invalid resolution %v", res)
	}
	if err := s.dev.Configure(res); err != nil {
		return fmt.Errorf("failed to configure camera for %v: %w", res, err)
	}
	s.state.ActiveResolution = res
	return nil
}

func (s *Session) start(ctx context.Context) error {
	newBackoff := func() backoff.BackOff {
		ebo := backoff.NewExponentialBackOff()
		ebo.InitialInterval = s.opts.RetryInterval
		ebo.Reset()
		return backoff.WithMaxRetries(ebo, s.opts.StartRetries)
	}

	attempt := 0
	op := func() error {
		attempt++
		err := s.dev.Start()
		if err != nil {
			s.logger.Warn("camera start failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(newBackoff(), ctx)); err != nil {
		return fmt.Errorf("failed to start camera after %d attempts: %w", attempt, err)
	}

	s.state.Running = true
	s.logger.Debug("camera started", zap.Stringer("resolution", s.state.ActiveResolution))
	return nil
}

func (s *Session) stop() error {
	var recErr error
	if s.state.Recording {
		recErr = s.stopRecording()
	}
	if !s.state.Running {
		return recErr
	}
	if err := s.dev.Stop(); err != nil {
		return errors.Join(recErr, fmt.Errorf("failed to stop camera: %w", err))
	}
	s.state.Running = false
	s.logger.Debug("camera stopped")
	return recErr
}

func (s *Session) stopRecording() error {
	if !s.state.Recording {
		return nil
	}
	// the recording is over either way; a failed stop leaves a truncated file
	s.state.Recording = false
	if err := s.dev.StopRecording(); err != nil {
		return fmt.Errorf("failed to stop recording: %w", err)
	}
	s.logger.Info("recording stopped")
	return nil
}
