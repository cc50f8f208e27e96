// Package rpicam drives a Raspberry Pi camera through the rpicam-vid
// command line tool. The preview streams raw I420 frames over stdout;
// recordings write an H.264 elementary stream straight to disk.
package rpicam

import (
	"errors"
	"fmt"
	"image"
	"io"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/birdwatcher/internal/camera"
	"github.com/mikeyg42/birdwatcher/internal/logging"
	"github.com/mikeyg42/birdwatcher/internal/video"
)

var errNoFrame = errors.New("rpicam: no preview frame available")

// Config describes the camera pipeline.
type Config struct {
	Binary        string
	PreviewWidth  int
	PreviewHeight int
	FrameRate     int
	Autofocus     string // rpicam --autofocus-mode value, empty to leave default
	StopTimeout   time.Duration
	FrameTimeout  time.Duration
}

// Camera implements camera.Device.
type Camera struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	res      video.Resolution
	preview  *process
	recorder *process

	frameMu  sync.Mutex
	latest   *image.YCbCr
	frameErr error
	ready    chan struct{}
}

var _ camera.Device = (*Camera)(nil)

// New returns a stopped camera.
func New(cfg Config, logger *zap.Logger) *Camera {
	if cfg.Binary == "" {
		cfg.Binary = "rpicam-vid"
	}
	if cfg.PreviewWidth <= 0 || cfg.PreviewHeight <= 0 {
		cfg.PreviewWidth, cfg.PreviewHeight = 640, 480
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = video.FrameRate
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = 3 * time.Second
	}
	return &Camera{cfg: cfg, logger: logging.Named(logger, "rpicam")}
}

func (c *Camera) Configure(res video.Resolution) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.preview != nil || c.recorder != nil {
		return errors.New("rpicam: cannot configure while streaming")
	}
	c.res = res
	return nil
}

func (c *Camera) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.preview != nil && !c.preview.exited() {
		return nil
	}

	p, err := startProcess(c.cfg.Binary, c.previewArgs(), true, c.logger)
	if err != nil {
		return err
	}
	c.preview = p

	c.frameMu.Lock()
	c.latest = nil
	c.frameErr = nil
	c.ready = make(chan struct{})
	ready := c.ready
	c.frameMu.Unlock()

	go c.readFrames(p.stdout, ready)
	return nil
}

// readFrames keeps the most recent preview frame.
func (c *Camera) readFrames(r io.Reader, ready chan struct{}) {
	w, h := c.cfg.PreviewWidth, c.cfg.PreviewHeight
	buf := make([]byte, i420Size(w, h))
	first := true
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			c.frameMu.Lock()
			c.frameErr = fmt.Errorf("preview stream ended: %w", err)
			c.frameMu.Unlock()
			if first {
				close(ready)
			}
			return
		}
		img := decodeI420(buf, w, h)
		c.frameMu.Lock()
		c.latest = img
		c.frameMu.Unlock()
		if first {
			close(ready)
			first = false
		}
	}
}

func (c *Camera) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopPreview()
}

func (c *Camera) stopPreview() error {
	if c.preview == nil {
		return nil
	}
	err := c.preview.stop(c.cfg.StopTimeout, c.logger)
	c.preview = nil
	return err
}

// Frame waits for the first preview frame after a start, then returns
// the newest one.
func (c *Camera) Frame() (image.Image, error) {
	c.frameMu.Lock()
	ready := c.ready
	c.frameMu.Unlock()
	if ready == nil {
		return nil, errNoFrame
	}

	select {
	case <-ready:
	case <-time.After(c.cfg.FrameTimeout):
		return nil, fmt.Errorf("rpicam: no frame within %v", c.cfg.FrameTimeout)
	}

	c.frameMu.Lock()
	defer c.frameMu.Unlock()
	if c.latest == nil {
		if c.frameErr != nil {
			return nil, c.frameErr
		}
		return nil, errNoFrame
	}
	if c.frameErr != nil {
		return nil, c.frameErr
	}
	return c.latest, nil
}

// StartRecording hands the sensor to a recording process. The preview
// is stopped because the camera only serves one rpicam-vid at a time.
func (c *Camera) StartRecording(path string, res video.Resolution, bitrate int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recorder != nil && !c.recorder.exited() {
		return errors.New("rpicam: already recording")
	}
	if err := c.stopPreview(); err != nil {
		return err
	}

	p, err := startProcess(c.cfg.Binary, c.recordArgs(path, res, bitrate), false, c.logger)
	if err != nil {
		return err
	}
	c.recorder = p
	return nil
}

func (c *Camera) StopRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recorder == nil {
		return nil
	}
	p := c.recorder
	c.recorder = nil
	if p.exited() && p.err != nil {
		return fmt.Errorf("recording process failed: %w", p.err)
	}
	return p.stop(c.cfg.StopTimeout, c.logger)
}

func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	if c.recorder != nil {
		errs = append(errs, c.recorder.stop(c.cfg.StopTimeout, c.logger))
		c.recorder = nil
	}
	errs = append(errs, c.stopPreview())
	return errors.Join(errs...)
}

func (c *Camera) previewArgs() []string {
	args := []string{
		"-n", "-t", "0",
		"--codec", "yuv420",
		"--width", strconv.Itoa(c.cfg.PreviewWidth),
		"--height", strconv.Itoa(c.cfg.PreviewHeight),
		"--framerate", strconv.Itoa(c.cfg.FrameRate),
	}
	if c.cfg.Autofocus != "" {
		args = append(args, "--autofocus-mode", c.cfg.Autofocus)
	}
	return append(args, "-o", "-")
}

func (c *Camera) recordArgs(path string, res video.Resolution, bitrate int) []string {
	args := []string{
		"-n", "-t", "0",
		"--codec", "h264", "--inline",
		"--width", strconv.Itoa(res.Width),
		"--height", strconv.Itoa(res.Height),
		"--framerate", strconv.Itoa(c.cfg.FrameRate),
		"--bitrate", strconv.Itoa(bitrate),
	}
	if c.cfg.Autofocus != "" {
		args = append(args, "--autofocus-mode", c.cfg.Autofocus)
	}
	return append(args, "-o", path)
}

func i420Size(w, h int) int {
	cw, ch := (w+1)/2, (h+1)/2
	return w*h + 2*cw*ch
}

// decodeI420 copies one planar Y, U, V frame into a new image.
func decodeI420(buf []byte, w, h int) *image.YCbCr {
	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio420)
	ySize := w * h
	cw, ch := (w+1)/2, (h+1)/2
	cSize := cw * ch

	for y := 0; y < h; y++ {
		copy(img.Y[y*img.YStride:y*img.YStride+w], buf[y*w:(y+1)*w])
	}
	for y := 0; y < ch; y++ {
		copy(img.Cb[y*img.CStride:y*img.CStride+cw], buf[ySize+y*cw:ySize+(y+1)*cw])
		copy(img.Cr[y*img.CStride:y*img.CStride+cw], buf[ySize+cSize+y*cw:ySize+cSize+(y+1)*cw])
	}
	return img
}
