package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mikeyg42/birdwatcher/internal/logging"
	"github.com/mikeyg42/birdwatcher/internal/video"
)

// FFmpeg remuxes with stream copy, so no re-encoding happens.
type FFmpeg struct {
	Binary      string
	FrameRate   int
	LowPriority bool // nice 19 and idle I/O class for the child
	logger      *zap.Logger
}

// NewFFmpeg returns a remuxer running binary (default "ffmpeg").
// frameRate must match the rate the raw stream was captured at, since
// the elementary stream carries no timestamps.
func NewFFmpeg(binary string, frameRate int, lowPriority bool, logger *zap.Logger) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	if frameRate <= 0 {
		frameRate = video.FrameRate
	}
	return &FFmpeg{
		Binary:      binary,
		FrameRate:   frameRate,
		LowPriority: lowPriority,
		logger:      logging.Named(logger, "ffmpeg"),
	}
}

func (f *FFmpeg) Remux(ctx context.Context, in, out string) error {
	args := f.args(in, out)
	cmd := exec.CommandContext(ctx, f.Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	f.logger.Debug("executing ffmpeg", zap.Strings("args", args))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	if f.LowPriority {
		if err := lowerPriority(cmd.Process.Pid); err != nil {
			f.logger.Warn("failed to lower ffmpeg priority", zap.Int("pid", cmd.Process.Pid), zap.Error(err))
		}
	}
	if err := cmd.Wait(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return fmt.Errorf("ffmpeg failed: %w", err)
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, msg)
	}
	return nil
}

// args builds the copy-remux command line. The raw stream carries no
// timing, so the capture frame rate is given for the input.
func (f *FFmpeg) args(in, out string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-framerate", strconv.Itoa(f.FrameRate),
		"-i", in,
		"-c", "copy",
		"-movflags", "+faststart",
		"-f", "mp4",
		out,
	}
}
