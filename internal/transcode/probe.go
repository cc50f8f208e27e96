package transcode

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/xfrr/goffmpeg/transcoder"
)

// MediaInfo is the part of a probe result used to accept an output.
type MediaInfo struct {
	Duration    time.Duration
	VideoStream bool
	Width       int
	Height      int
}

// Prober inspects a media file.
type Prober interface {
	Probe(path string) (MediaInfo, error)
}

// FFprobe reads container metadata through goffmpeg, which runs the
// ffprobe found on PATH.
type FFprobe struct{}

func (FFprobe) Probe(path string) (MediaInfo, error) {
	trans := new(transcoder.Transcoder)
	if err := trans.Initialize(path, ""); err != nil {
		return MediaInfo{}, fmt.Errorf("failed to probe %s: %w", path, err)
	}
	meta := trans.MediaFile().Metadata()

	info := MediaInfo{}
	d, err := parseDuration(meta.Format.Duration)
	if err != nil {
		return MediaInfo{}, err
	}
	info.Duration = d

	for _, s := range meta.Streams {
		if s.CodecType == "video" {
			info.VideoStream = true
			info.Width = s.Width
			info.Height = s.Height
			break
		}
	}
	return info, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration in media metadata")
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", s, err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// Validate accepts an output that exists, is not empty, has a video
// stream and a positive duration. It returns that duration.
func Validate(path string, p Prober) (time.Duration, error) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("output file not found: %w", err)
	}
	if st.Size() == 0 {
		return 0, fmt.Errorf("output file is empty")
	}

	info, err := p.Probe(path)
	if err != nil {
		return 0, err
	}
	if !info.VideoStream {
		return 0, fmt.Errorf("output has no video stream")
	}
	if info.Duration <= 0 {
		return 0, fmt.Errorf("output has no duration")
	}
	return info.Duration, nil
}
