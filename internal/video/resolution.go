// Package video holds the artifacts shared by the capture loop and the
// transcode pipeline: resolutions, bitrate tiers, file naming and the
// recording job handed between them.
package video

import (
	"fmt"
	"strconv"
	"strings"
)

// Resolution is a frame size in pixels.
type Resolution struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Common resolutions
var (
	Res480p  = Resolution{Width: 640, Height: 480}
	Res720p  = Resolution{Width: 1280, Height: 720}
	Res1080p = Resolution{Width: 1920, Height: 1080}
)

// Valid reports whether both dimensions are positive.
func (r Resolution) Valid() bool {
	return r.Width > 0 && r.Height > 0
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// ParseResolution parses "WIDTHxHEIGHT" (e.g. "1920x1080").
func ParseResolution(s string) (Resolution, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "x")
	if len(parts) != 2 {
		return Resolution{}, fmt.Errorf("invalid resolution %q: want WIDTHxHEIGHT", s)
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil {
		return Resolution{}, fmt.Errorf("invalid resolution width %q: %w", parts[0], err)
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil {
		return Resolution{}, fmt.Errorf("invalid resolution height %q: %w", parts[1], err)
	}
	r := Resolution{Width: w, Height: h}
	if !r.Valid() {
		return Resolution{}, fmt.Errorf("invalid resolution %q: dimensions must be positive", s)
	}
	return r, nil
}
