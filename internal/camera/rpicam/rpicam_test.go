package rpicam

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/mikeyg42/birdwatcher/internal/video"
)

func TestPreviewArgs(t *testing.T) {
	c := New(Config{Autofocus: "continuous"}, zaptest.NewLogger(t))
	want := []string{
		"-n", "-t", "0",
		"--codec", "yuv420",
		"--width", "640", "--height", "480",
		"--framerate", "25",
		"--autofocus-mode", "continuous",
		"-o", "-",
	}
	if got := c.previewArgs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("previewArgs() = %v\nwant %v", got, want)
	}
}

func TestRecordArgs(t *testing.T) {
	c := New(Config{}, zaptest.NewLogger(t))
	got := c.recordArgs("/videos/20240517_063000.h264", video.Res1080p, video.BitrateHigh)
	want := []string{
		"-n", "-t", "0",
		"--codec", "h264", "--inline",
		"--width", "1920", "--height", "1080",
		"--framerate", "25",
		"--bitrate", "12000000",
		"-o", "/videos/20240517_063000.h264",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("recordArgs() = %v\nwant %v", got, want)
	}
}

func TestDecodeI420(t *testing.T) {
	const w, h = 4, 2
	buf := make([]byte, i420Size(w, h))
	if len(buf) != 12 {
		t.Fatalf("i420Size = %d, want 12", len(buf))
	}
	for i := 0; i < w*h; i++ {
		buf[i] = byte(i)
	}
	buf[8], buf[9] = 100, 101
	buf[10], buf[11] = 200, 201

	img := decodeI420(buf, w, h)
	if img.Y[img.YOffset(3, 1)] != 7 {
		t.Fatalf("Y(3,1) = %d, want 7", img.Y[img.YOffset(3, 1)])
	}
	if img.Cb[img.COffset(2, 0)] != 101 || img.Cr[img.COffset(0, 1)] != 200 {
		t.Fatal("chroma planes misplaced")
	}
}

// fakeBinary writes a script that prints one zero-filled preview frame
// and then idles until interrupted, like rpicam-vid with -t 0.
func fakeBinary(t *testing.T, frameBytes int) string {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "rpicam-vid")
	script := fmt.Sprintf("#!/bin/sh\nhead -c %d /dev/zero\nexec sleep 30\n", frameBytes)
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("Failed to write fake binary: %v", err)
	}
	return path
}

func TestPreviewFrameAndStop(t *testing.T) {
	bin := fakeBinary(t, i420Size(64, 48))
	c := New(Config{
		Binary:        bin,
		PreviewWidth:  64,
		PreviewHeight: 48,
		StopTimeout:   2 * time.Second,
	}, zaptest.NewLogger(t))

	if err := c.Configure(video.Res720p); err != nil {
		t.Fatalf("Failed to configure: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	if err := c.Configure(video.Res1080p); err == nil {
		t.Fatal("expected configure to fail while streaming")
	}

	img, err := c.Frame()
	if err != nil {
		t.Fatalf("Failed to get frame: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 48 {
		t.Fatalf("frame bounds = %v", b)
	}

	start := time.Now()
	if err := c.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("Close waited for the kill timeout")
	}
}

func TestRecordingReplacesPreview(t *testing.T) {
	bin := fakeBinary(t, i420Size(64, 48))
	c := New(Config{Binary: bin, PreviewWidth: 64, PreviewHeight: 48}, zaptest.NewLogger(t))

	if err := c.Start(); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	out := filepath.Join(t.TempDir(), "clip.h264")
	if err := c.StartRecording(out, video.Res720p, video.BitrateMedium); err != nil {
		t.Fatalf("Failed to start recording: %v", err)
	}
	if c.preview != nil {
		t.Fatal("preview still running during recording")
	}
	if err := c.StartRecording(out, video.Res720p, video.BitrateMedium); err == nil {
		t.Fatal("expected second recording to fail")
	}
	if err := c.StopRecording(); err != nil {
		t.Fatalf("Failed to stop recording: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}
}
