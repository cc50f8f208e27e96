package video

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// File extensions for the two artifacts of one recording
const (
	RawExt   = ".h264"
	FinalExt = ".mp4"

	// StemLayout is the YYYYMMDD_HHMMSS stem the web app groups files by.
	StemLayout = "20060102_150405"
)

// Namer allocates unique stems in a single video directory. Two
// recordings that start in the same second get consecutive stems.
type Namer struct {
	dir string
	now func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewNamer returns a Namer for dir using the wall clock.
func NewNamer(dir string) *Namer {
	return &Namer{dir: dir, now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (n *Namer) WithClock(now func() time.Time) *Namer {
	n.now = now
	return n
}

// Next returns the next free stem and the time it encodes. A stem is
// free when it sorts after the previous one and neither artifact exists
// on disk.
func (n *Namer) Next() (string, time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()

	t := n.now().Truncate(time.Second)
	if !n.last.IsZero() && !t.After(n.last) {
		t = n.last.Add(time.Second)
	}
	for n.taken(t.Format(StemLayout)) {
		t = t.Add(time.Second)
	}
	n.last = t
	return t.Format(StemLayout), t
}

func (n *Namer) taken(stem string) bool {
	for _, ext := range []string{RawExt, FinalExt} {
		if _, err := os.Stat(filepath.Join(n.dir, stem+ext)); err == nil {
			return true
		}
	}
	return false
}

// RawPath returns the raw stream path for stem.
func (n *Namer) RawPath(stem string) string {
	return filepath.Join(n.dir, stem+RawExt)
}

// FinalPath maps a raw artifact path to its remuxed sibling.
func FinalPath(rawPath string) string {
	return strings.TrimSuffix(rawPath, filepath.Ext(rawPath)) + FinalExt
}

// Stem returns the file name of path without directory or extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ParseStem recovers the start time encoded in a stem, in local time.
func ParseStem(stem string) (time.Time, error) {
	return time.ParseInLocation(StemLayout, stem, time.Local)
}
