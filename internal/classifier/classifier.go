// Package classifier decides whether a frame shows a subject worth
// recording. The scoring over raw detector output lives here; the ONNX
// backend is in the yolo subpackage.
package classifier

import (
	"fmt"
	"image"
	"sort"
	"strings"
)

// Threshold is the confidence a target class must strictly exceed.
const Threshold float32 = 0.40

// Detection is the first qualifying target found in a frame.
type Detection struct {
	Confidence float32
	ClassID    int
}

// Classifier scores a single frame. ok is true only when a target class
// scored above the threshold.
type Classifier interface {
	Classify(frame image.Image) (det Detection, ok bool, err error)
}

// ClassSet maps class IDs to their names.
type ClassSet map[int]string

// DefaultTargets are the classes that trigger a recording.
var DefaultTargets = ClassSet{0: "person", 14: "bird"}

// Has reports whether id is in the set.
func (s ClassSet) Has(id int) bool {
	_, ok := s[id]
	return ok
}

// Name returns the class name, or "class<N>" when unknown.
func (s ClassSet) Name(id int) string {
	if n, ok := s[id]; ok {
		return n
	}
	if id >= 0 && id < len(COCONames) {
		return COCONames[id]
	}
	return fmt.Sprintf("class%d", id)
}

func (s ClassSet) String() string {
	names := make([]string, 0, len(s))
	for _, n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// TargetsByName builds a ClassSet from COCO class names.
func TargetsByName(names []string) (ClassSet, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("no target classes given")
	}
	set := make(ClassSet, len(names))
	for _, name := range names {
		id := cocoIndex(name)
		if id < 0 {
			return nil, fmt.Errorf("unknown class %q", name)
		}
		set[id] = COCONames[id]
	}
	return set, nil
}

func cocoIndex(name string) int {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range COCONames {
		if n == name {
			return i
		}
	}
	return -1
}

// COCONames is the 80-class label order of COCO-trained YOLO models.
var COCONames = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "book", "clock", "vase", "scissors", "teddy bear", "hair drier",
	"toothbrush",
}
