// Package yolo runs a YOLOv8 ONNX model through OpenCV's DNN module.
package yolo

import (
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/mikeyg42/birdwatcher/internal/classifier"
	"github.com/mikeyg42/birdwatcher/internal/imgconv"
	"github.com/mikeyg42/birdwatcher/internal/logging"
)

// boxChannels is cx, cy, w, h ahead of the class scores.
const boxChannels = 4

// Config selects the model and the decision rule.
type Config struct {
	ModelPath string
	InputSize int // square network input, 640 for the stock export
	Threshold float32
	Targets   classifier.ClassSet
}

// Detector is a classifier.Classifier backed by gocv.Net. The Net is
// not safe for concurrent use, so calls are serialised.
type Detector struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	net     gocv.Net
	closed  bool
	runs    int64
	lastRun time.Duration
}

var _ classifier.Classifier = (*Detector)(nil)

// New loads the model. A missing or unreadable model is an error.
func New(cfg Config, logger *zap.Logger) (*Detector, error) {
	if cfg.InputSize <= 0 {
		cfg.InputSize = 640
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = classifier.Threshold
	}
	if len(cfg.Targets) == 0 {
		cfg.Targets = classifier.DefaultTargets
	}

	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model unavailable: %w", err)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load model %s", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	d := &Detector{
		cfg:    cfg,
		net:    net,
		logger: logging.Named(logger, "yolo"),
	}
	d.logger.Info("model loaded",
		zap.String("model", cfg.ModelPath),
		zap.Int("input_size", cfg.InputSize),
		zap.Float32("threshold", cfg.Threshold),
		zap.Stringer("targets", cfg.Targets))
	return d, nil
}

// Classify runs one forward pass over frame.
func (d *Detector) Classify(frame image.Image) (classifier.Detection, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return classifier.Detection{}, false, fmt.Errorf("detector closed")
	}

	start := time.Now()
	src, err := imgconv.ToMat(frame)
	if err != nil {
		return classifier.Detection{}, false, fmt.Errorf("failed to convert frame: %w", err)
	}
	defer src.Close()

	boxed := imgconv.Letterbox(src, d.cfg.InputSize)
	defer boxed.Close()

	size := image.Pt(d.cfg.InputSize, d.cfg.InputSize)
	blob := gocv.BlobFromImage(boxed, 1.0/255.0, size, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	channels, anchors, err := outputShape(out.Size())
	if err != nil {
		return classifier.Detection{}, false, err
	}
	data, err := out.DataPtrFloat32()
	if err != nil {
		return classifier.Detection{}, false, fmt.Errorf("failed to read model output: %w", err)
	}

	det, ok := classifier.Scan(data, channels, anchors, boxChannels, d.cfg.Threshold, d.cfg.Targets)

	d.runs++
	d.lastRun = time.Since(start)
	d.logger.Debug("frame classified", resultFields(det, ok, d.cfg.Targets, d.lastRun)...)
	return det, ok, nil
}

// resultFields describes a classification for the log. A negative result
// carries no class: its Detection is the zero value.
func resultFields(det classifier.Detection, ok bool, targets classifier.ClassSet, took time.Duration) []zap.Field {
	fields := []zap.Field{zap.Bool("target", ok), zap.Duration("took", took)}
	if ok {
		fields = append(fields,
			zap.String("class", targets.Name(det.ClassID)),
			zap.Float32("confidence", det.Confidence))
	}
	return fields
}

// outputShape validates a [1, 4+C, N] tensor shape.
func outputShape(dims []int) (channels, anchors int, err error) {
	if len(dims) != 3 || dims[0] != 1 || dims[1] <= boxChannels || dims[2] <= 0 {
		return 0, 0, fmt.Errorf("unexpected model output shape %v, want [1 4+C N]", dims)
	}
	return dims[1], dims[2], nil
}

// Stats returns the number of forward passes and the last latency.
func (d *Detector) Stats() (runs int64, last time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runs, d.lastRun
}

// Close releases the network.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.net.Close()
}
