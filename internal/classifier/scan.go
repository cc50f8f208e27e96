package classifier

// Scan walks a YOLOv8 style output tensor of shape [1, channels, anchors]
// stored channel-major, so the value for channel c at anchor a is
// out[c*anchors+a]. The first boxChannels channels are box geometry and
// the rest are per-class scores.
//
// For each anchor the best class is taken; the anchor qualifies when
// that score is strictly above threshold and the class is a target. The
// first qualifying anchor wins. There is no NMS: one hit is enough to
// start recording.
func Scan(out []float32, channels, anchors, boxChannels int, threshold float32, targets ClassSet) (Detection, bool) {
	if channels <= boxChannels || anchors <= 0 || len(out) < channels*anchors {
		return Detection{}, false
	}

	for a := 0; a < anchors; a++ {
		best := float32(-1)
		bestClass := -1
		for c := boxChannels; c < channels; c++ {
			if s := out[c*anchors+a]; s > best {
				best = s
				bestClass = c - boxChannels
			}
		}
		if best > threshold && targets.Has(bestClass) {
			return Detection{Confidence: best, ClassID: bestClass}, true
		}
	}
	return Detection{}, false
}
