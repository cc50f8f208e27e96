package imgconv

import (
	"image"

	"gocv.io/x/gocv"
)

// FitSquare returns where a w x h frame lands inside a size x size
// canvas when scaled to fit with its aspect ratio kept and centred.
func FitSquare(w, h, size int) image.Rectangle {
	if w <= 0 || h <= 0 || size <= 0 {
		return image.Rectangle{}
	}
	cw, ch := size, size
	if w >= h {
		ch = h * size / w
	} else {
		cw = w * size / h
	}
	if cw < 1 {
		cw = 1
	}
	if ch < 1 {
		ch = 1
	}
	x0 := (size - cw) / 2
	y0 := (size - ch) / 2
	return image.Rect(x0, y0, x0+cw, y0+ch)
}

// Letterbox scales src into a black size x size canvas without
// distorting it. The caller owns the result.
func Letterbox(src gocv.Mat, size int) gocv.Mat {
	canvas := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), size, size, gocv.MatTypeCV8UC3)

	content := FitSquare(src.Cols(), src.Rows(), size)
	if content.Empty() {
		return canvas
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(src, &resized, content.Size(), 0, 0, gocv.InterpolationLinear)

	roi := canvas.Region(content)
	defer roi.Close()
	resized.CopyTo(&roi)

	return canvas
}
