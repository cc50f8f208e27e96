// Package imgconv turns camera frames into the BGR gocv.Mat layout the
// detector expects and letterboxes them to a square network input.
package imgconv

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// BT.601 full range chroma contributions in 16.16 fixed point
var (
	lutOnce sync.Once
	lut     struct {
		crR [256]int32
		cbB [256]int32
		crG [256]int32
		cbG [256]int32
	}
)

func initLUT() {
	lutOnce.Do(func() {
		for i := 0; i < 256; i++ {
			c := int32(i) - 128
			lut.crR[i] = (91881*c + (1 << 15)) >> 16
			lut.cbB[i] = (116130*c + (1 << 15)) >> 16
			lut.crG[i] = (46802*c + (1 << 15)) >> 16
			lut.cbG[i] = (22554*c + (1 << 15)) >> 16
		}
	})
}

// ToMat converts a frame to a 3-channel BGR Mat. The caller owns the
// result and must Close it.
func ToMat(img image.Image) (gocv.Mat, error) {
	if img == nil {
		return gocv.NewMat(), fmt.Errorf("imgconv: nil image")
	}
	b := img.Bounds()
	if b.Empty() {
		return gocv.NewMat(), fmt.Errorf("imgconv: empty image bounds")
	}

	if g, ok := img.(*image.Gray); ok {
		return grayToMat(g)
	}

	buf := make([]byte, 3*b.Dx()*b.Dy())
	switch im := img.(type) {
	case *image.YCbCr:
		YCbCrToBGR(im, buf)
	case *image.NRGBA:
		nrgbaToBGR(im, buf)
	default:
		genericToBGR(img, buf)
	}

	mat, err := gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8UC3, buf)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("imgconv: failed to create Mat: %w", err)
	}
	return mat, nil
}

// YCbCrToBGR writes im as packed BGR into dst, which must hold
// 3*width*height bytes. Any chroma subsampling is handled through
// COffset.
func YCbCrToBGR(im *image.YCbCr, dst []byte) {
	initLUT()
	b := im.Bounds()
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			yy := int32(im.Y[im.YOffset(x, y)])
			ci := im.COffset(x, y)
			cb, cr := im.Cb[ci], im.Cr[ci]

			dst[i] = clamp(yy + lut.cbB[cb])
			dst[i+1] = clamp(yy - lut.cbG[cb] - lut.crG[cr])
			dst[i+2] = clamp(yy + lut.crR[cr])
			i += 3
		}
	}
}

func nrgbaToBGR(im *image.NRGBA, dst []byte) {
	b := im.Bounds()
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := im.Pix[im.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			p := row[4*x:]
			dst[i], dst[i+1], dst[i+2] = p[2], p[1], p[0]
			i += 3
		}
	}
}

// genericToBGR goes through color.Color; RGBA() is alpha premultiplied,
// which is what a black background composite would give anyway.
func genericToBGR(img image.Image, dst []byte) {
	b := img.Bounds()
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			dst[i], dst[i+1], dst[i+2] = uint8(bl>>8), uint8(g>>8), uint8(r>>8)
			i += 3
		}
	}
}

func grayToMat(im *image.Gray) (gocv.Mat, error) {
	b := im.Bounds()
	w, h := b.Dx(), b.Dy()
	buf := make([]byte, w*h)
	for y := 0; y < h; y++ {
		off := im.PixOffset(b.Min.X, b.Min.Y+y)
		copy(buf[y*w:(y+1)*w], im.Pix[off:off+w])
	}

	gray, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC1, buf)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("imgconv: failed to create Mat from Gray: %w", err)
	}
	defer gray.Close()

	bgr := gocv.NewMat()
	gocv.CvtColor(gray, &bgr, gocv.ColorGrayToBGR)
	return bgr, nil
}

func clamp(v int32) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
