package camera

import (
	"fmt"
	"image"

	gocv "gocv.io/x/gocv"
)

// bgrFromMat copies an OpenCV image into a BGR buffer owned by Go.
func bgrFromMat(m gocv.Mat) (*BGR, error) {
	if m.Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidBuffer)
	}

	src := m
	switch m.Channels() {
	case 3:
	case 4:
		conv := gocv.NewMat()
		defer conv.Close()
		gocv.CvtColor(m, &conv, gocv.ColorBGRAToBGR)
		src = conv
	case 1:
		conv := gocv.NewMat()
		defer conv.Close()
		gocv.CvtColor(m, &conv, gocv.ColorGrayToBGR)
		src = conv
	default:
		return nil, fmt.Errorf("%w: %d channels", ErrInvalidBuffer, m.Channels())
	}

	if src.Type() != gocv.MatTypeCV8UC3 {
		return nil, fmt.Errorf("%w: unsupported mat type %v", ErrInvalidBuffer, src.Type())
	}
	if !src.IsContinuous() {
		clone := src.Clone()
		defer clone.Close()
		src = clone
	}

	rows, cols := src.Rows(), src.Cols()
	return &BGR{
		Pix:    src.ToBytes(),
		Stride: cols * bgrChannels,
		Rect:   image.Rect(0, 0, cols, rows),
	}, nil
}

// bgrFromRGB reverses the channel order of a packed RGB24 buffer whose rows
// are stride bytes apart.
func bgrFromRGB(raw []byte, width, height, stride int) (*BGR, error) {
	row := width * bgrChannels
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidBuffer, width, height)
	}
	if stride < row {
		stride = row
	}
	if len(raw) < (height-1)*stride+row {
		return nil, fmt.Errorf("%w: have %d bytes for %dx%d", ErrInvalidBuffer, len(raw), width, height)
	}

	packed := raw[:row*height]
	if stride != row {
		packed = make([]byte, row*height)
		for y := 0; y < height; y++ {
			copy(packed[y*row:(y+1)*row], raw[y*stride:y*stride+row])
		}
	}

	rgb, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, packed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBuffer, err)
	}
	defer rgb.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(rgb, &bgr, gocv.ColorRGBToBGR)

	return bgrFromMat(bgr)
}

// Mat rebuilds an OpenCV image over a copy of the frame pixels. The caller
// owns the returned Mat and must Close it.
func (f *Frame) Mat() (gocv.Mat, error) {
	return gocv.NewMatFromBytes(f.height, f.width, gocv.MatTypeCV8UC3, f.pack())
}
