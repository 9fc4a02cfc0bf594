package camera

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"time"
)

const (
	// TimeFormat is the ISO-8601 layout used for frame timestamps.
	TimeFormat = "2006-01-02T15:04:05.000000Z07:00"

	bgrChannels = 3
)

var ErrInvalidBuffer = errors.New("invalid pixel buffer")

// BGR is a packed 8-bit image with three channels in blue, green, red order.
// It is the canonical layout for every frame regardless of backend.
type BGR struct {
	Pix    []uint8
	Stride int
	Rect   image.Rectangle
}

func NewBGR(r image.Rectangle) *BGR {
	return &BGR{
		Pix:    make([]uint8, r.Dx()*r.Dy()*bgrChannels),
		Stride: r.Dx() * bgrChannels,
		Rect:   r,
	}
}

func (p *BGR) ColorModel() color.Model { return color.RGBAModel }

func (p *BGR) Bounds() image.Rectangle { return p.Rect }

func (p *BGR) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*bgrChannels
}

func (p *BGR) At(x, y int) color.Color {
	if !(image.Point{x, y}.In(p.Rect)) {
		return color.RGBA{}
	}
	i := p.PixOffset(x, y)
	return color.RGBA{R: p.Pix[i+2], G: p.Pix[i+1], B: p.Pix[i], A: 0xff}
}

func (p *BGR) validate() error {
	w, h := p.Rect.Dx(), p.Rect.Dy()
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: empty bounds %v", ErrInvalidBuffer, p.Rect)
	}
	if p.Stride < w*bgrChannels {
		return fmt.Errorf("%w: stride %d too small for width %d", ErrInvalidBuffer, p.Stride, w)
	}
	if need := (h-1)*p.Stride + w*bgrChannels; len(p.Pix) < need {
		return fmt.Errorf("%w: have %d bytes, need %d", ErrInvalidBuffer, len(p.Pix), need)
	}
	return nil
}

// Frame is a captured image with its capture metadata. The width and height
// always come from the image bounds. A Frame must not be modified once built.
type Frame struct {
	img       *BGR
	at        time.Time
	timestamp string
	sequence  int
	width     int
	height    int
}

// NewFrame stamps img with the current time.
func NewFrame(img *BGR, sequence int) (*Frame, error) {
	return NewFrameAt(img, sequence, time.Now())
}

func NewFrameAt(img *BGR, sequence int, at time.Time) (*Frame, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrInvalidBuffer)
	}
	if err := img.validate(); err != nil {
		return nil, err
	}
	return &Frame{
		img:       img,
		at:        at,
		timestamp: at.Format(TimeFormat),
		sequence:  sequence,
		width:     img.Rect.Dx(),
		height:    img.Rect.Dy(),
	}, nil
}

// Image returns a copy of the pixels anchored at the origin.
func (f *Frame) Image() *BGR {
	return &BGR{
		Pix:    f.pack(),
		Stride: f.width * bgrChannels,
		Rect:   image.Rect(0, 0, f.width, f.height),
	}
}

// Packed returns a copy of the pixels as tightly packed rows.
func (f *Frame) Packed() []byte { return f.pack() }

func (f *Frame) pack() []byte {
	img := f.img
	row := f.width * bgrChannels
	packed := make([]byte, row*f.height)
	if img.Stride == row && img.Rect.Min == (image.Point{}) {
		copy(packed, img.Pix[:row*f.height])
		return packed
	}
	for y := 0; y < f.height; y++ {
		off := img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y)
		copy(packed[y*row:(y+1)*row], img.Pix[off:off+row])
	}
	return packed
}

func (f *Frame) Timestamp() string { return f.timestamp }

func (f *Frame) Time() time.Time { return f.at }

func (f *Frame) Sequence() int { return f.sequence }

func (f *Frame) Width() int { return f.width }

func (f *Frame) Height() int { return f.height }
