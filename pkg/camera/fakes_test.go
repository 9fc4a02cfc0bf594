package camera

import (
	"context"
	"errors"
	"time"

	"github.com/vladimirvivien/go4vl/v4l2"
	gocv "gocv.io/x/gocv"
)

// stepClock returns start, start+step, start+2*step, ...
type stepClock struct {
	t    time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	now := c.t
	c.t = c.t.Add(c.step)
	return now
}

// fakeCapture stands in for gocv.VideoCapture.
type fakeCapture struct {
	opened bool
	props  map[gocv.VideoCaptureProperties]float64

	// values reported back after Set, when present
	granted map[gocv.VideoCaptureProperties]float64

	width, height int
	failReads     bool
	reads         int
	closes        int
}

func newFakeCapture(width, height int) *fakeCapture {
	return &fakeCapture{
		opened:  true,
		props:   make(map[gocv.VideoCaptureProperties]float64),
		granted: make(map[gocv.VideoCaptureProperties]float64),
		width:   width,
		height:  height,
	}
}

func (f *fakeCapture) IsOpened() bool { return f.opened }

func (f *fakeCapture) Set(prop gocv.VideoCaptureProperties, param float64) {
	f.props[prop] = param
}

func (f *fakeCapture) Get(prop gocv.VideoCaptureProperties) float64 {
	if v, ok := f.granted[prop]; ok {
		return v
	}
	return f.props[prop]
}

func (f *fakeCapture) Read(m *gocv.Mat) bool {
	f.reads++
	if f.failReads {
		return false
	}
	src := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(10, 20, 30, 0), f.height, f.width, gocv.MatTypeCV8UC3)
	defer src.Close()
	src.CopyTo(m)
	return true
}

func (f *fakeCapture) Close() error {
	f.closes++
	f.opened = false
	return nil
}

// fakeV4L2 stands in for a go4vl device.
type fakeV4L2 struct {
	format    v4l2.PixFormat
	formatErr error
	autoErr   error
	focusErr  error
	startErr  error

	controls map[v4l2.CtrlID]v4l2.CtrlValue
	output   chan []byte
	started  bool
	closed   bool
}

func newFakeV4L2(width, height int) *fakeV4L2 {
	return &fakeV4L2{
		format: v4l2.PixFormat{
			PixelFormat:  v4l2.PixelFmtRGB24,
			Width:        uint32(width),
			Height:       uint32(height),
			BytesPerLine: uint32(width * 3),
		},
		controls: make(map[v4l2.CtrlID]v4l2.CtrlValue),
		output:   make(chan []byte, 4),
	}
}

func (f *fakeV4L2) GetPixFormat() (v4l2.PixFormat, error) { return f.format, f.formatErr }

func (f *fakeV4L2) SetControlValue(id v4l2.CtrlID, val v4l2.CtrlValue) error {
	if id == ctrlFocusAuto && f.autoErr != nil {
		return f.autoErr
	}
	if id == ctrlFocusAbsolute && f.focusErr != nil {
		return f.focusErr
	}
	f.controls[id] = val
	return nil
}

func (f *fakeV4L2) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeV4L2) GetOutput() <-chan []byte { return f.output }

func (f *fakeV4L2) Close() error {
	f.closed = true
	return nil
}

// rgbFrame builds a packed RGB24 buffer filled with one color.
func rgbFrame(width, height int, r, g, b uint8) []byte {
	buf := make([]byte, width*height*3)
	for i := 0; i < len(buf); i += 3 {
		buf[i], buf[i+1], buf[i+2] = r, g, b
	}
	return buf
}

var errNoDevice = errors.New("no such device")
