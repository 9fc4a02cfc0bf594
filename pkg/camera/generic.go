package camera

import (
	"log/slog"

	gocv "gocv.io/x/gocv"
)

// videoCapture is the part of gocv.VideoCapture the generic backend uses.
type videoCapture interface {
	IsOpened() bool
	Set(prop gocv.VideoCaptureProperties, param float64)
	Get(prop gocv.VideoCaptureProperties) float64
	Read(m *gocv.Mat) bool
	Close() error
}

type captureOpener func(index int) (videoCapture, error)

func openVideoCapture(index int) (videoCapture, error) {
	vc, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, err
	}
	return vc, nil
}

// GenericDevice captures from a USB-class camera through OpenCV. Frames come
// out of OpenCV in BGR order already.
type GenericDevice struct {
	opt    Options
	cap    videoCapture
	opener captureOpener

	width  int
	height int

	epoch
}

func NewGenericDevice(opt Options) *GenericDevice {
	return &GenericDevice{
		opt:    opt,
		opener: openVideoCapture,
		width:  opt.Width,
		height: opt.Height,
		epoch:  newEpoch(opt.WindowSize, opt.Now),
	}
}

func (d *GenericDevice) Open() bool {
	d.release()
	if ok := guard("usb_open", d.openCapture); !ok {
		d.release()
		return false
	}
	return true
}

func (d *GenericDevice) openCapture() bool {
	slog.Debug("opening_usb_camera",
		"device_id", d.opt.DeviceIndex,
		"width", d.opt.Width,
		"height", d.opt.Height,
		"fps", d.opt.FPS)

	vc, err := d.opener(d.opt.DeviceIndex)
	if err != nil {
		slog.Error("usb_camera_open_failed", "device_id", d.opt.DeviceIndex, "err", err)
		return false
	}
	d.cap = vc

	if !vc.IsOpened() {
		slog.Error("usb_camera_not_found", "device_id", d.opt.DeviceIndex)
		return false
	}

	vc.Set(gocv.VideoCaptureFrameWidth, float64(d.opt.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(d.opt.Height))
	vc.Set(gocv.VideoCaptureFPS, float64(d.opt.FPS))

	// the driver may substitute the nearest mode it supports
	width, height := d.opt.Width, d.opt.Height
	if w := int(vc.Get(gocv.VideoCaptureFrameWidth)); w > 0 {
		width = w
	}
	if h := int(vc.Get(gocv.VideoCaptureFrameHeight)); h > 0 {
		height = h
	}
	actualFPS := vc.Get(gocv.VideoCaptureFPS)

	img := gocv.NewMat()
	defer img.Close()
	if ok := vc.Read(&img); !ok || img.Empty() {
		slog.Error("usb_camera_test_frame_failed", "device_id", d.opt.DeviceIndex)
		return false
	}

	d.width, d.height = width, height
	d.reset()

	slog.Info("usb_camera_opened",
		"device_id", d.opt.DeviceIndex,
		"requested_width", d.opt.Width,
		"requested_height", d.opt.Height,
		"actual_width", d.width,
		"actual_height", d.height,
		"requested_fps", d.opt.FPS,
		"actual_fps", actualFPS)
	return true
}

func (d *GenericDevice) Read() (*Frame, bool) {
	if !d.IsOpen() {
		return nil, false
	}

	var frame *Frame
	ok := guard("usb_read", func() bool {
		img := gocv.NewMat()
		defer img.Close()

		if ok := d.cap.Read(&img); !ok || img.Empty() {
			slog.Warn("usb_camera_read_failed", "device_id", d.opt.DeviceIndex)
			return false
		}

		buf, err := bgrFromMat(img)
		if err != nil {
			slog.Warn("usb_camera_read_failed", "device_id", d.opt.DeviceIndex, "err", err)
			return false
		}
		if frame, err = d.next(buf); err != nil {
			slog.Warn("usb_camera_read_failed", "device_id", d.opt.DeviceIndex, "err", err)
			return false
		}
		return true
	})
	if !ok {
		return nil, false
	}
	return frame, true
}

func (d *GenericDevice) Close() {
	d.release()
	slog.Debug("usb_camera_closed", "device_id", d.opt.DeviceIndex)
}

func (d *GenericDevice) release() {
	if d.cap == nil {
		return
	}
	vc := d.cap
	d.cap = nil
	guard("usb_close", func() bool {
		if err := vc.Close(); err != nil {
			slog.Debug("usb_camera_release_failed", "err", err)
		}
		return true
	})
}

func (d *GenericDevice) IsOpen() bool {
	if d.cap == nil {
		return false
	}
	return guard("usb_is_open", d.cap.IsOpened)
}

func (d *GenericDevice) Resolution() (int, int) { return d.width, d.height }

func (d *GenericDevice) MeasuredFPS() float64 { return d.window.FPS() }

func (d *GenericDevice) TargetFPS() int { return d.opt.FPS }
