package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"syscall"
	"time"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"
)

const (
	DefaultDevicePath  = "/dev/video0"
	DefaultReadTimeout = 2 * time.Second

	// V4L2_CID_FOCUS_ABSOLUTE and V4L2_CID_FOCUS_AUTO from the camera class.
	ctrlFocusAbsolute v4l2.CtrlID = 0x009a090a
	ctrlFocusAuto     v4l2.CtrlID = 0x009a090c

	// focus_absolute steps per unit of lens position (dioptres)
	lensPositionScale = 100
)

// v4l2Driver is the part of a go4vl device the integrated backend uses.
type v4l2Driver interface {
	GetPixFormat() (v4l2.PixFormat, error)
	SetControlValue(id v4l2.CtrlID, val v4l2.CtrlValue) error
	Start(ctx context.Context) error
	GetOutput() <-chan []byte
	Close() error
}

type v4l2Opener func(path string, width, height, fps int) (v4l2Driver, error)

func openV4L2(path string, width, height, fps int) (v4l2Driver, error) {
	dev, err := device.Open(path,
		device.WithIOType(v4l2.IOTypeMMAP),
		device.WithPixFormat(v4l2.PixFormat{
			PixelFormat: v4l2.PixelFmtRGB24,
			Width:       uint32(width),
			Height:      uint32(height),
			Field:       v4l2.FieldNone,
		}),
		device.WithFPS(uint32(fps)),
	)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// IntegratedDevice captures from the on-board camera module over V4L2. The
// sensor delivers RGB24, so every buffer is reversed into BGR before it
// becomes a Frame. Focus is fixed at the configured lens position.
type IntegratedDevice struct {
	opt    Options
	dev    v4l2Driver
	opener v4l2Opener

	output <-chan []byte
	cancel context.CancelFunc
	dead   bool

	width  int
	height int
	stride int

	epoch
}

func NewIntegratedDevice(opt Options) *IntegratedDevice {
	if opt.DevicePath == "" {
		opt.DevicePath = DefaultDevicePath
	}
	if opt.ReadTimeout <= 0 {
		opt.ReadTimeout = DefaultReadTimeout
	}
	return &IntegratedDevice{
		opt:    opt,
		opener: openV4L2,
		width:  opt.Width,
		height: opt.Height,
		epoch:  newEpoch(opt.WindowSize, opt.Now),
	}
}

func (d *IntegratedDevice) Open() bool {
	d.release()
	if ok := guard("picamera_open", d.openDevice); !ok {
		d.release()
		return false
	}
	return true
}

func (d *IntegratedDevice) openDevice() bool {
	slog.Debug("opening_picamera",
		"device", d.opt.DevicePath,
		"width", d.opt.Width,
		"height", d.opt.Height,
		"fps", d.opt.FPS)

	dev, err := d.opener(d.opt.DevicePath, d.opt.Width, d.opt.Height, d.opt.FPS)
	if err != nil {
		slog.Error("picamera_open_failed", "device", d.opt.DevicePath, "err", err)
		return false
	}
	d.dev = dev

	pix, err := dev.GetPixFormat()
	if err != nil {
		slog.Error("picamera_open_failed", "device", d.opt.DevicePath, "err", err)
		return false
	}
	if pix.PixelFormat != v4l2.PixelFmtRGB24 {
		slog.Error("picamera_mode_rejected",
			"device", d.opt.DevicePath,
			"pixel_format", fourCC(uint32(pix.PixelFormat)))
		return false
	}
	d.width, d.height = int(pix.Width), int(pix.Height)
	d.stride = int(pix.BytesPerLine)

	if err := d.fixFocus(); err != nil {
		slog.Error("picamera_focus_failed", "device", d.opt.DevicePath, "err", err)
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	if err := dev.Start(ctx); err != nil {
		slog.Error("picamera_open_failed", "device", d.opt.DevicePath, "err", err)
		return false
	}
	d.output = dev.GetOutput()
	d.dead = false
	d.reset()

	slog.Info("picamera_opened",
		"device", d.opt.DevicePath,
		"width", d.width,
		"height", d.height,
		"fps", d.opt.FPS)
	return true
}

// fixFocus puts the lens in manual mode at the configured position. A
// sensor without focus controls keeps its default focus; any other control
// failure fails the open.
func (d *IntegratedDevice) fixFocus() error {
	if err := d.dev.SetControlValue(ctrlFocusAuto, 0); err != nil {
		if !focusUnsupported(err) {
			return fmt.Errorf("disable autofocus: %w", err)
		}
		slog.Debug("autofocus_control_missing", "err", err)
	}

	pos := v4l2.CtrlValue(math.Round(d.opt.FocusDistance * lensPositionScale))
	if err := d.dev.SetControlValue(ctrlFocusAbsolute, pos); err != nil {
		if !focusUnsupported(err) {
			return fmt.Errorf("set focus_absolute %d: %w", pos, err)
		}
		slog.Warn("focus_control_not_supported", "device", d.opt.DevicePath, "err", err)
		return nil
	}
	slog.Debug("focus_set", "lens_position", d.opt.FocusDistance)
	return nil
}

func (d *IntegratedDevice) Read() (*Frame, bool) {
	if !d.IsOpen() {
		return nil, false
	}

	timer := time.NewTimer(d.opt.ReadTimeout)
	defer timer.Stop()

	var raw []byte
	select {
	case buf, ok := <-d.output:
		if !ok {
			d.dead = true
			slog.Error("picamera_stream_closed", "device", d.opt.DevicePath)
			return nil, false
		}
		raw = buf
	case <-timer.C:
		slog.Warn("picamera_read_timeout", "device", d.opt.DevicePath, "timeout", d.opt.ReadTimeout)
		return nil, false
	}

	var frame *Frame
	ok := guard("picamera_read", func() bool {
		if len(raw) == 0 {
			slog.Warn("picamera_read_failed", "device", d.opt.DevicePath, "err", "empty buffer")
			return false
		}
		img, err := bgrFromRGB(raw, d.width, d.height, d.stride)
		if err != nil {
			slog.Warn("picamera_read_failed", "device", d.opt.DevicePath, "err", err)
			return false
		}
		if frame, err = d.next(img); err != nil {
			slog.Warn("picamera_read_failed", "device", d.opt.DevicePath, "err", err)
			return false
		}
		return true
	})
	if !ok {
		return nil, false
	}
	return frame, true
}

func (d *IntegratedDevice) Close() {
	d.release()
	slog.Debug("picamera_closed", "device", d.opt.DevicePath)
}

func (d *IntegratedDevice) release() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.output = nil
	if d.dev == nil {
		return
	}
	dev := d.dev
	d.dev = nil
	guard("picamera_close", func() bool {
		if err := dev.Close(); err != nil {
			slog.Debug("picamera_release_failed", "err", err)
		}
		return true
	})
}

// IsOpen is false once the stream has been seen to close, even before Close.
func (d *IntegratedDevice) IsOpen() bool {
	return d.dev != nil && !d.dead
}

func (d *IntegratedDevice) Resolution() (int, int) { return d.width, d.height }

func (d *IntegratedDevice) MeasuredFPS() float64 { return d.window.FPS() }

func (d *IntegratedDevice) TargetFPS() int { return d.opt.FPS }

// focusUnsupported reports a control the driver does not implement: an
// unknown control id answers EINVAL, a node without controls ENOTTY.
func focusUnsupported(err error) bool {
	return errors.Is(err, syscall.EINVAL) ||
		errors.Is(err, syscall.ENOTTY) ||
		errors.Is(err, syscall.EOPNOTSUPP) ||
		errors.Is(err, v4l2.ErrorBadArgument) ||
		errors.Is(err, v4l2.ErrorUnsupported)
}

func fourCC(v uint32) string {
	b := []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	return strings.TrimRight(string(b), "\x00 ")
}

// probeIntegrated opens the V4L2 node just long enough to read its
// capability. Nodes on a USB bus belong to the generic backend.
func probeIntegrated(path string) error {
	dev, err := device.Open(path)
	if err != nil {
		return err
	}
	defer dev.Close()

	c := dev.Capability()
	if strings.HasPrefix(c.BusInfo, "usb-") {
		return fmt.Errorf("%s is a usb device (%s)", path, c.Card)
	}
	return nil
}
