package camera

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
)

type ProbeOptions struct {
	Type        string
	DevicePath  string
	DeviceIndex int
	Width       int
	Height      int
	FPS         int
	Open        bool
}

// Run implements the probe command: pick a backend the way capture would and
// optionally grab a single frame from it.
func Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	opt := ProbeOptions{}

	fs.StringVar(&opt.Type, "t", string(TypeAuto), "camera type: auto, picamera or usb")
	fs.StringVar(&opt.DevicePath, "p", DefaultDevicePath, "V4L2 node of the integrated camera")
	fs.IntVar(&opt.DeviceIndex, "d", 0, "usb camera device index")
	fs.IntVar(&opt.Width, "w", 640, "frame width")
	fs.IntVar(&opt.Height, "h", 480, "frame height")
	fs.IntVar(&opt.FPS, "f", 10, "target frame rate")
	fs.BoolVar(&opt.Open, "open", false, "open the device and read one frame")

	if err := fs.Parse(args); err != nil {
		return err
	}

	return probe(ctx, NewFactory(), opt)
}

func probe(ctx context.Context, f *Factory, opt ProbeOptions) error {
	dev, err := f.Create(Options{
		Type:        Type(opt.Type),
		Width:       opt.Width,
		Height:      opt.Height,
		FPS:         opt.FPS,
		DeviceIndex: opt.DeviceIndex,
		DevicePath:  opt.DevicePath,
	})
	if err != nil {
		return err
	}
	fmt.Printf("backend: %s\n", BackendName(dev))

	if !opt.Open || ctx.Err() != nil {
		return nil
	}

	if !dev.Open() {
		return errors.New("camera did not open")
	}
	defer dev.Close()

	frame, ok := dev.Read()
	if !ok {
		return errors.New("camera returned no frame")
	}
	w, h := dev.Resolution()
	slog.Info("probe_frame", "sequence", frame.Sequence(), "timestamp", frame.Timestamp())
	fmt.Printf("resolution: %dx%d (frame %dx%d)\n", w, h, frame.Width(), frame.Height())
	return nil
}

// BackendName names the backend behind dev for logs.
func BackendName(dev Device) string {
	switch dev.(type) {
	case *IntegratedDevice:
		return "picamera"
	case *GenericDevice:
		return "usb"
	}
	return fmt.Sprintf("%T", dev)
}
