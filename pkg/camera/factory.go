package camera

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type Type string

const (
	TypeAuto       Type = "auto"
	TypeIntegrated Type = "picamera"
	TypeGeneric    Type = "usb"
)

var ErrUnknownType = errors.New("unknown camera type")

// ConfigError reports a backend selector that no backend answers to. It is
// never retried.
type ConfigError struct {
	Type string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("unknown camera type: %q", e.Type)
}

func (e *ConfigError) Is(target error) bool { return target == ErrUnknownType }

// ParseType normalizes a backend selector.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto", "":
		return TypeAuto, nil
	case "picamera", "integrated":
		return TypeIntegrated, nil
	case "usb", "generic":
		return TypeGeneric, nil
	}
	return "", &ConfigError{Type: s}
}

// Options configures a backend. Fields that do not apply to the chosen
// backend are ignored.
type Options struct {
	Type   Type
	Width  int
	Height int
	FPS    int

	// generic backend
	DeviceIndex int

	// integrated backend
	DevicePath    string
	FocusDistance float64
	ReadTimeout   time.Duration

	WindowSize int
	Now        func() time.Time
}

type Factory struct {
	// Probe reports whether the integrated camera is present. A nil error
	// means it is. It must release anything it acquires.
	Probe func(path string) error
}

func NewFactory() *Factory {
	return &Factory{Probe: probeIntegrated}
}

// New builds an unopened device with the default factory.
func New(opt Options) (Device, error) {
	return NewFactory().Create(opt)
}

// Create builds the backend named by opt.Type without opening it.
func (f *Factory) Create(opt Options) (Device, error) {
	t, err := ParseType(string(opt.Type))
	if err != nil {
		return nil, err
	}

	switch t {
	case TypeIntegrated:
		slog.Debug("creating_picamera", "width", opt.Width, "height", opt.Height, "fps", opt.FPS)
		return NewIntegratedDevice(opt), nil
	case TypeGeneric:
		slog.Debug("creating_usb_camera", "width", opt.Width, "height", opt.Height, "fps", opt.FPS)
		return NewGenericDevice(opt), nil
	}

	return f.detect(opt), nil
}

func (f *Factory) detect(opt Options) Device {
	path := opt.DevicePath
	if path == "" {
		path = DefaultDevicePath
	}
	slog.Debug("auto_detecting_camera", "device", path)

	if err := f.probe(path); err != nil {
		slog.Debug("picamera_not_available", "err", err)
		slog.Info("auto_detect_result", "camera_type", TypeGeneric)
		return NewGenericDevice(opt)
	}

	slog.Info("auto_detect_result", "camera_type", TypeIntegrated)
	return NewIntegratedDevice(opt)
}

func (f *Factory) probe(path string) (err error) {
	if f.Probe == nil {
		return errors.New("no probe configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	return f.Probe(path)
}
