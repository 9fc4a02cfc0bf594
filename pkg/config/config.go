// Package config loads the edge device settings from a YAML file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Camera    CameraConfig    `yaml:"camera"`
	Capture   CaptureConfig   `yaml:"capture"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type CameraConfig struct {
	Type          string   `yaml:"type"`           // auto, picamera, usb
	Width         int      `yaml:"width"`          // frame width
	Height        int      `yaml:"height"`         // frame height
	FPS           int      `yaml:"fps"`            // target frame rate
	DeviceID      int      `yaml:"device_id"`      // usb camera index
	DevicePath    string   `yaml:"device_path"`    // V4L2 node of the camera module
	FocusDistance float64  `yaml:"focus_distance"` // lens position, 0 = infinity
	RetryInterval Duration `yaml:"retry_interval"` // wait between open attempts
	ReadTimeout   Duration `yaml:"read_timeout"`
}

type CaptureConfig struct {
	ReportInterval Duration `yaml:"report_interval"`
	Sink           string   `yaml:"sink"`
}

type StorageConfig struct {
	DataDir  string `yaml:"data_dir"`
	ClipsDir string `yaml:"clips_dir"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Format string `yaml:"format"` // json or text
}

type TelemetryConfig struct {
	MQTTBroker string `yaml:"mqtt_broker"`
	Topic      string `yaml:"topic"`
	ClientID   string `yaml:"client_id"`
}

// Duration accepts Go duration strings ("30s") or a bare number of seconds.
type Duration struct {
	time.Duration
}

func Seconds(n int) Duration {
	return Duration{time.Duration(n) * time.Second}
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	s := strings.TrimSpace(value.Value)
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		d.Duration = time.Duration(n * float64(time.Second))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func Default() *Config {
	return &Config{
		Camera: CameraConfig{
			Type:          "auto",
			Width:         640,
			Height:        480,
			FPS:           10,
			DeviceID:      0,
			DevicePath:    "/dev/video0",
			FocusDistance: 1.5,
			RetryInterval: Seconds(30),
			ReadTimeout:   Seconds(2),
		},
		Capture: CaptureConfig{
			ReportInterval: Seconds(10),
			Sink:           "discard://",
		},
		Storage: StorageConfig{
			DataDir:  "./data",
			ClipsDir: "./data/clips",
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			File:   "./logs/apis.log",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Topic:    "apis/edge/fps",
			ClientID: "apis-edge",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks numeric ranges. The camera type is left to the camera
// factory, which owns that error.
func (c *Config) Validate() error {
	var errs []error
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		errs = append(errs, fmt.Errorf("invalid resolution %dx%d", c.Camera.Width, c.Camera.Height))
	}
	if c.Camera.FPS <= 0 {
		errs = append(errs, fmt.Errorf("invalid fps %d", c.Camera.FPS))
	}
	if c.Camera.DeviceID < 0 {
		errs = append(errs, fmt.Errorf("invalid device_id %d", c.Camera.DeviceID))
	}
	if c.Camera.RetryInterval.Duration <= 0 {
		errs = append(errs, fmt.Errorf("invalid retry_interval %s", c.Camera.RetryInterval))
	}
	if c.Capture.ReportInterval.Duration <= 0 {
		errs = append(errs, fmt.Errorf("invalid report_interval %s", c.Capture.ReportInterval))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("invalid logging format %q", c.Logging.Format))
	}
	if c.Telemetry.MQTTBroker != "" && c.Telemetry.Topic == "" {
		errs = append(errs, errors.New("telemetry topic required with mqtt_broker"))
	}
	return errors.Join(errs...)
}

// EnsureDirectories creates the data, clips and log directories.
func EnsureDirectories(c *Config) error {
	dirs := []string{c.Storage.DataDir, c.Storage.ClipsDir}
	if c.Logging.File != "" {
		dirs = append(dirs, filepath.Dir(c.Logging.File))
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
