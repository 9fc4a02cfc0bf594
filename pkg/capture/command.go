package capture

import (
	"context"
	"flag"
	"fmt"
	"log/slog"

	camera "github.com/mpoegel/apis-edge/pkg/camera"
	config "github.com/mpoegel/apis-edge/pkg/config"
)

var Version = "0.1.0"

type CommandOptions struct {
	ConfigFile  string
	CameraType  string
	DeviceIndex int
}

func Run(ctx context.Context, args []string) error {

	fs := flag.NewFlagSet("capture", flag.ExitOnError)
	opt := CommandOptions{}

	fs.StringVar(&opt.ConfigFile, "c", "config.yaml", "configuration file")
	fs.StringVar(&opt.CameraType, "t", "", "camera type override [auto, picamera, usb]")
	fs.IntVar(&opt.DeviceIndex, "d", -1, "usb camera index override")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(opt.ConfigFile)
	if err != nil {
		return err
	}
	if opt.CameraType != "" {
		cfg.Camera.Type = opt.CameraType
	}
	if opt.DeviceIndex >= 0 {
		cfg.Camera.DeviceID = opt.DeviceIndex
	}

	logger, logCloser, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	if err := config.EnsureDirectories(cfg); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}

	slog.Info("apis_starting", "version", Version, "config", opt.ConfigFile)
	defer slog.Info("apis_stopped", "version", Version)

	return captureLoop(ctx, cfg)
}

func captureLoop(ctx context.Context, cfg *config.Config) error {
	dev, err := camera.New(CameraOptions(cfg))
	if err != nil {
		slog.Error("camera_config_invalid", "camera_type", cfg.Camera.Type, "err", err)
		return err
	}

	sink, err := NewSink(cfg.Capture.Sink)
	if err != nil {
		return err
	}
	defer sink.Close()

	reporters := []Reporter{LogReporter{}}
	if cfg.Telemetry.MQTTBroker != "" {
		mqttReporter := NewMQTTReporter(MQTTOptions{
			Broker:   cfg.Telemetry.MQTTBroker,
			ClientID: cfg.Telemetry.ClientID,
			Topic:    cfg.Telemetry.Topic,
		})
		defer mqttReporter.Close()
		reporters = append(reporters, mqttReporter)
	}

	sup := NewSupervisor(dev, Options{
		RetryInterval:  cfg.Camera.RetryInterval.Duration,
		ReportInterval: cfg.Capture.ReportInterval.Duration,
		Sink:           sink,
		Reporters:      reporters,
	})
	return sup.Run(ctx)
}

// CameraOptions maps the camera section of the configuration onto device
// options.
func CameraOptions(cfg *config.Config) camera.Options {
	return camera.Options{
		Type:          camera.Type(cfg.Camera.Type),
		Width:         cfg.Camera.Width,
		Height:        cfg.Camera.Height,
		FPS:           cfg.Camera.FPS,
		DeviceIndex:   cfg.Camera.DeviceID,
		DevicePath:    cfg.Camera.DevicePath,
		FocusDistance: cfg.Camera.FocusDistance,
		ReadTimeout:   cfg.Camera.ReadTimeout.Duration,
	}
}
