package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	camera "github.com/mpoegel/apis-edge/pkg/camera"
)

// RateReport summarizes throughput over one reporting interval.
type RateReport struct {
	Epoch       string
	Frames      int
	Elapsed     time.Duration
	FPS         float64
	MeasuredFPS float64
	TargetFPS   int
	At          time.Time
}

type Reporter interface {
	Report(ctx context.Context, r RateReport) error
}

// LogReporter writes each report as an fps_report log event.
type LogReporter struct{}

func (LogReporter) Report(_ context.Context, r RateReport) error {
	slog.Info("fps_report",
		"epoch", r.Epoch,
		"frames", r.Frames,
		"elapsed_seconds", round1(r.Elapsed.Seconds()),
		"measured_fps", round1(r.FPS),
		"window_fps", round1(r.MeasuredFPS),
		"target_fps", r.TargetFPS)
	return nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

var ErrTelemetryOffline = errors.New("telemetry broker not connected")

type MQTTOptions struct {
	Broker   string
	ClientID string
	Topic    string
	Timeout  time.Duration
}

// MQTTReporter publishes reports as JSON. Publishing never holds up capture
// for longer than the configured timeout.
type MQTTReporter struct {
	client  mqtt.Client
	topic   string
	timeout time.Duration
}

type ratePayload struct {
	Epoch          string  `json:"epoch"`
	Frames         int     `json:"frames"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	FPS            float64 `json:"fps"`
	MeasuredFPS    float64 `json:"measured_fps"`
	TargetFPS      int     `json:"target_fps"`
	Timestamp      string  `json:"timestamp"`
}

func NewMQTTReporter(opt MQTTOptions) *MQTTReporter {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(opt.Broker)
	opts.SetClientID(opt.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.OnConnect = func(mqtt.Client) {
		slog.Info("telemetry_connected", "broker", opt.Broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("telemetry_connection_lost", "broker", opt.Broker, "err", err)
	}

	client := mqtt.NewClient(opts)
	// with ConnectRetry the token only completes once a connection is made
	client.Connect()

	return newMQTTReporter(client, opt.Topic, opt.Timeout)
}

func newMQTTReporter(client mqtt.Client, topic string, timeout time.Duration) *MQTTReporter {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &MQTTReporter{client: client, topic: topic, timeout: timeout}
}

func (r *MQTTReporter) Report(_ context.Context, rep RateReport) error {
	if !r.client.IsConnectionOpen() {
		return ErrTelemetryOffline
	}

	body, err := json.Marshal(ratePayload{
		Epoch:          rep.Epoch,
		Frames:         rep.Frames,
		ElapsedSeconds: round1(rep.Elapsed.Seconds()),
		FPS:            round1(rep.FPS),
		MeasuredFPS:    round1(rep.MeasuredFPS),
		TargetFPS:      rep.TargetFPS,
		Timestamp:      rep.At.Format(camera.TimeFormat),
	})
	if err != nil {
		return err
	}

	token := r.client.Publish(r.topic, 0, false, body)
	if !token.WaitTimeout(r.timeout) {
		return fmt.Errorf("publish to %s timed out after %s", r.topic, r.timeout)
	}
	return token.Error()
}

func (r *MQTTReporter) Close() {
	r.client.Disconnect(250)
}
