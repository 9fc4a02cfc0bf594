package capture

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func testReport() RateReport {
	return RateReport{
		Epoch:       "epoch-1",
		Frames:      97,
		Elapsed:     10*time.Second + 40*time.Millisecond,
		FPS:         9.66135,
		MeasuredFPS: 9.9333,
		TargetFPS:   10,
		At:          time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestMQTTReporterPublishes(t *testing.T) {
	client := &fakeMQTT{connected: true}
	r := newMQTTReporter(client, "apis/edge/fps", time.Second)

	if err := r.Report(context.Background(), testReport()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(client.published))
	}
	p := client.published[0]
	if p.topic != "apis/edge/fps" || p.qos != 0 {
		t.Errorf("unexpected topic/qos %s/%d", p.topic, p.qos)
	}

	var got ratePayload
	if err := json.Unmarshal(p.payload, &got); err != nil {
		t.Fatal(err)
	}
	want := ratePayload{
		Epoch:          "epoch-1",
		Frames:         97,
		ElapsedSeconds: 10,
		FPS:            9.7,
		MeasuredFPS:    9.9,
		TargetFPS:      10,
		Timestamp:      "2024-05-01T12:00:00.000000Z",
	}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestMQTTReporterOffline(t *testing.T) {
	client := &fakeMQTT{}
	r := newMQTTReporter(client, "apis/edge/fps", time.Second)

	err := r.Report(context.Background(), testReport())
	if !errors.Is(err, ErrTelemetryOffline) {
		t.Errorf("expected ErrTelemetryOffline, got %v", err)
	}
	if len(client.published) != 0 {
		t.Errorf("expected no publish while offline, got %d", len(client.published))
	}
}

func TestMQTTReporterTimeout(t *testing.T) {
	client := &fakeMQTT{connected: true, token: &fakeToken{hang: true}}
	r := newMQTTReporter(client, "apis/edge/fps", 0)

	if r.timeout != time.Second {
		t.Errorf("expected default timeout, got %s", r.timeout)
	}
	if err := r.Report(context.Background(), testReport()); err == nil {
		t.Error("expected timeout error")
	}
}

func TestMQTTReporterTokenError(t *testing.T) {
	boom := errors.New("not authorized")
	client := &fakeMQTT{connected: true, token: &fakeToken{err: boom}}
	r := newMQTTReporter(client, "apis/edge/fps", time.Second)

	if err := r.Report(context.Background(), testReport()); !errors.Is(err, boom) {
		t.Errorf("expected token error, got %v", err)
	}

	r.Close()
	if !client.disconnected {
		t.Error("expected disconnect on close")
	}
}

func TestLogReporter(t *testing.T) {
	if err := (LogReporter{}).Report(context.Background(), testReport()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRound1(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{9.66, 9.7},
		{9.64, 9.6},
		{0, 0},
		{10.04, 10},
	}
	for _, tt := range tests {
		if got := round1(tt.in); got != tt.want {
			t.Errorf("round1(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
