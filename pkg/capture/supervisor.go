package capture

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	uuid "github.com/google/uuid"
	camera "github.com/mpoegel/apis-edge/pkg/camera"
)

const (
	DefaultRetryInterval  = 30 * time.Second
	DefaultReportInterval = 10 * time.Second
)

type State int32

const (
	StateConnecting State = iota
	StateRunning
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type Options struct {
	RetryInterval  time.Duration
	ReportInterval time.Duration
	Sink           Sink
	Reporters      []Reporter
}

// Supervisor owns a camera device for its whole life: it opens it, reads it
// in a tight loop, forwards frames downstream, and reconnects forever after
// failures. Only Run touches the device.
type Supervisor struct {
	dev   camera.Device
	opt   Options
	state atomic.Int32

	epoch         string
	frames        int
	intervalStart time.Time

	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) bool
	newEpoch func() string
}

func NewSupervisor(dev camera.Device, opt Options) *Supervisor {
	if opt.RetryInterval <= 0 {
		opt.RetryInterval = DefaultRetryInterval
	}
	if opt.ReportInterval <= 0 {
		opt.ReportInterval = DefaultReportInterval
	}
	return &Supervisor{
		dev:      dev,
		opt:      opt,
		now:      time.Now,
		sleep:    sleepContext,
		newEpoch: uuid.NewString,
	}
}

func (s *Supervisor) State() State { return State(s.state.Load()) }

func (s *Supervisor) setState(st State) {
	if old := State(s.state.Swap(int32(st))); old != st {
		slog.Debug("capture_state", "from", old, "to", st)
	}
}

// Run drives the device until ctx is cancelled, which is a clean exit. A
// non-nil error means the loop itself broke.
func (s *Supervisor) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("unexpected_error", "err", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = fmt.Errorf("capture loop: %v", r)
		}
		s.setState(StateShuttingDown)
		s.dev.Close()
	}()

	if !s.connect(ctx, false) {
		return nil
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, ok := s.dev.Read()
		if !ok {
			slog.Warn("frame_read_failed", "epoch", s.epoch, "attempting_reconnect", true)
			s.dev.Close()
			if ctx.Err() != nil {
				return nil
			}
			if !s.connect(ctx, true) {
				return nil
			}
			continue
		}

		s.forward(ctx, frame)
		s.frames++
		s.maybeReport(ctx)
	}
}

// connect calls Open until it succeeds. It returns false only when ctx is
// cancelled first.
func (s *Supervisor) connect(ctx context.Context, reconnect bool) bool {
	s.setState(StateConnecting)
	start := s.now()
	retryIn := s.opt.RetryInterval.Seconds()

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return false
		}

		if s.dev.Open() {
			s.startEpoch()
			width, height := s.dev.Resolution()
			if reconnect {
				slog.Info("camera_reconnected",
					"epoch", s.epoch,
					"attempts", attempt,
					"elapsed_seconds", s.now().Sub(start).Seconds())
			} else {
				slog.Info("camera_opened",
					"epoch", s.epoch,
					"width", width,
					"height", height,
					"camera_type", camera.BackendName(s.dev))
			}
			s.setState(StateRunning)
			return true
		}

		if reconnect {
			slog.Warn("camera_reconnect_attempt",
				"attempt", attempt,
				"elapsed_seconds", s.now().Sub(start).Seconds(),
				"retry_in_seconds", retryIn)
		} else {
			slog.Error("camera_open_failed",
				"attempt", attempt,
				"retry_in_seconds", retryIn,
				"camera_type", camera.BackendName(s.dev))
		}

		if !s.sleep(ctx, s.opt.RetryInterval) {
			return false
		}
	}
}

func (s *Supervisor) startEpoch() {
	s.epoch = s.newEpoch()
	s.frames = 0
	s.intervalStart = s.now()
}

func (s *Supervisor) forward(ctx context.Context, frame *camera.Frame) {
	if s.opt.Sink == nil {
		return
	}
	if err := s.opt.Sink.Send(ctx, s.epoch, frame); err != nil {
		slog.Warn("frame_forward_failed", "epoch", s.epoch, "sequence", frame.Sequence(), "err", err)
	}
}

func (s *Supervisor) maybeReport(ctx context.Context) {
	now := s.now()
	elapsed := now.Sub(s.intervalStart)
	if elapsed < s.opt.ReportInterval {
		return
	}

	report := RateReport{
		Epoch:       s.epoch,
		Frames:      s.frames,
		Elapsed:     elapsed,
		MeasuredFPS: s.dev.MeasuredFPS(),
		TargetFPS:   s.dev.TargetFPS(),
		At:          now,
	}
	if elapsed > 0 {
		report.FPS = float64(s.frames) / elapsed.Seconds()
	}

	for _, r := range s.opt.Reporters {
		if err := r.Report(ctx, report); err != nil {
			slog.Warn("rate_report_failed", "epoch", s.epoch, "err", err)
		}
	}

	s.frames = 0
	s.intervalStart = now
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
