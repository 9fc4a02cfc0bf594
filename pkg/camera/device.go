package camera

import (
	"fmt"
	"log/slog"
	"time"
)

// Device is the capture contract shared by every camera backend.
//
// No backend error crosses this interface: Open reports failure as false and
// Read reports failure as a nil frame with ok == false. A Device is created
// closed and is reused across reconnects.
type Device interface {
	// Open initializes the hardware. Any partially acquired handle is
	// released before Open returns false.
	Open() bool
	// Read returns the next frame. It returns immediately when the device is
	// closed and never retries internally.
	Read() (*Frame, bool)
	// Close releases the handle. It is safe to call on a closed device.
	Close()
	IsOpen() bool
	// Resolution reports the mode actually granted by the hardware.
	Resolution() (width, height int)
	// MeasuredFPS is the rate over the recent read window, or 0 with fewer
	// than two samples.
	MeasuredFPS() float64
	// TargetFPS is the configured rate, whatever the hardware granted.
	TargetFPS() int
}

// epoch holds the per-open state common to all backends: the frame sequence
// counter and the rolling rate window. It is owned by the capture goroutine.
type epoch struct {
	sequence int
	window   *rateWindow
	now      func() time.Time
}

func newEpoch(windowSize int, now func() time.Time) epoch {
	if now == nil {
		now = time.Now
	}
	return epoch{
		window: newRateWindow(windowSize),
		now:    now,
	}
}

func (e *epoch) reset() {
	e.sequence = 0
	e.window.Reset()
}

// next turns a captured buffer into the next frame of the epoch.
func (e *epoch) next(img *BGR) (*Frame, error) {
	at := e.now()
	frame, err := NewFrameAt(img, e.sequence+1, at)
	if err != nil {
		return nil, err
	}
	e.sequence++
	e.window.Add(at)
	return frame, nil
}

// guard runs fn and converts a panic from a driver call into false.
func guard(op string, fn func() bool) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("camera_driver_panic", "op", op, "err", fmt.Sprint(r))
			ok = false
		}
	}()
	return fn()
}
