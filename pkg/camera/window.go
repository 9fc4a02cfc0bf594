package camera

import "time"

const DefaultWindowSize = 30

// rateWindow keeps the timestamps of the most recent successful reads and
// derives a frame rate from them.
type rateWindow struct {
	times []time.Time
	size  int
	fps   float64
}

func newRateWindow(size int) *rateWindow {
	if size < 2 {
		size = DefaultWindowSize
	}
	return &rateWindow{
		times: make([]time.Time, 0, size),
		size:  size,
	}
}

func (w *rateWindow) Add(t time.Time) {
	if len(w.times) == w.size {
		copy(w.times, w.times[1:])
		w.times = w.times[:w.size-1]
	}
	w.times = append(w.times, t)

	if len(w.times) < 2 {
		return
	}
	// a zero span keeps the previous estimate
	span := w.times[len(w.times)-1].Sub(w.times[0]).Seconds()
	if span > 0 {
		w.fps = float64(len(w.times)-1) / span
	}
}

func (w *rateWindow) FPS() float64 {
	if len(w.times) < 2 {
		return 0
	}
	return w.fps
}

func (w *rateWindow) Len() int { return len(w.times) }

func (w *rateWindow) Reset() {
	w.times = w.times[:0]
	w.fps = 0
}
