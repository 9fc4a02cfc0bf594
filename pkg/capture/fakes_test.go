package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	camera "github.com/mpoegel/apis-edge/pkg/camera"
)

// fakeDevice scripts a camera backend.
type fakeDevice struct {
	openFailures int          // Opens that fail before the first success
	failReads    map[int]bool // read numbers, counted from 1, that fail
	panicOnRead  bool
	onRead       func()

	opens, reads, closes int
	open                 bool
	sequence             int
}

func (d *fakeDevice) Open() bool {
	d.opens++
	if d.opens <= d.openFailures {
		return false
	}
	d.open = true
	d.sequence = 0
	return true
}

func (d *fakeDevice) Read() (*camera.Frame, bool) {
	if !d.open {
		return nil, false
	}
	d.reads++
	if d.panicOnRead {
		panic("driver exploded")
	}
	if d.onRead != nil {
		d.onRead()
	}
	if d.failReads[d.reads] {
		return nil, false
	}
	d.sequence++
	frame, err := camera.NewFrameAt(camera.NewBGR(image.Rect(0, 0, 4, 3)), d.sequence, time.Unix(1700000000, 0))
	if err != nil {
		panic(err)
	}
	return frame, true
}

func (d *fakeDevice) Close() {
	d.closes++
	d.open = false
}

func (d *fakeDevice) IsOpen() bool { return d.open }

func (d *fakeDevice) Resolution() (int, int) { return 4, 3 }

func (d *fakeDevice) MeasuredFPS() float64 { return 9.5 }

func (d *fakeDevice) TargetFPS() int { return 10 }

// recordingSink keeps every frame and cancels the run after stopAfter frames.
type recordingSink struct {
	frames    []*camera.Frame
	epochs    []string
	stopAfter int
	cancel    context.CancelFunc
	err       error
	closed    bool
}

func (s *recordingSink) Send(_ context.Context, epoch string, frame *camera.Frame) error {
	s.frames = append(s.frames, frame)
	s.epochs = append(s.epochs, epoch)
	if len(s.frames) == s.stopAfter && s.cancel != nil {
		s.cancel()
	}
	return s.err
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

func (s *recordingSink) sequences() []int {
	seqs := make([]int, len(s.frames))
	for i, f := range s.frames {
		seqs[i] = f.Sequence()
	}
	return seqs
}

type recordingReporter struct {
	reports []RateReport
	err     error
}

func (r *recordingReporter) Report(_ context.Context, rep RateReport) error {
	r.reports = append(r.reports, rep)
	return r.err
}

// manualClock only moves when told to.
type manualClock struct {
	t time.Time
}

func (c *manualClock) Now() time.Time { return c.t }

func (c *manualClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func counterEpochs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("epoch-%d", n)
	}
}

// fakeToken completes immediately unless hang is set.
type fakeToken struct {
	err  error
	hang bool
}

func (t *fakeToken) Wait() bool { return !t.hang }

func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.hang }

func (t *fakeToken) Done() <-chan struct{} {
	c := make(chan struct{})
	if !t.hang {
		close(c)
	}
	return c
}

func (t *fakeToken) Error() error { return t.err }

type publish struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeMQTT records publishes. Only the methods the reporter uses do work.
type fakeMQTT struct {
	mqtt.Client

	connected    bool
	token        *fakeToken
	published    []publish
	disconnected bool
}

func (c *fakeMQTT) IsConnectionOpen() bool { return c.connected }

func (c *fakeMQTT) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	body, _ := payload.([]byte)
	c.published = append(c.published, publish{topic: topic, qos: qos, payload: body})
	if c.token == nil {
		return &fakeToken{}
	}
	return c.token
}

func (c *fakeMQTT) Disconnect(uint) { c.disconnected = true }

var errSinkDown = errors.New("sink down")
