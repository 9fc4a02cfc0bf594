package collect

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"time"

	grpc "google.golang.org/grpc"
)

type Options struct {
	Addr           string
	ReportInterval time.Duration
}

func Run(ctx context.Context, args []string) error {

	fs := flag.NewFlagSet("collect", flag.ExitOnError)
	opt := Options{}
	fs.StringVar(&opt.Addr, "l", "unix:///tmp/apis.collector", "listen address")
	fs.DurationVar(&opt.ReportInterval, "r", 10*time.Second, "summary interval")

	if err := fs.Parse(args); err != nil {
		return err
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	server, err := NewFrameServer(opt)
	if err != nil {
		return err
	}

	go func() {
		<-subCtx.Done()
		server.Stop()
	}()

	go summarize(subCtx, server, opt.ReportInterval)

	if err := server.Start(subCtx); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

type epochStats struct {
	frames int
	first  int
	last   int
	gaps   int
}

// summarize logs what arrived per epoch every interval.
func summarize(ctx context.Context, server *FrameServer, interval time.Duration) {
	c := server.Subscribe()
	if c == nil {
		return
	}
	defer server.Unsubscribe(c)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	stats := map[string]*epochStats{}
	for {
		select {
		case f, ok := <-c:
			if !ok {
				return
			}
			record(stats, f)
		case <-ticker.C:
			for epoch, st := range stats {
				slog.Info("frames_received",
					"epoch", epoch,
					"frames", st.frames,
					"first_sequence", st.first,
					"last_sequence", st.last,
					"gaps", st.gaps)
			}
			clear(stats)
		case <-ctx.Done():
			return
		}
	}
}

func record(stats map[string]*epochStats, f *ReceivedFrame) {
	st, ok := stats[f.Epoch]
	if !ok {
		stats[f.Epoch] = &epochStats{frames: 1, first: f.Sequence, last: f.Sequence}
		return
	}
	st.frames++
	if f.Sequence > st.last+1 {
		st.gaps += f.Sequence - st.last - 1
	}
	if f.Sequence > st.last {
		st.last = f.Sequence
	}
}
