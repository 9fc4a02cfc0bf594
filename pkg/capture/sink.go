package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	camera "github.com/mpoegel/apis-edge/pkg/camera"
	schema "github.com/mpoegel/apis-edge/pkg/schema"
	grpc "google.golang.org/grpc"
	insecure "google.golang.org/grpc/credentials/insecure"
	wrapperspb "google.golang.org/protobuf/types/known/wrapperspb"
)

const DefaultSendTimeout = time.Second

// Sink is the downstream stage that receives frames one at a time, in
// capture order.
type Sink interface {
	Send(ctx context.Context, epoch string, frame *camera.Frame) error
	Close() error
}

// NewSink builds a sink from a destination such as discard://,
// tcp://host:port or unix:///path/to/socket.
func NewSink(destination string) (Sink, error) {
	splitKey := "://"
	splitIndex := strings.Index(destination, splitKey)
	if splitIndex == -1 {
		return nil, fmt.Errorf("invalid destination: %s", destination)
	}
	sinkType := destination[:splitIndex]
	sinkDest := destination[splitIndex+len(splitKey):]

	switch sinkType {
	case "discard":
		return &DiscardSink{}, nil
	case "tcp", "unix":
		return &RemoteSink{Network: sinkType, Address: sinkDest, Timeout: DefaultSendTimeout}, nil
	}
	return nil, fmt.Errorf("invalid destination type: %s", sinkType)
}

// DiscardSink drops frames and counts them.
type DiscardSink struct {
	frames atomic.Int64
}

func (s *DiscardSink) Send(context.Context, string, *camera.Frame) error {
	s.frames.Add(1)
	return nil
}

func (s *DiscardSink) Count() int64 { return s.frames.Load() }

func (s *DiscardSink) Close() error { return nil }

// RemoteSink pushes raw frames to a collector over gRPC. The connection is
// made on first use.
type RemoteSink struct {
	Network string
	Address string
	Timeout time.Duration // per push, DefaultSendTimeout when unset

	conn   *grpc.ClientConn
	client schema.FrameServiceClient
}

func (s *RemoteSink) Send(ctx context.Context, epoch string, frame *camera.Frame) error {
	if s.client == nil {
		if err := s.connect(); err != nil {
			return err
		}
	}

	header := schema.FrameHeader{
		Epoch:     epoch,
		Sequence:  frame.Sequence(),
		Timestamp: frame.Time(),
		Width:     frame.Width(),
		Height:    frame.Height(),
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	ctx, cancel := context.WithTimeout(header.OutgoingContext(ctx), timeout)
	defer cancel()

	if _, err := s.client.PushFrame(ctx, wrapperspb.Bytes(frame.Packed())); err != nil {
		return err
	}
	return nil
}

func (s *RemoteSink) connect(opts ...grpc.DialOption) error {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(schema.MaxMessageSize)),
	}, opts...)
	conn, err := grpc.NewClient(s.target(), opts...)
	if err != nil {
		return err
	}
	s.conn = conn
	s.client = schema.NewFrameServiceClient(conn)
	slog.Debug("frame_sink_connected", "target", s.target())
	return nil
}

func (s *RemoteSink) target() string {
	if s.Network == "unix" {
		return fmt.Sprintf("unix://%s", s.Address)
	}
	return s.Address
}

func (s *RemoteSink) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.client = nil
	return err
}
