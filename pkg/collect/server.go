package collect

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	camera "github.com/mpoegel/apis-edge/pkg/camera"
	schema "github.com/mpoegel/apis-edge/pkg/schema"
	gocv "gocv.io/x/gocv"
	grpc "google.golang.org/grpc"
	codes "google.golang.org/grpc/codes"
	status "google.golang.org/grpc/status"
	emptypb "google.golang.org/protobuf/types/known/emptypb"
	wrapperspb "google.golang.org/protobuf/types/known/wrapperspb"
)

// FrameServer accepts frames pushed by a capture device and hands them to
// local subscribers.
type FrameServer struct {
	schema.UnimplementedFrameServiceServer

	opt Options

	fullAddr string
	network  string
	addr     string

	grpcServer *grpc.Server
	liveBroker *Broker[*ReceivedFrame]
}

// ReceivedFrame is a frame as reassembled on the collector side.
type ReceivedFrame struct {
	Epoch     string
	Sequence  int
	Width     int
	Height    int
	Timestamp time.Time
	Bytes     []byte
}

func NewFrameServer(opt Options) (*FrameServer, error) {
	s := &FrameServer{
		opt:        opt,
		fullAddr:   opt.Addr,
		liveBroker: NewBroker[*ReceivedFrame](),
	}

	splitKey := "://"
	splitIndex := strings.Index(opt.Addr, splitKey)
	if splitIndex == -1 {
		return nil, errors.New("invalid server address")
	}
	s.network = opt.Addr[:splitIndex]
	s.addr = opt.Addr[splitIndex+len(splitKey):]

	s.grpcServer = grpc.NewServer(grpc.MaxRecvMsgSize(schema.MaxMessageSize))
	schema.RegisterFrameServiceServer(s.grpcServer, s)
	s.liveBroker.Start()

	return s, nil
}

func (s *FrameServer) Start(ctx context.Context) error {
	if s.network == "unix" {
		// stale socket from a previous run
		_ = os.Remove(s.addr)
	}
	lnConfig := net.ListenConfig{}

	ln, err := lnConfig.Listen(ctx, s.network, s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts pushes on ln until Stop.
func (s *FrameServer) Serve(ln net.Listener) error {
	slog.Info("listening", "addr", s.fullAddr)
	return s.grpcServer.Serve(ln)
}

func (s *FrameServer) Stop() {
	s.grpcServer.Stop()
	s.liveBroker.Stop()
}

// Subscribe returns a channel of received frames, or nil when the server is
// not running. The channel is closed on Stop.
func (s *FrameServer) Subscribe() chan *ReceivedFrame {
	return s.liveBroker.Subscribe()
}

func (s *FrameServer) Unsubscribe(c chan *ReceivedFrame) {
	s.liveBroker.Unsubscribe(c)
}

func (s *FrameServer) PushFrame(ctx context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	h, err := schema.HeaderFromContext(ctx)
	if err != nil {
		slog.Warn("frame_rejected", "err", err)
		return nil, err
	}
	if h.Width <= 0 || h.Height <= 0 {
		slog.Warn("frame_rejected", "epoch", h.Epoch, "sequence", h.Sequence, "width", h.Width, "height", h.Height)
		return nil, status.Errorf(codes.InvalidArgument, "invalid size %dx%d", h.Width, h.Height)
	}
	raw := req.GetValue()
	if want := h.Width * h.Height * 3; len(raw) != want {
		slog.Warn("frame_rejected", "epoch", h.Epoch, "sequence", h.Sequence, "bytes", len(raw), "expected", want)
		return nil, status.Errorf(codes.InvalidArgument, "have %d bytes, want %d", len(raw), want)
	}

	frame, err := s.processFrame(h, raw)
	if err != nil {
		slog.Warn("could not process frame", "epoch", h.Epoch, "sequence", h.Sequence, "err", err)
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	s.liveBroker.Broadcast(frame)
	slog.Debug("frame_received",
		"epoch", frame.Epoch,
		"sequence", frame.Sequence,
		"timestamp", frame.Timestamp.Format(camera.TimeFormat))

	return &emptypb.Empty{}, nil
}

// processFrame rebuilds the pixels as an OpenCV image to confirm they form
// a valid BGR frame, then copies them out for subscribers.
func (s *FrameServer) processFrame(h schema.FrameHeader, raw []byte) (*ReceivedFrame, error) {
	img, err := gocv.NewMatFromBytes(h.Height, h.Width, gocv.MatTypeCV8UC3, raw)
	if err != nil {
		return nil, err
	}
	defer img.Close()
	if img.Empty() || img.Channels() != 3 {
		return nil, errors.New("not a bgr image")
	}

	return &ReceivedFrame{
		Epoch:     h.Epoch,
		Sequence:  h.Sequence,
		Width:     img.Cols(),
		Height:    img.Rows(),
		Timestamp: h.Timestamp,
		Bytes:     img.ToBytes(),
	}, nil
}
