// Package schema declares the gRPC frame hand-off between a capture device
// and a collector. Pixels travel as a BytesValue; frame metadata travels in
// request headers.
package schema

import (
	"context"
	"fmt"
	"strconv"
	"time"

	grpc "google.golang.org/grpc"
	codes "google.golang.org/grpc/codes"
	metadata "google.golang.org/grpc/metadata"
	status "google.golang.org/grpc/status"
	emptypb "google.golang.org/protobuf/types/known/emptypb"
	wrapperspb "google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	FrameServiceName    = "apis.edge.FrameService"
	PushFrameFullMethod = "/apis.edge.FrameService/PushFrame"

	// MaxMessageSize bounds a PushFrame message at both ends. A raw
	// 3840x2160 BGR frame is 24883200 bytes.
	MaxMessageSize = 32 << 20

	HeaderEpoch     = "x-frame-epoch"
	HeaderSequence  = "x-frame-sequence"
	HeaderTimestamp = "x-frame-timestamp"
	HeaderWidth     = "x-frame-width"
	HeaderHeight    = "x-frame-height"
)

// FrameHeader is the metadata attached to every pushed frame.
type FrameHeader struct {
	Epoch     string
	Sequence  int
	Timestamp time.Time
	Width     int
	Height    int
}

func (h FrameHeader) Pairs() []string {
	return []string{
		HeaderEpoch, h.Epoch,
		HeaderSequence, strconv.Itoa(h.Sequence),
		HeaderTimestamp, h.Timestamp.Format(time.RFC3339Nano),
		HeaderWidth, strconv.Itoa(h.Width),
		HeaderHeight, strconv.Itoa(h.Height),
	}
}

// OutgoingContext attaches h to ctx for a PushFrame call.
func (h FrameHeader) OutgoingContext(ctx context.Context) context.Context {
	return metadata.AppendToOutgoingContext(ctx, h.Pairs()...)
}

// HeaderFromContext reads the frame metadata of an incoming PushFrame call.
func HeaderFromContext(ctx context.Context) (FrameHeader, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return FrameHeader{}, status.Error(codes.InvalidArgument, "missing frame metadata")
	}

	get := func(key string) (string, error) {
		vals := md.Get(key)
		if len(vals) == 0 {
			return "", status.Errorf(codes.InvalidArgument, "missing %s", key)
		}
		return vals[0], nil
	}
	getInt := func(key string) (int, error) {
		s, err := get(key)
		if err != nil {
			return 0, err
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return 0, status.Errorf(codes.InvalidArgument, "bad %s: %v", key, err)
		}
		return v, nil
	}

	var h FrameHeader
	var err error
	if h.Epoch, err = get(HeaderEpoch); err != nil {
		return h, err
	}
	if h.Sequence, err = getInt(HeaderSequence); err != nil {
		return h, err
	}
	if h.Width, err = getInt(HeaderWidth); err != nil {
		return h, err
	}
	if h.Height, err = getInt(HeaderHeight); err != nil {
		return h, err
	}
	ts, err := get(HeaderTimestamp)
	if err != nil {
		return h, err
	}
	if h.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
		return h, status.Errorf(codes.InvalidArgument, "bad %s: %v", HeaderTimestamp, err)
	}
	return h, nil
}

type FrameServiceClient interface {
	PushFrame(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
}

type frameServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewFrameServiceClient(cc grpc.ClientConnInterface) FrameServiceClient {
	return &frameServiceClient{cc}
}

func (c *frameServiceClient) PushFrame(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, PushFrameFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type FrameServiceServer interface {
	PushFrame(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
}

// UnimplementedFrameServiceServer can be embedded for forward compatibility.
type UnimplementedFrameServiceServer struct{}

func (UnimplementedFrameServiceServer) PushFrame(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method PushFrame not implemented")
}

func RegisterFrameServiceServer(s grpc.ServiceRegistrar, srv FrameServiceServer) {
	s.RegisterService(&FrameService_ServiceDesc, srv)
}

func pushFrameHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FrameServiceServer).PushFrame(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: PushFrameFullMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		in, ok := req.(*wrapperspb.BytesValue)
		if !ok {
			return nil, fmt.Errorf("unexpected request type %T", req)
		}
		return srv.(FrameServiceServer).PushFrame(ctx, in)
	}
	return interceptor(ctx, in, info, handler)
}

var FrameService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: FrameServiceName,
	HandlerType: (*FrameServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "PushFrame",
			Handler:    pushFrameHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "frame_service",
}
