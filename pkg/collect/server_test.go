package collect

import (
	"context"
	"net"
	"testing"
	"time"

	schema "github.com/mpoegel/apis-edge/pkg/schema"
	grpc "google.golang.org/grpc"
	codes "google.golang.org/grpc/codes"
	insecure "google.golang.org/grpc/credentials/insecure"
	status "google.golang.org/grpc/status"
	bufconn "google.golang.org/grpc/test/bufconn"
	wrapperspb "google.golang.org/protobuf/types/known/wrapperspb"
)

func startTestServer(t *testing.T) (*FrameServer, schema.FrameServiceClient) {
	t.Helper()
	server, err := NewFrameServer(Options{Addr: "tcp://bufnet"})
	if err != nil {
		t.Fatal(err)
	}

	lis := bufconn.Listen(1 << 20)
	go server.Serve(lis)
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(schema.MaxMessageSize)),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	return server, schema.NewFrameServiceClient(conn)
}

func pushContext(t *testing.T, h schema.FrameHeader) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return h.OutgoingContext(ctx)
}

func TestNewFrameServerAddress(t *testing.T) {
	tests := []struct {
		addr    string
		network string
		host    string
		wantErr bool
	}{
		{addr: "unix:///tmp/apis.collector", network: "unix", host: "/tmp/apis.collector"},
		{addr: "tcp://:7000", network: "tcp", host: ":7000"},
		{addr: "localhost:7000", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			s, err := NewFrameServer(Options{Addr: tt.addr})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			defer s.Stop()
			if s.network != tt.network || s.addr != tt.host {
				t.Errorf("expected %s %s, got %s %s", tt.network, tt.host, s.network, s.addr)
			}
		})
	}
}

func TestPushFrameBroadcasts(t *testing.T) {
	server, client := startTestServer(t)
	c := server.Subscribe()
	if c == nil {
		t.Fatal("expected subscription")
	}

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h := schema.FrameHeader{Epoch: "epoch-1", Sequence: 3, Timestamp: at, Width: 2, Height: 2}
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}

	if _, err := client.PushFrame(pushContext(t, h), wrapperspb.Bytes(payload)); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	f, ok := receive(t, c)
	if !ok {
		t.Fatal("subscription closed")
	}
	if f.Epoch != "epoch-1" || f.Sequence != 3 || f.Width != 2 || f.Height != 2 || !f.Timestamp.Equal(at) {
		t.Errorf("unexpected frame %+v", f)
	}
	if string(f.Bytes) != string(payload) {
		t.Errorf("expected payload %v, got %v", payload, f.Bytes)
	}
}

func TestPushFrameFullHD(t *testing.T) {
	server, client := startTestServer(t)
	c := server.Subscribe()

	h := schema.FrameHeader{Epoch: "epoch-1", Sequence: 1, Timestamp: time.Now(), Width: 1920, Height: 1080}
	payload := make([]byte, 1920*1080*3)
	payload[len(payload)-1] = 7

	if _, err := client.PushFrame(pushContext(t, h), wrapperspb.Bytes(payload)); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	f, ok := receive(t, c)
	if !ok {
		t.Fatal("subscription closed")
	}
	if f.Width != 1920 || f.Height != 1080 || len(f.Bytes) != len(payload) || f.Bytes[len(f.Bytes)-1] != 7 {
		t.Errorf("unexpected frame %dx%d with %d bytes", f.Width, f.Height, len(f.Bytes))
	}
}

func TestPushFrameRejects(t *testing.T) {
	_, client := startTestServer(t)
	at := time.Now()

	tests := []struct {
		name    string
		header  *schema.FrameHeader
		payload []byte
	}{
		{"missing metadata", nil, make([]byte, 12)},
		{"short payload", &schema.FrameHeader{Epoch: "e", Sequence: 1, Timestamp: at, Width: 2, Height: 2}, make([]byte, 11)},
		{"long payload", &schema.FrameHeader{Epoch: "e", Sequence: 1, Timestamp: at, Width: 2, Height: 2}, make([]byte, 13)},
		{"zero size", &schema.FrameHeader{Epoch: "e", Sequence: 1, Timestamp: at, Width: 0, Height: 2}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if tt.header != nil {
				ctx = tt.header.OutgoingContext(ctx)
			}
			_, err := client.PushFrame(ctx, wrapperspb.Bytes(tt.payload))
			if status.Code(err) != codes.InvalidArgument {
				t.Errorf("expected InvalidArgument, got %v", err)
			}
		})
	}
}

func TestRecordCountsGaps(t *testing.T) {
	stats := map[string]*epochStats{}
	for _, seq := range []int{1, 2, 5, 6} {
		record(stats, &ReceivedFrame{Epoch: "a", Sequence: seq})
	}
	record(stats, &ReceivedFrame{Epoch: "b", Sequence: 1})

	a := stats["a"]
	if a.frames != 4 || a.first != 1 || a.last != 6 || a.gaps != 2 {
		t.Errorf("unexpected stats %+v", *a)
	}
	if stats["b"].frames != 1 {
		t.Errorf("expected separate epoch stats, got %+v", *stats["b"])
	}
}
