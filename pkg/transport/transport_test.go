package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/Ind1x1/dlock/pkg/wire"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type fakeMultiplexer struct{}

func (fakeMultiplexer) Report(ctx context.Context, env wire.Envelope) wire.Response {
	return wire.Response{Success: env.PayloadKind == wire.KindHeartBeat}
}

func (fakeMultiplexer) Get(ctx context.Context, env wire.Envelope) []byte {
	return []byte("echo:" + env.PayloadKind)
}

// TestReportAndGetRoundTripOverTheJSONCodec proves the hand-written
// ServiceDesc and JSON codec actually move wire.Envelope/wire.Response
// values over a real gRPC connection, with no generated .pb.go.
func TestReportAndGetRoundTripOverTheJSONCodec(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	srv := NewServer(fakeMultiplexer{})
	go srv.ServeListener(lis)
	defer srv.Stop()

	conn, err := grpc.Dial(lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	client := &Client{conn: conn}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.report(ctx, wire.Envelope{PayloadKind: wire.KindHeartBeat})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !resp.Success {
		t.Fatal("expected success=true for a HeartBeat report")
	}

	reply, err := client.get(ctx, wire.Envelope{PayloadKind: wire.KindTaskRequest})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(reply.Payload) != "echo:"+wire.KindTaskRequest {
		t.Fatalf("payload = %q, want echo of the requested kind", reply.Payload)
	}
}
