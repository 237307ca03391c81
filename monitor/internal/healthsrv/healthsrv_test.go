package healthsrv

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/proto"
)

func startServer(t *testing.T) (*Server, healthpb.HealthClient) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := New()
	go s.Serve(lis) //nolint:errcheck
	t.Cleanup(s.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := grpc.DialContext(ctx, lis.Addr().String(), //nolint:staticcheck
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return s, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.GetStatus()
}

func TestHealth_FollowsConnection(t *testing.T) {
	s, client := startServer(t)

	if got := check(t, client, Service); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("initial status = %v, want NOT_SERVING", got)
	}

	s.SetConnected(true)
	for _, svc := range []string{"", Service} {
		if got := check(t, client, svc); got != healthpb.HealthCheckResponse_SERVING {
			t.Errorf("status(%q) after connect = %v, want SERVING", svc, got)
		}
	}

	s.SetConnected(false)
	if got := check(t, client, Service); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status after disconnect = %v, want NOT_SERVING", got)
	}
}

func TestHealth_UnknownService(t *testing.T) {
	_, client := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: "nope"}); err == nil {
		t.Error("Check on unknown service: expected NotFound error")
	}
}

func TestHealth_ResponseMessage(t *testing.T) {
	s, client := startServer(t)
	s.SetConnected(true)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: Service})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	want := &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}
	if !proto.Equal(resp, want) {
		t.Errorf("Check = %v, want %v", resp, want)
	}
}
