package grpcx

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"
)

func TestHealthServer(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv, hs := NewServer(slog.New(slog.NewTextHandler(io.Discard, nil)))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	client := healthpb.NewHealthClient(conn)

	hs.SetServingStatus("availability", healthpb.HealthCheckResponse_NOT_SERVING)
	var header metadata.MD
	ctx := metadata.AppendToOutgoingContext(context.Background(), RequestIDMetadataKey, "req-42")
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: "availability"}, grpc.Header(&header))
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)
	assert.Equal(t, []string{"req-42"}, header.Get(RequestIDMetadataKey))

	hs.SetServingStatus("availability", healthpb.HealthCheckResponse_SERVING)
	resp, err = client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "availability"}, grpc.Header(&header))
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
	require.Len(t, header.Get(RequestIDMetadataKey), 1)
	assert.Len(t, header.Get(RequestIDMetadataKey)[0], 32)
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "abc")
	assert.Equal(t, "abc", RequestIDFromContext(ctx))
	assert.Equal(t, context.Background(), WithRequestID(context.Background(), ""))
}
