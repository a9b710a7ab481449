package grpcserver

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func dial(t *testing.T, lis *bufconn.Listener) healthpb.HealthClient {
	t.Helper()
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func status(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.Status
}

func TestServer_ReportsPerDependency(t *testing.T) {
	var redisDown atomic.Bool
	redisDown.Store(true)

	s := New(map[string]Check{
		"postgres": func(context.Context) error { return nil },
		"redis": func(context.Context) error {
			if redisDown.Load() {
				return errors.New("dial tcp: connection refused")
			}
			return nil
		},
	}, time.Hour, zaptest.NewLogger(t).Sugar())
	assert.Equal(t, []string{"postgres", "redis"}, s.Services())

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, lis) }()

	c := dial(t, lis)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, c, "postgres"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, c, "redis"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, c, ""))

	redisDown.Store(false)
	s.Probe(context.Background())
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, c, "redis"))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, c, ""))

	cancel()
	require.NoError(t, <-done)
}

func TestServer_UnknownService(t *testing.T) {
	s := New(map[string]Check{"postgres": func(context.Context) error { return nil }}, time.Hour, zaptest.NewLogger(t).Sugar())

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Serve(ctx, lis) }()

	c := dial(t, lis)
	_, err := c.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "kafka"})
	assert.Error(t, err)
}
