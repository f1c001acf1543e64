package api

import (
	"context"
	"errors"
	"net"
	"testing"

	"classbook/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestAuthInterceptor(t *testing.T) {
	cfg := config.APIConfig{
		Enabled: true,
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			APIKeys: []config.APIClientKey{
				{Key: "valid-key", Permissions: []string{PermReadClasses}},
				{Key: "writer-key", Permissions: []string{PermWriteBookings}},
			},
		},
		RateLimit: config.APIRateLimitConfig{
			RPS:   100,
			Burst: 200,
		},
	}

	auth := NewAuthInterceptor(&cfg)
	interceptor := auth.Unary()

	handler := func(_ context.Context, req any) (any, error) {
		return "ok", nil
	}

	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	t.Run("Success", func(t *testing.T) {
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-api-key", "valid-key"))
		resp, err := interceptor(ctx, "req", info, handler)
		assert.NoError(t, err)
		assert.Equal(t, "ok", resp)
	})

	t.Run("MissingMetadata", func(t *testing.T) {
		_, err := interceptor(context.Background(), "req", info, handler)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("MissingKey", func(t *testing.T) {
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs())
		_, err := interceptor(ctx, "req", info, handler)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("InvalidKey", func(t *testing.T) {
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-api-key", "invalid"))
		_, err := interceptor(ctx, "req", info, handler)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("PermissionDenied", func(t *testing.T) {
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-api-key", "writer-key"))
		_, err := interceptor(ctx, "req", info, handler)
		assert.Equal(t, codes.PermissionDenied, status.Code(err))
	})

	t.Run("Disabled", func(t *testing.T) {
		off := cfg
		off.Enabled = false
		resp, err := NewAuthInterceptor(&off).Unary()(context.Background(), "req", info, handler)
		assert.NoError(t, err)
		assert.Equal(t, "ok", resp)
	})
}

func TestAuthInterceptor_RateLimit(t *testing.T) {
	cfg := config.APIConfig{
		Enabled:   true,
		RateLimit: config.APIRateLimitConfig{RPS: 0.001, Burst: 1},
	}
	interceptor := NewAuthInterceptor(&cfg).Unary()
	handler := func(_ context.Context, req any) (any, error) { return "ok", nil }
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-api-key", "k"))

	_, err := interceptor(ctx, "req", info, handler)
	require.NoError(t, err)
	_, err = interceptor(ctx, "req", info, handler)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestHasPermission(t *testing.T) {
	open := config.APIClientKey{Key: "k"}
	assert.True(t, hasPermission(open, PermReadClasses))
	assert.True(t, hasPermission(open, PermWriteBookings))
	assert.False(t, hasPermission(open, PermAdmin))

	admin := config.APIClientKey{Key: "a", Permissions: []string{" admin "}}
	assert.True(t, hasPermission(admin, PermAdmin))
	assert.False(t, hasPermission(admin, PermReadClasses))
	assert.True(t, hasPermission(admin, ""))
}

func TestKeyRing(t *testing.T) {
	ring := newKeyRing([]config.APIClientKey{{Key: "abc", Name: "app"}})

	client, ok := ring.lookup("abc")
	require.True(t, ok)
	assert.Equal(t, "app", client.Name)

	_, ok = ring.lookup("ab")
	assert.False(t, ok)
}

type stubPinger struct {
	err error
}

func (p stubPinger) PingContext(context.Context) error { return p.err }

func TestHealthService(t *testing.T) {
	ctx := context.Background()

	resp, err := NewHealthService(stubPinger{}).Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.GetStatus())

	resp, err = NewHealthService(stubPinger{err: errors.New("locked")}).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: "classbook"})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	_, err = NewHealthService(stubPinger{}).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: "billing"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGRPCServer_Health(t *testing.T) {
	cfg := &config.APIConfig{
		Enabled: true,
		Auth: config.APIAuthConfig{
			Enabled: true,
			APIKeys: []config.APIClientKey{{Key: "reader", Permissions: []string{PermReadClasses}}},
		},
	}
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	logger := zerolog.Nop()
	srv := newGRPCServer(cfg, lis, stubPinger{}, &logger)
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	conn, err := grpc.NewClient(srv.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	client := grpc_health_v1.NewHealthClient(conn)

	_, err = client.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-api-key", "reader")
	var header metadata.MD
	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{}, grpc.Header(&header))
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.GetStatus())
	assert.NotEmpty(t, header.Get(requestIDMetadataKey))
}
