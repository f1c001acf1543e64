package api

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"classbook/internal/config"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	PermReadClasses   = "read:classes"
	PermWriteBookings = "write:bookings"
	PermAdmin         = "admin"

	apiKeyHeaderDefault  = "x-api-key"
	userIDHeaderDefault  = "x-user-id"
	clientKeyUnknown     = "unknown"
	requestIDMetadataKey = "x-request-id"
)

// keyRing resolves API keys to clients.
type keyRing struct {
	clients map[string]config.APIClientKey
}

func newKeyRing(keys []config.APIClientKey) *keyRing {
	m := make(map[string]config.APIClientKey, len(keys))
	for _, k := range keys {
		m[k.Key] = k
	}
	return &keyRing{clients: m}
}

func (k *keyRing) lookup(apiKey string) (config.APIClientKey, bool) {
	for key, client := range k.clients {
		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
			return client, true
		}
	}
	return config.APIClientKey{}, false
}

// hasPermission reports whether the client holds perm. An empty list grants
// every permission except admin, which must be listed.
func hasPermission(client config.APIClientKey, perm string) bool {
	if perm == "" {
		return true
	}
	if len(client.Permissions) == 0 && perm != PermAdmin {
		return true
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == perm {
			return true
		}
	}
	return false
}

// AuthInterceptor authenticates gRPC calls by API key and rate limits them
// per client.
type AuthInterceptor struct {
	cfg     *config.APIConfig
	keys    *keyRing
	limiter *keyedLimiter
}

func NewAuthInterceptor(cfg *config.APIConfig) *AuthInterceptor {
	return &AuthInterceptor{
		cfg:     cfg,
		keys:    newKeyRing(cfg.Auth.APIKeys),
		limiter: newKeyedLimiter(cfg.RateLimit),
	}
}

func (a *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !a.cfg.Enabled {
			return handler(ctx, req)
		}
		if a.cfg.Auth.Enabled {
			if err := a.checkAuth(ctx); err != nil {
				return nil, err
			}
		}
		if !a.limiter.allow(a.clientKey(ctx)) {
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}

func (a *AuthInterceptor) checkAuth(ctx context.Context) error {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	apiKey := first(md.Get(headerName(a.cfg.Auth.HeaderAPIKey, apiKeyHeaderDefault)))
	if apiKey == "" {
		return status.Error(codes.Unauthenticated, "missing api key")
	}
	client, ok := a.keys.lookup(apiKey)
	if !ok {
		return status.Error(codes.Unauthenticated, "invalid api key")
	}
	if !hasPermission(client, PermReadClasses) {
		return status.Error(codes.PermissionDenied, "permission denied")
	}
	return nil
}

func (a *AuthInterceptor) clientKey(ctx context.Context) string {
	md, _ := metadata.FromIncomingContext(ctx)
	if apiKey := first(md.Get(headerName(a.cfg.Auth.HeaderAPIKey, apiKeyHeaderDefault))); apiKey != "" {
		return apiKey
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return clientKeyUnknown
}

func headerName(configured, fallback string) string {
	if h := strings.ToLower(strings.TrimSpace(configured)); h != "" {
		return h
	}
	return fallback
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}

func LoggingUnaryInterceptor(logger *zerolog.Logger) grpc.UnaryServerInterceptor {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "grpc").Logger()
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		requestID := requestIDFromMetadata(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDMetadataKey, requestID))

		start := time.Now()
		resp, err := handler(ctx, req)

		remote := clientKeyUnknown
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			remote = p.Addr.String()
		}
		base.Info().
			Str("request_id", requestID).
			Str("method", info.FullMethod).
			Str("remote", remote).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("grpc request")

		return resp, err
	}
}

func requestIDFromMetadata(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if id := first(md.Get(requestIDMetadataKey)); id != "" {
			return id
		}
	}
	return uuid.NewString()
}
