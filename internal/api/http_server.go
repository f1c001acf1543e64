package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"classbook/internal/config"
	"classbook/internal/database"
	"classbook/internal/domain"
	"classbook/internal/metrics"
	"classbook/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Services are the workflows the HTTP API exposes.
type Services struct {
	Store       domain.Store
	Bookings    domain.BookingService
	Waitlist    domain.WaitlistService
	Policies    domain.PolicyService
	Reschedules domain.RescheduleService

	// UserLimiter throttles each acting user; nil disables it.
	UserLimiter    domain.RateLimitRepository
	UserRateLimit  int
	UserRateWindow time.Duration

	Now func() time.Time
}

// HTTPServer exposes the booking engine as a JSON API.
type HTTPServer struct {
	cfg    config.APIConfig
	svc    Services
	auth   *HTTPAuth
	server *http.Server
	logger zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, svc Services, logger *zerolog.Logger) *HTTPServer {
	if svc.Now == nil {
		svc.Now = time.Now
	}
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "http").Logger()
	}

	srv := &HTTPServer{cfg: cfg, svc: svc, auth: NewHTTPAuth(cfg), logger: base}
	mux := http.NewServeMux()
	srv.routes(mux)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.loggingMiddleware(srv.auth.Wrap(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return srv
}

func (s *HTTPServer) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.Handle("GET /api/v1/classes", s.guard(PermReadClasses, s.handleListClasses))
	mux.Handle("GET /api/v1/classes/{id}/occupancy", s.guard(PermReadClasses, s.handleOccupancy))
	mux.Handle("GET /api/v1/classes/{id}/waitlist", s.guard(PermReadClasses, s.handleWaitlistStatus))
	mux.Handle("POST /api/v1/classes/{id}/waitlist", s.guard(PermWriteBookings, s.handleJoinWaitlist))
	mux.Handle("DELETE /api/v1/classes/{id}/waitlist", s.guard(PermWriteBookings, s.handleLeaveWaitlist))
	mux.Handle("POST /api/v1/classes/{id}/waitlist/accept", s.guard(PermWriteBookings, s.handleAcceptSpot))
	mux.Handle("POST /api/v1/classes/{id}/waitlist/promote", s.guard(PermAdmin, s.handlePromote))
	mux.Handle("POST /api/v1/waitlist/expire", s.guard(PermAdmin, s.handleExpireHolds))

	mux.Handle("POST /api/v1/bookings", s.guard(PermWriteBookings, s.handleBook))
	mux.Handle("GET /api/v1/bookings/{id}", s.guard(PermReadClasses, s.handleGetBooking))
	mux.Handle("GET /api/v1/bookings/{id}/policy", s.guard(PermReadClasses, s.handleCheckPolicy))
	mux.Handle("POST /api/v1/bookings/{id}/cancel", s.guard(PermWriteBookings, s.handleCancel))
	mux.Handle("POST /api/v1/bookings/{id}/reschedule", s.guard(PermWriteBookings, s.handleRequestReschedule))
	mux.Handle("POST /api/v1/bookings/{id}/check-in", s.guard(PermAdmin, s.statusHandler(s.svc.Bookings.CheckIn)))
	mux.Handle("POST /api/v1/bookings/{id}/complete", s.guard(PermAdmin, s.statusHandler(s.svc.Bookings.Complete)))
	mux.Handle("POST /api/v1/bookings/{id}/no-show", s.guard(PermAdmin, s.statusHandler(s.svc.Bookings.MarkNoShow)))
	mux.Handle("GET /api/v1/users/{id}/bookings", s.guard(PermReadClasses, s.handleUserBookings))

	mux.Handle("POST /api/v1/reschedules/{id}/process", s.guard(PermAdmin, s.handleProcessReschedule))

	mux.Handle("GET /api/v1/policies", s.guard(PermReadClasses, s.handleListPolicies))
	mux.Handle("POST /api/v1/policies", s.guard(PermAdmin, s.handleCreatePolicy))
}

// Handler returns the fully wrapped handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type actorHandler func(w http.ResponseWriter, r *http.Request, actor models.Actor)

// guard checks the route permission, resolves the acting user and applies
// the per-user limit before calling h.
func (s *HTTPServer) guard(perm string, h actorHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.IncHTTP(r.Pattern)

		client, authenticated := clientFromContext(r.Context())
		if authenticated && !hasPermission(client, perm) {
			writeError(w, http.StatusForbidden, errPermissionDenied.Error())
			return
		}
		if perm == PermAdmin && !authenticated {
			writeError(w, http.StatusForbidden, errPermissionDenied.Error())
			return
		}

		actor, err := s.actor(r, client, authenticated)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if s.svc.UserLimiter != nil && actor.UserID != 0 {
			allowed, err := s.svc.UserLimiter.CheckRateLimit(r.Context(), actor.UserID, s.svc.UserRateLimit, s.svc.UserRateWindow)
			if err != nil {
				s.logger.Error().Err(err).Int64("user_id", actor.UserID).Msg("user rate limit check failed")
			} else if !allowed {
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
		}

		h(w, r, actor)
	})
}

// actor builds the acting identity: the user comes from the user header and
// the admin role from an API key holding the admin permission.
func (s *HTTPServer) actor(r *http.Request, client config.APIClientKey, authenticated bool) (models.Actor, error) {
	var userID int64
	if raw := strings.TrimSpace(r.Header.Get(headerName(s.cfg.Auth.HeaderUserID, userIDHeaderDefault))); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return models.Actor{}, fmt.Errorf("invalid user id header")
		}
		userID = id
	}

	if authenticated && hasPermission(client, PermAdmin) {
		return models.Admin(userID), nil
	}
	if userID == 0 {
		return models.Actor{}, fmt.Errorf("user id header is required")
	}
	return models.Member(userID), nil
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusForError(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		msg = "internal error"
	}
	writeError(w, code, msg)
}

// statusForError maps the engine's error taxonomy to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, database.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, database.ErrInvalidInput), errors.Is(err, database.ErrInvalidSchedule):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrCancelWindowClosed), errors.Is(err, database.ErrRescheduleWindowClosed):
		return http.StatusUnprocessableEntity
	case database.IsPrecondition(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type clientContextKey struct{}

func clientFromContext(ctx context.Context) (config.APIClientKey, bool) {
	client, ok := ctx.Value(clientContextKey{}).(config.APIClientKey)
	return client, ok
}

var errPermissionDenied = errors.New("permission denied")

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP endpoints.
type HTTPAuth struct {
	cfg     config.APIConfig
	keys    *keyRing
	limiter *keyedLimiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	return &HTTPAuth{
		cfg:     cfg,
		keys:    newKeyRing(cfg.Auth.APIKeys),
		limiter: newKeyedLimiter(cfg.RateLimit),
	}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Auth.Enabled {
			apiKey := strings.TrimSpace(r.Header.Get(headerName(a.cfg.Auth.HeaderAPIKey, apiKeyHeaderDefault)))
			if apiKey == "" {
				writeError(w, http.StatusUnauthorized, "missing api key")
				return
			}
			client, ok := a.keys.lookup(apiKey)
			if !ok {
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			}
			r = r.WithContext(context.WithValue(r.Context(), clientContextKey{}, client))
		}

		if !a.limiter.allow(a.clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(headerName(a.cfg.Auth.HeaderAPIKey, apiKeyHeaderDefault))); apiKey != "" {
		return apiKey
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDMetadataKey))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDMetadataKey, requestID)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
