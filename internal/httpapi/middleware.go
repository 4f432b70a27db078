package httpapi

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// IdentityHeader names the caller when authentication is disabled.
const IdentityHeader = "X-Retasync-Identity"

// ContextKey type for context keys to avoid collisions
type ContextKey string

// CallerKey is the context key for the authenticated Caller
const CallerKey ContextKey = "caller"

// Caller is who sent the request.
type Caller struct {
	// Identity is empty for anonymous callers; the node then uses its own.
	Identity string
	Admin    bool
}

// Middleware provides HTTP middleware functions
type Middleware struct {
	jwtAuth *JWTAuth // nil when authentication is disabled
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewMiddleware creates a new middleware instance. A nil jwtAuth disables
// authentication; the caller is then taken from IdentityHeader.
func NewMiddleware(jwtAuth *JWTAuth, submitRate float64, submitBurst int, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Limit(submitRate)
	if submitRate <= 0 {
		limit = rate.Inf
	}
	return &Middleware{
		jwtAuth: jwtAuth,
		limiter: rate.NewLimiter(limit, max(submitBurst, 1)),
		logger:  logger,
	}
}

// Authenticate resolves the Caller for every request.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.jwtAuth == nil {
			// Loopback-only mode: the local operator is trusted.
			caller := Caller{Identity: strings.TrimSpace(r.Header.Get(IdentityHeader)), Admin: true}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), CallerKey, caller)))
			return
		}

		token := extractToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, ReasonUnauthorized, "Authorization header required", "")
			return
		}
		claims, err := m.jwtAuth.ValidateToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, ReasonUnauthorized, err.Error(), "")
			return
		}

		caller := Caller{Identity: claims.Identity, Admin: claims.Admin}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), CallerKey, caller)))
	})
}

// AdminRequired rejects callers without the admin claim.
// Must run after Authenticate.
func (m *Middleware) AdminRequired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !GetCaller(r).Admin {
			writeError(w, http.StatusForbidden, ReasonForbidden, "admin privileges required", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit applies the shared submission token bucket.
func (m *Middleware) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reservation := m.limiter.Reserve()
		if delay := reservation.Delay(); delay > 0 {
			reservation.Cancel()
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			writeError(w, http.StatusTooManyRequests, ReasonRateLimited, "submission rate exceeded", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Logging logs each request with zap once it completes.
func (m *Middleware) Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		}
		if status >= http.StatusInternalServerError {
			m.logger.Warn("http request", fields...)
			return
		}
		m.logger.Debug("http request", fields...)
	})
}

// Recovery middleware recovers from panics and returns 500 error
func (m *Middleware) Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				m.logger.Error("panic in handler", zap.Any("panic", rec), zap.String("path", r.URL.Path), zap.Stack("stack"))
				writeError(w, http.StatusInternalServerError, ReasonInternal, "Internal server error", "")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// extractToken extracts the JWT token from the Authorization header
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	// Support both "Bearer token" and "token" formats
	return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
}

// GetCaller returns the Caller stored by Authenticate.
func GetCaller(r *http.Request) Caller {
	if caller, ok := r.Context().Value(CallerKey).(Caller); ok {
		return caller
	}
	return Caller{}
}
