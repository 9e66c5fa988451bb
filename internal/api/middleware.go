package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jbweber/homelab/loft/internal/apperr"
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-Id"

type ctxKey int

const (
	userIDKey ctxKey = iota
	bearerKey
)

// Authorizer resolves a bearer token to the id of the user that owns it
type Authorizer interface {
	Authorize(ctx context.Context, encoded string) (int32, error)
}

// RequestLogger attaches a request-scoped logger to the context and logs
// every completed request with its status and latency.
func RequestLogger(base zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			logger := base.With().
				Str("request_id", requestID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Logger()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context())))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Info().
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("latency", time.Since(start)).
				Str("remote", r.RemoteAddr).
				Msg("request")
		})
	}
}

// Authenticate rejects requests without a valid bearer token and stores the
// caller's user id in the request context.
func Authenticate(auth Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bearer, ok := bearerToken(r)
			if !ok {
				writeError(w, r, apperr.Unauthorized("Missing bearer token"))
				return
			}
			userID, err := auth.Authorize(r.Context(), bearer)
			if err != nil {
				writeError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			ctx = context.WithValue(ctx, bearerKey, bearer)
			logger := zerolog.Ctx(ctx).With().Int32("user_id", userID).Logger()
			next.ServeHTTP(w, r.WithContext(logger.WithContext(ctx)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, value, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// UserID returns the authenticated user id stored by Authenticate.
func UserID(ctx context.Context) (int32, bool) {
	id, ok := ctx.Value(userIDKey).(int32)
	return id, ok
}

func bearerFrom(ctx context.Context) string {
	s, _ := ctx.Value(bearerKey).(string)
	return s
}

// caller returns the authenticated user id, or an Unauthorized error when the
// route was mounted without Authenticate.
func caller(r *http.Request) (int32, error) {
	id, ok := UserID(r.Context())
	if !ok {
		return 0, apperr.Unauthorized("Missing bearer token")
	}
	return id, nil
}
