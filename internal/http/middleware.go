package http

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/qopy/kiosk/pkg/logger"
	"go.uber.org/zap"
)

const (
	HeaderGuestID   = "X-Guest-ID"
	HeaderRequestID = "X-Request-ID"
)

type guestIDKey struct{}

// RequestIDMiddleware copies chi's request id into the logging context and echoes
// it back to the caller. It must run after middleware.RequestID.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		if requestID == "" {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set(HeaderRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), requestID)))
	})
}

// AccessLog writes one line per request.
func AccessLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.FromContext(r.Context(), log).Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)))
		})
	}
}

// GuestMiddleware requires the anonymous guest id the kiosk page generates.
func GuestMiddleware(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			guestID := strings.TrimSpace(r.Header.Get(HeaderGuestID))
			if guestID == "" || len(guestID) > 128 {
				respondError(w, log, http.StatusUnauthorized, "missing_guest_id", "X-Guest-ID header is required")
				return
			}
			ctx := context.WithValue(r.Context(), guestIDKey{}, guestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getGuestID(ctx context.Context) string {
	if id, ok := ctx.Value(guestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// OpsAuthMiddleware guards operator routes with a static bearer token. An empty
// token disables the routes.
func OpsAuthMiddleware(token string, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" || !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				respondError(w, log, http.StatusUnauthorized, "unauthorized", "missing or invalid operator token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
