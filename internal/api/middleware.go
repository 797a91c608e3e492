package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/serroba/collab-notes/internal/pkg/log"
)

const headerUserID = "X-User-Id"

type userKey struct{}

// UserIDFromContext returns the authenticated user, or "" outside an
// authenticated route.
func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userKey{}).(string)

	return userID
}

// authMiddleware extracts the user ID from the X-User-Id header and adds it
// to the request context. Browsers cannot set headers on a WebSocket
// handshake, so the userId query parameter is accepted as a fallback.
func authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(headerUserID)
		if userID == "" {
			userID = r.URL.Query().Get("userId")
		}

		if userID == "" {
			writeErrorMessage(w, r, http.StatusUnauthorized, "unauthorized", "missing X-User-Id header")

			return
		}

		ctx := context.WithValue(r.Context(), userKey{}, userID)
		ctx = log.Into(ctx, log.From(ctx).With(slog.String("user_id", userID)))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger puts a request-scoped logger into the context and writes
// one access log line per request.
func requestLogger(l *slog.Logger) func(http.Handler) http.Handler {
	if l == nil {
		l = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqLogger := l
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				reqLogger = reqLogger.With(slog.String("request_id", rid))
			}

			r = r.WithContext(log.Into(r.Context(), reqLogger))

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			reqLogger.LogAttrs(r.Context(), slog.LevelInfo, "http",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("dur", time.Since(start)),
				slog.Int("bytes", ww.BytesWritten()),
			)
		})
	}
}
