package middleware

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"llms-gateway/pkg/logging/logging"
)

// LoggingContext attaches a request-scoped logger to the context and echoes
// the request ID back to the caller.
func LoggingContext(baseLogger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			fields := make([]zap.Field, 0, 5)
			fields = append(fields,
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)

			// set by chi's RequestID middleware
			if reqID := chimw.GetReqID(ctx); reqID != "" {
				fields = append(fields, zap.String("request_id", reqID))
				w.Header().Set(chimw.RequestIDHeader, reqID)
			}

			// RealIP has already replaced RemoteAddr when a proxy header was present
			if r.RemoteAddr != "" {
				fields = append(fields, zap.String("remote_ip", r.RemoteAddr))
			}
			if ua := r.UserAgent(); ua != "" {
				fields = append(fields, zap.String("user_agent", ua))
			}

			ctx = logging.WithLogger(ctx, baseLogger.With(fields...))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
