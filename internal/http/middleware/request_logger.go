package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/engagelegal/intake-platform/pkg/logging"
)

// RequestLogger emits one structured line per request once the response has
// been written, tagged with the firm the widget identified when there is one.
func RequestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				fields := []any{
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
					"remote_ip", r.RemoteAddr,
				}
				if reqID := chimw.GetReqID(r.Context()); reqID != "" {
					fields = append(fields, "request_id", reqID)
				}
				if firmID := r.Header.Get("X-Firm-Id"); firmID != "" {
					fields = append(fields, "firm_id", firmID)
				}
				logger.Info("http request", fields...)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
