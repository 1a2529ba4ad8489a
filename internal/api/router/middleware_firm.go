package router

import (
	"net/http"
	"strings"

	"github.com/engagelegal/intake-platform/internal/tenancy"
)

const firmHeader = "X-Firm-Id"

// firmIDHeader copies the tenant header into the request context so
// downstream handlers can rely on tenancy.FirmIDFromContext. It does not
// reject requests without the header: widget endpoints accept the firm id
// in the body, and authenticated routes get it from the JWT claims.
func firmIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fid := strings.TrimSpace(r.Header.Get(firmHeader)); fid != "" {
			if _, ok := tenancy.FirmIDFromContext(r.Context()); !ok {
				r = r.WithContext(tenancy.WithFirmID(r.Context(), fid))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// requireFirmID rejects requests that reach a tenant-scoped route without
// any firm context. Principal claims take precedence over the header, so
// this runs after the auth middleware.
func requireFirmID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := tenancy.FirmIDFromContext(r.Context()); !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"code":"MissingFirmId","message":"firm id is required"}}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
