package middleware

import (
	"net/http"
	"strings"
)

// CORS lets the intake widget call the API from firm websites. Origins form
// an allowlist: exact entries match one site, a "*." prefix covers every
// subdomain of a firm's domain, and a bare "*" opens the endpoints to any
// embedding site.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAny := false
	exact := map[string]struct{}{}
	type wildcard struct {
		scheme string // "https://" or "" when the pattern had none
		domain string // bare domain the subdomain must belong to
	}
	var wildcards []wildcard
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		switch {
		case origin == "":
		case origin == "*":
			allowAny = true
		case strings.Contains(origin, "*."):
			scheme, rest, _ := strings.Cut(origin, "*.")
			wildcards = append(wildcards, wildcard{scheme: scheme, domain: rest})
		default:
			exact[origin] = struct{}{}
		}
	}

	allowed := func(origin string) bool {
		if allowAny {
			return true
		}
		if _, ok := exact[origin]; ok {
			return true
		}
		for _, w := range wildcards {
			if strings.HasPrefix(origin, w.scheme) && strings.HasSuffix(origin, "."+w.domain) {
				return true
			}
		}
		return false
	}

	const (
		allowedHeaders = "Authorization, Content-Type, X-Firm-Id"
		allowedMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin != "" && allowed(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
				w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
				w.Header().Set("Access-Control-Max-Age", "600")
			}

			if r.Method == http.MethodOptions && origin != "" && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
