package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/engagelegal/intake-platform/internal/tenancy"
)

type contextKey string

const adminClaimsKey contextKey = "adminClaims"

// writeEnvelope emits the platform's stable error shape so middleware
// rejections look like any other API error.
func writeEnvelope(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]map[string]string{
		"error": {"code": code, "message": message},
	}
	json.NewEncoder(w).Encode(body)
}

// AdminJWT gates platform-operator endpoints behind an HMAC-signed token.
// Verified callers join the request context as a tenancy principal carrying
// the platform_admin role and no firm of their own.
func AdminJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				writeEnvelope(w, http.StatusUnauthorized, "Unauthorized", "admin access is not enabled")
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				writeEnvelope(w, http.StatusUnauthorized, "Unauthorized", "missing bearer token")
				return
			}
			claims := jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid || claims.Subject == "" {
				writeEnvelope(w, http.StatusUnauthorized, "Unauthorized", "invalid admin token")
				return
			}
			ctx := context.WithValue(r.Context(), adminClaimsKey, claims)
			ctx = tenancy.WithPrincipal(ctx, tenancy.Principal{
				Subject: claims.Subject,
				Roles:   []string{"platform_admin"},
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminClaimsFromContext returns the verified admin token claims if present.
func AdminClaimsFromContext(ctx context.Context) (jwt.RegisteredClaims, bool) {
	claims, ok := ctx.Value(adminClaimsKey).(jwt.RegisteredClaims)
	return claims, ok
}
