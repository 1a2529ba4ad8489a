package middleware

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/engagelegal/intake-platform/internal/tenancy"
)

// BearerConfig configures validation of RS256 bearer tokens from the
// external identity provider.
type BearerConfig struct {
	IssuerURL string // e.g. https://engagelegal.us.auth0.com/
	Audience  string
	FirmClaim string // claim carrying the caller's firm id
	RoleClaim string // claim carrying the caller's roles
}

const (
	defaultFirmClaim = "https://engagelegal.app/firmId"
	defaultRoleClaim = "https://engagelegal.app/roles"
)

// IntakeClaims are the claims the platform reads from a verified token.
type IntakeClaims struct {
	jwt.RegisteredClaims
	Email  string   `json:"email"`
	FirmID string   `json:"-"`
	Roles  []string `json:"-"`
}

const intakeClaimsKey contextKey = "intakeClaims"

// jwksCache caches the signing keys fetched from the issuer.
type jwksCache struct {
	mu      sync.RWMutex
	keys    map[string]*rsa.PublicKey
	expires time.Time
	issuer  string
}

var jwksCaches = make(map[string]*jwksCache)
var jwksCachesMu sync.RWMutex

// BearerAuth validates RS256 bearer JWTs against the issuer's JWKS and
// attaches the resulting principal to the request context. Tokens without a
// firm claim are rejected: every authenticated call is scoped to a tenant.
func BearerAuth(cfg BearerConfig) func(http.Handler) http.Handler {
	if cfg.IssuerURL == "" {
		// Reject everything when the gateway is not configured.
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(w, http.StatusUnauthorized, "Unauthorized", "bearer auth not configured")
			})
		}
	}

	issuer := strings.TrimSuffix(cfg.IssuerURL, "/") + "/"
	jwksURL := issuer + ".well-known/jwks.json"
	firmClaim := cfg.FirmClaim
	if firmClaim == "" {
		firmClaim = defaultFirmClaim
	}
	roleClaim := cfg.RoleClaim
	if roleClaim == "" {
		roleClaim = defaultRoleClaim
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				writeEnvelope(w, http.StatusUnauthorized, "Unauthorized", "missing bearer token")
				return
			}
			tokenString := strings.TrimPrefix(auth, "Bearer ")

			token, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
			if err != nil {
				writeEnvelope(w, http.StatusUnauthorized, "Unauthorized", "invalid token format")
				return
			}
			kid, ok := token.Header["kid"].(string)
			if !ok {
				writeEnvelope(w, http.StatusUnauthorized, "Unauthorized", "missing key id in token")
				return
			}

			pubKey, err := getPublicKey(jwksURL, kid, issuer)
			if err != nil {
				writeEnvelope(w, http.StatusUnauthorized, "Unauthorized", fmt.Sprintf("failed to get public key: %s", err.Error()))
				return
			}

			opts := []jwt.ParserOption{jwt.WithIssuer(issuer), jwt.WithExpirationRequired()}
			if cfg.Audience != "" {
				opts = append(opts, jwt.WithAudience(cfg.Audience))
			}
			raw := jwt.MapClaims{}
			validatedToken, err := jwt.ParseWithClaims(tokenString, raw, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
				}
				return pubKey, nil
			}, opts...)
			if err != nil || !validatedToken.Valid {
				writeEnvelope(w, http.StatusUnauthorized, "Unauthorized", "invalid token")
				return
			}

			claims := claimsFromMap(raw, firmClaim, roleClaim)
			if claims.Subject == "" {
				writeEnvelope(w, http.StatusUnauthorized, "Unauthorized", "token has no subject")
				return
			}
			if claims.FirmID == "" {
				writeEnvelope(w, http.StatusForbidden, "MissingFirmId", "token is not scoped to a firm")
				return
			}

			ctx := context.WithValue(r.Context(), intakeClaimsKey, claims)
			ctx = tenancy.WithPrincipal(ctx, tenancy.Principal{
				Subject: claims.Subject,
				FirmID:  claims.FirmID,
				Roles:   claims.Roles,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IntakeClaimsFromContext retrieves verified token claims from the request
// context.
func IntakeClaimsFromContext(ctx context.Context) (*IntakeClaims, bool) {
	claims, ok := ctx.Value(intakeClaimsKey).(*IntakeClaims)
	return claims, ok
}

func claimsFromMap(raw jwt.MapClaims, firmClaim, roleClaim string) *IntakeClaims {
	claims := &IntakeClaims{}
	if sub, err := raw.GetSubject(); err == nil {
		claims.Subject = sub
	}
	if email, ok := raw["email"].(string); ok {
		claims.Email = email
	}
	if firm, ok := raw[firmClaim].(string); ok {
		claims.FirmID = firm
	}
	if roles, ok := raw[roleClaim].([]any); ok {
		for _, role := range roles {
			if s, ok := role.(string); ok {
				claims.Roles = append(claims.Roles, s)
			}
		}
	}
	return claims
}

// getPublicKey fetches and caches the signing key from the issuer's JWKS.
func getPublicKey(jwksURL, kid, issuer string) (*rsa.PublicKey, error) {
	jwksCachesMu.RLock()
	cache, exists := jwksCaches[issuer]
	jwksCachesMu.RUnlock()

	if exists {
		cache.mu.RLock()
		if time.Now().Before(cache.expires) {
			if key, ok := cache.keys[kid]; ok {
				cache.mu.RUnlock()
				return key, nil
			}
		}
		cache.mu.RUnlock()
	}

	keys, err := fetchJWKS(jwksURL)
	if err != nil {
		return nil, err
	}

	jwksCachesMu.Lock()
	jwksCaches[issuer] = &jwksCache{
		keys:    keys,
		expires: time.Now().Add(1 * time.Hour),
		issuer:  issuer,
	}
	jwksCachesMu.Unlock()

	key, ok := keys[kid]
	if !ok {
		return nil, fmt.Errorf("key %s not found in JWKS", kid)
	}
	return key, nil
}

// jwksResponse represents the JWKS document served by the issuer.
type jwksResponse struct {
	Keys []jwkKey `json:"keys"`
}

type jwkKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// fetchJWKS fetches the JWKS from the given URL.
func fetchJWKS(url string) (map[string]*rsa.PublicKey, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS request failed with status %d", resp.StatusCode)
	}

	var jwks jwksResponse
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey)
	for _, key := range jwks.Keys {
		if key.Kty != "RSA" {
			continue
		}
		pubKey, err := parseRSAPublicKey(key.N, key.E)
		if err != nil {
			continue
		}
		keys[key.Kid] = pubKey
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("no valid RSA keys found in JWKS")
	}
	return keys, nil
}

// parseRSAPublicKey parses RSA public key components from base64url-encoded strings.
func parseRSAPublicKey(nStr, eStr string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := 0
	for _, b := range eBytes {
		e = e<<8 + int(b)
	}
	return &rsa.PublicKey{N: n, E: e}, nil
}

// BearerOrAdminJWT accepts either an identity-provider bearer token or the
// internal HMAC admin token, so operator tooling and end-user traffic can
// share one route group.
func BearerOrAdminJWT(cfg BearerConfig, adminSecret string) func(http.Handler) http.Handler {
	bearerMW := BearerAuth(cfg)
	adminMW := AdminJWT(adminSecret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				writeEnvelope(w, http.StatusUnauthorized, "Unauthorized", "missing bearer token")
				return
			}
			tokenString := strings.TrimPrefix(auth, "Bearer ")

			parts := strings.Split(tokenString, ".")
			if len(parts) == 3 {
				headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
				if err == nil {
					var header map[string]interface{}
					if json.Unmarshal(headerBytes, &header) == nil {
						if alg, ok := header["alg"].(string); ok && alg == "RS256" {
							if _, hasKid := header["kid"]; hasKid {
								bearerMW(next).ServeHTTP(w, r)
								return
							}
						}
					}
				}
			}

			adminMW(next).ServeHTTP(w, r)
		})
	}
}
