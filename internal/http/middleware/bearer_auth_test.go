package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/engagelegal/intake-platform/internal/tenancy"
)

type jwksFixture struct {
	key    *rsa.PrivateKey
	server *httptest.Server
	issuer string
}

// newJWKSFixture serves a JWKS document for a generated RSA key. The issuer
// URL is the test server itself so issuer validation exercises the real path.
func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}

	payload := jwksResponse{
		Keys: []jwkKey{{
			Kid: "test-kid",
			Kty: "RSA",
			Alg: "RS256",
			Use: "sig",
			N:   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(intToBytes(key.PublicKey.E)),
		}},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() {
		jwksCachesMu.Lock()
		delete(jwksCaches, server.URL+"/")
		jwksCachesMu.Unlock()
	})

	return &jwksFixture{key: key, server: server, issuer: server.URL + "/"}
}

func (f *jwksFixture) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["iss"]; !ok {
		claims["iss"] = f.issuer
	}
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(5 * time.Minute).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-kid"
	signed, err := token.SignedString(f.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestBearerAuthNotConfigured(t *testing.T) {
	mw := BearerAuth(BearerConfig{})
	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestBearerAuthAttachesPrincipal(t *testing.T) {
	f := newJWKSFixture(t)
	mw := BearerAuth(BearerConfig{IssuerURL: f.issuer})

	token := f.sign(t, jwt.MapClaims{
		"sub":            "auth0|alice",
		"email":          "alice@example.com",
		defaultFirmClaim: "firm-1",
		defaultRoleClaim: []any{"attorney", "admin"},
	})

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	called := false
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		p, ok := tenancy.PrincipalFromContext(r.Context())
		if !ok {
			t.Fatal("expected principal in context")
		}
		if p.Subject != "auth0|alice" || p.FirmID != "firm-1" {
			t.Fatalf("unexpected principal %+v", p)
		}
		if !p.HasRole("attorney") {
			t.Fatal("expected attorney role")
		}
		if firmID, ok := tenancy.FirmIDFromContext(r.Context()); !ok || firmID != "firm-1" {
			t.Fatalf("expected firm id in context, got %q", firmID)
		}
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	if !called || rec.Code != http.StatusOK {
		t.Fatalf("expected handler call with 200, called=%v code=%d", called, rec.Code)
	}
}

func TestBearerAuthRejectsTokenWithoutFirm(t *testing.T) {
	f := newJWKSFixture(t)
	mw := BearerAuth(BearerConfig{IssuerURL: f.issuer})

	token := f.sign(t, jwt.MapClaims{"sub": "auth0|bob"})

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status %d, got %d", http.StatusForbidden, rec.Code)
	}
}

func TestBearerAuthRejectsExpiredToken(t *testing.T) {
	f := newJWKSFixture(t)
	mw := BearerAuth(BearerConfig{IssuerURL: f.issuer})

	token := f.sign(t, jwt.MapClaims{
		"sub":            "auth0|alice",
		defaultFirmClaim: "firm-1",
		"exp":            time.Now().Add(-time.Minute).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestBearerAuthRejectsWrongAudience(t *testing.T) {
	f := newJWKSFixture(t)
	mw := BearerAuth(BearerConfig{IssuerURL: f.issuer, Audience: "https://api.engagelegal.app"})

	token := f.sign(t, jwt.MapClaims{
		"sub":            "auth0|alice",
		defaultFirmClaim: "firm-1",
		"aud":            "https://other.example.com",
	})

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestBearerOrAdminJWTFallsBackToAdmin(t *testing.T) {
	token := signedAdminToken(t, "secret")
	mw := BearerOrAdminJWT(BearerConfig{}, "secret")

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	called := false
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	if !called || rec.Code != http.StatusOK {
		t.Fatalf("expected admin fallback, called=%v code=%d", called, rec.Code)
	}
}

func TestParseRSAPublicKeyRoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	n := base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes())
	e := base64.RawURLEncoding.EncodeToString(intToBytes(key.PublicKey.E))

	parsed, err := parseRSAPublicKey(n, e)
	if err != nil {
		t.Fatalf("parse rsa key: %v", err)
	}
	if parsed.N.Cmp(key.PublicKey.N) != 0 || parsed.E != key.PublicKey.E {
		t.Fatalf("parsed key does not match original")
	}
}

func TestFetchJWKSReturnsErrorOnBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	if _, err := fetchJWKS(server.URL); err == nil {
		t.Fatalf("expected error for non-200 response")
	}
}

func TestIntakeClaimsFromContext(t *testing.T) {
	claims := &IntakeClaims{Email: "user@example.com", FirmID: "firm-1"}
	ctx := context.WithValue(context.Background(), intakeClaimsKey, claims)
	got, ok := IntakeClaimsFromContext(ctx)
	if !ok || got.FirmID != "firm-1" {
		t.Fatalf("expected claims from context")
	}
}

func intToBytes(v int) []byte {
	if v == 0 {
		return []byte{0}
	}
	out := []byte{}
	for v > 0 {
		out = append([]byte{byte(v & 0xff)}, out...)
		v >>= 8
	}
	return out
}
