package intake

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/engagelegal/intake-platform/internal/tenancy"
)

func newTestHandler(t *testing.T) (*Handler, *serviceHarness) {
	t.Helper()
	h := newServiceHarness(t, nil)
	return NewHandler(h.svc, "https://intake.example.com", nil), h
}

func testRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/conversations", h.Create)
	r.Get("/conversations", h.List)
	r.Get("/conversations/resume/{resumeToken}", h.Resume)
	r.Get("/conversations/{sessionID}/context", h.Context)
	r.Post("/conversations/{sessionID}/messages", h.AddMessage)
	r.Post("/conversations/{sessionID}/identity", h.UpdateIdentity)
	r.Post("/conversations/{sessionID}/authenticate", h.Authenticate)
	r.Post("/conversations/{sessionID}/conflict", h.SetConflict)
	return r
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error.Code
}

func TestHandlerCreateConversation(t *testing.T) {
	h, _ := newTestHandler(t)
	r := testRouter(h)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/conversations",
		strings.NewReader(`{"firmId":"firm-1"}`)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp createConversationResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SessionID == "" || resp.UserID == "" {
		t.Fatal("expected allocated ids")
	}
	if resp.Phase != PhasePreLogin {
		t.Fatalf("expected pre_login phase, got %s", resp.Phase)
	}
	if !strings.HasPrefix(resp.ResumeURL, "https://intake.example.com/conversations/resume/") {
		t.Fatalf("unexpected resume url %q", resp.ResumeURL)
	}
	if len(resp.PreLoginGoals) == 0 {
		t.Fatal("expected seeded pre-login goals")
	}
}

func TestHandlerCreateMissingFirm(t *testing.T) {
	h, _ := newTestHandler(t)
	r := testRouter(h)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/conversations", strings.NewReader(`{}`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "MissingFirmId" {
		t.Fatalf("expected MissingFirmId, got %q", code)
	}
}

func TestHandlerResumeUnknownToken(t *testing.T) {
	h, _ := newTestHandler(t)
	r := testRouter(h)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/resume/deadbeef", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "InvalidResumeToken" {
		t.Fatalf("expected InvalidResumeToken, got %q", code)
	}
}

func TestHandlerSecuredResumeDistinguishesAuthFailure(t *testing.T) {
	h, harness := newTestHandler(t)
	r := testRouter(h)

	created, err := harness.svc.CreateConversation(httptest.NewRequest(http.MethodGet, "/", nil).Context(), CreateRequest{FirmID: "firm-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Secure the conversation as alice.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations/"+created.SessionID+"/authenticate",
		strings.NewReader(`{"auth0UserId":"auth0|alice"}`))
	req.Header.Set("X-Caller-Identity", "auth0|alice")
	req = req.WithContext(tenancy.WithFirmID(req.Context(), "firm-1"))
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticate: %d %s", rec.Code, rec.Body.String())
	}

	// A stranger with the right token still gets 401, not 404.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/conversations/resume/"+created.ResumeToken, nil)
	req.Header.Set("X-Caller-Identity", "auth0|mallory")
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "UnauthorizedAccess" {
		t.Fatalf("expected UnauthorizedAccess, got %q", code)
	}

	// The locked identity resumes fine.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/conversations/resume/"+created.ResumeToken, nil)
	req.Header.Set("X-Caller-Identity", "auth0|alice")
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for owner, got %d", rec.Code)
	}
}

func TestHandlerAddMessageValidation(t *testing.T) {
	h, harness := newTestHandler(t)
	r := testRouter(h)

	created, err := harness.svc.CreateConversation(httptest.NewRequest(http.MethodGet, "/", nil).Context(), CreateRequest{FirmID: "firm-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations/"+created.SessionID+"/messages",
		strings.NewReader(`{"role":"wizard","content":"hi"}`))
	req = req.WithContext(tenancy.WithFirmID(req.Context(), "firm-1"))
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "InvalidMessage" {
		t.Fatalf("expected InvalidMessage, got %q", code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/conversations/"+created.SessionID+"/messages",
		strings.NewReader(`{"role":"user","content":"my brakes failed"}`))
	req = req.WithContext(tenancy.WithFirmID(req.Context(), "firm-1"))
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res AddMessageResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.MessageID == "" || res.MessageCount != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestHandlerConflictTerminates(t *testing.T) {
	h, harness := newTestHandler(t)
	r := testRouter(h)

	created, err := harness.svc.CreateConversation(httptest.NewRequest(http.MethodGet, "/", nil).Context(), CreateRequest{FirmID: "firm-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations/"+created.SessionID+"/conflict",
		strings.NewReader(`{"status":"conflict_detected","checkedIdentity":["Acme Corp"],"details":"opposing party"}`))
	req = req.WithContext(tenancy.WithFirmID(req.Context(), "firm-1"))
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res ConflictResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Phase != PhaseTerminated {
		t.Fatalf("expected terminated, got %s", res.Phase)
	}
}

func TestHandlerListRequiresFirm(t *testing.T) {
	h, _ := newTestHandler(t)
	r := testRouter(h)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "MissingFirmId" {
		t.Fatalf("expected MissingFirmId, got %q", code)
	}
}
