package firms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/engagelegal/intake-platform/internal/intake"
	"github.com/engagelegal/intake-platform/pkg/logging"
)

// Notifier sends the welcome email after a successful registration. Delivery
// failures never fail the registration.
type Notifier interface {
	SendFirmWelcome(ctx context.Context, rec *Record) error
}

// Auditor records completed registrations on the compliance trail. Audit
// failures never fail the registration.
type Auditor interface {
	LogFirmRegistered(ctx context.Context, firmID, registeredBy string) error
}

// Handler exposes firm registration and management over HTTP.
type Handler struct {
	registry *Registry
	notifier Notifier
	auditor  Auditor
	logger   *logging.Logger
}

// NewHandler creates a firm management handler. notifier and auditor may be
// nil.
func NewHandler(registry *Registry, notifier Notifier, auditor Auditor, logger *logging.Logger) *Handler {
	if registry == nil {
		panic("firms: handler registry cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{registry: registry, notifier: notifier, auditor: auditor, logger: logger.Component("firms.http")}
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{}
	body.Error.Code = intake.ErrorCode(err)
	var ie *intake.Error
	if errors.As(err, &ie) {
		body.Error.Message = ie.Message
	} else {
		body.Error.Message = "internal error"
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(intake.HTTPStatus(err))
	json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Register handles POST /firms.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, ErrInvalidFirmData.WithDetail("request body is not valid JSON"))
		return
	}

	rec, err := h.registry.RegisterFirm(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("firm registered", "firmId", rec.FirmID, "slug", rec.Slug)

	if h.auditor != nil {
		if aerr := h.auditor.LogFirmRegistered(r.Context(), rec.FirmID, rec.ContactEmail); aerr != nil {
			h.logger.Warn("audit write for registration failed", "firmId", rec.FirmID, "error", aerr)
		}
	}
	if h.notifier != nil {
		if nerr := h.notifier.SendFirmWelcome(r.Context(), rec); nerr != nil {
			h.logger.Warn("welcome email failed", "firmId", rec.FirmID, "error", nerr)
		}
	}
	writeJSON(w, http.StatusCreated, rec)
}

// Get handles GET /firms/{firmID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.registry.Get(r.Context(), chi.URLParam(r, "firmID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// BySlug handles GET /firms/by-slug/{slug}. Serves the public intake widget
// bootstrap, so it returns only what the widget needs.
func (h *Handler) BySlug(w http.ResponseWriter, r *http.Request) {
	rec, err := h.registry.BySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"firmId":        rec.FirmID,
		"name":          rec.Name,
		"slug":          rec.Slug,
		"practiceAreas": rec.PracticeAreas,
	})
}

// Update handles PATCH /firms/{firmID}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var upd Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		h.writeError(w, r, ErrInvalidFirmData.WithDetail("request body is not valid JSON"))
		return
	}
	rec, err := h.registry.UpdateFirm(r.Context(), chi.URLParam(r, "firmID"), upd)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// AddUser handles POST /firms/{firmID}/users.
func (h *Handler) AddUser(w http.ResponseWriter, r *http.Request) {
	var user User
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		h.writeError(w, r, ErrInvalidFirmData.WithDetail("request body is not valid JSON"))
		return
	}
	rec, err := h.registry.AddUser(r.Context(), chi.URLParam(r, "firmID"), user)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// RemoveUser handles DELETE /firms/{firmID}/users/{userID}. Removing an
// absent user is a quiet no-op.
func (h *Handler) RemoveUser(w http.ResponseWriter, r *http.Request) {
	rec, err := h.registry.RemoveUser(r.Context(), chi.URLParam(r, "firmID"), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
