package adminsession

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/engagelegal/intake-platform/internal/tenancy"
	"github.com/engagelegal/intake-platform/pkg/logging"
)

// Handler exposes admin session lifecycle over HTTP. The routes sit behind
// the admin JWT middleware; the session records what the operator is
// currently authorized for.
type Handler struct {
	manager *Manager
	logger  *logging.Logger
}

// NewHandler creates an admin session handler.
func NewHandler(manager *Manager, logger *logging.Logger) *Handler {
	if manager == nil {
		panic("adminsession: handler manager cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{manager: manager, logger: logger.Component("adminsession.http")}
}

type createSessionRequest struct {
	Subject string   `json:"subject"`
	FirmID  string   `json:"firmId,omitempty"`
	Roles   []string `json:"roles,omitempty"`
}

// Create handles POST /admin/sessions. The subject defaults to the
// authenticated principal when the body omits it.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Subject == "" {
		if p, ok := tenancy.PrincipalFromContext(r.Context()); ok {
			req.Subject = p.Subject
			if req.FirmID == "" {
				req.FirmID = p.FirmID
			}
			if len(req.Roles) == 0 {
				req.Roles = p.Roles
			}
		}
	}
	if req.Subject == "" {
		http.Error(w, `{"error":"subject is required"}`, http.StatusBadRequest)
		return
	}

	sess, err := h.manager.Create(r.Context(), req.Subject, req.FirmID, req.Roles)
	if err != nil {
		h.logger.Error("session create failed", "subject", req.Subject, "error", err)
		http.Error(w, `{"error":"session store unavailable"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(sess)
}

// Get handles GET /admin/sessions/{sessionID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.manager.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sess)
}

// Touch handles POST /admin/sessions/{sessionID}/touch, extending expiry.
func (h *Handler) Touch(w http.ResponseWriter, r *http.Request) {
	sess, err := h.manager.Touch(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sess)
}

// Delete handles DELETE /admin/sessions/{sessionID}. Deleting an absent
// session succeeds.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Delete(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		h.logger.Error("session delete failed", "error", err)
		http.Error(w, `{"error":"session store unavailable"}`, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	}
	h.logger.Error("session lookup failed", "error", err)
	http.Error(w, `{"error":"session store unavailable"}`, http.StatusInternalServerError)
}
