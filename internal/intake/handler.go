package intake

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/engagelegal/intake-platform/internal/index"
	"github.com/engagelegal/intake-platform/internal/tenancy"
	"github.com/engagelegal/intake-platform/pkg/logging"
)

// Handler exposes the conversation API over HTTP.
type Handler struct {
	svc     *Service
	baseURL string
	logger  *logging.Logger
}

// NewHandler creates a conversation handler. baseURL is used to build the
// resume link handed to new conversations.
func NewHandler(svc *Service, baseURL string, logger *logging.Logger) *Handler {
	if svc == nil {
		panic("intake: handler service cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, baseURL: baseURL, logger: logger.Component("intake.http")}
}

// errorBody is the stable error envelope: a machine-readable code plus a
// human message, nothing from the storage engine.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	body := errorBody{}
	body.Error.Code = ErrorCode(err)
	var ie *Error
	if errors.As(err, &ie) {
		body.Error.Message = ie.Message
	} else {
		body.Error.Message = "internal error"
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// callerIdentity resolves who is making the request: the authenticated
// principal when present, else the optional identity header used by the
// pre-login widget.
func callerIdentity(r *http.Request) string {
	if p, ok := tenancy.PrincipalFromContext(r.Context()); ok {
		return p.Subject
	}
	return r.Header.Get("X-Caller-Identity")
}

// firmID resolves the tenant: the principal's firm claim wins; public
// endpoints may carry it in the body instead.
func firmID(r *http.Request, fromBody string) string {
	if id, ok := tenancy.FirmIDFromContext(r.Context()); ok {
		return id
	}
	return fromBody
}

type createConversationRequest struct {
	FirmID    string        `json:"firmId"`
	SessionID string        `json:"sessionId,omitempty"`
	Goals     []DataGoal    `json:"goals,omitempty"`
	Identity  *UserIdentity `json:"identity,omitempty"`
}

type createConversationResponse struct {
	SessionID       string     `json:"sessionId"`
	UserID          string     `json:"userId"`
	ResumeURL       string     `json:"resumeUrl"`
	Phase           Phase      `json:"phase"`
	IsAuthenticated bool       `json:"isAuthenticated"`
	PreLoginGoals   []DataGoal `json:"preLoginGoals"`
}

// Create handles POST /conversations.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, ErrInvalidMessage.WithDetail("request body is not valid JSON"))
		return
	}

	snap, err := h.svc.CreateConversation(r.Context(), CreateRequest{
		FirmID:    firmID(r, req.FirmID),
		SessionID: req.SessionID,
		Goals:     req.Goals,
		Identity:  req.Identity,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createConversationResponse{
		SessionID:       snap.SessionID,
		UserID:          snap.UserID,
		ResumeURL:       fmt.Sprintf("%s/conversations/resume/%s", h.baseURL, snap.ResumeToken),
		Phase:           snap.Phase,
		IsAuthenticated: snap.IsAuthenticated,
		PreLoginGoals:   snap.DataGoals,
	})
}

// Resume handles GET /conversations/resume/{resumeToken}.
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "resumeToken")
	snap, err := h.svc.ResumeConversation(r.Context(), token, callerIdentity(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Context handles GET /conversations/{sessionID}/context.
func (h *Handler) Context(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.GetContext(r.Context(), firmID(r, r.URL.Query().Get("firmId")), chi.URLParam(r, "sessionID"), callerIdentity(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type addMessageRequest struct {
	Role     string            `json:"role"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// AddMessage handles POST /conversations/{sessionID}/messages.
func (h *Handler) AddMessage(w http.ResponseWriter, r *http.Request) {
	var req addMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, ErrInvalidMessage)
		return
	}
	res, err := h.svc.AddMessage(r.Context(), firmID(r, ""), chi.URLParam(r, "sessionID"), req.Role, req.Content, req.Metadata)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// UpdateIdentity handles POST /conversations/{sessionID}/identity.
func (h *Handler) UpdateIdentity(w http.ResponseWriter, r *http.Request) {
	var partial UserIdentity
	if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
		h.writeError(w, r, ErrInvalidMessage.WithDetail("identity body is not valid JSON"))
		return
	}
	merged, err := h.svc.UpdateIdentity(r.Context(), firmID(r, ""), chi.URLParam(r, "sessionID"), partial)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, merged)
}

type authenticateRequest struct {
	UserID string `json:"auth0UserId"`
}

// Authenticate handles POST /conversations/{sessionID}/authenticate. The
// identity must come from a verified token when one is present; the body
// field only serves pre-verified internal callers.
func (h *Handler) Authenticate(w http.ResponseWriter, r *http.Request) {
	var req authenticateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, ErrInvalidMessage.WithDetail("authenticate body is not valid JSON"))
		return
	}
	identity := callerIdentity(r)
	if identity == "" {
		identity = req.UserID
	}
	res, err := h.svc.Authenticate(r.Context(), firmID(r, ""), chi.URLParam(r, "sessionID"), identity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type addGoalsRequest struct {
	Goals []DataGoal `json:"goals"`
}

// AddGoals handles POST /conversations/{sessionID}/goals.
func (h *Handler) AddGoals(w http.ResponseWriter, r *http.Request) {
	var req addGoalsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, ErrInvalidMessage.WithDetail("goals body is not valid JSON"))
		return
	}
	goals, err := h.svc.AddDataGoals(r.Context(), firmID(r, ""), chi.URLParam(r, "sessionID"), req.Goals)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dataGoals": goals})
}

// CompleteGoal handles POST /conversations/{sessionID}/goals/{goalID}/complete.
func (h *Handler) CompleteGoal(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.CompleteGoal(r.Context(), firmID(r, ""), chi.URLParam(r, "sessionID"), chi.URLParam(r, "goalID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type conflictRequest struct {
	Status          ConflictStatus `json:"status"`
	CheckedIdentity []string       `json:"checkedIdentity,omitempty"`
	Details         string         `json:"details,omitempty"`
}

// SetConflict handles POST /conversations/{sessionID}/conflict.
func (h *Handler) SetConflict(w http.ResponseWriter, r *http.Request) {
	var req conflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, ErrInvalidMessage.WithDetail("conflict body is not valid JSON"))
		return
	}
	res, err := h.svc.SetConflictResult(r.Context(), firmID(r, ""), chi.URLParam(r, "sessionID"), req.Status, req.CheckedIdentity, req.Details)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type listResponse struct {
	Conversations []index.ConversationRow `json:"conversations"`
	Total         int                     `json:"total"`
	HasMore       bool                    `json:"hasMore"`
	Limit         int                     `json:"limit"`
	Offset        int                     `json:"offset"`
}

// List handles GET /conversations.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	fid := firmID(r, r.URL.Query().Get("firmId"))
	if fid == "" {
		h.writeError(w, r, ErrMissingFirmID)
		return
	}

	q := r.URL.Query()
	filter := index.ListFilter{
		Phase:          q.Get("phase"),
		PracticeArea:   q.Get("practiceArea"),
		ConflictStatus: q.Get("conflictStatus"),
	}
	if since := q.Get("activeSince"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			filter.ActiveSince = t
		}
	}

	opts := index.ListOptions{Limit: 25, SortBy: q.Get("sortBy"), SortDesc: q.Get("sortDir") != "asc"}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 && limit <= 100 {
		opts.Limit = limit
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil && offset >= 0 {
		opts.Offset = offset
	}

	res, err := h.svc.ListConversations(r.Context(), fid, filter, opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{
		Conversations: res.Rows,
		Total:         res.Total,
		HasMore:       res.HasMore,
		Limit:         opts.Limit,
		Offset:        opts.Offset,
	})
}

// Search handles GET /conversations/search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	fid := firmID(r, r.URL.Query().Get("firmId"))
	if fid == "" {
		h.writeError(w, r, ErrMissingFirmID)
		return
	}
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		h.writeError(w, r, ErrInvalidMessage.WithDetail("query parameter q is required"))
		return
	}

	opts := SearchOptions{Threshold: 0.5, PracticeArea: q.Get("practiceArea")}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 && limit <= 50 {
		opts.Limit = limit
	}
	if th, err := strconv.ParseFloat(q.Get("threshold"), 64); err == nil && th >= 0 && th <= 1 {
		opts.Threshold = th
	}

	hits, err := h.svc.SearchConversations(r.Context(), fid, query, opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": hits, "count": len(hits)})
}

// Analytics handles GET /conversations/analytics.
func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	fid := firmID(r, r.URL.Query().Get("firmId"))
	if fid == "" {
		h.writeError(w, r, ErrMissingFirmID)
		return
	}

	var start, end *time.Time
	if s := r.URL.Query().Get("start"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			start = &t
		}
	}
	if e := r.URL.Query().Get("end"); e != "" {
		if t, err := time.Parse(time.RFC3339, e); err == nil {
			end = &t
		}
	}

	stats, err := h.svc.GetConversationAnalytics(r.Context(), fid, start, end)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Delete handles DELETE /conversations/{sessionID}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	fid := firmID(r, "")
	if fid == "" {
		h.writeError(w, r, ErrMissingFirmID)
		return
	}
	if err := h.svc.DeleteConversation(r.Context(), fid, chi.URLParam(r, "sessionID"), callerIdentity(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// VerifyIndex handles GET /admin/firms/{firmID}/index/verify. Verification
// is read-only, so it rides a GET; repair mutates and stays a POST.
func (h *Handler) VerifyIndex(w http.ResponseWriter, r *http.Request) {
	findings, err := h.svc.VerifyIndex(r.Context(), chi.URLParam(r, "firmID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inconsistencies": findings, "count": len(findings)})
}

// RepairIndex handles POST /admin/firms/{firmID}/index/repair.
func (h *Handler) RepairIndex(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.RepairIndex(r.Context(), chi.URLParam(r, "firmID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
