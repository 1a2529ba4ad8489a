package intake

import (
	"errors"
	"fmt"
	"net/http"
)

// Error carries the stable machine-readable code surfaced to API clients.
type Error struct {
	Code    string
	Message string
	Status  int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithDetail returns a copy of the error with extra human-readable context.
// The code and status are preserved so clients can still match on kind.
func (e *Error) WithDetail(format string, args ...any) *Error {
	return &Error{Code: e.Code, Message: fmt.Sprintf(format, args...), Status: e.Status}
}

// Is lets errors.Is match any instance sharing the same code.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

var (
	// ErrMissingFirmID covers both an absent firmId parameter and a firm
	// unknown to the registry.
	ErrMissingFirmID = &Error{Code: "MissingFirmId", Message: "a valid firm id is required", Status: http.StatusBadRequest}

	// ErrInvalidMessage rejects empty content or an unknown role.
	ErrInvalidMessage = &Error{Code: "InvalidMessage", Message: "message role and content are required", Status: http.StatusBadRequest}

	// ErrInvalidResumeToken means the token matches no conversation. The
	// caller cannot distinguish "never existed" from "token rotated".
	ErrInvalidResumeToken = &Error{Code: "InvalidResumeToken", Message: "resume token is not valid", Status: http.StatusNotFound}

	// ErrSessionNotFound means the session id is explicitly absent.
	ErrSessionNotFound = &Error{Code: "SessionNotFound", Message: "conversation does not exist", Status: http.StatusNotFound}

	// ErrUnauthorizedAccess means the conversation exists but the caller
	// lacks rights to it.
	ErrUnauthorizedAccess = &Error{Code: "UnauthorizedAccess", Message: "caller is not permitted to access this conversation", Status: http.StatusUnauthorized}

	// ErrInvalidStateTransition rejects mutations against terminal phases.
	ErrInvalidStateTransition = &Error{Code: "InvalidStateTransition", Message: "conversation phase does not permit this operation", Status: http.StatusConflict}

	// ErrUnknownGoal rejects completing a goal that was never added.
	ErrUnknownGoal = &Error{Code: "UnknownGoal", Message: "goal id is not part of this conversation", Status: http.StatusBadRequest}

	// ErrInvalidConflictStatus rejects unrecognized conflict results.
	ErrInvalidConflictStatus = &Error{Code: "InvalidConflictStatus", Message: "conflict status must be pending, clear or conflict_detected", Status: http.StatusBadRequest}

	// ErrIntegrityViolation is raised by the HIPAA overlay when the stored
	// record fails its integrity check. Fail closed, never continue.
	ErrIntegrityViolation = &Error{Code: "IntegrityViolation", Message: "conversation record failed integrity verification", Status: http.StatusInternalServerError}

	// ErrStorage wraps durable-storage failures; retries are the caller's
	// responsibility.
	ErrStorage = &Error{Code: "StorageFailure", Message: "conversation storage is unavailable", Status: http.StatusInternalServerError}

	// ErrSearchUnavailable means no similarity collaborator is configured.
	ErrSearchUnavailable = &Error{Code: "SearchUnavailable", Message: "conversation search is not configured", Status: http.StatusServiceUnavailable}

	// ErrAnalyticsUnavailable means the analytics store is not configured.
	ErrAnalyticsUnavailable = &Error{Code: "AnalyticsUnavailable", Message: "conversation analytics is not configured", Status: http.StatusServiceUnavailable}

	// ErrRepairUnavailable means no reconciler is wired for this deployment.
	ErrRepairUnavailable = &Error{Code: "RepairUnavailable", Message: "index repair is not configured", Status: http.StatusServiceUnavailable}
)

// HTTPStatus maps an error to its response status; unknown errors are 500.
func HTTPStatus(err error) int {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Status
	}
	return http.StatusInternalServerError
}

// ErrorCode returns the machine-readable code for an error, or InternalError.
func ErrorCode(err error) string {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Code
	}
	return "InternalError"
}
