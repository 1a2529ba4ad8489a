package firms

import (
	"net/http"

	"github.com/engagelegal/intake-platform/internal/intake"
)

var (
	// ErrDuplicateFirm rejects a slug, domain or contact email already
	// mapped to another firm.
	ErrDuplicateFirm = &intake.Error{Code: "DuplicateFirm", Message: "slug, domain or contact email is already registered", Status: http.StatusConflict}

	// ErrInvalidFirmData rejects malformed registration or update payloads.
	ErrInvalidFirmData = &intake.Error{Code: "InvalidFirmData", Message: "firm data failed validation", Status: http.StatusBadRequest}

	// ErrFirmNotFound means the firm id resolves to nothing.
	ErrFirmNotFound = &intake.Error{Code: "FirmNotFound", Message: "firm does not exist", Status: http.StatusNotFound}

	// ErrStorage wraps durable-storage failures in the registry.
	ErrStorage = &intake.Error{Code: "StorageFailure", Message: "firm storage is unavailable", Status: http.StatusInternalServerError}
)
