package compliance

import (
	"context"
	"time"

	"github.com/engagelegal/intake-platform/pkg/logging"
)

// AsyncRecorder forwards overlay compliance signals to the audit log without
// blocking the calling actor. Each signal gets its own goroutine and a short
// deadline; a lost audit row is logged but never fails the conversation.
type AsyncRecorder struct {
	audit   *AuditService
	logger  *logging.Logger
	timeout time.Duration
}

// NewAsyncRecorder wraps an audit service for fire-and-forget use.
func NewAsyncRecorder(audit *AuditService, logger *logging.Logger) *AsyncRecorder {
	if audit == nil {
		panic("compliance: audit service cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AsyncRecorder{audit: audit, logger: logger.Component("compliance.recorder"), timeout: 5 * time.Second}
}

// RecordPHIDetected logs PHI detection in the background.
func (r *AsyncRecorder) RecordPHIDetected(firmID, sessionID string, kinds []string) {
	r.dispatch("phi_detected", firmID, sessionID, func(ctx context.Context) error {
		return r.audit.LogPHIDetected(ctx, firmID, sessionID, kinds)
	})
}

// RecordIntegrityViolation logs a failed integrity check in the background.
func (r *AsyncRecorder) RecordIntegrityViolation(firmID, sessionID, reason string) {
	r.dispatch("integrity_violation", firmID, sessionID, func(ctx context.Context) error {
		return r.audit.LogIntegrityViolation(ctx, firmID, sessionID, reason)
	})
}

// RecordSessionExpired logs an idle-timeout expiry in the background.
func (r *AsyncRecorder) RecordSessionExpired(firmID, sessionID string) {
	r.dispatch("session_expired", firmID, sessionID, func(ctx context.Context) error {
		return r.audit.LogSessionExpired(ctx, firmID, sessionID)
	})
}

func (r *AsyncRecorder) dispatch(event, firmID, sessionID string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			r.logger.Warn("audit write dropped",
				"event", event, "firmId", firmID, "sessionId", sessionID, "error", err)
		}
	}()
}
