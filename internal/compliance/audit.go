// Package compliance provides legal-industry compliance features: sensitivity
// classification of intake content and an immutable audit trail.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditEventType represents the type of compliance event.
type AuditEventType string

const (
	// EventFirmRegistered is logged when a firm completes registration.
	EventFirmRegistered AuditEventType = "firm.registered"
	// EventConflictDetected is logged when a conflict check terminates a conversation.
	EventConflictDetected AuditEventType = "intake.conflict_detected"
	// EventPHIDetected is logged when PHI-like content is detected in a message.
	EventPHIDetected AuditEventType = "intake.phi_detected"
	// EventIntegrityViolation is logged when a stored record fails verification.
	EventIntegrityViolation AuditEventType = "intake.integrity_violation"
	// EventSessionExpired is logged when an idle timeout clears authentication.
	EventSessionExpired AuditEventType = "intake.session_expired"
	// EventConversationDeleted is logged on index-side soft delete.
	EventConversationDeleted AuditEventType = "index.conversation_deleted"
)

// AuditEvent represents an immutable compliance audit record.
type AuditEvent struct {
	ID        string          `json:"id"`
	EventType AuditEventType  `json:"event_type"`
	FirmID    string          `json:"firm_id"`
	SessionID string          `json:"session_id,omitempty"`
	Subject   string          `json:"subject,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// AuditDetails contains event-specific details.
type AuditDetails struct {
	PHIKinds        []string `json:"phi_kinds,omitempty"`
	ConflictDetails string   `json:"conflict_details,omitempty"`
	CheckedIdentity []string `json:"checked_identity,omitempty"`
	DeletedBy       string   `json:"deleted_by,omitempty"`
	Reason          string   `json:"reason,omitempty"`
}

// AuditService writes compliance events to the audit_log_index table.
type AuditService struct {
	db *sql.DB
}

// NewAuditService creates a new audit service.
func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

// LogEvent records a compliance audit event.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if s == nil || s.db == nil {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_log_index (
			id, event_type, firm_id, session_id, subject, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		event.FirmID,
		nullString(event.SessionID),
		nullString(event.Subject),
		event.Details,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit event: %w", err)
	}
	return nil
}

// LogPHIDetected logs detection of PHI-like content. The content itself is
// never stored in the audit log.
func (s *AuditService) LogPHIDetected(ctx context.Context, firmID, sessionID string, kinds []string) error {
	details, _ := json.Marshal(AuditDetails{PHIKinds: kinds})
	return s.LogEvent(ctx, AuditEvent{
		EventType: EventPHIDetected,
		FirmID:    firmID,
		SessionID: sessionID,
		Details:   details,
	})
}

// LogConflictDetected logs a conflict check that terminated a conversation.
func (s *AuditService) LogConflictDetected(ctx context.Context, firmID, sessionID string, checkedIdentity []string, conflictDetails string) error {
	details, _ := json.Marshal(AuditDetails{CheckedIdentity: checkedIdentity, ConflictDetails: conflictDetails})
	return s.LogEvent(ctx, AuditEvent{
		EventType: EventConflictDetected,
		FirmID:    firmID,
		SessionID: sessionID,
		Details:   details,
	})
}

// LogIntegrityViolation logs a failed integrity verification.
func (s *AuditService) LogIntegrityViolation(ctx context.Context, firmID, sessionID, reason string) error {
	details, _ := json.Marshal(AuditDetails{Reason: reason})
	return s.LogEvent(ctx, AuditEvent{
		EventType: EventIntegrityViolation,
		FirmID:    firmID,
		SessionID: sessionID,
		Details:   details,
	})
}

// LogSessionExpired logs an idle-timeout authentication reset.
func (s *AuditService) LogSessionExpired(ctx context.Context, firmID, sessionID string) error {
	return s.LogEvent(ctx, AuditEvent{
		EventType: EventSessionExpired,
		FirmID:    firmID,
		SessionID: sessionID,
	})
}

// LogFirmRegistered logs a completed firm registration.
func (s *AuditService) LogFirmRegistered(ctx context.Context, firmID, registeredBy string) error {
	return s.LogEvent(ctx, AuditEvent{
		EventType: EventFirmRegistered,
		FirmID:    firmID,
		Subject:   registeredBy,
	})
}

// LogConversationDeleted logs an index-side soft delete.
func (s *AuditService) LogConversationDeleted(ctx context.Context, firmID, sessionID, deletedBy string) error {
	details, _ := json.Marshal(AuditDetails{DeletedBy: deletedBy})
	return s.LogEvent(ctx, AuditEvent{
		EventType: EventConversationDeleted,
		FirmID:    firmID,
		SessionID: sessionID,
		Subject:   deletedBy,
		Details:   details,
	})
}

// AuditFilter specifies criteria for querying audit events.
type AuditFilter struct {
	FirmID    string
	SessionID string
	EventType AuditEventType
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Offset    int
}

// QueryEvents retrieves audit events with filters.
func (s *AuditService) QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT id, event_type, firm_id, session_id, subject, details, created_at
		FROM audit_log_index
		WHERE firm_id = $1
	`
	args := []interface{}{filter.FirmID}
	argIdx := 2

	if filter.SessionID != "" {
		query += fmt.Sprintf(" AND session_id = $%d", argIdx)
		args = append(args, filter.SessionID)
		argIdx++
	}
	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, filter.EventType)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var sessionID, subject sql.NullString
		err := rows.Scan(&e.ID, &e.EventType, &e.FirmID, &sessionID, &subject, &e.Details, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("compliance: failed to scan audit event: %w", err)
		}
		e.SessionID = sessionID.String
		e.Subject = subject.String
		events = append(events, e)
	}

	return events, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
