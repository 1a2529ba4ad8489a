package intake

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/engagelegal/intake-platform/internal/compliance"
	"github.com/engagelegal/intake-platform/internal/securekeys"
	"github.com/engagelegal/intake-platform/pkg/logging"
)

// DefaultIdleTimeout is the hard HIPAA session idle window.
const DefaultIdleTimeout = 15 * time.Minute

// ComplianceRecorder receives compliance signals from the overlay. Calls are
// best effort and must not block the actor.
type ComplianceRecorder interface {
	RecordPHIDetected(firmID, sessionID string, kinds []string)
	RecordIntegrityViolation(firmID, sessionID, reason string)
	RecordSessionExpired(firmID, sessionID string)
}

// HIPAAOverlay layers compliance behavior onto the base actor: per-message
// sensitivity classification, field-level encryption of sensitive content, a
// rolling integrity hash verified on every load, and a hard idle timeout
// evaluated lazily on every access.
type HIPAAOverlay struct {
	firmID      string
	keys        securekeys.Provider
	idleTimeout time.Duration
	recorder    ComplianceRecorder
	logger      *logging.Logger
}

// NewHIPAAOverlay builds the overlay for one firm's conversations.
func NewHIPAAOverlay(firmID string, keys securekeys.Provider, idleTimeout time.Duration, recorder ComplianceRecorder, logger *logging.Logger) *HIPAAOverlay {
	if keys == nil {
		panic("intake: key provider cannot be nil")
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &HIPAAOverlay{
		firmID:      firmID,
		keys:        keys,
		idleTimeout: idleTimeout,
		recorder:    recorder,
		logger:      logger,
	}
}

var _ Overlay = (*HIPAAOverlay)(nil)

// OnLoad verifies the integrity hash. A mismatch fails closed: the record is
// treated as compromised and no operation proceeds.
func (h *HIPAAOverlay) OnLoad(ctx context.Context, st *State) error {
	if st.IntegrityHash == "" {
		if h.recorder != nil {
			h.recorder.RecordIntegrityViolation(st.FirmID, st.SessionID, "missing integrity hash")
		}
		return ErrIntegrityViolation.WithDetail("record has no integrity hash")
	}
	key, err := h.keys.ActiveKey(ctx, st.FirmID)
	if err != nil {
		return ErrStorage.WithDetail("key lookup failed: %v", err)
	}
	expected := securekeys.MAC(key.Material, canonicalRecord(st))
	if !securekeys.MACEqual(expected, st.IntegrityHash) {
		if h.recorder != nil {
			h.recorder.RecordIntegrityViolation(st.FirmID, st.SessionID, "hash mismatch")
		}
		return ErrIntegrityViolation
	}
	return nil
}

// OnAccess enforces the idle timeout. Expiry clears authentication (the
// secured latch and allowed identities survive so the same identity can
// re-authenticate) and fails the current operation instead of extending the
// window.
func (h *HIPAAOverlay) OnAccess(_ context.Context, st *State, now time.Time) error {
	if !st.IsAuthenticated {
		return nil
	}
	if now.Sub(st.LastActivity) <= h.idleTimeout {
		return nil
	}
	st.IsAuthenticated = false
	if h.recorder != nil {
		h.recorder.RecordSessionExpired(st.FirmID, st.SessionID)
	}
	return ErrUnauthorizedAccess.WithDetail("session idle timeout exceeded")
}

// BeforeAppend classifies the message and encrypts content when required.
func (h *HIPAAOverlay) BeforeAppend(ctx context.Context, st *State, msg *Message) error {
	kinds, sensitive := compliance.DetectSensitive(msg.Content)
	if !sensitive {
		return nil
	}
	key, err := h.keys.ActiveKey(ctx, st.FirmID)
	if err != nil {
		return ErrStorage.WithDetail("key lookup failed: %v", err)
	}
	sealed, err := securekeys.Seal(key.Material, msg.Content)
	if err != nil {
		return ErrStorage.WithDetail("message encryption failed: %v", err)
	}
	msg.Content = sealed
	msg.Encrypted = true
	msg.KeyID = key.ID
	if msg.Metadata == nil {
		msg.Metadata = make(map[string]string, 1)
	}
	msg.Metadata["classification"] = strings.Join(kinds, ",")
	if h.recorder != nil {
		h.recorder.RecordPHIDetected(st.FirmID, st.SessionID, kinds)
	}
	return nil
}

// OnSave recomputes the rolling integrity hash over the canonical record.
func (h *HIPAAOverlay) OnSave(ctx context.Context, st *State) error {
	key, err := h.keys.ActiveKey(ctx, st.FirmID)
	if err != nil {
		return ErrStorage.WithDetail("key lookup failed: %v", err)
	}
	st.IntegrityHash = ""
	st.IntegrityHash = securekeys.MAC(key.Material, canonicalRecord(st))
	return nil
}

// OpenMessages decrypts encrypted content for the caller-visible view. The
// stored slice is never modified.
func (h *HIPAAOverlay) OpenMessages(ctx context.Context, st *State, msgs []Message) ([]Message, error) {
	needsKey := false
	for _, m := range msgs {
		if m.Encrypted {
			needsKey = true
			break
		}
	}
	if !needsKey {
		return msgs, nil
	}
	key, err := h.keys.ActiveKey(ctx, st.FirmID)
	if err != nil {
		return nil, ErrStorage.WithDetail("key lookup failed: %v", err)
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m
		if !m.Encrypted {
			continue
		}
		plain, err := securekeys.Open(key.Material, m.Content)
		if err != nil {
			if h.recorder != nil {
				h.recorder.RecordIntegrityViolation(st.FirmID, st.SessionID, "message decryption failed")
			}
			return nil, ErrIntegrityViolation.WithDetail("message %s failed decryption", m.ID)
		}
		out[i].Content = plain
		out[i].Encrypted = false
	}
	return out, nil
}

// canonicalRecord serializes the fields covered by the integrity hash in a
// stable order. Version and the hash itself are excluded.
func canonicalRecord(st *State) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%s|%s|%t|%t|%s|", st.SessionID, st.UserID, st.FirmID, st.Phase, st.IsAuthenticated, st.IsSecured, st.ResumeToken)
	fmt.Fprintf(&b, "allowed:%s|", strings.Join(st.AllowedUsers, ","))
	fmt.Fprintf(&b, "identity:%s,%s,%s,%s|", st.Identity.Name, st.Identity.Email, st.Identity.Phone, st.Identity.LegalArea)
	fmt.Fprintf(&b, "conflict:%s,%s,%d|", st.Conflict.Status, strings.Join(st.Conflict.CheckedIdentity, ","), st.Conflict.CheckedAt.UnixNano())
	for _, g := range st.DataGoals {
		fmt.Fprintf(&b, "goal:%s,%t|", g.ID, g.Required)
	}
	fmt.Fprintf(&b, "completed:%s|", strings.Join(st.CompletedGoals, ","))
	for _, m := range st.Messages {
		fmt.Fprintf(&b, "msg:%s,%s,%d,%t,%s|", m.ID, m.Role, m.Timestamp.UnixNano(), m.Encrypted, m.Content)
	}
	fmt.Fprintf(&b, "created:%d", st.CreatedAt.UnixNano())
	return []byte(b.String())
}
