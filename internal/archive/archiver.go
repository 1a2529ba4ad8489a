package archive

import (
	"context"
	"time"

	"github.com/engagelegal/intake-platform/internal/compliance"
	"github.com/engagelegal/intake-platform/internal/intake"
	"github.com/engagelegal/intake-platform/pkg/logging"
)

// Record is the retention export written to S3 when a conversation reaches a
// terminal phase. Message content is PII-scrubbed; the authoritative record
// stays in the actor's store.
type Record struct {
	FirmID        string    `json:"firmId"`
	SessionID     string    `json:"sessionId"`
	UserID        string    `json:"userId"`
	Phase         string    `json:"phase"`
	PracticeArea  string    `json:"practiceArea,omitempty"`
	ConflictState string    `json:"conflictStatus"`
	MessageCount  int       `json:"messageCount"`
	Messages      []Message `json:"messages"`
	GoalsTotal    int       `json:"goalsTotal"`
	GoalsComplete int       `json:"goalsCompleted"`
	CreatedAt     time.Time `json:"createdAt"`
	ClosedAt      time.Time `json:"closedAt"`
	ArchivedAt    time.Time `json:"archivedAt"`
	RetentionDays int       `json:"retentionDays"`
}

// Message is one scrubbed transcript entry.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ManifestEntry is one JSONL line in a firm's monthly manifest.
type ManifestEntry struct {
	SessionID     string `json:"sessionId"`
	S3Key         string `json:"s3Key"`
	Phase         string `json:"phase"`
	ArchivedAt    string `json:"archivedAt"`
	MessageCount  int    `json:"messageCount"`
	RetentionDays int    `json:"retentionDays"`
}

// RetentionResolver returns the retention window, in days, a firm has
// configured for closed conversations.
type RetentionResolver interface {
	RetentionDays(ctx context.Context, firmID string) (int, error)
}

// DefaultRetentionDays covers firms with no explicit policy; seven years is
// the common floor for legal matter records.
const DefaultRetentionDays = 2555

// Archiver exports terminal conversations for long-term retention. It
// implements the conversation service's archive hook; errors are returned so
// the caller can log them, but the caller never fails a request over them.
type Archiver struct {
	store     *Store
	retention RetentionResolver
	logger    *logging.Logger
	clock     func() time.Time
}

// NewArchiver creates an Archiver. retention may be nil, in which case every
// export carries the default window.
func NewArchiver(store *Store, retention RetentionResolver, logger *logging.Logger) *Archiver {
	if store == nil {
		panic("archive: archiver store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Archiver{
		store:     store,
		retention: retention,
		logger:    logger.Component("archive"),
		clock:     time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (a *Archiver) WithClock(clock func() time.Time) *Archiver {
	a.clock = clock
	return a
}

// Archive scrubs and exports one terminal conversation.
func (a *Archiver) Archive(ctx context.Context, st *intake.State) error {
	if !a.store.Enabled() {
		return nil
	}

	days := DefaultRetentionDays
	if a.retention != nil {
		if d, err := a.retention.RetentionDays(ctx, st.FirmID); err != nil {
			a.logger.Warn("retention lookup failed, using default",
				"firm_id", st.FirmID, "error", err)
		} else if d > 0 {
			days = d
		}
	}

	msgs := make([]Message, 0, len(st.Messages))
	for _, m := range st.Messages {
		content := m.Content
		if m.Encrypted {
			// Never export ciphertext or attempt decryption here.
			content = "[ENCRYPTED]"
		} else {
			content = compliance.ScrubPII(content)
		}
		msgs = append(msgs, Message{Role: m.Role, Content: content, Timestamp: m.Timestamp})
	}

	rec := &Record{
		FirmID:        st.FirmID,
		SessionID:     st.SessionID,
		UserID:        st.UserID,
		Phase:         string(st.Phase),
		PracticeArea:  st.Identity.LegalArea,
		ConflictState: string(st.Conflict.Status),
		MessageCount:  len(st.Messages),
		Messages:      msgs,
		GoalsTotal:    len(st.DataGoals),
		GoalsComplete: len(st.CompletedGoals),
		CreatedAt:     st.CreatedAt,
		ClosedAt:      st.LastActivity,
		ArchivedAt:    a.clock().UTC(),
		RetentionDays: days,
	}
	return a.store.Put(ctx, rec)
}
