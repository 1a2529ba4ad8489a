package index

import (
	"math"
	"time"
)

// Snapshot is the summarized view of a conversation handed to the projector
// after every successful mutation. It carries only what the index stores.
type Snapshot struct {
	FirmID          string     `json:"firmId"`
	SessionID       string     `json:"sessionId"`
	UserID          string     `json:"userId"`
	Phase           string     `json:"phase"`
	PracticeArea    string     `json:"practiceArea,omitempty"`
	ClientName      string     `json:"clientName,omitempty"`
	ClientEmail     string     `json:"clientEmail,omitempty"`
	ClientPhone     string     `json:"clientPhone,omitempty"`
	ConflictStatus  string     `json:"conflictStatus"`
	IsAuthenticated bool       `json:"isAuthenticated"`
	MessageCount    int        `json:"messageCount"`
	GoalsTotal      int        `json:"goalsTotal"`
	GoalsCompleted  int        `json:"goalsCompleted"`
	IdentityRatio   float64    `json:"identityRatio"`
	LastActivity    time.Time  `json:"lastActivity"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// ConversationRow is one record in the conversation_index table. The
// soft-delete columns are index-owned: the projector and the repair pass
// never write them.
type ConversationRow struct {
	FirmID           string
	SessionID        string
	UserID           string
	Phase            string
	PracticeArea     string
	ClientName       string
	ClientEmail      string
	ClientPhone      string
	ConflictStatus   string
	IsAuthenticated  bool
	MessageCount     int
	GoalsTotal       int
	GoalsCompleted   int
	DataQualityScore int
	LastActivity     time.Time
	CreatedAt        time.Time
	SyncedAt         time.Time

	IsDeleted bool
	DeletedAt *time.Time
	DeletedBy string
}

// Row builds the index row for a snapshot, computing the derived fields.
func (s Snapshot) Row(now time.Time) ConversationRow {
	goalRatio := 0.0
	if s.GoalsTotal > 0 {
		goalRatio = float64(s.GoalsCompleted) / float64(s.GoalsTotal)
	}
	return ConversationRow{
		FirmID:           s.FirmID,
		SessionID:        s.SessionID,
		UserID:           s.UserID,
		Phase:            s.Phase,
		PracticeArea:     s.PracticeArea,
		ClientName:       s.ClientName,
		ClientEmail:      s.ClientEmail,
		ClientPhone:      s.ClientPhone,
		ConflictStatus:   s.ConflictStatus,
		IsAuthenticated:  s.IsAuthenticated,
		MessageCount:     s.MessageCount,
		GoalsTotal:       s.GoalsTotal,
		GoalsCompleted:   s.GoalsCompleted,
		DataQualityScore: DataQualityScore(goalRatio, s.IdentityRatio, s.ConflictStatus == "clear" || s.ConflictStatus == "conflict_detected"),
		LastActivity:     s.LastActivity.UTC(),
		CreatedAt:        s.CreatedAt.UTC(),
		SyncedAt:         now.UTC(),
	}
}

// DataQualityScore weighs goal completion (50), identity completeness (30)
// and conflict-check resolution (20) into a 0-100 score.
func DataQualityScore(goalRatio, identityRatio float64, conflictResolved bool) int {
	resolved := 0.0
	if conflictResolved {
		resolved = 1.0
	}
	score := 50*goalRatio + 30*identityRatio + 20*resolved
	return int(math.Round(math.Min(100, score)))
}
