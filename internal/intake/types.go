package intake

import (
	"time"
)

// Phase tracks where a conversation sits in the intake lifecycle.
type Phase string

const (
	PhasePreLogin      Phase = "pre_login"
	PhaseSecured       Phase = "secured"
	PhaseDataGathering Phase = "data_gathering"
	PhaseCompleted     Phase = "completed"
	PhaseTerminated    Phase = "terminated"
)

var phaseOrder = map[Phase]int{
	PhasePreLogin:      0,
	PhaseSecured:       1,
	PhaseDataGathering: 2,
	PhaseCompleted:     3,
}

// Terminal reports whether the phase accepts no further mutations.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseTerminated
}

// CanAdvanceTo reports whether the ordinary forward progression allows moving
// from p to next. Termination on conflict bypasses this check.
func (p Phase) CanAdvanceTo(next Phase) bool {
	cur, ok := phaseOrder[p]
	if !ok {
		return false
	}
	target, ok := phaseOrder[next]
	if !ok {
		return false
	}
	return target >= cur
}

// Role identifies the author of a conversation message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

func validRole(role string) bool {
	return role == RoleUser || role == RoleAssistant || role == RoleSystem
}

// Message is one entry in the append-only transcript.
type Message struct {
	ID        string            `dynamodbav:"id" json:"id"`
	Role      string            `dynamodbav:"role" json:"role"`
	Content   string            `dynamodbav:"content" json:"content"`
	Timestamp time.Time         `dynamodbav:"timestamp" json:"timestamp"`
	Metadata  map[string]string `dynamodbav:"metadata,omitempty" json:"metadata,omitempty"`
	Encrypted bool              `dynamodbav:"encrypted,omitempty" json:"-"`
	KeyID     string            `dynamodbav:"keyId,omitempty" json:"-"`
}

// UserIdentity holds the partial identity captured during intake.
type UserIdentity struct {
	Name      string `dynamodbav:"name,omitempty" json:"name,omitempty"`
	Email     string `dynamodbav:"email,omitempty" json:"email,omitempty"`
	Phone     string `dynamodbav:"phone,omitempty" json:"phone,omitempty"`
	LegalArea string `dynamodbav:"legalArea,omitempty" json:"legalArea,omitempty"`
}

// Merge overlays non-empty fields from other onto u. Previously captured
// fields are never dropped.
func (u UserIdentity) Merge(other UserIdentity) UserIdentity {
	if other.Name != "" {
		u.Name = other.Name
	}
	if other.Email != "" {
		u.Email = other.Email
	}
	if other.Phone != "" {
		u.Phone = other.Phone
	}
	if other.LegalArea != "" {
		u.LegalArea = other.LegalArea
	}
	return u
}

// CompletenessRatio is the fraction of identity fields captured so far.
func (u UserIdentity) CompletenessRatio() float64 {
	fields := []string{u.Name, u.Email, u.Phone, u.LegalArea}
	filled := 0
	for _, f := range fields {
		if f != "" {
			filled++
		}
	}
	return float64(filled) / float64(len(fields))
}

// ConflictStatus tracks the outcome of the ethical conflict check.
type ConflictStatus string

const (
	ConflictPending  ConflictStatus = "pending"
	ConflictClear    ConflictStatus = "clear"
	ConflictDetected ConflictStatus = "conflict_detected"
)

// ConflictCheck records the latest conflict-of-interest verification.
type ConflictCheck struct {
	Status          ConflictStatus `dynamodbav:"status" json:"status"`
	CheckedIdentity []string       `dynamodbav:"checkedIdentity,omitempty" json:"checkedIdentity,omitempty"`
	CheckedAt       time.Time      `dynamodbav:"checkedAt,omitempty" json:"checkedAt,omitempty"`
	Details         string         `dynamodbav:"details,omitempty" json:"details,omitempty"`
}

// DataGoal is a unit of information the intake agent is asked to collect.
type DataGoal struct {
	ID          string `dynamodbav:"id" json:"id"`
	Description string `dynamodbav:"description" json:"description"`
	Required    bool   `dynamodbav:"required,omitempty" json:"required,omitempty"`
}

// State is the authoritative record owned by one conversation actor.
type State struct {
	SessionID string `dynamodbav:"sessionId" json:"sessionId"`
	UserID    string `dynamodbav:"userId" json:"userId"`
	FirmID    string `dynamodbav:"firmId" json:"firmId"`

	Phase           Phase    `dynamodbav:"phase" json:"phase"`
	IsAuthenticated bool     `dynamodbav:"isAuthenticated" json:"isAuthenticated"`
	IsSecured       bool     `dynamodbav:"isSecured" json:"isSecured"`
	ResumeToken     string   `dynamodbav:"resumeToken" json:"-"`
	AllowedUsers    []string `dynamodbav:"allowedAuth0Users,omitempty" json:"-"`

	Identity UserIdentity  `dynamodbav:"userIdentity" json:"userIdentity"`
	Conflict ConflictCheck `dynamodbav:"conflictCheck" json:"conflictCheck"`

	DataGoals      []DataGoal `dynamodbav:"dataGoals,omitempty" json:"dataGoals,omitempty"`
	CompletedGoals []string   `dynamodbav:"completedGoals,omitempty" json:"completedGoals,omitempty"`

	Messages []Message `dynamodbav:"messages,omitempty" json:"messages,omitempty"`

	LastActivity time.Time `dynamodbav:"lastActivity" json:"lastActivity"`
	CreatedAt    time.Time `dynamodbav:"createdAt" json:"createdAt"`

	// Version backs the optimistic write condition in durable storage.
	Version int64 `dynamodbav:"version" json:"-"`
	// IntegrityHash is maintained by the HIPAA overlay; empty otherwise.
	IntegrityHash string `dynamodbav:"integrityHash,omitempty" json:"-"`
}

// Clone returns a deep copy so that in-flight mutations stay invisible until
// the durable write succeeds.
func (s *State) Clone() *State {
	cp := *s
	cp.AllowedUsers = append([]string(nil), s.AllowedUsers...)
	cp.DataGoals = append([]DataGoal(nil), s.DataGoals...)
	cp.CompletedGoals = append([]string(nil), s.CompletedGoals...)
	cp.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		cp.Messages[i] = m
		if m.Metadata != nil {
			md := make(map[string]string, len(m.Metadata))
			for k, v := range m.Metadata {
				md[k] = v
			}
			cp.Messages[i].Metadata = md
		}
	}
	cp.Conflict.CheckedIdentity = append([]string(nil), s.Conflict.CheckedIdentity...)
	return &cp
}

// GoalIDs returns the set of known goal identifiers.
func (s *State) GoalIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(s.DataGoals))
	for _, g := range s.DataGoals {
		ids[g.ID] = struct{}{}
	}
	return ids
}

// GoalCompletionRatio is completed goals over total goals; 0 when no goals.
func (s *State) GoalCompletionRatio() float64 {
	if len(s.DataGoals) == 0 {
		return 0
	}
	return float64(len(s.CompletedGoals)) / float64(len(s.DataGoals))
}

// AllowsCaller reports whether identity may access a secured conversation.
func (s *State) AllowsCaller(identity string) bool {
	if identity == "" {
		return false
	}
	for _, u := range s.AllowedUsers {
		if u == identity {
			return true
		}
	}
	return false
}

// Snapshot is the read projection handed to orchestration and API callers.
type Snapshot struct {
	SessionID       string        `json:"sessionId"`
	UserID          string        `json:"userId"`
	FirmID          string        `json:"firmId"`
	Phase           Phase         `json:"phase"`
	IsAuthenticated bool          `json:"isAuthenticated"`
	IsSecured       bool          `json:"isSecured"`
	ResumeToken     string        `json:"resumeToken,omitempty"`
	Identity        UserIdentity  `json:"userIdentity"`
	Conflict        ConflictCheck `json:"conflictCheck"`
	DataGoals       []DataGoal    `json:"dataGoals"`
	CompletedGoals  []string      `json:"completedGoals"`
	Messages        []Message     `json:"messages"`
	MessageCount    int           `json:"messageCount"`
	LastActivity    time.Time     `json:"lastActivity"`
	CreatedAt       time.Time     `json:"createdAt"`
}

// snapshot builds the caller-visible view. The resume token is withheld once
// the conversation is secured unless the caller is the locked identity.
func (s *State) snapshot(caller string, messages []Message) Snapshot {
	snap := Snapshot{
		SessionID:       s.SessionID,
		UserID:          s.UserID,
		FirmID:          s.FirmID,
		Phase:           s.Phase,
		IsAuthenticated: s.IsAuthenticated,
		IsSecured:       s.IsSecured,
		Identity:        s.Identity,
		Conflict:        s.Conflict,
		DataGoals:       append([]DataGoal(nil), s.DataGoals...),
		CompletedGoals:  append([]string(nil), s.CompletedGoals...),
		Messages:        messages,
		MessageCount:    len(s.Messages),
		LastActivity:    s.LastActivity,
		CreatedAt:       s.CreatedAt,
	}
	if !s.IsSecured || s.AllowsCaller(caller) {
		snap.ResumeToken = s.ResumeToken
	}
	return snap
}

// DefaultPreLoginGoals seeds a fresh conversation with the baseline intake
// goals every firm expects before a matter can be evaluated.
func DefaultPreLoginGoals() []DataGoal {
	return []DataGoal{
		{ID: "full_name", Description: "Capture the prospective client's full name", Required: true},
		{ID: "contact_info", Description: "Capture a callback email or phone number", Required: true},
		{ID: "legal_area", Description: "Identify the area of law for the matter", Required: true},
		{ID: "matter_summary", Description: "Summarize what happened and when", Required: true},
	}
}
