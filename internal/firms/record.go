package firms

import (
	"regexp"
	"strings"
	"time"
)

// SubscriptionTier buckets firms by plan.
const (
	TierStarter      = "starter"
	TierProfessional = "professional"
	TierEnterprise   = "enterprise"
)

// tierConversationLimits are the monthly defaults applied at registration
// when the caller does not set an explicit limit.
var tierConversationLimits = map[string]int{
	TierStarter:      200,
	TierProfessional: 1_000,
	TierEnterprise:   10_000,
}

// TrialDuration is the free-trial window granted to every new firm.
const TrialDuration = 14 * 24 * time.Hour

// AdminPermissions is the full permission set granted to the first user.
var AdminPermissions = []string{
	"manage_firm",
	"manage_users",
	"view_conversations",
	"manage_conversations",
	"delete_conversations",
	"view_analytics",
}

// Subscription tracks a firm's plan and trial window.
type Subscription struct {
	Tier        string    `dynamodbav:"tier" json:"tier"`
	Status      string    `dynamodbav:"status" json:"status"`
	TrialEndsAt time.Time `dynamodbav:"trialEndsAt" json:"trialEndsAt"`
}

// User is one authorized member of a firm.
type User struct {
	UserID      string    `dynamodbav:"userId" json:"userId"`
	Email       string    `dynamodbav:"email" json:"email"`
	Name        string    `dynamodbav:"name,omitempty" json:"name,omitempty"`
	Role        string    `dynamodbav:"role" json:"role"`
	Permissions []string  `dynamodbav:"permissions,omitempty" json:"permissions,omitempty"`
	AddedAt     time.Time `dynamodbav:"addedAt" json:"addedAt"`
}

// Record is the authoritative firm entry owned by the registry actor.
type Record struct {
	FirmID        string   `dynamodbav:"firmId" json:"firmId"`
	Name          string   `dynamodbav:"name" json:"name"`
	Slug          string   `dynamodbav:"slug" json:"slug"`
	Domain        string   `dynamodbav:"domain,omitempty" json:"domain,omitempty"`
	ContactEmail  string   `dynamodbav:"contactEmail" json:"contactEmail"`
	PracticeAreas []string `dynamodbav:"practiceAreas,omitempty" json:"practiceAreas,omitempty"`

	HIPAAEnabled bool `dynamodbav:"hipaaEnabled" json:"hipaaEnabled"`

	Subscription             Subscription `dynamodbav:"subscription" json:"subscription"`
	MonthlyConversationLimit int          `dynamodbav:"monthlyConversationLimit" json:"monthlyConversationLimit"`
	CurrentUsage             int          `dynamodbav:"currentUsage" json:"currentUsage"`
	RetentionPolicyDays      int          `dynamodbav:"retentionPolicyDays" json:"retentionPolicyDays"`

	Users []User `dynamodbav:"users,omitempty" json:"users,omitempty"`

	CreatedAt time.Time `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `dynamodbav:"updatedAt" json:"updatedAt"`

	Version int64 `dynamodbav:"version" json:"-"`
}

// Clone returns a deep copy so callers never share registry memory.
func (r *Record) Clone() *Record {
	cp := *r
	cp.PracticeAreas = append([]string(nil), r.PracticeAreas...)
	cp.Users = make([]User, len(r.Users))
	for i, u := range r.Users {
		cp.Users[i] = u
		cp.Users[i].Permissions = append([]string(nil), u.Permissions...)
	}
	return &cp
}

var (
	slugRe  = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
)

// Slugify derives a URL slug from a firm name: lowercased, non-alphanumerics
// stripped, whitespace runs collapsed to single hyphens.
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case r == ' ' || r == '-' || r == '_':
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// ValidSlug reports whether s is an acceptable firm slug.
func ValidSlug(s string) bool { return slugRe.MatchString(s) }

// ValidEmail reports whether s looks like a deliverable address.
func ValidEmail(s string) bool { return emailRe.MatchString(s) }

// HasUser reports whether the identity is on the firm's roster.
func (r *Record) HasUser(userID string) bool {
	for _, u := range r.Users {
		if u.UserID == userID {
			return true
		}
	}
	return false
}

// OverLimit reports whether the firm has exhausted its monthly allowance.
// A non-positive limit means unlimited.
func (r *Record) OverLimit() bool {
	return r.MonthlyConversationLimit > 0 && r.CurrentUsage >= r.MonthlyConversationLimit
}
