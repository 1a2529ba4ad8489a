package compliance

import (
	"regexp"
	"strings"
)

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?1?[-.\s]?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}`)
	ssnRe   = regexp.MustCompile(`\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`)
	dobRe   = regexp.MustCompile(`\b(0?[1-9]|1[0-2])[/\-](0?[1-9]|[12][0-9]|3[01])[/\-](19|20)[0-9]{2}\b`)
)

// Health-related keywords that mark message content as PHI-like. Expanded as
// real transcripts surface gaps.
var healthKeywords = []string{
	"diagnosis", "diagnosed", "prescription", "medication", "surgery",
	"hospital", "treatment", "therapy", "injury", "disability", "illness",
	"cancer", "hiv", "diabetes", "pregnant", "pregnancy", "depression",
	"anxiety", "medical record", "doctor", "physician",
}

// Sensitivity classification kinds.
const (
	KindEmail  = "email"
	KindPhone  = "phone"
	KindSSN    = "ssn"
	KindDOB    = "date_of_birth"
	KindHealth = "health"
)

// DetectSensitive classifies message content for PHI-like and personally
// identifying patterns. It returns the detected kinds and whether the
// content must be treated as sensitive.
func DetectSensitive(text string) ([]string, bool) {
	if strings.TrimSpace(text) == "" {
		return nil, false
	}
	var kinds []string
	if ssnRe.MatchString(text) {
		kinds = append(kinds, KindSSN)
	}
	if emailRe.MatchString(text) {
		kinds = append(kinds, KindEmail)
	}
	if phoneRe.MatchString(text) {
		kinds = append(kinds, KindPhone)
	}
	if dobRe.MatchString(text) {
		kinds = append(kinds, KindDOB)
	}
	lower := strings.ToLower(text)
	for _, kw := range healthKeywords {
		if strings.Contains(lower, kw) {
			kinds = append(kinds, KindHealth)
			break
		}
	}
	return kinds, len(kinds) > 0
}

// ScrubPII replaces emails, phone numbers and SSNs with placeholders. Names
// are kept for review context.
func ScrubPII(text string) string {
	text = ssnRe.ReplaceAllString(text, "[SSN]")
	text = emailRe.ReplaceAllString(text, "[EMAIL]")
	text = phoneRe.ReplaceAllString(text, "[PHONE]")
	return text
}
