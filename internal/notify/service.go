package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/engagelegal/intake-platform/internal/firms"
	"github.com/engagelegal/intake-platform/pkg/logging"
)

// FailoverSender tries the primary sender and falls back to the secondary
// when the primary is missing or fails. Either slot may be nil.
type FailoverSender struct {
	primary   EmailSender
	secondary EmailSender
	logger    *logging.Logger
}

// NewFailoverSender creates a sender that prefers primary.
func NewFailoverSender(primary, secondary EmailSender, logger *logging.Logger) *FailoverSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &FailoverSender{primary: primary, secondary: secondary, logger: logger}
}

// Send delivers via the primary, then the secondary.
func (f *FailoverSender) Send(ctx context.Context, msg EmailMessage) error {
	if f.primary != nil {
		err := f.primary.Send(ctx, msg)
		if err == nil {
			return nil
		}
		f.logger.Warn("primary email sender failed", "error", err, "to", msg.To)
	}
	if f.secondary != nil {
		return f.secondary.Send(ctx, msg)
	}
	return fmt.Errorf("notify: no email sender configured")
}

var _ EmailSender = (*FailoverSender)(nil)

// Service sends firm-facing notifications.
type Service struct {
	email   EmailSender
	baseURL string
	logger  *logging.Logger
	clock   func() time.Time
}

// NewService creates a notification service. baseURL is the public app URL
// used in email links.
func NewService(email EmailSender, baseURL string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:   email,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger.Component("notify"),
		clock:   time.Now,
	}
}

// SendFirmWelcome emails the firm's contact after registration.
func (s *Service) SendFirmWelcome(ctx context.Context, rec *firms.Record) error {
	if s.email == nil {
		s.logger.Debug("email sender not configured, skipping welcome")
		return nil
	}
	if rec == nil || rec.ContactEmail == "" {
		return nil
	}

	trialEnds := rec.Subscription.TrialEndsAt.Format("January 2, 2006")
	intakeURL := fmt.Sprintf("%s/intake/%s", s.baseURL, rec.Slug)

	body := fmt.Sprintf(
		"Welcome to EngageLegal, %s!\n\n"+
			"Your client intake workspace is ready. Prospective clients can start\n"+
			"a conversation at:\n\n    %s\n\n"+
			"Your %s trial runs through %s. You can add team members,\n"+
			"practice areas and retention settings from the firm dashboard.\n\n"+
			"— The EngageLegal team\n",
		rec.Name, intakeURL, rec.Subscription.Tier, trialEnds)

	msg := EmailMessage{
		To:      rec.ContactEmail,
		ToName:  rec.Name,
		Subject: "Your EngageLegal intake workspace is ready",
		Body:    body,
		FirmID:  rec.FirmID,
	}
	if err := s.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: firm welcome: %w", err)
	}
	s.logger.Info("firm welcome sent", "firm_id", rec.FirmID, "to", rec.ContactEmail)
	return nil
}
