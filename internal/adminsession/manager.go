package adminsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/engagelegal/intake-platform/pkg/logging"
)

// ErrNotFound means the session is absent or already expired.
var ErrNotFound = errors.New("adminsession: session not found")

// Session is one admin session record. Activity pushes ExpiresAt forward.
type Session struct {
	ID           string    `json:"id"`
	Subject      string    `json:"subject"`
	FirmID       string    `json:"firmId,omitempty"`
	Roles        []string  `json:"roles,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Manager stores admin sessions in Redis under a TTL and schedules an
// in-process wake-up at each session's expiry. Admin sessions must not
// linger holding authorization, so expiry is proactive, not lazy.
type Manager struct {
	redis  *redis.Client
	tracer trace.Tracer
	logger *logging.Logger
	ttl    time.Duration
	clock  func() time.Time

	mu     sync.Mutex
	alarms map[string]*time.Timer
}

// NewManager creates a session manager with the given idle TTL.
func NewManager(client *redis.Client, ttl time.Duration, logger *logging.Logger) *Manager {
	if client == nil {
		panic("adminsession: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		redis:  client,
		tracer: otel.Tracer("adminsession"),
		logger: logger,
		ttl:    ttl,
		clock:  time.Now,
		alarms: make(map[string]*time.Timer),
	}
}

// WithClock overrides the time source. Test hook; alarms still use real
// timers.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// Create opens a session for the subject and schedules its expiry alarm.
func (m *Manager) Create(ctx context.Context, subject, firmID string, roles []string) (*Session, error) {
	ctx, span := m.tracer.Start(ctx, "adminsession.create")
	defer span.End()

	now := m.clock().UTC()
	sess := &Session{
		ID:           uuid.NewString(),
		Subject:      subject,
		FirmID:       firmID,
		Roles:        append([]string(nil), roles...),
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(m.ttl),
	}
	if err := m.write(ctx, sess); err != nil {
		span.RecordError(err)
		return nil, err
	}
	m.scheduleAlarm(sess.ID, m.ttl)
	return sess, nil
}

// Get fetches a live session. An expired-but-not-yet-reaped record counts as
// absent: the expiry check runs on every read, not just at the alarm.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	ctx, span := m.tracer.Start(ctx, "adminsession.get")
	defer span.End()

	sess, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !m.clock().UTC().Before(sess.ExpiresAt) {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Touch records activity, pushing the expiry window and the alarm forward.
func (m *Manager) Touch(ctx context.Context, sessionID string) (*Session, error) {
	ctx, span := m.tracer.Start(ctx, "adminsession.touch")
	defer span.End()

	sess, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	now := m.clock().UTC()
	sess.LastActivity = now
	sess.ExpiresAt = now.Add(m.ttl)
	if err := m.write(ctx, sess); err != nil {
		span.RecordError(err)
		return nil, err
	}
	m.scheduleAlarm(sess.ID, m.ttl)
	return sess, nil
}

// Delete removes a session immediately. Deleting an absent session is fine.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	ctx, span := m.tracer.Start(ctx, "adminsession.delete")
	defer span.End()

	m.cancelAlarm(sessionID)
	if err := m.redis.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("adminsession: failed to delete session: %w", err)
	}
	return nil
}

// Close cancels every pending alarm.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, timer := range m.alarms {
		timer.Stop()
		delete(m.alarms, id)
	}
}

// scheduleAlarm arms (or re-arms) the wake-up for a session.
func (m *Manager) scheduleAlarm(sessionID string, after time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if timer, ok := m.alarms[sessionID]; ok {
		timer.Stop()
	}
	m.alarms[sessionID] = time.AfterFunc(after, func() { m.expire(sessionID) })
}

func (m *Manager) cancelAlarm(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if timer, ok := m.alarms[sessionID]; ok {
		timer.Stop()
		delete(m.alarms, sessionID)
	}
}

// expire runs when an alarm fires. Activity may have pushed the expiry out
// after this alarm was armed, so it re-checks before deleting: still present
// and still expired, or nothing happens.
func (m *Manager) expire(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := m.load(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.logger.Warn("session expiry check failed", "session_id", sessionID, "error", err)
		}
		m.cancelAlarm(sessionID)
		return
	}

	now := m.clock().UTC()
	if now.Before(sess.ExpiresAt) {
		// activity moved the window; re-arm for the new expiry
		m.scheduleAlarm(sessionID, sess.ExpiresAt.Sub(now))
		return
	}

	m.cancelAlarm(sessionID)
	if err := m.redis.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		m.logger.Warn("session expiry delete failed", "session_id", sessionID, "error", err)
		return
	}
	m.logger.Info("admin session expired", "session_id", sessionID, "subject", sess.Subject)
}

func (m *Manager) write(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("adminsession: failed to marshal session: %w", err)
	}
	// Redis TTL is a backstop one interval past the alarm
	if err := m.redis.Set(ctx, sessionKey(sess.ID), data, 2*m.ttl).Err(); err != nil {
		return fmt.Errorf("adminsession: failed to persist session: %w", err)
	}
	return nil
}

func (m *Manager) load(ctx context.Context, sessionID string) (*Session, error) {
	data, err := m.redis.Get(ctx, sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("adminsession: failed to load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("adminsession: failed to decode session: %w", err)
	}
	return &sess, nil
}

func sessionKey(id string) string {
	return fmt.Sprintf("adminsession:%s", id)
}
