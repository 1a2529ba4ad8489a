package intake

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/engagelegal/intake-platform/pkg/logging"
)

// FirmDirectory is the registry dependency the arena needs: existence checks
// and the HIPAA flag that selects the compliance overlay.
type FirmDirectory interface {
	FirmExists(ctx context.Context, firmID string) (bool, error)
	HIPAAEnabled(ctx context.Context, firmID string) (bool, error)
}

// OverlayFactory builds the compliance overlay for a firm's conversations.
type OverlayFactory func(firmID string) Overlay

// Arena is the runtime home of conversation actors: an addressable set of
// single-writer state machines keyed by session id, each backed by its own
// record in the state store. Instances share no mutable memory.
type Arena struct {
	store   StateStore
	firms   FirmDirectory
	overlay OverlayFactory
	clock   func() time.Time
	logger  *logging.Logger

	mu     sync.Mutex
	actors map[string]*Actor
}

// NewArena creates an actor arena over the given store. overlay may be nil,
// in which case all conversations run the base (non-HIPAA) behavior.
func NewArena(store StateStore, firms FirmDirectory, overlay OverlayFactory, logger *logging.Logger) *Arena {
	if store == nil {
		panic("intake: state store cannot be nil")
	}
	if firms == nil {
		panic("intake: firm directory cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Arena{
		store:   store,
		firms:   firms,
		overlay: overlay,
		clock:   time.Now,
		logger:  logger,
		actors:  make(map[string]*Actor),
	}
}

// WithClock overrides the time source. Test hook.
func (ar *Arena) WithClock(clock func() time.Time) *Arena {
	ar.clock = clock
	return ar
}

// CreateRequest seeds a new conversation.
type CreateRequest struct {
	FirmID    string
	SessionID string // optional; allocated when empty
	Goals     []DataGoal
	Identity  *UserIdentity
}

// Create allocates a new conversation record and spawns its actor.
func (ar *Arena) Create(ctx context.Context, req CreateRequest) (Snapshot, error) {
	if req.FirmID == "" {
		return Snapshot{}, ErrMissingFirmID
	}
	exists, err := ar.firms.FirmExists(ctx, req.FirmID)
	if err != nil {
		return Snapshot{}, ErrStorage.WithDetail("firm lookup failed: %v", err)
	}
	if !exists {
		return Snapshot{}, ErrMissingFirmID.WithDetail("firm %q is not registered", req.FirmID)
	}

	now := ar.clock().UTC()
	st := &State{
		SessionID:    req.SessionID,
		UserID:       newID(),
		FirmID:       req.FirmID,
		Phase:        PhasePreLogin,
		ResumeToken:  newResumeToken(),
		Conflict:     ConflictCheck{Status: ConflictPending},
		DataGoals:    DefaultPreLoginGoals(),
		LastActivity: now,
		CreatedAt:    now,
	}
	if st.SessionID == "" {
		st.SessionID = newID()
	}
	if req.Identity != nil {
		st.Identity = st.Identity.Merge(*req.Identity)
	}
	known := st.GoalIDs()
	for _, g := range req.Goals {
		if g.ID == "" {
			continue
		}
		if _, ok := known[g.ID]; ok {
			continue
		}
		st.DataGoals = append(st.DataGoals, g)
		known[g.ID] = struct{}{}
	}

	overlay := ar.overlayFor(ctx, st.FirmID)
	if err := overlay.OnSave(ctx, st); err != nil {
		return Snapshot{}, err
	}
	if err := ar.store.Save(ctx, st); err != nil {
		return Snapshot{}, ErrStorage.WithDetail("durable write failed: %v", err)
	}

	ar.mu.Lock()
	if _, ok := ar.actors[st.SessionID]; !ok {
		ar.actors[st.SessionID] = newActor(st.SessionID, ar.store, ar.overlayFor, ar.clock, ar.logger)
	}
	ar.mu.Unlock()

	return st.snapshot("", nil), nil
}

// Actor returns the running actor for a session, spawning one if needed. The
// actor loads its state lazily on first use; an unknown session surfaces as
// ErrSessionNotFound from the first operation. The compliance overlay is
// resolved from the stored record's own firm once the state loads, so the
// firmID the caller supplies cannot weaken an existing conversation's
// protection.
func (ar *Arena) Actor(_ context.Context, _ string, sessionID string) *Actor {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	if a, ok := ar.actors[sessionID]; ok {
		return a
	}
	a := newActor(sessionID, ar.store, ar.overlayFor, ar.clock, ar.logger)
	ar.actors[sessionID] = a
	return a
}

// ResolveResumeToken maps a resume token to its session without confirming
// anything to the caller beyond token validity.
func (ar *Arena) ResolveResumeToken(ctx context.Context, token string) (firmID, sessionID string, err error) {
	st, err := ar.store.FindByResumeToken(ctx, token)
	if err != nil {
		return "", "", err
	}
	return st.FirmID, st.SessionID, nil
}

// Close stops every running actor.
func (ar *Arena) Close() {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	for id, a := range ar.actors {
		a.shutdown()
		delete(ar.actors, id)
	}
}

func (ar *Arena) overlayFor(ctx context.Context, firmID string) Overlay {
	if ar.overlay == nil || firmID == "" {
		return noopOverlay{}
	}
	hipaa, err := ar.firms.HIPAAEnabled(ctx, firmID)
	if err != nil {
		ar.logger.Warn("hipaa flag lookup failed; applying compliance overlay", "firm_id", firmID, "error", err)
		hipaa = true
	}
	if !hipaa {
		return noopOverlay{}
	}
	if o := ar.overlay(firmID); o != nil {
		return o
	}
	return noopOverlay{}
}

// newID allocates a globally unique, lexically sortable identifier. UUIDv7
// embeds a millisecond timestamp in the high bits, so string order tracks
// creation order.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// newResumeToken mints the opaque capability string granting session resume.
func newResumeToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return hex.EncodeToString(buf)
}
