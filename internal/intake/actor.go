package intake

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/engagelegal/intake-platform/pkg/logging"
)

// Overlay lets a compliance variant hook into the actor lifecycle. The base
// actor uses a no-op overlay; the HIPAA overlay adds classification,
// encryption, integrity hashing and idle expiry.
type Overlay interface {
	// OnLoad verifies a record freshly read from storage.
	OnLoad(ctx context.Context, st *State) error
	// OnAccess runs before every operation. It may mutate st (e.g. clear
	// authentication on idle expiry); a non-nil error fails the operation
	// after the mutation is persisted.
	OnAccess(ctx context.Context, st *State, now time.Time) error
	// BeforeAppend inspects and possibly rewrites a message about to be
	// appended (classification, encryption).
	BeforeAppend(ctx context.Context, st *State, msg *Message) error
	// OnSave runs right before the durable write (integrity hash).
	OnSave(ctx context.Context, st *State) error
	// OpenMessages returns caller-visible copies of the transcript
	// (decryption). The stored slice must not be modified.
	OpenMessages(ctx context.Context, st *State, msgs []Message) ([]Message, error)
}

type noopOverlay struct{}

func (noopOverlay) OnLoad(context.Context, *State) error { return nil }
func (noopOverlay) OnAccess(context.Context, *State, time.Time) error { return nil }
func (noopOverlay) BeforeAppend(context.Context, *State, *Message) error { return nil }
func (noopOverlay) OnSave(context.Context, *State) error { return nil }
func (noopOverlay) OpenMessages(_ context.Context, _ *State, msgs []Message) ([]Message, error) {
	return msgs, nil
}

// mutation runs against a private clone of the state. now is the single
// timestamp the run loop stamps on the record when the clone is persisted.
// It returns the operation result and whether the clone must be persisted.
type mutation func(ctx context.Context, st *State, now time.Time) (any, bool, error)

// overlayResolver picks the compliance overlay for a firm. The actor calls it
// with the firm recorded on the stored conversation, never with whatever firm
// the request claimed.
type overlayResolver func(ctx context.Context, firmID string) Overlay

type command struct {
	ctx   context.Context
	fn    mutation
	reply chan cmdResult
}

type cmdResult struct {
	value any
	err   error
}

// Actor owns one conversation. All operations against it execute one at a
// time in arrival order; there is no lock because there is no sharing.
type Actor struct {
	sessionID string
	store     StateStore
	resolve   overlayResolver
	clock     func() time.Time
	logger    *logging.Logger

	cmds chan command
	stop chan struct{}

	// accessed only from the run loop
	state   *State
	overlay Overlay
}

func newActor(sessionID string, store StateStore, resolve overlayResolver, clock func() time.Time, logger *logging.Logger) *Actor {
	if resolve == nil {
		resolve = func(context.Context, string) Overlay { return noopOverlay{} }
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = logging.Default()
	}
	a := &Actor{
		sessionID: sessionID,
		store:     store,
		resolve:   resolve,
		clock:     clock,
		logger:    logger,
		cmds:      make(chan command),
		stop:      make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Actor) run() {
	for {
		select {
		case <-a.stop:
			return
		case cmd := <-a.cmds:
			cmd.reply <- a.execute(cmd)
		}
	}
}

func (a *Actor) shutdown() {
	close(a.stop)
}

func (a *Actor) execute(cmd command) cmdResult {
	ctx := cmd.ctx
	if a.state == nil {
		st, err := a.store.Load(ctx, a.sessionID)
		if err != nil {
			return cmdResult{err: err}
		}
		// The overlay belongs to the firm that owns the record. Resolving
		// it here, from the loaded state, means a caller with a missing or
		// wrong tenant context can never downgrade a HIPAA conversation to
		// the plaintext path.
		a.overlay = a.resolve(ctx, st.FirmID)
		if err := a.overlay.OnLoad(ctx, st); err != nil {
			return cmdResult{err: err}
		}
		a.state = st
	}

	now := a.clock().UTC()
	work := a.state.Clone()

	if accessErr := a.overlay.OnAccess(ctx, work, now); accessErr != nil {
		// The overlay mutated the record (e.g. cleared auth on expiry);
		// persist that before failing the operation.
		if err := a.persist(ctx, work); err != nil {
			a.logger.Error("failed to persist expiry state", "session_id", a.sessionID, "error", err)
		} else {
			a.state = work
		}
		return cmdResult{err: accessErr}
	}

	value, mutated, err := cmd.fn(ctx, work, now)
	if err != nil {
		return cmdResult{err: err}
	}
	if !mutated {
		return cmdResult{value: value}
	}

	work.LastActivity = now
	if err := a.persist(ctx, work); err != nil {
		return cmdResult{err: err}
	}
	a.state = work
	return cmdResult{value: value}
}

func (a *Actor) persist(ctx context.Context, st *State) error {
	if err := a.overlay.OnSave(ctx, st); err != nil {
		return err
	}
	if err := a.store.Save(ctx, st); err != nil {
		return ErrStorage.WithDetail("durable write failed: %v", err)
	}
	return nil
}

func (a *Actor) do(ctx context.Context, fn mutation) (any, error) {
	cmd := command{ctx: ctx, fn: fn, reply: make(chan cmdResult, 1)}
	select {
	case a.cmds <- cmd:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.stop:
		return nil, ErrSessionNotFound
	}
	select {
	case res := <-cmd.reply:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resume validates the resume token and returns the full visible state.
func (a *Actor) Resume(ctx context.Context, token, callerIdentity string) (Snapshot, error) {
	v, err := a.do(ctx, func(ctx context.Context, st *State, now time.Time) (any, bool, error) {
		if subtle.ConstantTimeCompare([]byte(st.ResumeToken), []byte(token)) != 1 {
			return nil, false, ErrInvalidResumeToken
		}
		if st.IsSecured && !st.AllowsCaller(callerIdentity) {
			return nil, false, ErrUnauthorizedAccess
		}
		msgs, err := a.overlay.OpenMessages(ctx, st, st.Messages)
		if err != nil {
			return nil, false, err
		}
		// Resume itself is the activity; stamp before snapshotting so the
		// response carries the same timestamp the store receives.
		st.LastActivity = now
		return st.snapshot(callerIdentity, msgs), true, nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

// AddMessageResult is returned by AddMessage.
type AddMessageResult struct {
	MessageID    string    `json:"messageId"`
	Timestamp    time.Time `json:"timestamp"`
	MessageCount int       `json:"messageCount"`
}

// AddMessage appends to the transcript. The transcript is append-only: no
// operation ever rewrites or reorders stored messages.
func (a *Actor) AddMessage(ctx context.Context, role, content string, metadata map[string]string) (AddMessageResult, error) {
	v, err := a.do(ctx, func(ctx context.Context, st *State, now time.Time) (any, bool, error) {
		if st.Phase.Terminal() {
			return nil, false, ErrInvalidStateTransition.WithDetail("cannot add messages in phase %s", st.Phase)
		}
		if content == "" || !validRole(role) {
			return nil, false, ErrInvalidMessage
		}
		msg := Message{
			ID:        newID(),
			Role:      role,
			Content:   content,
			Timestamp: now,
			Metadata:  metadata,
		}
		if err := a.overlay.BeforeAppend(ctx, st, &msg); err != nil {
			return nil, false, err
		}
		st.Messages = append(st.Messages, msg)
		if st.Phase == PhaseSecured {
			st.Phase = PhaseDataGathering
		}
		return AddMessageResult{MessageID: msg.ID, Timestamp: msg.Timestamp, MessageCount: len(st.Messages)}, true, nil
	})
	if err != nil {
		return AddMessageResult{}, err
	}
	return v.(AddMessageResult), nil
}

// UpdateIdentity deep-merges the partial identity. Field format validation is
// the upstream caller's job; previously captured fields are never dropped.
func (a *Actor) UpdateIdentity(ctx context.Context, partial UserIdentity) (UserIdentity, error) {
	v, err := a.do(ctx, func(_ context.Context, st *State, _ time.Time) (any, bool, error) {
		if st.Phase.Terminal() {
			return nil, false, ErrInvalidStateTransition.WithDetail("cannot update identity in phase %s", st.Phase)
		}
		st.Identity = st.Identity.Merge(partial)
		return st.Identity, true, nil
	})
	if err != nil {
		return UserIdentity{}, err
	}
	return v.(UserIdentity), nil
}

// AuthResult is returned by Authenticate.
type AuthResult struct {
	Authenticated bool  `json:"authenticated"`
	Secured       bool  `json:"secured"`
	Phase         Phase `json:"phase"`
}

// Authenticate locks the conversation to the authenticating identity. The
// security latch is one-way: once secured, only the same identity may call
// again (idempotently); anyone else fails.
func (a *Actor) Authenticate(ctx context.Context, callerIdentity string) (AuthResult, error) {
	v, err := a.do(ctx, func(_ context.Context, st *State, _ time.Time) (any, bool, error) {
		if callerIdentity == "" {
			return nil, false, ErrUnauthorizedAccess
		}
		if st.IsSecured {
			if !st.AllowsCaller(callerIdentity) {
				return nil, false, ErrUnauthorizedAccess
			}
			return AuthResult{Authenticated: st.IsAuthenticated, Secured: true, Phase: st.Phase}, false, nil
		}
		if st.Phase.Terminal() {
			return nil, false, ErrInvalidStateTransition.WithDetail("cannot authenticate in phase %s", st.Phase)
		}
		st.IsAuthenticated = true
		st.IsSecured = true
		st.AllowedUsers = []string{callerIdentity}
		if st.Phase == PhasePreLogin {
			st.Phase = PhaseSecured
		}
		return AuthResult{Authenticated: true, Secured: true, Phase: st.Phase}, true, nil
	})
	if err != nil {
		return AuthResult{}, err
	}
	return v.(AuthResult), nil
}

// AddDataGoals appends goals that are not already present. Goals are never
// silently removed.
func (a *Actor) AddDataGoals(ctx context.Context, goals []DataGoal) ([]DataGoal, error) {
	v, err := a.do(ctx, func(_ context.Context, st *State, _ time.Time) (any, bool, error) {
		if st.Phase.Terminal() {
			return nil, false, ErrInvalidStateTransition.WithDetail("cannot add goals in phase %s", st.Phase)
		}
		known := st.GoalIDs()
		added := false
		for _, g := range goals {
			if g.ID == "" {
				continue
			}
			if _, ok := known[g.ID]; ok {
				continue
			}
			st.DataGoals = append(st.DataGoals, g)
			known[g.ID] = struct{}{}
			added = true
		}
		return append([]DataGoal(nil), st.DataGoals...), added, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]DataGoal), nil
}

// CompleteGoal marks a goal done. When every required goal is complete and
// the conversation is gathering data, it advances to completed.
func (a *Actor) CompleteGoal(ctx context.Context, goalID string) (Snapshot, error) {
	v, err := a.do(ctx, func(ctx context.Context, st *State, _ time.Time) (any, bool, error) {
		if st.Phase.Terminal() {
			return nil, false, ErrInvalidStateTransition.WithDetail("cannot complete goals in phase %s", st.Phase)
		}
		if _, ok := st.GoalIDs()[goalID]; !ok {
			return nil, false, ErrUnknownGoal.WithDetail("goal %q is not part of this conversation", goalID)
		}
		done := false
		for _, id := range st.CompletedGoals {
			if id == goalID {
				done = true
				break
			}
		}
		if !done {
			st.CompletedGoals = append(st.CompletedGoals, goalID)
		}
		if st.Phase == PhaseDataGathering && allRequiredComplete(st) {
			st.Phase = PhaseCompleted
		}
		msgs, err := a.overlay.OpenMessages(ctx, st, st.Messages)
		if err != nil {
			return nil, false, err
		}
		return st.snapshot("", msgs), !done || st.Phase == PhaseCompleted, nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

func allRequiredComplete(st *State) bool {
	completed := make(map[string]struct{}, len(st.CompletedGoals))
	for _, id := range st.CompletedGoals {
		completed[id] = struct{}{}
	}
	for _, g := range st.DataGoals {
		if !g.Required {
			continue
		}
		if _, ok := completed[g.ID]; !ok {
			return false
		}
	}
	return true
}

// ConflictResult is returned by SetConflictResult.
type ConflictResult struct {
	ConflictStatus ConflictStatus `json:"conflictStatus"`
	Phase          Phase          `json:"phase"`
}

// SetConflictResult records a conflict-check outcome. A detected conflict
// forces termination from any phase, including completed: a late conflict is
// a compliance signal the record must reflect.
func (a *Actor) SetConflictResult(ctx context.Context, status ConflictStatus, checkedIdentity []string, details string) (ConflictResult, error) {
	v, err := a.do(ctx, func(_ context.Context, st *State, now time.Time) (any, bool, error) {
		switch status {
		case ConflictPending, ConflictClear, ConflictDetected:
		default:
			return nil, false, ErrInvalidConflictStatus
		}
		if st.Phase == PhaseTerminated {
			return nil, false, ErrInvalidStateTransition.WithDetail("conversation is already terminated")
		}
		st.Conflict = ConflictCheck{
			Status:          status,
			CheckedIdentity: append([]string(nil), checkedIdentity...),
			CheckedAt:       now,
			Details:         details,
		}
		if status == ConflictDetected {
			st.Phase = PhaseTerminated
		}
		return ConflictResult{ConflictStatus: status, Phase: st.Phase}, true, nil
	})
	if err != nil {
		return ConflictResult{}, err
	}
	return v.(ConflictResult), nil
}

// Context returns the read-only projection used by orchestration and
// authorization checks. It never persists anything.
func (a *Actor) Context(ctx context.Context, callerIdentity string) (Snapshot, error) {
	v, err := a.do(ctx, func(ctx context.Context, st *State, _ time.Time) (any, bool, error) {
		msgs, err := a.overlay.OpenMessages(ctx, st, st.Messages)
		if err != nil {
			return nil, false, err
		}
		return st.snapshot(callerIdentity, msgs), false, nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

// CurrentState hands the repair pass a consistent copy of the record.
func (a *Actor) CurrentState(ctx context.Context) (*State, error) {
	v, err := a.do(ctx, func(_ context.Context, st *State, _ time.Time) (any, bool, error) {
		return st.Clone(), false, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*State), nil
}
