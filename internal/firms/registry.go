package firms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/engagelegal/intake-platform/pkg/logging"
)

// Registry is the singleton firm-directory actor. Every mutation in the
// system serializes through its command loop, which is what makes the
// slug/domain/email uniqueness maps safe to keep in plain maps: there is
// exactly one writer. Registration frequency is low, so the bottleneck is
// deliberate and cheap.
type Registry struct {
	store  Store
	clock  func() time.Time
	logger *logging.Logger

	cmds chan registryCommand
	stop chan struct{}

	// all four maps are touched only from the run loop
	firms    map[string]*Record
	bySlug   map[string]string
	byDomain map[string]string
	byEmail  map[string]string
}

type registryCommand struct {
	ctx   context.Context
	fn    func(ctx context.Context) (any, error)
	reply chan registryResult
}

type registryResult struct {
	value any
	err   error
}

// NewRegistry loads every firm from the store to rebuild the uniqueness maps,
// then starts the command loop.
func NewRegistry(ctx context.Context, store Store, logger *logging.Logger) (*Registry, error) {
	if store == nil {
		panic("firms: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	r := &Registry{
		store:    store,
		clock:    time.Now,
		logger:   logger,
		cmds:     make(chan registryCommand),
		stop:     make(chan struct{}),
		firms:    make(map[string]*Record),
		bySlug:   make(map[string]string),
		byDomain: make(map[string]string),
		byEmail:  make(map[string]string),
	}

	records, err := store.ScanAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("firms: failed to rebuild registry: %w", err)
	}
	for i := range records {
		rec := records[i].Clone()
		r.firms[rec.FirmID] = rec
		r.indexKeys(rec)
	}
	logger.Info("firm registry loaded", "firms", len(r.firms))

	go r.run()
	return r, nil
}

// WithClock overrides the time source. Test hook.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// Close stops the command loop.
func (r *Registry) Close() {
	close(r.stop)
}

func (r *Registry) run() {
	for {
		select {
		case <-r.stop:
			return
		case cmd := <-r.cmds:
			value, err := cmd.fn(cmd.ctx)
			cmd.reply <- registryResult{value: value, err: err}
		}
	}
}

func (r *Registry) do(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	cmd := registryCommand{ctx: ctx, fn: fn, reply: make(chan registryResult, 1)}
	select {
	case r.cmds <- cmd:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.stop:
		return nil, ErrStorage.WithDetail("firm registry is shut down")
	}
	select {
	case res := <-cmd.reply:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) indexKeys(rec *Record) {
	if rec.Slug != "" {
		r.bySlug[rec.Slug] = rec.FirmID
	}
	if rec.Domain != "" {
		r.byDomain[strings.ToLower(rec.Domain)] = rec.FirmID
	}
	if rec.ContactEmail != "" {
		r.byEmail[strings.ToLower(rec.ContactEmail)] = rec.FirmID
	}
}

func (r *Registry) dropKeys(rec *Record) {
	if rec.Slug != "" {
		delete(r.bySlug, rec.Slug)
	}
	if rec.Domain != "" {
		delete(r.byDomain, strings.ToLower(rec.Domain))
	}
	if rec.ContactEmail != "" {
		delete(r.byEmail, strings.ToLower(rec.ContactEmail))
	}
}

// taken reports whether a key maps to a different firm than firmID.
func taken(m map[string]string, key, firmID string) bool {
	owner, ok := m[key]
	return ok && owner != firmID
}

// RegisterRequest is the payload for RegisterFirm.
type RegisterRequest struct {
	Name          string   `json:"name"`
	Slug          string   `json:"slug,omitempty"`
	Domain        string   `json:"domain,omitempty"`
	ContactEmail  string   `json:"contactEmail"`
	PracticeAreas []string `json:"practiceAreas,omitempty"`
	Tier          string   `json:"tier,omitempty"`
	HIPAAEnabled  bool     `json:"hipaaEnabled,omitempty"`

	OwnerUserID string `json:"ownerUserId"`
	OwnerName   string `json:"ownerName,omitempty"`
}

// RegisterFirm validates the payload, claims the uniqueness keys, persists
// the record and enrolls the owner as the firm's first admin.
func (r *Registry) RegisterFirm(ctx context.Context, req RegisterRequest) (*Record, error) {
	v, err := r.do(ctx, func(ctx context.Context) (any, error) {
		name := strings.TrimSpace(req.Name)
		if len(name) < 2 {
			return nil, ErrInvalidFirmData.WithDetail("firm name must be at least 2 characters")
		}
		if !ValidEmail(req.ContactEmail) {
			return nil, ErrInvalidFirmData.WithDetail("contact email %q is not valid", req.ContactEmail)
		}
		if req.OwnerUserID == "" {
			return nil, ErrInvalidFirmData.WithDetail("an owner user id is required")
		}
		slug := req.Slug
		if slug == "" {
			slug = Slugify(name)
		}
		if !ValidSlug(slug) {
			return nil, ErrInvalidFirmData.WithDetail("slug %q is not valid", slug)
		}
		tier := req.Tier
		if tier == "" {
			tier = TierStarter
		}
		limit, ok := tierConversationLimits[tier]
		if !ok {
			return nil, ErrInvalidFirmData.WithDetail("unknown subscription tier %q", tier)
		}

		if taken(r.bySlug, slug, "") {
			return nil, ErrDuplicateFirm.WithDetail("slug %q is already registered", slug)
		}
		if req.Domain != "" && taken(r.byDomain, strings.ToLower(req.Domain), "") {
			return nil, ErrDuplicateFirm.WithDetail("domain %q is already registered", req.Domain)
		}
		if taken(r.byEmail, strings.ToLower(req.ContactEmail), "") {
			return nil, ErrDuplicateFirm.WithDetail("contact email is already registered")
		}

		now := r.clock().UTC()
		rec := &Record{
			FirmID:        uuid.NewString(),
			Name:          name,
			Slug:          slug,
			Domain:        req.Domain,
			ContactEmail:  req.ContactEmail,
			PracticeAreas: append([]string(nil), req.PracticeAreas...),
			HIPAAEnabled:  req.HIPAAEnabled,
			Subscription: Subscription{
				Tier:        tier,
				Status:      "trial",
				TrialEndsAt: now.Add(TrialDuration),
			},
			MonthlyConversationLimit: limit,
			RetentionPolicyDays:      2555,
			Users: []User{{
				UserID:      req.OwnerUserID,
				Email:       req.ContactEmail,
				Name:        req.OwnerName,
				Role:        "admin",
				Permissions: append([]string(nil), AdminPermissions...),
				AddedAt:     now,
			}},
			CreatedAt: now,
			UpdatedAt: now,
		}

		if err := r.store.Put(ctx, rec); err != nil {
			return nil, ErrStorage.WithDetail("failed to persist firm: %v", err)
		}
		r.firms[rec.FirmID] = rec
		r.indexKeys(rec)
		r.logger.Info("firm registered", "firm_id", rec.FirmID, "slug", rec.Slug)
		return rec.Clone(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Record), nil
}

// Update carries the mutable firm fields; nil pointers are left unchanged.
type Update struct {
	Name                     *string   `json:"name,omitempty"`
	Slug                     *string   `json:"slug,omitempty"`
	Domain                   *string   `json:"domain,omitempty"`
	ContactEmail             *string   `json:"contactEmail,omitempty"`
	PracticeAreas            *[]string `json:"practiceAreas,omitempty"`
	HIPAAEnabled             *bool     `json:"hipaaEnabled,omitempty"`
	MonthlyConversationLimit *int      `json:"monthlyConversationLimit,omitempty"`
	RetentionPolicyDays      *int      `json:"retentionPolicyDays,omitempty"`
}

// UpdateFirm applies the update. Slug/domain/email changes move the
// secondary-index keys atomically: collisions are rejected before any map is
// touched, so old and new keys never map to different firms at once.
func (r *Registry) UpdateFirm(ctx context.Context, firmID string, upd Update) (*Record, error) {
	v, err := r.do(ctx, func(ctx context.Context) (any, error) {
		rec, ok := r.firms[firmID]
		if !ok {
			return nil, ErrFirmNotFound
		}

		next := rec.Clone()
		if upd.Name != nil {
			name := strings.TrimSpace(*upd.Name)
			if len(name) < 2 {
				return nil, ErrInvalidFirmData.WithDetail("firm name must be at least 2 characters")
			}
			next.Name = name
		}
		if upd.Slug != nil {
			if !ValidSlug(*upd.Slug) {
				return nil, ErrInvalidFirmData.WithDetail("slug %q is not valid", *upd.Slug)
			}
			if taken(r.bySlug, *upd.Slug, firmID) {
				return nil, ErrDuplicateFirm.WithDetail("slug %q is already registered", *upd.Slug)
			}
			next.Slug = *upd.Slug
		}
		if upd.Domain != nil {
			if *upd.Domain != "" && taken(r.byDomain, strings.ToLower(*upd.Domain), firmID) {
				return nil, ErrDuplicateFirm.WithDetail("domain %q is already registered", *upd.Domain)
			}
			next.Domain = *upd.Domain
		}
		if upd.ContactEmail != nil {
			if !ValidEmail(*upd.ContactEmail) {
				return nil, ErrInvalidFirmData.WithDetail("contact email %q is not valid", *upd.ContactEmail)
			}
			if taken(r.byEmail, strings.ToLower(*upd.ContactEmail), firmID) {
				return nil, ErrDuplicateFirm.WithDetail("contact email is already registered")
			}
			next.ContactEmail = *upd.ContactEmail
		}
		if upd.PracticeAreas != nil {
			next.PracticeAreas = append([]string(nil), (*upd.PracticeAreas)...)
		}
		if upd.HIPAAEnabled != nil {
			next.HIPAAEnabled = *upd.HIPAAEnabled
		}
		if upd.MonthlyConversationLimit != nil {
			next.MonthlyConversationLimit = *upd.MonthlyConversationLimit
		}
		if upd.RetentionPolicyDays != nil {
			next.RetentionPolicyDays = *upd.RetentionPolicyDays
		}
		next.UpdatedAt = r.clock().UTC()

		if err := r.store.Put(ctx, next); err != nil {
			return nil, ErrStorage.WithDetail("failed to persist firm: %v", err)
		}
		// the durable write landed; now move the keys in one step
		r.dropKeys(rec)
		r.firms[firmID] = next
		r.indexKeys(next)
		return next.Clone(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Record), nil
}

// AddUser upserts a member by identity: an existing entry is merged in
// place, never duplicated.
func (r *Registry) AddUser(ctx context.Context, firmID string, user User) (*Record, error) {
	v, err := r.do(ctx, func(ctx context.Context) (any, error) {
		rec, ok := r.firms[firmID]
		if !ok {
			return nil, ErrFirmNotFound
		}
		if user.UserID == "" {
			return nil, ErrInvalidFirmData.WithDetail("a user id is required")
		}

		next := rec.Clone()
		now := r.clock().UTC()
		merged := false
		for i, existing := range next.Users {
			if existing.UserID != user.UserID {
				continue
			}
			if user.Email != "" {
				next.Users[i].Email = user.Email
			}
			if user.Name != "" {
				next.Users[i].Name = user.Name
			}
			if user.Role != "" {
				next.Users[i].Role = user.Role
			}
			if len(user.Permissions) > 0 {
				next.Users[i].Permissions = append([]string(nil), user.Permissions...)
			}
			merged = true
			break
		}
		if !merged {
			if user.Role == "" {
				user.Role = "member"
			}
			user.AddedAt = now
			next.Users = append(next.Users, user)
		}
		next.UpdatedAt = now

		if err := r.store.Put(ctx, next); err != nil {
			return nil, ErrStorage.WithDetail("failed to persist firm: %v", err)
		}
		r.firms[firmID] = next
		return next.Clone(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Record), nil
}

// RemoveUser drops a member from the roster. Removing an absent user is a
// no-op, not an error.
func (r *Registry) RemoveUser(ctx context.Context, firmID, userID string) (*Record, error) {
	v, err := r.do(ctx, func(ctx context.Context) (any, error) {
		rec, ok := r.firms[firmID]
		if !ok {
			return nil, ErrFirmNotFound
		}

		next := rec.Clone()
		kept := next.Users[:0]
		removed := false
		for _, u := range next.Users {
			if u.UserID == userID {
				removed = true
				continue
			}
			kept = append(kept, u)
		}
		if !removed {
			return rec.Clone(), nil
		}
		next.Users = kept
		next.UpdatedAt = r.clock().UTC()

		if err := r.store.Put(ctx, next); err != nil {
			return nil, ErrStorage.WithDetail("failed to persist firm: %v", err)
		}
		r.firms[firmID] = next
		return next.Clone(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Record), nil
}

// RecordUsage bumps the firm's monthly conversation counter and reports
// whether the firm is now over its allowance. Enforcement is soft: callers
// log and flag, they do not block in-flight conversations.
func (r *Registry) RecordUsage(ctx context.Context, firmID string) (bool, error) {
	v, err := r.do(ctx, func(ctx context.Context) (any, error) {
		rec, ok := r.firms[firmID]
		if !ok {
			return nil, ErrFirmNotFound
		}
		next := rec.Clone()
		next.CurrentUsage++
		next.UpdatedAt = r.clock().UTC()
		if err := r.store.Put(ctx, next); err != nil {
			return nil, ErrStorage.WithDetail("failed to persist firm: %v", err)
		}
		r.firms[firmID] = next
		return next.OverLimit(), nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// Get returns the firm by id.
func (r *Registry) Get(ctx context.Context, firmID string) (*Record, error) {
	return r.lookup(ctx, func() (*Record, bool) {
		rec, ok := r.firms[firmID]
		return rec, ok
	})
}

// BySlug resolves a firm by its slug.
func (r *Registry) BySlug(ctx context.Context, slug string) (*Record, error) {
	return r.lookup(ctx, func() (*Record, bool) {
		id, ok := r.bySlug[slug]
		if !ok {
			return nil, false
		}
		rec, ok := r.firms[id]
		return rec, ok
	})
}

// ByDomain resolves a firm by its verified domain.
func (r *Registry) ByDomain(ctx context.Context, domain string) (*Record, error) {
	return r.lookup(ctx, func() (*Record, bool) {
		id, ok := r.byDomain[strings.ToLower(domain)]
		if !ok {
			return nil, false
		}
		rec, ok := r.firms[id]
		return rec, ok
	})
}

// ByEmail resolves a firm by its contact email.
func (r *Registry) ByEmail(ctx context.Context, email string) (*Record, error) {
	return r.lookup(ctx, func() (*Record, bool) {
		id, ok := r.byEmail[strings.ToLower(email)]
		if !ok {
			return nil, false
		}
		rec, ok := r.firms[id]
		return rec, ok
	})
}

func (r *Registry) lookup(ctx context.Context, find func() (*Record, bool)) (*Record, error) {
	v, err := r.do(ctx, func(context.Context) (any, error) {
		rec, ok := find()
		if !ok {
			return nil, ErrFirmNotFound
		}
		return rec.Clone(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Record), nil
}

// FirmExists implements the directory interface consumed by the intake arena.
func (r *Registry) FirmExists(ctx context.Context, firmID string) (bool, error) {
	_, err := r.Get(ctx, firmID)
	if err != nil {
		if errors.Is(err, ErrFirmNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// HIPAAEnabled reports whether a firm's conversations run the compliance
// overlay.
func (r *Registry) HIPAAEnabled(ctx context.Context, firmID string) (bool, error) {
	rec, err := r.Get(ctx, firmID)
	if err != nil {
		return false, err
	}
	return rec.HIPAAEnabled, nil
}

// RetentionDays returns the firm's configured retention window for closed
// conversations.
func (r *Registry) RetentionDays(ctx context.Context, firmID string) (int, error) {
	rec, err := r.Get(ctx, firmID)
	if err != nil {
		return 0, err
	}
	return rec.RetentionPolicyDays, nil
}
