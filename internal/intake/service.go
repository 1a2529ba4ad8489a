package intake

import (
	"context"
	"strings"
	"time"

	"github.com/engagelegal/intake-platform/internal/index"
	"github.com/engagelegal/intake-platform/internal/observability/metrics"
	"github.com/engagelegal/intake-platform/internal/search"
	"github.com/engagelegal/intake-platform/pkg/logging"
)

// UsageRecorder bumps a firm's monthly conversation counter. The service
// enforces limits softly: an over-limit firm still gets the conversation,
// but the overage is logged for billing follow-up.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, firmID string) (over bool, err error)
}

// Archiver exports a terminal conversation for long-term retention.
type Archiver interface {
	Archive(ctx context.Context, st *State) error
}

// Indexer keeps the similarity index in step with conversation writes.
// Implementations embed a text summary; the service never reads back from it
// except through the Searcher it also exposes.
type Indexer interface {
	Upsert(ctx context.Context, firmID, sessionID, summary string) error
	Remove(firmID, sessionID string)
}

// conversationAuditor records conversation-level compliance events: soft
// deletions and detected conflicts of interest.
type conversationAuditor interface {
	LogConversationDeleted(ctx context.Context, firmID, sessionID, deletedBy string) error
	LogConflictDetected(ctx context.Context, firmID, sessionID string, checkedIdentity []string, conflictDetails string) error
}

// ServiceConfig wires the collaborators a Service needs. Arena, Rows and
// Projector are required; the rest degrade to no-ops when nil.
type ServiceConfig struct {
	Arena      *Arena
	Rows       *index.RowStore
	Projector  *index.Projector
	Analytics  *index.AnalyticsRepository
	Reconciler *index.Reconciler
	Searcher   search.Searcher
	Indexer    Indexer
	Usage      UsageRecorder
	Archiver   Archiver
	Audit      conversationAuditor
	Metrics    *metrics.IntakeMetrics
	Logger     *logging.Logger
}

// Service is the single entry point for conversation commands and queries.
// Writes go through the owning actor and are echoed to the index
// fire-and-forget; reads for lists, search and analytics come from the index
// alone, never from individual actors.
type Service struct {
	arena      *Arena
	rows       *index.RowStore
	projector  *index.Projector
	analytics  *index.AnalyticsRepository
	reconciler *index.Reconciler
	searcher   search.Searcher
	indexer    Indexer
	usage      UsageRecorder
	archiver   Archiver
	audit      conversationAuditor
	metrics    *metrics.IntakeMetrics
	logger     *logging.Logger
	clock      func() time.Time
}

// NewService builds the orchestration facade.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Arena == nil {
		panic("intake: service arena cannot be nil")
	}
	if cfg.Rows == nil {
		panic("intake: service row store cannot be nil")
	}
	if cfg.Projector == nil {
		panic("intake: service projector cannot be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		arena:      cfg.Arena,
		rows:       cfg.Rows,
		projector:  cfg.Projector,
		analytics:  cfg.Analytics,
		reconciler: cfg.Reconciler,
		searcher:   cfg.Searcher,
		indexer:    cfg.Indexer,
		usage:      cfg.Usage,
		archiver:   cfg.Archiver,
		audit:      cfg.Audit,
		metrics:    cfg.Metrics,
		logger:     logger.Component("intake.service"),
		clock:      time.Now,
	}
}

// CreateConversation starts a new conversation for a firm and propagates the
// initial state to the index.
func (s *Service) CreateConversation(ctx context.Context, req CreateRequest) (Snapshot, error) {
	start := s.clock()
	snap, err := s.arena.Create(ctx, req)
	s.observe("create", start, err)
	if err != nil {
		return Snapshot{}, err
	}

	if s.usage != nil {
		over, uerr := s.usage.RecordUsage(ctx, req.FirmID)
		if uerr != nil {
			s.logger.Warn("usage counter update failed",
				"firmId", req.FirmID, "error", uerr)
		} else if over {
			s.logger.Warn("firm exceeded monthly conversation limit",
				"firmId", req.FirmID, "sessionId", snap.SessionID)
		}
	}

	s.syncSession(ctx, req.FirmID, snap.SessionID)
	return snap, nil
}

// ResumeConversation resolves a resume token and re-attaches the caller.
func (s *Service) ResumeConversation(ctx context.Context, token, callerIdentity string) (Snapshot, error) {
	start := s.clock()
	firmID, sessionID, err := s.arena.ResolveResumeToken(ctx, token)
	if err != nil {
		s.observe("resume", start, err)
		return Snapshot{}, err
	}
	snap, err := s.arena.Actor(ctx, firmID, sessionID).Resume(ctx, token, callerIdentity)
	s.observe("resume", start, err)
	if err != nil {
		return Snapshot{}, err
	}
	s.syncSession(ctx, firmID, sessionID)
	return snap, nil
}

// GetContext returns the caller-visible view of one conversation.
func (s *Service) GetContext(ctx context.Context, firmID, sessionID, callerIdentity string) (Snapshot, error) {
	start := s.clock()
	snap, err := s.arena.Actor(ctx, firmID, sessionID).Context(ctx, callerIdentity)
	s.observe("context", start, err)
	return snap, err
}

// AddMessage appends to the transcript and echoes the new state to the index.
func (s *Service) AddMessage(ctx context.Context, firmID, sessionID, role, content string, metadata map[string]string) (AddMessageResult, error) {
	start := s.clock()
	res, err := s.arena.Actor(ctx, firmID, sessionID).AddMessage(ctx, role, content, metadata)
	s.observe("add_message", start, err)
	if err != nil {
		return AddMessageResult{}, err
	}
	s.syncSession(ctx, firmID, sessionID)
	return res, nil
}

// UpdateIdentity merges partial identity fields into the conversation.
func (s *Service) UpdateIdentity(ctx context.Context, firmID, sessionID string, partial UserIdentity) (UserIdentity, error) {
	start := s.clock()
	merged, err := s.arena.Actor(ctx, firmID, sessionID).UpdateIdentity(ctx, partial)
	s.observe("update_identity", start, err)
	if err != nil {
		return UserIdentity{}, err
	}
	s.syncSession(ctx, firmID, sessionID)
	return merged, nil
}

// Authenticate locks the conversation to the caller.
func (s *Service) Authenticate(ctx context.Context, firmID, sessionID, callerIdentity string) (AuthResult, error) {
	start := s.clock()
	res, err := s.arena.Actor(ctx, firmID, sessionID).Authenticate(ctx, callerIdentity)
	s.observe("authenticate", start, err)
	if err != nil {
		return AuthResult{}, err
	}
	if s.metrics != nil {
		s.metrics.ObservePhase(string(res.Phase))
	}
	s.syncSession(ctx, firmID, sessionID)
	return res, nil
}

// AddDataGoals appends collection goals to the conversation.
func (s *Service) AddDataGoals(ctx context.Context, firmID, sessionID string, goals []DataGoal) ([]DataGoal, error) {
	start := s.clock()
	all, err := s.arena.Actor(ctx, firmID, sessionID).AddDataGoals(ctx, goals)
	s.observe("add_goals", start, err)
	if err != nil {
		return nil, err
	}
	s.syncSession(ctx, firmID, sessionID)
	return all, nil
}

// CompleteGoal marks a goal done; completing the last required goal moves the
// conversation to completed and triggers the retention archive.
func (s *Service) CompleteGoal(ctx context.Context, firmID, sessionID, goalID string) (Snapshot, error) {
	start := s.clock()
	snap, err := s.arena.Actor(ctx, firmID, sessionID).CompleteGoal(ctx, goalID)
	s.observe("complete_goal", start, err)
	if err != nil {
		return Snapshot{}, err
	}
	if s.metrics != nil && snap.Phase == PhaseCompleted {
		s.metrics.ObservePhase(string(snap.Phase))
	}
	s.syncSession(ctx, firmID, sessionID)
	return snap, nil
}

// SetConflictResult records a conflict-check outcome. A detected conflict
// terminates the conversation and is archived like any other terminal state.
func (s *Service) SetConflictResult(ctx context.Context, firmID, sessionID string, status ConflictStatus, checkedIdentity []string, details string) (ConflictResult, error) {
	start := s.clock()
	res, err := s.arena.Actor(ctx, firmID, sessionID).SetConflictResult(ctx, status, checkedIdentity, details)
	s.observe("conflict_result", start, err)
	if err != nil {
		return ConflictResult{}, err
	}
	if s.metrics != nil && res.Phase == PhaseTerminated {
		s.metrics.ObservePhase(string(res.Phase))
	}
	if status == ConflictDetected && s.audit != nil {
		if aerr := s.audit.LogConflictDetected(ctx, firmID, sessionID, checkedIdentity, details); aerr != nil {
			s.logger.Warn("audit write for conflict failed",
				"firm_id", firmID, "session_id", sessionID, "error", aerr)
		}
	}
	s.syncSession(ctx, firmID, sessionID)
	return res, nil
}

// ListConversations pages through a firm's index rows.
func (s *Service) ListConversations(ctx context.Context, firmID string, filter index.ListFilter, opts index.ListOptions) (index.ListResult, error) {
	return s.rows.List(ctx, firmID, filter, opts)
}

// GetConversationRow reads one index row; nil means not indexed (yet).
func (s *Service) GetConversationRow(ctx context.Context, firmID, sessionID string) (*index.ConversationRow, error) {
	return s.rows.Get(ctx, firmID, sessionID)
}

// SearchHit pairs an index row with its similarity score.
type SearchHit struct {
	Row   index.ConversationRow `json:"row"`
	Score float64               `json:"score"`
}

// SearchOptions tunes a similarity search.
type SearchOptions struct {
	Limit        int
	Threshold    float64
	PracticeArea string
}

// SearchConversations asks the similarity collaborator for candidates, drops
// those under the score threshold, then hydrates the survivors from the
// index by ID. The collaborator's payload is never treated as data.
func (s *Service) SearchConversations(ctx context.Context, firmID, query string, opts SearchOptions) ([]SearchHit, error) {
	if s.searcher == nil {
		return nil, ErrSearchUnavailable
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	candidates, err := s.searcher.Search(ctx, firmID, query, limit)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(candidates))
	scores := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		if c.Score < opts.Threshold {
			continue
		}
		ids = append(ids, c.SessionID)
		scores[c.SessionID] = c.Score
	}
	if len(ids) == 0 {
		return []SearchHit{}, nil
	}

	rows, err := s.rows.GetByIDs(ctx, firmID, ids)
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, 0, len(rows))
	for _, row := range rows {
		if opts.PracticeArea != "" && row.PracticeArea != opts.PracticeArea {
			continue
		}
		hits = append(hits, SearchHit{Row: row, Score: scores[row.SessionID]})
	}
	return hits, nil
}

// GetConversationAnalytics aggregates the firm's funnel from the index.
func (s *Service) GetConversationAnalytics(ctx context.Context, firmID string, start, end *time.Time) (*index.Analytics, error) {
	if s.analytics == nil {
		return nil, ErrAnalyticsUnavailable
	}
	return s.analytics.GetAnalytics(ctx, firmID, start, end)
}

// DeleteConversation soft-deletes the index row. The authoritative actor
// record is retained for the firm's compliance window.
func (s *Service) DeleteConversation(ctx context.Context, firmID, sessionID, deletedBy string) error {
	affected, err := s.rows.SoftDelete(ctx, firmID, sessionID, deletedBy)
	if err != nil {
		return err
	}
	if affected {
		if s.indexer != nil {
			s.indexer.Remove(firmID, sessionID)
		}
		if s.audit != nil {
			if aerr := s.audit.LogConversationDeleted(ctx, firmID, sessionID, deletedBy); aerr != nil {
				s.logger.Warn("audit write for deletion failed",
					"firmId", firmID, "sessionId", sessionID, "error", aerr)
			}
		}
	}
	return nil
}

// VerifyIndex reports index rows that disagree with actor state.
func (s *Service) VerifyIndex(ctx context.Context, firmID string) ([]index.Inconsistency, error) {
	if s.reconciler == nil {
		return nil, ErrRepairUnavailable
	}
	return s.reconciler.VerifyIndexConsistency(ctx, firmID)
}

// RepairIndex re-projects every inconsistent conversation.
func (s *Service) RepairIndex(ctx context.Context, firmID string) (index.RepairReport, error) {
	if s.reconciler == nil {
		return index.RepairReport{}, ErrRepairUnavailable
	}
	return s.reconciler.RepairIndexInconsistencies(ctx, firmID)
}

// syncSession reads the actor's current state and enqueues it for the index.
// Failures are logged and dropped; the actor write already succeeded and the
// repair pass will catch anything the queue loses.
func (s *Service) syncSession(ctx context.Context, firmID, sessionID string) {
	st, err := s.arena.Actor(ctx, firmID, sessionID).CurrentState(ctx)
	if err != nil {
		s.logger.Warn("index sync skipped, state read failed",
			"firmId", firmID, "sessionId", sessionID, "error", err)
		return
	}
	s.projector.Enqueue(ctx, IndexSnapshot(st))

	if s.indexer != nil {
		if summary := summaryText(st); summary != "" {
			if ierr := s.indexer.Upsert(ctx, firmID, sessionID, summary); ierr != nil {
				s.logger.Warn("similarity index update failed",
					"firmId", firmID, "sessionId", sessionID, "error", ierr)
			}
		}
	}

	if st.Phase.Terminal() && s.archiver != nil {
		if aerr := s.archiver.Archive(ctx, st); aerr != nil {
			s.logger.Warn("retention archive failed",
				"firmId", firmID, "sessionId", sessionID, "error", aerr)
		}
	}
}

func (s *Service) observe(operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.ObserveOperation(operation, status)
	s.metrics.ObserveLatency(operation, s.clock().Sub(start).Seconds())
}

// summaryText builds the text the similarity index embeds for a
// conversation. Ciphertext never reaches the embedder: encrypted message
// bodies are skipped, which leaves HIPAA firms searchable by practice area
// and goals only.
func summaryText(st *State) string {
	parts := make([]string, 0, 8)
	if st.Identity.LegalArea != "" {
		parts = append(parts, st.Identity.LegalArea)
	}
	if st.Identity.Name != "" {
		parts = append(parts, st.Identity.Name)
	}
	for _, g := range st.DataGoals {
		if g.Description != "" {
			parts = append(parts, g.Description)
		}
	}
	msgs := st.Messages
	if len(msgs) > 20 {
		msgs = msgs[len(msgs)-20:]
	}
	for _, m := range msgs {
		if m.Encrypted || m.Role != RoleUser {
			continue
		}
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n")
}

// IndexSnapshot converts authoritative actor state into the summary the
// index consumes.
func IndexSnapshot(st *State) index.Snapshot {
	return index.Snapshot{
		FirmID:          st.FirmID,
		SessionID:       st.SessionID,
		UserID:          st.UserID,
		Phase:           string(st.Phase),
		PracticeArea:    st.Identity.LegalArea,
		ClientName:      st.Identity.Name,
		ClientEmail:     st.Identity.Email,
		ClientPhone:     st.Identity.Phone,
		ConflictStatus:  string(st.Conflict.Status),
		IsAuthenticated: st.IsAuthenticated,
		MessageCount:    len(st.Messages),
		GoalsTotal:      len(st.DataGoals),
		GoalsCompleted:  len(st.CompletedGoals),
		IdentityRatio:   st.Identity.CompletenessRatio(),
		LastActivity:    st.LastActivity,
		CreatedAt:       st.CreatedAt,
	}
}

// SnapshotSource adapts a StateStore into the reconciler's view of
// authoritative state.
type SnapshotSource struct {
	store StateStore
}

// NewSnapshotSource wraps a state store for the repair pass.
func NewSnapshotSource(store StateStore) *SnapshotSource {
	if store == nil {
		panic("intake: snapshot source store cannot be nil")
	}
	return &SnapshotSource{store: store}
}

// SnapshotsByFirm lists every conversation a firm owns, summarized for the
// index.
func (s *SnapshotSource) SnapshotsByFirm(ctx context.Context, firmID string) ([]index.Snapshot, error) {
	states, err := s.store.ListByFirm(ctx, firmID)
	if err != nil {
		return nil, err
	}
	snaps := make([]index.Snapshot, 0, len(states))
	for i := range states {
		snaps = append(snaps, IndexSnapshot(&states[i]))
	}
	return snaps, nil
}
