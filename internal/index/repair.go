package index

import (
	"context"
	"fmt"
	"time"

	"github.com/engagelegal/intake-platform/internal/observability/metrics"
	"github.com/engagelegal/intake-platform/pkg/logging"
)

// Inconsistency kinds reported by the verification pass.
const (
	FindingMissingRow        = "missing_row"
	FindingOrphanRow         = "orphan_row"
	FindingStaleActivity     = "stale_activity"
	FindingActivityInversion = "activity_inversion"
	FindingImpossibleValues  = "impossible_values"
	FindingMissingPhase      = "missing_phase"
)

// Inconsistency is one divergence between an index row and actor state.
type Inconsistency struct {
	Kind      string `json:"kind"`
	FirmID    string `json:"firmId"`
	SessionID string `json:"sessionId"`
	Detail    string `json:"detail"`
}

// RepairReport summarizes a reconciliation run.
type RepairReport struct {
	Checked  int             `json:"checked"`
	Findings []Inconsistency `json:"findings"`
	Repaired int             `json:"repaired"`
	Failed   int             `json:"failed"`
}

// StateSource exposes authoritative conversation snapshots for a firm. The
// reconciler reads actor state through it, never the other way around.
type StateSource interface {
	SnapshotsByFirm(ctx context.Context, firmID string) ([]Snapshot, error)
}

// Reconciler compares index rows against actor state and rewrites drifted
// projections. The index can lag silently because projection is best effort;
// this is the out-of-band path that bounds the drift.
type Reconciler struct {
	source  StateSource
	store   *RowStore
	metrics *metrics.ProjectorMetrics
	logger  *logging.Logger
	// staleThreshold bounds how far an active conversation's index
	// last_activity may trail the actor before it counts as drift.
	staleThreshold time.Duration
	clock          func() time.Time
}

// NewReconciler builds a reconciler with the given staleness threshold.
func NewReconciler(source StateSource, store *RowStore, m *metrics.ProjectorMetrics, logger *logging.Logger, staleThreshold time.Duration) *Reconciler {
	if source == nil {
		panic("index: state source cannot be nil")
	}
	if store == nil {
		panic("index: row store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if staleThreshold <= 0 {
		staleThreshold = 30 * time.Minute
	}
	return &Reconciler{
		source:         source,
		store:          store,
		metrics:        m,
		logger:         logger,
		staleThreshold: staleThreshold,
		clock:          time.Now,
	}
}

// VerifyIndexConsistency reports divergences without changing anything.
func (r *Reconciler) VerifyIndexConsistency(ctx context.Context, firmID string) ([]Inconsistency, error) {
	snaps, rows, err := r.load(ctx, firmID)
	if err != nil {
		return nil, err
	}
	return r.verify(firmID, snaps, rows), nil
}

// RepairIndexInconsistencies re-projects every divergent row from actor
// state. Soft-delete columns survive the repair untouched: the upsert does
// not write them, so a firm's deletion flags are never resurrected.
func (r *Reconciler) RepairIndexInconsistencies(ctx context.Context, firmID string) (RepairReport, error) {
	snaps, rows, err := r.load(ctx, firmID)
	if err != nil {
		return RepairReport{}, err
	}

	report := RepairReport{Checked: len(snaps), Findings: r.verify(firmID, snaps, rows)}
	if len(report.Findings) == 0 {
		return report, nil
	}

	byID := make(map[string]Snapshot, len(snaps))
	for _, s := range snaps {
		byID[s.SessionID] = s
	}
	repaired := make(map[string]bool)
	for _, finding := range report.Findings {
		r.metrics.ObserveRepairFinding(finding.Kind)
		if repaired[finding.SessionID] {
			continue
		}
		snap, ok := byID[finding.SessionID]
		if !ok {
			continue
		}
		if err := r.store.Upsert(ctx, snap.Row(r.clock())); err != nil {
			r.logger.Error("index repair failed",
				"firm_id", firmID, "session_id", finding.SessionID, "error", err)
			report.Failed++
			continue
		}
		repaired[finding.SessionID] = true
		report.Repaired++
	}
	r.logger.Info("index repair pass finished",
		"firm_id", firmID, "checked", report.Checked,
		"findings", len(report.Findings), "repaired", report.Repaired, "failed", report.Failed)
	return report, nil
}

func (r *Reconciler) load(ctx context.Context, firmID string) ([]Snapshot, []ConversationRow, error) {
	if firmID == "" {
		return nil, nil, fmt.Errorf("index: firm id is required")
	}
	snaps, err := r.source.SnapshotsByFirm(ctx, firmID)
	if err != nil {
		return nil, nil, fmt.Errorf("index: failed to load actor state: %w", err)
	}
	rows, err := r.store.ListAll(ctx, firmID)
	if err != nil {
		return nil, nil, err
	}
	return snaps, rows, nil
}

func (r *Reconciler) verify(firmID string, snaps []Snapshot, rows []ConversationRow) []Inconsistency {
	byID := make(map[string]ConversationRow, len(rows))
	for _, row := range rows {
		byID[row.SessionID] = row
	}

	var findings []Inconsistency
	for _, snap := range snaps {
		row, ok := byID[snap.SessionID]
		if !ok {
			findings = append(findings, Inconsistency{
				Kind: FindingMissingRow, FirmID: firmID, SessionID: snap.SessionID,
				Detail: "conversation has no index row",
			})
			continue
		}
		if row.Phase == "" {
			findings = append(findings, Inconsistency{
				Kind: FindingMissingPhase, FirmID: firmID, SessionID: snap.SessionID,
				Detail: "index row has no phase",
			})
			continue
		}
		if active(snap.Phase) && snap.LastActivity.Sub(row.LastActivity) > r.staleThreshold {
			findings = append(findings, Inconsistency{
				Kind: FindingStaleActivity, FirmID: firmID, SessionID: snap.SessionID,
				Detail: fmt.Sprintf("index last_activity trails actor by %s", snap.LastActivity.Sub(row.LastActivity).Round(time.Second)),
			})
			continue
		}
		// The actor is the only writer, so an index timestamp ahead of it
		// means something other than projection touched the row. Allow a
		// second of clock skew between hosts.
		if row.LastActivity.Sub(snap.LastActivity) > time.Second {
			findings = append(findings, Inconsistency{
				Kind: FindingActivityInversion, FirmID: firmID, SessionID: snap.SessionID,
				Detail: fmt.Sprintf("index last_activity leads actor by %s", row.LastActivity.Sub(snap.LastActivity).Round(time.Second)),
			})
			continue
		}
		if row.MessageCount < 0 || row.GoalsCompleted < 0 || row.GoalsCompleted > row.GoalsTotal ||
			row.DataQualityScore < 0 || row.DataQualityScore > 100 {
			findings = append(findings, Inconsistency{
				Kind: FindingImpossibleValues, FirmID: firmID, SessionID: snap.SessionID,
				Detail: fmt.Sprintf("message_count=%d goals=%d/%d score=%d",
					row.MessageCount, row.GoalsCompleted, row.GoalsTotal, row.DataQualityScore),
			})
		}
	}

	// Rows with no backing conversation are reported, never deleted: the
	// repair pass cannot tell a deleted conversation from a record that is
	// temporarily unreadable, so removal stays a human decision.
	known := make(map[string]struct{}, len(snaps))
	for _, snap := range snaps {
		known[snap.SessionID] = struct{}{}
	}
	for _, row := range rows {
		if _, ok := known[row.SessionID]; ok {
			continue
		}
		findings = append(findings, Inconsistency{
			Kind: FindingOrphanRow, FirmID: firmID, SessionID: row.SessionID,
			Detail: "index row has no backing conversation",
		})
	}
	return findings
}

func active(phase string) bool {
	return phase != "completed" && phase != "terminated"
}
