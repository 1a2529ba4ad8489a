package index

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Analytics aggregates a firm's intake funnel from the index tables.
type Analytics struct {
	FirmID         string           `json:"firmId"`
	Total          int64            `json:"total"`
	Completed      int64            `json:"completed"`
	ConversionRate float64          `json:"conversionRate"`
	ByStatus       map[string]int64 `json:"byStatus"`
	ByPracticeArea []PracticeCount  `json:"byPracticeArea"`
	PeriodStart    string           `json:"periodStart"`
	PeriodEnd      string           `json:"periodEnd"`
}

// PracticeCount is one practice-area bucket.
type PracticeCount struct {
	PracticeArea string `json:"practiceArea"`
	Count        int64  `json:"count"`
}

// analyticsDB is the pgx surface the repository needs; pgxpool satisfies it
// and tests inject a mock.
type analyticsDB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// AnalyticsRepository runs the aggregate queries behind the analytics
// endpoint. It reads the index only, never actor state.
type AnalyticsRepository struct {
	db analyticsDB
}

// NewAnalyticsRepository creates a repository over a pgx pool.
func NewAnalyticsRepository(pool *pgxpool.Pool) *AnalyticsRepository {
	if pool == nil {
		panic("index: pgx pool required for analytics")
	}
	return &AnalyticsRepository{db: pool}
}

// NewAnalyticsRepositoryWithDB allows injecting a mock database for testing.
func NewAnalyticsRepositoryWithDB(db analyticsDB) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

// GetAnalytics computes the aggregates for a firm, optionally bounded to a
// date range. Both bounds must be set to apply the filter.
func (r *AnalyticsRepository) GetAnalytics(ctx context.Context, firmID string, start, end *time.Time) (*Analytics, error) {
	if firmID == "" {
		return nil, fmt.Errorf("index: firm id is required")
	}
	out := &Analytics{FirmID: firmID, ByStatus: make(map[string]int64)}

	var timeFilter string
	args := []any{firmID}
	if start != nil && end != nil {
		timeFilter = " AND created_at >= $2 AND created_at < $3"
		args = append(args, *start, *end)
		out.PeriodStart = start.Format(time.RFC3339)
		out.PeriodEnd = end.Format(time.RFC3339)
	} else {
		out.PeriodStart = "all-time"
		out.PeriodEnd = "now"
	}

	base := `FROM conversation_index WHERE firm_id = $1 AND is_deleted = FALSE` + timeFilter

	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) `+base, args...).Scan(&out.Total); err != nil {
		return nil, fmt.Errorf("index analytics: count conversations: %w", err)
	}
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) `+base+` AND phase = 'completed'`, args...).Scan(&out.Completed); err != nil {
		return nil, fmt.Errorf("index analytics: count completed: %w", err)
	}
	// conversionRate is 0 for a firm with no conversations, not a divide fault
	if out.Total > 0 {
		out.ConversionRate = float64(out.Completed) / float64(out.Total) * 100
	}

	statusRows, err := r.db.Query(ctx, `SELECT phase, COUNT(*) `+base+` GROUP BY phase`, args...)
	if err != nil {
		return nil, fmt.Errorf("index analytics: count by status: %w", err)
	}
	defer statusRows.Close()
	for statusRows.Next() {
		var phase string
		var count int64
		if err := statusRows.Scan(&phase, &count); err != nil {
			return nil, fmt.Errorf("index analytics: scan status row: %w", err)
		}
		out.ByStatus[phase] = count
	}
	if err := statusRows.Err(); err != nil {
		return nil, fmt.Errorf("index analytics: read status rows: %w", err)
	}

	areaRows, err := r.db.Query(ctx, `SELECT practice_area, COUNT(*) `+base+`
		AND practice_area <> '' GROUP BY practice_area ORDER BY COUNT(*) DESC LIMIT 10`, args...)
	if err != nil {
		return nil, fmt.Errorf("index analytics: count by practice area: %w", err)
	}
	defer areaRows.Close()
	for areaRows.Next() {
		var pc PracticeCount
		if err := areaRows.Scan(&pc.PracticeArea, &pc.Count); err != nil {
			return nil, fmt.Errorf("index analytics: scan practice row: %w", err)
		}
		out.ByPracticeArea = append(out.ByPracticeArea, pc)
	}
	if err := areaRows.Err(); err != nil {
		return nil, fmt.Errorf("index analytics: read practice rows: %w", err)
	}

	return out, nil
}
