package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ListFilter narrows a firm-scoped listing. Zero values mean "no filter".
type ListFilter struct {
	Phase          string
	PracticeArea   string
	ConflictStatus string
	ActiveSince    time.Time
	IncludeDeleted bool
}

// ListOptions controls pagination and ordering.
type ListOptions struct {
	Limit    int
	Offset   int
	SortBy   string // last_activity | created_at | data_quality_score
	SortDesc bool
}

// ListResult is one page of index rows plus the overall count.
type ListResult struct {
	Rows    []ConversationRow
	Total   int
	HasMore bool
}

// RowStore reads and writes the conversation_index table. It is the only
// writer besides the soft-delete endpoint; client requests never write here.
type RowStore struct {
	db *sql.DB
}

// NewRowStore creates a store over the provided database handle.
func NewRowStore(db *sql.DB) *RowStore {
	if db == nil {
		panic("index: database handle cannot be nil")
	}
	return &RowStore{db: db}
}

const rowColumns = `firm_id, session_id, user_id, phase, practice_area,
	client_name, client_email, client_phone, conflict_status, is_authenticated,
	message_count, goals_total, goals_completed, data_quality_score,
	last_activity, created_at, synced_at, is_deleted, deleted_at, deleted_by`

// Upsert writes one projected row. The soft-delete columns are deliberately
// absent from the update list: they belong to the index, not the projection.
func (s *RowStore) Upsert(ctx context.Context, row ConversationRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_index (
			firm_id, session_id, user_id, phase, practice_area,
			client_name, client_email, client_phone, conflict_status, is_authenticated,
			message_count, goals_total, goals_completed, data_quality_score,
			last_activity, created_at, synced_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (firm_id, session_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			phase = EXCLUDED.phase,
			practice_area = EXCLUDED.practice_area,
			client_name = EXCLUDED.client_name,
			client_email = EXCLUDED.client_email,
			client_phone = EXCLUDED.client_phone,
			conflict_status = EXCLUDED.conflict_status,
			is_authenticated = EXCLUDED.is_authenticated,
			message_count = EXCLUDED.message_count,
			goals_total = EXCLUDED.goals_total,
			goals_completed = EXCLUDED.goals_completed,
			data_quality_score = EXCLUDED.data_quality_score,
			last_activity = EXCLUDED.last_activity,
			synced_at = EXCLUDED.synced_at
	`, row.FirmID, row.SessionID, row.UserID, row.Phase, row.PracticeArea,
		row.ClientName, row.ClientEmail, row.ClientPhone, row.ConflictStatus, row.IsAuthenticated,
		row.MessageCount, row.GoalsTotal, row.GoalsCompleted, row.DataQualityScore,
		row.LastActivity, row.CreatedAt, row.SyncedAt)
	if err != nil {
		return fmt.Errorf("index: failed to upsert conversation row: %w", err)
	}
	return nil
}

// List returns one page of rows matching the filter plus the total count. The
// page is fetched with limit+1 to compute HasMore; the count runs as a
// separate query over the same predicate.
func (s *RowStore) List(ctx context.Context, firmID string, filter ListFilter, opts ListOptions) (ListResult, error) {
	if firmID == "" {
		return ListResult{}, fmt.Errorf("index: firm id is required")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	where, args := buildPredicate(firmID, filter)

	countQuery := `SELECT COUNT(*) FROM conversation_index ` + where
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return ListResult{}, fmt.Errorf("index: failed to count conversations: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM conversation_index %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		rowColumns, where, orderClause(opts), len(args)+1, len(args)+2)
	args = append(args, limit+1, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return ListResult{}, fmt.Errorf("index: failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []ConversationRow
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return ListResult{}, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return ListResult{}, fmt.Errorf("index: failed to read conversation rows: %w", err)
	}

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return ListResult{Rows: out, Total: total, HasMore: hasMore}, nil
}

// Get fetches one row.
func (s *RowStore) Get(ctx context.Context, firmID, sessionID string) (*ConversationRow, error) {
	query := fmt.Sprintf(`SELECT %s FROM conversation_index WHERE firm_id = $1 AND session_id = $2`, rowColumns)
	row, err := scanRow(s.db.QueryRowContext(ctx, query, firmID, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// GetByIDs hydrates rows for the given sessions, preserving the input order.
// Unknown and soft-deleted sessions are skipped.
func (s *RowStore) GetByIDs(ctx context.Context, firmID string, sessionIDs []string) ([]ConversationRow, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(sessionIDs))
	args := make([]any, 0, len(sessionIDs)+1)
	args = append(args, firmID)
	for i, id := range sessionIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}
	query := fmt.Sprintf(`SELECT %s FROM conversation_index
		WHERE firm_id = $1 AND is_deleted = FALSE AND session_id IN (%s)`,
		rowColumns, strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: failed to hydrate conversations: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]ConversationRow, len(sessionIDs))
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		byID[row.SessionID] = row
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index: failed to read conversation rows: %w", err)
	}

	out := make([]ConversationRow, 0, len(byID))
	for _, id := range sessionIDs {
		if row, ok := byID[id]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

// ListAll returns every row for a firm, deleted included. Repair-pass only.
func (s *RowStore) ListAll(ctx context.Context, firmID string) ([]ConversationRow, error) {
	query := fmt.Sprintf(`SELECT %s FROM conversation_index WHERE firm_id = $1`, rowColumns)
	rows, err := s.db.QueryContext(ctx, query, firmID)
	if err != nil {
		return nil, fmt.Errorf("index: failed to list firm rows: %w", err)
	}
	defer rows.Close()

	var out []ConversationRow
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index: failed to read conversation rows: %w", err)
	}
	return out, nil
}

// SoftDelete flags a row without touching the authoritative record. Repeated
// deletes keep the original deletion metadata.
func (s *RowStore) SoftDelete(ctx context.Context, firmID, sessionID, deletedBy string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversation_index
		SET is_deleted = TRUE, deleted_at = $1, deleted_by = $2
		WHERE firm_id = $3 AND session_id = $4 AND is_deleted = FALSE
	`, time.Now().UTC(), deletedBy, firmID, sessionID)
	if err != nil {
		return false, fmt.Errorf("index: failed to soft-delete conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("index: failed to confirm soft delete: %w", err)
	}
	return affected > 0, nil
}

func buildPredicate(firmID string, filter ListFilter) (string, []any) {
	clauses := []string{"firm_id = $1"}
	args := []any{firmID}
	if !filter.IncludeDeleted {
		clauses = append(clauses, "is_deleted = FALSE")
	}
	if filter.Phase != "" {
		args = append(args, filter.Phase)
		clauses = append(clauses, fmt.Sprintf("phase = $%d", len(args)))
	}
	if filter.PracticeArea != "" {
		args = append(args, filter.PracticeArea)
		clauses = append(clauses, fmt.Sprintf("practice_area = $%d", len(args)))
	}
	if filter.ConflictStatus != "" {
		args = append(args, filter.ConflictStatus)
		clauses = append(clauses, fmt.Sprintf("conflict_status = $%d", len(args)))
	}
	if !filter.ActiveSince.IsZero() {
		args = append(args, filter.ActiveSince)
		clauses = append(clauses, fmt.Sprintf("last_activity >= $%d", len(args)))
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func orderClause(opts ListOptions) string {
	col := "last_activity"
	switch opts.SortBy {
	case "created_at", "data_quality_score", "last_activity":
		col = opts.SortBy
	}
	dir := "ASC"
	if opts.SortDesc {
		dir = "DESC"
	}
	return col + " " + dir
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(sc rowScanner) (ConversationRow, error) {
	var row ConversationRow
	var deletedAt sql.NullTime
	var deletedBy sql.NullString
	err := sc.Scan(
		&row.FirmID, &row.SessionID, &row.UserID, &row.Phase, &row.PracticeArea,
		&row.ClientName, &row.ClientEmail, &row.ClientPhone, &row.ConflictStatus, &row.IsAuthenticated,
		&row.MessageCount, &row.GoalsTotal, &row.GoalsCompleted, &row.DataQualityScore,
		&row.LastActivity, &row.CreatedAt, &row.SyncedAt, &row.IsDeleted, &deletedAt, &deletedBy,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return ConversationRow{}, err
		}
		return ConversationRow{}, fmt.Errorf("index: failed to scan conversation row: %w", err)
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		row.DeletedAt = &t
	}
	row.DeletedBy = deletedBy.String
	return row, nil
}
