package index

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var rowTestColumns = []string{
	"firm_id", "session_id", "user_id", "phase", "practice_area",
	"client_name", "client_email", "client_phone", "conflict_status", "is_authenticated",
	"message_count", "goals_total", "goals_completed", "data_quality_score",
	"last_activity", "created_at", "synced_at", "is_deleted", "deleted_at", "deleted_by",
}

func addRow(rows *sqlmock.Rows, sessionID, phase string, score int) {
	now := time.Now().UTC()
	rows.AddRow("firm-1", sessionID, "user-1", phase, "family",
		"Alice", "alice@example.com", "+15550001111", "pending", true,
		3, 4, 2, score, now, now, now, false, nil, nil)
}

func TestRowStoreUpsertNeverTouchesSoftDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO conversation_index").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewRowStore(db)
	now := time.Now().UTC()
	err = store.Upsert(context.Background(), ConversationRow{
		FirmID: "firm-1", SessionID: "sess-1", Phase: "secured",
		LastActivity: now, CreatedAt: now, SyncedAt: now,
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRowStoreListPagination(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM conversation_index`).
		WithArgs("firm-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	// limit 2 + 1 probe row means HasMore
	page := sqlmock.NewRows(rowTestColumns)
	addRow(page, "sess-1", "secured", 50)
	addRow(page, "sess-2", "data_gathering", 70)
	addRow(page, "sess-3", "completed", 100)
	mock.ExpectQuery(`SELECT .+ FROM conversation_index .+ ORDER BY last_activity DESC LIMIT`).
		WithArgs("firm-1", 3, 0).
		WillReturnRows(page)

	store := NewRowStore(db)
	res, err := store.List(context.Background(), "firm-1", ListFilter{}, ListOptions{Limit: 2, SortDesc: true})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(res.Rows))
	}
	if !res.HasMore {
		t.Fatal("expected HasMore with a third matching row")
	}
	if res.Total != 3 {
		t.Fatalf("total = %d, want 3", res.Total)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRowStoreListLastPage(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM conversation_index`).
		WithArgs("firm-1", "completed").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	page := sqlmock.NewRows(rowTestColumns)
	addRow(page, "sess-3", "completed", 100)
	mock.ExpectQuery(`SELECT .+ FROM conversation_index`).
		WithArgs("firm-1", "completed", 51, 0).
		WillReturnRows(page)

	store := NewRowStore(db)
	res, err := store.List(context.Background(), "firm-1", ListFilter{Phase: "completed"}, ListOptions{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if res.HasMore {
		t.Fatal("HasMore should be false on the last page")
	}
	if len(res.Rows) != 1 || res.Rows[0].SessionID != "sess-3" {
		t.Fatalf("rows = %+v", res.Rows)
	}
}

func TestRowStoreSoftDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE conversation_index").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE conversation_index").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewRowStore(db)
	deleted, err := store.SoftDelete(context.Background(), "firm-1", "sess-1", "admin@firm.test")
	if err != nil {
		t.Fatalf("SoftDelete failed: %v", err)
	}
	if !deleted {
		t.Fatal("first delete should report deleted")
	}

	// second call is an idempotent no-op
	deleted, err = store.SoftDelete(context.Background(), "firm-1", "sess-1", "admin@firm.test")
	if err != nil {
		t.Fatalf("repeat SoftDelete failed: %v", err)
	}
	if deleted {
		t.Fatal("repeat delete should report nothing changed")
	}
}

func TestRowStoreGetByIDsPreservesOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	page := sqlmock.NewRows(rowTestColumns)
	addRow(page, "sess-1", "secured", 50)
	addRow(page, "sess-2", "completed", 90)
	mock.ExpectQuery(`SELECT .+ FROM conversation_index`).
		WithArgs("firm-1", "sess-2", "sess-1", "sess-404").
		WillReturnRows(page)

	store := NewRowStore(db)
	rows, err := store.GetByIDs(context.Background(), "firm-1", []string{"sess-2", "sess-1", "sess-404"})
	if err != nil {
		t.Fatalf("GetByIDs failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0].SessionID != "sess-2" || rows[1].SessionID != "sess-1" {
		t.Fatalf("hydration order = %s,%s, want input order", rows[0].SessionID, rows[1].SessionID)
	}
}
