package index

import (
	"testing"
	"time"
)

func TestDataQualityScore(t *testing.T) {
	cases := []struct {
		name             string
		goalRatio        float64
		identityRatio    float64
		conflictResolved bool
		want             int
	}{
		{"everything complete", 1, 1, true, 100},
		{"half goals, half identity, unresolved", 0.5, 0.5, false, 40},
		{"nothing captured", 0, 0, false, 0},
		{"only conflict resolved", 0, 0, true, 20},
		{"goals only", 1, 0, false, 50},
		{"identity only", 0, 1, false, 30},
		{"rounding", 1.0 / 3.0, 0, false, 17}, // 16.66... rounds up
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DataQualityScore(tc.goalRatio, tc.identityRatio, tc.conflictResolved); got != tc.want {
				t.Fatalf("score = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestSnapshotRow(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	snap := Snapshot{
		FirmID:         "firm-1",
		SessionID:      "sess-1",
		Phase:          "data_gathering",
		ConflictStatus: "pending",
		GoalsTotal:     2,
		GoalsCompleted: 1,
		IdentityRatio:  0.5,
		LastActivity:   now.Add(-time.Minute),
		CreatedAt:      now.Add(-time.Hour),
	}
	row := snap.Row(now)
	if row.DataQualityScore != 40 {
		t.Fatalf("score = %d, want 40", row.DataQualityScore)
	}
	if row.SyncedAt != now {
		t.Fatalf("synced_at = %v, want %v", row.SyncedAt, now)
	}
	if row.IsDeleted || row.DeletedAt != nil || row.DeletedBy != "" {
		t.Fatal("projection must never set soft-delete fields")
	}

	snap.ConflictStatus = "clear"
	snap.GoalsCompleted = 2
	snap.IdentityRatio = 1
	if got := snap.Row(now).DataQualityScore; got != 100 {
		t.Fatalf("score = %d, want 100", got)
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	snap := Snapshot{FirmID: "firm-1", SessionID: "sess-1", Phase: "secured", MessageCount: 3}
	body, err := encodePayload(snap)
	if err != nil {
		t.Fatalf("encodePayload failed: %v", err)
	}
	got, err := decodePayload(body)
	if err != nil {
		t.Fatalf("decodePayload failed: %v", err)
	}
	if got != snap {
		t.Fatalf("round trip = %+v, want %+v", got, snap)
	}

	if _, err := decodePayload("{"); err == nil {
		t.Fatal("expected an error for a truncated payload")
	}
}
