package index

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/engagelegal/intake-platform/internal/observability/metrics"
)

func TestProjectorProjectsSnapshot(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO conversation_index").
		WillReturnResult(sqlmock.NewResult(0, 1))

	queue := NewMemoryQueue(8)
	p := NewProjector(queue, NewRowStore(db), metrics.NewProjectorMetrics(prometheus.NewRegistry()), nil, 1)
	p.Start(context.Background())
	defer p.Stop()

	now := time.Now().UTC()
	p.Enqueue(context.Background(), Snapshot{
		FirmID: "firm-1", SessionID: "sess-1", Phase: "secured",
		LastActivity: now, CreatedAt: now,
	})

	waitFor(t, func() bool { return mock.ExpectationsWereMet() == nil })
}

func TestProjectorSwallowsStoreFailures(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	// first write fails, redelivered message succeeds
	mock.ExpectExec("INSERT INTO conversation_index").
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectExec("INSERT INTO conversation_index").
		WillReturnResult(sqlmock.NewResult(0, 1))

	queue := NewMemoryQueue(8)
	p := NewProjector(queue, NewRowStore(db), metrics.NewProjectorMetrics(prometheus.NewRegistry()), nil, 1)
	p.Start(context.Background())
	defer p.Stop()

	now := time.Now().UTC()
	snap := Snapshot{FirmID: "firm-1", SessionID: "sess-1", Phase: "secured", LastActivity: now, CreatedAt: now}

	// Enqueue never errors even when the store is failing.
	p.Enqueue(context.Background(), snap)
	p.Enqueue(context.Background(), snap)

	waitFor(t, func() bool { return mock.ExpectationsWereMet() == nil })
}

func TestProjectorDropsPoisonMessages(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	queue := NewMemoryQueue(8)
	if err := queue.Send(context.Background(), "not json"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	reg := prometheus.NewRegistry()
	p := NewProjector(queue, NewRowStore(db), metrics.NewProjectorMetrics(reg), nil, 1)
	p.Start(context.Background())
	defer p.Stop()

	waitFor(t, func() bool {
		families, err := reg.Gather()
		if err != nil {
			return false
		}
		for _, f := range families {
			if f.GetName() != "intake_index_sync_total" {
				continue
			}
			for _, m := range f.Metric {
				for _, l := range m.Label {
					if l.GetValue() == "decode_error" && m.GetCounter().GetValue() > 0 {
						return true
					}
				}
			}
		}
		return false
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestEnqueueDropsImmediatelyWhenQueueFull(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	// Unstarted projector: nothing drains the buffer.
	queue := NewMemoryQueue(1)
	if err := queue.Send(context.Background(), "occupied"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	reg := prometheus.NewRegistry()
	p := NewProjector(queue, NewRowStore(db), metrics.NewProjectorMetrics(reg), nil, 1)

	now := time.Now().UTC()
	start := time.Now()
	p.Enqueue(context.Background(), Snapshot{FirmID: "firm-1", SessionID: "sess-1", Phase: "secured", LastActivity: now, CreatedAt: now})
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("Enqueue against a full queue took %s, want immediate drop", elapsed)
	}
	if queue.Depth() != 1 {
		t.Fatalf("queue depth = %d, want the original occupant only", queue.Depth())
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	dropped := false
	for _, f := range families {
		if f.GetName() == "intake_index_dropped_total" {
			for _, m := range f.Metric {
				if m.GetCounter().GetValue() > 0 {
					dropped = true
				}
			}
		}
	}
	if !dropped {
		t.Fatal("dropped update not counted")
	}
}
