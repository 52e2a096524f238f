package events

import (
	"context"
	"strings"
	"testing"
	"time"

	"focusline/internal/db"
	"focusline/internal/migrate"
)

func testWriter(t *testing.T) Writer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return Writer{DB: conn, Now: func() time.Time {
		return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	}}
}

func TestAppendAndLatest(t *testing.T) {
	w := testWriter(t)
	ctx := context.Background()

	if err := w.Append(ctx, "queue.operation.discarded", "operation", "op-1", EventPayload{"attempts": 3}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Append(ctx, "queue.cleared", "queue", "", nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	items, err := w.Latest(ctx, 10, "")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 events, got %d", len(items))
	}
	if items[0].Type != "queue.cleared" {
		t.Fatalf("expected newest first, got %s", items[0].Type)
	}
	if items[1].EntityID != "op-1" {
		t.Fatalf("expected entity id op-1, got %q", items[1].EntityID)
	}
	if !strings.Contains(items[1].Payload, `"attempts":3`) {
		t.Fatalf("expected payload to carry attempts, got %s", items[1].Payload)
	}
	if items[0].TS != "2025-03-10T12:00:00Z" {
		t.Fatalf("unexpected ts %s", items[0].TS)
	}
}

func TestLatestFiltersByType(t *testing.T) {
	w := testWriter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := w.Append(ctx, "queue.operation.discarded", "operation", "op", nil); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := w.Append(ctx, "queue.cleared", "queue", "", nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	items, err := w.Latest(ctx, 10, "queue.operation.discarded")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 filtered events, got %d", len(items))
	}

	count, err := w.CountByType(ctx, "queue.operation.discarded")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected count 3, got %d", count)
	}
}

func TestLatestLimit(t *testing.T) {
	w := testWriter(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := w.Append(ctx, "queue.cleared", "queue", "", nil); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	items, err := w.Latest(ctx, 2, "")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected limit 2, got %d", len(items))
	}
}
