package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemory_Commit(t *testing.T) {
	led := NewMemory()
	ctx := context.Background()

	rec, err := led.Commit(ctx, "sess-1", "S-200", "C-1", "math")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if rec.ID == "" {
		t.Error("expected a record id")
	}
	if rec.Status != StatusPresent {
		t.Errorf("status = %q, want %q", rec.Status, StatusPresent)
	}

	// Same (student, session): refused.
	if _, err := led.Commit(ctx, "sess-1", "S-200", "C-1", "math"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for same session, got %v", err)
	}
	// Same (student, class, subject, day) through a different session: refused.
	if _, err := led.Commit(ctx, "sess-2", "S-200", "C-1", "math"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for same day and subject, got %v", err)
	}
	// Different subject same day: allowed.
	if _, err := led.Commit(ctx, "sess-3", "S-200", "C-1", "physics"); err != nil {
		t.Fatalf("different subject must commit: %v", err)
	}
}

func TestMemory_Commit_NextDayAllowed(t *testing.T) {
	led := NewMemory()
	cur := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	led.SetClock(func() time.Time { return cur })
	ctx := context.Background()

	if _, err := led.Commit(ctx, "sess-1", "S-200", "C-1", "math"); err != nil {
		t.Fatalf("day one: %v", err)
	}
	cur = cur.Add(24 * time.Hour)
	if _, err := led.Commit(ctx, "sess-2", "S-200", "C-1", "math"); err != nil {
		t.Fatalf("next day must commit: %v", err)
	}
}

func TestMemory_Commit_ConcurrentExactlyOne(t *testing.T) {
	led := NewMemory()
	ctx := context.Background()

	const workers = 32
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = led.Commit(ctx, "sess-1", "S-200", "C-1", "math")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrDuplicate):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one committed record, got %d", wins)
	}

	recs, err := led.Query(ctx, Filters{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("ledger holds %d records, want 1", len(recs))
	}
}

func TestMemory_Query_FiltersAndOrder(t *testing.T) {
	led := NewMemory()
	cur := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	led.SetClock(func() time.Time { return cur })
	ctx := context.Background()

	if _, err := led.Commit(ctx, "sess-1", "S-1", "C-1", "math"); err != nil {
		t.Fatal(err)
	}
	cur = cur.Add(time.Hour)
	if _, err := led.Commit(ctx, "sess-2", "S-2", "C-1", "math"); err != nil {
		t.Fatal(err)
	}
	cur = cur.Add(time.Hour)
	if _, err := led.Commit(ctx, "sess-3", "S-1", "C-2", "physics"); err != nil {
		t.Fatal(err)
	}

	recs, err := led.Query(ctx, Filters{ClassID: "C-1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("class filter: got %d records, want 2", len(recs))
	}
	if !recs[0].MarkedAt.After(recs[1].MarkedAt) {
		t.Error("records must be ordered newest first")
	}

	recs, _ = led.Query(ctx, Filters{StudentID: "S-1"})
	if len(recs) != 2 {
		t.Fatalf("student filter: got %d records, want 2", len(recs))
	}

	recs, _ = led.Query(ctx, Filters{From: cur.Add(-30 * time.Minute)})
	if len(recs) != 1 || recs[0].SessionID != "sess-3" {
		t.Fatalf("date filter: got %+v, want only sess-3", recs)
	}

	recs, _ = led.Query(ctx, Filters{Limit: 1, Offset: 1})
	if len(recs) != 1 || recs[0].SessionID != "sess-2" {
		t.Fatalf("pagination: got %+v, want sess-2", recs)
	}
}
