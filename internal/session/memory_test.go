package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_CreateThenGet(t *testing.T) {
	store := NewMemoryStore(0, 0)
	ctx := context.Background()

	sess, err := store.Create(ctx, "C-1", "math", "T-100", time.Minute)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("expected a session id")
	}
	if !sess.ExpiresAt.After(sess.CreatedAt) {
		t.Errorf("expires_at %v must be after created_at %v", sess.ExpiresAt, sess.CreatedAt)
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status(time.Now(), 0) != StatusActive {
		t.Errorf("fresh session must be active, got %s", got.Status(time.Now(), 0))
	}
	if got.ClassID != "C-1" || got.Subject != "math" || got.IssuerID != "T-100" {
		t.Errorf("session fields not persisted: %+v", got)
	}
}

func TestMemoryStore_Get_Unknown(t *testing.T) {
	store := NewMemoryStore(0, 0)
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQRSession_Status_ExpiresLazily(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	sess := QRSession{CreatedAt: now, ExpiresAt: now.Add(time.Minute)}

	if sess.Status(now.Add(30*time.Second), 0) != StatusActive {
		t.Error("session must be active before expiry")
	}
	if sess.Status(now.Add(2*time.Minute), 0) != StatusExpired {
		t.Error("session must be expired after expiry")
	}
	// Skew shrinks the window: expire early, never late.
	if sess.Status(now.Add(59*time.Second), 2*time.Second) != StatusExpired {
		t.Error("session inside the skew margin must read as expired")
	}
}

func TestMemoryStore_MarkRedeemed_ExactlyOnce(t *testing.T) {
	store := NewMemoryStore(0, 0)
	ctx := context.Background()
	sess, err := store.Create(ctx, "C-1", "math", "T-100", time.Minute)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	const workers = 32
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.MarkRedeemed(ctx, sess.ID, "S-200")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadyRedeemed):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one successful redemption, got %d", wins)
	}

	redeemed, err := store.Redeemed(ctx, sess.ID, "S-200")
	if err != nil || !redeemed {
		t.Fatalf("Redeemed = %v, %v; want true, nil", redeemed, err)
	}
}

func TestMemoryStore_MarkRedeemed_IndependentStudents(t *testing.T) {
	store := NewMemoryStore(0, 0)
	ctx := context.Background()
	sess, _ := store.Create(ctx, "C-1", "math", "T-100", time.Minute)

	if err := store.MarkRedeemed(ctx, sess.ID, "S-1"); err != nil {
		t.Fatalf("first student: %v", err)
	}
	if err := store.MarkRedeemed(ctx, sess.ID, "S-2"); err != nil {
		t.Fatalf("second student must redeem independently: %v", err)
	}
}

func TestMemoryStore_MarkRedeemed_AfterGraceWindow(t *testing.T) {
	store := NewMemoryStore(0, 2*time.Minute)
	cur := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return cur })
	ctx := context.Background()

	sess, _ := store.Create(ctx, "C-1", "math", "T-100", time.Minute)

	// Inside session expiry + grace: the claim still lands.
	cur = cur.Add(90 * time.Second)
	if err := store.MarkRedeemed(ctx, sess.ID, "S-1"); err != nil {
		t.Fatalf("within grace window: %v", err)
	}

	// Past expiry + grace: refused.
	cur = cur.Add(10 * time.Minute)
	if err := store.MarkRedeemed(ctx, sess.ID, "S-2"); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired past grace window, got %v", err)
	}
}

func TestMemoryStore_ClearRedemption(t *testing.T) {
	store := NewMemoryStore(0, 0)
	ctx := context.Background()
	sess, _ := store.Create(ctx, "C-1", "math", "T-100", time.Minute)

	if err := store.MarkRedeemed(ctx, sess.ID, "S-200"); err != nil {
		t.Fatalf("MarkRedeemed: %v", err)
	}
	if err := store.ClearRedemption(ctx, sess.ID, "S-200"); err != nil {
		t.Fatalf("ClearRedemption: %v", err)
	}
	// The compensating action frees the claim for a later retry.
	if err := store.MarkRedeemed(ctx, sess.ID, "S-200"); err != nil {
		t.Fatalf("re-mark after clear: %v", err)
	}
}

func TestMemoryStore_SessionIDsAreUnique(t *testing.T) {
	store := NewMemoryStore(0, 0)
	ctx := context.Background()
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		sess, err := store.Create(ctx, "C-1", "math", "T-100", time.Minute)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if _, dup := seen[sess.ID]; dup {
			t.Fatalf("duplicate session id %s", sess.ID)
		}
		seen[sess.ID] = struct{}{}
	}
}
