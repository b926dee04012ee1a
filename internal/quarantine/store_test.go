package quarantine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_PlaceAndCheck(t *testing.T) {
	store := NewMemoryStore(nil)
	defer store.Close()
	ctx := context.Background()

	entry := &Entry{
		SubjectKey: "ip:203.0.113.9",
		Reason:     "risk score 95",
		VerdictID:  "v-1",
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(30 * time.Minute),
	}

	applied, err := store.Place(ctx, entry)
	if err != nil {
		t.Fatalf("Place() error: %v", err)
	}
	if !applied {
		t.Fatal("expected first Place to apply")
	}

	got, err := store.Check(ctx, "ip:203.0.113.9")
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if got.Reason != "risk score 95" {
		t.Errorf("reason = %q, want %q", got.Reason, "risk score 95")
	}

	if _, err := store.Check(ctx, "ip:198.51.100.1"); !errors.Is(err, ErrNotQuarantined) {
		t.Errorf("Check(unknown) error = %v, want ErrNotQuarantined", err)
	}
}

func TestMemoryStore_ExpiryNeverShortens(t *testing.T) {
	store := NewMemoryStore(nil)
	defer store.Close()
	ctx := context.Background()

	now := time.Now()
	long := &Entry{
		SubjectKey: "ip:203.0.113.9",
		VerdictID:  "v-1",
		CreatedAt:  now,
		ExpiresAt:  now.Add(4 * time.Hour),
	}
	short := &Entry{
		SubjectKey: "ip:203.0.113.9",
		VerdictID:  "v-2",
		CreatedAt:  now,
		ExpiresAt:  now.Add(30 * time.Minute),
	}

	if applied, _ := store.Place(ctx, long); !applied {
		t.Fatal("expected long entry to apply")
	}
	if applied, _ := store.Place(ctx, short); applied {
		t.Error("shorter entry must not replace a longer one")
	}

	got, err := store.Check(ctx, "ip:203.0.113.9")
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if !got.ExpiresAt.Equal(long.ExpiresAt) {
		t.Errorf("expiry = %v, want %v", got.ExpiresAt, long.ExpiresAt)
	}
}

func TestMemoryStore_ExtensionKeepsPlacementTime(t *testing.T) {
	store := NewMemoryStore(nil)
	defer store.Close()
	ctx := context.Background()

	placed := time.Now().Add(-10 * time.Minute)
	first := &Entry{
		SubjectKey: "ip:203.0.113.9",
		CreatedAt:  placed,
		ExpiresAt:  time.Now().Add(30 * time.Minute),
	}
	extend := &Entry{
		SubjectKey: "ip:203.0.113.9",
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(4 * time.Hour),
	}

	store.Place(ctx, first)
	applied, err := store.Place(ctx, extend)
	if err != nil || !applied {
		t.Fatalf("Place(extend) = %v, %v, want applied", applied, err)
	}

	got, _ := store.Check(ctx, "ip:203.0.113.9")
	if !got.CreatedAt.Equal(placed) {
		t.Errorf("created at = %v, want original placement %v", got.CreatedAt, placed)
	}
}

func TestMemoryStore_ExpiredEntryNotReturned(t *testing.T) {
	store := NewMemoryStore(nil)
	defer store.Close()
	ctx := context.Background()

	store.Place(ctx, &Entry{
		SubjectKey: "ip:203.0.113.9",
		CreatedAt:  time.Now().Add(-time.Hour),
		ExpiresAt:  time.Now().Add(-time.Minute),
	})

	if _, err := store.Check(ctx, "ip:203.0.113.9"); !errors.Is(err, ErrNotQuarantined) {
		t.Errorf("expected ErrNotQuarantined for expired entry, got %v", err)
	}
}

func TestMemoryStore_ReleaseAndCount(t *testing.T) {
	store := NewMemoryStore(nil)
	defer store.Close()
	ctx := context.Background()

	for _, key := range []string{"ip:203.0.113.1", "ip:203.0.113.2", "user:alice@d1"} {
		store.Place(ctx, &Entry{
			SubjectKey: key,
			CreatedAt:  time.Now(),
			ExpiresAt:  time.Now().Add(time.Hour),
		})
	}

	count, err := store.Count(ctx)
	if err != nil || count != 3 {
		t.Fatalf("Count() = %d, %v, want 3", count, err)
	}

	if err := store.Release(ctx, "ip:203.0.113.1"); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	if _, err := store.Check(ctx, "ip:203.0.113.1"); !errors.Is(err, ErrNotQuarantined) {
		t.Errorf("released subject still quarantined: %v", err)
	}

	count, _ = store.Count(ctx)
	if count != 2 {
		t.Errorf("Count() after release = %d, want 2", count)
	}
}

func TestRedisStore_RoundTrip(t *testing.T) {
	store := NewRedisStore(NewMockRedisClient(), "", nil)
	ctx := context.Background()

	entry := &Entry{
		SubjectKey: "ip:203.0.113.9",
		Reason:     "auto block",
		VerdictID:  "v-9",
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(30 * time.Minute),
	}

	applied, err := store.Place(ctx, entry)
	if err != nil || !applied {
		t.Fatalf("Place() = %v, %v, want applied", applied, err)
	}

	got, err := store.Check(ctx, "ip:203.0.113.9")
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if got.VerdictID != "v-9" {
		t.Errorf("verdict id = %q, want v-9", got.VerdictID)
	}

	count, err := store.Count(ctx)
	if err != nil || count != 1 {
		t.Errorf("Count() = %d, %v, want 1", count, err)
	}

	if err := store.Release(ctx, "ip:203.0.113.9"); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	if _, err := store.Check(ctx, "ip:203.0.113.9"); !errors.Is(err, ErrNotQuarantined) {
		t.Errorf("expected ErrNotQuarantined after release, got %v", err)
	}
}

func TestRedisStore_ExpiryNeverShortens(t *testing.T) {
	store := NewRedisStore(NewMockRedisClient(), "", nil)
	ctx := context.Background()

	now := time.Now()
	longExpiry := now.Add(4 * time.Hour)

	store.Place(ctx, &Entry{
		SubjectKey: "ip:203.0.113.9",
		CreatedAt:  now,
		ExpiresAt:  longExpiry,
	})
	applied, err := store.Place(ctx, &Entry{
		SubjectKey: "ip:203.0.113.9",
		CreatedAt:  now,
		ExpiresAt:  now.Add(30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("Place() error: %v", err)
	}
	if applied {
		t.Error("shorter entry must not replace a longer one")
	}

	got, err := store.Check(ctx, "ip:203.0.113.9")
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if got.ExpiresAt.Before(longExpiry.Add(-time.Second)) {
		t.Errorf("expiry = %v, want >= %v", got.ExpiresAt, longExpiry)
	}
}

func TestRedisStore_RejectsAlreadyExpired(t *testing.T) {
	store := NewRedisStore(NewMockRedisClient(), "", nil)

	applied, err := store.Place(context.Background(), &Entry{
		SubjectKey: "ip:203.0.113.9",
		CreatedAt:  time.Now().Add(-time.Hour),
		ExpiresAt:  time.Now().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("Place() error: %v", err)
	}
	if applied {
		t.Error("expired entry must not be stored")
	}
}
