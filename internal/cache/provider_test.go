package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreAddIfAbsent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	fresh, err := store.AddIfAbsent(ctx, "fp1", time.Hour)
	if err != nil || !fresh {
		t.Fatalf("expected fresh insert, got fresh=%v err=%v", fresh, err)
	}
	fresh, err = store.AddIfAbsent(ctx, "fp1", time.Hour)
	if err != nil || fresh {
		t.Fatalf("expected duplicate, got fresh=%v err=%v", fresh, err)
	}
	fresh, _ = store.AddIfAbsent(ctx, "fp2", time.Hour)
	if !fresh {
		t.Fatalf("expected distinct fingerprint to be fresh")
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	store.AddIfAbsent(ctx, "fp1", time.Minute)

	// Still within TTL: duplicate.
	now = now.Add(30 * time.Second)
	if fresh, _ := store.AddIfAbsent(ctx, "fp1", time.Minute); fresh {
		t.Fatalf("expected duplicate within ttl")
	}

	// Past TTL: fresh again.
	now = now.Add(2 * time.Minute)
	if fresh, _ := store.AddIfAbsent(ctx, "fp1", time.Minute); !fresh {
		t.Fatalf("expected expired fingerprint to be fresh")
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	for _, fp := range []string{"a", "b", "c"} {
		store.AddIfAbsent(ctx, fp, time.Minute)
	}

	// A write past the sweep window reaps everything expired.
	now = now.Add(5 * time.Minute)
	store.AddIfAbsent(ctx, "d", time.Minute)
	if store.Len() != 1 {
		t.Fatalf("expected sweep to leave only the new entry, got %d", store.Len())
	}
}
