package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInMemoryRepository_StoreAndGet(t *testing.T) {
	repo := NewInMemoryRepository(0)
	ctx := context.Background()
	key := ScopedKey("POST", "/employees/E1/onboard", "k1")

	if _, err := repo.Get(ctx, key); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Get() before Store error = %v, want ErrKeyNotFound", err)
	}

	rec := &Record{Key: "k1", Method: "POST", Route: "/employees/E1/onboard", StatusCode: 200, Body: `{"success":true}`}
	if err := repo.Store(ctx, key, rec); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if rec.CreatedAt != (time.Time{}) {
		t.Error("Store() must not mutate the caller's record")
	}

	got, err := repo.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Body != rec.Body || got.StatusCode != 200 || got.CreatedAt.IsZero() {
		t.Errorf("Get() = %+v", got)
	}

	got.Body = "mutated"
	again, _ := repo.Get(ctx, key)
	if again.Body != rec.Body {
		t.Error("Get() returned shared storage")
	}

	if err := repo.Store(ctx, key, rec); !errors.Is(err, ErrKeyExists) {
		t.Errorf("second Store() error = %v, want ErrKeyExists", err)
	}
}

func TestInMemoryRepository_Expiry(t *testing.T) {
	repo := NewInMemoryRepository(time.Hour)
	ctx := context.Background()

	old := &Record{Key: "k", StatusCode: 200, CreatedAt: time.Now().Add(-2 * time.Hour)}
	if err := repo.Store(ctx, "k", old); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if _, err := repo.Get(ctx, "k"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get() of expired record error = %v, want ErrKeyNotFound", err)
	}
	if err := repo.Store(ctx, "k", &Record{Key: "k", StatusCode: 201}); err != nil {
		t.Errorf("Store() over expired record error = %v", err)
	}
	got, err := repo.Get(ctx, "k")
	if err != nil || got.StatusCode != 201 {
		t.Errorf("Get() = %+v, %v; want the replacement", got, err)
	}
}

func TestInMemoryRepository_DeleteOlderThan(t *testing.T) {
	repo := NewInMemoryRepository(0)
	ctx := context.Background()

	_ = repo.Store(ctx, "old", &Record{CreatedAt: time.Now().Add(-25 * time.Hour)})
	_ = repo.Store(ctx, "recent", &Record{CreatedAt: time.Now().Add(-time.Hour)})

	deleted, err := repo.DeleteOlderThan(ctx, DefaultExpiry)
	if err != nil {
		t.Fatalf("DeleteOlderThan() error = %v", err)
	}
	if deleted != 1 || repo.Len() != 1 {
		t.Errorf("deleted = %d, remaining = %d; want 1 and 1", deleted, repo.Len())
	}
	if _, err := repo.Get(ctx, "recent"); err != nil {
		t.Errorf("recent record lost: %v", err)
	}
}
