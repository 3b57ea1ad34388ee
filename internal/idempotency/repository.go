package idempotency

import (
	"context"
	"sync"
	"time"
)

// InMemoryRepository implements Repository with in-memory storage.
type InMemoryRepository struct {
	mu      sync.RWMutex
	records map[string]Record
	expiry  time.Duration
}

// NewInMemoryRepository creates a repository whose records stop being
// returned after expiry. A zero expiry uses DefaultExpiry.
func NewInMemoryRepository(expiry time.Duration) *InMemoryRepository {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &InMemoryRepository{
		records: make(map[string]Record),
		expiry:  expiry,
	}
}

// Get retrieves a record by its scoped key.
func (r *InMemoryRepository) Get(ctx context.Context, key string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[key]
	if !ok || time.Since(rec.CreatedAt) > r.expiry {
		return nil, ErrKeyNotFound
	}
	return &rec, nil
}

// Store saves a copy of record under key. An expired record is replaced.
func (r *InMemoryRepository) Store(ctx context.Context, key string, record *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.records[key]; ok && time.Since(existing.CreatedAt) <= r.expiry {
		return ErrKeyExists
	}
	rec := *record
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	r.records[key] = rec
	return nil
}

// DeleteOlderThan removes records created more than age ago.
func (r *InMemoryRepository) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-age)
	var deleted int64
	for key, rec := range r.records {
		if rec.CreatedAt.Before(cutoff) {
			delete(r.records, key)
			deleted++
		}
	}
	return deleted, nil
}

// Len returns the number of stored records, expired ones included.
func (r *InMemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
