package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRepository shares idempotency records between API replicas. Records
// expire through the Redis TTL.
type RedisRepository struct {
	client redis.UniversalClient
	prefix string
	expiry time.Duration
}

// NewRedisRepository creates a Redis-backed repository. A zero expiry uses
// DefaultExpiry.
func NewRedisRepository(client redis.UniversalClient, expiry time.Duration) *RedisRepository {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &RedisRepository{
		client: client,
		prefix: "accessrecon:idempotency:",
		expiry: expiry,
	}
}

// Get retrieves a record by its scoped key.
func (r *RedisRepository) Get(ctx context.Context, key string) (*Record, error) {
	data, err := r.client.Get(ctx, r.prefix+Hash([]byte(key))).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency key: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode idempotency record: %w", err)
	}
	return &rec, nil
}

// Store saves record with SET NX so concurrent writers keep the first one.
func (r *RedisRepository) Store(ctx context.Context, key string, record *Record) error {
	rec := *record
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode idempotency record: %w", err)
	}
	ok, err := r.client.SetNX(ctx, r.prefix+Hash([]byte(key)), data, r.expiry).Result()
	if err != nil {
		return fmt.Errorf("failed to store idempotency key: %w", err)
	}
	if !ok {
		return ErrKeyExists
	}
	return nil
}

// DeleteOlderThan is a no-op: Redis expires records on its own.
func (r *RedisRepository) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	return 0, nil
}
