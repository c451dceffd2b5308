package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const idempotencyPending = "pending"

// localSweepEvery is the number of local reservations between sweeps of expired entries.
const localSweepEvery = 128

// IdempotencyState describes what is known about a key.
type IdempotencyState int

const (
	// IdempotencyReserved means the caller now owns the key and must Complete or Release it.
	IdempotencyReserved IdempotencyState = iota
	// IdempotencyInFlight means another request holds the key.
	IdempotencyInFlight
	// IdempotencyCompleted means a result was recorded for the key.
	IdempotencyCompleted
)

// IdempotencyRepository records request keys so retried non-idempotent calls are not
// applied twice. It uses Redis SETNX when a client is configured and a process-local
// map otherwise.
type IdempotencyRepository struct {
	client *redis.Client
	prefix string

	mu       sync.Mutex
	local    map[string]localEntry
	reserves int
	now      func() time.Time
}

type localEntry struct {
	value     string
	expiresAt time.Time
}

// NewIdempotencyRepository constructs the repository.
func NewIdempotencyRepository(client *redis.Client) *IdempotencyRepository {
	return &IdempotencyRepository{
		client: client,
		prefix: "idempotency:",
		local:  make(map[string]localEntry),
		now:    time.Now,
	}
}

// Reserve claims key with an in-flight marker that expires after lease, so a request
// that never completes frees the key. When the key already completed, the stored
// result is returned.
func (r *IdempotencyRepository) Reserve(ctx context.Context, key string, lease time.Duration) (IdempotencyState, string, error) {
	full := r.prefix + key
	if r.client == nil {
		return r.reserveLocal(full, lease)
	}

	ok, err := r.client.SetNX(ctx, full, idempotencyPending, lease).Result()
	if err != nil {
		return 0, "", fmt.Errorf("redis setnx %s: %w", full, err)
	}
	if ok {
		return IdempotencyReserved, "", nil
	}
	value, err := r.client.Get(ctx, full).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return r.Reserve(ctx, key, lease)
		}
		return 0, "", fmt.Errorf("redis get %s: %w", full, err)
	}
	return decodeIdempotency(value)
}

// Complete stores result against a reserved key for ttl.
func (r *IdempotencyRepository) Complete(ctx context.Context, key, result string, ttl time.Duration) error {
	full := r.prefix + key
	value := "done:" + result
	if r.client == nil {
		r.mu.Lock()
		r.local[full] = localEntry{value: value, expiresAt: r.now().Add(ttl)}
		r.mu.Unlock()
		return nil
	}
	if err := r.client.Set(ctx, full, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", full, err)
	}
	return nil
}

// Release frees a reserved key after a failed attempt so the caller may retry.
func (r *IdempotencyRepository) Release(ctx context.Context, key string) error {
	full := r.prefix + key
	if r.client == nil {
		r.mu.Lock()
		delete(r.local, full)
		r.mu.Unlock()
		return nil
	}
	if err := r.client.Del(ctx, full).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", full, err)
	}
	return nil
}

func (r *IdempotencyRepository) reserveLocal(full string, lease time.Duration) (IdempotencyState, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.reserves++
	if r.reserves%localSweepEvery == 0 {
		for k, entry := range r.local {
			if !now.Before(entry.expiresAt) {
				delete(r.local, k)
			}
		}
	}
	if entry, ok := r.local[full]; ok && now.Before(entry.expiresAt) {
		return decodeIdempotency(entry.value)
	}
	r.local[full] = localEntry{value: idempotencyPending, expiresAt: now.Add(lease)}
	return IdempotencyReserved, "", nil
}

func decodeIdempotency(value string) (IdempotencyState, string, error) {
	if result, ok := strings.CutPrefix(value, "done:"); ok {
		return IdempotencyCompleted, result, nil
	}
	return IdempotencyInFlight, "", nil
}
