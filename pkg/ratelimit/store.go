package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists the rate limit state.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, s State) error
}

// MemoryStore keeps the state in process.
type MemoryStore struct {
	mu    sync.Mutex
	state State
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: Unknown()}
}

// Load implements Store.
func (m *MemoryStore) Load(context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
	return nil
}

// RedisStore shares the state between processes through Redis.
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisStore creates a Redis-backed store. Keys expire after ttl so an
// exhausted state never outlives its window by much.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if client == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisStore{redis: client, ttl: ttl}
}

// Load implements Store. Missing keys yield Unknown().
func (r *RedisStore) Load(ctx context.Context) (State, error) {
	vals, err := r.redis.MGet(ctx, RedisKeyRemaining, RedisKeyResetAt, RedisKeyLastUpdate).Result()
	if err != nil {
		return State{}, fmt.Errorf("get rate limit state: %w", err)
	}

	remaining, ok := vals[0].(string)
	if !ok {
		return Unknown(), nil
	}

	s := Unknown()
	if s.Remaining, err = strconv.Atoi(remaining); err != nil {
		return State{}, fmt.Errorf("parse remaining: %w", err)
	}
	if v, ok := vals[1].(string); ok {
		unix, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return State{}, fmt.Errorf("parse reset_at: %w", err)
		}
		s.ResetAt = time.Unix(unix, 0)
	}
	if v, ok := vals[2].(string); ok {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return State{}, fmt.Errorf("parse last_update: %w", err)
		}
		s.LastUpdate = t
	}
	return s, nil
}

// Save implements Store.
func (r *RedisStore) Save(ctx context.Context, s State) error {
	pipe := r.redis.TxPipeline()
	pipe.Set(ctx, RedisKeyRemaining, s.Remaining, r.ttl)
	pipe.Set(ctx, RedisKeyResetAt, s.ResetAt.Unix(), r.ttl)
	pipe.Set(ctx, RedisKeyLastUpdate, s.LastUpdate.Format(time.RFC3339Nano), r.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}
	return nil
}
