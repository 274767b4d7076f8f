// Package seencache remembers items the classifier already rejected so they
// are not sent again on the next run.
package seencache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DefaultTTL bounds how long a rejection is remembered.
const DefaultTTL = 24 * time.Hour

const keyPrefix = "breakingnews:seen:"

// Cache is a set of item URLs with expiry.
type Cache interface {
	Seen(ctx context.Context, url string) (bool, error)
	Mark(ctx context.Context, url string) error
}

// Key derives the storage key of url.
func Key(url string) string {
	sum := sha1.Sum([]byte(url))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Redis stores seen URLs in Redis with a TTL.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis connects to addr. A failed ping is returned so the caller can
// fall back to the in-memory cache.
func NewRedis(ctx context.Context, addr string, ttl time.Duration) (*Redis, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	log.Info().Str("addr", addr).Dur("ttl", ttl).Msg("Using redis seen cache")
	return &Redis{rdb: rdb, ttl: ttl}, nil
}

func (r *Redis) Seen(ctx context.Context, url string) (bool, error) {
	n, err := r.rdb.Exists(ctx, Key(url)).Result()
	if err != nil {
		return false, fmt.Errorf("seen cache lookup: %w", err)
	}
	return n > 0, nil
}

func (r *Redis) Mark(ctx context.Context, url string) error {
	if err := r.rdb.Set(ctx, Key(url), time.Now().UTC().Unix(), r.ttl).Err(); err != nil {
		return fmt.Errorf("seen cache mark: %w", err)
	}
	return nil
}

// Close releases the redis connection pool.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

// Memory is a process-local Cache.
type Memory struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewMemory creates an empty in-memory cache.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{entries: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

func (m *Memory) Seen(_ context.Context, url string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := Key(url)
	exp, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	if !m.now().Before(exp) {
		delete(m.entries, key)
		return false, nil
	}
	return true, nil
}

func (m *Memory) Mark(_ context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	// drop expired entries while we hold the lock
	for k, exp := range m.entries {
		if !now.Before(exp) {
			delete(m.entries, k)
		}
	}
	m.entries[Key(url)] = now.Add(m.ttl)
	return nil
}

// Len returns the number of live entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now, n := m.now(), 0
	for _, exp := range m.entries {
		if now.Before(exp) {
			n++
		}
	}
	return n
}
