package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend is the raw keyed byte store behind the cache policy.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, retention time.Duration) error
}

var ErrMiss = errors.New("cache miss")

// Kind selects the staleness window for an entry. Frequently-changing
// operational lists use the short window; slow-moving projections the long
// one.
type Kind string

const (
	KindAppointments Kind = "appointments"
	KindRefundQueue  Kind = "refund-queue"
	KindProfile      Kind = "profile"
)

// envelope wraps a cached value with the instant it was stored, so a value
// can outlive its TTL and still be served tagged as stale.
type envelope struct {
	StoredAt time.Time       `json:"stored_at"`
	Value    json.RawMessage `json:"value"`
}

// Cache is the read-through cache policy for list and profile reads. Writes
// always hit the source of truth first; callers Put only after a successful
// source read, and the cache is never authoritative. Entries are keyed by
// (kind, owner) so one owner's cached list can never serve another's.
type Cache struct {
	backend  Backend
	shortTTL time.Duration
	longTTL  time.Duration
	now      func() time.Time
}

func New(backend Backend, shortTTL, longTTL time.Duration) *Cache {
	return &Cache{
		backend:  backend,
		shortTTL: shortTTL,
		longTTL:  longTTL,
		now:      time.Now,
	}
}

func (c *Cache) ttl(kind Kind) time.Duration {
	if kind == KindProfile {
		return c.longTTL
	}
	return c.shortTTL
}

func key(kind Kind, ownerID string) string {
	return fmt.Sprintf("cache:%s:%s", kind, ownerID)
}

// Get returns the last cached value for (kind, owner) and whether it is
// still within its staleness window. A stale value is still returned: the
// caller decides whether stale is acceptable for its screen.
func (c *Cache) Get(ctx context.Context, kind Kind, ownerID string) (value []byte, fresh bool, err error) {
	raw, err := c.backend.Get(ctx, key(kind, ownerID))
	if err != nil {
		return nil, false, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false, fmt.Errorf("decode cache envelope: %w", err)
	}

	age := c.now().Sub(env.StoredAt)
	return env.Value, age <= c.ttl(kind), nil
}

// Put records a value read from the source of truth. Entries are retained
// well past their staleness window so stale reads remain possible while the
// source is unreachable.
func (c *Cache) Put(ctx context.Context, kind Kind, ownerID string, value []byte) error {
	env := envelope{
		StoredAt: c.now(),
		Value:    value,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode cache envelope: %w", err)
	}
	return c.backend.Set(ctx, key(kind, ownerID), raw, 10*c.ttl(kind))
}

// RedisBackend adapts a redis client to the Backend interface.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := b.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("cache get: %w", err)
	}
	return raw, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, retention time.Duration) error {
	if err := b.client.Set(ctx, key, value, retention).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}
