package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces cache keys in a shared redis.
const DefaultKeyPrefix = "receipt-ocr:cache"

// RedisOptions configures the redis-backed store.
type RedisOptions struct {
	MaxEntries int
	KeyPrefix  string
	// TTL expires entries in redis independently of FIFO eviction. Zero disables expiry.
	TTL time.Duration
}

// Redis is a FIFO store shared between processes. Entries live under
// <prefix>:entry:<hash>; insertion order is kept in the list <prefix>:order.
type Redis struct {
	client redis.UniversalClient
	opts   RedisOptions
}

// NewRedis wraps an existing client. The caller keeps ownership of the client
// only if it does not call Close on the store.
func NewRedis(client redis.UniversalClient, opts RedisOptions) (*Redis, error) {
	if opts.MaxEntries <= 0 {
		return nil, ErrInvalidCapacity
	}
	if client == nil {
		return nil, errors.New("cache: redis client is required")
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	return &Redis{client: client, opts: opts}, nil
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, addr, password string, db int, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return NewRedis(client, opts)
}

func (r *Redis) entryKey(key string) string { return r.opts.KeyPrefix + ":entry:" + key }
func (r *Redis) orderKey() string           { return r.opts.KeyPrefix + ":order" }

// Get returns the entry stored under key.
func (r *Redis) Get(ctx context.Context, key string) (Entry, bool, error) {
	data, err := r.client.Get(ctx, r.entryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("cache decode: %w", err)
	}
	return entry, true, nil
}

// Put stores entry under key and trims the oldest insertions beyond MaxEntries.
func (r *Redis) Put(ctx context.Context, key string, entry Entry) error {
	if entry.InsertedAt.IsZero() {
		entry.InsertedAt = time.Now()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}

	created, err := r.client.SetNX(ctx, r.entryKey(key), data, r.opts.TTL).Result()
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	if !created {
		if err := r.client.Set(ctx, r.entryKey(key), data, redis.KeepTTL).Err(); err != nil {
			return fmt.Errorf("cache replace: %w", err)
		}
		return nil
	}

	// A key whose entry expired by TTL is still indexed; move it to the back.
	if r.opts.TTL > 0 {
		if err := r.client.LRem(ctx, r.orderKey(), 0, key).Err(); err != nil {
			return fmt.Errorf("cache reindex: %w", err)
		}
	}
	if err := r.client.RPush(ctx, r.orderKey(), key).Err(); err != nil {
		return fmt.Errorf("cache index: %w", err)
	}
	return r.evict(ctx)
}

func (r *Redis) evict(ctx context.Context) error {
	n, err := r.client.LLen(ctx, r.orderKey()).Result()
	if err != nil {
		return fmt.Errorf("cache length: %w", err)
	}
	for ; n > int64(r.opts.MaxEntries); n-- {
		oldest, err := r.client.LPop(ctx, r.orderKey()).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("cache evict: %w", err)
		}
		if err := r.client.Del(ctx, r.entryKey(oldest)).Err(); err != nil {
			return fmt.Errorf("cache evict %s: %w", oldest, err)
		}
	}
	return nil
}

// Len returns the number of indexed entries. Entries expired by TTL are
// counted until FIFO eviction removes them from the index.
func (r *Redis) Len(ctx context.Context) (int, error) {
	n, err := r.client.LLen(ctx, r.orderKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("cache length: %w", err)
	}
	return int(n), nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
