package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

const redisScanCount = 100

// RedisOptions configure the Redis backend.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	Recorder  Recorder
	Now       func() time.Time
}

// Redis stores entries as JSON envelopes under a key prefix.
type Redis struct {
	client   redis.UniversalClient
	prefix   string
	now      func() time.Time
	recorder Recorder
	logger   zerolog.Logger
	hits     atomic.Uint64
	misses   atomic.Uint64
}

type envelope struct {
	StoredAt time.Time       `json:"stored_at"`
	Value    json.RawMessage `json:"value"`
}

// NewRedis dials Redis and verifies the connection.
func NewRedis(ctx context.Context, opts RedisOptions, logger zerolog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisWithClient(client, opts, logger), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client redis.UniversalClient, opts RedisOptions, logger zerolog.Logger) *Redis {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "riskscope:"
	}
	return &Redis{
		client:   client,
		prefix:   prefix,
		now:      now,
		recorder: opts.Recorder,
		logger:   logger.With().Str("component", "redis_cache").Logger(),
	}
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Get loads and unwraps an entry.
func (r *Redis) Get(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		r.lookup(false)
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis get: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("dropping undecodable cache entry")
		_ = r.client.Del(ctx, r.prefix+key).Err()
		r.lookup(false)
		return Entry{}, false, nil
	}
	r.lookup(true)
	return Entry{Value: []byte(env.Value), StoredAt: env.StoredAt}, true, nil
}

// Set writes value, which must be JSON, with ttl.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	payload, err := encodeEnvelope(value, r.now())
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.prefix+key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Clear removes every key under the prefix.
func (r *Redis) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", redisScanCount).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis clear: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Stats reports process-local hit counters; Entries is not tracked.
func (r *Redis) Stats(_ context.Context) Stats {
	return Stats{
		Backend: "redis",
		Hits:    r.hits.Load(),
		Misses:  r.misses.Load(),
	}
}

func (r *Redis) lookup(hit bool) {
	if hit {
		r.hits.Add(1)
	} else {
		r.misses.Add(1)
	}
	if r.recorder != nil {
		r.recorder.CacheLookup("redis", hit)
	}
}

func encodeEnvelope(value []byte, storedAt time.Time) ([]byte, error) {
	if !json.Valid(value) {
		return nil, errors.New("redis cache value must be JSON")
	}
	return json.Marshal(envelope{StoredAt: storedAt.UTC(), Value: value})
}

var _ Cache = (*Redis)(nil)
