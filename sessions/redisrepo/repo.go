// Package redisrepo provides the Redis-backed durable store adapter.
// Redis owns remote expiry via per-key TTLs; the session store never
// sweeps it and re-checks expiry on every read, so stale remote
// entries are harmless.
package redisrepo

import (
	"context"
	"time"

	"github.com/authface/authface/sessions"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

var _ sessions.DurableRepo = (*Repo)(nil)

// Config captures connection options.
type Config struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

// Repo is a DurableRepo backed by a Redis instance.
type Repo struct {
	client *redis.Client
	prefix string
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config) (*Repo, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "redis ping failed")
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "authface:"
	}

	return &Repo{client: client, prefix: prefix}, nil
}

func (r *Repo) key(k string) string {
	return r.prefix + k
}

func (r *Repo) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}
	return r.client.Set(ctx, r.key(key), value, ttl).Err()
}

func (r *Repo) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sessions.ErrNotFound
		}
		return nil, err
	}
	return raw, nil
}

func (r *Repo) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

func (r *Repo) Close() error {
	return r.client.Close()
}
