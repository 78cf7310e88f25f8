// Package redis provides a Redis-backed storage.Store. The snapshot is kept
// as a single JSON string value.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/ggoodman/mcp-vault-server/storage"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Config contains configuration options for the Redis store. Defaults can be
// loaded via envdecode.
type Config struct {
	// Addr like "localhost:6379". ENV: REDIS_ADDR
	Addr string `env:"REDIS_ADDR,default=localhost:6379"`
	// Key holding the snapshot. ENV: REDIS_KEY
	Key string `env:"REDIS_KEY,default=vault-mcp:snapshot"`
	// DB selects the logical database. ENV: REDIS_DB
	DB int `env:"REDIS_DB,default=0"`
}

// Store implements storage.Store using Redis.
type Store struct {
	client *redis.Client
	key    string
	owned  bool
}

var _ storage.Store = (*Store)(nil)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: cfg.Addr, DB: cfg.DB})
	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	s, err := NewWithClient(cl, cfg.Key)
	if err != nil {
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv(ctx context.Context) (*Store, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode redis config: %w", err)
	}
	return New(ctx, cfg)
}

// NewWithClient wraps an existing client. The caller keeps ownership of it.
func NewWithClient(client *redis.Client, key string) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if key == "" {
		key = "vault-mcp:snapshot"
	}
	return &Store{client: client, key: key}, nil
}

// Load reads the snapshot key.
func (s *Store) Load(ctx context.Context) (storage.Snapshot, error) {
	val, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return storage.DefaultSnapshot(), nil
		}
		return storage.Snapshot{}, fmt.Errorf("failed to get key %s: %w", s.key, err)
	}
	return storage.Decode(val)
}

// Save writes the snapshot key without expiry.
func (s *Store) Save(ctx context.Context, snap storage.Snapshot) error {
	b, err := storage.Encode(snap)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, b, 0).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", s.key, err)
	}
	return nil
}

// Close closes the client when the Store created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
