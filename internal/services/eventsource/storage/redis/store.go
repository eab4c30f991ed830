// Package redis provides a Redis-backed snapshot store.
//
// Each snapshot is a hash with a version and a state field. Writes go through
// a script that refuses to replace a snapshot with an older one, so racing
// refreshes settle on the newest version.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gtriggiano/es-cqrs-utils/internal/platform/timeouts"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/aggregate"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/storage"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	fieldVersion = "version"
	fieldState   = "state"

	// DefaultKeyPrefix namespaces snapshot keys inside a shared database.
	DefaultKeyPrefix = "escqrs:snapshot:"
)

var saveScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'version')
if current and tonumber(current) > tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'state', ARGV[2])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
end
return 1
`)

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Store implements storage.SnapshotStore on a Redis client.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix replaces DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		s.keyPrefix = prefix
	}
}

// WithTTL expires snapshots after ttl. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// New wraps an existing client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, keyPrefix: DefaultKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Connect dials Redis and verifies the connection before returning a Store.
func Connect(ctx context.Context, cfg Config, logger zerolog.Logger, opts ...Option) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeouts.RedisDial,
		ReadTimeout:  timeouts.RedisRequest,
		WriteTimeout: timeouts.RedisRequest,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	logger.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Msg("connected to redis snapshot store")
	return New(client, opts...), nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// LoadSnapshot returns storage.ErrNotFound when key holds no snapshot.
func (s *Store) LoadSnapshot(ctx context.Context, key string) (aggregate.Snapshot, error) {
	fields, err := s.client.HGetAll(ctx, s.keyPrefix+key).Result()
	if err != nil {
		return aggregate.Snapshot{}, fmt.Errorf("load snapshot %q: %w", key, err)
	}
	rawVersion, ok := fields[fieldVersion]
	if !ok {
		return aggregate.Snapshot{}, storage.ErrNotFound
	}
	version, err := strconv.ParseUint(rawVersion, 10, 64)
	if err != nil {
		return aggregate.Snapshot{}, fmt.Errorf("load snapshot %q: parse version: %w", key, err)
	}
	return aggregate.Snapshot{Version: version, State: []byte(fields[fieldState])}, nil
}

// SaveSnapshot stores snapshot under key unless a newer one is already there.
func (s *Store) SaveSnapshot(ctx context.Context, key string, snapshot aggregate.Snapshot) error {
	if err := snapshot.Validate(); err != nil {
		return err
	}
	args := []any{
		strconv.FormatUint(snapshot.Version, 10),
		snapshot.State,
		s.ttl.Milliseconds(),
	}
	if err := saveScript.Run(ctx, s.client, []string{s.keyPrefix + key}, args...).Err(); err != nil {
		return fmt.Errorf("save snapshot %q: %w", key, err)
	}
	return nil
}
