// Package redis stores engine state in Redis and bridges go-redis pub/sub to
// the messaging event bus.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/grindstone-hq/grindstone/internal/domain/shared"
	"github.com/grindstone-hq/grindstone/internal/infrastructure/messaging"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds Redis connection configuration.
type Config struct {
	// Addr is the "host:port" of the server.
	Addr string

	Password string

	// DB is the Redis database number (0-15).
	DB int

	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// KeyPrefix namespaces every key this package writes.
	KeyPrefix string
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		PoolSize:     4,
		MinIdleConns: 1,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		KeyPrefix:    PrefixState,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS & KEYS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrCacheConnection is returned when Redis connection fails.
	ErrCacheConnection = errors.New("cache: connection failed")

	// ErrCacheKeyEmpty is returned when an empty key is provided.
	ErrCacheKeyEmpty = errors.New("cache: key cannot be empty")
)

// PrefixState is the default prefix for engine state keys.
const PrefixState = "grindstone:state:"

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// NewClient connects and pings.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}
	return client, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STATE STORE
// ══════════════════════════════════════════════════════════════════════════════

// StateStore implements shared.StateStore with plain Redis strings. Values
// never expire.
type StateStore struct {
	client redis.UniversalClient
	prefix string
}

// NewStateStore wraps client. An empty prefix means PrefixState.
func NewStateStore(client redis.UniversalClient, prefix string) *StateStore {
	if prefix == "" {
		prefix = PrefixState
	}
	return &StateStore{client: client, prefix: prefix}
}

var _ shared.StateStore = (*StateStore)(nil)

// Key returns the Redis key used for a state key.
func (s *StateStore) Key(key string) string {
	return s.prefix + key
}

// Get returns the stored value or shared.ErrStateNotFound.
func (s *StateStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrCacheKeyEmpty
	}

	data, err := s.client.Get(ctx, s.Key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, shared.ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to get state %q: %w", key, err)
	}
	return data, nil
}

// Set overwrites the value for key.
func (s *StateStore) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrCacheKeyEmpty
	}
	if err := s.client.Set(ctx, s.Key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set state %q: %w", key, err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PUB/SUB
// ══════════════════════════════════════════════════════════════════════════════

// PubSub adapts a go-redis client to messaging.RedisClient.
type PubSub struct {
	client redis.UniversalClient
	subs   []*redis.PubSub
}

// NewPubSub wraps client.
func NewPubSub(client redis.UniversalClient) *PubSub {
	return &PubSub{client: client}
}

var _ messaging.RedisClient = (*PubSub)(nil)

// Publish publishes a message to a channel.
func (p *PubSub) Publish(ctx context.Context, channel string, message interface{}) error {
	if channel == "" {
		return ErrCacheKeyEmpty
	}
	return p.client.Publish(ctx, channel, message).Err()
}

// Subscribe subscribes to channels and forwards messages until ctx is done.
func (p *PubSub) Subscribe(ctx context.Context, channels ...string) (<-chan messaging.RedisMessage, error) {
	sub := p.client.Subscribe(ctx, channels...)
	// wait for the subscription confirmation so failures surface here
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	p.subs = append(p.subs, sub)

	out := make(chan messaging.RedisMessage)
	in := sub.Channel()
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- messaging.RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes subscriptions and the underlying client.
func (p *PubSub) Close() error {
	for _, sub := range p.subs {
		_ = sub.Close()
	}
	p.subs = nil
	return p.client.Close()
}
