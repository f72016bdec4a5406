// Package cache holds recent probe results keyed by destination number.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"k8s.io/utils/clock"
)

var (
	ErrUnsupportedBackend = errors.New("unsupported cache backend")
	// ErrCountUnsupported is returned by backends that cannot count live entries cheaply.
	ErrCountUnsupported = errors.New("cache count not supported by backend")
)

const (
	BackendInternal = "internal"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
)

// Cache is a TTL store. Every Set (re)starts the entry's expiry at now+ttl.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, opts ...SetOption) error
	Remove(ctx context.Context, key string) error
	Count(ctx context.Context) (int, error)
	Close() error
}

type setOptions struct {
	keepValue bool
}

type SetOption func(*setOptions)

// KeepValue leaves an existing value untouched and only slides its expiry.
// Absent keys are still inserted with the given value.
func KeepValue() SetOption {
	return func(o *setOptions) { o.keepValue = true }
}

func applySetOptions(opts []SetOption) setOptions {
	var o setOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

type Config struct {
	Backend string
	TTL     time.Duration
	// KeyPrefix namespaces keys in shared backends.
	KeyPrefix string
}

type Option func(*options)

type options struct {
	clock clock.WithTicker
	log   *slog.Logger
}

func WithClock(c clock.WithTicker) Option {
	return func(o *options) { o.clock = c }
}

func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// New builds the backend named by cfg.Backend. rdb is required only for the redis backend.
// The memory backend's eviction loop is already running on return.
func New(cfg Config, rdb *redis.Client, opts ...Option) (Cache, error) {
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("cache ttl must be > 0")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case BackendInternal, BackendMemory:
		m := NewMemory(cfg.TTL, opts...)
		m.Start()
		return m, nil
	case BackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("redis cache: client is nil")
		}
		return NewRedis(rdb, cfg.TTL, cfg.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, cfg.Backend)
	}
}
