package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/stepflow/store"
)

var _ store.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithPrefix namespaces every key. The default is "stepflow:".
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.keys = keyspace(prefix) }
}

// WithClock overrides the time source used for lock expiry, heartbeats and
// leadership.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store implements store.Store backed by Redis.
type Store struct {
	client goredis.Cmdable
	keys   keyspace
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Redis-backed store. The caller owns the client lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client: client,
		keys:   keyspace(defaultPrefix),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

func (s *Store) clock() time.Time { return s.now().UTC() }

// Migrate is a no-op for Redis.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op: the caller owns the client.
func (s *Store) Close() error { return nil }

// ── helpers ──

func isNil(err error) bool { return errors.Is(err, goredis.Nil) }

// getDoc loads the JSON document stored in the "doc" field of key.
// It reports false when the key does not exist.
func (s *Store) getDoc(ctx context.Context, key string, v any) (bool, error) {
	raw, err := s.client.HGet(ctx, key, fieldDoc).Result()
	if isNil(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return true, fmt.Errorf("stepflow/redis: decode %s: %w", key, err)
	}
	return true, nil
}

func encodeDoc(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("stepflow/redis: encode: %w", err)
	}
	return string(b), nil
}

// stamp encodes t for comparison inside scripts. The zero time is "".
func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return fmt.Sprintf("%020d", t.UnixNano())
}

func parseStamp(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// score orders members of a creation-time Sorted Set. Microseconds keep
// the value exact in a float64.
func score(t time.Time) float64 { return float64(t.UnixMicro()) }
