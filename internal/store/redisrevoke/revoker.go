// Package redisrevoke stores revoked token ids in Redis so every API instance sees a logout.
package redisrevoke

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"hrgate.org/internal/auth"
)

const defaultPrefix = "hrgate:revoked:"

var _ auth.Revoker = (*Revoker)(nil)

// Revoker keeps one key per revoked token id. Keys expire with the token.
type Revoker struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// New connects to Redis. The connection is lazy; the first command dials.
func New(opts Options, now func() time.Time) (*Revoker, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewWithClient(client, opts.Prefix, now), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.Cmdable, prefix string, now func() time.Time) *Revoker {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if now == nil {
		now = time.Now
	}
	return &Revoker{client: client, prefix: prefix, now: now}
}

func (r *Revoker) key(tokenID string) string { return r.prefix + tokenID }

// Revoke marks tokenID revoked until the given time. Already expired tokens are skipped.
func (r *Revoker) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return nil
	}
	ttl := until.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	return r.client.Set(ctx, r.key(tokenID), "1", ttl).Err()
}

func (r *Revoker) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if strings.TrimSpace(tokenID) == "" {
		return false, nil
	}
	n, err := r.client.Exists(ctx, r.key(tokenID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Ping checks connectivity.
func (r *Revoker) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying client when it owns one.
func (r *Revoker) Close() error {
	if c, ok := r.client.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
