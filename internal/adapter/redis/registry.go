// Package redis provides a shared dedup registry so several relay instances
// never publish the same alert twice.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/couchcryptid/storm-alert-relay/internal/domain"
)

const (
	defaultKeyPrefix = "alert:processed:"
	valuePending     = "pending"
	valuePublished   = "published"
)

// releaseScript deletes the key only while it is still pending.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Registry implements dedup.Registry on top of Redis SET NX / SET XX.
type Registry struct {
	client *goredis.Client
	ttl    time.Duration
	prefix string
}

// NewRegistry creates a registry backed by client. Entries expire after ttl;
// zero keeps them until evicted by Redis.
func NewRegistry(client *goredis.Client, ttl time.Duration) *Registry {
	return &Registry{client: client, ttl: ttl, prefix: defaultKeyPrefix}
}

// Dial parses a redis:// URL and verifies the connection.
func Dial(ctx context.Context, url string) (*goredis.Client, error) {
	opt, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (r *Registry) Reserve(ctx context.Context, id string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(id), valuePending, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserve alert %q: %w", id, err)
	}
	return ok, nil
}

func (r *Registry) Commit(ctx context.Context, id string) error {
	ok, err := r.client.SetXX(ctx, r.key(id), valuePublished, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("commit alert %q: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("commit %q: %w", id, domain.ErrUnknownAlertID)
	}
	return nil
}

func (r *Registry) Release(ctx context.Context, id string) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.key(id)}, valuePending).Err(); err != nil {
		return fmt.Errorf("release alert %q: %w", id, err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (r *Registry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Registry) key(id string) string {
	return r.prefix + id
}
