package progress

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"sermonpipe/internal/services"
)

// RedisChannel stores progress under "<prefix>/<job id>" with a TTL so an
// abandoned key expires on its own.
type RedisChannel struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// OpenRedis connects to the Redis server at url.
func OpenRedis(url, prefix string, ttl time.Duration) (*RedisChannel, error) {
	opt, err := redis.ParseURL(strings.TrimSpace(url))
	if err != nil {
		return nil, services.Wrap(services.ErrInvalidArgument, "progress", "parse redis url", "", err)
	}
	return NewRedis(redis.NewClient(opt), prefix, ttl), nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *RedisChannel {
	return &RedisChannel{client: client, prefix: strings.TrimRight(prefix, "/"), ttl: ttl}
}

func (r *RedisChannel) key(jobID string) string {
	if r.prefix == "" {
		return jobID
	}
	return r.prefix + "/" + jobID
}

func (r *RedisChannel) Set(ctx context.Context, jobID string, value int) error {
	if err := r.client.Set(ctx, r.key(jobID), value, r.ttl).Err(); err != nil {
		return services.Wrap(services.ErrInternal, "progress", "redis set", jobID, err)
	}
	return nil
}

func (r *RedisChannel) Clear(ctx context.Context, jobID string) error {
	if err := r.client.Del(ctx, r.key(jobID)).Err(); err != nil {
		return services.Wrap(services.ErrInternal, "progress", "redis del", jobID, err)
	}
	return nil
}

func (r *RedisChannel) Get(ctx context.Context, jobID string) (int, bool, error) {
	raw, err := r.client.Get(ctx, r.key(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, services.Wrap(services.ErrInternal, "progress", "redis get", jobID, err)
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, services.Wrap(services.ErrInternal, "progress", "redis get", "non-numeric progress value", err)
	}
	return value, true, nil
}

func (r *RedisChannel) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return services.Wrap(services.ErrInternal, "progress", "redis ping", "", err)
	}
	return nil
}

func (r *RedisChannel) Close() error {
	return r.client.Close()
}
