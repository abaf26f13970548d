package marketdata

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"framefeed.com/internal/quotes/frame"
	"framefeed.com/pkg/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/encoding/json"
)

type Cache interface {
	GetFrames(ctx context.Context, key string) ([]frame.Frame, bool, error)
	SetFrames(ctx context.Context, key string, frames []frame.Frame, ttl time.Duration) error
}

type redisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(c *redis.Client, prefix string) Cache {
	if prefix == "" {
		prefix = "framefeed"
	}
	return &redisCache{client: c, prefix: prefix}
}

func (r *redisCache) key(k string) string {
	return fmt.Sprintf("%s:frames:%s", r.prefix, k)
}

func (r *redisCache) GetFrames(ctx context.Context, k string) ([]frame.Frame, bool, error) {
	key := r.key(k)
	start := time.Now()
	b, err := r.client.Get(ctx, key).Bytes()
	observe("get", start, err)
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var frames []frame.Frame
	if err := json.Unmarshal(b, &frames); err != nil {
		// 缓存脏了就删掉，避免持续命中错误
		_ = r.client.Del(ctx, key).Err()
		return nil, false, err
	}
	return frames, true, nil
}

func (r *redisCache) SetFrames(ctx context.Context, k string, frames []frame.Frame, ttl time.Duration) error {
	b, err := json.Marshal(frames)
	if err != nil {
		return err
	}
	start := time.Now()
	// 加一点随机，避免同一批 key 同时过期
	err = r.client.Set(ctx, r.key(k), b, withJitter(ttl, 300*time.Millisecond)).Err()
	observe("set", start, err)
	return err
}

func observe(cmd string, start time.Time, err error) {
	status := "ok"
	if err != nil && err != redis.Nil {
		status = "error"
		metrics.RedisErrors.WithLabelValues(cmd).Inc()
	}
	metrics.RedisCmdDuration.WithLabelValues(cmd, status).Observe(time.Since(start).Seconds())
}

func withJitter(ttl time.Duration, jitter time.Duration) time.Duration {
	if ttl <= 0 || jitter <= 0 {
		return ttl
	}
	return ttl + time.Duration(rand.Int63n(int64(jitter)))
}

func cacheKey(q Query) string {
	return fmt.Sprintf("%s:%s:%d", q.Symbol, q.Interval, q.Limit)
}
