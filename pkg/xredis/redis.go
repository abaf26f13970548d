package xredis

import (
	"context"
	"fmt"
	"time"

	"framefeed.com/pkg/metrics"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

func (c *Config) Enabled() bool { return c != nil && c.Addr != "" }

func NewRedis(c *Config) (*redis.Client, error) {
	poolSize := c.PoolSize
	if poolSize <= 0 {
		poolSize = 100 // 连接池大小
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     poolSize,
		MinIdleConns: 10,
	})

	// 启动时 Ping 一下，确保连接通畅
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", c.Addr, err)
	}
	return rdb, nil
}

// ReportPoolStats 把连接池状态刷到 metrics，周期调用
func ReportPoolStats(rdb *redis.Client) {
	st := rdb.PoolStats()
	metrics.RedisPoolOpen.Set(float64(st.TotalConns))
	metrics.RedisPoolIdle.Set(float64(st.IdleConns))
}
