package app

import (
	"time"

	"framefeed.com/internal/quotes/livefile"
	"framefeed.com/internal/quotes/replay"
	"framefeed.com/internal/quotes/storage/influxsink"
	"framefeed.com/internal/quotes/upstream"
	"framefeed.com/pkg/logger"
	"framefeed.com/pkg/middleware"
	"framefeed.com/pkg/orm"
	"framefeed.com/pkg/trace"
	"framefeed.com/pkg/xredis"
)

const ServiceName = "framefeed"

// Cfg 总配置，对应 config/framefeed.yaml
type Cfg struct {
	Name     string            `mapstructure:"name"`
	HTTP     HTTPConfig        `mapstructure:"http"`
	Log      logger.Config     `mapstructure:"log"`
	Market   MarketConfig      `mapstructure:"market"`
	Upstream upstream.Config   `mapstructure:"upstream"`
	LiveFile livefile.Config   `mapstructure:"live_file"`
	Replay   ReplayConfig      `mapstructure:"replay"`
	History  HistoryConfig     `mapstructure:"history"`
	Redis    xredis.Config     `mapstructure:"redis"`
	NATS     NATSConfig        `mapstructure:"nats"`
	Influx   influxsink.Config `mapstructure:"influx"`
	Trace    trace.Config      `mapstructure:"trace"`

	MetricsAddr string `mapstructure:"metrics_addr"`
	PprofAddr   string `mapstructure:"pprof_addr"`
}

type HTTPConfig struct {
	Addr      string                     `mapstructure:"addr"`
	RateLimit middleware.RateLimitConfig `mapstructure:"rate_limit"`
	// GinMetrics 在 API 端口上挂 /metrics（go-gin-prometheus）
	GinMetrics bool `mapstructure:"gin_metrics"`
}

type MarketConfig struct {
	Market string `mapstructure:"market"`
	// ProviderMode real 时优先走上游
	ProviderMode string        `mapstructure:"provider_mode"`
	StrictLive   bool          `mapstructure:"strict_live"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

type ReplayConfig struct {
	replay.Config `mapstructure:",squash"`
	// File 回放用的历史批次（.json / .parquet）；为空且 FromMySQL 时从库里取
	File      string `mapstructure:"file"`
	FromMySQL bool   `mapstructure:"from_mysql"`
	// MySQLLimit 从库里取最近多少根
	MySQLLimit int `mapstructure:"mysql_limit"`
	// Drive false 时只把批次当静态数据给 marketdata，不起回放引擎
	Drive        bool          `mapstructure:"drive"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
	// LeaderKey 非空且配置了 redis 时，多实例只有持锁节点推送回放 frame
	LeaderKey string        `mapstructure:"leader_key"`
	LeaderTTL time.Duration `mapstructure:"leader_ttl"`
}

type HistoryConfig struct {
	// DailyFile 日线批次文件；为空且配置了 MySQL 时从库里取
	DailyFile    string     `mapstructure:"daily_file"`
	DailySymbols []string   `mapstructure:"daily_symbols"`
	MySQL        orm.Config `mapstructure:"mysql"`
	// Archive 把 live file 新增的 frame 落到 MySQL
	Archive bool `mapstructure:"archive"`
	// Journal 非空时 live file 新增的 frame 同时追加到这个 .wal 日志，可直接当 replay.file 用
	Journal string `mapstructure:"journal"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

func (c *Cfg) withDefaults() {
	if c.Name == "" {
		c.Name = ServiceName
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Log.Service == "" {
		c.Log.Service = c.Name
	}
	if c.Replay.LeaderTTL <= 0 {
		c.Replay.LeaderTTL = 10 * time.Second
	}
	if c.Replay.MySQLLimit <= 0 {
		c.Replay.MySQLLimit = 20000
	}
}
