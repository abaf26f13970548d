package influxsink

import (
	"context"
	"fmt"
	"time"

	"framefeed.com/internal/quotes/frame"
	"framefeed.com/pkg/logger"
	"framefeed.com/pkg/metrics"
	"framefeed.com/pkg/safe"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"
)

const Measurement = "kline"

type Config struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`

	// 写入优化项
	BatchSize     uint          `mapstructure:"batch_size"`     // 建议从 1000~5000 起步
	FlushInterval time.Duration `mapstructure:"flush_interval"` // 例如 1s
	UseGzip       bool          `mapstructure:"use_gzip"`
}

func (cfg Config) Enabled() bool { return cfg.URL != "" && cfg.Bucket != "" }

// Sink 把 frame 归档成 influx 的 kline 点，异步批量写
type Sink struct {
	client influxdb2.Client
	write  api.WriteAPI
}

func New(cfg Config) *Sink {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 2000
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Second
	}

	opt := influxdb2.DefaultOptions().
		SetBatchSize(cfg.BatchSize).
		SetFlushInterval(uint(cfg.FlushInterval.Milliseconds())).
		SetUseGZip(cfg.UseGzip)

	c := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opt)
	w := c.WriteAPI(cfg.Org, cfg.Bucket)

	// 必须消费 Errors()，否则异步写入错误可能导致阻塞/泄露
	errs := w.Errors()
	safe.Go("influx-errors", func() {
		for err := range errs {
			logger.Warn(context.Background(), "influx write error", zap.Error(err))
		}
	})

	logger.Info(context.Background(), "influx sink ready", zap.String("cfg", cfg.String()))
	return &Sink{client: c, write: w}
}

// Point tags：symbol/interval/mode/provider（注意 tag cardinality）
func Point(f frame.Frame) *write.Point {
	tags := map[string]string{
		"symbol":   f.Instrument.Symbol,
		"interval": f.Interval,
		"mode":     f.Mode,
		"provider": f.Provider,
	}
	fields := map[string]interface{}{
		"o":        f.Bar.Open,
		"h":        f.Bar.High,
		"l":        f.Bar.Low,
		"c":        f.Bar.Close,
		"v":        f.Bar.VolumeShares,
		"turnover": f.Bar.Turnover,
		"vwap":     f.Bar.VWAP,
		"seq":      f.Seq,
	}
	return write.NewPoint(Measurement, tags, fields, time.UnixMilli(f.Window.StartTsMs))
}

// WriteFrames 签名与 replay.Sink 一致
func (s *Sink) WriteFrames(ctx context.Context, frames []frame.Frame) {
	for _, f := range frames {
		s.write.WritePoint(Point(f))
	}
	metrics.PublishedFramesTotal.WithLabelValues("influx").Add(float64(len(frames)))
}

func (s *Sink) Flush() { s.write.Flush() }

func (s *Sink) Close() {
	// Close 会 flush buffer
	s.client.Close()
}

func (cfg Config) String() string {
	return fmt.Sprintf("url=%s org=%s bucket=%s batch=%d flush=%s gzip=%v",
		cfg.URL, cfg.Org, cfg.Bucket, cfg.BatchSize, cfg.FlushInterval, cfg.UseGzip)
}
