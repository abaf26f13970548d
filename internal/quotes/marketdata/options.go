package marketdata

import (
	"context"
	"errors"
	"time"

	"framefeed.com/internal/quotes/frame"
)

// ErrLiveFramesUnavailable strict-live 下没有真实 1m 数据时返回，消息固定
var ErrLiveFramesUnavailable = errors.New("live_frames_unavailable")

const (
	SourceMock = "mock"

	// MixedProvider 回放 frame 来自多个 provider 时的统一名字
	MixedProvider = "mixed"
)

// FrameFetcher 上游代理
type FrameFetcher interface {
	FetchFrames(ctx context.Context, symbol, interval string, limit int) ([]frame.Frame, error)
}

// MockSource 合成数据
type MockSource interface {
	Frames(symbol, interval string, limit int) []frame.Frame
}

// ReplayFrameProvider 实时回放编排方注入的回调，返回 0 条表示没有
type ReplayFrameProvider func(ctx context.Context, q Query) []frame.Frame

// Options 每个字段都可单独缺省，决策顺序见 Service.GetFrames
type Options struct {
	Market string
	// ProviderMode "real" 时优先走上游
	ProviderMode string
	Upstream     FrameFetcher

	DailyHistory        *frame.Batch
	ReplayBatch         *frame.Batch
	ReplayFrameProvider ReplayFrameProvider

	Mock MockSource
	// StrictLive 1m 没有真实来源时报错而不是造数据；也可以按请求打开
	StrictLive bool

	// Cache 上游结果短缓存，可为 nil
	Cache    Cache
	CacheTTL time.Duration
}

type Query struct {
	Symbol   string `form:"symbol" json:"symbol"`
	Interval string `form:"interval" json:"interval"`
	Limit    int    `form:"limit" json:"limit"`
	// Source "mock" 强制走合成数据
	Source     string `form:"source" json:"source"`
	StrictLive bool   `form:"strict_live" json:"strict_live"`
}
