package marketdata

import (
	"context"
	"strings"
	"time"

	"framefeed.com/internal/quotes/frame"
	"framefeed.com/internal/quotes/mock"
	"framefeed.com/internal/quotes/upstream"
	"framefeed.com/pkg/logger"
	"framefeed.com/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Service 对外唯一的取数入口；调用方看不到数据源选择的细节
type Service struct {
	opts Options
	sf   singleflight.Group
}

func New(opts Options) *Service {
	if opts.Market == "" {
		opts.Market = frame.DefaultMarket
	}
	if opts.Mock == nil {
		opts.Mock = mock.New()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 2 * time.Second
	}
	return &Service{opts: opts}
}

func normalizeQuery(q Query) Query {
	q.Symbol = strings.TrimSpace(q.Symbol)
	q.Interval = strings.TrimSpace(q.Interval)
	if q.Interval == "" {
		q.Interval = frame.DefaultInterval
	}
	q.Limit = frame.ClampLimit(q.Limit)
	q.Source = strings.ToLower(strings.TrimSpace(q.Source))
	return q
}

// GetFrames 按优先级选数据源（Source=mock 时直接合成）：
//  1. ProviderMode=real 且配置了上游：上游有数据就直接返回 real/upstream-proxy
//  2. 1d：预加载的日线历史
//  3. 1m：回放回调，其次预加载的回放批次
//  4. 合成数据；StrictLive 下 1m 走到这里直接报 ErrLiveFramesUnavailable
func (s *Service) GetFrames(ctx context.Context, q Query) (frame.Batch, error) {
	q = normalizeQuery(q)
	if q.Source == SourceMock {
		return s.mockBatch(q), nil
	}

	if s.opts.ProviderMode == frame.ModeReal && s.opts.Upstream != nil {
		frames, err := s.fetchUpstream(ctx, q)
		if err != nil {
			logger.Warn(ctx, "upstream unavailable, falling back",
				zap.String("symbol", q.Symbol), zap.String("interval", q.Interval), zap.Error(err))
		} else if len(frames) > 0 {
			return s.finish(q, "upstream", frame.ModeReal, upstream.Provider, frames), nil
		}
	}

	if q.Interval == "1d" && s.opts.DailyHistory != nil {
		b := s.opts.DailyHistory
		if frames := frame.Filter(b.Frames, q.Symbol, ""); len(frames) > 0 {
			return s.finish(q, "daily", b.Mode, b.Provider, frames), nil
		}
	}

	if q.Interval == frame.DefaultInterval {
		if s.opts.ReplayFrameProvider != nil {
			if frames := s.opts.ReplayFrameProvider(ctx, q); len(frames) > 0 {
				return s.finish(q, "replay_provider", frame.ModeOf(frames), frame.ProviderOf(frames, MixedProvider), frames), nil
			}
		}
		if b := s.opts.ReplayBatch; b != nil {
			if frames := frame.Filter(b.Frames, q.Symbol, ""); len(frames) > 0 {
				return s.finish(q, "replay_batch", b.Mode, b.Provider, frames), nil
			}
		}
		if s.opts.StrictLive || q.StrictLive {
			metrics.StrictLiveRejectTotal.WithLabelValues(q.Interval).Inc()
			logger.Warn(ctx, "strict live: no live frames", zap.String("symbol", q.Symbol))
			return frame.Batch{}, ErrLiveFramesUnavailable
		}
	}

	return s.mockBatch(q), nil
}

// GetKlines 老接口：同样的选源逻辑，输出 kline 行
func (s *Service) GetKlines(ctx context.Context, q Query) ([]frame.LegacyRow, error) {
	b, err := s.GetFrames(ctx, q)
	if err != nil {
		return nil, err
	}
	return frame.ToLegacyRows(b.Frames), nil
}

func (s *Service) mockBatch(q Query) frame.Batch {
	return s.finish(q, "mock", frame.ModeMock, mock.Provider, s.opts.Mock.Frames(q.Symbol, q.Interval, q.Limit))
}

func (s *Service) finish(q Query, source, mode, provider string, frames []frame.Frame) frame.Batch {
	out := frame.Tail(frame.DedupeAndSort(frames), q.Limit)
	metrics.FramesServedTotal.WithLabelValues(source, q.Interval).Add(float64(len(out)))
	logger.Debug(context.Background(), "frames served",
		zap.String("source", source), zap.String("symbol", q.Symbol),
		zap.String("interval", q.Interval), zap.Int("count", len(out)))
	return frame.NewBatch(s.opts.Market, mode, provider, out)
}

func (s *Service) fetchUpstream(ctx context.Context, q Query) ([]frame.Frame, error) {
	key := cacheKey(q)
	if s.opts.Cache != nil {
		if frames, ok, err := s.opts.Cache.GetFrames(ctx, key); err == nil && ok {
			return frames, nil
		}
	}
	// singleflight 合并同一 key 的并发拉取；结果是共享的，不能跟着第一个调用方的 ctx 一起取消
	v, err, _ := s.sf.Do(key, func() (interface{}, error) {
		fctx := context.WithoutCancel(ctx)
		frames, err := s.opts.Upstream.FetchFrames(fctx, q.Symbol, q.Interval, q.Limit)
		if err != nil {
			return nil, err
		}
		if len(frames) > 0 && s.opts.Cache != nil {
			_ = s.opts.Cache.SetFrames(fctx, key, frames, s.opts.CacheTTL)
		}
		return frames, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]frame.Frame), nil
}
