package marketdata

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"framefeed.com/internal/quotes/frame"
	"framefeed.com/internal/quotes/mock"
	"framefeed.com/internal/quotes/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const t0 = int64(1704159060000)

type fakeUpstream struct {
	frames []frame.Frame
	err    error
	calls  atomic.Int32
	delay  time.Duration
}

func (f *fakeUpstream) FetchFrames(ctx context.Context, symbol, interval string, limit int) ([]frame.Frame, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.frames, f.err
}

type memCache struct {
	mu sync.Mutex
	m  map[string][]frame.Frame
}

func (c *memCache) GetFrames(_ context.Context, key string) ([]frame.Frame, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok, nil
}

func (c *memCache) SetFrames(_ context.Context, key string, frames []frame.Frame, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = frames
	return nil
}

func frames(symbol, interval, mode, provider string, n int) []frame.Frame {
	out := make([]frame.Frame, 0, n)
	step := frame.IntervalStepMs(interval)
	for i := 0; i < n; i++ {
		out = append(out, frame.Frame{
			Mode:       mode,
			Provider:   provider,
			Instrument: frame.Instrument{Symbol: symbol},
			Interval:   interval,
			Window:     frame.Window{StartTsMs: t0 + int64(i)*step},
			Bar:        frame.Bar{Open: 10, High: 10, Low: 10, Close: 10},
		})
	}
	return frame.NormalizeFrames(out, frame.Context{})
}

func batchOf(mode, provider string, fs []frame.Frame) *frame.Batch {
	b := frame.NewBatch("", mode, provider, fs)
	return &b
}

func fixedMock() MockSource {
	ts := time.UnixMilli(t0)
	return mock.New(mock.WithClock(func() time.Time { return ts }))
}

func TestGetFrames_RealUpstreamWins(t *testing.T) {
	up := &fakeUpstream{frames: frames("A", "1m", frame.ModeReal, upstream.Provider, 3)}
	s := New(Options{
		ProviderMode: frame.ModeReal,
		Upstream:     up,
		ReplayBatch:  batchOf(frame.ModeMock, "replay", frames("A", "1m", frame.ModeMock, "replay", 5)),
	})

	b, err := s.GetFrames(context.Background(), Query{Symbol: "A", Interval: "1m", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, frame.ModeReal, b.Mode)
	assert.Equal(t, upstream.Provider, b.Provider)
	assert.Equal(t, frame.SchemaFrames, b.SchemaVersion)
	assert.Equal(t, frame.DefaultMarket, b.Market)
	assert.Len(t, b.Frames, 3)
}

func TestGetFrames_FailingUpstreamFallsBackToReplayMode(t *testing.T) {
	up := &fakeUpstream{err: errors.New("connection refused")}
	s := New(Options{
		ProviderMode: frame.ModeReal,
		Upstream:     up,
		ReplayBatch:  batchOf(frame.ModeMock, "replay-file", frames("A", "1m", frame.ModeMock, "replay-file", 5)),
		Mock:         fixedMock(),
	})

	b, err := s.GetFrames(context.Background(), Query{Symbol: "A", Interval: "1m", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, frame.ModeMock, b.Mode)
	assert.Equal(t, "replay-file", b.Provider)
	require.Len(t, b.Frames, 2)
	assert.Equal(t, t0+4*frame.MinuteMs, b.Frames[1].Window.StartTsMs)
	assert.EqualValues(t, 1, up.calls.Load())

	// 回放批次自己声明 real 时才是 real
	s.opts.ReplayBatch = batchOf(frame.ModeReal, "recorded", frames("A", "1m", frame.ModeReal, "recorded", 5))
	b, err = s.GetFrames(context.Background(), Query{Symbol: "A", Interval: "1m"})
	require.NoError(t, err)
	assert.Equal(t, frame.ModeReal, b.Mode)
	assert.Equal(t, "recorded", b.Provider)
}

func TestGetFrames_EmptyUpstreamFallsThrough(t *testing.T) {
	s := New(Options{
		ProviderMode: frame.ModeReal,
		Upstream:     &fakeUpstream{},
		Mock:         fixedMock(),
	})
	b, err := s.GetFrames(context.Background(), Query{Symbol: "A", Interval: "5m", Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, frame.ModeMock, b.Mode)
	assert.Equal(t, mock.Provider, b.Provider)
	assert.Len(t, b.Frames, 3)
}

func TestGetFrames_ReplayProviderCallback(t *testing.T) {
	mixed := append(frames("A", "1m", frame.ModeMock, "p1", 2), frames("A", "1m", frame.ModeReal, "p2", 4)[2:]...)
	var gotQuery Query
	s := New(Options{
		ReplayFrameProvider: func(_ context.Context, q Query) []frame.Frame {
			gotQuery = q
			return mixed
		},
		ReplayBatch: batchOf(frame.ModeMock, "replay", frames("A", "1m", frame.ModeMock, "replay", 5)),
	})

	b, err := s.GetFrames(context.Background(), Query{Symbol: "A"})
	require.NoError(t, err)
	assert.Equal(t, "1m", gotQuery.Interval)
	assert.Equal(t, frame.DefaultLimit, gotQuery.Limit)
	assert.Equal(t, frame.ModeReal, b.Mode)
	assert.Equal(t, MixedProvider, b.Provider)
	assert.Len(t, b.Frames, 4)

	s.opts.ReplayFrameProvider = func(context.Context, Query) []frame.Frame {
		return frames("A", "1m", frame.ModeMock, "p1", 2)
	}
	b, err = s.GetFrames(context.Background(), Query{Symbol: "A"})
	require.NoError(t, err)
	assert.Equal(t, frame.ModeMock, b.Mode)
	assert.Equal(t, "p1", b.Provider)

	// 回调返回空，退回回放批次
	s.opts.ReplayFrameProvider = func(context.Context, Query) []frame.Frame { return nil }
	b, err = s.GetFrames(context.Background(), Query{Symbol: "A"})
	require.NoError(t, err)
	assert.Equal(t, "replay", b.Provider)
}

func TestGetFrames_StrictLive(t *testing.T) {
	s := New(Options{
		ProviderMode: frame.ModeReal,
		Upstream:     &fakeUpstream{err: errors.New("timeout")},
		StrictLive:   true,
	})
	_, err := s.GetFrames(context.Background(), Query{Symbol: "A", Interval: "1m"})
	require.Error(t, err)
	assert.Equal(t, "live_frames_unavailable", err.Error())
	assert.ErrorIs(t, err, ErrLiveFramesUnavailable)

	_, err = s.GetKlines(context.Background(), Query{Symbol: "A", Interval: "1m"})
	assert.ErrorIs(t, err, ErrLiveFramesUnavailable)

	// 非 1m 仍然可以降级到合成数据
	b, err := s.GetFrames(context.Background(), Query{Symbol: "A", Interval: "5m"})
	require.NoError(t, err)
	assert.Equal(t, frame.ModeMock, b.Mode)

	// 按请求打开 strict
	loose := New(Options{})
	_, err = loose.GetFrames(context.Background(), Query{Symbol: "A", Interval: "1m", StrictLive: true})
	assert.EqualError(t, err, "live_frames_unavailable")

	// 显式要 mock 不受 strict 限制
	b, err = s.GetFrames(context.Background(), Query{Symbol: "A", Interval: "1m", Source: "mock"})
	require.NoError(t, err)
	assert.Equal(t, mock.Provider, b.Provider)
}

func TestGetFrames_DailyHistory(t *testing.T) {
	daily := append(frames("A", "1d", frame.ModeReal, "akshare-daily", 3), frames("B", "1d", frame.ModeReal, "akshare-daily", 3)...)
	s := New(Options{DailyHistory: batchOf(frame.ModeReal, "akshare-daily", daily), Mock: fixedMock()})

	b, err := s.GetFrames(context.Background(), Query{Symbol: "B", Interval: "1d", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, frame.ModeReal, b.Mode)
	assert.Equal(t, "akshare-daily", b.Provider)
	require.Len(t, b.Frames, 2)
	for _, f := range b.Frames {
		assert.Equal(t, "B", f.Instrument.Symbol)
	}

	// 日线里没有的 symbol 走合成
	b, err = s.GetFrames(context.Background(), Query{Symbol: "C", Interval: "1d", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, mock.Provider, b.Provider)
}

func TestGetFrames_MockForcedAndLimits(t *testing.T) {
	up := &fakeUpstream{frames: frames("A", "1m", frame.ModeReal, upstream.Provider, 3)}
	s := New(Options{ProviderMode: frame.ModeReal, Upstream: up, Mock: fixedMock()})

	b, err := s.GetFrames(context.Background(), Query{Symbol: "A", Interval: "1m", Source: "MOCK", Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, frame.ModeMock, b.Mode)
	assert.Equal(t, mock.Provider, b.Provider)
	assert.Len(t, b.Frames, 5)
	assert.EqualValues(t, 0, up.calls.Load())

	b, err = s.GetFrames(context.Background(), Query{Symbol: "A", Interval: "1m", Source: "mock", Limit: 99999})
	require.NoError(t, err)
	assert.Len(t, b.Frames, frame.MaxLimit)

	b, err = s.GetFrames(context.Background(), Query{Symbol: "A", Interval: "1m", Source: "mock", Limit: -1})
	require.NoError(t, err)
	assert.Len(t, b.Frames, frame.DefaultLimit)
}

func TestGetFrames_OutputDedupedAndSorted(t *testing.T) {
	fs := frames("A", "1m", frame.ModeMock, "replay", 4)
	dup := fs[1]
	dup.Bar.Close = 99
	dup.Bar.High = 99
	shuffled := []frame.Frame{fs[3], fs[1], fs[0], fs[2], dup}
	s := New(Options{ReplayFrameProvider: func(context.Context, Query) []frame.Frame { return shuffled }})

	b, err := s.GetFrames(context.Background(), Query{Symbol: "A"})
	require.NoError(t, err)
	require.Len(t, b.Frames, 4)
	for i := 1; i < len(b.Frames); i++ {
		assert.Less(t, b.Frames[i-1].Window.StartTsMs, b.Frames[i].Window.StartTsMs)
	}
	assert.Equal(t, 99.0, b.Frames[1].Bar.Close)
}

func TestGetFrames_UpstreamCacheAndSingleflight(t *testing.T) {
	up := &fakeUpstream{frames: frames("A", "1m", frame.ModeReal, upstream.Provider, 3), delay: 20 * time.Millisecond}
	cache := &memCache{m: map[string][]frame.Frame{}}
	s := New(Options{ProviderMode: frame.ModeReal, Upstream: up, Cache: cache})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := s.GetFrames(context.Background(), Query{Symbol: "A", Interval: "1m", Limit: 3})
			assert.NoError(t, err)
			assert.Len(t, b.Frames, 3)
		}()
	}
	wg.Wait()
	calls := up.calls.Load()
	assert.LessOrEqual(t, calls, int32(8))

	_, err := s.GetFrames(context.Background(), Query{Symbol: "A", Interval: "1m", Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, calls, up.calls.Load(), "second round should hit cache")
}

type gatedUpstream struct {
	frames  []frame.Frame
	once    sync.Once
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedUpstream) FetchFrames(ctx context.Context, symbol, interval string, limit int) ([]frame.Frame, error) {
	g.calls.Add(1)
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.frames, nil
}

func TestGetFrames_SharedFetchSurvivesFirstCallerCancel(t *testing.T) {
	up := &gatedUpstream{
		frames:  frames("A", "1m", frame.ModeReal, upstream.Provider, 3),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := New(Options{ProviderMode: frame.ModeReal, Upstream: up, Mock: fixedMock()})
	q := Query{Symbol: "A", Interval: "1m", Limit: 3}

	firstCtx, cancel := context.WithCancel(context.Background())
	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, _ = s.GetFrames(firstCtx, q)
	}()
	<-up.started

	second := make(chan frame.Batch, 1)
	go func() {
		b, err := s.GetFrames(context.Background(), q)
		assert.NoError(t, err)
		second <- b
	}()
	// 等第二个调用方挂到同一个 in-flight 请求上
	time.Sleep(50 * time.Millisecond)

	cancel()
	time.Sleep(20 * time.Millisecond)
	close(up.release)

	b := <-second
	<-firstDone
	assert.Equal(t, frame.ModeReal, b.Mode)
	assert.Equal(t, upstream.Provider, b.Provider)
	assert.Len(t, b.Frames, 3)
	assert.Equal(t, int32(1), up.calls.Load())
}

func TestGetKlines(t *testing.T) {
	s := New(Options{ReplayBatch: batchOf(frame.ModeMock, "replay", frames("A", "1m", frame.ModeMock, "replay", 3))})
	rows, err := s.GetKlines(context.Background(), Query{Symbol: "A", Interval: "1m"})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, t0, rows[0].OpenTime)
	assert.Equal(t, t0+frame.MinuteMs-1, rows[0].CloseTime)
}
