package mock

import (
	"hash/fnv"
	"math"
	"time"

	"framefeed.com/internal/quotes/frame"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/rand"
)

const Provider = "mock-api-generated"

// Generator 每根 bar 只由 (symbol, interval, start_ts_ms) 决定：
// close 是基准价上叠两条正弦和一份按窗口哈希的噪声，open 取上一个窗口的 close。
// 所以不管 limit 多大、什么时候调用，同一窗口结果都一样。
type Generator struct {
	now func() time.Time
	// Volatility 每根 bar 噪声的标准差
	Volatility float64
}

type Option func(*Generator)

// WithClock 测试里固定时钟
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

func New(opts ...Option) *Generator {
	g := &Generator{now: time.Now, Volatility: 0.002}
	for _, o := range opts {
		o(g)
	}
	return g
}

func symbolHash(symbol string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(symbol))
	return h.Sum64()
}

// BasePrice 5 ~ 205 之间，两位小数
func BasePrice(symbol string) float64 {
	h := symbolHash(symbol)
	return 5 + float64(h%20000)/100
}

// Frames 以当前时间所在桶为最后一根，往前生成 limit 根
func (g *Generator) Frames(symbol, interval string, limit int) []frame.Frame {
	if interval == "" {
		interval = frame.DefaultInterval
	}
	limit = frame.ClampLimit(limit)
	step := frame.IntervalStepMs(interval)
	// 按 +08:00 对齐桶边界，日线从当地 0 点切
	const offset = int64(8 * 3600 * 1000)
	lastStart := frame.BucketStartMs(g.now().UnixMilli(), step, offset)
	firstStart := lastStart - int64(limit-1)*step

	seed := symbolHash(symbol + "|" + interval)
	frames := make([]frame.Frame, 0, limit)
	for i := 0; i < limit; i++ {
		start := firstStart + int64(i)*step
		k := start / step
		open := g.closeAt(symbol, seed, k-1)
		closeP := g.closeAt(symbol, seed, k)

		rng := barRand(seed^wickSalt, k)
		wick := math.Abs(rng.NormFloat64()) * g.Volatility * open
		high := math.Max(open, closeP) + wick
		low := math.Max(0.01, math.Min(open, closeP)-wick*rng.Float64())
		lots := 10 + rng.Intn(5000)
		volume := float64(lots * 100)

		frames = append(frames, frame.Frame{
			Mode:       frame.ModeMock,
			Provider:   Provider,
			Instrument: frame.Instrument{Symbol: symbol},
			Interval:   interval,
			Window:     frame.Window{StartTsMs: start},
			Bar: frame.Bar{
				Open:         round2(open),
				High:         round2(high),
				Low:          round2(low),
				Close:        round2(closeP),
				VolumeShares: volume,
				Turnover:     decimal.NewFromFloat(volume).Mul(decimal.NewFromFloat(closeP)).Round(2).InexactFloat64(),
			},
		})
	}
	return frame.NormalizeFrames(frames, frame.Context{Symbol: symbol, Interval: interval, Mode: frame.ModeMock, Provider: Provider})
}

const (
	wickSalt  = uint64(0x5bd1e9955bd1e995)
	slowBars  = 390 // 约一个多交易日的分钟数
	fastBars  = 47
	slowAmp   = 0.03
	fastAmp   = 0.01
	golden64  = uint64(0x9e3779b97f4a7c15)
	phaseGrid = 1000
)

// closeAt 第 k 个窗口（start_ts_ms / step）的收盘价
func (g *Generator) closeAt(symbol string, seed uint64, k int64) float64 {
	p1 := float64(seed%phaseGrid) / phaseGrid * 2 * math.Pi
	p2 := float64((seed/phaseGrid)%phaseGrid) / phaseGrid * 2 * math.Pi
	noise := barRand(seed, k).NormFloat64() * g.Volatility
	level := 1 +
		slowAmp*math.Sin(2*math.Pi*float64(k)/slowBars+p1) +
		fastAmp*math.Sin(2*math.Pi*float64(k)/fastBars+p2) +
		noise
	return math.Max(0.01, BasePrice(symbol)*level)
}

func barRand(seed uint64, k int64) *rand.Rand {
	return rand.New(rand.NewSource(seed ^ uint64(k)*golden64))
}

// Batch 直接包成批次
func (g *Generator) Batch(symbol, interval string, limit int) frame.Batch {
	return frame.NewBatch(frame.DefaultMarket, frame.ModeMock, Provider, g.Frames(symbol, interval, limit))
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
