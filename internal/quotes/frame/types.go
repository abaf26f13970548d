package frame

import (
	"strconv"
	"strings"
	"time"
)

const (
	// SchemaFrames 批次（文件 / 接口输出）的 schema
	SchemaFrames = "market.frames.v1"
	// SchemaBar 单根 frame 的 schema
	SchemaBar = "market.bar.v1"

	ModeReal = "real"
	ModeMock = "mock"

	FeedBars = "bars"

	DefaultMarket   = "CN-A"
	DefaultTimezone = "Asia/Shanghai"
	DefaultCurrency = "CNY"
	DefaultInterval = "1m"

	MinuteMs = int64(60_000)
)

// Frame：一根 OHLCV bar + 完整来源信息。json tag 即对外契约，不要随意改名。
type Frame struct {
	SchemaVersion string     `json:"schema_version"`
	Market        string     `json:"market"`
	Mode          string     `json:"mode"`
	Provider      string     `json:"provider"`
	Feed          string     `json:"feed"`
	Seq           int64      `json:"seq"`
	EventTsMs     int64      `json:"event_ts_ms"`
	IngestTsMs    int64      `json:"ingest_ts_ms"`
	Instrument    Instrument `json:"instrument"`
	Interval      string     `json:"interval"`
	Window        Window     `json:"window"`
	Session       Session    `json:"session"`
	Bar           Bar        `json:"bar"`
}

type Instrument struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	Timezone string `json:"timezone"`
	Currency string `json:"currency"`
}

// Window：bar 覆盖的时间窗 [StartTsMs, EndTsMs)
type Window struct {
	StartTsMs  int64  `json:"start_ts_ms"`
	EndTsMs    int64  `json:"end_ts_ms"`
	TradingDay string `json:"trading_day"`
}

type Session struct {
	Phase     string `json:"phase"`
	IsHalt    bool   `json:"is_halt"`
	IsPartial bool   `json:"is_partial"`
}

// Bar 的成交额字段沿用下游已有的 turnover_cny 命名（非 CNY 市场也写在这里，币种看 Instrument.Currency）。
type Bar struct {
	Open         float64 `json:"open"`
	High         float64 `json:"high"`
	Low          float64 `json:"low"`
	Close        float64 `json:"close"`
	VolumeShares float64 `json:"volume_shares"`
	Turnover     float64 `json:"turnover_cny"`
	VWAP         float64 `json:"vwap"`
}

// Batch：所有数据源统一产出的单元
type Batch struct {
	SchemaVersion string  `json:"schema_version"`
	Market        string  `json:"market"`
	Mode          string  `json:"mode"`
	Provider      string  `json:"provider"`
	Frames        []Frame `json:"frames"`
}

func NewBatch(market, mode, provider string, frames []Frame) Batch {
	if market == "" {
		market = DefaultMarket
	}
	if frames == nil {
		frames = []Frame{}
	}
	return Batch{
		SchemaVersion: SchemaFrames,
		Market:        market,
		Mode:          mode,
		Provider:      provider,
		Frames:        frames,
	}
}

// Key 去重键：symbol|interval|start_ts_ms
func (f Frame) Key() string {
	return f.Instrument.Symbol + "|" + f.Interval + "|" + strconv.FormatInt(f.Window.StartTsMs, 10)
}

// LegacyRow 老接口的 kline 行（getKlines 输出 / 上游 legacy 输入）
type LegacyRow struct {
	OpenTime    int64   `json:"openTime"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
	CloseTime   int64   `json:"closeTime"`
	QuoteVolume float64 `json:"quoteVolume"`
}

func ToLegacyRows(frames []Frame) []LegacyRow {
	out := make([]LegacyRow, 0, len(frames))
	for _, f := range frames {
		out = append(out, LegacyRow{
			OpenTime:    f.Window.StartTsMs,
			Open:        f.Bar.Open,
			High:        f.Bar.High,
			Low:         f.Bar.Low,
			Close:       f.Bar.Close,
			Volume:      f.Bar.VolumeShares,
			CloseTime:   f.Window.EndTsMs - 1,
			QuoteVolume: f.Bar.Turnover,
		})
	}
	return out
}

var intervalSteps = map[string]int64{
	"1m":  MinuteMs,
	"3m":  3 * MinuteMs,
	"5m":  5 * MinuteMs,
	"15m": 15 * MinuteMs,
	"30m": 30 * MinuteMs,
	"1h":  60 * MinuteMs,
	"2h":  120 * MinuteMs,
	"4h":  240 * MinuteMs,
	"1d":  24 * 60 * MinuteMs,
	"1w":  7 * 24 * 60 * MinuteMs,
}

// IntervalStepMs interval 字符串 -> 毫秒步长。认不出的按 1m 处理，不让坏参数打断流。
func IntervalStepMs(interval string) int64 {
	interval = strings.TrimSpace(interval)
	if step, ok := intervalSteps[interval]; ok {
		return step
	}
	if len(interval) < 2 {
		return MinuteMs
	}
	n, err := strconv.ParseInt(interval[:len(interval)-1], 10, 64)
	if err != nil || n <= 0 {
		return MinuteMs
	}
	switch interval[len(interval)-1] {
	case 's':
		return n * 1000
	case 'm':
		return n * MinuteMs
	case 'h':
		return n * 60 * MinuteMs
	case 'd':
		return n * 24 * 60 * MinuteMs
	case 'w':
		return n * 7 * 24 * 60 * MinuteMs
	}
	return MinuteMs
}

// BucketStartMs 计算某个时间戳属于哪个桶的开始时间（毫秒）
// offsetMs 用于按时区对齐桶边界，例如日线按 UTC+8 的 00:00 切：((ts+off)/step)*step - off
func BucketStartMs(tsMs, stepMs, offsetMs int64) int64 {
	if stepMs <= 0 {
		return tsMs
	}
	x := tsMs + offsetMs
	b := x / stepMs
	if x < 0 && x%stepMs != 0 {
		b--
	}
	return b*stepMs - offsetMs
}

// TradingDay start_ts_ms 所在时区的自然日 "2006-01-02"
func TradingDay(startTsMs int64, timezone string) string {
	return time.UnixMilli(startTsMs).In(Location(timezone)).Format("2006-01-02")
}
