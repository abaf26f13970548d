package breadth

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"framefeed.com/internal/quotes/frame"
	"framefeed.com/internal/quotes/livefile"
	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
)

const (
	SchemaReplay = "market.breadth.replay.v1"
	ModeReplay   = "replay"
	Provider     = "derived_from_frames"
)

// Counts 某个时间点的涨跌家数；比例分母为 0 时为 null
type Counts struct {
	Advancers     int      `json:"advancers"`
	Decliners     int      `json:"decliners"`
	Unchanged     int      `json:"unchanged"`
	Total         int      `json:"total"`
	AdvancerRatio *float64 `json:"advancer_ratio"`
	RedBlueRatio  *float64 `json:"red_blue_ratio"`
}

type Point struct {
	TsMs       int64  `json:"ts_ms"`
	TradingDay string `json:"trading_day"`
	Breadth    Counts `json:"breadth"`
}

type Report struct {
	SchemaVersion    string  `json:"schema_version"`
	Market           string  `json:"market"`
	Mode             string  `json:"mode"`
	Provider         string  `json:"provider"`
	SourceFramesPath string  `json:"source_frames_path"`
	DayKey           string  `json:"day_key"`
	PointCount       int     `json:"point_count"`
	GeneratedAtTsMs  int64   `json:"generated_at_ts_ms"`
	Series           []Point `json:"series"`
}

// Build 只看 1m frame：每个 symbol 的 close 和自己上一根比，涨/跌/平计数，按 ts 升序输出。
// 每个 symbol 的第一根记为平。
func Build(frames []frame.Frame) []Point {
	bySymbol := map[string][]frame.Frame{}
	for _, f := range frame.DedupeAndSort(frame.Filter(frames, "", frame.DefaultInterval)) {
		sym := strings.ToUpper(strings.TrimSpace(f.Instrument.Symbol))
		if sym == "" || f.Window.StartTsMs <= 0 {
			continue
		}
		bySymbol[sym] = append(bySymbol[sym], f)
	}

	points := map[int64]*Point{}
	for _, rows := range bySymbol {
		var prev *float64
		for _, f := range rows {
			p, ok := points[f.Window.StartTsMs]
			if !ok {
				p = &Point{TsMs: f.Window.StartTsMs, TradingDay: f.Window.TradingDay}
				points[f.Window.StartTsMs] = p
			}
			closeP := f.Bar.Close
			switch {
			case prev == nil || closeP == *prev:
				p.Breadth.Unchanged++
			case closeP > *prev:
				p.Breadth.Advancers++
			default:
				p.Breadth.Decliners++
			}
			prev = &closeP
		}
	}

	out := make([]Point, 0, len(points))
	for _, p := range points {
		c := &p.Breadth
		c.Total = c.Advancers + c.Decliners + c.Unchanged
		if c.Total > 0 {
			c.AdvancerRatio = ratio(c.Advancers, c.Total)
		}
		if c.Decliners > 0 {
			c.RedBlueRatio = ratio(c.Advancers, c.Decliners)
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TsMs < out[j].TsMs })
	return out
}

func ratio(a, b int) *float64 {
	v := decimal.NewFromInt(int64(a)).DivRound(decimal.NewFromInt(int64(b)), 6).InexactFloat64()
	return &v
}

// NewReport day_key 取最后一个点的交易日
func NewReport(market, sourcePath string, series []Point, now time.Time) Report {
	if market == "" {
		market = frame.DefaultMarket
	}
	if series == nil {
		series = []Point{}
	}
	r := Report{
		SchemaVersion:    SchemaReplay,
		Market:           market,
		Mode:             ModeReplay,
		Provider:         Provider,
		SourceFramesPath: sourcePath,
		PointCount:       len(series),
		GeneratedAtTsMs:  now.UnixMilli(),
		Series:           series,
	}
	if len(series) > 0 {
		r.DayKey = series[len(series)-1].TradingDay
	}
	return r
}

// WriteFile 原子写，freshness 检查读到的永远是完整文件
func WriteFile(path string, r Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode breadth: %w", err)
	}
	return livefile.WriteFileAtomic(path, data)
}
