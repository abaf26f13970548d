package convert

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"framefeed.com/internal/quotes/frame"
	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
)

const (
	Provider         = "akshare"
	DefaultMaxFrames = 20000
	// MinMaxFrames 命令行允许的最小保留条数
	MinMaxFrames = 1000

	timeLayout = "2006-01-02 15:04:05"
	// ingest 相对 bar 结束的固定延迟
	ingestLagMs = 250
)

var ErrNoTime = errors.New("raw row has no time")

// Record 一行原始分钟数据（akshare 分时接口，中英文字段都认）
type Record map[string]any

func (r Record) str(keys ...string) string {
	for _, k := range keys {
		if v, ok := r[k]; ok && v != nil {
			s := strings.TrimSpace(fmt.Sprint(v))
			if s != "" {
				return s
			}
		}
	}
	return ""
}

func (r Record) num(keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := r[k]
		if !ok || v == nil {
			continue
		}
		switch x := v.(type) {
		case float64:
			return x, true
		case json.Number:
			if f, err := x.Float64(); err == nil {
				return f, true
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func (r Record) numOr(fallback float64, keys ...string) float64 {
	if v, ok := r.num(keys...); ok {
		return v
	}
	return fallback
}

// MapRow 原始行 -> canonical frame
func MapRow(code string, r Record, seq int) (frame.Frame, error) {
	c := frame.ToCode(code)
	symbol := frame.ToSymbol(c)
	ts := r.str("时间", "time")
	if ts == "" {
		return frame.Frame{}, ErrNoTime
	}
	t, err := time.ParseInLocation(timeLayout, ts, frame.Location(frame.DefaultTimezone))
	if err != nil {
		return frame.Frame{}, fmt.Errorf("parse time %q: %w", ts, err)
	}
	start := t.UnixMilli()
	end := start + frame.MinuteMs

	open := r.numOr(0, "开盘", "open")
	closeP := r.numOr(open, "收盘", "close")
	high := r.numOr(math.Max(open, closeP), "最高", "high")
	low := r.numOr(math.Min(open, closeP), "最低", "low")
	lots := r.numOr(0, "成交量", "volume_lot")
	shares := math.Round(lots * 100)
	turnover := r.numOr(closeP*shares, "成交额", "amount_cny")
	vwap := closeP
	if shares > 0 {
		vwap = turnover / shares
	}

	return frame.Frame{
		SchemaVersion: frame.SchemaBar,
		Market:        frame.DefaultMarket,
		Mode:          frame.ModeReal,
		Provider:      Provider,
		Feed:          frame.FeedBars,
		Seq:           int64(seq),
		EventTsMs:     end,
		IngestTsMs:    end + ingestLagMs,
		Instrument: frame.Instrument{
			Symbol:   symbol,
			Exchange: frame.ExchangeFromCode(c),
			Timezone: frame.DefaultTimezone,
			Currency: frame.DefaultCurrency,
		},
		Interval: frame.DefaultInterval,
		Window: frame.Window{
			StartTsMs:  start,
			EndTsMs:    end,
			TradingDay: ts[:10],
		},
		Session: frame.Session{Phase: frame.SessionPhase(start, frame.DefaultTimezone)},
		Bar: frame.Bar{
			Open:         round(open, 4),
			High:         round(high, 4),
			Low:          round(low, 4),
			Close:        round(closeP, 4),
			VolumeShares: shares,
			Turnover:     round(turnover, 2),
			VWAP:         round(vwap, 4),
		},
	}, nil
}

// Records 按 (symbol, start) 去重（后者覆盖），按时间排序，只保留最新 maxFrames 根并重新编号
func Records(records []Record, maxFrames int) []frame.Frame {
	if maxFrames <= 0 {
		maxFrames = DefaultMaxFrames
	}
	type key struct {
		symbol string
		start  int64
	}
	byKey := make(map[key]frame.Frame, len(records))
	for i, r := range records {
		code := r.str("symbol_code", "code")
		if code == "" || r.str("time", "时间") == "" {
			continue
		}
		f, err := MapRow(code, r, i+1)
		if err != nil {
			continue
		}
		byKey[key{f.Instrument.Symbol, f.Window.StartTsMs}] = f
	}

	frames := make([]frame.Frame, 0, len(byKey))
	for _, f := range byKey {
		frames = append(frames, f)
	}
	sort.Slice(frames, func(i, j int) bool {
		if frames[i].Window.StartTsMs != frames[j].Window.StartTsMs {
			return frames[i].Window.StartTsMs < frames[j].Window.StartTsMs
		}
		return frames[i].Instrument.Symbol < frames[j].Instrument.Symbol
	})
	if len(frames) > maxFrames {
		frames = frames[len(frames)-maxFrames:]
	}
	for i := range frames {
		frames[i].Seq = int64(i + 1)
	}
	return frames
}

// ReadJSONL 逐行解析，坏行跳过
func ReadJSONL(r io.Reader) ([]Record, error) {
	var out []Record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}

type Summary struct {
	RecordsRead     int    `json:"records_read"`
	CanonicalFrames int    `json:"canonical_frames"`
	OutputPath      string `json:"output_path"`
}

// Writer 输出落盘方式（json 原子写 / parquet）
type Writer func(path string, batch frame.Batch) error

// Run 原始 jsonl -> canonical 批次文件。原始文件不存在时输出空批次。
func Run(rawPath, outPath string, maxFrames int, write Writer) (Summary, error) {
	var records []Record
	f, err := os.Open(rawPath)
	switch {
	case err == nil:
		records, err = ReadJSONL(f)
		f.Close()
		if err != nil {
			return Summary{}, fmt.Errorf("read %s: %w", rawPath, err)
		}
	case !os.IsNotExist(err):
		return Summary{}, err
	}

	frames := Records(records, maxFrames)
	batch := frame.NewBatch(frame.DefaultMarket, frame.ModeReal, Provider, frames)
	if err := write(outPath, batch); err != nil {
		return Summary{}, fmt.Errorf("write %s: %w", outPath, err)
	}
	return Summary{RecordsRead: len(records), CanonicalFrames: len(frames), OutputPath: outPath}, nil
}

func round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
