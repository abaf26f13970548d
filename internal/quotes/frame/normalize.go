package frame

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
)

// Context 请求方上下文：legacy 行靠它补全，canonical frame 的 provider/mode 被它覆盖
type Context struct {
	Symbol   string
	Interval string

	// Provider / Mode 非空时覆盖每根 frame 的来源
	Provider string
	Mode     string

	// FallbackProvider / FallbackMode 只在 frame 自己没带时填，不覆盖
	FallbackProvider string
	FallbackMode     string

	Market   string
	Exchange string
	Timezone string
	Currency string
}

func (c Context) withDefaults() Context {
	if c.Interval == "" {
		c.Interval = DefaultInterval
	}
	if c.Market == "" {
		c.Market = DefaultMarket
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.Currency == "" {
		c.Currency = DefaultCurrency
	}
	return c
}

// PayloadKind 顶层形状
type PayloadKind int

const (
	PayloadUnknown PayloadKind = iota
	PayloadWrapped             // {data:{frames:[...]}} 或 {data:[...]}
	PayloadFrames              // {frames:[...]}
	PayloadRows                // [...]
)

// EntryKind 单条记录的形状
type EntryKind int

const (
	EntryUnknown   EntryKind = iota
	EntryCanonical           // 带 window / bar
	EntryLegacy              // 带 openTime / open_time / t
)

type envelope struct {
	Data   json.RawMessage `json:"data"`
	Frames json.RawMessage `json:"frames"`
}

// num 同时接受 JSON number 和数字字符串（不少上游把价格写成字符串）
type num struct {
	V     float64
	Valid bool
}

func (n *num) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		unq, err := strconv.Unquote(s)
		if err != nil {
			return nil
		}
		s = strings.TrimSpace(unq)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// 非数字当缺失处理，不让单个字段毒化整批
		return nil
	}
	n.V, n.Valid = v, true
	return nil
}

func (n num) or(fallback float64) float64 {
	if n.Valid {
		return n.V
	}
	return fallback
}

type rawInstrument struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	Timezone string `json:"timezone"`
	Currency string `json:"currency"`
}

type rawWindow struct {
	StartTsMs  num    `json:"start_ts_ms"`
	EndTsMs    num    `json:"end_ts_ms"`
	TradingDay string `json:"trading_day"`
}

type rawSession struct {
	Phase     string `json:"phase"`
	IsHalt    bool   `json:"is_halt"`
	IsPartial bool   `json:"is_partial"`
}

type rawBar struct {
	Open         num `json:"open"`
	High         num `json:"high"`
	Low          num `json:"low"`
	Close        num `json:"close"`
	VolumeShares num `json:"volume_shares"`
	Volume       num `json:"volume"`
	Turnover     num `json:"turnover_cny"`
	TurnoverAlt  num `json:"turnover"`
	VWAP         num `json:"vwap"`
}

type rawEntry struct {
	SchemaVersion string         `json:"schema_version"`
	Market        string         `json:"market"`
	Mode          string         `json:"mode"`
	Provider      string         `json:"provider"`
	Feed          string         `json:"feed"`
	Seq           num            `json:"seq"`
	EventTsMs     num            `json:"event_ts_ms"`
	IngestTsMs    num            `json:"ingest_ts_ms"`
	Instrument    *rawInstrument `json:"instrument"`
	Interval      string         `json:"interval"`
	Window        *rawWindow     `json:"window"`
	Session       *rawSession    `json:"session"`
	Bar           *rawBar        `json:"bar"`

	// legacy kline 行
	Symbol        string `json:"symbol"`
	OpenTime      num    `json:"openTime"`
	OpenTimeSnake num    `json:"open_time"`
	T             num    `json:"t"`
	Open          num    `json:"open"`
	High          num    `json:"high"`
	Low           num    `json:"low"`
	Close         num    `json:"close"`
	Volume        num    `json:"volume"`
	QuoteVolume   num    `json:"quoteVolume"`
}

func (e *rawEntry) kind() EntryKind {
	if e.Window != nil || e.Bar != nil {
		return EntryCanonical
	}
	if e.OpenTime.Valid || e.OpenTimeSnake.Valid || e.T.Valid {
		return EntryLegacy
	}
	return EntryUnknown
}

// DetectPayload 只看顶层形状，返回形状和 frame 数组的原始字节
func DetectPayload(payload []byte) (PayloadKind, json.RawMessage) {
	p := bytes.TrimSpace(payload)
	if len(p) == 0 {
		return PayloadUnknown, nil
	}
	switch p[0] {
	case '[':
		return PayloadRows, p
	case '{':
	default:
		return PayloadUnknown, nil
	}

	var env envelope
	if err := json.Unmarshal(p, &env); err != nil {
		return PayloadUnknown, nil
	}
	if data := bytes.TrimSpace(env.Data); len(data) > 0 && !bytes.Equal(data, []byte("null")) {
		if data[0] == '[' {
			return PayloadWrapped, data
		}
		var inner envelope
		if data[0] == '{' && json.Unmarshal(data, &inner) == nil {
			if fr := bytes.TrimSpace(inner.Frames); len(fr) > 0 && fr[0] == '[' {
				return PayloadWrapped, fr
			}
		}
		return PayloadUnknown, nil
	}
	if fr := bytes.TrimSpace(env.Frames); len(fr) > 0 && fr[0] == '[' {
		return PayloadFrames, fr
	}
	return PayloadUnknown, nil
}

// NormalizePayload 任意形状 payload -> canonical frames（已去重、升序）。
// 不返回错误：坏行直接过滤掉。
func NormalizePayload(payload []byte, ctx Context) []Frame {
	kind, list := DetectPayload(payload)
	if kind == PayloadUnknown {
		return []Frame{}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(list, &items); err != nil {
		return []Frame{}
	}

	ctx = ctx.withDefaults()
	out := make([]Frame, 0, len(items))
	for _, item := range items {
		var e rawEntry
		if err := json.Unmarshal(item, &e); err != nil {
			continue
		}
		var (
			f  Frame
			ok bool
		)
		switch e.kind() {
		case EntryCanonical:
			f, ok = fromCanonical(&e, ctx)
		case EntryLegacy:
			f, ok = fromLegacy(&e, ctx)
		}
		if ok {
			out = append(out, f)
		}
	}
	assignSeq(out)
	return DedupeAndSort(out)
}

// NormalizeFrames 已经解码好的 frame 走同样的补全逻辑
func NormalizeFrames(frames []Frame, ctx Context) []Frame {
	ctx = ctx.withDefaults()
	out := make([]Frame, 0, len(frames))
	for _, src := range frames {
		if src.Window.StartTsMs <= 0 {
			continue
		}
		f := src
		if ctx.Provider != "" {
			f.Provider = ctx.Provider
		}
		if ctx.Mode != "" {
			f.Mode = ctx.Mode
		}
		if f.Instrument.Symbol == "" {
			f.Instrument.Symbol = ctx.Symbol
		}
		if f.Interval == "" {
			f.Interval = ctx.Interval
		}
		fixBar(&f.Bar)
		backfill(&f, ctx)
		out = append(out, f)
	}
	assignSeq(out)
	return DedupeAndSort(out)
}

func fromCanonical(e *rawEntry, ctx Context) (Frame, bool) {
	if e.Window == nil || !e.Window.StartTsMs.Valid || e.Window.StartTsMs.V <= 0 {
		return Frame{}, false
	}
	var rb rawBar
	if e.Bar != nil {
		rb = *e.Bar
	}
	open := rb.Open
	if !open.Valid {
		open = rb.Close
	}
	if !open.Valid {
		return Frame{}, false
	}

	f := Frame{
		SchemaVersion: e.SchemaVersion,
		Market:        e.Market,
		Mode:          e.Mode,
		Provider:      e.Provider,
		Feed:          e.Feed,
		Seq:           int64(e.Seq.or(0)),
		EventTsMs:     int64(e.EventTsMs.or(0)),
		IngestTsMs:    int64(e.IngestTsMs.or(0)),
		Interval:      e.Interval,
		Window: Window{
			StartTsMs:  int64(e.Window.StartTsMs.V),
			EndTsMs:    int64(e.Window.EndTsMs.or(0)),
			TradingDay: e.Window.TradingDay,
		},
	}
	if e.Instrument != nil {
		f.Instrument = Instrument(*e.Instrument)
	}
	if f.Instrument.Symbol == "" {
		f.Instrument.Symbol = e.Symbol
	}
	if f.Instrument.Symbol == "" {
		f.Instrument.Symbol = ctx.Symbol
	}
	if f.Interval == "" {
		f.Interval = ctx.Interval
	}
	if ctx.Provider != "" {
		f.Provider = ctx.Provider
	}
	if ctx.Mode != "" {
		f.Mode = ctx.Mode
	}
	if e.Session != nil {
		f.Session = Session(*e.Session)
	}

	volume := rb.VolumeShares
	if !volume.Valid {
		volume = rb.Volume
	}
	turnover := rb.Turnover
	if !turnover.Valid {
		turnover = rb.TurnoverAlt
	}
	f.Bar = buildBar(open.V, rb.High, rb.Low, rb.Close, volume.or(0), turnover, rb.VWAP)

	backfill(&f, ctx)
	return f, true
}

func fromLegacy(e *rawEntry, ctx Context) (Frame, bool) {
	start := e.OpenTime
	if !start.Valid {
		start = e.OpenTimeSnake
	}
	if !start.Valid {
		start = e.T
	}
	if !start.Valid || start.V <= 0 || !e.Open.Valid {
		return Frame{}, false
	}

	symbol := e.Symbol
	if symbol == "" {
		symbol = ctx.Symbol
	}
	interval := e.Interval
	if interval == "" {
		interval = ctx.Interval
	}
	f := Frame{
		Provider:   ctx.Provider,
		Mode:       ctx.Mode,
		Instrument: Instrument{Symbol: symbol},
		Interval:   interval,
		Window:     Window{StartTsMs: int64(start.V)},
		Bar:        buildBar(e.Open.V, e.High, e.Low, e.Close, e.Volume.or(0), e.QuoteVolume, num{}),
	}
	backfill(&f, ctx)
	return f, true
}

// buildBar 缺 high/low/close 用 open 补；成交额缺省 volume*close；vwap = 成交额/量，量为 0 时取 close
func buildBar(open float64, high, low, closeP num, volume float64, turnover, vwap num) Bar {
	c := closeP.or(open)
	h := high.or(open)
	l := low.or(open)
	// 保证 high >= max(open,close)，low <= min(open,close)
	h = max(h, open, c)
	l = min(l, open, c)
	if volume < 0 {
		volume = 0
	}
	t := turnover.or(volume * c)
	v := vwap.V
	if !vwap.Valid || v <= 0 {
		if volume > 0 {
			v = t / volume
		} else {
			v = c
		}
	}
	return Bar{
		Open:         round(open, 4),
		High:         round(h, 4),
		Low:          round(l, 4),
		Close:        round(c, 4),
		VolumeShares: volume,
		Turnover:     round(t, 2),
		VWAP:         round(v, 4),
	}
}

// fixBar 已解码 frame 的 bar：夹紧 high/low，补成交额和 vwap
func fixBar(b *Bar) {
	b.High = max(b.High, b.Open, b.Close)
	b.Low = min(b.Low, b.Open, b.Close)
	if b.Low <= 0 {
		b.Low = min(b.Open, b.Close)
	}
	if b.Turnover <= 0 && b.VolumeShares > 0 {
		b.Turnover = round(b.VolumeShares*b.Close, 2)
	}
	if b.VWAP <= 0 {
		if b.VolumeShares > 0 {
			b.VWAP = round(b.Turnover/b.VolumeShares, 4)
		} else {
			b.VWAP = b.Close
		}
	}
}

// backfill 补齐 schema / 市场 / 时间窗 / 时段等缺省字段
func backfill(f *Frame, ctx Context) {
	if f.SchemaVersion == "" {
		f.SchemaVersion = SchemaBar
	}
	if f.Market == "" {
		f.Market = ctx.Market
	}
	if f.Mode == "" {
		f.Mode = ctx.FallbackMode
	}
	if f.Mode == "" {
		f.Mode = ModeMock
	}
	if f.Provider == "" {
		f.Provider = ctx.FallbackProvider
	}
	if f.Provider == "" {
		f.Provider = "unknown"
	}
	if f.Feed == "" {
		f.Feed = FeedBars
	}
	if f.Interval == "" {
		f.Interval = DefaultInterval
	}
	if f.Instrument.Exchange == "" {
		f.Instrument.Exchange = ctx.Exchange
	}
	if f.Instrument.Exchange == "" {
		f.Instrument.Exchange = exchangeFromSymbol(f.Instrument.Symbol)
	}
	if f.Instrument.Timezone == "" {
		f.Instrument.Timezone = ctx.Timezone
	}
	if f.Instrument.Currency == "" {
		f.Instrument.Currency = ctx.Currency
	}

	step := IntervalStepMs(f.Interval)
	// end_ts_ms 永远由 start + step 推出，不信任上游给的值
	f.Window.EndTsMs = f.Window.StartTsMs + step
	if f.Window.TradingDay == "" {
		f.Window.TradingDay = TradingDay(f.Window.StartTsMs, f.Instrument.Timezone)
	}
	if f.EventTsMs <= 0 {
		f.EventTsMs = f.Window.EndTsMs
	}
	if f.IngestTsMs <= 0 {
		f.IngestTsMs = f.EventTsMs
	}
	if f.Session.Phase == "" {
		if step >= IntervalStepMs("1d") {
			f.Session.Phase = PhaseClosed
		} else {
			f.Session.Phase = SessionPhase(f.Window.StartTsMs, f.Instrument.Timezone)
		}
	}
}

func assignSeq(frames []Frame) {
	for i := range frames {
		if frames[i].Seq <= 0 {
			frames[i].Seq = int64(i + 1)
		}
	}
}

func round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
