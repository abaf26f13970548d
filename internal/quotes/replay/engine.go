package replay

import (
	"errors"
	"math"
	"sync"

	"framefeed.com/internal/quotes/frame"
)

// 一根 bar 对应的模拟时间
const barMs = float64(frame.MinuteMs)

var ErrInvalidSpeed = errors.New("replay speed must be a positive finite number")

type Config struct {
	Speed      float64 `mapstructure:"speed"`
	WarmupBars int     `mapstructure:"warmup_bars"`
	Loop       bool    `mapstructure:"loop"`
	// Running 构造后是否直接进入播放状态
	Running bool `mapstructure:"running"`
}

type Status struct {
	CursorIndex int     `json:"cursor_index"`
	Running     bool    `json:"running"`
	Speed       float64 `json:"speed"`
	WarmupBars  int     `json:"warmup_bars"`
	Loop        bool    `json:"loop"`
	DayIndex    int     `json:"day_index"`
	DayCount    int     `json:"day_count"`
	IsDayStart  bool    `json:"is_day_start"`
	IsDayEnd    bool    `json:"is_day_end"`
	Exhausted   bool    `json:"exhausted"`
	FrameCount  int     `json:"frame_count"`
	Cycle       int     `json:"cycle"`
	TradingDay  string  `json:"trading_day"`
	CurrentTsMs int64   `json:"current_ts_ms"`
}

// Engine 在一份固定批次上推进模拟时间。
// cursor 指向最后一根已揭示的 frame，cursor 之后的数据对外不可见。
// 写操作（Tick/Step/Pause/Resume/SetSpeed/Reset）应由同一个 owner 串行调用，读操作可并发。
type Engine struct {
	mu sync.RWMutex

	frames []frame.Frame
	// dayOf[i] 第 i 根 frame 属于第几个交易日（0 起）
	dayOf    []int
	dayFirst []int
	dayLast  []int

	cursor  int
	running bool
	speed   float64
	warmup  int
	loop    bool
	cycle   int
	// acc 未满一根 bar 的模拟毫秒，跨 tick 累计
	acc float64
}

func NewEngine(batch frame.Batch, cfg Config) *Engine {
	if cfg.Speed <= 0 || math.IsNaN(cfg.Speed) || math.IsInf(cfg.Speed, 0) {
		cfg.Speed = 1
	}
	if cfg.WarmupBars < 0 {
		cfg.WarmupBars = 0
	}
	frames := frame.DedupeAndSort(batch.Frames)
	e := &Engine{
		frames:  frames,
		running: cfg.Running,
		speed:   cfg.Speed,
		warmup:  cfg.WarmupBars,
		loop:    cfg.Loop,
	}
	e.indexDays()
	e.cursor = e.startCursor()
	return e
}

func (e *Engine) indexDays() {
	e.dayOf = make([]int, len(e.frames))
	day := -1
	prev := ""
	for i, f := range e.frames {
		td := f.Window.TradingDay
		if td == "" {
			td = frame.TradingDay(f.Window.StartTsMs, f.Instrument.Timezone)
		}
		if i == 0 || td != prev {
			day++
			e.dayFirst = append(e.dayFirst, i)
			e.dayLast = append(e.dayLast, i)
			prev = td
		}
		e.dayOf[i] = day
		e.dayLast[day] = i
	}
}

// startCursor 起点：warmup 根一次性作为历史可见，至少可见第一根
func (e *Engine) startCursor() int {
	n := len(e.frames)
	if n == 0 {
		return -1
	}
	return min(max(e.warmup, 1), n) - 1
}

func (e *Engine) Pause() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
}

func (e *Engine) Resume() {
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
}

// SetSpeed 只改倍速，不改运行状态
func (e *Engine) SetSpeed(x float64) error {
	if x <= 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return ErrInvalidSpeed
	}
	e.mu.Lock()
	e.speed = x
	e.mu.Unlock()
	return nil
}

// Reset 回到起点，运行状态不变
func (e *Engine) Reset() {
	e.mu.Lock()
	e.cursor = e.startCursor()
	e.acc = 0
	e.cycle = 0
	e.mu.Unlock()
}

// Step 不管是否暂停都前进 n 根（n<=0 按 1），返回新揭示的 frame
func (e *Engine) Step(n int) []frame.Frame {
	if n <= 0 {
		n = 1
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.advance(n)
}

// Tick 驱动调用：elapsedMs 的真实时间 * speed 折算成 bar 数，1 根 = 1 模拟分钟。
// 暂停时不累计，返回空。
func (e *Engine) Tick(elapsedMs int64) []frame.Frame {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running || elapsedMs <= 0 || len(e.frames) == 0 {
		return []frame.Frame{}
	}
	if e.exhausted() {
		e.acc = 0
		return []frame.Frame{}
	}
	e.acc += float64(elapsedMs) * e.speed
	bars := math.Floor(e.acc / barMs)
	if bars < 1 {
		return []frame.Frame{}
	}
	e.acc -= bars * barMs
	if n := float64(len(e.frames)); bars > n {
		bars = n
	}
	return e.advance(int(bars))
}

// advance 调用方持有写锁。
// 到尾部且 loop 时，回绕本身消耗一根 bar：cursor 回到起点，warmup 段作为历史重新揭示。
// 单次调用内不跨越回绕，保证一次返回的结果时间单调。
func (e *Engine) advance(bars int) []frame.Frame {
	n := len(e.frames)
	out := []frame.Frame{}
	if n == 0 {
		return out
	}
	last := n - 1
	if e.cursor < last {
		take := min(bars, last-e.cursor)
		out = append(out, e.frames[e.cursor+1:e.cursor+1+take]...)
		e.cursor += take
		return out
	}
	if !e.loop {
		e.acc = 0
		return out
	}
	e.cycle++
	e.acc = 0
	e.cursor = e.startCursor()
	out = append(out, e.frames[:e.cursor+1]...)
	if rest := bars - 1; rest > 0 && e.cursor < last {
		take := min(rest, last-e.cursor)
		out = append(out, e.frames[e.cursor+1:e.cursor+1+take]...)
		e.cursor += take
	}
	return out
}

func (e *Engine) exhausted() bool {
	return !e.loop && e.cursor >= len(e.frames)-1
}

// GetVisibleFrames cursor 及之前、属于 symbol 的最后 limit 根；symbol 为空不过滤，limit<=0 不截断
func (e *Engine) GetVisibleFrames(symbol string, limit int) []frame.Frame {
	e.mu.RLock()
	visible := e.frames[:e.cursor+1]
	out := frame.Filter(visible, symbol, "")
	e.mu.RUnlock()
	if limit > 0 {
		out = frame.Tail(out, limit)
	}
	return out
}

func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := Status{
		CursorIndex: e.cursor,
		Running:     e.running,
		Speed:       e.speed,
		WarmupBars:  e.warmup,
		Loop:        e.loop,
		DayCount:    len(e.dayFirst),
		FrameCount:  len(e.frames),
		Cycle:       e.cycle,
		Exhausted:   len(e.frames) == 0 || e.exhausted(),
	}
	if e.cursor >= 0 {
		d := e.dayOf[e.cursor]
		f := e.frames[e.cursor]
		st.DayIndex = d + 1
		st.IsDayStart = e.cursor == e.dayFirst[d]
		st.IsDayEnd = e.cursor == e.dayLast[d]
		st.TradingDay = f.Window.TradingDay
		st.CurrentTsMs = f.Window.StartTsMs
	}
	return st
}

// Frames 整份批次（含未揭示部分），只给离线工具用
func (e *Engine) Frames() []frame.Frame {
	return e.frames
}
