package livefile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"framefeed.com/internal/quotes/frame"
	"framefeed.com/pkg/logger"
	"framefeed.com/pkg/metrics"
	"framefeed.com/pkg/safe"
	"github.com/fsnotify/fsnotify"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
)

var (
	ErrEmptyFile   = errors.New("live file is empty")
	ErrWrongSchema = errors.New("live file schema mismatch")
	ErrNoFrames    = errors.New("live file has no frames array")
)

type Config struct {
	Path string `mapstructure:"path"`
	// RefreshInterval 后台轮询周期，<=0 用默认 2s
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	// MaxAge 文件 mtime 超过这个时长算 stale；0 表示不判断
	MaxAge time.Duration `mapstructure:"max_age"`
	// Watch 额外用 fsnotify 监听目录（rename 写入会立刻触发刷新）
	Watch bool `mapstructure:"watch"`
}

// state 一次成功加载的完整快照；发布后不再修改
type state struct {
	batch    frame.Batch
	symbols  map[string][]string // interval -> symbols
	mtime    time.Time
	loadedAt time.Time
	lastErr  error
	errAt    time.Time
}

type Status struct {
	Path       string   `json:"path"`
	Loaded     bool     `json:"loaded"`
	LoadedAtMs int64    `json:"loaded_at_ms"`
	MtimeMs    int64    `json:"mtime_ms"`
	LastError  *string  `json:"last_error"`
	ErrorAtMs  int64    `json:"error_at_ms,omitempty"`
	Symbols    []string `json:"symbols"`
	FrameCount int      `json:"frame_count"`
	Mode       string   `json:"mode"`
	Provider   string   `json:"provider"`
	AgeSec     float64  `json:"age_sec"`
	Stale      bool     `json:"stale"`
}

// Provider 对一个 live 文件维护 last-good 快照。
// 读路径只做一次 atomic load，刷新失败时快照保持不变。
type Provider struct {
	cfg Config
	cur atomic.Pointer[state]

	refreshMu sync.Mutex
	onReload  func(prev, next frame.Batch)

	now func() time.Time

	closeOnce sync.Once
	group     *safe.Group
}

func New(cfg Config) *Provider {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 2 * time.Second
	}
	p := &Provider{cfg: cfg, now: time.Now}
	p.cur.Store(&state{})
	return p
}

// OnReload 每次成功换快照后回调（在刷新协程里执行，别阻塞）
func (p *Provider) OnReload(fn func(prev, next frame.Batch)) {
	p.refreshMu.Lock()
	p.onReload = fn
	p.refreshMu.Unlock()
}

func (p *Provider) Path() string { return p.cfg.Path }

// Start 先同步刷一次，再启动后台轮询（和可选的 fsnotify）
func (p *Provider) Start(ctx context.Context) {
	if err := p.Refresh(true); err != nil {
		logger.Warn(ctx, "live file initial load failed", zap.String("path", p.cfg.Path), zap.Error(err))
	}
	p.group = safe.NewGroup(ctx)
	p.group.Go("livefile-ticker", p.pollLoop)
	if p.cfg.Watch {
		p.group.Go("livefile-watch", p.watchLoop)
	}
}

func (p *Provider) Close() {
	p.closeOnce.Do(func() {
		if p.group != nil {
			p.group.Stop()
		}
	})
}

func (p *Provider) pollLoop(ctx context.Context) {
	t := time.NewTicker(p.cfg.RefreshInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = p.Refresh(false)
		}
	}
}

func (p *Provider) watchLoop(ctx context.Context) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn(ctx, "livefile fsnotify unavailable, polling only", zap.Error(err))
		return
	}
	defer w.Close()

	// 监听目录而不是文件：producer 用 rename 替换，文件 inode 会变
	dir := filepath.Dir(p.cfg.Path)
	if err := w.Add(dir); err != nil {
		logger.Warn(ctx, "livefile watch dir failed", zap.String("dir", dir), zap.Error(err))
		return
	}
	target := filepath.Clean(p.cfg.Path)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Rename) {
				_ = p.Refresh(false)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warn(ctx, "livefile watch error", zap.Error(err))
		}
	}
}

// Refresh force=false 时只有 mtime 前进才重读。
// 失败时保留上一份快照，只更新 last_error。
func (p *Provider) Refresh(force bool) error {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	prev := p.cur.Load()
	info, err := os.Stat(p.cfg.Path)
	if err != nil {
		return p.fail(prev, fmt.Errorf("stat live file: %w", err))
	}
	metrics.LiveFrameAgeSeconds.WithLabelValues(p.cfg.Path).Set(p.now().Sub(info.ModTime()).Seconds())
	if !force && !prev.loadedAt.IsZero() && !info.ModTime().After(prev.mtime) {
		metrics.LiveReloadTotal.WithLabelValues(p.cfg.Path, "skipped").Inc()
		return nil
	}

	data, err := os.ReadFile(p.cfg.Path)
	if err != nil {
		return p.fail(prev, fmt.Errorf("read live file: %w", err))
	}
	batch, err := DecodeBatch(data)
	if err != nil {
		return p.fail(prev, err)
	}

	next := &state{
		batch:    batch,
		symbols:  indexSymbols(batch.Frames),
		mtime:    info.ModTime(),
		loadedAt: p.now(),
	}
	p.cur.Store(next)
	metrics.LiveReloadTotal.WithLabelValues(p.cfg.Path, "ok").Inc()
	logger.Debug(context.Background(), "live file reloaded",
		zap.String("path", p.cfg.Path), zap.Int("frames", len(batch.Frames)))

	if p.onReload != nil {
		p.onReload(prev.batch, batch)
	}
	return nil
}

func (p *Provider) fail(prev *state, err error) error {
	next := *prev
	next.lastErr = err
	next.errAt = p.now()
	p.cur.Store(&next)
	metrics.LiveReloadTotal.WithLabelValues(p.cfg.Path, "error").Inc()
	logger.Warn(context.Background(), "live file refresh failed, keeping last good",
		zap.String("path", p.cfg.Path), zap.Error(err))
	return err
}

// DecodeBatch 校验批次文件并把 frames 归一化；任何一项不对都返回错误
func DecodeBatch(data []byte) (frame.Batch, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return frame.Batch{}, ErrEmptyFile
	}
	var doc struct {
		SchemaVersion string          `json:"schema_version"`
		Market        string          `json:"market"`
		Mode          string          `json:"mode"`
		Provider      string          `json:"provider"`
		Frames        json.RawMessage `json:"frames"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return frame.Batch{}, fmt.Errorf("decode live file: %w", err)
	}
	if doc.SchemaVersion != frame.SchemaFrames {
		return frame.Batch{}, fmt.Errorf("%w: %q", ErrWrongSchema, doc.SchemaVersion)
	}
	raw := bytes.TrimSpace(doc.Frames)
	if len(raw) == 0 || raw[0] != '[' {
		return frame.Batch{}, ErrNoFrames
	}
	// 文件头的 mode/provider 只给没自带来源的 frame 兜底
	frames := frame.NormalizePayload(data, frame.Context{
		Market:           doc.Market,
		FallbackMode:     doc.Mode,
		FallbackProvider: doc.Provider,
	})
	mode := doc.Mode
	if mode == "" {
		mode = frame.ModeMock
	}
	return frame.NewBatch(doc.Market, mode, doc.Provider, frames), nil
}

func indexSymbols(frames []frame.Frame) map[string][]string {
	byInterval := map[string][]frame.Frame{}
	for _, f := range frames {
		byInterval[f.Interval] = append(byInterval[f.Interval], f)
	}
	out := make(map[string][]string, len(byInterval))
	for iv, fs := range byInterval {
		out[iv] = frame.Symbols(fs, "")
	}
	return out
}

// GetFrames 当前快照里 symbol/interval 的最后 limit 条，升序；limit<=0 不截断
func (p *Provider) GetFrames(symbol, interval string, limit int) []frame.Frame {
	st := p.cur.Load()
	out := frame.Filter(st.batch.Frames, symbol, interval)
	if limit > 0 {
		out = frame.Tail(out, limit)
	}
	return out
}

// Batch 当前完整快照
func (p *Provider) Batch() frame.Batch {
	return p.cur.Load().batch
}

func (p *Provider) Symbols(interval string) []string {
	st := p.cur.Load()
	if interval == "" {
		return frame.Symbols(st.batch.Frames, "")
	}
	out := st.symbols[interval]
	if out == nil {
		return []string{}
	}
	return out
}

func (p *Provider) Status() Status {
	st := p.cur.Load()
	s := Status{
		Path:       p.cfg.Path,
		Loaded:     !st.loadedAt.IsZero(),
		FrameCount: len(st.batch.Frames),
		Mode:       st.batch.Mode,
		Provider:   st.batch.Provider,
		Symbols:    frame.Symbols(st.batch.Frames, ""),
	}
	if s.Loaded {
		s.LoadedAtMs = st.loadedAt.UnixMilli()
		s.MtimeMs = st.mtime.UnixMilli()
		s.AgeSec = p.now().Sub(st.mtime).Seconds()
	}
	if st.lastErr != nil {
		msg := st.lastErr.Error()
		s.LastError = &msg
		s.ErrorAtMs = st.errAt.UnixMilli()
	}
	if p.cfg.MaxAge > 0 {
		s.Stale = !s.Loaded || s.AgeSec > p.cfg.MaxAge.Seconds()
	}
	return s
}
