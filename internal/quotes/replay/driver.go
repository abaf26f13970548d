package replay

import (
	"context"
	"errors"
	"time"

	"framefeed.com/internal/quotes/frame"
	"framefeed.com/pkg/logger"
	"framefeed.com/pkg/metrics"
	"go.uber.org/zap"
)

var ErrDriverStopped = errors.New("replay driver stopped")

// Sink 接收新揭示的 frame（ws 推送 / broker / influx）
type Sink func(ctx context.Context, frames []frame.Frame)

type DriverConfig struct {
	// TickInterval 墙钟驱动周期，<=0 用 1s
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

type cmdKind int

const (
	cmdPause cmdKind = iota
	cmdResume
	cmdStep
	cmdSpeed
	cmdReset
)

type command struct {
	kind  cmdKind
	n     int
	speed float64
	reply chan cmdResult
}

type cmdResult struct {
	frames []frame.Frame
	err    error
}

// Driver 引擎唯一的写入方：一个协程里既跑 tick 又处理控制命令，天然串行。
// 读状态直接走 Engine()，不经过 Driver。
type Driver struct {
	eng   *Engine
	cfg   DriverConfig
	cmds  chan command
	sinks []Sink
	now   func() time.Time
	done  chan struct{}
}

func NewDriver(eng *Engine, cfg DriverConfig, sinks ...Sink) *Driver {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	return &Driver{
		eng:   eng,
		cfg:   cfg,
		cmds:  make(chan command),
		sinks: sinks,
		now:   time.Now,
		done:  make(chan struct{}),
	}
}

func (d *Driver) Engine() *Engine { return d.eng }

// Run 阻塞直到 ctx 结束
func (d *Driver) Run(ctx context.Context) {
	defer close(d.done)
	t := time.NewTicker(d.cfg.TickInterval)
	defer t.Stop()

	last := d.now()
	logger.Info(ctx, "replay driver started",
		zap.Int("frames", d.eng.Status().FrameCount), zap.Duration("tick", d.cfg.TickInterval))
	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "replay driver stopped")
			return
		case <-t.C:
			now := d.now()
			elapsed := now.Sub(last).Milliseconds()
			last = now
			d.publish(ctx, d.eng.Tick(elapsed))
		case c := <-d.cmds:
			c.reply <- d.apply(ctx, c)
		}
	}
}

func (d *Driver) apply(ctx context.Context, c command) cmdResult {
	switch c.kind {
	case cmdPause:
		d.eng.Pause()
	case cmdResume:
		d.eng.Resume()
	case cmdSpeed:
		if err := d.eng.SetSpeed(c.speed); err != nil {
			return cmdResult{err: err}
		}
	case cmdReset:
		d.eng.Reset()
	case cmdStep:
		out := d.eng.Step(c.n)
		d.publish(ctx, out)
		return cmdResult{frames: out}
	}
	metrics.ReplayCursor.Set(float64(d.eng.Status().CursorIndex))
	return cmdResult{}
}

func (d *Driver) publish(ctx context.Context, frames []frame.Frame) {
	if len(frames) == 0 {
		return
	}
	metrics.ReplayExposedTotal.Add(float64(len(frames)))
	metrics.ReplayCursor.Set(float64(d.eng.Status().CursorIndex))
	for _, s := range d.sinks {
		s(ctx, frames)
	}
}

func (d *Driver) send(ctx context.Context, c command) cmdResult {
	c.reply = make(chan cmdResult, 1)
	select {
	case d.cmds <- c:
	case <-d.done:
		return cmdResult{err: ErrDriverStopped}
	case <-ctx.Done():
		return cmdResult{err: ctx.Err()}
	}
	select {
	case r := <-c.reply:
		return r
	case <-ctx.Done():
		return cmdResult{err: ctx.Err()}
	}
}

func (d *Driver) Pause(ctx context.Context) error {
	return d.send(ctx, command{kind: cmdPause}).err
}

func (d *Driver) Resume(ctx context.Context) error {
	return d.send(ctx, command{kind: cmdResume}).err
}

func (d *Driver) Reset(ctx context.Context) error {
	return d.send(ctx, command{kind: cmdReset}).err
}

func (d *Driver) SetSpeed(ctx context.Context, x float64) error {
	return d.send(ctx, command{kind: cmdSpeed, speed: x}).err
}

func (d *Driver) Step(ctx context.Context, n int) ([]frame.Frame, error) {
	r := d.send(ctx, command{kind: cmdStep, n: n})
	return r.frames, r.err
}
