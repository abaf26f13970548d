package safe

import (
	"context"
	"runtime/debug"
	"sync"

	"framefeed.com/pkg/logger"
	"go.uber.org/zap"
)

// Go 安全启动协程，panic 只记日志不拖垮进程
func Go(name string, fn func()) {
	go func() {
		defer Recover(context.Background(), name)
		fn()
	}()
}

// GoCtx 安全启动携带 context 的协程，便于在日志中保留请求链路信息。
func GoCtx(ctx context.Context, name string, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		defer Recover(ctx, name)
		fn(ctx)
	}()
}

// Recover 放在 defer 里用
func Recover(ctx context.Context, name string) {
	if r := recover(); r != nil {
		logger.Error(ctx, "🚨 GOROUTINE PANIC RECOVERED",
			zap.String("goroutine", name),
			zap.Any("panic", r),
			zap.String("stack", string(debug.Stack())),
		)
	}
}

// Group 一组后台协程：Stop 时取消 ctx 并等待全部退出
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewGroup(parent context.Context) *Group {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Group{ctx: ctx, cancel: cancel}
}

func (g *Group) Go(name string, fn func(ctx context.Context)) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer Recover(g.ctx, name)
		fn(g.ctx)
	}()
}

func (g *Group) Stop() {
	g.cancel()
	g.wg.Wait()
}
