package gateway

import (
	"context"

	"framefeed.com/internal/quotes/frame"
	"framefeed.com/internal/quotes/ws"
	"framefeed.com/pkg/logger"
	"framefeed.com/pkg/metrics"
	"go.uber.org/zap"
)

// Gateway 负责把 frame 推给 ws 订阅者：
// 有 broker 时经 broker 转发（多实例共享），没有时直接写本地 hub
type Gateway struct {
	hub    *ws.Hub
	broker Broker
}

func NewGateway(hub *ws.Hub, broker Broker) *Gateway {
	return &Gateway{hub: hub, broker: broker}
}

// Run：订阅 broker 消息 -> 发布到本地 hub；没有 broker 时直接等 ctx 结束
func (g *Gateway) Run(ctx context.Context, topics ...string) error {
	if g.broker == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	if len(topics) == 0 {
		topics = []string{AllFrames}
	}
	ch, err := g.broker.Subscribe(ctx, topics)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			ws.BridgeRaw(g.hub, m.Topic, m.Payload)
		}
	}
}

// PublishFrames 可以直接当 replay.Sink 用
func (g *Gateway) PublishFrames(ctx context.Context, frames []frame.Frame) {
	if len(frames) == 0 {
		return
	}
	if g.broker == nil {
		if err := ws.PublishFrames(g.hub, frames); err != nil {
			logger.Warn(ctx, "ws publish frames failed", zap.Error(err))
			return
		}
		metrics.PublishedFramesTotal.WithLabelValues("ws").Add(float64(len(frames)))
		return
	}

	msgs, err := ws.EncodeFrames(frames)
	if err != nil {
		logger.Warn(ctx, "encode frames failed", zap.Error(err))
		return
	}
	for _, m := range msgs {
		if err := g.broker.Publish(ctx, m.Topic, m.Payload); err != nil {
			logger.Warn(ctx, "broker publish failed", zap.String("topic", m.Topic), zap.Error(err))
			return
		}
	}
	metrics.PublishedFramesTotal.WithLabelValues("broker").Add(float64(len(frames)))
}

// OnReload 生成 livefile.Provider.OnReload 的回调：只推送新文件里新增或变化的 frame，
// 同一批再依次交给 also（influx、归档、journal）
func (g *Gateway) OnReload(ctx context.Context, also ...func(context.Context, []frame.Frame)) func(prev, next frame.Batch) {
	return func(prev, next frame.Batch) {
		changed := Changed(prev.Frames, next.Frames)
		if len(changed) == 0 {
			return
		}
		g.PublishFrames(ctx, changed)
		for _, fn := range also {
			fn(ctx, changed)
		}
	}
}

// Changed next 中相对 prev 新增或内容变化的 frame
func Changed(prev, next []frame.Frame) []frame.Frame {
	old := make(map[string]frame.Frame, len(prev))
	for _, f := range prev {
		old[f.Key()] = f
	}
	var out []frame.Frame
	for _, f := range next {
		if p, ok := old[f.Key()]; ok && p.Bar == f.Bar {
			continue
		}
		out = append(out, f)
	}
	return out
}
