package gateway

import (
	"context"
	"strings"

	"framefeed.com/pkg/logger"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type NatsBroker struct {
	nc *nats.Conn
}

func NewNatsBroker(url string, opts ...nats.Option) (*NatsBroker, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NatsBroker{nc: nc}, nil
}

func (b *NatsBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.nc.Publish(topicToSubject(topic), payload)
}

func (b *NatsBroker) Subscribe(ctx context.Context, topics []string) (<-chan Message, error) {
	out := make(chan Message, 8192)
	subs := make([]*nats.Subscription, 0, len(topics))

	for _, t := range topics {
		sub, err := b.nc.Subscribe(topicToSubject(t), func(m *nats.Msg) {
			msg := Message{Topic: subjectToTopic(m.Subject), Payload: m.Data}
			// at-most-once：慢消费者直接丢，避免把 NATS 回调卡死
			select {
			case out <- msg:
			default:
				logger.Debug(context.Background(), "nats consumer full, drop", zap.String("subject", m.Subject))
			}
		})
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, err
		}
		subs = append(subs, sub)
	}

	go func() {
		<-ctx.Done()
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
		close(out)
	}()
	return out, nil
}

func (b *NatsBroker) Close() error {
	if b.nc != nil {
		_ = b.nc.Drain()
		b.nc.Close()
	}
	return nil
}

// symbol 自带 "."（600519.SH），进 subject 前先换成 "_"，否则会被 NATS 当成层级
func topicToSubject(topic string) string {
	return strings.ReplaceAll(strings.ReplaceAll(topic, ".", "_"), ":", ".")
}

func subjectToTopic(subj string) string {
	return strings.ReplaceAll(strings.ReplaceAll(subj, ".", ":"), "_", ".")
}
