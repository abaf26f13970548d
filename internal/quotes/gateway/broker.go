package gateway

import (
	"context"
	"strings"
)

type Message struct {
	Topic   string
	Payload []byte
}

type Broker interface {
	// publish
	Publish(ctx context.Context, topic string, payload []byte) error
	// 订阅；topic 以 ">" 结尾表示前缀匹配，例如 frames:>
	Subscribe(ctx context.Context, topics []string) (<-chan Message, error)
	// 关闭
	Close() error
}

// AllFrames 订阅全部 frame topic
const AllFrames = "frames:>"

func matchTopic(pattern, topic string) bool {
	if prefix, ok := strings.CutSuffix(pattern, ">"); ok {
		return strings.HasPrefix(topic, prefix)
	}
	return pattern == topic
}
