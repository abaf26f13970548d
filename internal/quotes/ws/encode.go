package ws

import (
	"sort"
	"strings"

	"framefeed.com/internal/quotes/frame"
	"github.com/segmentio/encoding/json"
)

// Topic frames:<interval>:<symbol>
func Topic(interval, symbol string) string {
	return "frames:" + normalizeInterval(interval) + ":" + normalizeSymbol(symbol)
}

func TopicForFrame(f frame.Frame) string {
	return Topic(f.Interval, f.Instrument.Symbol)
}

func normalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	// 统一用 "." 分隔交易所后缀，别出现 "_" 或 "/"
	s = strings.ReplaceAll(s, "_", ".")
	s = strings.ReplaceAll(s, "/", ".")
	return s
}

func normalizeInterval(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return frame.DefaultInterval
	}
	return s
}

// Encoded 一条待推送的 ws 消息
type Encoded struct {
	Topic   string
	Payload []byte
}

// EncodeFrames 按 topic 分组编码；topic 顺序稳定，组内保持输入顺序
func EncodeFrames(frames []frame.Frame) ([]Encoded, error) {
	if len(frames) == 0 {
		return nil, nil
	}
	groups := make(map[string][]frame.Frame, 4)
	for _, f := range frames {
		t := TopicForFrame(f)
		groups[t] = append(groups[t], f)
	}
	topics := make([]string, 0, len(groups))
	for t := range groups {
		topics = append(topics, t)
	}
	sort.Strings(topics)

	out := make([]Encoded, 0, len(topics))
	for _, t := range topics {
		b, err := json.Marshal(ServerMsg{Type: MsgFrames, Topic: t, Frames: groups[t]})
		if err != nil {
			return nil, err
		}
		out = append(out, Encoded{Topic: t, Payload: b})
	}
	return out, nil
}

// PublishFrames 编码后直接发到本地 hub
func PublishFrames(h *Hub, frames []frame.Frame) error {
	msgs, err := EncodeFrames(frames)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		h.Publish(m.Topic, m.Payload)
	}
	return nil
}

// BridgeRaw broker 过来的消息已经是编码好的 payload，原样发布
func BridgeRaw(h *Hub, topic string, payload []byte) {
	h.Publish(topic, payload)
}
