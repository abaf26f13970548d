package gateway

import (
	"context"
	"sync"
)

type memSub struct {
	patterns []string
	ch       chan Message
}

// MemBroker 单进程 broker：at-most-once，慢订阅者直接丢
type MemBroker struct {
	mu     sync.RWMutex
	subs   map[*memSub]struct{}
	closed bool
}

func NewMemBroker() *MemBroker {
	return &MemBroker{subs: make(map[*memSub]struct{})}
}

func (b *MemBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	msg := Message{Topic: topic, Payload: payload}
	for s := range b.subs {
		for _, p := range s.patterns {
			if !matchTopic(p, topic) {
				continue
			}
			select {
			case s.ch <- msg:
			default:
			}
			break
		}
	}
	return nil
}

func (b *MemBroker) Subscribe(ctx context.Context, topics []string) (<-chan Message, error) {
	s := &memSub{patterns: append([]string(nil), topics...), ch: make(chan Message, 4096)}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.ch)
		return s.ch, nil
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	// ctx 结束时摘掉订阅并关闭 channel
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if _, ok := b.subs[s]; ok {
			delete(b.subs, s)
			close(s.ch)
		}
		b.mu.Unlock()
	}()
	return s.ch, nil
}

func (b *MemBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		close(s.ch)
	}
	return nil
}
