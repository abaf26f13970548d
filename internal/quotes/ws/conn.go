package ws

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"framefeed.com/internal/quotes/wsmetrics"
	"framefeed.com/pkg/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
)

type Conn struct {
	id string

	ws     *websocket.Conn
	hub    *Hub
	mu     sync.Mutex
	latest map[string][]byte // LatestOnly：topic -> last payload
	notify chan struct{}     // 缓冲 1：合并唤醒
	closed atomic.Bool

	lastPongUnix atomic.Int64 // time.Now().UnixNano()
}

func NewConn(h *Hub, ws *websocket.Conn) *Conn {
	return &Conn{
		id:     uuid.NewString(),
		ws:     ws,
		hub:    h,
		latest: make(map[string][]byte, 64),
		notify: make(chan struct{}, 1),
	}
}

// Offer 覆盖 topic 的待发 payload 并唤醒写协程；连接已关闭返回 false
func (c *Conn) Offer(topic string, payload []byte) bool {
	if c.closed.Load() {
		return false
	}
	c.mu.Lock()
	if _, ok := c.latest[topic]; ok {
		wsmetrics.DroppedTotal.WithLabelValues("superseded").Inc()
	}
	c.latest[topic] = payload
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return true
}

func (c *Conn) flushLatest(max int) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.latest) == 0 {
		return nil
	}
	out := make([][]byte, 0, min(len(c.latest), max))
	for k, v := range c.latest {
		out = append(out, v)
		delete(c.latest, k)
		if len(out) >= max {
			// 剩下的下一轮再写
			select {
			case c.notify <- struct{}{}:
			default:
			}
			break
		}
	}
	return out
}

type Server struct {
	Hub      *Hub
	Upgrader websocket.Upgrader
	ctx      context.Context
	// 超时参数（给默认值）
	PongWait   time.Duration
	PingPeriod time.Duration
	PingJitter time.Duration
	WriteWait  time.Duration
	ReadLimit  int64
}

func NewServer(ctx context.Context, h *Hub) *Server {
	return &Server{
		Hub: h,
		ctx: ctx,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // 跨域交给上层 cors 配置
		},
		PongWait:   60 * time.Second,
		PingPeriod: 30 * time.Second,
		PingJitter: 100 * time.Millisecond,
		WriteWait:  5 * time.Second,
		ReadLimit:  4 << 10,
	}
}

func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn(r.Context(), "ws upgrade failed", zap.Error(err))
		return
	}
	c := NewConn(s.Hub, wsConn)
	wsmetrics.OnOpen()
	go s.writePump(c)
	go s.readPump(c)
}

func (s *Server) readPump(c *Conn) {
	closeCode, reason := websocket.CloseNormalClosure, "eof"
	defer func() {
		c.closed.Store(true)
		c.hub.RemoveConn(c)
		_ = c.ws.Close()
		wsmetrics.OnClose(closeCode, reason)
	}()

	c.ws.SetReadLimit(s.ReadLimit)
	// 处理 pong
	c.lastPongUnix.Store(time.Now().UnixNano())
	_ = c.ws.SetReadDeadline(time.Now().Add(s.PongWait))
	c.ws.SetPongHandler(func(string) error {
		wsmetrics.PongRecvTotal.Inc()
		c.lastPongUnix.Store(time.Now().UnixNano())
		_ = c.ws.SetReadDeadline(time.Now().Add(s.PongWait))
		return nil
	})

	for {
		select {
		case <-s.ctx.Done():
			reason = "shutdown"
			return
		default:
		}
		_, b, err := c.ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			var ne net.Error
			switch {
			case errors.As(err, &ce):
				closeCode, reason = ce.Code, "client_close"
			case errors.As(err, &ne) && ne.Timeout():
				wsmetrics.PongTimeoutTotal.Inc()
				closeCode, reason = websocket.CloseGoingAway, "pong_timeout"
			default:
				closeCode, reason = websocket.CloseAbnormalClosure, "read_error"
			}
			logger.Debug(s.ctx, "ws read stopped", zap.String("conn", c.id), zap.String("reason", reason), zap.Error(err))
			return
		}
		var msg ClientMsg
		if json.Unmarshal(b, &msg) != nil {
			continue
		}
		switch msg.Type {
		case MsgSub:
			c.hub.Subscribe(c, msg.Topics)
		case MsgUnsub:
			c.hub.Unsubscribe(c, msg.Topics)
		}
	}
}

const maxFlush = 256 // 单次最多写多少条，防止订阅 topic 极多时一次写爆

func (s *Server) writePump(c *Conn) {
	// 错开各连接的 ping 时间
	if s.PingJitter > 0 {
		t := time.NewTimer(time.Duration(rand.Int63n(int64(s.PingJitter))))
		select {
		case <-t.C:
		case <-s.ctx.Done():
			t.Stop()
			return
		}
	}

	ticker := time.NewTicker(s.PingPeriod)
	defer func() {
		ticker.Stop()
		c.closed.Store(true)
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.notify:
			batch := c.flushLatest(maxFlush)
			if len(batch) == 0 {
				continue
			}
			if err := s.writeBatch(c, batch); err != nil {
				logger.Debug(s.ctx, "ws write failed", zap.String("conn", c.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(s.WriteWait)); err != nil {
				wsmetrics.PingErrorsTotal.Inc()
				return
			}
			wsmetrics.PingSentTotal.Inc()
		case <-s.ctx.Done():
			return
		}
	}
}

// writeBatch 一次 NextWriter 写完本批（减少 syscall），多条 JSON 用换行分隔
func (s *Server) writeBatch(c *Conn, batch [][]byte) (err error) {
	start := time.Now()
	n := 0
	defer func() { wsmetrics.ObserveWrite(len(batch), n, time.Since(start), err) }()

	_ = c.ws.SetWriteDeadline(time.Now().Add(s.WriteWait))
	w, err := c.ws.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	for i, payload := range batch {
		if i > 0 {
			if _, err = w.Write([]byte("\n")); err != nil {
				_ = w.Close()
				return err
			}
			n++
		}
		if _, err = w.Write(payload); err != nil {
			_ = w.Close()
			return err
		}
		n += len(payload)
	}
	return w.Close()
}
