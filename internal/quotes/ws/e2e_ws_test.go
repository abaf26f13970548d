package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"framefeed.com/internal/quotes/frame"
	"github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const t0 = int64(1704159060000)

func sampleFrames(symbol string, n int) []frame.Frame {
	frames := make([]frame.Frame, 0, n)
	for i := 0; i < n; i++ {
		frames = append(frames, frame.Frame{
			Instrument: frame.Instrument{Symbol: symbol},
			Interval:   "1m",
			Window:     frame.Window{StartTsMs: t0 + int64(i)*frame.MinuteMs},
			Bar:        frame.Bar{Open: 10, High: 10.2, Low: 9.9, Close: 10.1, VolumeShares: 100},
		})
	}
	return frame.NormalizeFrames(frames, frame.Context{Provider: "test", Mode: frame.ModeMock})
}

func startServer(t *testing.T) (*Hub, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub()
	srv := NewServer(ctx, hub)
	srv.PingJitter = 0

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			srv.ServeWS(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(ts.Close)
	return hub, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dialAndSub(t *testing.T, url string, topics ...string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	b, _ := json.Marshal(ClientMsg{Type: MsgSub, Topics: topics})
	require.NoError(t, c.WriteMessage(websocket.TextMessage, b))
	return c
}

func readMsg(t *testing.T, c *websocket.Conn) ServerMsg {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := c.ReadMessage()
	require.NoError(t, err)
	// 一批里可能有多条，按行取第一条
	line := strings.SplitN(string(raw), "\n", 2)[0]
	var sm ServerMsg
	require.NoError(t, json.Unmarshal([]byte(line), &sm))
	return sm
}

func TestWS_E2E_PublishFramesToSubscriber(t *testing.T) {
	hub, url := startServer(t)
	topic := Topic("1m", "600519.SH")
	c := dialAndSub(t, url, topic)

	require.Eventually(t, func() bool { return hub.Subscribers(topic) == 1 }, 2*time.Second, 10*time.Millisecond)

	frames := append(sampleFrames("600519.SH", 2), sampleFrames("000001.SZ", 1)...)
	require.NoError(t, PublishFrames(hub, frames))

	sm := readMsg(t, c)
	assert.Equal(t, MsgFrames, sm.Type)
	assert.Equal(t, topic, sm.Topic)
	require.Len(t, sm.Frames, 2)
	assert.Equal(t, t0, sm.Frames[0].Window.StartTsMs)
	assert.Equal(t, "600519.SH", sm.Frames[1].Instrument.Symbol)
}

func TestWS_E2E_SnapshotOnSubscribe(t *testing.T) {
	hub, url := startServer(t)
	require.NoError(t, PublishFrames(hub, sampleFrames("300750.SZ", 3)))

	// 后订阅也能立刻拿到最近一次快照
	c := dialAndSub(t, url, Topic("1m", "300750.sz"))
	sm := readMsg(t, c)
	assert.Equal(t, "frames:1m:300750.SZ", sm.Topic)
	assert.Len(t, sm.Frames, 3)
}

func TestHub_UnsubscribeAndRemove(t *testing.T) {
	hub := NewHub()
	c := &Conn{id: "c1", hub: hub, latest: map[string][]byte{}, notify: make(chan struct{}, 1)}

	hub.Subscribe(c, []string{"a", "b"})
	assert.Equal(t, 1, hub.Subscribers("a"))

	hub.Unsubscribe(c, []string{"a"})
	assert.Equal(t, 0, hub.Subscribers("a"))
	assert.Equal(t, 1, hub.Subscribers("b"))

	hub.Publish("b", []byte("x"))
	assert.Equal(t, [][]byte{[]byte("x")}, c.flushLatest(10))

	hub.RemoveConn(c)
	assert.Equal(t, 0, hub.Subscribers("b"))
}

func TestConn_LatestOnly(t *testing.T) {
	c := &Conn{latest: map[string][]byte{}, notify: make(chan struct{}, 1)}
	assert.True(t, c.Offer("t", []byte("1")))
	assert.True(t, c.Offer("t", []byte("2")))
	assert.Equal(t, [][]byte{[]byte("2")}, c.flushLatest(10))
	assert.Nil(t, c.flushLatest(10))

	c.closed.Store(true)
	assert.False(t, c.Offer("t", []byte("3")))
}

func TestEncodeFrames_GroupsByTopic(t *testing.T) {
	frames := append(sampleFrames("b.sz", 1), sampleFrames("A.SH", 2)...)
	msgs, err := EncodeFrames(frames)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "frames:1m:A.SH", msgs[0].Topic)
	assert.Equal(t, "frames:1m:B.SZ", msgs[1].Topic)

	empty, err := EncodeFrames(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
