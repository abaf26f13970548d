package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"framefeed.com/internal/quotes/frame"
	"framefeed.com/internal/quotes/livefile"
	"framefeed.com/internal/quotes/marketdata"
	"framefeed.com/internal/quotes/mock"
	"framefeed.com/internal/quotes/replay"
	"framefeed.com/pkg/common"
	"framefeed.com/pkg/middleware"
	"github.com/gin-gonic/gin"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type fakeLive struct {
	err error
	n   int
}

func (f *fakeLive) Status() livefile.Status {
	return livefile.Status{Path: "/tmp/live.json", Loaded: true, FrameCount: 3}
}

func (f *fakeLive) Refresh(force bool) error {
	f.n++
	return f.err
}

func (f *fakeLive) Symbols(interval string) []string {
	if interval == "1m" {
		return []string{"600519.SH"}
	}
	return nil
}

func clock() time.Time {
	return time.Date(2024, 1, 2, 10, 15, 30, 0, frame.Location(frame.DefaultTimezone))
}

func newTestEngine(t *testing.T, live LiveSource) (*gin.Engine, *replay.Driver) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	gen := mock.New(mock.WithClock(clock))
	batch := gen.Batch("600519.SH", "1m", 10)
	drv := replay.NewDriver(replay.NewEngine(batch, replay.Config{Speed: 1, WarmupBars: 3}), replay.DriverConfig{TickInterval: time.Hour})
	go drv.Run(ctx)

	svc := marketdata.New(marketdata.Options{Mock: gen})
	r := NewEngine(ctx, Deps{
		Market:    svc,
		Replay:    drv,
		Live:      live,
		RateLimit: middleware.RateLimitConfig{QPS: 1000, Burst: 1000},
	})
	return r, drv
}

func do(t *testing.T, r http.Handler, method, path, body string) (int, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	if w.Header().Get("Content-Type") != "" && strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w.Code, env
}

func TestMarket_Frames(t *testing.T) {
	r, _ := newTestEngine(t, nil)

	code, env := do(t, r, http.MethodGet, "/api/market/frames?symbol=600519.SH&limit=5", "")
	require.Equal(t, http.StatusOK, code)
	var b frame.Batch
	require.NoError(t, json.Unmarshal(env.Data, &b))
	assert.Equal(t, frame.SchemaFrames, b.SchemaVersion)
	assert.Equal(t, frame.ModeMock, b.Mode)
	assert.Equal(t, mock.Provider, b.Provider)
	assert.Len(t, b.Frames, 5)
}

func TestMarket_Klines(t *testing.T) {
	r, _ := newTestEngine(t, nil)

	code, env := do(t, r, http.MethodGet, "/api/market/klines?symbol=600519.SH&limit=3&interval=1d", "")
	require.Equal(t, http.StatusOK, code)
	var rows []frame.LegacyRow
	require.NoError(t, json.Unmarshal(env.Data, &rows))
	assert.Len(t, rows, 3)
}

func TestMarket_BadRequest(t *testing.T) {
	r, _ := newTestEngine(t, nil)

	code, env := do(t, r, http.MethodGet, "/api/market/frames", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, common.BizParamsError, env.Code)

	code, _ = do(t, r, http.MethodGet, "/api/market/frames?symbol=A&limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMarket_StrictLive(t *testing.T) {
	r, _ := newTestEngine(t, nil)

	code, env := do(t, r, http.MethodGet, "/api/market/frames?symbol=600519.SH&strict_live=true", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, BizLiveFramesUnavailable, env.Code)
	assert.Equal(t, "live_frames_unavailable", env.Message)

	// 显式 mock 优先于 strict
	code, _ = do(t, r, http.MethodGet, "/api/market/frames?symbol=600519.SH&strict_live=true&source=mock", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestReplay_Flow(t *testing.T) {
	r, _ := newTestEngine(t, nil)

	code, env := do(t, r, http.MethodGet, "/api/replay/status", "")
	require.Equal(t, http.StatusOK, code)
	var st replay.Status
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, 2, st.CursorIndex)
	assert.Equal(t, 10, st.FrameCount)

	code, env = do(t, r, http.MethodPost, "/api/replay/step", `{"n":2}`)
	require.Equal(t, http.StatusOK, code)
	var sr stepResp
	require.NoError(t, json.Unmarshal(env.Data, &sr))
	assert.Len(t, sr.Frames, 2)
	assert.Equal(t, 4, sr.Status.CursorIndex)

	// 空 body 按 1 步
	code, env = do(t, r, http.MethodPost, "/api/replay/step", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &sr))
	assert.Equal(t, 5, sr.Status.CursorIndex)

	code, env = do(t, r, http.MethodGet, "/api/replay/frames?symbol=600519.SH&limit=4", "")
	require.Equal(t, http.StatusOK, code)
	var b frame.Batch
	require.NoError(t, json.Unmarshal(env.Data, &b))
	assert.Len(t, b.Frames, 4)

	code, env = do(t, r, http.MethodPost, "/api/replay/resume", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.True(t, st.Running)

	code, env = do(t, r, http.MethodPost, "/api/replay/speed", `{"speed":4}`)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, 4.0, st.Speed)

	code, _ = do(t, r, http.MethodPost, "/api/replay/speed", `{"speed":-1}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = do(t, r, http.MethodPost, "/api/replay/pause", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.False(t, st.Running)

	code, env = do(t, r, http.MethodPost, "/api/replay/reset", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, 2, st.CursorIndex)
}

func TestReplay_NotConfigured(t *testing.T) {
	r := NewEngine(context.Background(), Deps{Market: marketdata.New(marketdata.Options{})})
	code, env := do(t, r, http.MethodPost, "/api/replay/pause", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, common.BizUnavailable, env.Code)

	code, _ = do(t, r, http.MethodGet, "/api/live/status", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestLive(t *testing.T) {
	live := &fakeLive{}
	r, _ := newTestEngine(t, live)

	code, env := do(t, r, http.MethodGet, "/api/live/status", "")
	require.Equal(t, http.StatusOK, code)
	var st livefile.Status
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, 3, st.FrameCount)

	code, env = do(t, r, http.MethodGet, "/api/live/symbols", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `["600519.SH"]`, string(env.Data))

	code, env = do(t, r, http.MethodGet, "/api/live/symbols?interval=1d", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(env.Data))

	code, _ = do(t, r, http.MethodPost, "/api/live/refresh", "")
	assert.Equal(t, http.StatusOK, code)

	live.err = errors.New("live file is empty")
	code, env = do(t, r, http.MethodPost, "/api/live/refresh", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "live file is empty", env.Message)
	assert.Equal(t, 2, live.n)
}

func TestHealthz(t *testing.T) {
	r, _ := newTestEngine(t, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(common.HeaderRequestID))
}
