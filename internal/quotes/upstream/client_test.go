package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"framefeed.com/internal/quotes/frame"
	"framefeed.com/pkg/xerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const t0 = int64(1704159060000)

func TestClient_FetchLegacyRows(t *testing.T) {
	var gotAuth, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		fmt.Fprintf(w, `[{"openTime":%d,"open":10,"high":10.4,"low":9.8,"close":10.1,"volume":1000,"quoteVolume":10100}]`, t0)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/api/klines", Token: "secret"})
	frames, err := c.FetchFrames(context.Background(), "600519.SH", "1m", 5)
	require.NoError(t, err)
	require.Len(t, frames, 1)

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "interval=1m&limit=5&symbol=600519.SH", gotQuery)
	f := frames[0]
	assert.Equal(t, frame.ModeReal, f.Mode)
	assert.Equal(t, Provider, f.Provider)
	assert.Equal(t, "600519.SH", f.Instrument.Symbol)
	assert.Equal(t, t0+frame.MinuteMs, f.Window.EndTsMs)
}

func TestClient_WrappedShapes(t *testing.T) {
	for name, body := range map[string]string{
		"data":   `{"data":[{"openTime":%d,"open":1}]}`,
		"frames": `{"frames":[{"window":{"start_ts_ms":%d},"bar":{"open":1},"mode":"mock","provider":"x"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintf(w, body, t0)
			}))
			defer srv.Close()

			frames, err := New(Config{BaseURL: srv.URL}).FetchFrames(context.Background(), "A", "1m", 1)
			require.NoError(t, err)
			require.Len(t, frames, 1)
			assert.Equal(t, frame.ModeReal, frames[0].Mode)
			assert.Equal(t, Provider, frames[0].Provider)
		})
	}
}

func TestClient_NoAuthHeaderWithoutToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	frames, err := New(Config{BaseURL: srv.URL}).FetchFrames(context.Background(), "A", "1m", 1)
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") == "BAD" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.FetchFrames(context.Background(), "A", "1m", 1)
	require.Error(t, err)
	assert.Equal(t, xerr.UpstreamError, xerr.CodeOf(err))

	_, err = c.FetchFrames(context.Background(), "BAD", "1m", 1)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, xerr.CodeOf(err))
	assert.True(t, xerr.IsClientError(err))
}

func TestClient_Timeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	c := New(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := c.FetchFrames(context.Background(), "A", "1m", 1)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, xerr.UpstreamTimeout, xerr.CodeOf(err))
}

func TestClient_NotConfigured(t *testing.T) {
	c := New(Config{})
	assert.False(t, c.Configured())
	_, err := c.FetchFrames(context.Background(), "A", "1m", 1)
	assert.Error(t, err)
}
