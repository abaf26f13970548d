package frame

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shanghai(y int, m time.Month, d, hh, mm int) int64 {
	return time.Date(y, m, d, hh, mm, 0, 0, Location(DefaultTimezone)).UnixMilli()
}

func TestNormalizePayload_LegacyRoundTrip(t *testing.T) {
	T := shanghai(2024, 1, 2, 9, 31)
	payload := fmt.Sprintf(`[{"openTime":%d,"open":10,"high":10.4,"low":9.8,"close":10.1,"volume":1000,"quoteVolume":10100}]`, T)

	got := NormalizePayload([]byte(payload), Context{Symbol: "600519.SH", Interval: "1m", Provider: "up", Mode: ModeReal})
	require.Len(t, got, 1)

	f := got[0]
	assert.Equal(t, T, f.Window.StartTsMs)
	assert.Equal(t, T+60000, f.Window.EndTsMs)
	assert.Equal(t, "2024-01-02", f.Window.TradingDay)
	assert.Equal(t, 10.1, f.Bar.Close)
	assert.Equal(t, 10.4, f.Bar.High)
	assert.Equal(t, 9.8, f.Bar.Low)
	assert.Equal(t, 1000.0, f.Bar.VolumeShares)
	assert.Equal(t, 10100.0, f.Bar.Turnover)
	assert.Equal(t, 10.1, f.Bar.VWAP)
	assert.Equal(t, "600519.SH", f.Instrument.Symbol)
	assert.Equal(t, "SSE", f.Instrument.Exchange)
	assert.Equal(t, ModeReal, f.Mode)
	assert.Equal(t, "up", f.Provider)
	assert.Equal(t, SchemaBar, f.SchemaVersion)
	assert.Equal(t, PhaseContinuousAM, f.Session.Phase)
	assert.Equal(t, int64(1), f.Seq)
}

func TestNormalizePayload_LegacyDefaults(t *testing.T) {
	T := shanghai(2024, 1, 2, 10, 0)

	t.Run("missing_hlc_volume", func(t *testing.T) {
		got := NormalizePayload([]byte(fmt.Sprintf(`[{"openTime":%d,"open":12.5}]`, T)), Context{Symbol: "000001.SZ"})
		require.Len(t, got, 1)
		b := got[0].Bar
		assert.Equal(t, 12.5, b.High)
		assert.Equal(t, 12.5, b.Low)
		assert.Equal(t, 12.5, b.Close)
		assert.Equal(t, 0.0, b.VolumeShares)
		assert.Equal(t, 0.0, b.Turnover)
		// 量为 0 时 vwap 取 close
		assert.Equal(t, 12.5, b.VWAP)
		assert.Equal(t, ModeMock, got[0].Mode)
		assert.Equal(t, "unknown", got[0].Provider)
		assert.Equal(t, "SZSE", got[0].Instrument.Exchange)
	})

	t.Run("turnover_from_volume_close", func(t *testing.T) {
		got := NormalizePayload([]byte(fmt.Sprintf(`[{"open_time":%d,"open":"10","close":"11","volume":"200"}]`, T)), Context{Symbol: "X"})
		require.Len(t, got, 1)
		assert.Equal(t, 2200.0, got[0].Bar.Turnover)
		assert.Equal(t, 11.0, got[0].Bar.VWAP)
		assert.Equal(t, 11.0, got[0].Bar.High)
		assert.Equal(t, 10.0, got[0].Bar.Low)
	})

	t.Run("drops_rows_without_start", func(t *testing.T) {
		payload := fmt.Sprintf(`[{"open":1},{"openTime":"bad","open":1},{"t":%d,"open":2},null,42]`, T)
		got := NormalizePayload([]byte(payload), Context{Symbol: "X"})
		require.Len(t, got, 1)
		assert.Equal(t, T, got[0].Window.StartTsMs)
	})

	t.Run("drops_rows_without_open", func(t *testing.T) {
		got := NormalizePayload([]byte(fmt.Sprintf(`[{"openTime":%d,"close":3}]`, T)), Context{Symbol: "X"})
		assert.Empty(t, got)
	})
}

func TestNormalizePayload_Shapes(t *testing.T) {
	T := shanghai(2024, 1, 2, 9, 35)
	canonical := fmt.Sprintf(`{"schema_version":"market.bar.v1","market":"CN-A","mode":"real","provider":"vendor",
		"instrument":{"symbol":"600000.SH"},"interval":"1m",
		"window":{"start_ts_ms":%d,"end_ts_ms":1},
		"bar":{"open":8,"high":7,"low":9,"close":8.5,"volume_shares":100}}`, T)

	ctx := Context{Provider: "upstream-proxy", Mode: ModeReal}
	cases := map[string]string{
		"wrapped_frames": `{"data":{"frames":[` + canonical + `]}}`,
		"wrapped_array":  `{"data":[` + canonical + `]}`,
		"frames":         `{"frames":[` + canonical + `]}`,
		"rows":           `[` + canonical + `]`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			got := NormalizePayload([]byte(payload), ctx)
			require.Len(t, got, 1)
			f := got[0]
			assert.Equal(t, "upstream-proxy", f.Provider)
			assert.Equal(t, ModeReal, f.Mode)
			// end 由 start 推出，忽略输入里的脏值
			assert.Equal(t, T+MinuteMs, f.Window.EndTsMs)
			// high/low 被夹到合法范围
			assert.Equal(t, 8.5, f.Bar.High)
			assert.Equal(t, 8.0, f.Bar.Low)
			assert.Equal(t, 850.0, f.Bar.Turnover)
			assert.Equal(t, FeedBars, f.Feed)
		})
	}

	t.Run("unknown", func(t *testing.T) {
		assert.Empty(t, NormalizePayload([]byte(`{"foo":1}`), ctx))
		assert.Empty(t, NormalizePayload([]byte(`not json`), ctx))
		assert.Empty(t, NormalizePayload(nil, ctx))
		assert.Empty(t, NormalizePayload([]byte(`{"data":{"rows":[]}}`), ctx))
	})
}

func TestNormalizePayload_CanonicalKeepsOwnProviderWithoutContext(t *testing.T) {
	T := shanghai(2024, 1, 2, 9, 35)
	payload := fmt.Sprintf(`{"frames":[{"mode":"real","provider":"vendor","instrument":{"symbol":"A"},"window":{"start_ts_ms":%d},"bar":{"open":1}}]}`, T)
	got := NormalizePayload([]byte(payload), Context{})
	require.Len(t, got, 1)
	assert.Equal(t, "vendor", got[0].Provider)
	assert.Equal(t, ModeReal, got[0].Mode)
}

func TestNormalizePayload_FallbackFillsOnlyMissingSource(t *testing.T) {
	T := shanghai(2024, 1, 2, 9, 35)
	payload := fmt.Sprintf(`{"frames":[
		{"instrument":{"symbol":"A"},"window":{"start_ts_ms":%d},"bar":{"open":1}},
		{"mode":"mock","provider":"vendor","instrument":{"symbol":"B"},"window":{"start_ts_ms":%d},"bar":{"open":1}}
	]}`, T, T)
	got := NormalizePayload([]byte(payload), Context{FallbackMode: ModeReal, FallbackProvider: "akshare"})
	require.Len(t, got, 2)

	assert.Equal(t, ModeReal, got[0].Mode)
	assert.Equal(t, "akshare", got[0].Provider)
	assert.Equal(t, ModeMock, got[1].Mode)
	assert.Equal(t, "vendor", got[1].Provider)
}

func TestNormalizeFrames_Backfill(t *testing.T) {
	T := shanghai(2024, 1, 6, 10, 0) // 周六
	in := []Frame{
		{Instrument: Instrument{Symbol: "A"}, Window: Window{StartTsMs: T}, Bar: Bar{Open: 1, High: 1, Low: 1, Close: 1}},
		{Instrument: Instrument{Symbol: "A"}, Window: Window{StartTsMs: 0}},
	}
	got := NormalizeFrames(in, Context{Interval: "5m", Mode: ModeMock, Provider: "p"})
	require.Len(t, got, 1)
	assert.Equal(t, "5m", got[0].Interval)
	assert.Equal(t, T+5*MinuteMs, got[0].Window.EndTsMs)
	assert.Equal(t, PhaseClosed, got[0].Session.Phase)
	assert.Equal(t, "p", got[0].Provider)
}
