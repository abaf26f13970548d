package livefile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCheckSpec(t *testing.T) {
	s, err := ParseCheckSpec("data/live/frames.1m.json:180")
	require.NoError(t, err)
	assert.Equal(t, CheckSpec{Path: "data/live/frames.1m.json", MaxAgeSec: 180, Required: true}, s)

	s, err = ParseCheckSpec(" a.json : 10 : opt ")
	require.NoError(t, err)
	assert.False(t, s.Required)

	for _, bad := range []string{"a.json", ":10", "a.json:x", "a.json:-1", "a.json:1:maybe"} {
		_, err := ParseCheckSpec(bad)
		assert.Error(t, err, bad)
	}
}

func TestCheckFreshness(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, WriteBatchAtomic(filepath.Join(root, "fresh.json"), sampleBatch("600519.SH")))
	require.NoError(t, os.WriteFile(filepath.Join(root, "old.json"), []byte(`not json`), 0o644))
	now := time.Now()
	old := now.Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "old.json"), old, old))

	rep := CheckFreshness(root, []CheckSpec{
		{Path: "fresh.json", MaxAgeSec: 60, Required: true},
		{Path: "old.json", MaxAgeSec: 60, Required: false},
		{Path: "missing.json", MaxAgeSec: 60, Required: true},
	}, now)

	require.Len(t, rep.Checks, 3)
	assert.False(t, rep.OK)
	assert.Equal(t, 1, rep.RequiredFailCount)
	assert.Equal(t, 1, rep.OptionalFailCount)

	fresh := rep.Checks[0]
	assert.True(t, fresh.OK)
	assert.True(t, fresh.Exists)
	require.NotNil(t, fresh.PayloadSchema)
	assert.Equal(t, "market.frames.v1", *fresh.PayloadSchema)
	require.NotNil(t, fresh.PayloadLatestTsMs)
	// 最后一根 frame 的 event_ts_ms = 它的 end
	assert.Equal(t, t0+3*60000, *fresh.PayloadLatestTsMs)

	stale := rep.Checks[1]
	assert.True(t, stale.Stale)
	assert.NotNil(t, stale.PayloadParseError)

	missing := rep.Checks[2]
	assert.False(t, missing.Exists)
	require.NotNil(t, missing.Error)
	assert.Equal(t, "missing", *missing.Error)
}
