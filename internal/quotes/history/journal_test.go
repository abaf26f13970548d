package history

import (
	"os"
	"path/filepath"
	"testing"

	"framefeed.com/internal/quotes/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournal_AppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "live", "frames.wal")
	src := dailyBatch().Frames

	j, err := OpenJournal(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(src[:4]))

	// 同一窗口的新数据覆盖旧的
	updated := src[0]
	updated.Bar.Close = 11.5
	require.NoError(t, j.Append([]frame.Frame{updated}))
	require.NoError(t, j.Append(nil))
	require.NoError(t, j.Close())

	// 重新打开继续追加
	j, err = OpenJournal(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(src[4:]))
	require.NoError(t, j.Close())

	got, err := ReadJournal(path)
	require.NoError(t, err)
	require.Len(t, got.Frames, 6)
	assert.Equal(t, frame.ModeReal, got.Mode)
	assert.Equal(t, "akshare-daily", got.Provider)
	for _, f := range got.Frames {
		if f.Instrument.Symbol == updated.Instrument.Symbol && f.Window.StartTsMs == updated.Window.StartTsMs {
			assert.Equal(t, 11.5, f.Bar.Close)
		}
	}
	for i := 1; i < len(got.Frames); i++ {
		assert.LessOrEqual(t, got.Frames[i-1].Window.StartTsMs, got.Frames[i].Window.StartTsMs)
	}
}

func TestJournal_RepairsTruncatedTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frames.wal")
	src := dailyBatch().Frames

	j, err := OpenJournal(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(src[:2]))
	require.NoError(t, j.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-5))

	got, err := ReadJournal(path)
	require.NoError(t, err)
	assert.Len(t, got.Frames, 1)

	j, err = OpenJournal(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(src[2:3]))
	require.NoError(t, j.Close())

	got, err = ReadJournal(path)
	require.NoError(t, err)
	assert.Len(t, got.Frames, 2)
}

func TestReadJournal_Missing(t *testing.T) {
	got, err := ReadJournal(filepath.Join(t.TempDir(), "none.wal"))
	require.NoError(t, err)
	assert.Empty(t, got.Frames)
	assert.Equal(t, JournalProvider, got.Provider)
	assert.Equal(t, frame.ModeMock, got.Mode)
}
