package history

import (
	"context"
	"fmt"
	"os"
	"sync"

	"framefeed.com/internal/quotes/frame"
	"framefeed.com/pkg/logger"
	"framefeed.com/pkg/wal"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
)

// JournalProvider 日志里 provider 不一致时的批次 provider
const JournalProvider = "journal"

// Journal 把 live frame 逐条追加到 wal 文件，一条记录一根 frame；
// 读的时候按 (symbol, interval, start) 去重，后写的覆盖先写的
type Journal struct {
	mu   sync.Mutex
	path string
	w    *wal.Writer
}

// OpenJournal 打开前先扫一遍，崩溃留下的半条尾记录直接截掉
func OpenJournal(path string) (*Journal, error) {
	st, err := wal.Replay(path, wal.ReplayOptions{AllowTruncatedTail: true}, func([]byte) error { return nil })
	if err != nil {
		return nil, fmt.Errorf("scan journal %s: %w", path, err)
	}
	if st.TruncatedTail {
		logger.Warn(context.Background(), "journal has truncated tail, repairing",
			zap.String("path", path), zap.Int64("offset", st.LastGoodOffset))
		if err := wal.TruncateTo(path, st.LastGoodOffset); err != nil {
			return nil, err
		}
	}
	w, err := wal.OpenWrite(path, 0)
	if err != nil {
		return nil, err
	}
	return &Journal{path: path, w: w}, nil
}

func (j *Journal) Path() string { return j.path }

// Append 追加并 fsync
func (j *Journal) Append(frames []frame.Frame) error {
	if len(frames) == 0 {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, f := range frames {
		b, err := json.Marshal(f)
		if err != nil {
			return err
		}
		if err := j.w.Append(b); err != nil {
			return err
		}
	}
	return j.w.Flush()
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.w.Close()
}

// ReadJournal 整个日志读成一个升序批次；坏记录跳过
func ReadJournal(path string) (frame.Batch, error) {
	var (
		frames []frame.Frame
		bad    int
	)
	st, err := wal.Replay(path, wal.ReplayOptions{AllowTruncatedTail: true}, func(p []byte) error {
		var f frame.Frame
		if err := json.Unmarshal(p, &f); err != nil || f.Window.StartTsMs <= 0 {
			bad++
			return nil
		}
		frames = append(frames, f)
		return nil
	})
	if err != nil {
		return frame.Batch{}, fmt.Errorf("read journal %s: %w", path, err)
	}
	if bad > 0 || st.TruncatedTail {
		logger.Warn(context.Background(), "journal read with skipped records",
			zap.String("path", path), zap.Int("bad", bad), zap.Bool("truncated_tail", st.TruncatedTail))
	}

	frames = frame.DedupeAndSort(frames)
	market := ""
	if len(frames) > 0 {
		market = frames[0].Market
	}
	return frame.NewBatch(market, frame.ModeOf(frames), frame.ProviderOf(frames, JournalProvider), frames), nil
}

// writeJournal 整批重写成一个新日志（先写临时文件再 rename）
func writeJournal(path string, batch frame.Batch) error {
	tmp := path + ".tmp"
	_ = os.Remove(tmp)
	j, err := OpenJournal(tmp)
	if err != nil {
		return err
	}
	if err := j.Append(batch.Frames); err != nil {
		_ = j.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := j.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
