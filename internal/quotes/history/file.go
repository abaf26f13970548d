package history

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"framefeed.com/internal/quotes/frame"
	"framefeed.com/internal/quotes/livefile"
	"github.com/parquet-go/parquet-go"
)

// LoadFile 按扩展名读批次：.json 是 market.frames.v1 文件，.parquet 是 Row 列存，.wal 是 frame 日志
func LoadFile(path string) (frame.Batch, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return frame.Batch{}, err
		}
		return livefile.DecodeBatch(data)
	case ".parquet":
		rows, err := parquet.ReadFile[Row](path)
		if err != nil {
			return frame.Batch{}, fmt.Errorf("read parquet %s: %w", path, err)
		}
		return rowsToBatch(rows), nil
	case ".wal":
		return ReadJournal(path)
	default:
		return frame.Batch{}, fmt.Errorf("unsupported history file %q", path)
	}
}

// SaveFile 和 LoadFile 对称；json 走原子写
func SaveFile(path string, batch frame.Batch) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return livefile.WriteBatchAtomic(path, batch)
	case ".parquet":
		rows := make([]Row, 0, len(batch.Frames))
		for _, f := range batch.Frames {
			rows = append(rows, RowFromFrame(f))
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		tmp := path + ".tmp"
		if err := parquet.WriteFile(tmp, rows); err != nil {
			_ = os.Remove(tmp)
			return err
		}
		return os.Rename(tmp, path)
	case ".wal":
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		return writeJournal(path, batch)
	default:
		return fmt.Errorf("unsupported history file %q", path)
	}
}
