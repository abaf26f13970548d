package history

import (
	"context"
	"time"

	"framefeed.com/internal/quotes/frame"
	"framefeed.com/pkg/metrics"
	"framefeed.com/pkg/orm"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repo 日线 / 分钟线历史存 MySQL 的 market_bars 表
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) AutoMigrate() error {
	return r.db.AutoMigrate(&Row{})
}

type LoadFilter struct {
	Interval string
	Symbols  []string
	// SinceMs >0 时只取 start_ts_ms >= SinceMs
	SinceMs int64
	// Limit 每次最多取多少行，<=0 不限
	Limit int
	// Page 配合 Limit 往更早的数据翻页，从 1 开始
	Page int
}

// LoadBatch 按 interval 取历史，返回升序批次
func (r *Repo) LoadBatch(ctx context.Context, f LoadFilter) (frame.Batch, error) {
	start := time.Now()
	q := r.db.WithContext(ctx).Model(&Row{}).Where("`interval` = ?", f.Interval)
	if len(f.Symbols) > 0 {
		q = q.Where("symbol IN ?", f.Symbols)
	}
	if f.SinceMs > 0 {
		q = q.Where("start_ts_ms >= ?", f.SinceMs)
	}
	if f.Limit > 0 {
		// 取最新的 Limit 行（按页往前翻），再在内存里升序
		q = orm.Paginate(q.Order("start_ts_ms DESC"), f.Page, f.Limit)
	} else {
		q = q.Order("start_ts_ms ASC")
	}

	var rows []Row
	err := q.Find(&rows).Error
	observe("load_batch", start, err)
	if err != nil {
		return frame.Batch{}, err
	}
	return rowsToBatch(rows), nil
}

// Upsert 按 (symbol, interval, start_ts_ms) 覆盖写
func (r *Repo) Upsert(ctx context.Context, frames []frame.Frame) error {
	if len(frames) == 0 {
		return nil
	}
	rows := make([]Row, 0, len(frames))
	for _, f := range frames {
		rows = append(rows, RowFromFrame(f))
	}
	start := time.Now()
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}, {Name: "interval"}, {Name: "start_ts_ms"}},
		DoUpdates: clause.AssignmentColumns(upsertColumns),
	}).CreateInBatches(rows, 500).Error
	observe("upsert", start, err)
	return err
}

func observe(query string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.DbQueryDuration.WithLabelValues(query, status).Observe(time.Since(start).Seconds())
}
