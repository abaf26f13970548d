package history

import "framefeed.com/internal/quotes/frame"

// Row 扁平化的一根 bar，parquet 列和 MySQL 表共用。
// end_ts_ms 不落盘，读回时由 start + interval 推出。
type Row struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement" parquet:"-"`
	Symbol     string `gorm:"size:32;uniqueIndex:uk_bar,priority:1" parquet:"symbol"`
	Interval   string `gorm:"size:8;uniqueIndex:uk_bar,priority:2" parquet:"interval"`
	StartTsMs  int64  `gorm:"uniqueIndex:uk_bar,priority:3" parquet:"start_ts_ms"`
	TradingDay string `gorm:"size:10;index" parquet:"trading_day"`

	Market     string `gorm:"size:16" parquet:"market,optional"`
	Exchange   string `gorm:"size:16" parquet:"exchange,optional"`
	Timezone   string `gorm:"size:32" parquet:"timezone,optional"`
	Currency   string `gorm:"size:8" parquet:"currency,optional"`
	Mode       string `gorm:"size:8" parquet:"mode"`
	Provider   string `gorm:"size:64" parquet:"provider"`
	Seq        int64  `parquet:"seq,optional"`
	EventTsMs  int64  `parquet:"event_ts_ms,optional"`
	IngestTsMs int64  `parquet:"ingest_ts_ms,optional"`

	SessionPhase string `gorm:"size:16" parquet:"session_phase,optional"`
	IsHalt       bool   `parquet:"is_halt,optional"`
	IsPartial    bool   `parquet:"is_partial,optional"`

	Open         float64 `parquet:"open"`
	High         float64 `parquet:"high"`
	Low          float64 `parquet:"low"`
	Close        float64 `parquet:"close"`
	VolumeShares float64 `parquet:"volume_shares"`
	TurnoverCNY  float64 `gorm:"column:turnover_cny" parquet:"turnover_cny"`
	VWAP         float64 `gorm:"column:vwap" parquet:"vwap"`
}

func (Row) TableName() string { return "market_bars" }

// upsertColumns 唯一键以外、冲突时覆盖的列
var upsertColumns = []string{
	"trading_day", "market", "exchange", "timezone", "currency", "mode", "provider",
	"seq", "event_ts_ms", "ingest_ts_ms", "session_phase", "is_halt", "is_partial",
	"open", "high", "low", "close", "volume_shares", "turnover_cny", "vwap",
}

func RowFromFrame(f frame.Frame) Row {
	return Row{
		Symbol:       f.Instrument.Symbol,
		Interval:     f.Interval,
		StartTsMs:    f.Window.StartTsMs,
		TradingDay:   f.Window.TradingDay,
		Market:       f.Market,
		Exchange:     f.Instrument.Exchange,
		Timezone:     f.Instrument.Timezone,
		Currency:     f.Instrument.Currency,
		Mode:         f.Mode,
		Provider:     f.Provider,
		Seq:          f.Seq,
		EventTsMs:    f.EventTsMs,
		IngestTsMs:   f.IngestTsMs,
		SessionPhase: f.Session.Phase,
		IsHalt:       f.Session.IsHalt,
		IsPartial:    f.Session.IsPartial,
		Open:         f.Bar.Open,
		High:         f.Bar.High,
		Low:          f.Bar.Low,
		Close:        f.Bar.Close,
		VolumeShares: f.Bar.VolumeShares,
		TurnoverCNY:  f.Bar.Turnover,
		VWAP:         f.Bar.VWAP,
	}
}

func (r Row) Frame() frame.Frame {
	return frame.Frame{
		Market:     r.Market,
		Mode:       r.Mode,
		Provider:   r.Provider,
		Seq:        r.Seq,
		EventTsMs:  r.EventTsMs,
		IngestTsMs: r.IngestTsMs,
		Instrument: frame.Instrument{
			Symbol:   r.Symbol,
			Exchange: r.Exchange,
			Timezone: r.Timezone,
			Currency: r.Currency,
		},
		Interval: r.Interval,
		Window:   frame.Window{StartTsMs: r.StartTsMs, TradingDay: r.TradingDay},
		Session:  frame.Session{Phase: r.SessionPhase, IsHalt: r.IsHalt, IsPartial: r.IsPartial},
		Bar: frame.Bar{
			Open:         r.Open,
			High:         r.High,
			Low:          r.Low,
			Close:        r.Close,
			VolumeShares: r.VolumeShares,
			Turnover:     r.TurnoverCNY,
			VWAP:         r.VWAP,
		},
	}
}

// rowsToBatch 行 -> 归一化后的批次；market 取第一条带 market 的行，
// 旧数据没有这些列时按默认值补齐
func rowsToBatch(rows []Row) frame.Batch {
	market := ""
	frames := make([]frame.Frame, 0, len(rows))
	for _, r := range rows {
		if market == "" {
			market = r.Market
		}
		frames = append(frames, r.Frame())
	}
	if market == "" {
		market = frame.DefaultMarket
	}
	frames = frame.NormalizeFrames(frames, frame.Context{Market: market})
	return frame.NewBatch(market, frame.ModeOf(frames), frame.ProviderOf(frames, "history"), frames)
}
