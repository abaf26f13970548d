package frame

import (
	"strings"
	"sync"
	"time"
	_ "time/tzdata"
)

const (
	PhasePreOpen      = "pre_open"
	PhaseContinuousAM = "continuous_am"
	PhaseLunchBreak   = "lunch_break"
	PhaseContinuousPM = "continuous_pm"
	PhaseClosed       = "closed"
)

var locCache sync.Map // name -> *time.Location

// Location 按名字加载时区并缓存；加载失败时 Asia/Shanghai 退回固定 +8，其余退回 UTC
func Location(name string) *time.Location {
	if name == "" {
		name = DefaultTimezone
	}
	if v, ok := locCache.Load(name); ok {
		return v.(*time.Location)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		if name == DefaultTimezone {
			loc = time.FixedZone("CST", 8*3600)
		} else {
			loc = time.UTC
		}
	}
	locCache.Store(name, loc)
	return loc
}

// SessionPhase A 股交易时段：工作日 09:30-11:30、13:00-15:00（含端点）
func SessionPhase(tsMs int64, timezone string) string {
	t := time.UnixMilli(tsMs).In(Location(timezone))
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return PhaseClosed
	}
	minute := t.Hour()*60 + t.Minute()
	exact := t.Second() == 0 && t.Nanosecond() == 0
	switch {
	case minute < 9*60+30:
		return PhasePreOpen
	case minute < 11*60+30 || (minute == 11*60+30 && exact):
		return PhaseContinuousAM
	case minute < 13*60:
		return PhaseLunchBreak
	case minute < 15*60 || (minute == 15*60 && exact):
		return PhaseContinuousPM
	default:
		return PhaseClosed
	}
}

func IsMarketOpen(t time.Time, timezone string) bool {
	switch SessionPhase(t.UnixMilli(), timezone) {
	case PhaseContinuousAM, PhaseContinuousPM:
		return true
	}
	return false
}

// ToCode "sh600519" / "600519.SH" / "1" -> 6 位代码
func ToCode(value string) string {
	raw := strings.ToLower(strings.TrimSpace(value))
	if i := strings.IndexByte(raw, '.'); i >= 0 {
		raw = raw[:i]
	}
	for _, p := range []string{"sh", "sz", "bj"} {
		if strings.HasPrefix(raw, p) {
			raw = raw[len(p):]
			break
		}
	}
	if len(raw) < 6 {
		raw = strings.Repeat("0", 6-len(raw)) + raw
	}
	return raw
}

// ToSymbol 6 位代码 -> "600519.SH" / "000001.SZ"
func ToSymbol(code string) string {
	c := ToCode(code)
	if strings.HasPrefix(c, "6") {
		return c + ".SH"
	}
	return c + ".SZ"
}

func ExchangeFromCode(code string) string {
	if strings.HasPrefix(ToCode(code), "6") {
		return "SSE"
	}
	return "SZSE"
}

// exchangeFromSymbol 只认 .SH/.SZ 后缀，其他市场返回空串
func exchangeFromSymbol(symbol string) string {
	upper := strings.ToUpper(symbol)
	switch {
	case strings.HasSuffix(upper, ".SH"):
		return "SSE"
	case strings.HasSuffix(upper, ".SZ"):
		return "SZSE"
	}
	return ""
}
