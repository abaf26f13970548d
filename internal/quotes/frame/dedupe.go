package frame

import (
	"sort"
	"strings"
)

const (
	DefaultLimit = 240
	MaxLimit     = 2000
)

// DedupeAndSort 按 (symbol, interval, start) 去重，后出现的覆盖先出现的；
// 结果按 start -> symbol -> interval 升序。
func DedupeAndSort(frames []Frame) []Frame {
	pos := make(map[string]int, len(frames))
	out := make([]Frame, 0, len(frames))
	for _, f := range frames {
		k := f.Key()
		if i, ok := pos[k]; ok {
			out[i] = f
			continue
		}
		pos[k] = len(out)
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Window.StartTsMs != b.Window.StartTsMs {
			return a.Window.StartTsMs < b.Window.StartTsMs
		}
		if a.Instrument.Symbol != b.Instrument.Symbol {
			return a.Instrument.Symbol < b.Instrument.Symbol
		}
		return a.Interval < b.Interval
	})
	return out
}

// Filter 按 symbol / interval 过滤，空串表示不限
func Filter(frames []Frame, symbol, interval string) []Frame {
	out := make([]Frame, 0, len(frames))
	for _, f := range frames {
		if symbol != "" && !strings.EqualFold(f.Instrument.Symbol, symbol) {
			continue
		}
		if interval != "" && f.Interval != interval {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Tail 最后 n 条；n<=0 返回空
func Tail(frames []Frame, n int) []Frame {
	if n <= 0 {
		return []Frame{}
	}
	if len(frames) <= n {
		return frames
	}
	return frames[len(frames)-n:]
}

// Symbols 出现过的 symbol，已排序
func Symbols(frames []Frame, interval string) []string {
	seen := map[string]struct{}{}
	for _, f := range frames {
		if interval != "" && f.Interval != interval {
			continue
		}
		if f.Instrument.Symbol == "" {
			continue
		}
		seen[f.Instrument.Symbol] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ClampLimit limit 归一到 [1, MaxLimit]，0 或负数取默认值
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// ProviderOf 批次内 provider 唯一时返回它，否则返回 fallback
func ProviderOf(frames []Frame, fallback string) string {
	p := ""
	for _, f := range frames {
		if p == "" {
			p = f.Provider
			continue
		}
		if f.Provider != p {
			return fallback
		}
	}
	if p == "" {
		return fallback
	}
	return p
}

// ModeOf 任意一根声明 real 就算 real
func ModeOf(frames []Frame) string {
	for _, f := range frames {
		if f.Mode == ModeReal {
			return ModeReal
		}
	}
	return ModeMock
}
