package livefile

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"
)

// CheckSpec 一条新鲜度检查：path:max_age_sec[:required|optional]
type CheckSpec struct {
	Path      string
	MaxAgeSec int
	Required  bool
}

func ParseCheckSpec(raw string) (CheckSpec, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) < 2 {
		return CheckSpec{}, fmt.Errorf("check %q: expects path:max_age_sec[:required|optional]", raw)
	}
	if parts[0] == "" {
		return CheckSpec{}, fmt.Errorf("check %q: path is empty", raw)
	}
	age, err := strconv.Atoi(parts[1])
	if err != nil {
		return CheckSpec{}, fmt.Errorf("check %q: max_age_sec must be integer", raw)
	}
	if age < 0 {
		return CheckSpec{}, fmt.Errorf("check %q: max_age_sec must be >= 0", raw)
	}
	spec := CheckSpec{Path: parts[0], MaxAgeSec: age, Required: true}
	if len(parts) >= 3 && parts[2] != "" {
		switch strings.ToLower(parts[2]) {
		case "required", "req", "true", "1", "yes":
		case "optional", "opt", "false", "0", "no":
			spec.Required = false
		default:
			return CheckSpec{}, fmt.Errorf("check %q: third field must be required|optional", raw)
		}
	}
	return spec, nil
}

type CheckResult struct {
	Path              string   `json:"path"`
	AbsolutePath      string   `json:"absolute_path"`
	Required          bool     `json:"required"`
	MaxAgeSec         int      `json:"max_age_sec"`
	Exists            bool     `json:"exists"`
	OK                bool     `json:"ok"`
	Stale             bool     `json:"stale"`
	AgeSec            *float64 `json:"age_sec"`
	MtimeMs           *int64   `json:"mtime_ms"`
	SizeBytes         *int64   `json:"size_bytes"`
	Error             *string  `json:"error"`
	PayloadSchema     *string  `json:"payload_schema,omitempty"`
	PayloadLatestTsMs *int64   `json:"payload_latest_ts_ms,omitempty"`
	PayloadParseError *string  `json:"payload_parse_error,omitempty"`
}

type FreshnessReport struct {
	TsMs              int64         `json:"ts_ms"`
	Root              string        `json:"root"`
	OK                bool          `json:"ok"`
	RequiredFailCount int           `json:"required_fail_count"`
	OptionalFailCount int           `json:"optional_fail_count"`
	Checks            []CheckResult `json:"checks"`
}

// CheckFreshness 逐个检查文件是否存在、是否过期；相对路径基于 root
func CheckFreshness(root string, specs []CheckSpec, now time.Time) FreshnessReport {
	rep := FreshnessReport{TsMs: now.UnixMilli(), Root: root, Checks: make([]CheckResult, 0, len(specs))}
	for _, spec := range specs {
		row := checkOne(root, spec, now)
		if !row.OK {
			if spec.Required {
				rep.RequiredFailCount++
			} else {
				rep.OptionalFailCount++
			}
		}
		rep.Checks = append(rep.Checks, row)
	}
	rep.OK = rep.RequiredFailCount == 0
	return rep
}

func checkOne(root string, spec CheckSpec, now time.Time) CheckResult {
	fp := spec.Path
	if !filepath.IsAbs(fp) {
		fp = filepath.Join(root, fp)
	}
	if abs, err := filepath.Abs(fp); err == nil {
		fp = abs
	}
	row := CheckResult{
		Path:         spec.Path,
		AbsolutePath: fp,
		Required:     spec.Required,
		MaxAgeSec:    spec.MaxAgeSec,
		Stale:        true,
	}

	info, err := os.Stat(fp)
	if err != nil {
		msg := "missing"
		if !os.IsNotExist(err) {
			msg = err.Error()
		}
		row.Error = &msg
		return row
	}

	age := math.Max(0, now.Sub(info.ModTime()).Seconds())
	age = math.Round(age*1000) / 1000
	mtime := info.ModTime().UnixMilli()
	size := info.Size()
	row.Exists = true
	row.AgeSec = &age
	row.MtimeMs = &mtime
	row.SizeBytes = &size
	row.Stale = age > float64(spec.MaxAgeSec)
	row.OK = !row.Stale

	if strings.EqualFold(filepath.Ext(fp), ".json") {
		payloadInfo(fp, &row)
	}
	return row
}

// payloadInfo 尽力读出 schema 和最后一根 frame 的 event_ts_ms，失败不影响 ok
func payloadInfo(fp string, row *CheckResult) {
	data, err := os.ReadFile(fp)
	if err != nil {
		msg := err.Error()
		row.PayloadParseError = &msg
		return
	}
	var doc struct {
		SchemaVersion *string `json:"schema_version"`
		Frames        []struct {
			EventTsMs *float64 `json:"event_ts_ms"`
		} `json:"frames"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		msg := err.Error()
		row.PayloadParseError = &msg
		return
	}
	row.PayloadSchema = doc.SchemaVersion
	if n := len(doc.Frames); n > 0 && doc.Frames[n-1].EventTsMs != nil {
		ts := int64(*doc.Frames[n-1].EventTsMs)
		row.PayloadLatestTsMs = &ts
	}
}
