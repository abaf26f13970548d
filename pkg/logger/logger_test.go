package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// hijack 把全局 Log 换成写内存 buffer 的 logger
func hijack(t *testing.T) *bytes.Buffer {
	t.Helper()
	buffer := &bytes.Buffer{}
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.MessageKey = "msg"
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(buffer), zap.DebugLevel)

	old := Log
	Log = zap.New(core)
	t.Cleanup(func() { Log = old })
	return buffer
}

func TestLogger_Info_WithTraceAndRequestID(t *testing.T) {
	buffer := hijack(t)

	ctx := context.WithValue(context.Background(), TraceIdKey, "trace-1")
	ctx = context.WithValue(ctx, RequestIdKey, "req-9")

	Info(ctx, "live file reloaded", zap.String("path", "frames.1m.json"), zap.Int("frames", 3))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buffer.Bytes(), &entry), "日志输出必须是合法的 JSON")

	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "live file reloaded", entry["msg"])
	assert.Equal(t, "frames.1m.json", entry["path"])
	assert.Equal(t, float64(3), entry["frames"])
	assert.Equal(t, "trace-1", entry["trace_id"])
	assert.Equal(t, "req-9", entry["request_id"])
}

func TestLogger_Warn_NoTraceID(t *testing.T) {
	buffer := hijack(t)

	Warn(context.Background(), "upstream unavailable", zap.String("symbol", "600519.SH"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buffer.Bytes(), &entry))

	_, exists := entry["trace_id"]
	assert.False(t, exists, "没有 TraceID 的 Context 不应该输出 trace_id 字段")
	assert.Equal(t, "warn", entry["level"])
}

func TestLogger_NilContext(t *testing.T) {
	buffer := hijack(t)

	//nolint:staticcheck
	Debug(nil, "tick")

	assert.Contains(t, buffer.String(), `"msg":"tick"`)
}

func TestLogger_DefaultIsNop(t *testing.T) {
	old := Log
	Log = zap.NewNop()
	defer func() { Log = old }()

	assert.NotPanics(t, func() {
		Error(context.Background(), "no init yet")
		Sync()
	})
}
