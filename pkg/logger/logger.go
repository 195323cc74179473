// Package logger owns the process-wide zap logger. Call sites log named
// events with structured fields, e.g.
//
//	logger.Log.Info("message_saved", zap.String("thread", id))
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the global logger. It defaults to a no-op logger so library users
// and tests that never call Init stay silent.
var Log = zap.NewNop()

// Init configures the global logger. level accepts debug/info/warn/error;
// empty falls back to the AVATARCHAT_LOG_LEVEL env var, then info.
// Set AVATARCHAT_LOG_SINK=file:/path/to/log to append to a file instead of
// stdout.
func Init(level string) {
	lvl := parseLevel(level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	sink := zapcore.Lock(os.Stdout)
	if s := os.Getenv("AVATARCHAT_LOG_SINK"); strings.HasPrefix(s, "file:") {
		path := strings.TrimPrefix(s, "file:")
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640); err == nil {
			sink = zapcore.Lock(f)
		} else {
			Log.Warn("log_sink_open_failed", zap.String("path", path), zap.Error(err))
		}
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), sink, lvl)
	Log = zap.New(core)
}

func parseLevel(level string) zapcore.Level {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		lvl = strings.ToLower(strings.TrimSpace(os.Getenv("AVATARCHAT_LOG_LEVEL")))
	}
	switch lvl {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Sync flushes buffered log entries; safe to call at shutdown.
func Sync() { _ = Log.Sync() }
