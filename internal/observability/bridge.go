package observability

import (
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logSink is the subset of *logging.Logger the bridge writes to.
type logSink interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
}

var _ logSink = (*logging.Logger)(nil)

// EngineLogger adapts a gofulmen logger into the *zap.Logger the scheduler
// engine accepts, so engine warnings land in the same sink and format as the
// rest of the process. A nil logger yields a no-op logger. Passing a
// zap.AtomicLevel lets the level change at runtime.
func EngineLogger(logger *logging.Logger, level zapcore.LevelEnabler) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return newBridgeLogger(logger, level)
}

func newBridgeLogger(sink logSink, level zapcore.LevelEnabler) *zap.Logger {
	return zap.New(&bridgeCore{LevelEnabler: level, sink: sink}).Named("rest")
}

type bridgeCore struct {
	zapcore.LevelEnabler
	sink   logSink
	fields []zapcore.Field
}

func (c *bridgeCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &bridgeCore{LevelEnabler: c.LevelEnabler, sink: c.sink, fields: merged}
}

func (c *bridgeCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *bridgeCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	all := make([]zap.Field, 0, len(c.fields)+len(fields)+1)
	if entry.LoggerName != "" {
		all = append(all, zap.String("component", entry.LoggerName))
	}
	all = append(all, c.fields...)
	all = append(all, fields...)

	switch {
	case entry.Level >= zapcore.ErrorLevel:
		c.sink.Error(entry.Message, all...)
	case entry.Level == zapcore.WarnLevel:
		c.sink.Warn(entry.Message, all...)
	case entry.Level == zapcore.InfoLevel:
		c.sink.Info(entry.Message, all...)
	default:
		c.sink.Debug(entry.Message, all...)
	}
	return nil
}

func (c *bridgeCore) Sync() error {
	return nil
}

// ZapLevel converts a config log level to a zap level. Trace maps to debug.
func ZapLevel(levelStr string) zapcore.Level {
	switch ParseLogLevel(levelStr) {
	case "TRACE", "DEBUG":
		return zapcore.DebugLevel
	case "WARN":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
