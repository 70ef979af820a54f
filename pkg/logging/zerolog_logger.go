package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// ZerologLogger implements the Logger interface using zerolog
type ZerologLogger struct {
	logger zerolog.Logger
}

// NewLogger creates a Logger from the given config, writing to stderr
func NewLogger(cfg LogConfig) Logger {
	return NewLoggerWithWriter(cfg, os.Stderr)
}

// NewLoggerWithWriter creates a Logger writing to the given writer
func NewLoggerWithWriter(cfg LogConfig, w io.Writer) Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w}
	}

	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &ZerologLogger{logger: logger}
}

// NewNopLogger creates a Logger that discards everything
func NewNopLogger() Logger {
	return &ZerologLogger{logger: zerolog.Nop()}
}

// Debug logs a debug message
func (l *ZerologLogger) Debug(msg string, fields ...Field) {
	l.emit(l.logger.Debug(), msg, fields)
}

// Info logs an info message
func (l *ZerologLogger) Info(msg string, fields ...Field) {
	l.emit(l.logger.Info(), msg, fields)
}

// Warn logs a warning message
func (l *ZerologLogger) Warn(msg string, fields ...Field) {
	l.emit(l.logger.Warn(), msg, fields)
}

// Error logs an error message
func (l *ZerologLogger) Error(msg string, fields ...Field) {
	l.emit(l.logger.Error(), msg, fields)
}

// WithFields returns a new logger with the given fields attached
func (l *ZerologLogger) WithFields(fields ...Field) Logger {
	ctx := l.logger.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.Value)
	}
	return &ZerologLogger{logger: ctx.Logger()}
}

// LogBatchExecution records batch execution events
func (l *ZerologLogger) LogBatchExecution(canvasID string, batchID string, event string, data map[string]interface{}) {
	l.logger.Info().
		Str("canvas_id", canvasID).
		Str("batch_id", batchID).
		Str("event", event).
		Fields(data).
		Msg("batch execution")
}

// LogNodeExecution records node execution events
func (l *ZerologLogger) LogNodeExecution(batchID string, nodeID string, event string, data map[string]interface{}) {
	l.logger.Info().
		Str("batch_id", batchID).
		Str("node_id", nodeID).
		Str("event", event).
		Fields(data).
		Msg("node execution")
}

// LogSystemEvent records system-level events
func (l *ZerologLogger) LogSystemEvent(event string, data map[string]interface{}) {
	l.logger.Info().
		Str("event", event).
		Fields(data).
		Msg("system event")
}

func (l *ZerologLogger) emit(e *zerolog.Event, msg string, fields []Field) {
	for _, f := range fields {
		e = e.Interface(f.Key, f.Value)
	}
	e.Msg(msg)
}
