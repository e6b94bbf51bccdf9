package rtc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"

	"github.com/qrave1/RoomMesh/internal/application/constant"
)

// LevelTrace - trace у pion ниже debug
const LevelTrace = slog.LevelDebug - 4

// SlogLoggerFactory отдает pion логгеры, которые пишут в slog.
type SlogLoggerFactory struct {
	Logger *slog.Logger
}

func (f SlogLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &slogLogger{logger: logger.With(slog.String(constant.Component, "pion/"+scope))}
}

type slogLogger struct {
	logger *slog.Logger
}

func (l *slogLogger) log(level slog.Level, msg string) {
	l.logger.Log(context.Background(), level, msg)
}

func (l *slogLogger) logf(level slog.Level, format string, args ...any) {
	if !l.logger.Enabled(context.Background(), level) {
		return
	}

	l.logger.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func (l *slogLogger) Trace(msg string) { l.log(LevelTrace, msg) }
func (l *slogLogger) Tracef(format string, args ...any) { l.logf(LevelTrace, format, args...) }
func (l *slogLogger) Debug(msg string) { l.log(slog.LevelDebug, msg) }
func (l *slogLogger) Debugf(format string, args ...any) { l.logf(slog.LevelDebug, format, args...) }
func (l *slogLogger) Info(msg string) { l.log(slog.LevelInfo, msg) }
func (l *slogLogger) Infof(format string, args ...any) { l.logf(slog.LevelInfo, format, args...) }
func (l *slogLogger) Warn(msg string) { l.log(slog.LevelWarn, msg) }
func (l *slogLogger) Warnf(format string, args ...any) { l.logf(slog.LevelWarn, format, args...) }
func (l *slogLogger) Error(msg string) { l.log(slog.LevelError, msg) }
func (l *slogLogger) Errorf(format string, args ...any) { l.logf(slog.LevelError, format, args...) }
