package logger

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ZerologLogger implements Interface on top of zerolog.
type ZerologLogger struct {
	Logger                    zerolog.Logger
	LogLevel                  LogLevel
	SlowThreshold             time.Duration
	Parameterized             bool
	IgnoreRecordNotFoundError bool
}

// NewZerolog wraps an existing zerolog.Logger.
func NewZerolog(logger zerolog.Logger, config Config) Interface {
	return &ZerologLogger{
		Logger:                    logger,
		LogLevel:                  config.LogLevel,
		SlowThreshold:             config.SlowThreshold,
		Parameterized:             config.ParameterizedQueries,
		IgnoreRecordNotFoundError: config.IgnoreRecordNotFoundError,
	}
}

// NewZerologWithConfig builds a console-writer zerolog logger from config.
func NewZerologWithConfig(config Config) Interface {
	consoleWriter := zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
		w.Out = os.Stdout
		w.TimeFormat = time.RFC3339
	})
	logger := zerolog.New(consoleWriter).
		Level(zerologLevel(config.LogLevel)).
		With().
		Timestamp().
		Logger()

	return NewZerolog(logger, config)
}

// LogMode returns a copy at the given level.
func (l *ZerologLogger) LogMode(level LogLevel) Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

// Info logs info messages
func (l *ZerologLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= Info {
		l.Logger.Info().Ctx(ctx).Str("file", fileWithLineNum()).Interface("data", data).Msg(msg)
	}
}

// Warn logs warning messages
func (l *ZerologLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= Warn {
		l.Logger.Warn().Ctx(ctx).Str("file", fileWithLineNum()).Interface("data", data).Msg(msg)
	}
}

// Error logs error messages
func (l *ZerologLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= Error {
		l.Logger.Error().Ctx(ctx).Str("file", fileWithLineNum()).Interface("data", data).Msg(msg)
	}
}

// Trace logs SQL execution details
func (l *ZerologLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	event := func(e *zerolog.Event) *zerolog.Event {
		e = e.Ctx(ctx).
			Str("file", fileWithLineNum()).
			Dur("duration", elapsed).
			Str("sql", sql)
		if rows != -1 {
			e = e.Int64("rows", rows)
		}
		return e
	}

	switch {
	case err != nil && l.LogLevel >= Error && (!l.IgnoreRecordNotFoundError || !errors.Is(err, ErrRecordNotFound)):
		event(l.Logger.Error()).Err(err).Msg("SQL executed")
	case l.SlowThreshold != 0 && elapsed > l.SlowThreshold && l.LogLevel >= Warn:
		event(l.Logger.Warn()).Dur("slow_threshold", l.SlowThreshold).Msg("SLOW SQL executed")
	case l.LogLevel >= Info:
		event(l.Logger.Info()).Msg("SQL executed")
	}
}

// ParamsFilter redacts bound parameters when parameterized logging is on.
func (l *ZerologLogger) ParamsFilter(ctx context.Context, sql string, params ...any) (string, []any) {
	if l.Parameterized {
		return sql, nil
	}
	return sql, params
}

// zerologLevel maps LogLevel onto zerolog levels.
func zerologLevel(level LogLevel) zerolog.Level {
	switch level {
	case Silent:
		return zerolog.Disabled
	case Error:
		return zerolog.ErrorLevel
	case Warn:
		return zerolog.WarnLevel
	case Info:
		return zerolog.InfoLevel
	default:
		return zerolog.WarnLevel
	}
}
