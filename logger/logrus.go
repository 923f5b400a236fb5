package logger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// LogrusLogger implements Interface on top of logrus.
type LogrusLogger struct {
	Logger                    *logrus.Logger
	LogLevel                  LogLevel
	SlowThreshold             time.Duration
	Parameterized             bool
	IgnoreRecordNotFoundError bool
}

// NewLogrus wraps an existing logrus logger.
func NewLogrus(logger *logrus.Logger, config Config) Interface {
	return &LogrusLogger{
		Logger:                    logger,
		LogLevel:                  config.LogLevel,
		SlowThreshold:             config.SlowThreshold,
		Parameterized:             config.ParameterizedQueries,
		IgnoreRecordNotFoundError: config.IgnoreRecordNotFoundError,
	}
}

// LogMode returns a copy at the given level.
func (l *LogrusLogger) LogMode(level LogLevel) Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

// Info logs info messages
func (l *LogrusLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= Info {
		l.Logger.WithContext(ctx).WithFields(logrus.Fields{
			"file": fileWithLineNum(),
			"data": data,
		}).Info(msg)
	}
}

// Warn logs warning messages
func (l *LogrusLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= Warn {
		l.Logger.WithContext(ctx).WithFields(logrus.Fields{
			"file": fileWithLineNum(),
			"data": data,
		}).Warn(msg)
	}
}

// Error logs error messages
func (l *LogrusLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= Error {
		l.Logger.WithContext(ctx).WithFields(logrus.Fields{
			"file": fileWithLineNum(),
			"data": data,
		}).Error(msg)
	}
}

// Trace logs SQL execution details
func (l *LogrusLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := logrus.Fields{
		"file":     fileWithLineNum(),
		"duration": fmt.Sprintf("%.3fms", float64(elapsed.Nanoseconds())/1e6),
		"sql":      sql,
	}
	if rows != -1 {
		fields["rows"] = rows
	}

	entry := l.Logger.WithContext(ctx).WithFields(fields)

	switch {
	case err != nil && l.LogLevel >= Error && (!l.IgnoreRecordNotFoundError || !errors.Is(err, ErrRecordNotFound)):
		entry.WithField("error", err.Error()).Error("SQL executed")
	case l.SlowThreshold != 0 && elapsed > l.SlowThreshold && l.LogLevel >= Warn:
		entry.WithField("slow_threshold", l.SlowThreshold.String()).Warn("SLOW SQL executed")
	case l.LogLevel >= Info:
		entry.Info("SQL executed")
	}
}

// ParamsFilter redacts bound parameters when parameterized logging is on.
func (l *LogrusLogger) ParamsFilter(ctx context.Context, sql string, params ...any) (string, []any) {
	if l.Parameterized {
		return sql, nil
	}
	return sql, params
}
