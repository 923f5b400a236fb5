// Package logger defines the statement logging interface the engine emits
// through, plus ready-made console, zerolog and logrus implementations.
package logger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"
	"time"
)

// ErrRecordNotFound is matched by IgnoreRecordNotFoundError so expected
// absence does not pollute error logs. The root package aliases it.
var ErrRecordNotFound = errors.New("tether: record not found")

// LogLevel controls which messages an Interface implementation emits.
type LogLevel int

const (
	// Silent suppresses all output
	Silent LogLevel = iota + 1
	// Error prints errors only
	Error
	// Warn prints warnings and errors
	Warn
	// Info prints every traced statement plus warnings and errors
	Info
)

// Config carries the knobs shared by all bundled implementations.
type Config struct {
	SlowThreshold             time.Duration
	LogLevel                  LogLevel
	IgnoreRecordNotFoundError bool
	ParameterizedQueries      bool
}

// Interface is what the engine logs through. Trace is called once per
// executed statement with the compiled SQL and affected row count.
type Interface interface {
	LogMode(LogLevel) Interface
	Info(ctx context.Context, msg string, data ...any)
	Warn(ctx context.Context, msg string, data ...any)
	Error(ctx context.Context, msg string, data ...any)
	Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error)
}

// Writer is the sink the console logger prints to.
type Writer interface {
	Printf(string, ...any)
}

var (
	// Default prints to stdout at Warn level.
	Default = New(log.New(os.Stdout, "\r\n", log.LstdFlags), Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  Warn,
		IgnoreRecordNotFoundError: false,
	})

	// Discard drops everything.
	Discard = New(log.New(os.Stdout, "", log.LstdFlags), Config{LogLevel: Silent})
)

// New builds a console logger on top of any Printf-style writer.
func New(writer Writer, config Config) Interface {
	return &consoleLogger{Writer: writer, Config: config}
}

type consoleLogger struct {
	Writer
	Config
}

func (l *consoleLogger) LogMode(level LogLevel) Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

func (l *consoleLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= Info {
		l.Printf("[info] "+msg+" %s", append(data, fileWithLineNum())...)
	}
}

func (l *consoleLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= Warn {
		l.Printf("[warn] "+msg+" %s", append(data, fileWithLineNum())...)
	}
}

func (l *consoleLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= Error {
		l.Printf("[error] "+msg+" %s", append(data, fileWithLineNum())...)
	}
}

func (l *consoleLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && l.LogLevel >= Error && (!l.IgnoreRecordNotFoundError || !errors.Is(err, ErrRecordNotFound)):
		sql, rows := fc()
		l.Printf("%s [%.3fms] [rows:%d] %s | %v", fileWithLineNum(), float64(elapsed.Nanoseconds())/1e6, rows, sql, err)
	case l.SlowThreshold != 0 && elapsed > l.SlowThreshold && l.LogLevel >= Warn:
		sql, rows := fc()
		l.Printf("%s [SLOW >= %v] [%.3fms] [rows:%d] %s", fileWithLineNum(), l.SlowThreshold, float64(elapsed.Nanoseconds())/1e6, rows, sql)
	case l.LogLevel >= Info:
		sql, rows := fc()
		l.Printf("%s [%.3fms] [rows:%d] %s", fileWithLineNum(), float64(elapsed.Nanoseconds())/1e6, rows, sql)
	}
}

// fileWithLineNum returns the first caller frame outside this module.
func fileWithLineNum() string {
	for i := 3; i < 15; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if !strings.Contains(file, "tetherorm/tether") || strings.HasSuffix(file, "_test.go") {
			return fmt.Sprintf("%s:%d", file, line)
		}
	}
	return ""
}
