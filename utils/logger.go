package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is the minimum severity a Logger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a LOG_LEVEL value to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger provides leveled, printf-style logging throughout the application.
// Console lines are coloured; the optional file sink gets the same lines
// without escape codes.
type Logger struct {
	mu    sync.Mutex
	level Level
	out   *log.Logger
	err   *log.Logger
	file  *log.Logger
}

// NewLogger creates a new Logger writing to stdout/stderr at info level.
func NewLogger() *Logger {
	return &Logger{
		level: LevelInfo,
		out:   log.New(os.Stdout, "", 0),
		err:   log.New(os.Stderr, "", 0),
	}
}

// NewNopLogger discards everything. Used by tests.
func NewNopLogger() *Logger {
	return &Logger{
		level: LevelError + 1,
		out:   log.New(io.Discard, "", 0),
		err:   log.New(io.Discard, "", 0),
	}
}

// SetLevel changes the minimum level emitted.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// MirrorTo adds a plain-text sink, typically an append-mode log file.
func (l *Logger) MirrorTo(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.file = log.New(w, "", 0)
}

func (l *Logger) timestamp() string {
	return time.Now().Format("2006-01-02 15:04:05")
}

func (l *Logger) emit(level Level, tag, colour, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	ts := l.timestamp()

	dst := l.out
	if level == LevelError {
		dst = l.err
	}
	dst.Printf("[%s] %s%-5s\033[0m %s\n", ts, colour, tag, msg)

	if l.file != nil {
		l.file.Printf("[%s] %-5s %s\n", ts, tag, msg)
	}
}

func (l *Logger) Info(format string, args ...any) {
	l.emit(LevelInfo, "INFO", "\033[32m", format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.emit(LevelWarn, "WARN", "\033[33m", format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.emit(LevelError, "ERROR", "\033[31m", format, args...)
}

func (l *Logger) Debug(format string, args ...any) {
	l.emit(LevelDebug, "DEBUG", "\033[36m", format, args...)
}
