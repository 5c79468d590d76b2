package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu     sync.RWMutex
	logger *log.Logger
)

// Options controls where and how verbosely the sync layer logs
type Options struct {
	Level   string
	File    string
	Verbose bool
	Stderr  bool
}

// Init initializes the logger. An empty File logs to stderr only.
func Init(opts Options) {
	var out io.Writer = os.Stderr
	if opts.File != "" {
		// Rotate the log file so long-running watchers don't grow it forever
		rotating := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    20, // megabytes
			MaxBackups: 3,
			MaxAge:     7, // days
			Compress:   true,
		}
		out = rotating
		if opts.Stderr {
			out = io.MultiWriter(rotating, os.Stderr)
		}
	}

	l := log.NewWithOptions(out, log.Options{
		ReportTimestamp: true,
		Prefix:          "clientsync",
	})
	l.SetLevel(parseLevel(opts.Level))
	if opts.Verbose {
		l.SetLevel(log.DebugLevel)
	}

	mu.Lock()
	logger = l
	mu.Unlock()
}

// SetOutput replaces the logger with one writing to w at debug level
func SetOutput(w io.Writer) {
	l := log.New(w)
	l.SetLevel(log.DebugLevel)

	mu.Lock()
	logger = l
	mu.Unlock()
}

func parseLevel(level string) log.Level {
	switch strings.ToLower(level) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

func current() *log.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Debug logs a debug message
func Debug(msg string, args ...interface{}) {
	if l := current(); l != nil {
		l.Debug(msg, args...)
	}
}

// Info logs an info message
func Info(msg string, args ...interface{}) {
	if l := current(); l != nil {
		l.Info(msg, args...)
	}
}

// Warn logs a warning message
func Warn(msg string, args ...interface{}) {
	if l := current(); l != nil {
		l.Warn(msg, args...)
	}
}

// Error logs an error message
func Error(msg string, args ...interface{}) {
	if l := current(); l != nil {
		l.Error(msg, args...)
	}
}

// Fatal logs a fatal message and exits
func Fatal(msg string, args ...interface{}) {
	if l := current(); l != nil {
		l.Fatal(msg, args...)
	} else {
		os.Exit(1)
	}
}

// GetLogger returns the logger instance
func GetLogger() *log.Logger {
	return current()
}
