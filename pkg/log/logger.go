// Leveled logging for the ball-on-plate nodes.
//
// Provides a small logging facade with:
// - Log levels (DEBUG, INFO, WARN, ERROR)
// - Per-component loggers with prefixes
// - A commit callback so a node can forward its log lines over the
//   network (the router wraps them into LogCommit messages)
// - A truncation hook fired when a formatted line exceeds the payload
//   budget of a forwarded log entry
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// MaxPayload is the largest formatted log line that can be committed
// downstream. Longer lines are truncated and the truncation hook fires.
const MaxPayload = 200

// Level represents the severity of a log message
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

// String returns the string representation of the log level
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DBG"
	case INFO:
		return "INF"
	case WARN:
		return "WRN"
	case ERROR:
		return "ERR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a string into a Level
func ParseLevel(s string) Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// CommitCallback receives every formatted line at or above the logger's
// level. The line is already truncated to MaxPayload.
type CommitCallback func(level Level, line string)

// TruncationHook is called when a formatted message exceeds MaxPayload,
// with the original length and the truncated text.
type TruncationHook func(originalLen int, truncated string)

// Logger is the main logging type
type Logger struct {
	mu         sync.Mutex
	prefix     string
	writer     io.Writer
	level      Level
	timeFormat string
	commit     CommitCallback
	truncation TruncationHook
}

// New creates a new logger with the given component prefix
func New(prefix string) *Logger {
	return &Logger{
		prefix:     prefix,
		writer:     os.Stderr,
		level:      INFO,
		timeFormat: "2006-01-02 15:04:05.000",
	}
}

// SetLevel sets the minimum log level
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SetWriter sets the output writer (e.g., for testing)
func (l *Logger) SetWriter(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer = w
}

// SetCommitCallback registers a callback invoked with every committed line.
// Pass nil to unregister.
func (l *Logger) SetCommitCallback(cb CommitCallback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commit = cb
}

// SetTruncationHook registers a hook fired on message truncation.
func (l *Logger) SetTruncationHook(hook TruncationHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.truncation = hook
}

// Component returns a child logger sharing this logger's sinks but with
// its own prefix.
func (l *Logger) Component(prefix string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Logger{
		prefix:     prefix,
		writer:     l.writer,
		level:      l.level,
		timeFormat: l.timeFormat,
		commit:     l.commit,
		truncation: l.truncation,
	}
}

func (l *Logger) output(level Level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	msg := fmt.Sprintf(format, args...)
	if len(msg) > MaxPayload {
		if l.truncation != nil {
			l.truncation(len(msg), msg[:MaxPayload])
		}
		msg = msg[:MaxPayload]
	}

	line := fmt.Sprintf("%s %s (%s): %s", time.Now().Format(l.timeFormat), level, l.prefix, msg)
	if l.writer != nil {
		fmt.Fprintln(l.writer, line)
	}
	if l.commit != nil {
		l.commit(level, line)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.output(DEBUG, format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.output(INFO, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.output(WARN, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.output(ERROR, format, args...)
}
