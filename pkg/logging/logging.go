package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// LogLevel defines the severity of the log entry.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String makes LogLevel satisfy the fmt.Stringer interface.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo // Default to INFO for unknown
	}
}

// ParseLevel converts a level name to a LogLevel, defaulting to info.
func ParseLevel(s string) LogLevel {
	switch s {
	case "debug", "DEBUG":
		return LevelDebug
	case "warn", "WARN", "warning":
		return LevelWarn
	case "error", "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// LogEntry is the structured log entry delivered to subscribers.
type LogEntry struct {
	Timestamp time.Time
	Level     LogLevel
	Subsystem string
	Message   string
	Err       error
}

var (
	mu            sync.RWMutex
	defaultLogger *slog.Logger
	fileWriter    *rotatingWriter
	subscribers   map[chan LogEntry]struct{}
)

const subscriberBufferSize = 256

// initCommon installs a text handler on the given writer. Called once at
// startup; callers that re-initialize replace the previous handler.
func initCommon(level LogLevel, output io.Writer) {
	opts := &slog.HandlerOptions{
		Level: level.SlogLevel(),
	}
	logger := slog.New(slog.NewTextHandler(output, opts))

	mu.Lock()
	defaultLogger = logger
	mu.Unlock()

	slog.SetDefault(logger)
}

// InitForCLI initializes the logging system for one-shot CLI commands.
func InitForCLI(level LogLevel, output io.Writer) {
	initCommon(level, output)
}

// InitForHub initializes the logging system for the long-running hub
// process: entries go to the console writer and to a size-rotated log file.
// The file is optional; an empty path keeps console-only output.
func InitForHub(level LogLevel, console io.Writer, logFilePath string) error {
	output := console
	if logFilePath != "" {
		rw, err := newRotatingWriter(logFilePath, defaultMaxLogSize, defaultMaxBackups)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", logFilePath, err)
		}
		mu.Lock()
		fileWriter = rw
		mu.Unlock()
		output = io.MultiWriter(console, rw)
	}
	initCommon(level, output)
	return nil
}

// Subscribe registers a listener for all log entries regardless of the
// configured handler level. The returned channel is buffered; entries are
// dropped rather than blocking the logging call path.
func Subscribe() chan LogEntry {
	ch := make(chan LogEntry, subscriberBufferSize)
	mu.Lock()
	if subscribers == nil {
		subscribers = make(map[chan LogEntry]struct{})
	}
	subscribers[ch] = struct{}{}
	mu.Unlock()
	return ch
}

// Unsubscribe removes a listener registered with Subscribe and closes its
// channel.
func Unsubscribe(ch chan LogEntry) {
	mu.Lock()
	if _, ok := subscribers[ch]; ok {
		delete(subscribers, ch)
		close(ch)
	}
	mu.Unlock()
}

// Close flushes and closes the log file, if one is open.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if fileWriter != nil {
		_ = fileWriter.Close()
		fileWriter = nil
	}
}

func logInternal(level LogLevel, subsystem string, err error, messageFmt string, args ...interface{}) {
	mu.RLock()
	logger := defaultLogger
	mu.RUnlock()

	if logger == nil || !logger.Enabled(context.Background(), level.SlogLevel()) {
		// Subscribers still receive entries below the handler level so the
		// SSE log stream can carry debug output without flooding the file.
		if !hasSubscribers() {
			return
		}
	}

	msg := messageFmt
	if len(args) > 0 {
		msg = fmt.Sprintf(messageFmt, args...)
	}
	now := time.Now()

	broadcast(LogEntry{
		Timestamp: now,
		Level:     level,
		Subsystem: subsystem,
		Message:   msg,
		Err:       err,
	})

	if logger == nil {
		fmt.Fprintf(os.Stderr, "[LOGGING_ERROR] Logger not initialized. Log: %s [%s] %s\n", now.Format(time.RFC3339), level, msg)
		return
	}
	if !logger.Enabled(context.Background(), level.SlogLevel()) {
		return
	}

	var slogAttrs []slog.Attr
	slogAttrs = append(slogAttrs, slog.String("subsystem", subsystem))
	if err != nil {
		slogAttrs = append(slogAttrs, slog.String("error", err.Error()))
	}

	logger.LogAttrs(context.Background(), level.SlogLevel(), msg, slogAttrs...)
}

func hasSubscribers() bool {
	mu.RLock()
	defer mu.RUnlock()
	return len(subscribers) > 0
}

func broadcast(entry LogEntry) {
	mu.RLock()
	defer mu.RUnlock()
	for ch := range subscribers {
		select {
		case ch <- entry:
		default:
			// Subscriber is saturated; dropping beats blocking the hub.
		}
	}
}

// Debug logs a debug message.
func Debug(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelDebug, subsystem, nil, messageFmt, args...)
}

// Info logs an informational message.
func Info(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelInfo, subsystem, nil, messageFmt, args...)
}

// Warn logs a warning message.
func Warn(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelWarn, subsystem, nil, messageFmt, args...)
}

// Error logs an error message.
func Error(subsystem string, err error, messageFmt string, args ...interface{}) {
	logInternal(LevelError, subsystem, err, messageFmt, args...)
}
