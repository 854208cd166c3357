package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
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

var (
	fileLoggerInstance *FileLogger
	fileLoggerOnce     sync.Once
)

// FileLogger writes component-tagged lines to the shared debug log file.
//
// The TUI owns stdout, so the file is the only sink; secrets are redacted
// before any line is written.
type FileLogger struct {
	file      *os.File
	logger    *log.Logger
	level     Level
	mu        sync.Mutex
	component string
}

// DefaultLogPath returns the debug log location under the user's home.
func DefaultLogPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "pixlift-debug.log")
	}
	return filepath.Join(home, ".pixlift", "debug.log")
}

// sharedFileLogger returns the singleton backing logger.
func sharedFileLogger() *FileLogger {
	fileLoggerOnce.Do(func() {
		fileLoggerInstance = newFileLogger(DefaultLogPath(), LevelDebug)
	})
	return fileLoggerInstance
}

// NewComponentLogger returns a file logger scoped to a component tag.
func NewComponentLogger(component string) *FileLogger {
	shared := sharedFileLogger()
	return &FileLogger{
		file:      shared.file,
		logger:    shared.logger,
		level:     shared.level,
		component: component,
	}
}

func newFileLogger(path string, level Level) *FileLogger {
	l := &FileLogger{level: level}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return l
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return l
	}

	l.file = file
	l.logger = log.New(file, "", 0) // lines are formatted here, not by log
	return l
}

// SetLevel sets the minimum level for this component logger.
func (l *FileLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Close closes the underlying log file.
func (l *FileLogger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *FileLogger) log(level Level, format string, args ...any) {
	if level < l.level || l.logger == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	} else {
		file = "???"
		line = 0
	}

	// Format: 2025-09-30 12:34:56 [INFO] [Component] file.go:123 - Message
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	component := l.component
	if component == "" {
		component = "PIXLIFT"
	}

	message := fmt.Sprintf(format, args...)
	logLine := fmt.Sprintf("%s [%s] [%s] %s:%d - %s\n",
		timestamp, levelToString(level), component, file, line, message)

	l.logger.Print(sanitizeLogLine(logLine))
}

func (l *FileLogger) Debug(format string, args ...any) {
	l.log(LevelDebug, format, args...)
}

func (l *FileLogger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

func (l *FileLogger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

func (l *FileLogger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

func levelToString(level Level) string {
	switch level {
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

const redactedPlaceholder = "[REDACTED]"

var (
	authorizationBearerPattern = regexp.MustCompile(
		`(?i)((?:"|')?authorization(?:"|')?\s*(?:=|:)\s*)(bearer\s+)([^"'\s,;]+)`,
	)
	sensitiveKeyValuePattern = regexp.MustCompile(
		`(?i)((?:"|')?(?:api[_-]?key|auth[_-]?token|access[_-]?token|token|secret|password|credential)(?:"|')?\s*(?:=|:)\s*)(?:"|')?([^"'\s,;]+)((?:"|')?)`,
	)
	bearerTokenPattern = regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9\-\._~+/]+=*)`)
)

func sanitizeLogLine(line string) string {
	sanitized := authorizationBearerPattern.ReplaceAllStringFunc(line, func(match string) string {
		submatches := authorizationBearerPattern.FindStringSubmatch(match)
		if len(submatches) != 4 {
			return match
		}
		return submatches[1] + submatches[2] + redactedPlaceholder
	})

	sanitized = sensitiveKeyValuePattern.ReplaceAllStringFunc(sanitized, func(match string) string {
		submatches := sensitiveKeyValuePattern.FindStringSubmatch(match)
		if len(submatches) != 4 {
			return match
		}
		return submatches[1] + redactedPlaceholder + submatches[3]
	})

	sanitized = bearerTokenPattern.ReplaceAllStringFunc(sanitized, func(match string) string {
		parts := bearerTokenPattern.FindStringSubmatch(match)
		if len(parts) != 3 {
			return match
		}
		return parts[1] + redactedPlaceholder
	})

	return sanitized
}
