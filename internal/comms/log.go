package comms

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"
)

// LogLevel controls engine logging verbosity.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// ParseLogLevel maps a config string to a LogLevel, defaulting to info.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// engineLogger is the leveled logger shared by the engine workers. Each
// component tags its lines with its own name.
type engineLogger struct {
	logger *log.Logger
	level  LogLevel
	name   string
}

func newEngineLogger(logger *log.Logger, level LogLevel, name string) engineLogger {
	if logger == nil {
		logger = log.New(os.Stderr, "", 0)
	}
	return engineLogger{logger: logger, level: level, name: name}
}

func (l engineLogger) named(name string) engineLogger {
	l.name = name
	return l
}

func (l engineLogger) logf(level LogLevel, format string, args ...any) {
	if level < l.level {
		return
	}
	levelStr := "INFO"
	switch level {
	case LogLevelDebug:
		levelStr = "DEBUG"
	case LogLevelWarn:
		levelStr = "WARN"
	case LogLevelError:
		levelStr = "ERROR"
	}
	msg := fmt.Sprintf(format, args...)
	l.logger.Printf("%s %s %s: %s", time.Now().Format(time.RFC3339), levelStr, l.name, msg)
}
