// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Filipe Johansson

package gocollab

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

type LogType string

const (
	LogTypeServer     LogType = "server"     // for server lifecycle events
	LogTypeRoom       LogType = "room"       // for room creation, presence and removal
	LogTypeSession    LogType = "session"    // for per-connection state transitions
	LogTypeBroadcast  LogType = "broadcast"  // for fan-out to room members
	LogTypeConnection LogType = "connection" // for transport connection events
	LogTypeMessage    LogType = "message"    // for inbound/outbound frames
	LogTypeRelay      LogType = "relay"      // for cross-process fan-out
	LogTypeRateLimit  LogType = "ratelimit"  // for rate limit events
	LogTypeError      LogType = "error"      // for internal errors and connection errors
)

type LogLevel int

const (
	LogLevelNone LogLevel = iota
	LogLevelError
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

// ParseLogLevel maps a textual level to a LogLevel, defaulting to info.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	case "none", "off":
		return LogLevelNone
	default:
		return LogLevelInfo
	}
}

type Logger interface {
	Log(logType LogType, level LogLevel, msg string, args ...interface{})
}

// LoggerConfig pairs a Logger with the maximum level enabled per LogType.
// Types missing from Level are not logged.
type LoggerConfig struct {
	Logger Logger
	Level  map[LogType]LogLevel
}

// DefaultLoggerConfig logs errors and warnings for every type and
// info for room and server lifecycle.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		Logger: NewDefaultLogger(slog.Default()),
		Level: map[LogType]LogLevel{
			LogTypeServer:     LogLevelInfo,
			LogTypeRoom:       LogLevelInfo,
			LogTypeSession:    LogLevelWarn,
			LogTypeBroadcast:  LogLevelWarn,
			LogTypeConnection: LogLevelWarn,
			LogTypeMessage:    LogLevelWarn,
			LogTypeRelay:      LogLevelWarn,
			LogTypeRateLimit:  LogLevelWarn,
			LogTypeError:      LogLevelError,
		},
	}
}

// UniformLoggerConfig enables every LogType up to level.
func UniformLoggerConfig(logger Logger, level LogLevel) *LoggerConfig {
	cfg := &LoggerConfig{Logger: logger, Level: make(map[LogType]LogLevel)}
	for _, t := range []LogType{
		LogTypeServer, LogTypeRoom, LogTypeSession, LogTypeBroadcast, LogTypeConnection,
		LogTypeMessage, LogTypeRelay, LogTypeRateLimit, LogTypeError,
	} {
		cfg.Level[t] = level
	}
	return cfg
}

// Log writes msg when level is enabled for logType. A nil config discards.
func (c *LoggerConfig) Log(logType LogType, level LogLevel, msg string, args ...interface{}) {
	if c == nil || c.Logger == nil {
		return
	}
	lvl, ok := c.Level[logType]
	if !ok {
		lvl = LogLevelNone
	}
	if level != LogLevelNone && level <= lvl {
		c.Logger.Log(logType, level, msg, args...)
	}
}

// DefaultLogger forwards to a slog.Logger, tagging each record with its type.
type DefaultLogger struct {
	slog *slog.Logger
}

func NewDefaultLogger(l *slog.Logger) *DefaultLogger {
	if l == nil {
		l = slog.Default()
	}
	return &DefaultLogger{slog: l}
}

// NewEnvLogger returns JSON logs for prod and text logs otherwise.
func NewEnvLogger(env string) *slog.Logger {
	var handler slog.Handler
	if env == "prod" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	return slog.New(handler)
}

func (l *DefaultLogger) Log(logType LogType, level LogLevel, msg string, args ...interface{}) {
	sl := l.slog
	if sl == nil {
		sl = slog.Default()
	}
	text := fmt.Sprintf(msg, args...)
	switch level {
	case LogLevelError:
		sl.Error(text, "type", string(logType))
	case LogLevelWarn:
		sl.Warn(text, "type", string(logType))
	case LogLevelInfo:
		sl.Info(text, "type", string(logType))
	default:
		sl.Debug(text, "type", string(logType))
	}
}

type NullLogger struct{}

func (l *NullLogger) Log(logType LogType, level LogLevel, msg string, args ...interface{}) {}
