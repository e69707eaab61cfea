// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Filipe Johansson

package gocollab

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) Log(logType LogType, level LogLevel, msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, fmt.Sprintf("%s:%d:%s", logType, level, fmt.Sprintf(msg, args...)))
}

func TestLoggerConfig_Thresholds(t *testing.T) {
	rec := &recordingLogger{}
	cfg := &LoggerConfig{
		Logger: rec,
		Level: map[LogType]LogLevel{
			LogTypeRoom: LogLevelInfo,
		},
	}

	cfg.Log(LogTypeRoom, LogLevelInfo, "room %s created", "P1")
	cfg.Log(LogTypeRoom, LogLevelDebug, "too chatty")
	cfg.Log(LogTypeSession, LogLevelError, "type not configured")
	cfg.Log(LogTypeRoom, LogLevelNone, "never")

	assert.Equal(t, []string{"room:3:room P1 created"}, rec.entries)
}

func TestLoggerConfig_NilIsSafe(t *testing.T) {
	var cfg *LoggerConfig
	assert.NotPanics(t, func() {
		cfg.Log(LogTypeError, LogLevelError, "dropped")
	})
	assert.NotPanics(t, func() {
		(&LoggerConfig{}).Log(LogTypeError, LogLevelError, "dropped")
	})
}

func TestUniformLoggerConfig(t *testing.T) {
	rec := &recordingLogger{}
	cfg := UniformLoggerConfig(rec, LogLevelWarn)

	cfg.Log(LogTypeRelay, LogLevelWarn, "w")
	cfg.Log(LogTypeRateLimit, LogLevelInfo, "i")
	assert.Len(t, rec.entries, 1)
}

func TestDefaultLogger_ForwardsToSlog(t *testing.T) {
	var buf bytes.Buffer
	l := NewDefaultLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	l.Log(LogTypeRoom, LogLevelWarn, "room %s is busy", "P1")
	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, `msg="room P1 is busy"`)
	assert.Contains(t, out, "type=room")
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LogLevelDebug,
		" WARN ":  LogLevelWarn,
		"warning": LogLevelWarn,
		"error":   LogLevelError,
		"off":     LogLevelNone,
		"info":    LogLevelInfo,
		"":        LogLevelInfo,
		"verbose": LogLevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLogLevel(in), in)
	}
}

func TestSafeGo_RecoversPanic(t *testing.T) {
	rec := &recordingLogger{}
	done := make(chan struct{})
	SafeGo(UniformLoggerConfig(rec, LogLevelError), "boom", func() {
		defer close(done)
		panic("kaboom")
	})
	<-done

	assert.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.entries) == 1
	}, time.Second, 10*time.Millisecond)
}
