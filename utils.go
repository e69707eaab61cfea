// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Filipe Johansson

package gocollab

import (
	"runtime/debug"

	"github.com/google/uuid"
)

// Conn is one live event channel to a client as seen by rooms and sessions.
type Conn interface {
	// ID is the unique identifier assigned by the transport.
	ID() string

	// Send queues an encoded frame without blocking.
	Send(frame []byte) error
}

// ConnectionInfo describes the HTTP request a connection was upgraded from.
type ConnectionInfo struct {
	ClientIP  string
	UserAgent string
	Origin    string
	RequestID string
}

func GenerateConnectionID() string {
	return "conn_" + uuid.NewString()
}

func GenerateRequestID() string {
	return "req_" + uuid.NewString()
}

// SafeGo runs fn in a goroutine, logging instead of crashing on panic.
func SafeGo(logger *LoggerConfig, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Log(LogTypeError, LogLevelError, "PANIC RECOVERED in %s: %v\nStack trace:\n%s",
					name, r, string(debug.Stack()))
			}
		}()
		fn()
	}()
}
