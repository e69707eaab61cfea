// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Filipe Johansson

package gocollab

import (
	"errors"
	"fmt"
)

var (
	// Handler/Server configuration errors
	ErrMaxConnectionsLessThanOne = errors.New("max connections must be greater than 0")
	ErrMessageSizeLessThanOne    = errors.New("message size must be greater than 0")
	ErrTimeoutsLessThanOne       = errors.New("read and write timeouts must be greater than 0")
	ErrPingPongLessThanOne       = errors.New("ping and pong wait periods must be greater than 0")
	ErrPongWaitLessThanPing      = errors.New("pong wait must be greater than ping period")
	ErrSendBufferLessThanOne     = errors.New("send buffer size must be greater than 0")
	ErrRateLimitLessThanOne      = errors.New("rate limit rates and bursts must be greater than 0")
	ErrInvalidPort               = errors.New("invalid port")
	ErrRouterIsNil               = errors.New("router is nil")

	// Connection errors
	ErrSendBufferFull       = errors.New("connection send buffer is full")
	ErrConnectionClosed     = errors.New("connection is closed")
	ErrMaxConnReached       = errors.New("maximum number of connections reached")
	ErrMaxConnPerIPReached  = errors.New("maximum number of connections per IP reached")
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
	ErrUpgradeFailed        = errors.New("websocket upgrade failed")
	ErrServerAlreadyRunning = errors.New("server is already running")
	ErrServerNotRunning     = errors.New("server is not running")

	// Room/Session errors
	ErrRoomClosed     = errors.New("room is closed")
	ErrSessionClosed  = errors.New("session is closed")
	ErrNotJoined      = errors.New("not joined to a project")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrUnknownEvent   = errors.New("unknown event")

	// Relay errors
	ErrRelayClosed = errors.New("relay is closed")
)

func newInvalidPayloadError(event string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInvalidPayload, event, err)
}

func newMissingFieldError(event, field string) error {
	return fmt.Errorf("%w: %s: missing %q", ErrInvalidPayload, event, field)
}

func newUnknownEventError(event string) error {
	return fmt.Errorf("%w: %q", ErrUnknownEvent, event)
}

func newMaxConnPerIpReachedError(ip string) error {
	return fmt.Errorf("%w: %s", ErrMaxConnPerIPReached, ip)
}

// NewUpgradeFailedError wraps a websocket upgrade failure.
func NewUpgradeFailedError(err error) error {
	return fmt.Errorf("%w: %w", ErrUpgradeFailed, err)
}

// NewInvalidPortError reports a port outside 1-65535.
func NewInvalidPortError(port int) error {
	return fmt.Errorf("%w: %d", ErrInvalidPort, port)
}
