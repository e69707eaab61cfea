// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Filipe Johansson

package gocollab

import (
	"time"
)

type RateLimiterConfig struct {
	PerClientRate  float64 // events per second per connection
	PerClientBurst int
	PerIPRate      float64 // events per second per client IP
	PerIPBurst     int

	// MaxRateLimitViolations is how many rejected reads a connection may
	// accumulate before it is closed.
	MaxRateLimitViolations int

	CleanupInterval time.Duration
	EntryTTL        time.Duration
}

type HandlerConfig struct {
	MaxConnections      int
	MaxConnectionsPerIP int
	MessageSize         int64
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	PingPeriod          time.Duration
	PongWait            time.Duration
	AllowedOrigins      []string
	SendBufferSize      int // frames queued per connection before it is dropped
	RateLimit           RateLimiterConfig
}

type ServerConfig struct {
	Port            int
	Path            string
	EnableCORS      bool
	AllowedOrigins  []string
	EnableSSL       bool
	CertFile        string
	KeyFile         string
	ShutdownTimeout time.Duration
}

func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            8080,
		Path:            "/ws",
		EnableCORS:      true,
		EnableSSL:       false,
		ShutdownTimeout: 5 * time.Second,
	}
}

func DefaultHandlerConfig() *HandlerConfig {
	return &HandlerConfig{
		MaxConnections:      1000,
		MaxConnectionsPerIP: 50,
		MessageSize:         512 * 1024,
		ReadTimeout:         60 * time.Second,
		WriteTimeout:        10 * time.Second,
		PingPeriod:          54 * time.Second,
		PongWait:            60 * time.Second,
		SendBufferSize:      256,
		RateLimit:           DefaultRateLimiterConfig(),
	}
}

// DefaultRateLimiterConfig allows sustained cursor and typing traffic with
// short bursts for pasted code.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		PerClientRate:          30,
		PerClientBurst:         60,
		PerIPRate:              200,
		PerIPBurst:             400,
		MaxRateLimitViolations: 20,
		CleanupInterval:        time.Minute,
		EntryTTL:               5 * time.Minute,
	}
}
