// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Filipe Johansson

package gocollab

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type RateLimiter interface {
	// Allow reports whether one more inbound event from connID at ip fits
	// both the per-connection and the per-IP budget.
	Allow(connID, ip string) bool

	// Forget drops the per-connection state of a closed connection.
	Forget(connID string)

	Stop()
}

// RateLimiterManager keeps token buckets per connection and per client IP.
// Idle buckets are evicted in the background until Stop.
type RateLimiterManager struct {
	config RateLimiterConfig

	clientsMu sync.Mutex
	clients   map[string]*limiterEntry

	ipsMu sync.Mutex
	ips   map[string]*limiterEntry

	quit     chan struct{}
	stopOnce sync.Once
}

func NewRateLimiterManager(config RateLimiterConfig) *RateLimiterManager {
	defaults := DefaultRateLimiterConfig()
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}
	if config.EntryTTL <= 0 {
		config.EntryTTL = defaults.EntryTTL
	}

	rl := &RateLimiterManager{
		config:  config,
		clients: make(map[string]*limiterEntry),
		ips:     make(map[string]*limiterEntry),
		quit:    make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

func (r *RateLimiterManager) Config() RateLimiterConfig {
	return r.config
}

func (r *RateLimiterManager) Allow(connID, ip string) bool {
	// both buckets are always charged
	client := r.AllowClient(connID)
	addr := r.AllowIP(ip)
	return client && addr
}

// AllowClient returns true if the connection with the given id has a token.
func (r *RateLimiterManager) AllowClient(connID string) bool {
	if connID == "" {
		connID = "__empty__"
	}
	return allow(&r.clientsMu, r.clients, connID, r.config.PerClientRate, r.config.PerClientBurst)
}

// AllowIP returns true if the IP has a token. ip should be canonical
// (host part only).
func (r *RateLimiterManager) AllowIP(ip string) bool {
	if ip == "" {
		ip = "__unknown_ip__"
	}
	return allow(&r.ipsMu, r.ips, ip, r.config.PerIPRate, r.config.PerIPBurst)
}

// AllowNetAddr extracts the host of addr and calls AllowIP.
func (r *RateLimiterManager) AllowNetAddr(addr net.Addr) bool {
	if addr == nil {
		return r.AllowIP("")
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return r.AllowIP(addr.String())
	}
	return r.AllowIP(host)
}

func (r *RateLimiterManager) Forget(connID string) {
	r.clientsMu.Lock()
	delete(r.clients, connID)
	r.clientsMu.Unlock()
}

// Tracked returns the number of connection and IP buckets held.
func (r *RateLimiterManager) Tracked() (clients, ips int) {
	r.clientsMu.Lock()
	clients = len(r.clients)
	r.clientsMu.Unlock()

	r.ipsMu.Lock()
	ips = len(r.ips)
	r.ipsMu.Unlock()
	return clients, ips
}

func (r *RateLimiterManager) Stop() {
	r.stopOnce.Do(func() {
		close(r.quit)
	})
}

func allow(mu *sync.Mutex, entries map[string]*limiterEntry, key string, limit float64, burst int) bool {
	mu.Lock()
	entry, ok := entries[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(limit), burst)}
		entries[key] = entry
	}
	entry.lastSeen = time.Now()
	lim := entry.limiter
	mu.Unlock()

	return lim.Allow()
}

func (r *RateLimiterManager) cleanupLoop() {
	t := time.NewTicker(r.config.CleanupInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			r.cleanup(time.Now())
		case <-r.quit:
			return
		}
	}
}

func (r *RateLimiterManager) cleanup(now time.Time) {
	threshold := now.Add(-r.config.EntryTTL)

	r.clientsMu.Lock()
	for k, v := range r.clients {
		if v.lastSeen.Before(threshold) {
			delete(r.clients, k)
		}
	}
	r.clientsMu.Unlock()

	r.ipsMu.Lock()
	for k, v := range r.ips {
		if v.lastSeen.Before(threshold) {
			delete(r.ips, k)
		}
	}
	r.ipsMu.Unlock()
}
