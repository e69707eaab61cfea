// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Filipe Johansson

package gocollab

import (
	"sync"
)

// ConnectionPool caps concurrent connections in total and per client IP.
type ConnectionPool struct {
	maxConnections      int
	maxConnectionsPerIP int
	activeConns         map[string]int // IP -> connection count
	totalActive         int
	mu                  sync.RWMutex
	semaphore           chan struct{} // to limit the number of active connections
}

// NewConnectionPool creates a pool; maxPerIP <= 0 disables the per-IP cap.
func NewConnectionPool(maxTotal, maxPerIP int) *ConnectionPool {
	return &ConnectionPool{
		maxConnections:      maxTotal,
		maxConnectionsPerIP: maxPerIP,
		activeConns:         make(map[string]int),
		semaphore:           make(chan struct{}, maxTotal),
	}
}

func (cp *ConnectionPool) AcquireConnection(clientIP string) error {
	select {
	case cp.semaphore <- struct{}{}:
	default:
		return ErrMaxConnReached
	}

	cp.mu.Lock()
	defer cp.mu.Unlock()

	if cp.maxConnectionsPerIP > 0 && cp.activeConns[clientIP] >= cp.maxConnectionsPerIP {
		<-cp.semaphore
		return newMaxConnPerIpReachedError(clientIP)
	}

	cp.activeConns[clientIP]++
	cp.totalActive++
	return nil
}

// ReleaseConnection frees a slot taken by AcquireConnection. Releasing an IP
// with no active connection does nothing.
func (cp *ConnectionPool) ReleaseConnection(clientIP string) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	count := cp.activeConns[clientIP]
	if count == 0 {
		return
	}
	if count == 1 {
		delete(cp.activeConns, clientIP)
	} else {
		cp.activeConns[clientIP] = count - 1
	}
	cp.totalActive--
	<-cp.semaphore
}

func (cp *ConnectionPool) GetStats() (total int, perIP map[string]int) {
	cp.mu.RLock()
	defer cp.mu.RUnlock()

	ipCopy := make(map[string]int, len(cp.activeConns))
	for ip, count := range cp.activeConns {
		ipCopy[ip] = count
	}

	return cp.totalActive, ipCopy
}
