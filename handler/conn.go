// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Filipe Johansson

package handler

import (
	"sync"
	"time"

	"github.com/FilipeJohansson/gocollab"
	"github.com/gorilla/websocket"
)

// Conn is a websocket connection as seen by the collaboration router.
// Frames are queued on a bounded channel and written by a single goroutine.
type Conn struct {
	id   string
	ws   *websocket.Conn
	info gocollab.ConnectionInfo

	send chan []byte
	done chan struct{}

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func newConn(id string, ws *websocket.Conn, info gocollab.ConnectionInfo, bufSize int) *Conn {
	return &Conn{
		id:   id,
		ws:   ws,
		info: info,
		send: make(chan []byte, bufSize),
		done: make(chan struct{}),
	}
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) Info() gocollab.ConnectionInfo {
	return c.info
}

// Send queues frame without blocking. A connection whose queue is full is
// closed; its read pump then runs the disconnect path.
func (c *Conn) Send(frame []byte) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return gocollab.ErrConnectionClosed
	}
	select {
	case c.send <- frame:
		c.mu.RUnlock()
		return nil
	default:
	}
	c.mu.RUnlock()

	c.Close()
	return gocollab.ErrSendBufferFull
}

// Close closes the socket. Safe to call more than once and from any goroutine.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.done)
		c.mu.Unlock()

		_ = c.ws.Close()
	})
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) closeWith(code int, reason string, timeout time.Duration) {
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(timeout))
	c.Close()
}
