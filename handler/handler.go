// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Filipe Johansson

package handler

import (
	"errors"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/FilipeJohansson/gocollab"
	"github.com/gorilla/websocket"
)

type Option func(*Handler) error

// Handler upgrades HTTP requests to websocket connections and feeds their
// frames to a collaboration router.
type Handler struct {
	router *gocollab.Router
	config *gocollab.HandlerConfig
	logger *gocollab.LoggerConfig

	upgrader       websocket.Upgrader
	connectionPool *gocollab.ConnectionPool
	rateLimiter    *gocollab.RateLimiterManager
	rateLimitOff   bool

	conns *gocollab.SharedCollection[string, *Conn]
}

// NewHandler returns a Handler for router with the default configuration:
// up to 1000 connections (50 per IP), 512KB frames and rate limiting on.
func NewHandler(router *gocollab.Router, options ...Option) (*Handler, error) {
	if router == nil {
		return nil, gocollab.ErrRouterIsNil
	}

	h := &Handler{
		router: router,
		config: gocollab.DefaultHandlerConfig(),
		logger: router.Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns: gocollab.NewSharedCollection[string, *Conn](),
	}

	for _, o := range options {
		if err := o(h); err != nil {
			return nil, err
		}
	}

	h.upgrader.CheckOrigin = h.checkOrigin
	h.connectionPool = gocollab.NewConnectionPool(h.config.MaxConnections, h.config.MaxConnectionsPerIP)
	if !h.rateLimitOff {
		h.rateLimiter = gocollab.NewRateLimiterManager(h.config.RateLimit)
	}

	h.log(gocollab.LogTypeConnection, gocollab.LogLevelInfo,
		"handler ready: max_total=%d, max_per_ip=%d, rate_limit=%t",
		h.config.MaxConnections, h.config.MaxConnectionsPerIP, h.rateLimiter != nil)

	return h, nil
}

func (h *Handler) Config() gocollab.HandlerConfig {
	return *h.config
}

func (h *Handler) Router() *gocollab.Router {
	return h.router
}

// Connections returns the number of open websocket connections.
func (h *Handler) Connections() int {
	return h.conns.Len()
}

func (h *Handler) GetConnectionStats() (int, map[string]int) {
	return h.connectionPool.GetStats()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.HandleWebSocket(w, r)
}

// HandleWebSocket upgrades the request, opens a router session for the new
// connection and starts its read and write pumps.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			h.log(gocollab.LogTypeError, gocollab.LogLevelError, "PANIC RECOVERED in HandleWebSocket: %v\nStack trace:\n%s", rec, string(debug.Stack()))
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	}()

	clientIP := getClientIPFromRequest(r)

	if err := h.connectionPool.AcquireConnection(clientIP); err != nil {
		h.log(gocollab.LogTypeConnection, gocollab.LogLevelWarn, "connection rejected for %s: %v", clientIP, err)
		http.Error(w, "Too many connections", http.StatusTooManyRequests)
		return
	}

	if h.rateLimiter != nil && !h.rateLimiter.AllowIP(clientIP) {
		h.connectionPool.ReleaseConnection(clientIP)
		h.log(gocollab.LogTypeRateLimit, gocollab.LogLevelInfo, "upgrade rate limited for %s", clientIP)
		http.Error(w, gocollab.ErrRateLimitExceeded.Error(), http.StatusTooManyRequests)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.connectionPool.ReleaseConnection(clientIP)
		h.log(gocollab.LogTypeConnection, gocollab.LogLevelWarn, "%v", gocollab.NewUpgradeFailedError(err))
		return
	}

	info := gocollab.ConnectionInfo{
		ClientIP:  clientIP,
		UserAgent: r.UserAgent(),
		Origin:    r.Header.Get("Origin"),
		RequestID: gocollab.GenerateRequestID(),
	}
	conn := newConn(gocollab.GenerateConnectionID(), ws, info, h.config.SendBufferSize)

	ws.SetReadLimit(h.config.MessageSize)
	if err := ws.SetReadDeadline(time.Now().Add(h.config.PongWait)); err != nil {
		h.connectionPool.ReleaseConnection(clientIP)
		_ = ws.Close()
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.config.PongWait))
	})

	h.conns.AddIfAbsent(conn.ID(), conn)
	session := h.router.Open(conn)
	h.log(gocollab.LogTypeConnection, gocollab.LogLevelInfo, "%s connected from %s", conn.ID(), clientIP)

	gocollab.SafeGo(h.logger, "ConnWrite", func() {
		h.writePump(conn)
	})

	gocollab.SafeGo(h.logger, "ConnRead", func() {
		h.readPump(conn, session)
	})
}

// Shutdown closes every open connection and stops the rate limiter.
// Sessions are closed by the read pumps as the sockets go away.
func (h *Handler) Shutdown() {
	h.conns.ForEach(func(_ string, c *Conn) {
		c.closeWith(websocket.CloseGoingAway, "server shutdown", h.config.WriteTimeout)
	})
	if h.rateLimiter != nil {
		h.rateLimiter.Stop()
	}
}

// writePump drains the connection's queue and keeps it alive with pings.
func (h *Handler) writePump(conn *Conn) {
	ticker := time.NewTicker(h.config.PingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-conn.done:
			return

		case frame := <-conn.send:
			if err := conn.ws.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout)); err != nil {
				return
			}
			if err := conn.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.log(gocollab.LogTypeMessage, gocollab.LogLevelDebug, "%s write error: %v", conn.ID(), err)
				return
			}
			h.log(gocollab.LogTypeMessage, gocollab.LogLevelDebug, "%s wrote: %s", conn.ID(), frame)

		case <-ticker.C:
			if err := conn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.config.WriteTimeout)); err != nil {
				h.log(gocollab.LogTypeMessage, gocollab.LogLevelDebug, "%s ping error: %v", conn.ID(), err)
				return
			}
		}
	}
}

// readPump dispatches frames in arrival order. Its exit is the only place a
// session is closed by the transport, so every disconnect reaches the router
// exactly once.
func (h *Handler) readPump(conn *Conn, session *gocollab.Session) {
	defer h.cleanup(conn, session)

	maxViolations := h.config.RateLimit.MaxRateLimitViolations
	violations := 0

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log(gocollab.LogTypeError, gocollab.LogLevelDebug, "%s read error: %v", conn.ID(), err)
			}
			return
		}

		if err := conn.ws.SetReadDeadline(time.Now().Add(h.config.PongWait)); err != nil {
			return
		}

		if h.rateLimiter != nil && !h.rateLimiter.Allow(conn.ID(), conn.info.ClientIP) {
			violations++
			h.log(gocollab.LogTypeRateLimit, gocollab.LogLevelInfo, "rate limit exceeded for %s (%d/%d violations)", conn.ID(), violations, maxViolations)
			if maxViolations > 0 && violations >= maxViolations {
				conn.closeWith(websocket.CloseTryAgainLater, gocollab.ErrRateLimitExceeded.Error(), h.config.WriteTimeout)
				return
			}
			continue
		}

		h.log(gocollab.LogTypeMessage, gocollab.LogLevelDebug, "%s read: %s", conn.ID(), data)
		if err := session.Dispatch(data); err != nil && !errors.Is(err, gocollab.ErrInvalidPayload) && !errors.Is(err, gocollab.ErrUnknownEvent) {
			h.log(gocollab.LogTypeSession, gocollab.LogLevelDebug, "%s dispatch: %v", conn.ID(), err)
		}
	}
}

func (h *Handler) cleanup(conn *Conn, session *gocollab.Session) {
	defer func() {
		if rec := recover(); rec != nil {
			h.log(gocollab.LogTypeError, gocollab.LogLevelError, "PANIC RECOVERED in cleanup for %s: %v", conn.ID(), rec)
		}
	}()

	session.Close()
	conn.Close()
	h.conns.Remove(conn.ID())
	h.connectionPool.ReleaseConnection(conn.info.ClientIP)
	if h.rateLimiter != nil {
		h.rateLimiter.Forget(conn.ID())
	}
	h.log(gocollab.LogTypeConnection, gocollab.LogLevelInfo, "%s disconnected", conn.ID())
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}

	origin := r.Header.Get("Origin")
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || origin == allowed {
			return true
		}
	}
	return false
}

func (h *Handler) log(logType gocollab.LogType, level gocollab.LogLevel, msg string, args ...interface{}) {
	h.logger.Log(logType, level, msg, args...)
}

// ===== Functional Options =====

// WithMaxConnections sets the maximum number of concurrent connections.
func WithMaxConnections(max int) Option {
	return func(h *Handler) error {
		if max <= 0 {
			return gocollab.ErrMaxConnectionsLessThanOne
		}
		h.config.MaxConnections = max
		return nil
	}
}

// WithMaxConnectionsPerIP caps connections per client IP. 0 disables the cap.
func WithMaxConnectionsPerIP(max int) Option {
	return func(h *Handler) error {
		if max < 0 {
			return gocollab.ErrMaxConnectionsLessThanOne
		}
		h.config.MaxConnectionsPerIP = max
		return nil
	}
}

// WithMessageSize sets the largest inbound frame accepted, in bytes.
func WithMessageSize(size int64) Option {
	return func(h *Handler) error {
		if size <= 0 {
			return gocollab.ErrMessageSizeLessThanOne
		}
		h.config.MessageSize = size
		return nil
	}
}

func WithTimeout(read, write time.Duration) Option {
	return func(h *Handler) error {
		if read <= 0 || write <= 0 {
			return gocollab.ErrTimeoutsLessThanOne
		}
		h.config.ReadTimeout = read
		h.config.WriteTimeout = write
		return nil
	}
}

// WithPingPong sets how often pings are sent and how long to wait for the
// pong. pongWait must exceed pingPeriod.
func WithPingPong(pingPeriod, pongWait time.Duration) Option {
	return func(h *Handler) error {
		if pingPeriod <= 0 || pongWait <= 0 {
			return gocollab.ErrPingPongLessThanOne
		}
		if pongWait <= pingPeriod {
			return gocollab.ErrPongWaitLessThanPing
		}
		h.config.PingPeriod = pingPeriod
		h.config.PongWait = pongWait
		return nil
	}
}

// WithAllowedOrigins restricts the Origin header accepted on upgrade.
// An empty list allows any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Handler) error {
		h.config.AllowedOrigins = origins
		return nil
	}
}

// WithSendBufferSize sets how many frames may wait for a slow client.
func WithSendBufferSize(size int) Option {
	return func(h *Handler) error {
		if size <= 0 {
			return gocollab.ErrSendBufferLessThanOne
		}
		h.config.SendBufferSize = size
		return nil
	}
}

func WithRateLimit(config gocollab.RateLimiterConfig) Option {
	return func(h *Handler) error {
		if config.PerClientRate <= 0 || config.PerClientBurst <= 0 || config.PerIPRate <= 0 || config.PerIPBurst <= 0 {
			return gocollab.ErrRateLimitLessThanOne
		}
		h.config.RateLimit = config
		h.rateLimitOff = false
		return nil
	}
}

func WithoutRateLimit() Option {
	return func(h *Handler) error {
		h.rateLimitOff = true
		return nil
	}
}

// WithLogger overrides the router's logger for transport events.
func WithLogger(logger *gocollab.LoggerConfig) Option {
	return func(h *Handler) error {
		h.logger = logger
		return nil
	}
}

// getClientIPFromRequest prefers X-Real-IP, then the first X-Forwarded-For
// hop, then the remote address.
func getClientIPFromRequest(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
