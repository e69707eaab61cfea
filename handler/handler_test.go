// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Filipe Johansson

package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/FilipeJohansson/gocollab"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) *gocollab.Router {
	t.Helper()
	router, err := gocollab.NewRouter(gocollab.WithLogger(gocollab.UniformLoggerConfig(&gocollab.NullLogger{}, gocollab.LogLevelNone)))
	require.NoError(t, err)
	t.Cleanup(router.Shutdown)
	return router
}

func newTestHandler(t *testing.T, options ...Option) *Handler {
	t.Helper()
	h, err := NewHandler(newTestRouter(t), options...)
	require.NoError(t, err)
	t.Cleanup(h.Shutdown)
	return h
}

func serve(t *testing.T, h http.Handler) string {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	u := url.URL{Scheme: "ws", Host: ts.Listener.Addr().String(), Path: "/ws"}
	return u.String()
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(frame)))
}

// readEvent reads frames until one carries event and decodes its data into v.
func readEvent(t *testing.T, ws *websocket.Conn, event string, v interface{}) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := ws.ReadMessage()
		require.NoError(t, err, "waiting for %s", event)

		var env gocollab.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		if env.Event != event {
			continue
		}
		if v != nil {
			require.NoError(t, json.Unmarshal(env.Data, v))
		}
		return
	}
}

func TestNewHandler(t *testing.T) {
	h := newTestHandler(t)

	assert.NotNil(t, h.Router())
	assert.NotNil(t, h.rateLimiter)
	assert.Equal(t, *gocollab.DefaultHandlerConfig(), h.Config())
	assert.Equal(t, 1024, h.upgrader.ReadBufferSize)
	assert.Equal(t, 1024, h.upgrader.WriteBufferSize)

	_, err := NewHandler(nil)
	assert.ErrorIs(t, err, gocollab.ErrRouterIsNil)
}

func TestHandler_Options(t *testing.T) {
	tests := []struct {
		name    string
		option  Option
		wantErr error
		check   func(t *testing.T, h *Handler)
	}{
		{
			name:   "sets max connections",
			option: WithMaxConnections(5),
			check:  func(t *testing.T, h *Handler) { assert.Equal(t, 5, h.config.MaxConnections) },
		},
		{name: "rejects zero max connections", option: WithMaxConnections(0), wantErr: gocollab.ErrMaxConnectionsLessThanOne},
		{
			name:   "disables per ip cap",
			option: WithMaxConnectionsPerIP(0),
			check:  func(t *testing.T, h *Handler) { assert.Zero(t, h.config.MaxConnectionsPerIP) },
		},
		{name: "rejects negative per ip cap", option: WithMaxConnectionsPerIP(-1), wantErr: gocollab.ErrMaxConnectionsLessThanOne},
		{name: "rejects zero message size", option: WithMessageSize(0), wantErr: gocollab.ErrMessageSizeLessThanOne},
		{name: "rejects zero timeout", option: WithTimeout(0, time.Second), wantErr: gocollab.ErrTimeoutsLessThanOne},
		{name: "rejects zero ping", option: WithPingPong(0, time.Second), wantErr: gocollab.ErrPingPongLessThanOne},
		{name: "rejects pong before ping", option: WithPingPong(time.Minute, time.Second), wantErr: gocollab.ErrPongWaitLessThanPing},
		{
			name:   "sets ping pong",
			option: WithPingPong(time.Second, 2*time.Second),
			check: func(t *testing.T, h *Handler) {
				assert.Equal(t, time.Second, h.config.PingPeriod)
				assert.Equal(t, 2*time.Second, h.config.PongWait)
			},
		},
		{name: "rejects zero send buffer", option: WithSendBufferSize(0), wantErr: gocollab.ErrSendBufferLessThanOne},
		{name: "rejects zero rate", option: WithRateLimit(gocollab.RateLimiterConfig{PerClientBurst: 1, PerIPRate: 1, PerIPBurst: 1}), wantErr: gocollab.ErrRateLimitLessThanOne},
		{
			name:   "disables rate limiting",
			option: WithoutRateLimit(),
			check:  func(t *testing.T, h *Handler) { assert.Nil(t, h.rateLimiter) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := NewHandler(newTestRouter(t), tt.option)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, h)
				return
			}
			require.NoError(t, err)
			defer h.Shutdown()
			tt.check(t, h)
		})
	}
}

func TestHandler_CheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{name: "allows any origin when none configured", origin: "http://example.com", want: true},
		{name: "allows listed origin", allowed: []string{"http://localhost:3000", "https://example.com"}, origin: "https://example.com", want: true},
		{name: "allows wildcard", allowed: []string{"*"}, origin: "http://anything", want: true},
		{name: "blocks unlisted origin", allowed: []string{"http://localhost:3000"}, origin: "http://malicious.com"},
		{name: "blocks missing origin when restricted", allowed: []string{"http://localhost:3000"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, WithAllowedOrigins(tt.allowed))
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, h.upgrader.CheckOrigin(req))
		})
	}
}

func TestHandler_RejectsForbiddenOrigin(t *testing.T) {
	wsURL := serve(t, newTestHandler(t, WithAllowedOrigins([]string{"http://editor.local"})))

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{"http://evil.local"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{"http://editor.local"}})
	require.NoError(t, err)
	_ = ws.Close()
}

func TestHandler_CollaborationFlow(t *testing.T) {
	h := newTestHandler(t)
	wsURL := serve(t, h)

	alice := dial(t, wsURL)
	bob := dial(t, wsURL)

	send(t, alice, `{"event":"join-project","data":{"projectId":"P1","user":"alice"}}`)
	var online []string
	readEvent(t, alice, gocollab.EventOnlineUsers, &online)
	assert.Empty(t, online)

	send(t, bob, `{"event":"join-project","data":{"projectId":"P1","user":"bob"}}`)
	readEvent(t, bob, gocollab.EventOnlineUsers, &online)
	assert.Equal(t, []string{"alice"}, online)

	var joined gocollab.Presence
	readEvent(t, alice, gocollab.EventUserJoined, &joined)
	assert.Equal(t, "bob", joined.User)

	send(t, alice, `{"event":"code-change","data":{"code":"package main","file":"main.go"}}`)
	var change gocollab.CodeChanged
	readEvent(t, bob, gocollab.EventCodeChange, &change)
	assert.Equal(t, gocollab.CodeChanged{Code: "package main", File: "main.go", User: "alice"}, change)

	send(t, bob, `{"event":"send-message","data":{"message":"hi"}}`)
	var chat gocollab.ChatMessage
	readEvent(t, alice, gocollab.EventChatMessage, &chat)
	assert.Equal(t, "bob", chat.User)
	assert.Equal(t, "hi", chat.Message)
	readEvent(t, bob, gocollab.EventChatMessage, &chat)
	assert.Equal(t, "hi", chat.Message)

	assert.Equal(t, 2, h.Connections())
	total, perIP := h.GetConnectionStats()
	assert.Equal(t, 2, total)
	assert.Equal(t, 2, perIP["127.0.0.1"])
}

func TestHandler_DisconnectEmitsUserLeft(t *testing.T) {
	h := newTestHandler(t)
	wsURL := serve(t, h)

	alice := dial(t, wsURL)
	bob := dial(t, wsURL)

	send(t, alice, `{"event":"join-project","data":{"projectId":"P1","user":"alice"}}`)
	readEvent(t, alice, gocollab.EventOnlineUsers, nil)
	send(t, bob, `{"event":"join-project","data":{"projectId":"P1","user":"bob"}}`)
	readEvent(t, bob, gocollab.EventOnlineUsers, nil)

	require.NoError(t, bob.Close())

	var left gocollab.Presence
	readEvent(t, alice, gocollab.EventUserLeft, &left)
	assert.Equal(t, "bob", left.User)

	require.Eventually(t, func() bool {
		return h.Connections() == 1 && h.Router().Stats().ActiveSessions == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_MalformedFrameKeepsConnection(t *testing.T) {
	wsURL := serve(t, newTestHandler(t))
	ws := dial(t, wsURL)

	send(t, ws, `not json`)
	send(t, ws, `{"event":"no-such-event"}`)
	send(t, ws, `{"event":"join-project","data":{"projectId":"P1","user":"alice"}}`)

	var online []string
	readEvent(t, ws, gocollab.EventOnlineUsers, &online)
	assert.Empty(t, online)
}

func TestHandler_ChatBeforeJoinNotice(t *testing.T) {
	wsURL := serve(t, newTestHandler(t))
	ws := dial(t, wsURL)

	send(t, ws, `{"event":"send-message","data":{"message":"hello?"}}`)

	var notice gocollab.ErrorNotice
	readEvent(t, ws, gocollab.EventError, &notice)
	assert.Equal(t, gocollab.ErrorCodeNotJoined, notice.Code)
}

func TestHandler_MaxConnections(t *testing.T) {
	h := newTestHandler(t, WithMaxConnections(1))
	wsURL := serve(t, h)

	dial(t, wsURL)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestHandler_MaxConnectionsPerIP(t *testing.T) {
	h := newTestHandler(t, WithMaxConnectionsPerIP(1))
	wsURL := serve(t, h)

	dial(t, wsURL)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"X-Real-IP": []string{"10.1.1.1"}})
	require.NoError(t, err)
	_ = ws.Close()
}

func TestHandler_RateLimitViolationsClose(t *testing.T) {
	h := newTestHandler(t, WithRateLimit(gocollab.RateLimiterConfig{
		PerClientRate:          0.01,
		PerClientBurst:         1,
		PerIPRate:              1000,
		PerIPBurst:             1000,
		MaxRateLimitViolations: 2,
	}))
	ws := dial(t, serve(t, h))

	for i := 0; i < 3; i++ {
		send(t, ws, `{"event":"typing","data":{"isTyping":true}}`)
	}

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "got %v", err)

	require.Eventually(t, func() bool {
		return h.Connections() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_ShutdownClosesConnections(t *testing.T) {
	h := newTestHandler(t)
	ws := dial(t, serve(t, h))

	send(t, ws, `{"event":"join-project","data":{"projectId":"P1","user":"alice"}}`)
	readEvent(t, ws, gocollab.EventOnlineUsers, nil)

	h.Shutdown()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	require.Eventually(t, func() bool {
		return h.Router().Registry().Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConn_SendBufferFull(t *testing.T) {
	accepted := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- ws
	}))
	defer ts.Close()

	dial(t, "ws"+strings.TrimPrefix(ts.URL, "http"))

	c := newConn("conn_1", <-accepted, gocollab.ConnectionInfo{ClientIP: "127.0.0.1"}, 1)
	assert.Equal(t, "conn_1", c.ID())
	assert.Equal(t, "127.0.0.1", c.Info().ClientIP)

	require.NoError(t, c.Send([]byte("first")))
	assert.ErrorIs(t, c.Send([]byte("second")), gocollab.ErrSendBufferFull)

	select {
	case <-c.Done():
	default:
		t.Fatal("connection should be closed once its queue overflows")
	}
	assert.ErrorIs(t, c.Send([]byte("third")), gocollab.ErrConnectionClosed)
	assert.NotPanics(t, c.Close)
}

func TestGetClientIPFromRequest(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{name: "real ip header", headers: map[string]string{"X-Real-IP": " 10.0.0.1 "}, remoteAddr: "1.1.1.1:80", want: "10.0.0.1"},
		{name: "first forwarded hop", headers: map[string]string{"X-Forwarded-For": "10.0.0.2, 10.0.0.3"}, remoteAddr: "1.1.1.1:80", want: "10.0.0.2"},
		{name: "remote address", remoteAddr: "192.168.1.5:4000", want: "192.168.1.5"},
		{name: "remote address without port", remoteAddr: "192.168.1.6", want: "192.168.1.6"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIPFromRequest(req))
		})
	}
}
