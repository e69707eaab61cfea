// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Filipe Johansson

package gocollab

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	defaultRelayBacklog = 1024
	relayPublishTimeout = 2 * time.Second
)

type RouterOption func(*Router) error

// Router is the process-wide entry point of the collaboration layer. It owns
// the room registry and the live sessions, and optionally mirrors content
// events to other processes through a Relay.
type Router struct {
	nodeID    string
	registry  *Registry
	sessions  *SharedCollection[string, *Session]
	codec     *Codec
	logger    *LoggerConfig
	metrics   *Metrics
	relay     Relay
	outbox    chan RelayMessage
	clock     func() time.Time
	startTime time.Time

	relayReceived atomic.Uint64
	running       atomic.Bool
	shutdownOnce  sync.Once
}

// NewRouter returns a Router with a JSON codec, the default logger and no
// relay or metrics.
func NewRouter(options ...RouterOption) (*Router, error) {
	rt := &Router{
		nodeID:    uuid.NewString(),
		sessions:  NewSharedCollection[string, *Session](),
		codec:     NewCodec(nil),
		logger:    DefaultLoggerConfig(),
		clock:     time.Now,
		startTime: time.Now(),
	}

	for _, o := range options {
		if err := o(rt); err != nil {
			return nil, err
		}
	}

	rt.registry = NewRegistry(rt.logger, rt.metrics, rt.codec)
	if rt.relay != nil {
		rt.outbox = make(chan RelayMessage, defaultRelayBacklog)
	}

	return rt, nil
}

// ===== Functional Options =====

func WithLogger(logger *LoggerConfig) RouterOption {
	return func(rt *Router) error {
		rt.logger = logger
		return nil
	}
}

func WithMetrics(metrics *Metrics) RouterOption {
	return func(rt *Router) error {
		rt.metrics = metrics
		return nil
	}
}

// WithRelay mirrors content events to other processes. Run must be called
// for relayed frames to flow in either direction.
func WithRelay(relay Relay) RouterOption {
	return func(rt *Router) error {
		rt.relay = relay
		return nil
	}
}

// WithSerializer sets the payload serializer. JSON is the default.
func WithSerializer(s Serializer) RouterOption {
	return func(rt *Router) error {
		rt.codec = NewCodec(s)
		return nil
	}
}

// WithNodeID overrides the random id used to recognise this router's own
// relayed frames.
func WithNodeID(id string) RouterOption {
	return func(rt *Router) error {
		if strings.TrimSpace(id) == "" {
			return errors.New("node id cannot be empty")
		}
		rt.nodeID = id
		return nil
	}
}

// WithClock sets the time source used for chat timestamps.
func WithClock(clock func() time.Time) RouterOption {
	return func(rt *Router) error {
		if clock != nil {
			rt.clock = clock
		}
		return nil
	}
}

// ===== Accessors =====

func (rt *Router) NodeID() string {
	return rt.nodeID
}

func (rt *Router) Registry() *Registry {
	return rt.registry
}

func (rt *Router) Codec() *Codec {
	return rt.codec
}

func (rt *Router) Logger() *LoggerConfig {
	return rt.logger
}

// Session returns the live session of connID, if any.
func (rt *Router) Session(connID string) (*Session, bool) {
	return rt.sessions.Get(connID)
}

// ===== Sessions =====

// Open creates the session of a newly accepted connection. Opening a
// connection id that already has a live session returns that session.
func (rt *Router) Open(conn Conn) *Session {
	s, added := rt.sessions.AddIfAbsent(conn.ID(), newSession(rt, conn))
	if added {
		rt.metrics.sessionOpened()
		rt.logger.Log(LogTypeSession, LogLevelDebug, "%s session opened", conn.ID())
	}
	return s
}

func (rt *Router) forget(s *Session) {
	if rt.sessions.RemoveIf(s.conn.ID(), func(live *Session) bool { return live == s }) {
		rt.metrics.sessionClosed()
	}
}

func (rt *Router) Stats() Stats {
	stats := Stats{
		NodeID:        rt.nodeID,
		RelayEnabled:  rt.relay != nil,
		RelayReceived: rt.relayReceived.Load(),
		Registry:      rt.registry.Stats(),
		Uptime:        time.Since(rt.startTime),
		Timestamp:     time.Now(),
	}
	for _, s := range rt.sessions.Values() {
		stats.ActiveSessions++
		if s.State() == StateJoined {
			stats.JoinedSessions++
		}
	}
	return stats
}

// Shutdown closes every live session, detaching them from their rooms.
func (rt *Router) Shutdown() {
	rt.shutdownOnce.Do(func() {
		sessions := rt.sessions.Values()
		for _, s := range sessions {
			s.Close()
		}
		rt.logger.Log(LogTypeServer, LogLevelInfo, "router shut down, closed %d sessions", len(sessions))
	})
}

// ===== Relay =====

// Run pumps frames between the relay and local rooms until ctx is done.
// Without a relay it returns immediately.
func (rt *Router) Run(ctx context.Context) error {
	if rt.relay == nil {
		return nil
	}
	if !rt.running.CompareAndSwap(false, true) {
		return errors.New("router relay is already running")
	}
	defer rt.running.Store(false)

	SafeGo(rt.logger, "RelayPublish", func() {
		rt.publishLoop(ctx)
	})

	rt.logger.Log(LogTypeRelay, LogLevelInfo, "relay running as node %s", rt.nodeID)
	err := rt.relay.Subscribe(ctx, rt.deliverRelayed)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrRelayClosed) {
		rt.logger.Log(LogTypeRelay, LogLevelError, "relay subscription ended: %v", err)
		return err
	}
	return nil
}

func (rt *Router) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-rt.outbox:
			pubCtx, cancel := context.WithTimeout(ctx, relayPublishTimeout)
			err := rt.relay.Publish(pubCtx, msg)
			cancel()
			if err != nil {
				rt.logger.Log(LogTypeRelay, LogLevelWarn, "relay publish for %s failed: %v", msg.ProjectID, err)
				continue
			}
			rt.metrics.relayPublished()
		}
	}
}

// publish queues frame for other processes without blocking the caller.
func (rt *Router) publish(projectID string, frame []byte) {
	if rt.outbox == nil {
		return
	}
	select {
	case rt.outbox <- RelayMessage{Origin: rt.nodeID, ProjectID: projectID, Frame: frame}:
	default:
		rt.metrics.eventDropped("relay_backlog")
		rt.logger.Log(LogTypeRelay, LogLevelWarn, "relay backlog full, dropped frame for %s", projectID)
	}
}

// deliverRelayed hands a frame from another process to every local
// connection of its room. Frames this router published are ignored.
func (rt *Router) deliverRelayed(msg RelayMessage) {
	if msg.Origin == rt.nodeID {
		return
	}
	rt.relayReceived.Add(1)
	rt.metrics.relayReceived()

	room, ok := rt.registry.Lookup(msg.ProjectID)
	if !ok {
		return
	}
	n := room.BroadcastToAll(msg.Frame)
	rt.logger.Log(LogTypeRelay, LogLevelDebug, "relayed frame from %s to %d connections in %s", msg.Origin, n, msg.ProjectID)
}
