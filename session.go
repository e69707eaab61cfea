// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Filipe Johansson

package gocollab

import (
	"errors"
	"strings"
	"sync"
)

// maxAttachAttempts bounds retries against rooms that close between lookup
// and attach.
const maxAttachAttempts = 16

type SessionState int

const (
	StateUnjoined SessionState = iota
	StateJoined
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUnjoined:
		return "unjoined"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the event dispatcher of one connection. It tracks which
// project the connection is joined to and under which identity.
type Session struct {
	router *Router
	conn   Conn

	mu       sync.Mutex
	state    SessionState
	room     *Room
	identity string
}

func newSession(router *Router, conn Conn) *Session {
	return &Session{router: router, conn: conn, state: StateUnjoined}
}

func (s *Session) ID() string {
	return s.conn.ID()
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ProjectID returns the joined project, or "" when not joined.
func (s *Session) ProjectID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return ""
	}
	return s.room.projectID
}

func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Join attaches the connection to projectID, leaving the previous project
// first when it differs. Joining the current project again is idempotent.
func (s *Session) Join(projectID, identity string) error {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return newMissingFieldError(EventJoinProject, "projectId")
	}
	if identity == "" {
		return newMissingFieldError(EventJoinProject, "user")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return ErrSessionClosed
	case StateJoined:
		if s.room.projectID == projectID {
			if _, err := s.room.Attach(s.conn, identity); err != nil {
				return err
			}
			s.identity = identity
			return nil
		}
		s.detachLocked()
		s.state = StateUnjoined
	}

	room, err := s.attachLocked(projectID, identity)
	if err != nil {
		return err
	}

	s.state = StateJoined
	s.room = room
	s.identity = identity
	s.router.logger.Log(LogTypeSession, LogLevelDebug, "%s joined %s as %s", s.conn.ID(), projectID, identity)
	return nil
}

// Leave detaches from the current project. It is a no-op when not joined.
func (s *Session) Leave() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return ErrSessionClosed
	case StateJoined:
		s.detachLocked()
		s.state = StateUnjoined
	}
	return nil
}

// CodeChange forwards an editor buffer update to the other members.
func (s *Session) CodeChange(p CodeChange) error {
	if err := p.validate(); err != nil {
		return err
	}
	return s.toOthers(EventCodeChange, func(identity string) interface{} {
		return CodeChanged{Code: *p.Code, File: p.File, User: identity}
	})
}

func (s *Session) Typing(p Typing) error {
	if err := p.validate(); err != nil {
		return err
	}
	return s.toOthers(EventTyping, func(identity string) interface{} {
		return TypingChanged{User: identity, IsTyping: *p.IsTyping}
	})
}

func (s *Session) CursorMove(p CursorMove) error {
	if err := p.validate(); err != nil {
		return err
	}
	return s.toOthers(EventCursorMove, func(identity string) interface{} {
		return CursorMoved{User: identity, Position: *p.Position, File: p.File}
	})
}

// ChatMessage broadcasts a chat line to every member, sender included.
// An unjoined sender gets a not_joined error notice instead.
func (s *Session) ChatMessage(p SendMessage) error {
	if err := p.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return ErrSessionClosed
	case StateUnjoined:
		s.router.metrics.eventDropped("not_joined")
		s.noticeLocked(ErrorCodeNotJoined, "join a project before sending messages")
		return ErrNotJoined
	}

	frame, err := s.router.codec.Encode(EventChatMessage, ChatMessage{
		Message:   *p.Message,
		User:      s.identity,
		Timestamp: s.router.clock().UTC(),
	})
	if err != nil {
		return err
	}
	s.room.BroadcastToAll(frame)
	s.router.publish(s.room.projectID, frame)
	return nil
}

// Close detaches the connection and ends the session. Only the first call
// has any effect.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	if s.state == StateJoined {
		s.detachLocked()
	}
	s.state = StateClosed
	s.mu.Unlock()

	s.router.forget(s)
	s.router.logger.Log(LogTypeSession, LogLevelDebug, "%s session closed", s.conn.ID())
}

// Dispatch decodes one inbound frame and runs the matching operation.
// Invalid frames are dropped and reported; the session stays usable.
func (s *Session) Dispatch(frame []byte) error {
	env, err := s.router.codec.Decode(frame)
	if err != nil {
		return s.drop("envelope", err)
	}

	switch env.Event {
	case EventJoinProject:
		var p JoinProject
		if err := s.decode(env, &p); err != nil {
			return s.drop(env.Event, err)
		}
		err = s.Join(p.ProjectID, p.User)

	case EventLeaveProject:
		err = s.Leave()

	case EventCodeChange:
		var p CodeChange
		if err := s.decode(env, &p); err != nil {
			return s.drop(env.Event, err)
		}
		err = s.CodeChange(p)

	case EventSendMessage:
		var p SendMessage
		if err := s.decode(env, &p); err != nil {
			return s.drop(env.Event, err)
		}
		err = s.ChatMessage(p)

	case EventTyping:
		var p Typing
		if err := s.decode(env, &p); err != nil {
			return s.drop(env.Event, err)
		}
		err = s.Typing(p)

	case EventCursorMove:
		var p CursorMove
		if err := s.decode(env, &p); err != nil {
			return s.drop(env.Event, err)
		}
		err = s.CursorMove(p)

	default:
		return s.drop(env.Event, newUnknownEventError(env.Event))
	}

	if err != nil {
		if errors.Is(err, ErrInvalidPayload) {
			return s.drop(env.Event, err)
		}
		return err
	}
	s.router.metrics.eventReceived(env.Event)
	return nil
}

type validator interface {
	validate() error
}

func (s *Session) decode(env Envelope, v validator) error {
	if err := s.router.codec.DecodePayload(env, v); err != nil {
		return err
	}
	return v.validate()
}

func (s *Session) drop(event string, err error) error {
	reason := "invalid_payload"
	if errors.Is(err, ErrUnknownEvent) {
		reason = "unknown_event"
	}
	s.router.metrics.eventDropped(reason)
	s.router.logger.Log(LogTypeMessage, LogLevelWarn, "%s dropped %s: %v", s.conn.ID(), event, err)
	return err
}

// toOthers broadcasts a best-effort signal to the other members. Signals
// from an unjoined session are ignored.
func (s *Session) toOthers(event string, build func(identity string) interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return ErrSessionClosed
	case StateUnjoined:
		s.router.metrics.eventDropped("not_joined")
		s.router.logger.Log(LogTypeSession, LogLevelDebug, "%s ignored %s while unjoined", s.conn.ID(), event)
		return nil
	}

	frame, err := s.router.codec.Encode(event, build(s.identity))
	if err != nil {
		return err
	}
	s.room.BroadcastToOthers(frame, s.conn.ID())
	s.router.publish(s.room.projectID, frame)
	return nil
}

func (s *Session) attachLocked(projectID, identity string) (*Room, error) {
	for attempt := 0; attempt < maxAttachAttempts; attempt++ {
		room := s.router.registry.GetOrCreate(projectID)
		_, err := room.Attach(s.conn, identity)
		if err == nil {
			return room, nil
		}
		if !errors.Is(err, ErrRoomClosed) {
			return nil, err
		}
	}
	return nil, ErrRoomClosed
}

func (s *Session) detachLocked() {
	s.room.Detach(s.conn)
	s.room = nil
	s.identity = ""
}

func (s *Session) noticeLocked(code, message string) {
	frame, err := s.router.codec.Encode(EventError, ErrorNotice{Code: code, Message: message})
	if err != nil {
		return
	}
	if err := s.conn.Send(frame); err != nil {
		s.router.logger.Log(LogTypeSession, LogLevelDebug, "%s notice not delivered: %v", s.conn.ID(), err)
	}
}
