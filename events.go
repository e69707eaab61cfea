// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Filipe Johansson

package gocollab

import (
	"encoding/json"
	"strings"
	"time"
)

// Event names exchanged with the editor UI.
const (
	EventJoinProject  = "join-project"
	EventLeaveProject = "leave-project"
	EventOnlineUsers  = "online-users"
	EventUserJoined   = "user-joined"
	EventUserLeft     = "user-left"
	EventCodeChange   = "code-change"
	EventSendMessage  = "send-message"
	EventChatMessage  = "chat-message"
	EventTyping       = "typing"
	EventCursorMove   = "cursor-move"
	EventError        = "error"
)

// Error notice codes sent with EventError.
const (
	ErrorCodeNotJoined = "not_joined"
)

// Envelope is the frame shape on the wire in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ===== Inbound payloads =====

type JoinProject struct {
	ProjectID string `json:"projectId"`
	User      string `json:"user"`
}

func (p *JoinProject) validate() error {
	p.ProjectID = strings.TrimSpace(p.ProjectID)
	if p.ProjectID == "" {
		return newMissingFieldError(EventJoinProject, "projectId")
	}
	if p.User == "" {
		return newMissingFieldError(EventJoinProject, "user")
	}
	return nil
}

type CodeChange struct {
	Code *string `json:"code"`
	File string  `json:"file,omitempty"`
}

func (p *CodeChange) validate() error {
	if p.Code == nil {
		return newMissingFieldError(EventCodeChange, "code")
	}
	return nil
}

type SendMessage struct {
	Message *string `json:"message"`
}

func (p *SendMessage) validate() error {
	if p.Message == nil || strings.TrimSpace(*p.Message) == "" {
		return newMissingFieldError(EventSendMessage, "message")
	}
	return nil
}

type Typing struct {
	IsTyping *bool `json:"isTyping"`
}

func (p *Typing) validate() error {
	if p.IsTyping == nil {
		return newMissingFieldError(EventTyping, "isTyping")
	}
	return nil
}

// Position is a 1-based editor location.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

type CursorMove struct {
	Position *Position `json:"position"`
	File     string    `json:"file,omitempty"`
}

func (p *CursorMove) validate() error {
	if p.Position == nil {
		return newMissingFieldError(EventCursorMove, "position")
	}
	return nil
}

// ===== Outbound payloads =====

type Presence struct {
	User string `json:"user"`
}

type CodeChanged struct {
	Code string `json:"code"`
	File string `json:"file,omitempty"`
	User string `json:"user"`
}

type ChatMessage struct {
	Message   string    `json:"message"`
	User      string    `json:"user"`
	Timestamp time.Time `json:"timestamp"`
}

type TypingChanged struct {
	User     string `json:"user"`
	IsTyping bool   `json:"isTyping"`
}

type CursorMoved struct {
	User     string   `json:"user"`
	Position Position `json:"position"`
	File     string   `json:"file,omitempty"`
}

type ErrorNotice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
