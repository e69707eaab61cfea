// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Filipe Johansson

package gocollab

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type member struct {
	conn     Conn
	identity string
}

// Room is the presence and broadcast scope of one project. Rooms are created
// and owned by a Registry; every attached connection has the room's project
// as its current association.
type Room struct {
	projectID string
	createdAt time.Time
	registry  *Registry

	mu        sync.Mutex
	members   map[string]*member // connection id -> member
	occupants map[string]int     // identity -> attached connections announcing it

	// closed is set under mu once the last connection detaches. A closed room
	// never accepts another attach.
	closed atomic.Bool
}

// AttachResult reports what an Attach changed.
type AttachResult struct {
	// Joined is true when the identity was not present before.
	Joined bool
	// Rejoined is true when the connection was already attached.
	Rejoined bool
}

// DetachResult reports what a Detach changed.
type DetachResult struct {
	Detached bool
	// Left is true when the detached connection was the identity's last one.
	Left bool
	// Emptied is true when no connection remains and the room was released.
	Emptied bool
}

func newRoom(projectID string, registry *Registry) *Room {
	return &Room{
		projectID: projectID,
		createdAt: time.Now(),
		registry:  registry,
		members:   make(map[string]*member),
		occupants: make(map[string]int),
	}
}

func (r *Room) ProjectID() string {
	return r.projectID
}

func (r *Room) CreatedAt() time.Time {
	return r.createdAt
}

// Attach adds conn to the room under identity and sends the joiner the
// identities already present. Other members receive user-joined when the
// identity is new to the room. Re-attaching with the same identity is
// idempotent; with a new identity the old one is retired first.
func (r *Room) Attach(conn Conn, identity string) (AttachResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Load() {
		return AttachResult{}, ErrRoomClosed
	}

	var res AttachResult
	id := conn.ID()
	if m, ok := r.members[id]; ok {
		res.Rejoined = true
		if m.identity == identity {
			r.sendOnlineUsersLocked(conn, identity)
			return res, nil
		}
		delete(r.members, id)
		r.retireLocked(m.identity)
	}

	r.members[id] = &member{conn: conn, identity: identity}
	r.occupants[identity]++
	if r.occupants[identity] == 1 {
		res.Joined = true
		r.emitLocked(EventUserJoined, Presence{User: identity}, id)
		r.registry.logger.Log(LogTypeRoom, LogLevelInfo, "%s joined room %s", identity, r.projectID)
	}

	r.sendOnlineUsersLocked(conn, identity)
	return res, nil
}

// Detach removes conn from the room. The identity's last connection leaving
// emits exactly one user-left. An emptied room is released from the registry.
func (r *Room) Detach(conn Conn) DetachResult {
	r.mu.Lock()
	m, ok := r.members[conn.ID()]
	if !ok {
		r.mu.Unlock()
		return DetachResult{}
	}

	delete(r.members, conn.ID())
	res := DetachResult{Detached: true}
	res.Left = r.retireLocked(m.identity)
	if len(r.members) == 0 {
		r.closed.Store(true)
		res.Emptied = true
	}
	r.mu.Unlock()

	// registry lock is never taken while holding the room lock
	if res.Emptied {
		r.registry.release(r)
	}
	return res
}

// BroadcastToOthers queues frame to every attached connection except
// excludeConnID and returns how many accepted it.
func (r *Room) BroadcastToOthers(frame []byte, excludeConnID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fanoutLocked(frame, excludeConnID)
}

// BroadcastToAll queues frame to every attached connection, sender included.
func (r *Room) BroadcastToAll(frame []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fanoutLocked(frame, "")
}

// Occupants returns the distinct identities present, sorted.
func (r *Room) Occupants() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.occupantsLocked("")
}

// Connections returns the number of attached connections.
func (r *Room) Connections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (r *Room) Has(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[connID]
	return ok
}

// IsClosed reports whether the room was emptied and released.
func (r *Room) IsClosed() bool {
	return r.closed.Load()
}

func (r *Room) Stat() RoomStat {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RoomStat{
		ProjectID:   r.projectID,
		Connections: len(r.members),
		Occupants:   r.occupantsLocked(""),
		CreatedAt:   r.createdAt,
	}
}

// closeIfEmpty marks the room closed when nothing is attached.
func (r *Room) closeIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.members) > 0 {
		return false
	}
	r.closed.Store(true)
	return true
}

// retireLocked drops one connection's claim on identity and emits user-left
// to the remaining members when it was the last one.
func (r *Room) retireLocked(identity string) bool {
	r.occupants[identity]--
	if r.occupants[identity] > 0 {
		return false
	}
	delete(r.occupants, identity)
	r.emitLocked(EventUserLeft, Presence{User: identity}, "")
	r.registry.logger.Log(LogTypeRoom, LogLevelInfo, "%s left room %s", identity, r.projectID)
	return true
}

func (r *Room) sendOnlineUsersLocked(conn Conn, identity string) {
	frame, err := r.registry.codec.Encode(EventOnlineUsers, r.occupantsLocked(identity))
	if err != nil {
		r.registry.logger.Log(LogTypeError, LogLevelError, "room %s: %v", r.projectID, err)
		return
	}
	r.sendLocked(conn, frame)
}

func (r *Room) emitLocked(event string, payload interface{}, excludeConnID string) {
	frame, err := r.registry.codec.Encode(event, payload)
	if err != nil {
		r.registry.logger.Log(LogTypeError, LogLevelError, "room %s: %v", r.projectID, err)
		return
	}
	r.fanoutLocked(frame, excludeConnID)
}

func (r *Room) fanoutLocked(frame []byte, excludeConnID string) int {
	delivered := 0
	for id, m := range r.members {
		if id == excludeConnID {
			continue
		}
		if r.sendLocked(m.conn, frame) {
			delivered++
		}
	}
	return delivered
}

func (r *Room) sendLocked(conn Conn, frame []byte) bool {
	if err := conn.Send(frame); err != nil {
		// the transport closes connections it cannot write to; their
		// disconnect detaches them from this room
		r.registry.logger.Log(LogTypeBroadcast, LogLevelWarn, "room %s: send to %s failed: %v", r.projectID, conn.ID(), err)
		r.registry.metrics.sendFailed()
		return false
	}
	r.registry.metrics.delivered(1)
	return true
}

func (r *Room) occupantsLocked(except string) []string {
	out := make([]string, 0, len(r.occupants))
	for identity := range r.occupants {
		if identity != except {
			out = append(out, identity)
		}
	}
	sort.Strings(out)
	return out
}
