// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Filipe Johansson

package gocollab

import (
	"sort"
	"sync"
)

// Registry maps project ids to live rooms. A room exists in the registry
// exactly while at least one connection is attached to it, apart from the
// window between GetOrCreate and the first Attach.
//
// Lock order is registry then room. Rooms release themselves after dropping
// their own lock.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	logger  *LoggerConfig
	metrics *Metrics
	codec   *Codec
}

// NewRegistry creates an empty registry. All arguments may be nil.
func NewRegistry(logger *LoggerConfig, metrics *Metrics, codec *Codec) *Registry {
	if codec == nil {
		codec = NewCodec(nil)
	}
	return &Registry{
		rooms:   make(map[string]*Room),
		logger:  logger,
		metrics: metrics,
		codec:   codec,
	}
}

// GetOrCreate returns the live room for projectID, creating it when absent.
// A room that closed but has not been released yet is replaced.
func (g *Registry) GetOrCreate(projectID string) *Room {
	g.mu.RLock()
	room, ok := g.rooms[projectID]
	g.mu.RUnlock()
	if ok && !room.IsClosed() {
		return room
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if room, ok = g.rooms[projectID]; ok {
		if !room.IsClosed() {
			return room
		}
		g.dropLocked(projectID)
	}

	room = newRoom(projectID, g)
	g.rooms[projectID] = room
	g.metrics.roomCreated()
	g.logger.Log(LogTypeRoom, LogLevelDebug, "room %s created", projectID)
	return room
}

// Lookup returns the live room for projectID, if any.
func (g *Registry) Lookup(projectID string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	room, ok := g.rooms[projectID]
	if !ok || room.IsClosed() {
		return nil, false
	}
	return room, true
}

// Remove deletes the room for projectID only if nothing is attached to it.
func (g *Registry) Remove(projectID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[projectID]
	if !ok {
		return false
	}
	if !room.closeIfEmpty() {
		return false
	}
	g.dropLocked(projectID)
	return true
}

// ProjectIDs returns the ids of the live rooms, sorted.
func (g *Registry) ProjectIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]string, 0, len(g.rooms))
	for id, room := range g.rooms {
		if !room.IsClosed() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (g *Registry) Len() int {
	return len(g.ProjectIDs())
}

func (g *Registry) Stats() RegistryStats {
	g.mu.RLock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, room := range g.rooms {
		rooms = append(rooms, room)
	}
	g.mu.RUnlock()

	stats := RegistryStats{RoomStats: make(map[string]RoomStat, len(rooms))}
	for _, room := range rooms {
		if room.IsClosed() {
			continue
		}
		stat := room.Stat()
		stats.TotalRooms++
		stats.TotalConnections += stat.Connections
		stats.RoomStats[stat.ProjectID] = stat
	}
	return stats
}

// release removes room if it is still the entry for its project.
func (g *Registry) release(room *Room) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rooms[room.projectID] == room {
		g.dropLocked(room.projectID)
	}
}

func (g *Registry) dropLocked(projectID string) {
	delete(g.rooms, projectID)
	g.metrics.roomRemoved()
	g.logger.Log(LogTypeRoom, LogLevelDebug, "room %s removed", projectID)
}
