// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Filipe Johansson

package gocollab

import (
	"time"
)

type RoomStat struct {
	ProjectID   string    `json:"project_id"`
	Connections int       `json:"connections"`
	Occupants   []string  `json:"occupants"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

type RegistryStats struct {
	TotalRooms       int                 `json:"total_rooms"`
	TotalConnections int                 `json:"total_connections"`
	RoomStats        map[string]RoomStat `json:"rooms"`
}

type Stats struct {
	// Sessions
	ActiveSessions int `json:"active_sessions"`
	JoinedSessions int `json:"joined_sessions"`

	// Rooms
	Registry RegistryStats `json:"registry"`

	// Relay
	NodeID        string `json:"node_id"`
	RelayEnabled  bool   `json:"relay_enabled"`
	RelayReceived uint64 `json:"relay_received"`

	// Meta
	Uptime    time.Duration `json:"uptime"`
	Timestamp time.Time     `json:"timestamp"`
}
