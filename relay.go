// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Filipe Johansson

package gocollab

import (
	"context"
)

// RelayMessage is a content frame crossing process boundaries.
type RelayMessage struct {
	// Origin is the node id of the publishing router.
	Origin    string `json:"origin"`
	ProjectID string `json:"projectId"`
	// Frame is the encoded envelope as delivered to local connections.
	Frame []byte `json:"frame"`
}

// Relay fans content frames out to routers running in other processes.
// Presence is per process and never relayed.
type Relay interface {
	Publish(ctx context.Context, msg RelayMessage) error
	// Subscribe blocks, calling handler for every message, until ctx is done
	// or the relay is closed.
	Subscribe(ctx context.Context, handler func(RelayMessage)) error
	Close() error
}
