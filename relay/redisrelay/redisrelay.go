// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Filipe Johansson

// Package redisrelay carries content frames between collaboration routers
// over redis pub/sub, one channel per project.
package redisrelay

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/FilipeJohansson/gocollab"
	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "collab:"

type Option func(*Relay)

// WithPrefix namespaces the project channels.
func WithPrefix(prefix string) Option {
	return func(r *Relay) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

func WithLogger(logger *gocollab.LoggerConfig) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

type Relay struct {
	rdb    redis.UniversalClient
	prefix string
	logger *gocollab.LoggerConfig
	closed atomic.Bool
}

var _ gocollab.Relay = (*Relay)(nil)

// New wraps an existing client. The relay owns it and closes it on Close.
func New(rdb redis.UniversalClient, options ...Option) *Relay {
	r := &Relay{rdb: rdb, prefix: DefaultPrefix}
	for _, o := range options {
		o(r)
	}
	return r
}

// Dial connects to addr and verifies connectivity.
func Dial(ctx context.Context, addr string, db int, options ...Option) (*Relay, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return New(rdb, options...), nil
}

func (r *Relay) Publish(ctx context.Context, msg gocollab.RelayMessage) error {
	if r.closed.Load() {
		return gocollab.ErrRelayClosed
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel(msg.ProjectID), raw).Err()
}

// Subscribe listens on every project channel until ctx is done or the
// relay is closed. Undecodable messages are skipped.
func (r *Relay) Subscribe(ctx context.Context, handler func(gocollab.RelayMessage)) error {
	if r.closed.Load() {
		return gocollab.ErrRelayClosed
	}

	pubsub := r.rdb.PSubscribe(ctx, r.channel("*"))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return gocollab.ErrRelayClosed
			}
			msg, err := decode(m.Payload)
			if err != nil {
				r.logger.Log(gocollab.LogTypeRelay, gocollab.LogLevelWarn, "skipping relay message on %s: %v", m.Channel, err)
				continue
			}
			handler(msg)
		}
	}
}

func (r *Relay) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	return r.rdb.Close()
}

func (r *Relay) channel(projectID string) string {
	return r.prefix + projectID
}

func decode(payload string) (gocollab.RelayMessage, error) {
	var msg gocollab.RelayMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return gocollab.RelayMessage{}, err
	}
	if msg.ProjectID == "" || len(msg.Frame) == 0 {
		return gocollab.RelayMessage{}, gocollab.ErrInvalidPayload
	}
	return msg, nil
}
