// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Filipe Johansson

package gocollab

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var errMockSend = errors.New("mock send failure")

// mockConn records every frame queued to it.
type mockConn struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	fail   bool
}

func newMockConn(id string) *mockConn {
	return &mockConn{id: id}
}

func (m *mockConn) ID() string {
	return m.id
}

func (m *mockConn) Send(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errMockSend
	}
	m.frames = append(m.frames, append([]byte(nil), frame...))
	return nil
}

func (m *mockConn) setFail(fail bool) {
	m.mu.Lock()
	m.fail = fail
	m.mu.Unlock()
}

func (m *mockConn) reset() {
	m.mu.Lock()
	m.frames = nil
	m.mu.Unlock()
}

func (m *mockConn) envelopes(t *testing.T) []Envelope {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Envelope, 0, len(m.frames))
	for _, f := range m.frames {
		var env Envelope
		require.NoError(t, json.Unmarshal(f, &env))
		out = append(out, env)
	}
	return out
}

func (m *mockConn) events(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, env := range m.envelopes(t) {
		out = append(out, env.Event)
	}
	return out
}

func (m *mockConn) count(t *testing.T, event string) int {
	t.Helper()
	n := 0
	for _, env := range m.envelopes(t) {
		if env.Event == event {
			n++
		}
	}
	return n
}

// last decodes the data of the most recent frame carrying event into v.
func (m *mockConn) last(t *testing.T, event string, v interface{}) {
	t.Helper()
	envs := m.envelopes(t)
	for i := len(envs) - 1; i >= 0; i-- {
		if envs[i].Event == event {
			require.NoError(t, json.Unmarshal(envs[i].Data, v))
			return
		}
	}
	t.Fatalf("%s never received %s, got %v", m.id, event, m.events(t))
}

func quietLogger() *LoggerConfig {
	return UniformLoggerConfig(&NullLogger{}, LogLevelNone)
}

func newTestRegistry() *Registry {
	return NewRegistry(quietLogger(), nil, nil)
}
