// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Filipe Johansson

package gocollab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionPool_TotalLimit(t *testing.T) {
	pool := NewConnectionPool(2, 0)

	require.NoError(t, pool.AcquireConnection("1.1.1.1"))
	require.NoError(t, pool.AcquireConnection("2.2.2.2"))
	assert.ErrorIs(t, pool.AcquireConnection("3.3.3.3"), ErrMaxConnReached)

	pool.ReleaseConnection("1.1.1.1")
	assert.NoError(t, pool.AcquireConnection("3.3.3.3"))
}

func TestConnectionPool_PerIPLimit(t *testing.T) {
	pool := NewConnectionPool(10, 2)

	require.NoError(t, pool.AcquireConnection("1.1.1.1"))
	require.NoError(t, pool.AcquireConnection("1.1.1.1"))
	err := pool.AcquireConnection("1.1.1.1")
	assert.ErrorIs(t, err, ErrMaxConnPerIPReached)
	assert.Contains(t, err.Error(), "1.1.1.1")
	assert.NoError(t, pool.AcquireConnection("2.2.2.2"))

	total, perIP := pool.GetStats()
	assert.Equal(t, 3, total)
	assert.Equal(t, map[string]int{"1.1.1.1": 2, "2.2.2.2": 1}, perIP)
}

func TestConnectionPool_ReleaseUnknownIsNoop(t *testing.T) {
	pool := NewConnectionPool(1, 1)
	pool.ReleaseConnection("9.9.9.9")

	require.NoError(t, pool.AcquireConnection("1.1.1.1"))
	pool.ReleaseConnection("1.1.1.1")
	pool.ReleaseConnection("1.1.1.1")

	total, perIP := pool.GetStats()
	assert.Zero(t, total)
	assert.Empty(t, perIP)
	assert.NoError(t, pool.AcquireConnection("1.1.1.1"))
}
