// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToastStackPushAndExpire(t *testing.T) {
	s := newToastStack()
	assert.Empty(t, s.active())

	cmd := s.push(ToastError, "send failed")
	require.NotNil(t, cmd)
	s.push(ToastStatus, "conversation started")

	active := s.active()
	require.Len(t, active, 2)
	assert.Equal(t, "send failed", active[0].Message)
	assert.Equal(t, ToastError, active[0].Kind)
	assert.Equal(t, "conversation started", active[1].Message)

	s.expire(active[0].ID)
	active = s.active()
	require.Len(t, active, 1)
	assert.Equal(t, "conversation started", active[0].Message)

	// Expiring an unknown id is a no-op.
	s.expire(999)
	assert.Len(t, s.active(), 1)
}

func TestToastIDsUnique(t *testing.T) {
	s := newToastStack()
	s.push(ToastWarning, "a")
	s.push(ToastWarning, "b")
	s.push(ToastWarning, "c")

	seen := map[int]bool{}
	for _, toast := range s.active() {
		assert.False(t, seen[toast.ID])
		seen[toast.ID] = true
	}
}
