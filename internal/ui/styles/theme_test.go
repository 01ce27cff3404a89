// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
)

func TestThemeColorTerminalUsesBackgrounds(t *testing.T) {
	th := newTheme(true, termenv.TrueColor)

	assert.Equal(t, termenv.TrueColor, th.ColorProfile)
	assert.NotEqual(t, lipgloss.NoColor{}, th.OutgoingBubble.GetBackground())
	assert.NotEqual(t, lipgloss.NoColor{}, th.ConvSelected.GetBackground())
}

func TestThemeMonochromeFallsBackToAttributes(t *testing.T) {
	th := newTheme(true, termenv.Ascii)

	assert.Equal(t, termenv.Ascii, th.ColorProfile)
	// Backgrounds would be dropped silently; the bubbles must stay
	// distinguishable through attributes instead.
	assert.Equal(t, lipgloss.NoColor{}, th.OutgoingBubble.GetBackground())
	assert.True(t, th.OutgoingBubble.GetBold())
	assert.False(t, th.IncomingBubble.GetBold())
	assert.True(t, th.ConvSelected.GetReverse())
	assert.True(t, th.UnreadBadge.GetReverse())
}
