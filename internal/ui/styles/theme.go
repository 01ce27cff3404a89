// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme holds the styled components for the application. It detects the
// terminal's color capability once and derives every style from the shared
// palette.
type Theme struct {
	IsDark       bool
	ColorProfile termenv.Profile

	// ==========================================================================
	// LAYOUT
	// ==========================================================================

	App       lipgloss.Style
	Sidebar   lipgloss.Style
	Main      lipgloss.Style
	Separator lipgloss.Style

	// ==========================================================================
	// HEADER AND STATUS
	// ==========================================================================

	Header      lipgloss.Style
	HeaderTitle lipgloss.Style
	StatusBar   lipgloss.Style
	StatusKey   lipgloss.Style
	StatusDesc  lipgloss.Style

	// ==========================================================================
	// CONVERSATION LIST
	// ==========================================================================

	ConvItem     lipgloss.Style
	ConvSelected lipgloss.Style
	ConvArchived lipgloss.Style
	UnreadBadge  lipgloss.Style
	OnlineDot    lipgloss.Style
	OfflineDot   lipgloss.Style

	// ==========================================================================
	// MESSAGES
	// ==========================================================================

	OutgoingBubble lipgloss.Style
	IncomingBubble lipgloss.Style
	DayHeader      lipgloss.Style
	Timestamp      lipgloss.Style
	TypingLine     lipgloss.Style
	TaskBanner     lipgloss.Style
	AttachmentTag  lipgloss.Style

	// ==========================================================================
	// INPUT AND NOTICES
	// ==========================================================================

	InputContainer lipgloss.Style
	Spinner        lipgloss.Style
	ToastError     lipgloss.Style
	ToastWarning   lipgloss.Style
	ToastStatus    lipgloss.Style
}

// NewTheme builds a theme. darkMode comes from preferences and overrides
// terminal background detection.
func NewTheme(darkMode bool) *Theme {
	return newTheme(darkMode, termenv.ColorProfile())
}

func newTheme(darkMode bool, profile termenv.Profile) *Theme {
	lipgloss.SetHasDarkBackground(darkMode)

	t := &Theme{
		IsDark:       darkMode,
		ColorProfile: profile,
	}

	t.App = lipgloss.NewStyle().Background(Surface)
	t.Sidebar = lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderRight(true).
		BorderForeground(Overlay).
		PaddingRight(1)
	t.Main = lipgloss.NewStyle().PaddingLeft(1)
	t.Separator = lipgloss.NewStyle().Foreground(Overlay)

	t.Header = lipgloss.NewStyle().Background(SurfaceDim).Padding(0, 1)
	t.HeaderTitle = lipgloss.NewStyle().Foreground(Cyan).Bold(true)
	t.StatusBar = lipgloss.NewStyle().Background(SurfaceDim).Foreground(TextSecondary).Padding(0, 1)
	t.StatusKey = lipgloss.NewStyle().Foreground(Cyan).Bold(true)
	t.StatusDesc = lipgloss.NewStyle().Foreground(TextMuted)

	t.ConvItem = lipgloss.NewStyle().Foreground(TextPrimary).Padding(0, 1)
	t.ConvSelected = lipgloss.NewStyle().Foreground(TextInverse).Background(Cyan).Padding(0, 1).Bold(true)
	t.ConvArchived = lipgloss.NewStyle().Foreground(TextMuted).Padding(0, 1).Faint(true)
	t.UnreadBadge = lipgloss.NewStyle().Foreground(TextInverse).Background(Amber).Padding(0, 1).Bold(true)
	t.OnlineDot = lipgloss.NewStyle().Foreground(Emerald)
	t.OfflineDot = lipgloss.NewStyle().Foreground(TextMuted)

	t.OutgoingBubble = lipgloss.NewStyle().
		Foreground(OutgoingBubbleFg).
		Background(OutgoingBubbleBg).
		Padding(0, 1)
	t.IncomingBubble = lipgloss.NewStyle().
		Foreground(IncomingBubbleFg).
		Background(IncomingBubbleBg).
		Padding(0, 1)
	t.DayHeader = lipgloss.NewStyle().Foreground(TextMuted).Bold(true).Align(lipgloss.Center)
	t.Timestamp = lipgloss.NewStyle().Foreground(TextMuted)
	t.TypingLine = lipgloss.NewStyle().Foreground(TextSecondary).Italic(true)
	t.TaskBanner = lipgloss.NewStyle().Foreground(TaskBannerFg).Background(TaskBannerBg).Padding(0, 1)
	t.AttachmentTag = lipgloss.NewStyle().Foreground(Cyan).Underline(true)

	t.InputContainer = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Overlay).
		Padding(0, 1)
	t.Spinner = lipgloss.NewStyle().Foreground(Cyan)
	t.ToastError = lipgloss.NewStyle().Foreground(TextInverse).Background(Rose).Padding(0, 1).Bold(true)
	t.ToastWarning = lipgloss.NewStyle().Foreground(TextInverse).Background(Amber).Padding(0, 1)
	t.ToastStatus = lipgloss.NewStyle().Foreground(TextInverse).Background(Cyan).Padding(0, 1)

	// Monochrome terminals drop background colors silently, which would
	// leave outgoing and incoming bubbles (and selection) looking the
	// same. Fall back to text attributes there.
	if profile == termenv.Ascii {
		t.App = lipgloss.NewStyle()
		t.Header = lipgloss.NewStyle().Padding(0, 1).Bold(true)
		t.StatusBar = lipgloss.NewStyle().Padding(0, 1).Faint(true)
		t.ConvSelected = lipgloss.NewStyle().Padding(0, 1).Reverse(true).Bold(true)
		t.UnreadBadge = lipgloss.NewStyle().Padding(0, 1).Reverse(true)
		t.OutgoingBubble = lipgloss.NewStyle().Padding(0, 1).Bold(true)
		t.IncomingBubble = lipgloss.NewStyle().Padding(0, 1)
		t.TaskBanner = lipgloss.NewStyle().Padding(0, 1).Reverse(true)
		t.ToastError = lipgloss.NewStyle().Padding(0, 1).Reverse(true).Bold(true)
		t.ToastWarning = lipgloss.NewStyle().Padding(0, 1).Reverse(true)
		t.ToastStatus = lipgloss.NewStyle().Padding(0, 1).Reverse(true)
	}

	return t
}
