// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the conversation view for the taskchat TUI.
//
// The package is a thin rendering shell: every state transition lives in the
// chat service; this model only translates key presses into service calls
// and service state into a frame.
package chat

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/taskchat/internal/chat"
	"github.com/jeranaias/taskchat/internal/ui/styles"
)

// focusArea is which pane receives key input.
type focusArea int

const (
	focusList focusArea = iota
	focusInput
)

// Model is the Bubble Tea model for the chat shell.
type Model struct {
	svc   *chat.Service
	theme *styles.Theme
	keys  KeyMap

	width  int
	height int

	focus  focusArea
	cursor int // highlighted row in the conversation list

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model

	// sending is true while a send is in flight so the input can show a
	// spinner and ignore a second submit.
	sending bool

	// composing tracks whether we told the peer we are typing, so the
	// stop notification fires exactly when composing ends. typedAt is the
	// last keystroke; the idle tick compares against it.
	composing bool
	typedAt   time.Time

	toasts *toastStack

	selfID int64
}

// New builds the shell around an assembled service.
func New(svc *chat.Service, theme *styles.Theme, selfID int64) Model {
	ta := textarea.New()
	ta.Placeholder = "Write a message..."
	ta.CharLimit = 4000
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = theme.Spinner

	return Model{
		svc:      svc,
		theme:    theme,
		keys:     DefaultKeyMap(),
		focus:    focusInput,
		viewport: viewport.New(0, 0),
		input:    ta,
		spinner:  sp,
		toasts:   newToastStack(),
		selfID:   selfID,
	}
}

// Init starts the service in the background and the spinner ticking.
func (m Model) Init() tea.Cmd {
	return tea.Batch(startCmd(m.svc), m.spinner.Tick)
}

// layout recomputes pane sizes after a resize.
func (m *Model) layout() {
	sidebar := m.sidebarWidth()
	mainWidth := m.width - sidebar - 3
	if mainWidth < 10 {
		mainWidth = 10
	}
	inputHeight := m.input.Height() + 2
	vpHeight := m.height - inputHeight - 4
	if vpHeight < 3 {
		vpHeight = 3
	}
	m.viewport.Width = mainWidth
	m.viewport.Height = vpHeight
	m.input.SetWidth(mainWidth)
}

func (m *Model) sidebarWidth() int {
	w := m.width / 4
	if w < 24 {
		w = 24
	}
	if w > 40 {
		w = 40
	}
	return w
}
