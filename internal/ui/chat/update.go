// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/taskchat/internal/ui/styles"
)

// Update is the Bubble Tea update loop.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.refreshViewport()

	case tea.KeyMsg:
		model, cmd, handled := m.handleKey(msg)
		if handled {
			return model, cmd
		}
		m = model
		if cmd != nil {
			cmds = append(cmds, cmd)
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case RefreshMsg:
		m.refreshViewport()

	case PrefsChangedMsg:
		m.theme = styles.NewTheme(msg.DarkMode)
		m.spinner.Style = m.theme.Spinner
		m.refreshViewport()

	case startDoneMsg:
		if msg.err != nil {
			cmds = append(cmds, m.toasts.push(ToastError, fmt.Sprintf("connection failed: %v", msg.err)))
		}
		m.refreshViewport()

	case selectDoneMsg:
		if msg.err != nil {
			cmds = append(cmds, m.toasts.push(ToastError, fmt.Sprintf("couldn't load messages: %v", msg.err)))
		}
		m.refreshViewport()
		m.viewport.GotoBottom()

	case sendDoneMsg:
		m.sending = false
		switch {
		case msg.err != nil && m.svc.HasDeferredContext():
			cmds = append(cmds, m.toasts.push(ToastError, fmt.Sprintf("couldn't start the conversation: %v", msg.err)))
		case msg.err != nil:
			cmds = append(cmds, m.toasts.push(ToastError, fmt.Sprintf("message not sent: %v", msg.err)))
		case msg.created:
			cmds = append(cmds, m.toasts.push(ToastStatus, "conversation started"))
		}
		m.refreshViewport()
		m.viewport.GotoBottom()

	case refreshDoneMsg:
		if msg.err != nil {
			cmds = append(cmds, m.toasts.push(ToastWarning, "conversation list refresh failed"))
		}
		m.refreshViewport()

	case toastExpiredMsg:
		m.toasts.expire(msg.id)

	case stopTypingMsg:
		// Only the tick scheduled by the latest keystroke wins.
		if m.composing && !m.lastKeystroke().After(msg.at) {
			m.svc.StopTyping()
			m.composing = false
		}
	}

	return m, tea.Batch(cmds...)
}

// handleKey routes one key press. handled=true means the event is fully
// consumed and Update should return immediately.
func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd, bool) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.composing {
			m.svc.StopTyping()
		}
		return m, tea.Quit, true

	case key.Matches(msg, m.keys.Focus):
		if m.focus == focusList {
			m.focus = focusInput
			m.input.Focus()
		} else {
			m.focus = focusList
			m.input.Blur()
		}
		return m, nil, true

	case key.Matches(msg, m.keys.Refresh):
		return m, refreshCmd(m.svc), true

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil, true

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil, true
	}

	if m.focus == focusList {
		return m.handleListKey(msg)
	}
	return m.handleInputKey(msg)
}

func (m Model) handleListKey(msg tea.KeyMsg) (Model, tea.Cmd, bool) {
	convs := m.svc.Conversations()

	switch {
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil, true

	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(convs)-1 {
			m.cursor++
		}
		return m, nil, true

	case key.Matches(msg, m.keys.Submit):
		if m.cursor < len(convs) {
			id := convs[m.cursor].ID
			m.focus = focusInput
			m.input.Focus()
			return m, selectCmd(m.svc, id), true
		}
		return m, nil, true

	case key.Matches(msg, m.keys.Archive):
		if m.cursor < len(convs) {
			m.svc.ArchiveConversation(convs[m.cursor].ID)
			m.refreshViewport()
		}
		return m, nil, true
	}

	return m, nil, true
}

func (m Model) handleInputKey(msg tea.KeyMsg) (Model, tea.Cmd, bool) {
	if key.Matches(msg, m.keys.Submit) {
		content := strings.TrimSpace(m.input.Value())
		if content == "" || m.sending {
			return m, nil, true
		}
		conversationID, _ := m.svc.Selected()
		if conversationID == "" && !m.svc.HasDeferredContext() {
			return m, m.toasts.push(ToastWarning, "select a conversation first"), true
		}

		m.input.Reset()
		m.sending = true
		if m.composing {
			m.svc.StopTyping()
			m.composing = false
		}
		return m, sendCmd(m.svc, conversationID, content), true
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)

	// A real keystroke renews the peer's typing indicator; the idle tick
	// clears it once the pause outlasts composeIdleAfter.
	m.svc.Typing()
	m.composing = true
	m.typedAt = time.Now()
	return m, tea.Batch(cmd, stopTypingAfter(m.typedAt)), false
}

func (m *Model) lastKeystroke() time.Time {
	return m.typedAt
}

// refreshViewport re-renders the message pane from service state.
func (m *Model) refreshViewport() {
	m.viewport.SetContent(m.renderMessages())
}
