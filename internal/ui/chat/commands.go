// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/taskchat/internal/chat"
)

// RefreshMsg asks the shell to re-read service state. The program pumps one
// in whenever the service's change callback fires.
type RefreshMsg struct{}

// PrefsChangedMsg carries hot-reloaded preferences into the shell.
type PrefsChangedMsg struct {
	DarkMode bool
}

// startDoneMsg carries the result of Service.Start.
type startDoneMsg struct{ err error }

// selectDoneMsg carries the result of a conversation selection.
type selectDoneMsg struct {
	conversationID string
	err            error
}

// sendDoneMsg carries the result of a send, including a deferred
// create-then-send.
type sendDoneMsg struct {
	created bool
	err     error
}

// refreshDoneMsg carries the result of a conversation list refresh.
type refreshDoneMsg struct{ err error }

// stopTypingMsg fires when the composing pause elapses.
type stopTypingMsg struct{ at time.Time }

// composeIdleAfter is how long without a keystroke before the peer is told
// we stopped typing.
const composeIdleAfter = 2 * time.Second

func startCmd(svc *chat.Service) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return startDoneMsg{err: svc.Start(ctx)}
	}
}

func selectCmd(svc *chat.Service, conversationID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := svc.SelectConversation(ctx, conversationID)
		return selectDoneMsg{conversationID: conversationID, err: err}
	}
}

func sendCmd(svc *chat.Service, conversationID, content string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		creating := conversationID == ""
		err := svc.SendMessage(ctx, conversationID, content, nil, 0)
		return sendDoneMsg{created: creating && err == nil, err: err}
	}
}

func refreshCmd(svc *chat.Service) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return refreshDoneMsg{err: svc.RefreshConversations(ctx)}
	}
}

func stopTypingAfter(at time.Time) tea.Cmd {
	return tea.Tick(composeIdleAfter, func(time.Time) tea.Msg {
		return stopTypingMsg{at: at}
	})
}
