// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Non-blocking toast notifications, bottom-right corner, auto-dismissing.
// The shell uses them to distinguish failure modes the user can act on
// differently: fetching messages, creating a conversation, retrying a send.

package chat

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// ToastKind selects the toast's color and urgency.
type ToastKind int

const (
	// ToastStatus is an informational toast.
	ToastStatus ToastKind = iota
	// ToastWarning flags a degraded but recovering state, e.g. a retry.
	ToastWarning
	// ToastError flags a surfaced failure.
	ToastError
)

// Toast durations; errors linger longest so they can be read.
const (
	statusToastDuration  = 4 * time.Second
	warningToastDuration = 6 * time.Second
	errorToastDuration   = 8 * time.Second
)

// Toast is one notification.
type Toast struct {
	ID      int
	Kind    ToastKind
	Message string
}

// toastExpiredMsg dismisses a toast by id.
type toastExpiredMsg struct{ id int }

// toastStack holds active toasts, newest last.
type toastStack struct {
	nextID int
	toasts []Toast
}

func newToastStack() *toastStack {
	return &toastStack{}
}

// push adds a toast and returns the command that will expire it.
func (s *toastStack) push(kind ToastKind, message string) tea.Cmd {
	s.nextID++
	t := Toast{ID: s.nextID, Kind: kind, Message: message}
	s.toasts = append(s.toasts, t)

	dur := statusToastDuration
	switch kind {
	case ToastWarning:
		dur = warningToastDuration
	case ToastError:
		dur = errorToastDuration
	}
	id := t.ID
	return tea.Tick(dur, func(time.Time) tea.Msg {
		return toastExpiredMsg{id: id}
	})
}

// expire removes a toast by id; unknown ids are ignored.
func (s *toastStack) expire(id int) {
	for i, t := range s.toasts {
		if t.ID == id {
			s.toasts = append(s.toasts[:i], s.toasts[i+1:]...)
			return
		}
	}
}

// active returns the live toasts, oldest first.
func (s *toastStack) active() []Toast {
	return s.toasts
}
