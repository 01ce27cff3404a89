// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation is a durable thread between the local user and one other
// participant. The local user is implicit; only the other side is stored.
//
// Conversations are created server-side (on first message or an explicit
// create call) and hydrated into the client by a REST fetch or a
// new_conversation push. They are never deleted locally, only archived.
type Conversation struct {
	ID        string `json:"id"`
	OtherUser User   `json:"other_user"`

	// Optional task binding. TaskID zero means the conversation is general.
	TaskID      int64  `json:"task_id,omitempty"`
	TaskTitle   string `json:"task_title,omitempty"`
	Description string `json:"description,omitempty"`

	// Optional daily-task binding, independent of the task binding above.
	DailyTaskID int64 `json:"daily_task_id,omitempty"`

	UnreadCount int             `json:"unread_count"`
	LastMessage *MessageSummary `json:"last_message,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`

	// Archived is a client-side flag only; the server never sees it and no
	// data is removed when it is set.
	Archived bool `json:"archived,omitempty"`
}

// IsTaskBound reports whether the conversation is bound to a task.
func (c *Conversation) IsTaskBound() bool {
	return c.TaskID != 0
}

// InvolvesUser reports whether the given user is the other participant.
func (c *Conversation) InvolvesUser(userID int64) bool {
	return c.OtherUser.ID == userID
}

// MatchesTask reports whether the conversation is bound to the given task.
func (c *Conversation) MatchesTask(taskID int64) bool {
	return c.TaskID != 0 && c.TaskID == taskID
}
