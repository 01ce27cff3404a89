// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// TaskChatContext is an ephemeral, locally-persisted record of a pending
// intent to discuss a task with a user before any conversation exists.
//
// It is cleared after the first message referencing it is sent, or when the
// user dismisses it. AutoOpen starts true; the resolver flips it to false
// once the context has been consumed by selecting an existing conversation,
// which prevents the flow from ever auto-creating a second conversation for
// the same (user, task) pair.
type TaskChatContext struct {
	TaskID      int64  `json:"task_id"`
	TaskTitle   string `json:"task_title"`
	UserID      int64  `json:"user_id"`
	UserName    string `json:"user_name"`
	Description string `json:"description,omitempty"`
	AutoOpen    bool   `json:"auto_open"`
}

// MatchesConversation reports how well a conversation fits this context.
// A task match implies a user match.
func (t *TaskChatContext) MatchesConversation(c *Conversation) (user, task bool) {
	if c == nil || !c.InvolvesUser(t.UserID) {
		return false, false
	}
	return true, c.MatchesTask(t.TaskID)
}
