// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"sort"
	"time"
)

// =============================================================================
// USER AND ATTACHMENT TYPES
// =============================================================================

// User identifies a chat participant.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Attachment describes a file attached to a message. The file itself lives on
// the server; the client only carries the reference.
type Attachment struct {
	Type string `json:"type"` // "image", "file", ...
	URL  string `json:"url"`
	Name string `json:"name"`
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is a single chat message. IDs are server-assigned and unique within
// a conversation; the client never invents them.
type Message struct {
	ID int64 `json:"id"`

	// ConversationID is populated on socket pushes so the receiver can route
	// the message; REST responses may omit it when the conversation is
	// implied by the request path.
	ConversationID string `json:"conversation_id,omitempty"`

	Sender   User   `json:"sender"`
	Receiver User   `json:"receiver"`
	Content  string `json:"content"`

	Attachments []Attachment `json:"attachments,omitempty"`

	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`

	// Optional task metadata carried when the message references a task.
	TaskID      int64  `json:"task_id,omitempty"`
	TaskTitle   string `json:"task_title,omitempty"`
	Description string `json:"description,omitempty"`

	// ReplyTo is a weak reference by message ID, not ownership. Zero means
	// the message is not a reply.
	ReplyTo int64 `json:"reply_to,omitempty"`
}

// HasContent reports whether the message carries anything sendable:
// non-empty text or at least one attachment.
func (m *Message) HasContent() bool {
	return m.Content != "" || len(m.Attachments) > 0
}

// Summary produces the lightweight representation a conversation keeps for
// its "last message" preview.
func (m *Message) Summary() *MessageSummary {
	return &MessageSummary{
		MessageID: m.ID,
		SenderID:  m.Sender.ID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

// MessageSummary is the last-message preview carried by a Conversation.
type MessageSummary struct {
	MessageID int64     `json:"message_id"`
	SenderID  int64     `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// =============================================================================
// DAY GROUPING
// =============================================================================

// DayGroup is a run of messages sharing a calendar day, ordered by CreatedAt
// ascending. The UI renders one date header per group.
type DayGroup struct {
	Day      time.Time // Midnight, local time
	Messages []*Message
}

// GroupByDay splits messages into day groups. Input order is preserved within
// a day; groups are sorted chronologically.
func GroupByDay(messages []*Message) []DayGroup {
	byDay := make(map[time.Time][]*Message)
	for _, msg := range messages {
		day := truncateToDay(msg.CreatedAt)
		byDay[day] = append(byDay[day], msg)
	}

	days := make([]time.Time, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	groups := make([]DayGroup, 0, len(days))
	for _, day := range days {
		msgs := byDay[day]
		sort.SliceStable(msgs, func(i, j int) bool {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		})
		groups = append(groups, DayGroup{Day: day, Messages: msgs})
	}
	return groups
}

func truncateToDay(t time.Time) time.Time {
	local := t.Local()
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
}
