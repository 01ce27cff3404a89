// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package socket

import (
	"encoding/json"

	"github.com/jeranaias/taskchat/internal/model"
)

// =============================================================================
// WIRE FORMAT
// =============================================================================

// Inbound and outbound event names. The socket speaks JSON frames; every
// frame names its event, and request frames additionally carry a client
// sequence number the server echoes in its acknowledgment.
const (
	// Outbound
	EventAuthenticate       = "authenticate"
	EventJoinConversation   = "join_conversation"
	EventSendMessage        = "send_message"
	EventCreateConversation = "create_conversation"
	EventTyping             = "typing"
	EventStopTyping         = "stop_typing"
	EventDisconnect         = "disconnect"

	// Inbound
	EventAuthenticated   = "authenticated"
	EventAck             = "ack"
	EventNewMessage      = "new_message"
	EventUserTyping      = "user_typing"
	EventUserStopTyping  = "user_stop_typing"
	EventUserOnline      = "user_online"
	EventUserOffline     = "user_offline"
	EventNewConversation = "new_conversation"
)

// errCodeAuth marks ack failures caused by an expired or invalid session.
// The join protocol restarts from re-authentication when it sees this code.
const errCodeAuth = "auth"

// frame is the JSON envelope for every socket message, both directions.
type frame struct {
	Event string          `json:"event"`
	Seq   int64           `json:"seq,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`

	// Acknowledgment fields, set on EventAck frames only.
	Success bool   `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Ack is a server acknowledgment for a request frame.
type Ack struct {
	Seq     int64
	Success bool
	Error   string
	Code    string
	Data    json.RawMessage
}

// authRelated reports whether the ack failed for session/authentication
// reasons.
func (a Ack) authRelated() bool {
	return !a.Success && a.Code == errCodeAuth
}

// =============================================================================
// OUTBOUND PAYLOADS
// =============================================================================

// AuthPayload identifies the local user on authenticate. ClientID is a
// per-process random id so the server can tell a user's devices apart.
type AuthPayload struct {
	UserID         int64  `json:"userId"`
	OrganizationID int64  `json:"organizationId"`
	ClientID       string `json:"clientId"`
}

// JoinPayload subscribes the connection to a conversation's events.
type JoinPayload struct {
	ConversationID string `json:"conversationId"`
}

// SendMessagePayload is the full outbound message.
type SendMessagePayload struct {
	ConversationID string             `json:"conversationId"`
	ReceiverID     int64              `json:"receiverId"`
	Content        string             `json:"content"`
	Attachments    []model.Attachment `json:"attachments,omitempty"`
	TaskID         int64              `json:"taskId,omitempty"`
	TaskTitle      string             `json:"taskTitle,omitempty"`
	Description    string             `json:"description,omitempty"`
	ReplyTo        int64              `json:"replyTo,omitempty"`
}

// CreateConversationPayload asks the server to create a conversation.
type CreateConversationPayload struct {
	OtherUserID int64  `json:"otherUserId"`
	TaskID      int64  `json:"taskId,omitempty"`
	TaskTitle   string `json:"taskTitle,omitempty"`
	Description string `json:"description,omitempty"`
}

// TypingPayload carries typing and stop_typing notifications.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	ReceiverID     int64  `json:"receiverId"`
}

// =============================================================================
// INBOUND PAYLOADS
// =============================================================================

// typingEvent is the payload of user_typing / user_stop_typing.
type typingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         int64  `json:"userId"`
	UserName       string `json:"userName"`
}

// presenceEvent is the payload of user_online / user_offline.
type presenceEvent struct {
	UserID int64 `json:"userId"`
}

// =============================================================================
// EVENT HANDLER
// =============================================================================

// EventHandler receives inbound pushes decoded off the socket. The read loop
// calls these sequentially; implementations dispatch into the store, cache,
// and presence tracker and must not block.
type EventHandler interface {
	HandleNewMessage(msg *model.Message)
	HandleNewConversation(conv *model.Conversation)
	HandleUserTyping(conversationID string, userID int64, userName string)
	HandleUserStoppedTyping(conversationID string, userID int64)
	HandleUserOnline(userID int64)
	HandleUserOffline(userID int64)
	HandleDisconnected(reason string)
}
