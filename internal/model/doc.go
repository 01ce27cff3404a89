// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations, messages,
// and task chat contexts.
//
// These types mirror the server's wire representation: message IDs are
// server-assigned integers, conversation IDs are opaque strings, and a
// conversation may optionally be bound to a task.
//
// # Key Types
//
//   - Conversation: a durable thread between two users, optionally task-bound
//   - Message: a single message with optional attachments and task metadata
//   - TaskChatContext: ephemeral client-side intent to discuss a task with a
//     user before any conversation exists
package model
