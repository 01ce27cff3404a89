// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package presence tracks which users are online and who is currently
// typing.
//
// Online state is a plain idempotent set fed by user_online/user_offline
// pushes. Typing state is ephemeral: each typing event (re)arms a per-user
// timer, and the indicator clears itself after the expiry window (3 seconds
// by default) unless renewed. An explicit stop always wins over a
// concurrently firing timer, and clearing an already-cleared indicator is a
// no-op.
package presence
