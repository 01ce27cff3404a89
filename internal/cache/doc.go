// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cache provides the per-conversation message cache.
//
// The cache is a read-through/write-through performance layer in front of the
// REST API. It has two tiers: an in-memory map and JSON files on disk, both
// stamped with a last-updated time. Entries older than the freshness window
// (5 minutes by default) are treated as stale and reported as misses; an
// entry exactly at the boundary is stale.
//
// The cache is never the source of truth: duplicate message IDs are rejected
// on every merge regardless of which tier they came from, and persistence
// failures degrade silently to network fetches.
package cache
