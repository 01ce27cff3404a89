// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"sync"
	"time"

	"github.com/jeranaias/taskchat/internal/model"
)

// DefaultTTL is the default freshness window for cached message lists.
const DefaultTTL = 5 * time.Minute

// =============================================================================
// MESSAGE CACHE
// =============================================================================

// Entry is one cached message list.
type Entry struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []*model.Message `json:"messages"`
	LastUpdated    time.Time        `json:"last_updated"`
}

// Stats holds cache statistics.
type Stats struct {
	Hits    int
	Misses  int
	Entries int
	HitRate float64
}

// MessageCache caches message lists per conversation with a freshness window.
type MessageCache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	ttl     time.Duration

	// persist is the disk tier; nil means memory-only (tests).
	persist *diskStore

	// now is swappable for boundary tests.
	now func() time.Time

	hits   int
	misses int
}

// New creates a memory-only message cache with the given TTL.
// A ttl of zero means DefaultTTL.
func New(ttl time.Duration) *MessageCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MessageCache{
		entries: make(map[string]*Entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// NewPersistent creates a message cache backed by JSON files under dir.
// Disk failures are logged and degrade to cache misses; they never propagate.
func NewPersistent(dir string, ttl time.Duration) *MessageCache {
	c := New(ttl)
	c.persist = newDiskStore(dir)
	return c
}

// Get returns the cached messages for a conversation, or nil on a miss.
// An entry is fresh while now-lastUpdated < TTL; at exactly TTL it is stale.
// The memory tier is consulted first, then disk; a fresh disk entry backfills
// memory.
func (c *MessageCache) Get(conversationID string) []*model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[conversationID]; ok {
		if c.fresh(entry) {
			c.hits++
			return cloneMessages(entry.Messages)
		}
		// Stale memory entry; the disk copy is at best the same age.
		delete(c.entries, conversationID)
		c.misses++
		return nil
	}

	if c.persist != nil {
		if entry, err := c.persist.load(conversationID); err == nil && entry != nil && c.fresh(entry) {
			c.entries[conversationID] = entry
			c.hits++
			return cloneMessages(entry.Messages)
		}
	}

	c.misses++
	return nil
}

// Peek returns cached messages regardless of freshness, or nil if no entry
// exists in either tier. Callers use it to find the newest known message id
// so a stale entry can be topped up incrementally instead of refetched
// wholesale. Peek does not count toward hit/miss stats.
func (c *MessageCache) Peek(conversationID string) []*model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[conversationID]; ok {
		return cloneMessages(entry.Messages)
	}
	if c.persist != nil {
		if entry, err := c.persist.load(conversationID); err == nil && entry != nil {
			return cloneMessages(entry.Messages)
		}
	}
	return nil
}

// Set overwrites the cached messages for a conversation, stamping the current
// time in both tiers.
func (c *MessageCache) Set(conversationID string, messages []*model.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &Entry{
		ConversationID: conversationID,
		Messages:       dedupeMessages(messages),
		LastUpdated:    c.now(),
	}
	c.entries[conversationID] = entry
	if c.persist != nil {
		c.persist.store(entry)
	}
}

// Append merges new messages into an existing entry without duplicating IDs
// and re-stamps the freshness time. Appending to an absent entry creates it.
// Only callers holding a complete message list (a fetch result) may create
// entries this way; incremental sources use AppendIfPresent.
func (c *MessageCache) Append(conversationID string, newMessages []*model.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lookupLocked(conversationID)
	if !ok {
		entry = &Entry{ConversationID: conversationID}
	}
	c.mergeLocked(entry, newMessages)
}

// AppendIfPresent merges new messages into an existing entry, in either
// tier, and re-stamps it. An absent entry stays absent: a single pushed
// message for a never-fetched conversation must not masquerade as that
// conversation's full history and suppress the real fetch. Reports whether
// an entry existed.
func (c *MessageCache) AppendIfPresent(conversationID string, newMessages []*model.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lookupLocked(conversationID)
	if !ok {
		return false
	}
	c.mergeLocked(entry, newMessages)
	return true
}

// lookupLocked finds an entry in memory or on disk, ignoring freshness.
func (c *MessageCache) lookupLocked(conversationID string) (*Entry, bool) {
	if entry, ok := c.entries[conversationID]; ok {
		return entry, true
	}
	if c.persist != nil {
		if loaded, err := c.persist.load(conversationID); err == nil && loaded != nil {
			return loaded, true
		}
	}
	return nil, false
}

// mergeLocked folds newMessages into entry, skipping known IDs, and stores
// the re-stamped entry in both tiers.
func (c *MessageCache) mergeLocked(entry *Entry, newMessages []*model.Message) {
	seen := make(map[int64]bool, len(entry.Messages))
	for _, msg := range entry.Messages {
		seen[msg.ID] = true
	}
	for _, msg := range newMessages {
		if seen[msg.ID] {
			continue
		}
		seen[msg.ID] = true
		entry.Messages = append(entry.Messages, msg)
	}

	entry.LastUpdated = c.now()
	c.entries[entry.ConversationID] = entry
	if c.persist != nil {
		c.persist.store(entry)
	}
}

// Invalidate removes one conversation's entry from both tiers.
func (c *MessageCache) Invalidate(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, conversationID)
	if c.persist != nil {
		c.persist.remove(conversationID)
	}
}

// InvalidateAll clears the entire cache, both tiers.
func (c *MessageCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*Entry)
	if c.persist != nil {
		c.persist.removeAll()
	}
}

// Stats returns hit/miss statistics.
func (c *MessageCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	rate := 0.0
	if total := c.hits + c.misses; total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{Hits: c.hits, Misses: c.misses, Entries: len(c.entries), HitRate: rate}
}

// fresh reports whether the entry is within the freshness window.
func (c *MessageCache) fresh(entry *Entry) bool {
	return c.now().Sub(entry.LastUpdated) < c.ttl
}

// =============================================================================
// HELPERS
// =============================================================================

// dedupeMessages drops later duplicates by ID, preserving order.
func dedupeMessages(messages []*model.Message) []*model.Message {
	seen := make(map[int64]bool, len(messages))
	out := make([]*model.Message, 0, len(messages))
	for _, msg := range messages {
		if seen[msg.ID] {
			continue
		}
		seen[msg.ID] = true
		out = append(out, msg)
	}
	return out
}

// cloneMessages returns a copy of the slice so callers can't mutate the
// cached backing array. The messages themselves are shared.
func cloneMessages(messages []*model.Message) []*model.Message {
	out := make([]*model.Message, len(messages))
	copy(out, messages)
	return out
}
