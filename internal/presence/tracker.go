// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package presence

import (
	"sort"
	"sync"
	"time"
)

// DefaultTypingExpiry is how long a typing indicator lives without renewal.
const DefaultTypingExpiry = 3 * time.Second

// =============================================================================
// TRACKER
// =============================================================================

// typingEntry pairs a display name with the timer that will clear it.
type typingEntry struct {
	name  string
	timer *time.Timer
}

// Tracker holds the online-user set and the self-expiring typing map.
// All methods are safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	online map[int64]bool
	typing map[int64]*typingEntry
	expiry time.Duration

	// onChange, when set, fires after every observable state change. It is
	// invoked without the lock held.
	onChange func()
}

// NewTracker creates a tracker with the given typing expiry.
// An expiry of zero means DefaultTypingExpiry.
func NewTracker(expiry time.Duration) *Tracker {
	if expiry <= 0 {
		expiry = DefaultTypingExpiry
	}
	return &Tracker{
		online: make(map[int64]bool),
		typing: make(map[int64]*typingEntry),
		expiry: expiry,
	}
}

// SetOnChange registers a callback fired after every state change, typically
// used by the UI to re-render. Must be set before events start flowing.
func (t *Tracker) SetOnChange(fn func()) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// =============================================================================
// ONLINE SET
// =============================================================================

// UserOnline marks a user online. Idempotent.
func (t *Tracker) UserOnline(userID int64) {
	t.mu.Lock()
	changed := !t.online[userID]
	t.online[userID] = true
	fn := t.onChange
	t.mu.Unlock()

	if changed && fn != nil {
		fn()
	}
}

// UserOffline marks a user offline. Idempotent.
func (t *Tracker) UserOffline(userID int64) {
	t.mu.Lock()
	changed := t.online[userID]
	delete(t.online, userID)
	fn := t.onChange
	t.mu.Unlock()

	if changed && fn != nil {
		fn()
	}
}

// IsOnline reports whether a user is currently online.
func (t *Tracker) IsOnline(userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online[userID]
}

// Online returns the sorted set of online user IDs.
func (t *Tracker) Online() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]int64, 0, len(t.online))
	for id := range t.online {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// =============================================================================
// TYPING MAP
// =============================================================================

// UserTyping marks a user as typing and schedules the auto-clear. Each call
// resets the expiry timer, so the indicator clears only after a full quiet
// window measured from the most recent event.
func (t *Tracker) UserTyping(userID int64, name string) {
	t.mu.Lock()
	if existing, ok := t.typing[userID]; ok {
		existing.timer.Stop()
	}

	entry := &typingEntry{name: name}
	entry.timer = time.AfterFunc(t.expiry, func() {
		t.expire(userID, entry)
	})
	t.typing[userID] = entry
	fn := t.onChange
	t.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// UserStoppedTyping clears the indicator immediately, cancelling any pending
// auto-clear. A stop arriving after the auto-clear already fired is a no-op.
func (t *Tracker) UserStoppedTyping(userID int64) {
	t.mu.Lock()
	entry, ok := t.typing[userID]
	if ok {
		entry.timer.Stop()
		delete(t.typing, userID)
	}
	fn := t.onChange
	t.mu.Unlock()

	if ok && fn != nil {
		fn()
	}
}

// IsTyping reports whether a user is currently typing.
func (t *Tracker) IsTyping(userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.typing[userID]
	return ok
}

// Typing returns a snapshot of userID -> display name for everyone typing.
func (t *Tracker) Typing() map[int64]string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[int64]string, len(t.typing))
	for id, entry := range t.typing {
		out[id] = entry.name
	}
	return out
}

// expire is the timer callback. An explicit stop or a newer typing event
// wins over a concurrently firing timer: the entry is only removed while it
// is still the registered one for this user.
func (t *Tracker) expire(userID int64, entry *typingEntry) {
	t.mu.Lock()
	current, ok := t.typing[userID]
	if !ok || current != entry {
		t.mu.Unlock()
		return
	}
	delete(t.typing, userID)
	fn := t.onChange
	t.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Reset clears all presence and typing state, cancelling pending timers.
// Called when the socket disconnects, since pushed state is no longer valid.
func (t *Tracker) Reset() {
	t.mu.Lock()
	for _, entry := range t.typing {
		entry.timer.Stop()
	}
	t.online = make(map[int64]bool)
	t.typing = make(map[int64]*typingEntry)
	fn := t.onChange
	t.mu.Unlock()

	if fn != nil {
		fn()
	}
}
