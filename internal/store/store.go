// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store holds the canonical in-memory conversation and message
// state. It is the single owner of that state: the cache is a read-through
// layer in front of it and the UI renders from it, but only the store
// mutates it.
//
// Selection is modeled as a small state machine (Unselected → Loading →
// Ready or Error). Every BeginSelect hands back a generation token; the
// async join/fetch that follows must present that token to complete, so a
// selection superseded mid-flight is discarded instead of clobbering the
// newer one. The message list is therefore never a mix of two
// conversations' data.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/jeranaias/taskchat/internal/model"
)

// SelectionState is the lifecycle state of the active conversation.
type SelectionState int

const (
	// StateUnselected means no conversation is active.
	StateUnselected SelectionState = iota
	// StateLoading means the active conversation's join/fetch is in flight.
	StateLoading
	// StateReady means the active conversation's messages are loaded.
	StateReady
	// StateError means the join/fetch failed after its automatic retry.
	StateError
)

func (s SelectionState) String() string {
	switch s {
	case StateUnselected:
		return "unselected"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Store is the conversation and message state holder. Safe for concurrent
// use; socket dispatch and UI actions arrive on different goroutines.
type Store struct {
	mu sync.RWMutex

	selfID int64

	conversations map[string]*model.Conversation

	selected   string
	state      SelectionState
	selectErr  error
	generation int64

	// Active conversation's messages: ordered slice plus an id index so
	// duplicate suppression on incoming pushes is O(1).
	messages   []*model.Message
	messageIDs map[int64]struct{}

	onChange func()
}

// New creates an empty store. selfID identifies the local user so unread
// accounting can ignore the user's own messages.
func New(selfID int64) *Store {
	return &Store{
		selfID:        selfID,
		conversations: make(map[string]*model.Conversation),
		messageIDs:    make(map[int64]struct{}),
	}
}

// SetOnChange registers a callback fired after any state change. Called
// outside the store's lock.
func (s *Store) SetOnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Store) notify() {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// =============================================================================
// CONVERSATION LIST
// =============================================================================

// Hydrate merges a fetched conversation list into the store. Existing
// entries are replaced by id; conversations are never deleted, so entries
// that arrived over the socket survive a hydrate from a stale list.
func (s *Store) Hydrate(convs []*model.Conversation) {
	s.mu.Lock()
	for _, c := range convs {
		cc := *c
		s.conversations[c.ID] = &cc
	}
	s.mu.Unlock()
	s.notify()
}

// Upsert adds or replaces a single conversation.
func (s *Store) Upsert(c *model.Conversation) {
	cc := *c
	s.mu.Lock()
	s.conversations[c.ID] = &cc
	s.mu.Unlock()
	s.notify()
}

// Conversation returns a copy of the conversation with the given id.
func (s *Store) Conversation(id string) (model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return model.Conversation{}, false
	}
	return *c, true
}

// Conversations returns all conversations ordered by most recent activity.
func (s *Store) Conversations() []model.Conversation {
	s.mu.RLock()
	out := make([]model.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, *c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return lastActivity(&out[i]).After(lastActivity(&out[j]))
	})
	return out
}

// FindByUser returns conversations involving the given user, most recent
// first.
func (s *Store) FindByUser(userID int64) []model.Conversation {
	var out []model.Conversation
	for _, c := range s.Conversations() {
		if c.InvolvesUser(userID) {
			out = append(out, c)
		}
	}
	return out
}

// FindByUserAndTask returns the conversation bound to both the user and
// the task, if any.
func (s *Store) FindByUserAndTask(userID, taskID int64) (model.Conversation, bool) {
	for _, c := range s.Conversations() {
		if c.InvolvesUser(userID) && c.MatchesTask(taskID) {
			return c, true
		}
	}
	return model.Conversation{}, false
}

// ArchiveConversation flags a conversation archived. Client-side only;
// nothing is deleted and idempotent.
func (s *Store) ArchiveConversation(id string) {
	s.mu.Lock()
	c, ok := s.conversations[id]
	if ok {
		c.Archived = true
	}
	s.mu.Unlock()
	if ok {
		s.notify()
	}
}

// ZeroUnread clears a conversation's unread count, typically after its
// messages are displayed.
func (s *Store) ZeroUnread(id string) {
	s.mu.Lock()
	c, ok := s.conversations[id]
	changed := ok && c.UnreadCount != 0
	if changed {
		c.UnreadCount = 0
	}
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// =============================================================================
// SELECTION STATE MACHINE
// =============================================================================

// BeginSelect makes id the active conversation and moves the selection to
// Loading, discarding the previous message list. The returned generation
// must be presented to CompleteSelect or FailSelect; a call made obsolete
// by a newer BeginSelect will find its generation stale and be ignored.
func (s *Store) BeginSelect(id string) int64 {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.selected = id
	s.state = StateLoading
	s.selectErr = nil
	s.messages = nil
	s.messageIDs = make(map[int64]struct{})
	s.mu.Unlock()
	s.notify()
	return gen
}

// CompleteSelect installs the fetched message list and moves the selection
// to Ready. Returns false (and changes nothing) if gen is stale.
func (s *Store) CompleteSelect(gen int64, msgs []*model.Message) bool {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return false
	}
	s.state = StateReady
	s.selectErr = nil
	s.messages = make([]*model.Message, 0, len(msgs))
	s.messageIDs = make(map[int64]struct{}, len(msgs))
	for _, m := range msgs {
		if _, dup := s.messageIDs[m.ID]; dup {
			continue
		}
		mc := *m
		s.messages = append(s.messages, &mc)
		s.messageIDs[m.ID] = struct{}{}
	}
	s.mu.Unlock()
	s.notify()
	return true
}

// FailSelect moves the selection to Error. Returns false if gen is stale.
func (s *Store) FailSelect(gen int64, err error) bool {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return false
	}
	s.state = StateError
	s.selectErr = err
	s.mu.Unlock()
	s.notify()
	return true
}

// ClearSelection returns the store to the unselected state.
func (s *Store) ClearSelection() {
	s.mu.Lock()
	s.generation++
	s.selected = ""
	s.state = StateUnselected
	s.selectErr = nil
	s.messages = nil
	s.messageIDs = make(map[int64]struct{})
	s.mu.Unlock()
	s.notify()
}

// Selected returns the active conversation id and selection state.
func (s *Store) Selected() (string, SelectionState) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected, s.state
}

// SelectionError returns the error that put the selection in StateError.
func (s *Store) SelectionError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectErr
}

// Messages returns a copy of the active conversation's message list.
func (s *Store) Messages() []*model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Message, len(s.messages))
	for i, m := range s.messages {
		mc := *m
		out[i] = &mc
	}
	return out
}

// =============================================================================
// INCOMING MESSAGES
// =============================================================================

// ApplyIncomingMessage folds a pushed message into state. If the message
// belongs to the active conversation it is appended, unless its id is
// already present. The parent conversation's lastMessage is always updated;
// unreadCount is bumped only for messages from other users in conversations
// that are neither active nor archived. Reports whether anything changed.
func (s *Store) ApplyIncomingMessage(conversationID string, msg *model.Message) bool {
	s.mu.Lock()
	changed := false

	if conversationID == s.selected && s.selected != "" {
		if _, dup := s.messageIDs[msg.ID]; !dup {
			mc := *msg
			s.messages = append(s.messages, &mc)
			s.messageIDs[msg.ID] = struct{}{}
			changed = true
		}
	}

	if c, ok := s.conversations[conversationID]; ok {
		c.LastMessage = msg.Summary()
		if msg.Sender.ID != s.selfID && conversationID != s.selected && !c.Archived {
			c.UnreadCount++
		}
		changed = true
	}

	s.mu.Unlock()
	if changed {
		s.notify()
	}
	return changed
}

func lastActivity(c *model.Conversation) time.Time {
	if c.LastMessage != nil {
		return c.LastMessage.CreatedAt
	}
	return c.CreatedAt
}
