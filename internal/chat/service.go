// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat wires the conversation store, message cache, presence
// tracker, socket client, REST client, and task-context repository into one
// service. All cross-component flows live here: selecting a conversation
// (join plus cached-or-network fetch), composing and retrying sends, and
// resolving a pending task context into an existing or new conversation.
// The UI talks only to this package.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"time"

	"github.com/jeranaias/taskchat/internal/cache"
	"github.com/jeranaias/taskchat/internal/model"
	"github.com/jeranaias/taskchat/internal/presence"
	"github.com/jeranaias/taskchat/internal/rest"
	"github.com/jeranaias/taskchat/internal/socket"
	"github.com/jeranaias/taskchat/internal/store"
	"github.com/jeranaias/taskchat/internal/taskctx"
)

// ErrEmptyMessage rejects sends with neither content nor attachments.
var ErrEmptyMessage = errors.New("message needs content or an attachment")

// ErrNoConversation indicates an operation that needs a bound conversation
// ran without one.
var ErrNoConversation = errors.New("no conversation selected")

// Socket is the connection-manager surface the service drives. Satisfied by
// *socket.Client; tests substitute a fake.
type Socket interface {
	Connect(ctx context.Context) error
	Connected() bool
	Close() error
	JoinConversation(ctx context.Context, conversationID string) error
	SendMessage(ctx context.Context, payload socket.SendMessagePayload) error
	CreateConversation(ctx context.Context, payload socket.CreateConversationPayload) (*model.Conversation, error)
	Typing(conversationID string, receiverID int64)
	StopTyping(conversationID string, receiverID int64)
}

// API is the REST surface the service fetches from. Satisfied by
// *rest.Client.
type API interface {
	ListConversations(ctx context.Context) ([]*model.Conversation, error)
	GetMessages(ctx context.Context, conversationID string, page, pageSize int) (*rest.MessagesPage, error)
	GetMessagesSince(ctx context.Context, conversationID string, sinceID int64) ([]*model.Message, error)
	GetContacts(ctx context.Context) ([]model.User, error)
	UploadAttachment(ctx context.Context, filename string, content io.Reader) (*model.Attachment, error)
}

// Options configures a Service.
type Options struct {
	SelfID int64

	Store    *store.Store
	Cache    *cache.MessageCache
	Presence *presence.Tracker
	Socket   Socket
	API      API
	TaskCtx  *taskctx.Repository

	// SendRetries bounds transparent send retries; RetryDelay is the fixed
	// wait between them and between the selection retry.
	SendRetries int
	RetryDelay  time.Duration

	// MessagePageSize is the page size for full history fetches.
	MessagePageSize int
}

// Service is the application-state container behind the chat UI.
type Service struct {
	selfID int64

	store    *store.Store
	cache    *cache.MessageCache
	presence *presence.Tracker
	sock     Socket
	api      API
	taskRepo *taskctx.Repository

	sendRetries int
	retryDelay  time.Duration
	pageSize    int

	// deferred is a task context waiting for the user's first message
	// before a conversation is created. Guarded by the store's selection
	// flow being single-entrant from the UI; reads and writes happen on
	// UI-initiated calls only.
	deferred *model.TaskChatContext

	notify func()
}

// NewService assembles a service from its parts.
func NewService(opts Options) *Service {
	if opts.SendRetries <= 0 {
		opts.SendRetries = 2
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.MessagePageSize <= 0 {
		opts.MessagePageSize = 50
	}
	return &Service{
		selfID:      opts.SelfID,
		store:       opts.Store,
		cache:       opts.Cache,
		presence:    opts.Presence,
		sock:        opts.Socket,
		api:         opts.API,
		taskRepo:    opts.TaskCtx,
		sendRetries: opts.SendRetries,
		retryDelay:  opts.RetryDelay,
		pageSize:    opts.MessagePageSize,
	}
}

// SetOnChange registers the re-render callback, fanned out to the store and
// presence tracker.
func (s *Service) SetOnChange(fn func()) {
	s.notify = fn
	s.store.SetOnChange(fn)
	s.presence.SetOnChange(fn)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Start connects the socket, hydrates the conversation list, and resolves
// any pending task context. A failed hydrate is logged, not fatal; the list
// fills in from socket pushes.
func (s *Service) Start(ctx context.Context) error {
	if err := s.sock.Connect(ctx); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}

	if convs, err := s.api.ListConversations(ctx); err != nil {
		log.Printf("chat: conversation hydrate failed: %v", err)
	} else {
		s.store.Hydrate(convs)
	}

	if err := s.ResolveTaskContext(ctx); err != nil {
		log.Printf("chat: task context resolution failed: %v", err)
	}
	return nil
}

// Close tears down the socket and presence state.
func (s *Service) Close() error {
	s.presence.Reset()
	return s.sock.Close()
}

// RefreshConversations refetches and merges the conversation list.
func (s *Service) RefreshConversations(ctx context.Context) error {
	convs, err := s.api.ListConversations(ctx)
	if err != nil {
		return err
	}
	s.store.Hydrate(convs)
	return nil
}

// Contacts lists users a conversation can be started with.
func (s *Service) Contacts(ctx context.Context) ([]model.User, error) {
	return s.api.GetContacts(ctx)
}

// =============================================================================
// SELECTION
// =============================================================================

// SelectConversation makes a conversation active: join its room, then load
// its messages cache-first. One automatic retry after a fixed delay; only
// then does the selection surface an error. A selection superseded while in
// flight is silently discarded by the store's generation guard.
func (s *Service) SelectConversation(ctx context.Context, conversationID string) error {
	gen := s.store.BeginSelect(conversationID)

	var lastErr error
	for attempt := 0; attempt <= 1; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.retryDelay):
			}
			if id, _ := s.store.Selected(); id != conversationID {
				return nil // superseded while waiting
			}
		}

		msgs, err := s.loadMessages(ctx, conversationID)
		if err != nil {
			lastErr = err
			continue
		}
		if s.store.CompleteSelect(gen, msgs) {
			s.store.ZeroUnread(conversationID)
		}
		return nil
	}

	s.store.FailSelect(gen, lastErr)
	return lastErr
}

// loadMessages joins the conversation and returns its messages: fresh cache
// if available, an incremental since-id top-up when a stale entry exists,
// and a full fetch otherwise. Network results backfill the cache.
func (s *Service) loadMessages(ctx context.Context, conversationID string) ([]*model.Message, error) {
	if err := s.sock.JoinConversation(ctx, conversationID); err != nil {
		return nil, fmt.Errorf("joining conversation: %w", err)
	}

	if msgs := s.cache.Get(conversationID); msgs != nil {
		return msgs, nil
	}

	// A stale entry still names the newest message we have; fetch only what
	// came after it.
	if stale := s.cache.Peek(conversationID); len(stale) > 0 {
		since := newestID(stale)
		fresh, err := s.api.GetMessagesSince(ctx, conversationID, since)
		if err == nil {
			s.cache.Append(conversationID, fresh)
			if msgs := s.cache.Get(conversationID); msgs != nil {
				return msgs, nil
			}
		}
		log.Printf("chat: incremental refresh failed, refetching: %v", err)
	}

	page, err := s.api.GetMessages(ctx, conversationID, 1, s.pageSize)
	if err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}
	s.cache.Set(conversationID, page.Messages)
	return page.Messages, nil
}

func newestID(msgs []*model.Message) int64 {
	var max int64
	for _, m := range msgs {
		if m.ID > max {
			max = m.ID
		}
	}
	return max
}

// ArchiveConversation flags a conversation archived, client-side only.
func (s *Service) ArchiveConversation(conversationID string) {
	s.store.ArchiveConversation(conversationID)
}

// =============================================================================
// SENDING
// =============================================================================

// SendMessage composes and sends to the given conversation. Preconditions
// and retry policy:
//   - content must be non-empty or at least one attachment present,
//   - a down socket gets one reconnect attempt before the send fails,
//   - an error acknowledgment is retried transparently with a fixed delay,
//     bounded, before a send error surfaces; the message is never silently
//     dropped,
//   - the first successful send that satisfies a pending task context
//     clears that context.
//
// With no conversationID and a deferred task context pending, the send
// first creates and joins the conversation (see sendDeferred).
func (s *Service) SendMessage(ctx context.Context, conversationID, content string, attachments []model.Attachment, replyTo int64) error {
	if content == "" && len(attachments) == 0 {
		return ErrEmptyMessage
	}

	if conversationID == "" {
		if s.deferred != nil {
			return s.sendDeferred(ctx, content, attachments)
		}
		return ErrNoConversation
	}

	conv, ok := s.store.Conversation(conversationID)
	if !ok {
		return fmt.Errorf("unknown conversation %s", conversationID)
	}

	payload := socket.SendMessagePayload{
		ConversationID: conversationID,
		ReceiverID:     conv.OtherUser.ID,
		Content:        content,
		Attachments:    attachments,
		ReplyTo:        replyTo,
	}
	if tc := s.pendingContextFor(&conv); tc != nil {
		payload.TaskID = tc.TaskID
		payload.TaskTitle = tc.TaskTitle
		payload.Description = tc.Description
	}

	if err := s.sendWithRetry(ctx, payload); err != nil {
		return err
	}
	s.consumeContextFor(&conv)
	return nil
}

// sendWithRetry performs the bounded retry loop around a single-exchange
// socket send.
func (s *Service) sendWithRetry(ctx context.Context, payload socket.SendMessagePayload) error {
	var lastErr error
	for attempt := 0; attempt <= s.sendRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.retryDelay):
			}
		}
		if err := s.sock.SendMessage(ctx, payload); err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		return nil
	}
	return lastErr
}

// UploadAttachment stages a file on the server ahead of a send.
func (s *Service) UploadAttachment(ctx context.Context, filename string, content io.Reader) (*model.Attachment, error) {
	return s.api.UploadAttachment(ctx, filename, content)
}

// Typing forwards a local typing notification for the active conversation.
func (s *Service) Typing() {
	if id, conv, ok := s.activeConversation(); ok {
		s.sock.Typing(id, conv.OtherUser.ID)
	}
}

// StopTyping forwards the local stop-typing notification.
func (s *Service) StopTyping() {
	if id, conv, ok := s.activeConversation(); ok {
		s.sock.StopTyping(id, conv.OtherUser.ID)
	}
}

func (s *Service) activeConversation() (string, model.Conversation, bool) {
	id, state := s.store.Selected()
	if id == "" || state == store.StateUnselected {
		return "", model.Conversation{}, false
	}
	conv, ok := s.store.Conversation(id)
	return id, conv, ok
}

// =============================================================================
// TASK CONTEXT RESOLUTION
// =============================================================================

// ResolveTaskContext maps a pending task context onto a conversation:
//
//  1. A conversation with the same user bound to the same task is resumed.
//  2. Failing that, a general conversation with that user is selected and
//     the context marked consumed, so no duplicate is ever created for it.
//  3. Otherwise resolution defers: no conversation is created until the
//     user actually sends a first message.
//
// Re-entry after the context was consumed or cleared is a no-op, which is
// what bounds auto-creation to one conversation per (user, task) pair.
func (s *Service) ResolveTaskContext(ctx context.Context) error {
	tc, err := s.taskRepo.Get()
	if errors.Is(err, taskctx.ErrNoContext) {
		return nil
	}
	if err != nil {
		return err
	}
	if !tc.AutoOpen {
		return nil
	}

	if conv, ok := s.store.FindByUserAndTask(tc.UserID, tc.TaskID); ok {
		return s.SelectConversation(ctx, conv.ID)
	}

	if convs := s.store.FindByUser(tc.UserID); len(convs) > 0 {
		if err := s.SelectConversation(ctx, convs[0].ID); err != nil {
			return err
		}
		if err := s.taskRepo.MarkConsumed(); err != nil {
			log.Printf("chat: marking task context consumed: %v", err)
		}
		return nil
	}

	s.deferred = tc
	return nil
}

// HasDeferredContext reports whether a first-message send will create a
// conversation.
func (s *Service) HasDeferredContext() bool {
	return s.deferred != nil
}

// DeferredContext returns the pending context, for the UI's banner.
func (s *Service) DeferredContext() *model.TaskChatContext {
	if s.deferred == nil {
		return nil
	}
	tc := *s.deferred
	return &tc
}

// sendDeferred runs the create → join → send chain for a deferred task
// context. Atomic from the caller's view: any step failing surfaces one
// error and binds nothing in the store, so a retry starts clean. A
// conversation that appeared in the meantime (socket push, another client)
// is reused rather than duplicated.
func (s *Service) sendDeferred(ctx context.Context, content string, attachments []model.Attachment) error {
	tc := s.deferred

	if conv, ok := s.store.FindByUserAndTask(tc.UserID, tc.TaskID); ok {
		s.deferred = nil
		if err := s.SelectConversation(ctx, conv.ID); err != nil {
			return err
		}
		return s.SendMessage(ctx, conv.ID, content, attachments, 0)
	}

	conv, err := s.sock.CreateConversation(ctx, socket.CreateConversationPayload{
		OtherUserID: tc.UserID,
		TaskID:      tc.TaskID,
		TaskTitle:   tc.TaskTitle,
		Description: tc.Description,
	})
	if err != nil {
		return fmt.Errorf("creating conversation: %w", err)
	}

	if err := s.sock.JoinConversation(ctx, conv.ID); err != nil {
		return fmt.Errorf("joining new conversation: %w", err)
	}

	err = s.sendWithRetry(ctx, socket.SendMessagePayload{
		ConversationID: conv.ID,
		ReceiverID:     tc.UserID,
		Content:        content,
		Attachments:    attachments,
		TaskID:         tc.TaskID,
		TaskTitle:      tc.TaskTitle,
		Description:    tc.Description,
	})
	if err != nil {
		return fmt.Errorf("sending first message: %w", err)
	}

	// All three steps succeeded; only now does the conversation bind.
	s.store.Upsert(conv)
	gen := s.store.BeginSelect(conv.ID)
	s.store.CompleteSelect(gen, nil)
	s.deferred = nil
	if err := s.taskRepo.Clear(); err != nil {
		log.Printf("chat: clearing task context: %v", err)
	}
	return nil
}

// pendingContextFor returns the stored task context if it targets the given
// conversation's user, so sends can carry the task metadata.
func (s *Service) pendingContextFor(conv *model.Conversation) *model.TaskChatContext {
	tc, err := s.taskRepo.Get()
	if err != nil {
		return nil
	}
	if userMatch, _ := tc.MatchesConversation(conv); !userMatch {
		return nil
	}
	return tc
}

// consumeContextFor clears the task context after the first successful send
// that references it. Clearing is idempotent, so later sends find nothing
// to consume.
func (s *Service) consumeContextFor(conv *model.Conversation) {
	tc, err := s.taskRepo.Get()
	if err != nil {
		return
	}
	if userMatch, _ := tc.MatchesConversation(conv); !userMatch {
		return
	}
	if err := s.taskRepo.Clear(); err != nil {
		log.Printf("chat: clearing task context: %v", err)
	}
	s.deferred = nil
}

// =============================================================================
// SOCKET EVENT HANDLING
// =============================================================================

// Events returns the socket.EventHandler that routes pushes into the store,
// cache, and presence tracker.
func (s *Service) Events() socket.EventHandler {
	return (*serviceEvents)(s)
}

// serviceEvents keeps the EventHandler methods off the Service's public
// API surface.
type serviceEvents Service

func (e *serviceEvents) HandleNewMessage(m *model.Message) {
	s := (*Service)(e)
	if m.ConversationID == "" {
		log.Printf("chat: dropping message %d without conversation id", m.ID)
		return
	}
	s.store.ApplyIncomingMessage(m.ConversationID, m)
	// Merge into already-cached history only. A push must never seed the
	// cache for a conversation whose history was never fetched, or the
	// lone message would be served as the whole conversation.
	s.cache.AppendIfPresent(m.ConversationID, []*model.Message{m})
	// A message from the peer means they stopped typing.
	if m.Sender.ID != s.selfID {
		s.presence.UserStoppedTyping(m.Sender.ID)
	}
}

func (e *serviceEvents) HandleNewConversation(c *model.Conversation) {
	(*Service)(e).store.Upsert(c)
}

func (e *serviceEvents) HandleUserTyping(conversationID string, userID int64, userName string) {
	(*Service)(e).presence.UserTyping(userID, userName)
}

func (e *serviceEvents) HandleUserStoppedTyping(conversationID string, userID int64) {
	(*Service)(e).presence.UserStoppedTyping(userID)
}

func (e *serviceEvents) HandleUserOnline(userID int64) {
	(*Service)(e).presence.UserOnline(userID)
}

func (e *serviceEvents) HandleUserOffline(userID int64) {
	(*Service)(e).presence.UserOffline(userID)
}

func (e *serviceEvents) HandleDisconnected(reason string) {
	s := (*Service)(e)
	log.Printf("chat: socket disconnected: %s", reason)
	s.presence.Reset()
	if s.notify != nil {
		s.notify()
	}
}

// =============================================================================
// READ-SIDE ACCESSORS
// =============================================================================

// Conversations returns the conversation list, most recent first.
func (s *Service) Conversations() []model.Conversation {
	return s.store.Conversations()
}

// Selected returns the active conversation id and selection state.
func (s *Service) Selected() (string, store.SelectionState) {
	return s.store.Selected()
}

// SelectionError returns the error behind an errored selection.
func (s *Service) SelectionError() error {
	return s.store.SelectionError()
}

// Messages returns the active conversation's messages.
func (s *Service) Messages() []*model.Message {
	return s.store.Messages()
}

// MessageGroups returns the active conversation's messages grouped by day.
func (s *Service) MessageGroups() []model.DayGroup {
	return model.GroupByDay(s.store.Messages())
}

// IsOnline reports whether a user is currently online.
func (s *Service) IsOnline(userID int64) bool {
	return s.presence.IsOnline(userID)
}

// TypingUsers returns the names of users currently typing, sorted for
// stable rendering.
func (s *Service) TypingUsers() []string {
	typing := s.presence.Typing()
	names := make([]string, 0, len(typing))
	for _, name := range typing {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
