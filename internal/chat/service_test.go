// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/taskchat/internal/cache"
	"github.com/jeranaias/taskchat/internal/model"
	"github.com/jeranaias/taskchat/internal/presence"
	"github.com/jeranaias/taskchat/internal/rest"
	"github.com/jeranaias/taskchat/internal/socket"
	"github.com/jeranaias/taskchat/internal/store"
	"github.com/jeranaias/taskchat/internal/taskctx"
)

const selfID = int64(1)

// =============================================================================
// FAKES
// =============================================================================

// fakeSocket records calls and fails on demand.
type fakeSocket struct {
	mu sync.Mutex

	joins   []string
	sends   []socket.SendMessagePayload
	creates []socket.CreateConversationPayload

	joinErrs   []error // consumed per call; nil slice means always succeed
	sendErrs   []error
	createErr  error
	created    *model.Conversation
	joinGate   chan struct{} // when set, Join blocks until the gate closes
	gateTarget string
}

func (f *fakeSocket) Connect(ctx context.Context) error { return nil }
func (f *fakeSocket) Connected() bool                   { return true }
func (f *fakeSocket) Close() error                      { return nil }

func (f *fakeSocket) JoinConversation(ctx context.Context, id string) error {
	f.mu.Lock()
	gate := f.joinGate
	gated := gate != nil && id == f.gateTarget
	f.joins = append(f.joins, id)
	var err error
	if len(f.joinErrs) > 0 {
		err = f.joinErrs[0]
		f.joinErrs = f.joinErrs[1:]
	}
	f.mu.Unlock()

	if gated {
		<-gate
	}
	return err
}

func (f *fakeSocket) SendMessage(ctx context.Context, p socket.SendMessagePayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, p)
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		return err
	}
	return nil
}

func (f *fakeSocket) CreateConversation(ctx context.Context, p socket.CreateConversationPayload) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, p)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.created, nil
}

func (f *fakeSocket) Typing(conversationID string, receiverID int64)     {}
func (f *fakeSocket) StopTyping(conversationID string, receiverID int64) {}

func (f *fakeSocket) joinCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.joins)
}

func (f *fakeSocket) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

// fakeAPI records fetch calls.
type fakeAPI struct {
	mu sync.Mutex

	conversations []*model.Conversation
	messages      map[string][]*model.Message
	since         map[string][]*model.Message

	fetchCalls int
	sinceCalls int
}

func (f *fakeAPI) ListConversations(ctx context.Context) ([]*model.Conversation, error) {
	return f.conversations, nil
}

func (f *fakeAPI) GetMessages(ctx context.Context, conversationID string, page, pageSize int) (*rest.MessagesPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	return &rest.MessagesPage{Messages: f.messages[conversationID]}, nil
}

func (f *fakeAPI) GetMessagesSince(ctx context.Context, conversationID string, sinceID int64) ([]*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinceCalls++
	return f.since[conversationID], nil
}

func (f *fakeAPI) GetContacts(ctx context.Context) ([]model.User, error) { return nil, nil }

func (f *fakeAPI) UploadAttachment(ctx context.Context, filename string, content io.Reader) (*model.Attachment, error) {
	return &model.Attachment{Type: "file", URL: "/a/" + filename, Name: filename}, nil
}

// =============================================================================
// HARNESS
// =============================================================================

type fixture struct {
	svc  *Service
	sock *fakeSocket
	api  *fakeAPI
	st   *store.Store
	c    *cache.MessageCache
	repo *taskctx.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sock := &fakeSocket{}
	api := &fakeAPI{messages: map[string][]*model.Message{}, since: map[string][]*model.Message{}}
	st := store.New(selfID)
	c := cache.New(5 * time.Minute)
	repo := taskctx.NewRepository(t.TempDir())
	pr := presence.NewTracker(3 * time.Second)

	svc := NewService(Options{
		SelfID:     selfID,
		Store:      st,
		Cache:      c,
		Presence:   pr,
		Socket:     sock,
		API:        api,
		TaskCtx:    repo,
		RetryDelay: 5 * time.Millisecond,
	})
	return &fixture{svc: svc, sock: sock, api: api, st: st, c: c, repo: repo}
}

func msg(id int64, senderID int64, content string) *model.Message {
	return &model.Message{
		ID:        id,
		Sender:    model.User{ID: senderID},
		Content:   content,
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, int(id), time.UTC),
	}
}

func conv(id string, otherUserID, taskID int64) *model.Conversation {
	return &model.Conversation{
		ID:        id,
		OtherUser: model.User{ID: otherUserID, Name: "Dana"},
		TaskID:    taskID,
	}
}

// =============================================================================
// SELECTION
// =============================================================================

func TestSelectConversationFetchesAndCaches(t *testing.T) {
	f := newFixture(t)
	f.st.Upsert(conv("c1", 2, 0))
	f.api.messages["c1"] = []*model.Message{msg(10, 2, "hi"), msg(11, 1, "hello")}

	require.NoError(t, f.svc.SelectConversation(context.Background(), "c1"))

	id, state := f.svc.Selected()
	assert.Equal(t, "c1", id)
	assert.Equal(t, store.StateReady, state)
	assert.Len(t, f.svc.Messages(), 2)
	assert.Equal(t, 1, f.api.fetchCalls)

	// Second selection hits the warm cache: no further REST traffic.
	require.NoError(t, f.svc.SelectConversation(context.Background(), "c1"))
	assert.Equal(t, 1, f.api.fetchCalls)
	assert.Equal(t, 0, f.api.sinceCalls)
}

func TestSelectConversationZeroesUnread(t *testing.T) {
	f := newFixture(t)
	f.st.Upsert(conv("c1", 2, 0))
	f.st.ApplyIncomingMessage("c1", msg(5, 2, "ping"))

	c, _ := f.st.Conversation("c1")
	require.Equal(t, 1, c.UnreadCount)

	require.NoError(t, f.svc.SelectConversation(context.Background(), "c1"))
	c, _ = f.st.Conversation("c1")
	assert.Equal(t, 0, c.UnreadCount)
}

func TestSelectConversationStaleCacheTopsUp(t *testing.T) {
	f := newFixture(t)
	f.st.Upsert(conv("c1", 2, 0))

	// Build a cache whose entries go stale almost immediately.
	f.c = cache.New(time.Millisecond)
	f.svc.cache = f.c
	f.c.Set("c1", []*model.Message{msg(10, 2, "old")})
	time.Sleep(10 * time.Millisecond)

	f.api.since["c1"] = []*model.Message{msg(11, 2, "new")}

	require.NoError(t, f.svc.SelectConversation(context.Background(), "c1"))

	assert.Equal(t, 1, f.api.sinceCalls, "stale entry should refresh incrementally")
	assert.Equal(t, 0, f.api.fetchCalls, "no full refetch needed")
	msgs := f.svc.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "new", msgs[1].Content)
}

func TestSelectConversationRetriesOnceThenErrors(t *testing.T) {
	f := newFixture(t)
	f.st.Upsert(conv("c1", 2, 0))
	f.sock.joinErrs = []error{errors.New("join refused"), errors.New("join refused")}

	err := f.svc.SelectConversation(context.Background(), "c1")
	require.Error(t, err)

	_, state := f.svc.Selected()
	assert.Equal(t, store.StateError, state)
	assert.Equal(t, 2, f.sock.joinCount(), "one automatic retry before surfacing")
	assert.Error(t, f.svc.SelectionError())
}

func TestSelectConversationRecoversOnRetry(t *testing.T) {
	f := newFixture(t)
	f.st.Upsert(conv("c1", 2, 0))
	f.api.messages["c1"] = []*model.Message{msg(10, 2, "hi")}
	f.sock.joinErrs = []error{errors.New("transient")}

	require.NoError(t, f.svc.SelectConversation(context.Background(), "c1"))
	_, state := f.svc.Selected()
	assert.Equal(t, store.StateReady, state)
}

func TestOverlappingSelectionsKeepNewest(t *testing.T) {
	f := newFixture(t)
	f.st.Upsert(conv("c1", 2, 0))
	f.st.Upsert(conv("c2", 3, 0))
	f.api.messages["c1"] = []*model.Message{msg(10, 2, "from c1")}
	f.api.messages["c2"] = []*model.Message{msg(20, 3, "from c2")}

	gate := make(chan struct{})
	f.sock.joinGate = gate
	f.sock.gateTarget = "c1"

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Blocks on the gate inside join.
		_ = f.svc.SelectConversation(context.Background(), "c1")
	}()

	// Wait until c1's join is in flight, then select c2.
	deadline := time.Now().Add(time.Second)
	for f.sock.joinCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.NoError(t, f.svc.SelectConversation(context.Background(), "c2"))

	close(gate)
	<-done

	id, state := f.svc.Selected()
	assert.Equal(t, "c2", id)
	assert.Equal(t, store.StateReady, state)
	msgs := f.svc.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "from c2", msgs[0].Content, "stale selection must not leak into the active list")
}

// =============================================================================
// SENDING
// =============================================================================

func TestSendMessageRejectsEmpty(t *testing.T) {
	f := newFixture(t)
	f.st.Upsert(conv("c1", 2, 0))
	assert.ErrorIs(t, f.svc.SendMessage(context.Background(), "c1", "", nil, 0), ErrEmptyMessage)
	assert.Equal(t, 0, f.sock.sendCount())
}

func TestSendMessageAttachmentOnlyAllowed(t *testing.T) {
	f := newFixture(t)
	f.st.Upsert(conv("c1", 2, 0))
	att := []model.Attachment{{Type: "image", URL: "/a/x.png", Name: "x.png"}}
	require.NoError(t, f.svc.SendMessage(context.Background(), "c1", "", att, 0))
	assert.Equal(t, 1, f.sock.sendCount())
}

func TestSendMessageRetriesThenSucceeds(t *testing.T) {
	f := newFixture(t)
	f.st.Upsert(conv("c1", 2, 0))
	f.api.messages["c1"] = nil
	require.NoError(t, f.svc.SelectConversation(context.Background(), "c1"))
	f.sock.sendErrs = []error{
		&socket.SendError{ConversationID: "c1", Reason: "ack timeout", Retryable: true},
		&socket.SendError{ConversationID: "c1", Reason: "ack timeout", Retryable: true},
	}

	require.NoError(t, f.svc.SendMessage(context.Background(), "c1", "hello", nil, 0))
	assert.Equal(t, 3, f.sock.sendCount(), "two failures then one success, message sent exactly once per attempt")

	// The server echoes the delivered message once; the failed attempts
	// must not have produced extra copies.
	echo := msg(20, selfID, "hello")
	echo.ConversationID = "c1"
	f.svc.Events().HandleNewMessage(echo)
	require.Len(t, f.svc.Messages(), 1, "retried send lands exactly once")
}

func TestSendMessageExhaustsRetries(t *testing.T) {
	f := newFixture(t)
	f.st.Upsert(conv("c1", 2, 0))
	f.sock.sendErrs = []error{
		&socket.SendError{Reason: "down", Retryable: true},
		&socket.SendError{Reason: "down", Retryable: true},
		&socket.SendError{Reason: "down", Retryable: true},
	}

	err := f.svc.SendMessage(context.Background(), "c1", "hello", nil, 0)
	var sendErr *socket.SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, 3, f.sock.sendCount())
}

func TestSendCarriesReceiverFromConversation(t *testing.T) {
	f := newFixture(t)
	f.st.Upsert(conv("c1", 9, 0))
	require.NoError(t, f.svc.SendMessage(context.Background(), "c1", "hi", nil, 0))

	f.sock.mu.Lock()
	defer f.sock.mu.Unlock()
	require.Len(t, f.sock.sends, 1)
	assert.Equal(t, int64(9), f.sock.sends[0].ReceiverID)
}

// =============================================================================
// TASK CONTEXT RESOLUTION
// =============================================================================

func taskContext(userID, taskID int64) *model.TaskChatContext {
	return &model.TaskChatContext{
		TaskID:    taskID,
		TaskTitle: "Fix the gate",
		UserID:    userID,
		UserName:  "Dana",
		AutoOpen:  true,
	}
}

func TestResolverResumesTaskConversation(t *testing.T) {
	f := newFixture(t)
	f.st.Upsert(conv("general", 2, 0))
	f.st.Upsert(conv("task", 2, 42))
	require.NoError(t, f.repo.Set(taskContext(2, 42)))

	require.NoError(t, f.svc.ResolveTaskContext(context.Background()))

	id, state := f.svc.Selected()
	assert.Equal(t, "task", id)
	assert.Equal(t, store.StateReady, state)
	assert.False(t, f.svc.HasDeferredContext())
	assert.Empty(t, f.sock.creates, "resumption must not create")

	// Context survives until the first send references it.
	_, err := f.repo.Get()
	assert.NoError(t, err)
}

func TestResolverGeneralConversationConsumesContext(t *testing.T) {
	f := newFixture(t)
	f.st.Upsert(conv("general", 2, 0))
	require.NoError(t, f.repo.Set(taskContext(2, 42)))

	require.NoError(t, f.svc.ResolveTaskContext(context.Background()))

	id, _ := f.svc.Selected()
	assert.Equal(t, "general", id)
	assert.Empty(t, f.sock.creates)

	tc, err := f.repo.Get()
	require.NoError(t, err)
	assert.False(t, tc.AutoOpen)

	// Re-entry with the consumed context is a no-op.
	require.NoError(t, f.svc.ResolveTaskContext(context.Background()))
	assert.Empty(t, f.sock.creates)
	assert.False(t, f.svc.HasDeferredContext())
}

func TestResolverDefersWithoutConversation(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repo.Set(taskContext(2, 42)))

	require.NoError(t, f.svc.ResolveTaskContext(context.Background()))

	assert.True(t, f.svc.HasDeferredContext())
	assert.Empty(t, f.sock.creates, "creation waits for the first message")
	_, state := f.svc.Selected()
	assert.Equal(t, store.StateUnselected, state)
}

func TestDeferredFirstSendCreatesJoinsSends(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repo.Set(taskContext(2, 42)))
	require.NoError(t, f.svc.ResolveTaskContext(context.Background()))

	f.sock.created = conv("conv-new", 2, 42)

	require.NoError(t, f.svc.SendMessage(context.Background(), "", "first message", nil, 0))

	require.Len(t, f.sock.creates, 1)
	assert.Equal(t, int64(2), f.sock.creates[0].OtherUserID)
	assert.Equal(t, int64(42), f.sock.creates[0].TaskID)
	assert.Equal(t, []string{"conv-new"}, f.sock.joins)

	f.sock.mu.Lock()
	require.Len(t, f.sock.sends, 1)
	assert.Equal(t, "conv-new", f.sock.sends[0].ConversationID)
	assert.Equal(t, int64(42), f.sock.sends[0].TaskID)
	f.sock.mu.Unlock()

	// The conversation is bound and selected only after the full chain.
	id, state := f.svc.Selected()
	assert.Equal(t, "conv-new", id)
	assert.Equal(t, store.StateReady, state)

	// Context cleared exactly once; nothing left to re-create.
	_, err := f.repo.Get()
	assert.ErrorIs(t, err, taskctx.ErrNoContext)
	assert.False(t, f.svc.HasDeferredContext())

	require.NoError(t, f.svc.ResolveTaskContext(context.Background()))
	assert.Len(t, f.sock.creates, 1, "at most one auto-created conversation per (user, task)")
}

func TestDeferredSendFailureBindsNothing(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repo.Set(taskContext(2, 42)))
	require.NoError(t, f.svc.ResolveTaskContext(context.Background()))

	f.sock.created = conv("conv-new", 2, 42)
	f.sock.joinErrs = []error{errors.New("join refused")}

	err := f.svc.SendMessage(context.Background(), "", "first message", nil, 0)
	require.Error(t, err)

	_, ok := f.st.Conversation("conv-new")
	assert.False(t, ok, "failed chain must leave no partial conversation bound")
	_, state := f.svc.Selected()
	assert.Equal(t, store.StateUnselected, state)
	assert.True(t, f.svc.HasDeferredContext(), "context stays pending for a retry")
	_, getErr := f.repo.Get()
	assert.NoError(t, getErr)
}

func TestDeferredSendReusesConversationThatAppeared(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repo.Set(taskContext(2, 42)))
	require.NoError(t, f.svc.ResolveTaskContext(context.Background()))

	// A matching conversation arrives over the socket before the first send.
	f.svc.Events().HandleNewConversation(conv("pushed", 2, 42))

	require.NoError(t, f.svc.SendMessage(context.Background(), "", "hello", nil, 0))
	assert.Empty(t, f.sock.creates, "existing conversation is reused, never duplicated")

	f.sock.mu.Lock()
	require.Len(t, f.sock.sends, 1)
	assert.Equal(t, "pushed", f.sock.sends[0].ConversationID)
	f.sock.mu.Unlock()
}

func TestFirstSendClearsMatchingContext(t *testing.T) {
	f := newFixture(t)
	f.st.Upsert(conv("c1", 2, 0))
	require.NoError(t, f.repo.Set(taskContext(2, 42)))

	require.NoError(t, f.svc.SendMessage(context.Background(), "c1", "about the task", nil, 0))

	f.sock.mu.Lock()
	require.Len(t, f.sock.sends, 1)
	assert.Equal(t, int64(42), f.sock.sends[0].TaskID, "send carries the task metadata")
	f.sock.mu.Unlock()

	_, err := f.repo.Get()
	assert.ErrorIs(t, err, taskctx.ErrNoContext, "context cleared after the first successful send")

	// A second send carries no task metadata and clears nothing twice.
	require.NoError(t, f.svc.SendMessage(context.Background(), "c1", "followup", nil, 0))
	f.sock.mu.Lock()
	assert.Equal(t, int64(0), f.sock.sends[1].TaskID)
	f.sock.mu.Unlock()
}

func TestSendToUnrelatedConversationKeepsContext(t *testing.T) {
	f := newFixture(t)
	f.st.Upsert(conv("other", 9, 0))
	require.NoError(t, f.repo.Set(taskContext(2, 42)))

	require.NoError(t, f.svc.SendMessage(context.Background(), "other", "hi", nil, 0))

	f.sock.mu.Lock()
	assert.Equal(t, int64(0), f.sock.sends[0].TaskID)
	f.sock.mu.Unlock()
	_, err := f.repo.Get()
	assert.NoError(t, err, "context for another user is untouched")
}

// =============================================================================
// SOCKET EVENT ROUTING
// =============================================================================

func TestIncomingMessageRoutesToStoreAndCache(t *testing.T) {
	f := newFixture(t)
	f.st.Upsert(conv("c1", 2, 0))
	f.api.messages["c1"] = nil
	require.NoError(t, f.svc.SelectConversation(context.Background(), "c1"))

	m := msg(10, 2, "pushed")
	m.ConversationID = "c1"
	f.svc.Events().HandleNewMessage(m)

	msgs := f.svc.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "pushed", msgs[0].Content)
	assert.Len(t, f.c.Peek("c1"), 1)

	// Redelivery is suppressed everywhere.
	f.svc.Events().HandleNewMessage(m)
	assert.Len(t, f.svc.Messages(), 1)
	assert.Len(t, f.c.Peek("c1"), 1)
}

func TestIncomingMessageNeverSeedsCache(t *testing.T) {
	f := newFixture(t)
	f.st.Upsert(conv("c1", 2, 0))
	f.api.messages["c1"] = []*model.Message{
		msg(1, 2, "one"), msg(2, 1, "two"), msg(3, 2, "three"),
	}

	// A push arrives before the conversation was ever opened. It must not
	// leave a cache entry behind, or the next select would serve that lone
	// message as the whole history instead of fetching.
	late := msg(4, 2, "four")
	late.ConversationID = "c1"
	f.svc.Events().HandleNewMessage(late)
	assert.Nil(t, f.c.Peek("c1"), "push must not create a cache entry")

	f.api.messages["c1"] = append(f.api.messages["c1"], late)
	require.NoError(t, f.svc.SelectConversation(context.Background(), "c1"))

	assert.Equal(t, 1, f.api.fetchCalls, "history still fetched after the push")
	assert.Len(t, f.svc.Messages(), 4)
}

func TestIncomingMessageWithoutConversationDropped(t *testing.T) {
	f := newFixture(t)
	f.svc.Events().HandleNewMessage(msg(10, 2, "orphan"))
	assert.Empty(t, f.svc.Messages())
}
