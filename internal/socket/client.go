// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package socket owns the single websocket connection to the chat server.
//
// The client multiplexes every conversation over one connection: it dials,
// authenticates, decodes inbound pushes into EventHandler calls, and turns
// each acknowledged emit (join_conversation, send_message,
// create_conversation) into a typed request/response exchange matched by a
// client sequence number, so success or failure is locally decidable rather
// than inferred from later events.
//
// Reconnect attempts are coalesced: concurrent callers that find the socket
// down share a single dial instead of racing to open competing connections.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/jeranaias/taskchat/internal/model"
)

// Default tunables. All can be overridden through Options.
const (
	// DefaultAuthTimeout bounds the wait for the authenticated event.
	DefaultAuthTimeout = 5 * time.Second

	// DefaultAckTimeout bounds the wait for a request acknowledgment.
	DefaultAckTimeout = 5 * time.Second

	// DefaultReadinessWait is how long a join or send waits for a
	// reconnecting socket before giving up.
	DefaultReadinessWait = time.Second

	// DefaultRetryBackoff is the fixed delay between join retries.
	DefaultRetryBackoff = time.Second

	// DefaultJoinRetries is the bound on re-auth/join retries.
	DefaultJoinRetries = 2
)

// =============================================================================
// TRANSPORT ABSTRACTION
// =============================================================================

// Conn is the minimal transport the client needs. *websocket.Conn satisfies
// it; tests substitute an in-memory fake.
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

// Dialer opens a transport connection.
type Dialer func(ctx context.Context, url string) (Conn, error)

// gorillaDialer is the production dialer.
func gorillaDialer(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// =============================================================================
// CLIENT
// =============================================================================

// Options configures a Client. Zero fields take the package defaults.
type Options struct {
	URL            string
	UserID         int64
	OrganizationID int64
	Handler        EventHandler

	Dialer        Dialer
	AuthTimeout   time.Duration
	AckTimeout    time.Duration
	ReadinessWait time.Duration
	RetryBackoff  time.Duration
	JoinRetries   int

	// TypingInterval is the minimum gap between outbound typing emits.
	// Zero means 500ms.
	TypingInterval time.Duration
}

// Client manages the shared socket connection.
type Client struct {
	url      string
	userID   int64
	orgID    int64
	clientID string
	handler  EventHandler

	dialer        Dialer
	authTimeout   time.Duration
	ackTimeout    time.Duration
	readinessWait time.Duration
	retryBackoff  time.Duration
	joinRetries   int

	typingLimiter *rate.Limiter

	// connectGroup coalesces concurrent reconnect attempts.
	connectGroup singleflight.Group

	seq atomic.Int64

	mu       sync.Mutex
	conn     Conn
	ready    bool
	closed   bool
	pending  map[int64]chan Ack
	authWait chan struct{}
}

// NewClient creates a socket client. It does not connect; call Connect.
func NewClient(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = gorillaDialer
	}
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = DefaultAuthTimeout
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	if opts.ReadinessWait <= 0 {
		opts.ReadinessWait = DefaultReadinessWait
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.JoinRetries <= 0 {
		opts.JoinRetries = DefaultJoinRetries
	}
	if opts.TypingInterval <= 0 {
		opts.TypingInterval = 500 * time.Millisecond
	}

	return &Client{
		url:           opts.URL,
		userID:        opts.UserID,
		orgID:         opts.OrganizationID,
		clientID:      uuid.NewString(),
		handler:       opts.Handler,
		dialer:        opts.Dialer,
		authTimeout:   opts.AuthTimeout,
		ackTimeout:    opts.AckTimeout,
		readinessWait: opts.ReadinessWait,
		retryBackoff:  opts.RetryBackoff,
		joinRetries:   opts.JoinRetries,
		typingLimiter: rate.NewLimiter(rate.Every(opts.TypingInterval), 1),
		pending:       make(map[int64]chan Ack),
	}
}

// =============================================================================
// CONNECTION LIFECYCLE
// =============================================================================

// SetHandler installs the event handler. Call before Connect; events
// arriving with no handler are dropped.
func (c *Client) SetHandler(h EventHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Connected reports whether the socket is up and authenticated.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Connect dials and authenticates. It is idempotent — a ready connection is
// left alone — and coalesced, so concurrent callers share one attempt. If
// authentication does not succeed within the bounded wait it is retried once
// before a ConnectionError is returned.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.ready {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	_, err, _ := c.connectGroup.Do("connect", func() (interface{}, error) {
		// Re-check under the group: a previous flight may have finished.
		c.mu.Lock()
		if c.ready {
			c.mu.Unlock()
			return nil, nil
		}
		c.mu.Unlock()

		var lastErr error
		for attempt := 0; attempt <= 1; attempt++ {
			if err := c.connectOnce(ctx); err != nil {
				lastErr = err
				if ctx.Err() != nil || errors.Is(err, ErrClosed) {
					break
				}
				continue
			}
			return nil, nil
		}
		return nil, &ConnectionError{Reason: "could not establish socket", Err: lastErr}
	})
	return err
}

// connectOnce performs a single dial + authenticate cycle.
func (c *Client) connectOnce(ctx context.Context) error {
	conn, err := c.dialer(ctx, c.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.ready = false
	c.mu.Unlock()

	go c.readLoop(conn)

	if err := c.authenticate(ctx); err != nil {
		c.teardown(conn, "authentication failed")
		return err
	}
	return nil
}

// authenticate emits the authenticate event and waits for the authenticated
// push, bounded by the auth timeout.
func (c *Client) authenticate(ctx context.Context) error {
	data, err := json.Marshal(AuthPayload{UserID: c.userID, OrganizationID: c.orgID, ClientID: c.clientID})
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	// Join an auth exchange already in flight instead of starting another:
	// replacing the channel would strand the earlier waiter until its
	// timeout and trigger a needless retry.
	wait := c.authWait
	if wait == nil {
		wait = make(chan struct{})
		c.authWait = wait
		err = conn.WriteJSON(frame{Event: EventAuthenticate, Data: data})
	}
	c.mu.Unlock()
	if err != nil {
		c.clearAuthWait(wait)
		return fmt.Errorf("emit authenticate: %w", err)
	}

	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		c.clearAuthWait(wait)
		return ctx.Err()
	case <-time.After(c.authTimeout):
		c.clearAuthWait(wait)
		return ErrAuthTimeout
	}
}

// clearAuthWait drops the registered wait channel if it is still ours, so a
// failed exchange does not leave later authentications waiting on a channel
// nothing will close.
func (c *Client) clearAuthWait(wait chan struct{}) {
	c.mu.Lock()
	if c.authWait == wait {
		c.authWait = nil
	}
	c.mu.Unlock()
}

// Reauthenticate re-runs authentication on the live connection. Joins call
// this even when the socket looks ready, to cover server-side session
// expiry.
func (c *Client) Reauthenticate(ctx context.Context) error {
	return c.authenticate(ctx)
}

// ensureReady returns once the socket is ready, reconnecting if necessary
// within the readiness window.
func (c *Client) ensureReady(ctx context.Context) error {
	if c.Connected() {
		return nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, c.readinessWait)
	defer cancel()
	if err := c.Connect(waitCtx); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

// Disconnect notifies the server and tears the transport down. Safe to call
// when already disconnected. The client may Connect again afterwards.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.ready = false
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	// Best-effort courtesy notification; the close matters more.
	if err := conn.WriteJSON(frame{Event: EventDisconnect}); err != nil {
		log.Printf("socket: disconnect notify: %v", err)
	}
	err := conn.Close()
	c.failPending("disconnected")
	return err
}

// Close disconnects and prevents any future reconnect.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.Disconnect()
}

// teardown closes conn if it is still the active connection.
func (c *Client) teardown(conn Conn, reason string) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.ready = false
	c.mu.Unlock()

	conn.Close()
	c.failPending(reason)
}

// failPending rejects every in-flight request.
func (c *Client) failPending(reason string) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]chan Ack)
	c.mu.Unlock()

	for seq, ch := range pending {
		ch <- Ack{Seq: seq, Success: false, Error: reason}
	}
}

// =============================================================================
// REQUEST / ACK EXCHANGE
// =============================================================================

// request emits an event frame with a fresh sequence number and waits for
// the matching acknowledgment.
func (c *Client) request(ctx context.Context, event string, payload interface{}) (Ack, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Ack{}, err
	}

	seq := c.seq.Add(1)
	ch := make(chan Ack, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return Ack{}, ErrNotConnected
	}
	c.pending[seq] = ch
	err = conn.WriteJSON(frame{Event: event, Seq: seq, Data: data})
	c.mu.Unlock()

	if err != nil {
		c.dropPending(seq)
		return Ack{}, fmt.Errorf("emit %s: %w", event, err)
	}

	select {
	case ack := <-ch:
		return ack, nil
	case <-ctx.Done():
		c.dropPending(seq)
		return Ack{}, ctx.Err()
	case <-time.After(c.ackTimeout):
		c.dropPending(seq)
		return Ack{}, fmt.Errorf("%s: no acknowledgment within %v", event, c.ackTimeout)
	}
}

func (c *Client) dropPending(seq int64) {
	c.mu.Lock()
	delete(c.pending, seq)
	c.mu.Unlock()
}

// =============================================================================
// JOIN PROTOCOL
// =============================================================================

// JoinConversation subscribes the connection to a conversation.
//
// The protocol: ensure the socket is ready (reconnecting within the
// readiness window), re-authenticate to cover server-side session expiry,
// then emit join_conversation. Auth-flagged failures restart from the
// re-auth step; the whole chain is bounded by the configured retry count
// with a fixed backoff between attempts. Non-auth join failures propagate
// immediately.
func (c *Client) JoinConversation(ctx context.Context, conversationID string) error {
	if err := c.ensureReady(ctx); err != nil {
		return &JoinError{ConversationID: conversationID, Reason: "socket not ready", Err: err, Retryable: true}
	}

	var lastErr error
	for attempt := 0; attempt <= c.joinRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryBackoff):
			}
		}

		if err := c.Reauthenticate(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}

		ack, err := c.request(ctx, EventJoinConversation, JoinPayload{ConversationID: conversationID})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}
		if ack.Success {
			return nil
		}
		if ack.authRelated() {
			// Session died between re-auth and join; go around again.
			lastErr = fmt.Errorf("join rejected: %s", ack.Error)
			continue
		}
		return &JoinError{ConversationID: conversationID, Reason: ack.Error}
	}

	return &JoinError{ConversationID: conversationID, Reason: "retries exhausted", Err: lastErr}
}

// =============================================================================
// OUTBOUND OPERATIONS
// =============================================================================

// SendMessage emits send_message and waits for its acknowledgment. A single
// exchange; the composer layers retries on top.
func (c *Client) SendMessage(ctx context.Context, payload SendMessagePayload) error {
	if err := c.ensureReady(ctx); err != nil {
		return &SendError{ConversationID: payload.ConversationID, Reason: "socket not ready", Err: err, Retryable: true}
	}

	ack, err := c.request(ctx, EventSendMessage, payload)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &SendError{ConversationID: payload.ConversationID, Reason: "no acknowledgment", Err: err, Retryable: true}
	}
	if !ack.Success {
		return &SendError{ConversationID: payload.ConversationID, Reason: ack.Error, Retryable: true}
	}
	return nil
}

// CreateConversation emits create_conversation and decodes the created
// conversation out of the acknowledgment.
func (c *Client) CreateConversation(ctx context.Context, payload CreateConversationPayload) (*model.Conversation, error) {
	if err := c.ensureReady(ctx); err != nil {
		return nil, &ConnectionError{Reason: "socket not ready", Err: err}
	}

	ack, err := c.request(ctx, EventCreateConversation, payload)
	if err != nil {
		return nil, err
	}
	if !ack.Success {
		return nil, fmt.Errorf("create conversation rejected: %s", ack.Error)
	}

	var conv model.Conversation
	if err := json.Unmarshal(ack.Data, &conv); err != nil {
		return nil, fmt.Errorf("decoding created conversation: %w", err)
	}
	return &conv, nil
}

// Typing notifies the peer that the local user is composing. Emits are
// rate-limited; suppressed emits are silently dropped since the next one
// renews the peer's timer anyway.
func (c *Client) Typing(conversationID string, receiverID int64) {
	if !c.typingLimiter.Allow() {
		return
	}
	c.fireAndForget(EventTyping, TypingPayload{ConversationID: conversationID, ReceiverID: receiverID})
}

// StopTyping notifies the peer that composing stopped. Never rate-limited:
// a suppressed stop would leave a stale indicator for the full expiry.
func (c *Client) StopTyping(conversationID string, receiverID int64) {
	c.fireAndForget(EventStopTyping, TypingPayload{ConversationID: conversationID, ReceiverID: receiverID})
}

// fireAndForget emits an event with no sequence number and no ack.
func (c *Client) fireAndForget(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	c.mu.Lock()
	conn := c.conn
	if conn != nil {
		if err := conn.WriteJSON(frame{Event: event, Data: data}); err != nil {
			log.Printf("socket: emit %s: %v", event, err)
		}
	}
	c.mu.Unlock()
}

// =============================================================================
// READ LOOP
// =============================================================================

// readLoop decodes frames off one connection until it dies. A stale loop
// (superseded by a reconnect) exits without touching client state.
func (c *Client) readLoop(conn Conn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			c.mu.Lock()
			stale := c.conn != conn
			c.mu.Unlock()
			if !stale {
				c.teardown(conn, "connection lost")
				if c.handler != nil {
					c.handler.HandleDisconnected(err.Error())
				}
			}
			return
		}
		c.dispatch(conn, f)
	}
}

// dispatch routes one inbound frame.
func (c *Client) dispatch(conn Conn, f frame) {
	switch f.Event {
	case EventAuthenticated:
		c.mu.Lock()
		if c.conn == conn {
			c.ready = true
			if c.authWait != nil {
				close(c.authWait)
				c.authWait = nil
			}
		}
		c.mu.Unlock()

	case EventAck:
		c.mu.Lock()
		ch, ok := c.pending[f.Seq]
		if ok {
			delete(c.pending, f.Seq)
		}
		c.mu.Unlock()
		if ok {
			ch <- Ack{Seq: f.Seq, Success: f.Success, Error: f.Error, Code: f.Code, Data: f.Data}
		}

	case EventNewMessage:
		var msg model.Message
		if err := json.Unmarshal(f.Data, &msg); err != nil {
			log.Printf("socket: bad new_message payload: %v", err)
			return
		}
		if c.handler != nil {
			c.handler.HandleNewMessage(&msg)
		}

	case EventNewConversation:
		var conv model.Conversation
		if err := json.Unmarshal(f.Data, &conv); err != nil {
			log.Printf("socket: bad new_conversation payload: %v", err)
			return
		}
		if c.handler != nil {
			c.handler.HandleNewConversation(&conv)
		}

	case EventUserTyping:
		var evt typingEvent
		if err := json.Unmarshal(f.Data, &evt); err != nil {
			return
		}
		if c.handler != nil {
			c.handler.HandleUserTyping(evt.ConversationID, evt.UserID, evt.UserName)
		}

	case EventUserStopTyping:
		var evt typingEvent
		if err := json.Unmarshal(f.Data, &evt); err != nil {
			return
		}
		if c.handler != nil {
			c.handler.HandleUserStoppedTyping(evt.ConversationID, evt.UserID)
		}

	case EventUserOnline:
		var evt presenceEvent
		if err := json.Unmarshal(f.Data, &evt); err != nil {
			return
		}
		if c.handler != nil {
			c.handler.HandleUserOnline(evt.UserID)
		}

	case EventUserOffline:
		var evt presenceEvent
		if err := json.Unmarshal(f.Data, &evt); err != nil {
			return
		}
		if c.handler != nil {
			c.handler.HandleUserOffline(evt.UserID)
		}

	case EventDisconnect:
		c.teardown(conn, "server requested disconnect")
		if c.handler != nil {
			c.handler.HandleDisconnected("server requested disconnect")
		}

	default:
		log.Printf("socket: unknown event %q", f.Event)
	}
}
