// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package rest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, 7, 3), server
}

func TestListConversations(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/conversations", r.URL.Path)
		assert.Equal(t, "7", r.URL.Query().Get("user_id"))
		assert.Equal(t, "3", r.URL.Query().Get("organization_id"))
		w.Write([]byte(`{"conversations":[{"id":"c1","other_user":{"id":9,"name":"Bob"}},{"id":"c2","other_user":{"id":11},"task_id":42}]}`))
	}))

	convs, err := client.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "c1", convs[0].ID)
	assert.Equal(t, int64(9), convs[0].OtherUser.ID)
	assert.True(t, convs[1].MatchesTask(42))
}

func TestGetMessagesPagination(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/conversations/c1/messages", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "50", r.URL.Query().Get("page_size"))
		w.Write([]byte(`{"messages":[{"id":10,"content":"hi"}],"has_more":true}`))
	}))

	page, err := client.GetMessages(context.Background(), "c1", 2, 50)
	require.NoError(t, err)
	assert.True(t, page.HasMore)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, int64(10), page.Messages[0].ID)
}

func TestGetMessagesSince(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/conversations/c1/messages/new", r.URL.Path)
		assert.Equal(t, "41", r.URL.Query().Get("since_id"))
		w.Write([]byte(`{"messages":[{"id":42},{"id":43}]}`))
	}))

	msgs, err := client.GetMessagesSince(context.Background(), "c1", 41)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(42), msgs[0].ID)
}

func TestRetryOn5xx(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"conversations":[]}`))
	}))

	convs, err := client.ListConversations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, convs)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRetriesExhausted(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	client.WithMaxRetries(2)

	_, err := client.ListConversations(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"error":{"code":"not_found","message":"no such conversation"}}`, http.StatusNotFound)
	}))

	_, err := client.GetConversation(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "4xx must not be retried")

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, http.StatusNotFound, fetchErr.Status)
	assert.Equal(t, "no such conversation", fetchErr.Message)
}

func TestUnauthorizedMapping(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))

	_, err := client.GetContacts(context.Background())
	assert.True(t, errors.Is(err, ErrUnauthorized))
}

func TestCreateConversation(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/conversations", r.URL.Path)
		w.Write([]byte(`{"conversation":{"id":"c9","other_user":{"id":9},"task_id":42}}`))
	}))

	conv, err := client.CreateConversation(context.Background(), CreateConversationRequest{
		OtherUserID: 9,
		TaskID:      42,
		TaskTitle:   "Fix bug",
	})
	require.NoError(t, err)
	assert.Equal(t, "c9", conv.ID)
	assert.Equal(t, int64(42), conv.TaskID)
}

func TestUploadAttachment(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "report.pdf", header.Filename)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"attachment":{"type":"file","url":"/files/abc","name":"report.pdf"}}`))
	}))

	att, err := client.UploadAttachment(context.Background(), "report.pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "/files/abc", att.URL)
	assert.Equal(t, "file", att.Type)
}
