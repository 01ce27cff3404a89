// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/jeranaias/taskchat/internal/model"
)

// =============================================================================
// CONVERSATIONS
// =============================================================================

// conversationsResponse is the list envelope.
type conversationsResponse struct {
	Conversations []*model.Conversation `json:"conversations"`
}

// conversationResponse is the single-conversation envelope.
type conversationResponse struct {
	Conversation *model.Conversation `json:"conversation"`
}

// ListConversations fetches all conversations for the client's user and org.
func (c *Client) ListConversations(ctx context.Context) ([]*model.Conversation, error) {
	path := fmt.Sprintf("/conversations?user_id=%d&organization_id=%d", c.userID, c.orgID)
	var resp conversationsResponse
	if err := c.getJSON(ctx, "list conversations", path, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// GetConversation fetches a single conversation by ID.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	path := "/conversations/" + url.PathEscape(conversationID)
	var resp conversationResponse
	if err := c.getJSON(ctx, "fetch conversation", path, &resp); err != nil {
		return nil, err
	}
	return resp.Conversation, nil
}

// CreateConversationRequest is the payload for the REST create fallback. The
// usual path is the socket's create_conversation exchange; this endpoint
// covers clients whose socket is down.
type CreateConversationRequest struct {
	OtherUserID int64  `json:"other_user_id"`
	TaskID      int64  `json:"task_id,omitempty"`
	TaskTitle   string `json:"task_title,omitempty"`
	Description string `json:"description,omitempty"`
}

// CreateConversation creates a conversation via REST.
func (c *Client) CreateConversation(ctx context.Context, req CreateConversationRequest) (*model.Conversation, error) {
	var resp conversationResponse
	if err := c.postJSON(ctx, "create conversation", "/conversations", req, &resp); err != nil {
		return nil, err
	}
	return resp.Conversation, nil
}

// =============================================================================
// MESSAGES
// =============================================================================

// MessagesPage is one page of message history.
type MessagesPage struct {
	Messages []*model.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

// GetMessages fetches one page of a conversation's history. Pages count from
// 1; the server returns messages ordered by creation time ascending.
func (c *Client) GetMessages(ctx context.Context, conversationID string, page, pageSize int) (*MessagesPage, error) {
	if page < 1 {
		page = 1
	}
	path := fmt.Sprintf("/conversations/%s/messages?page=%d&page_size=%d",
		url.PathEscape(conversationID), page, pageSize)
	var resp MessagesPage
	if err := c.getJSON(ctx, "fetch messages", path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetMessagesSince fetches messages newer than the given message ID. Used to
// refresh a stale cache entry without re-downloading the whole history.
func (c *Client) GetMessagesSince(ctx context.Context, conversationID string, sinceID int64) ([]*model.Message, error) {
	path := fmt.Sprintf("/conversations/%s/messages/new?since_id=%d",
		url.PathEscape(conversationID), sinceID)
	var resp MessagesPage
	if err := c.getJSON(ctx, "fetch new messages", path, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// =============================================================================
// CONTACTS
// =============================================================================

// contactsResponse is the contact list envelope.
type contactsResponse struct {
	Contacts []model.User `json:"contacts"`
}

// GetContacts fetches the users the local user may start conversations with.
func (c *Client) GetContacts(ctx context.Context) ([]model.User, error) {
	path := fmt.Sprintf("/contacts?organization_id=%d", c.orgID)
	var resp contactsResponse
	if err := c.getJSON(ctx, "fetch contacts", path, &resp); err != nil {
		return nil, err
	}
	return resp.Contacts, nil
}

// =============================================================================
// ATTACHMENTS
// =============================================================================

// attachmentResponse is the upload envelope.
type attachmentResponse struct {
	Attachment *model.Attachment `json:"attachment"`
}

// UploadAttachment uploads a file as multipart form data and returns the
// server-side attachment reference to embed in a message. Uploads are not
// retried: the body is a stream and the server deduplicates nothing.
func (c *Client) UploadAttachment(ctx context.Context, filename string, content io.Reader) (*model.Attachment, error) {
	const op = "upload attachment"

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, &FetchError{Op: op, Message: "creating form", Err: err}
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, &FetchError{Op: op, Message: "reading file", Err: err}
	}
	if err := writer.Close(); err != nil {
		return nil, &FetchError{Op: op, Message: "finalizing form", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/attachments", &buf)
	if err != nil {
		return nil, &FetchError{Op: op, Message: "creating request", Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Op: op, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return nil, &FetchError{Op: op, Message: "reading response", Err: err}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, c.errorFromResponse(op, resp.StatusCode, body)
	}

	var envelope attachmentResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &FetchError{Op: op, Message: "decoding response", Err: err}
	}
	return envelope.Attachment, nil
}
