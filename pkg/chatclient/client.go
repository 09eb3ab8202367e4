// Package chatclient is the Go client for the chat service: a thin REST
// client plus a reconciliation layer that keeps a conversation view
// consistent across broadcasts, edits and reconnects.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"labsync/pkg/domain"
)

// Client calls the chat service over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient constructs a chat service client with a bearer token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// APIError represents a chat service error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat service: %d %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Status == status
}

// ListConversations returns the caller's conversations, most recent first.
func (c *Client) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	var out struct {
		Conversations []domain.Conversation `json:"conversations"`
	}
	if err := c.call(ctx, http.MethodGet, "/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// CreateConversation starts a conversation with the given participants.
func (c *Client) CreateConversation(ctx context.Context, name string, isGroup bool, participantIDs []string) (domain.Conversation, error) {
	payload := map[string]any{
		"name":           name,
		"isGroup":        isGroup,
		"participantIds": participantIDs,
	}
	var out struct {
		Conversation domain.Conversation `json:"conversation"`
	}
	if err := c.call(ctx, http.MethodPost, "/conversations", payload, &out); err != nil {
		return domain.Conversation{}, err
	}
	return out.Conversation, nil
}

// ListMessages fetches a chronological page of messages.
func (c *Client) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]domain.Message, error) {
	query := url.Values{"conversationId": {conversationID}}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		query.Set("offset", strconv.Itoa(offset))
	}
	var out struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := c.call(ctx, http.MethodGet, "/messages?"+query.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// SendMessage posts a text message, optionally threading it onto replyToID.
func (c *Client) SendMessage(ctx context.Context, conversationID, content, replyToID string) (domain.Message, error) {
	payload := map[string]any{
		"conversationId": conversationID,
		"content":        content,
		"type":           string(domain.MessageText),
	}
	if replyToID != "" {
		payload["replyToId"] = replyToID
	}
	var out struct {
		Message domain.Message `json:"message"`
	}
	if err := c.call(ctx, http.MethodPost, "/messages", payload, &out); err != nil {
		return domain.Message{}, err
	}
	return out.Message, nil
}

// EditMessage replaces the content of an own message.
func (c *Client) EditMessage(ctx context.Context, messageID, content string) (domain.Message, error) {
	var out struct {
		Message domain.Message `json:"message"`
	}
	err := c.call(ctx, http.MethodPatch, "/messages/"+messageID, map[string]string{"content": content}, &out)
	if err != nil {
		return domain.Message{}, err
	}
	return out.Message, nil
}

// DeleteMessage soft-deletes an own message.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) (domain.Message, error) {
	var out struct {
		Message domain.Message `json:"message"`
	}
	if err := c.call(ctx, http.MethodDelete, "/messages/"+messageID, nil, &out); err != nil {
		return domain.Message{}, err
	}
	return out.Message, nil
}

// MarkRead stamps the caller's read marker on a conversation.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	return c.call(ctx, http.MethodPost, "/conversations/"+conversationID+"/read", nil, nil)
}

func (c *Client) call(ctx context.Context, method, path string, payload, out any) error {
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error == "" {
			errBody.Error = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: errBody.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
