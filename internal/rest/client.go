// Package rest implements the paginated request/response collaborator used
// for initial and historical loads. The engine owns pagination cursors; this
// client only shapes requests and decodes responses.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// RequestError describes a failed fetch. It is recoverable: the caller keeps
// previously loaded data and may retry.
type RequestError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// Client talks to the chat HTTP API.
type Client struct {
	base  string
	token string
	httpc *http.Client
}

// New creates a client for the given API base URL, authenticating every
// request with the bearer token.
func New(baseURL, token string) *Client {
	return &Client{
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
		httpc: &http.Client{Timeout: 15 * time.Second},
	}
}

// GetConversations fetches one page of the conversation list.
func (c *Client) GetConversations(ctx context.Context, page, limit int) (*ConversationsResult, error) {
	var out ConversationsResult
	q := url.Values{"page": {strconv.Itoa(page)}, "limit": {strconv.Itoa(limit)}}
	if err := c.getJSON(ctx, "getConversations", "/conversations?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetMessages fetches one page of a conversation's messages, newest first.
func (c *Client) GetMessages(ctx context.Context, convID string, page, limit int) (*MessagesResult, error) {
	var out MessagesResult
	q := url.Values{"page": {strconv.Itoa(page)}, "limit": {strconv.Itoa(limit)}}
	path := "/conversations/" + url.PathEscape(convID) + "/messages?" + q.Encode()
	if err := c.getJSON(ctx, "getMessages", path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartConversation creates (or returns) the conversation with a recipient.
func (c *Client) StartConversation(ctx context.Context, recipientID string) (*ConversationResult, error) {
	body := fmt.Sprintf(`{"recipient_id":%q}`, recipientID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/conversations", strings.NewReader(body))
	if err != nil {
		return nil, &RequestError{Op: "startConversation", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	var out ConversationResult
	if err := c.do("startConversation", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return &RequestError{Op: op, Err: err}
	}
	return c.do(op, req, out)
}

func (c *Client) do(op string, req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return &RequestError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RequestError{Op: op, StatusCode: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RequestError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
