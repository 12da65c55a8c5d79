package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stoday/simplechat/pkg/chat"
)

// Client talks to the SimpleChat backend. All methods attach the bearer
// credential from the configured CredentialProvider and translate transport
// and HTTP failures into the package error taxonomy.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      CredentialProvider
	logger     zerolog.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithClientLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func NewClient(baseURL string, creds CredentialProvider, options ...ClientOption) *Client {
	ret := &Client{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		creds:      creds,
		logger:     log.Logger,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// BaseURL returns the configured server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build %s %s", method, path)
	}
	token, err := c.creds.Token(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to acquire credential")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

// doJSON executes a request and decodes a JSON response into out (which may
// be nil when the body is irrelevant).
func (c *Client) doJSON(req *http.Request, out interface{}) error {
	requestID := uuid.NewString()[:8]
	c.logger.Debug().
		Str("request_id", requestID).
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Msg("api request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Str("request_id", requestID).Err(err).Msg("api request failed")
		return classify(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	c.logger.Debug().
		Str("request_id", requestID).
		Int("status", resp.StatusCode).
		Msg("api response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeRemoteError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to decode response body")
	}
	return nil
}

// decodeRemoteError turns a non-2xx response into a RemoteError, pulling the
// human-readable message out of the server's {"detail": ...} envelope.
func decodeRemoteError(resp *http.Response) error {
	var payload struct {
		Detail string `json:"detail"`
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(body, &payload); err != nil || payload.Detail == "" {
		payload.Detail = http.StatusText(resp.StatusCode)
	}
	return &RemoteError{StatusCode: resp.StatusCode, Detail: payload.Detail}
}

// ListConversations fetches the user's conversation summaries, most recently
// updated first.
func (c *Client) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/conversations", nil, nil)
	if err != nil {
		return nil, err
	}
	var conversations []chat.Conversation
	if err := c.doJSON(req, &conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

// CreateConversation creates a conversation with the given title. An empty
// title lets the server pick its default.
func (c *Client) CreateConversation(ctx context.Context, title string) (chat.Conversation, error) {
	payload, err := json.Marshal(map[string]string{"title": title})
	if err != nil {
		return chat.Conversation{}, errors.Wrap(err, "failed to encode create request")
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/conversations", nil, bytes.NewReader(payload))
	if err != nil {
		return chat.Conversation{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	var conversation chat.Conversation
	if err := c.doJSON(req, &conversation); err != nil {
		return chat.Conversation{}, err
	}
	return conversation, nil
}

// UpdateConversation renames a conversation.
func (c *Client) UpdateConversation(ctx context.Context, id int64, title string) (chat.Conversation, error) {
	payload, err := json.Marshal(map[string]string{"title": title})
	if err != nil {
		return chat.Conversation{}, errors.Wrap(err, "failed to encode update request")
	}
	req, err := c.newRequest(ctx, http.MethodPatch, fmt.Sprintf("/api/conversations/%d", id), nil, bytes.NewReader(payload))
	if err != nil {
		return chat.Conversation{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	var conversation chat.Conversation
	if err := c.doJSON(req, &conversation); err != nil {
		return chat.Conversation{}, err
	}
	return conversation, nil
}

// DeleteConversation removes a conversation and all its messages server-side.
func (c *Client) DeleteConversation(ctx context.Context, id int64) error {
	req, err := c.newRequest(ctx, http.MethodDelete, fmt.Sprintf("/api/conversations/%d", id), nil, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, nil)
}

// ListMessages fetches the full message history of a conversation, assistant
// turns included.
func (c *Client) ListMessages(ctx context.Context, conversationID int64) (chat.MessageList, error) {
	query := url.Values{}
	query.Set("conversation_id", strconv.FormatInt(conversationID, 10))
	query.Set("include_assistant", "true")
	req, err := c.newRequest(ctx, http.MethodGet, "/api/messages", query, nil)
	if err != nil {
		return chat.MessageList{}, err
	}
	var list chat.MessageList
	if err := c.doJSON(req, &list); err != nil {
		return chat.MessageList{}, err
	}
	return list, nil
}

// StopMessage asks the server to cancel a pending assistant reply.
func (c *Client) StopMessage(ctx context.Context, messageID int64) (chat.Message, error) {
	req, err := c.newRequest(ctx, http.MethodPost, fmt.Sprintf("/api/messages/%d/stop", messageID), nil, nil)
	if err != nil {
		return chat.Message{}, err
	}
	var message chat.Message
	if err := c.doJSON(req, &message); err != nil {
		return chat.Message{}, err
	}
	return message, nil
}
