// Package pagechat provides a client for the pagechat server. Client
// implements feed.Source and feed.Writer, Session implements feed.Identity,
// so a feed.Controller can run directly against a remote server.
package pagechat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/eldtechnologies/pagechat/internal/crypto"
	"github.com/eldtechnologies/pagechat/internal/models"
)

// GlobalRoom is the ID of the default global channel.
const GlobalRoom = models.GlobalRoomID

// DefaultURL is used when no server URL is configured.
const DefaultURL = "http://localhost:8080"

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pagechat error %d: %s", e.Status, e.Message)
}

// ErrNoCredentials is returned by signed calls before a sign-in.
var ErrNoCredentials = errors.New("pagechat: not signed in")

// Client is a pagechat API client.
type Client struct {
	BaseURL    string
	RoomKey    string // sent with room requests when set
	HTTPClient *http.Client

	mu    sync.RWMutex
	creds *Credentials
}

// NewClient creates a new pagechat client.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SetCredentials sets the identity used to sign requests; nil signs out.
func (c *Client) SetCredentials(creds *Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = creds
}

func (c *Client) credentials() *Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds
}

// signRequest creates authentication headers for a request.
func (c *Client) signRequest(h http.Header, body []byte) error {
	creds := c.credentials()
	if creds == nil {
		return ErrNoCredentials
	}
	priv, err := crypto.ParsePrivateKey(creds.PrivateKey)
	if err != nil {
		return err
	}

	nonce := crypto.NewNonce()
	ts := time.Now().UnixMilli()

	h.Set("X-Pagechat-Agent", creds.ID)
	h.Set("X-Pagechat-Nonce", nonce)
	h.Set("X-Pagechat-Timestamp", fmt.Sprint(ts))
	h.Set("X-Pagechat-Signature", crypto.SignRequest(priv, body, nonce, ts))
	return nil
}

// doRequest performs an HTTP request and decodes a JSON answer into out.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte, signed bool, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}

	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.RoomKey != "" {
		req.Header.Set("X-Pagechat-Room-Key", c.RoomKey)
	}
	if signed {
		if err := c.signRequest(req.Header, body); err != nil {
			return err
		}
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		if errResp.Error == "" {
			errResp.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// RegisterRequest is the request body for agent registration.
type RegisterRequest struct {
	PublicKey string `json:"public_key"`
	Name      string `json:"name,omitempty"`
}

// RegisterResponse is the response from agent registration.
type RegisterResponse struct {
	ID         string `json:"id"`
	ProfileURL string `json:"profile_url"`
}

// Register registers a public key. Registering a known key returns the
// existing agent.
func (c *Client) Register(ctx context.Context, publicKey, name string) (*RegisterResponse, error) {
	body, _ := json.Marshal(RegisterRequest{PublicKey: publicKey, Name: name})

	var resp RegisterResponse
	if err := c.doRequest(ctx, http.MethodPost, "/register", body, false, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Message represents a chat message on the wire.
type Message struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Body      string `json:"body"`
	Timestamp int64  `json:"ts"`
}

func (m Message) model(roomID string) models.Message {
	return models.Message{
		ID:        m.ID,
		RoomID:    roomID,
		AuthorID:  m.From,
		Body:      m.Body,
		CreatedAt: m.Timestamp,
	}
}

func toModels(roomID string, msgs []Message) []models.Message {
	out := make([]models.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.model(roomID)
	}
	return out
}

// RoomInfo represents room metadata.
type RoomInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MessagesResponse is the response from getting room messages.
type MessagesResponse struct {
	Room     RoomInfo  `json:"room"`
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}

func pageQuery(limit int, before int64) string {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if before > 0 {
		q.Set("before", fmt.Sprint(before))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// GetMessages retrieves one page of messages from a room, newest first.
func (c *Client) GetMessages(ctx context.Context, roomID string, limit int, before int64) (*MessagesResponse, error) {
	var resp MessagesResponse
	path := "/room/" + url.PathEscape(roomID) + pageQuery(limit, before)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, false, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PostMessageRequest is the request body for posting a message.
type PostMessageRequest struct {
	ID   string `json:"id,omitempty"`
	Body string `json:"body"`
}

// PostMessageResponse is the response from posting a message.
type PostMessageResponse struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PostMessage posts a message to a room. id may be empty.
func (c *Client) PostMessage(ctx context.Context, roomID, id, body string) (*PostMessageResponse, error) {
	reqBody, _ := json.Marshal(PostMessageRequest{ID: id, Body: body})

	var resp PostMessageResponse
	if err := c.doRequest(ctx, http.MethodPost, "/room/"+url.PathEscape(roomID), reqBody, true, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AddMessage implements feed.Writer. The server-assigned ID and ordering
// key are copied back into msg.
func (c *Client) AddMessage(ctx context.Context, msg *models.Message) error {
	resp, err := c.PostMessage(ctx, msg.RoomID, msg.ID, msg.Body)
	if err != nil {
		return err
	}
	msg.ID = resp.ID
	msg.CreatedAt = resp.Timestamp
	return nil
}

// Channel represents a public channel.
type Channel struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MessageCount int64     `json:"message_count"`
	LastActive   time.Time `json:"last_active"`
}

// ChannelsResponse is the response from listing channels.
type ChannelsResponse struct {
	Channels []Channel `json:"channels"`
	Total    int       `json:"total"`
}

// ListChannels lists public channels.
func (c *Client) ListChannels(ctx context.Context) (*ChannelsResponse, error) {
	var resp ChannelsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/channels", nil, false, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateRoomRequest is the request body for creating a room.
type CreateRoomRequest struct {
	Name      string `json:"name"`
	IsPrivate bool   `json:"is_private"`
	Key       string `json:"key,omitempty"`
}

// CreateRoomResponse is the response from creating a room.
type CreateRoomResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsPrivate bool   `json:"is_private"`
}

// CreateRoom creates a new room.
func (c *Client) CreateRoom(ctx context.Context, name string, isPrivate bool, key string) (*CreateRoomResponse, error) {
	reqBody, _ := json.Marshal(CreateRoomRequest{Name: name, IsPrivate: isPrivate, Key: key})

	var resp CreateRoomResponse
	if err := c.doRequest(ctx, http.MethodPost, "/room", reqBody, true, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AgentProfile represents an agent's profile.
type AgentProfile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	PublicKey string    `json:"public_key"`
	JoinedAt  time.Time `json:"joined_at"`
}

// GetAgent gets an agent's profile.
func (c *Client) GetAgent(ctx context.Context, agentID string) (*AgentProfile, error) {
	var resp AgentProfile
	if err := c.doRequest(ctx, http.MethodGet, "/who/"+url.PathEscape(agentID), nil, false, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Region    string                 `json:"region,omitempty"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/health", nil, false, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
