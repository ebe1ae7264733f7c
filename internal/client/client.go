// Package client talks to the strand gateway over REST and WebSocket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/raphaelgruber/strand/internal/metrics"
	"github.com/raphaelgruber/strand/internal/models"
)

// Client is a REST and WebSocket client for the strand gateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a gateway client.
// If baseURL is empty, uses the STRAND_SERVER_URL env var or defaults to
// localhost:8787. Timeout can be configured via STRAND_CLIENT_TIMEOUT.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("STRAND_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8787"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := 30 * time.Second
	if t := os.Getenv("STRAND_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Health checks that the gateway is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/health", nil)
}

// Stats returns the gateway's in-memory runtime statistics.
func (c *Client) Stats(ctx context.Context) (metrics.Snapshot, error) {
	var snap metrics.Snapshot
	err := c.get(ctx, "/metrics", &snap)
	return snap, err
}

// ListConversations returns the conversations userID takes part in.
func (c *Client) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	var convs []models.Conversation
	err := c.get(ctx, "/conversations?user_id="+url.QueryEscape(userID), &convs)
	return convs, err
}

// CreateConversation creates a conversation and returns the stored copy.
func (c *Client) CreateConversation(ctx context.Context, conv models.Conversation) (models.Conversation, error) {
	var created models.Conversation
	err := c.post(ctx, "/conversations", conv, &created)
	return created, err
}

// Profile fetches the profile of userID.
func (c *Client) Profile(ctx context.Context, userID string) (models.Profile, error) {
	if userID == "" {
		return models.Profile{}, fmt.Errorf("user id is required")
	}
	var p models.Profile
	err := c.get(ctx, "/profiles?user_id="+url.QueryEscape(userID), &p)
	return p, err
}

// SetProfile creates or replaces the profile and returns the stored copy.
func (c *Client) SetProfile(ctx context.Context, p models.Profile) (models.Profile, error) {
	var saved models.Profile
	err := c.put(ctx, "/profiles", p, &saved)
	return saved, err
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, payload, result any) error {
	return c.send(ctx, http.MethodPost, path, payload, result)
}

func (c *Client) put(ctx context.Context, path string, payload, result any) error {
	return c.send(ctx, http.MethodPut, path, payload, result)
}

func (c *Client) send(ctx context.Context, method, path string, payload, result any) error {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("server error: %s - %s", resp.Status, strings.TrimSpace(string(body)))
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
