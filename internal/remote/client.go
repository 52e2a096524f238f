// Package remote is the HTTP client for the backend the offline queue
// replays mutations against. The backend is treated as an opaque endpoint
// per operation tag; payloads pass through unchanged.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"focusline/internal/domain"
)

// Client talks to the sync backend.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// route maps an operation tag onto method and path.
type route struct {
	method string
	path   string
}

var routes = map[string]route{
	"create_task":    {http.MethodPost, "tasks"},
	"update_task":    {http.MethodPatch, "tasks"},
	"delete_task":    {http.MethodDelete, "tasks"},
	"create_note":    {http.MethodPost, "notes"},
	"update_note":    {http.MethodPatch, "notes"},
	"delete_note":    {http.MethodDelete, "notes"},
	"create_session": {http.MethodPost, "sessions"},
}

// Exec executes one queued operation against the endpoint mapped by its
// tag. An unknown tag is a permanent failure; the queue's retry ceiling
// disposes of it.
func (c *Client) Exec(ctx context.Context, op domain.QueuedOperation) error {
	r, ok := routes[op.Op]
	if !ok {
		return fmt.Errorf("unknown operation tag %q", op.Op)
	}
	return c.do(ctx, r.method, r.path, op.Payload, nil)
}

// Health checks endpoint reachability; used as the connectivity probe.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body json.RawMessage, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
