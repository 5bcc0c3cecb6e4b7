// Package scenario drives a minimal MCP client through a YAML-described
// sequence of actions, for use against a recording proxy to build golden
// cassettes deterministically rather than by hand.
package scenario

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/mcpcassette/mcpcassette/internal/sse"
)

// Client is a minimal JSON-RPC 2.0 client speaking MCP's Streamable HTTP
// transport: it tracks request ids and the server-assigned session id the
// same way the reference scenario runner's client does.
type Client struct {
	baseURL   string
	http      *http.Client
	mu        sync.Mutex
	nextID    int
	sessionID string

	// seen deduplicates identical (method, args-hash) calls within one
	// scenario run so a scenario author repeating "call_tool search" with
	// the same arguments doesn't record the same exchange twice; this is
	// a scenario-authoring convenience, unrelated to the replay matcher's
	// own stable-hash keying.
	seen map[uint64]bool
}

// NewClient returns a Client that talks to baseURL + "/mcp".
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/") + "/mcp",
		http:    &http.Client{Timeout: 120 * time.Second},
		seen:    make(map[uint64]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the client's transport.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

func (c *Client) nextRequestID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	return id
}

// Initialize performs the MCP handshake: an initialize request followed by
// the notifications/initialized notification.
func (c *Client) Initialize(ctx context.Context) (map[string]any, error) {
	result, err := c.sendRequest(ctx, "initialize", map[string]any{
		"protocolVersion": "2025-11-25",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "mcpcassette", "version": "0.1.0"},
	})
	if err != nil {
		return nil, err
	}
	if err := c.sendNotification(ctx, "notifications/initialized", nil); err != nil {
		return nil, err
	}
	return result, nil
}

// ListTools calls tools/list.
func (c *Client) ListTools(ctx context.Context) (map[string]any, error) {
	return c.sendRequest(ctx, "tools/list", map[string]any{})
}

// CallTool calls tools/call with name and arguments. Repeating the same
// (name, arguments) pair within one client's lifetime is a no-op after the
// first call, so scenario authors can share a sub-sequence of actions
// across scenarios without double-recording it.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (map[string]any, error) {
	if c.alreadySeen("tools/call", name, arguments) {
		return nil, nil
	}
	return c.sendRequest(ctx, "tools/call", map[string]any{"name": name, "arguments": orEmpty(arguments)})
}

// ListPrompts calls prompts/list.
func (c *Client) ListPrompts(ctx context.Context) (map[string]any, error) {
	return c.sendRequest(ctx, "prompts/list", map[string]any{})
}

// GetPrompt calls prompts/get.
func (c *Client) GetPrompt(ctx context.Context, name string, arguments map[string]any) (map[string]any, error) {
	params := map[string]any{"name": name}
	if len(arguments) > 0 {
		params["arguments"] = arguments
	}
	return c.sendRequest(ctx, "prompts/get", params)
}

// ListResources calls resources/list.
func (c *Client) ListResources(ctx context.Context) (map[string]any, error) {
	return c.sendRequest(ctx, "resources/list", map[string]any{})
}

// ReadResource calls resources/read.
func (c *Client) ReadResource(ctx context.Context, uri string) (map[string]any, error) {
	return c.sendRequest(ctx, "resources/read", map[string]any{"uri": uri})
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func (c *Client) alreadySeen(method, name string, arguments map[string]any) bool {
	data, _ := json.Marshal(arguments)
	h := xxhash.New()
	_, _ = h.WriteString(method)
	_, _ = h.WriteString(name)
	_, _ = h.Write(data)
	key := h.Sum64()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen[key] {
		return true
	}
	c.seen[key] = true
	return false
}

func (c *Client) sendRequest(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	body := map[string]any{
		"jsonrpc": "2.0",
		"id":      c.nextRequestID(),
		"method":  method,
		"params":  params,
	}
	resp, err := c.post(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("scenario: %s: %w", method, err)
	}
	defer resp.Body.Close()
	c.updateSession(resp)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("scenario: %s: reading response: %w", method, err)
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		msg, _ := sse.ParseFirst(raw)
		return msg, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, nil
	}
	return decoded, nil
}

func (c *Client) sendNotification(ctx context.Context, method string, params map[string]any) error {
	body := map[string]any{"jsonrpc": "2.0", "method": method}
	if params != nil {
		body["params"] = params
	}
	resp, err := c.post(ctx, body)
	if err != nil {
		return fmt.Errorf("scenario: notification %s: %w", method, err)
	}
	defer resp.Body.Close()
	c.updateSession(resp)
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) post(ctx context.Context, body map[string]any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}

	return c.http.Do(req)
}

func (c *Client) updateSession(resp *http.Response) {
	sid := resp.Header.Get("Mcp-Session-Id")
	if sid == "" {
		return
	}
	c.mu.Lock()
	c.sessionID = sid
	c.mu.Unlock()
}
