// Package cassette provides the typed, version-tagged container for a
// recorded session of MCP interactions: an ordered list of Interactions
// plus session Metadata, serialized to and from a pretty-printed JSON
// document.
package cassette

import (
	"sync"
	"time"
)

// Version is the cassette format version written by this implementation.
const Version = "1.0"

// currentMajor is the major version this implementation understands.
// Cassettes whose major component differs are rejected at Load.
const currentMajor = 1

// InteractionType classifies a captured HTTP exchange.
type InteractionType string

const (
	// InteractionJSONRPCRequest is a JSON-RPC request/response pair (has an id).
	InteractionJSONRPCRequest InteractionType = "jsonrpc_request"
	// InteractionNotification is a JSON-RPC notification (no id, no response body).
	InteractionNotification InteractionType = "notification"
	// InteractionLifecycle is a bare HTTP GET/DELETE with no JSON-RPC envelope.
	InteractionLifecycle InteractionType = "lifecycle"
)

// Message is a JSON-RPC request or response object. A nil Message marshals
// to JSON null, which is required by the wire format whenever request or
// response is behavior-bearing but absent.
type Message map[string]any

// Interaction is one captured HTTP exchange. Field order matches the
// on-disk wire format exactly, since encoding/json preserves struct field
// declaration order.
type Interaction struct {
	Type           InteractionType `json:"type" yaml:"type"`
	Request        Message         `json:"request" yaml:"request"`
	Response       Message         `json:"response" yaml:"response"`
	ResponseIsSSE  bool            `json:"response_is_sse" yaml:"response_is_sse"`
	ResponseStatus int             `json:"response_status" yaml:"response_status"`
	LatencyMs      int             `json:"latency_ms" yaml:"latency_ms"`
	HTTPMethod     *string         `json:"http_method" yaml:"http_method"`
	HTTPPath       *string         `json:"http_path" yaml:"http_path"`
}

// JSONRPCMethod returns Request["method"] when Request is a JSON-RPC
// envelope carrying one, or "" otherwise. Derived, not stored.
func (i *Interaction) JSONRPCMethod() string {
	if i == nil || i.Request == nil {
		return ""
	}
	method, _ := i.Request["method"].(string)
	return method
}

// ToolName returns the params.name field of a tools/call request, or ""
// for any other method. Derived, not stored.
func (i *Interaction) ToolName() string {
	if i.JSONRPCMethod() != "tools/call" {
		return ""
	}
	params, ok := i.Request["params"].(map[string]any)
	if !ok {
		return ""
	}
	name, _ := params["name"].(string)
	return name
}

// HasID reports whether the request carries a JSON-RPC id field, the
// distinguishing mark between a request and a notification.
func (i *Interaction) HasID() bool {
	if i == nil || i.Request == nil {
		return false
	}
	_, ok := i.Request["id"]
	return ok
}

// RequestID returns the raw value of Request["id"], or nil if absent.
func (i *Interaction) RequestID() any {
	if i == nil || i.Request == nil {
		return nil
	}
	return i.Request["id"]
}

// Metadata describes the recording session that produced a Cassette.
type Metadata struct {
	RecordedAt      string  `json:"recorded_at" yaml:"recorded_at"`
	ServerURL       string  `json:"server_url" yaml:"server_url"`
	ProtocolVersion *string `json:"protocol_version" yaml:"protocol_version"`
	ServerInfo      Message `json:"server_info" yaml:"server_info"`
}

// Cassette is an ordered list of Interactions plus session Metadata,
// tagged with a format Version. The zero value is not ready for use; call
// New to construct one for recording, or Load to read one from disk.
type Cassette struct {
	Version      string         `json:"version" yaml:"version"`
	Metadata     Metadata       `json:"metadata" yaml:"metadata"`
	Interactions []*Interaction `json:"interactions" yaml:"interactions"`

	mu sync.Mutex `json:"-" yaml:"-"`
}

// New creates an empty Cassette ready to receive interactions during a
// recording session.
func New(serverURL string) *Cassette {
	return &Cassette{
		Version: Version,
		Metadata: Metadata{
			RecordedAt: time.Now().UTC().Format(time.RFC3339),
			ServerURL:  serverURL,
		},
		Interactions: make([]*Interaction, 0),
	}
}

// AddInteraction appends i to the cassette and, if i is the first
// initialize call with a non-null response, copies result.protocolVersion
// and result.serverInfo into the cassette's Metadata. Safe for concurrent
// use; a mutex serializes appends (there are no readers while a cassette is
// still being recorded).
func (c *Cassette) AddInteraction(i *Interaction) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Interactions = append(c.Interactions, i)

	if c.Metadata.ProtocolVersion != nil {
		return
	}
	if i.Type != InteractionJSONRPCRequest || i.JSONRPCMethod() != "initialize" || i.Response == nil {
		return
	}
	result, ok := i.Response["result"].(map[string]any)
	if !ok {
		return
	}
	if pv, ok := result["protocolVersion"].(string); ok {
		c.Metadata.ProtocolVersion = &pv
	}
	if si, ok := result["serverInfo"].(map[string]any); ok {
		c.Metadata.ServerInfo = Message(si)
	}
}

// Len returns the number of recorded interactions. Safe for concurrent use.
func (c *Cassette) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Interactions)
}
