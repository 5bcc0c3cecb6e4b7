// Package replay implements a replay server: it answers JSON-RPC requests
// out of a cassette instead of a live upstream, using a matcher.Matcher to
// pair each incoming request with a recorded interaction.
package replay

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mcpcassette/mcpcassette/internal/domain/cassette"
	"github.com/mcpcassette/mcpcassette/internal/domain/matcher"
	"github.com/mcpcassette/mcpcassette/internal/sse"
)

// JSON-RPC error codes used by the replay server. These mirror the
// reference implementation's wire behavior, not an MCP-specific extension.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
)

// Server is an http.Handler that replays a cassette's recorded interactions
// against a matcher.Matcher. One Server corresponds to one mcp-session-id.
type Server struct {
	matcher         matcher.Matcher
	sessionID       string
	latency         time.Duration
	simulateLatency bool
	logger          *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLatency injects a fixed delay before every response, simulating
// upstream round-trip time uniformly across every replayed interaction.
func WithLatency(d time.Duration) Option {
	return func(s *Server) { s.latency = d }
}

// WithSimulateLatency replays each matched interaction's own recorded
// LatencyMs before responding, instead of a fixed delay. Supplemented from
// the original CLI's dropped --simulate-latency flag; off by default and
// never affects matching.
func WithSimulateLatency(enabled bool) Option {
	return func(s *Server) { s.simulateLatency = enabled }
}

// WithLogger overrides the server's logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New returns a Server that answers requests from m, tagged with a fresh
// mcp-session-id.
func New(m matcher.Matcher, opts ...Option) *Server {
	s := &Server{
		matcher:   m,
		sessionID: uuid.NewString(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.latency > 0 {
		time.Sleep(s.latency)
	}
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodGet:
		s.handleGet(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, nil, codeParseError, "Parse error: invalid JSON")
		return
	}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		s.writeError(w, nil, codeParseError, "Parse error: invalid JSON")
		return
	}

	id, hasID := body["id"]
	if !hasID {
		// Notifications never reach the matcher: there is no response to
		// pair, and no recorded interaction consumed.
		w.Header().Set("Mcp-Session-Id", s.sessionID)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	hit, ok := s.matcher.Match(body)
	if !ok {
		method, _ := body["method"].(string)
		message := "No matching interaction for " + method
		if params, ok := body["params"].(map[string]any); ok {
			if name, ok := params["name"].(string); ok && name != "" {
				message += " [" + name + "]"
			}
		}
		s.writeError(w, id, codeInvalidRequest, message)
		return
	}

	if s.simulateLatency && hit.LatencyMs > 0 {
		time.Sleep(time.Duration(hit.LatencyMs) * time.Millisecond)
	}

	response := rewriteID(hit.Response, id)
	w.Header().Set("Mcp-Session-Id", s.sessionID)
	w.Header().Set("Cache-Control", "no-cache, no-transform")

	if hit.ResponseIsSSE {
		body, err := sse.Format(response)
		if err != nil {
			s.writeError(w, id, codeInvalidRequest, "failed to encode recorded response")
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	// A bare keepalive stream: headers only, no queued events. Real
	// clients treat an immediately-closed SSE body as "nothing pending".
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Mcp-Session-Id", s.sessionID)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Mcp-Session-Id", s.sessionID)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) writeError(w http.ResponseWriter, id any, code int, message string) {
	resp := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	}
	w.Header().Set("Mcp-Session-Id", s.sessionID)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// rewriteID returns a copy of response with its top-level id field
// replaced by the incoming request's id, touching nothing else. response
// is nil-safe: a recorded notification has no response to rewrite.
func rewriteID(response cassette.Message, id any) map[string]any {
	if response == nil {
		return nil
	}
	out := make(map[string]any, len(response))
	for k, v := range response {
		out[k] = v
	}
	out["id"] = id
	return out
}
